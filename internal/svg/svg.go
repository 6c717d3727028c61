// Package svg sanitizes and optimizes SVG documents served by the proxy.
//
// Every optimization run strips script elements first. The remaining
// plugins are configurable and run in a fixed order.
package svg

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	minsvg "github.com/tdewolff/minify/v2/svg"
	"golang.org/x/net/html/charset"
)

const mimeType = "image/svg+xml"

// xmlDecl matches a leading XML declaration and captures its encoding value.
var xmlDecl = regexp.MustCompile(`^\s*<\?xml[^>]*?encoding\s*=\s*["']([^"']+)["'][^>]*\?>`)

// Plugin names accepted in Options.Plugins.
const (
	PluginRemoveScriptElement = "removeScriptElement"
	PluginRemoveMetadata      = "removeMetadata"
	PluginRemoveTitle         = "removeTitle"
	PluginRemoveDesc          = "removeDesc"
	PluginMinify              = "minify"
)

// DefaultPlugins run when Options.Plugins is empty.
var DefaultPlugins = []string{PluginRemoveMetadata, PluginRemoveTitle, PluginRemoveDesc, PluginMinify}

// ErrUnknownPlugin is returned by New for an unrecognized plugin name.
var ErrUnknownPlugin = errors.New("unknown svg plugin")

// Options configure an Optimizer.
type Options struct {
	Plugins   []string `yaml:"plugins" json:"plugins"`
	Precision int      `yaml:"precision" json:"precision" validate:"gte=0,lte=10"`
}

// Optimizer rewrites SVG documents.
type Optimizer struct {
	strip  map[string]bool
	minify *minify.M
}

// New returns an optimizer for opts.
func New(opts Options) (*Optimizer, error) {
	plugins := opts.Plugins
	if len(plugins) == 0 {
		plugins = DefaultPlugins
	}

	o := &Optimizer{strip: map[string]bool{"script": true}}
	for _, name := range plugins {
		switch name {
		case PluginRemoveScriptElement:
		case PluginRemoveMetadata:
			o.strip["metadata"] = true
		case PluginRemoveTitle:
			o.strip["title"] = true
		case PluginRemoveDesc:
			o.strip["desc"] = true
		case PluginMinify:
			o.minify = minify.New()
			o.minify.Add(mimeType, &minsvg.Minifier{Precision: opts.Precision})
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
		}
	}
	return o, nil
}

// Optimize strips the configured elements from data and minifies the result
// when the minify plugin is enabled.
func (o *Optimizer) Optimize(data []byte) ([]byte, error) {
	out, err := RemoveElements(data, o.strip)
	if err != nil {
		return nil, err
	}
	if o.minify == nil {
		return out, nil
	}
	out, err = o.minify.Bytes(mimeType, out)
	if err != nil {
		return nil, fmt.Errorf("failed to minify svg: %w", err)
	}
	return out, nil
}

// RemoveScripts strips every script element from data.
func RemoveScripts(data []byte) ([]byte, error) {
	return RemoveElements(data, map[string]bool{"script": true})
}

// RemoveElements copies data, dropping every element (with its content)
// whose local name is in names. Documents in other encodings are transcoded
// to UTF-8 first; after that everything else is copied byte for byte.
func RemoveElements(data []byte, names map[string]bool) ([]byte, error) {
	data, err := ToUTF8(data)
	if err != nil {
		return nil, err
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel

	var out bytes.Buffer
	out.Grow(len(data))
	depth := 0
	for {
		start := dec.InputOffset()
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse svg: %w", err)
		}
		end := dec.InputOffset()

		switch t := tok.(type) {
		case xml.StartElement:
			if depth > 0 || names[strings.ToLower(t.Name.Local)] {
				depth++
				continue
			}
		case xml.EndElement:
			if depth > 0 {
				depth--
				continue
			}
		default:
			if depth > 0 {
				continue
			}
		}
		out.Write(data[start:end])
	}
	return out.Bytes(), nil
}

// ToUTF8 transcodes a document whose XML declaration names another encoding
// and rewrites the declaration to say UTF-8. Other documents are returned
// unchanged.
func ToUTF8(data []byte) ([]byte, error) {
	m := xmlDecl.FindSubmatchIndex(data)
	if m == nil {
		return data, nil
	}
	label := string(data[m[2]:m[3]])
	if strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return data, nil
	}

	r, err := charset.NewReaderLabel(label, bytes.NewReader(data[m[1]:]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode svg: %w", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode svg: %w", err)
	}

	var out bytes.Buffer
	out.Grow(m[1] + len(body))
	out.Write(data[m[0]:m[2]])
	out.WriteString("UTF-8")
	out.Write(data[m[3]:m[1]])
	out.Write(body)
	return out.Bytes(), nil
}
