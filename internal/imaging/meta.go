package imaging

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"strconv"
	"strings"

	_ "github.com/gen2brain/avif" // Register AVIF format decoder
	_ "github.com/gen2brain/webp" // Register WebP format decoder
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	"golang.org/x/net/html/charset"
)

// ErrUnknownFormat is returned when source bytes are not a recognizable image.
var ErrUnknownFormat = errors.New("unknown image format")

// Meta describes a source image.
type Meta struct {
	// Type is the short format name: "jpeg", "png", "gif", "webp", "tiff",
	// "bmp", "svg", "avif", "heic", "heif".
	Type string `json:"type" cbor:"type"`

	// MimeType is the sniffed media type, e.g. "image/png".
	MimeType string `json:"mime_type" cbor:"mime"`

	// Width and Height are in pixels. They are zero when the dimensions
	// cannot be read without a decoder for the format (HEIC, HEIF).
	Width  int `json:"width" cbor:"width"`
	Height int `json:"height" cbor:"height"`
}

// Processed is the output of one transformation: encoded bytes, the output
// format name and the metadata of the source image.
type Processed struct {
	Data   []byte `json:"-" cbor:"-"`
	Format string `json:"format" cbor:"format"`
	Meta   Meta   `json:"meta" cbor:"meta"`
}

// DetectMeta sniffs the format and dimensions of data without decoding
// pixels.
func DetectMeta(data []byte) (Meta, error) {
	if len(data) == 0 {
		return Meta{}, fmt.Errorf("%w: empty input", ErrUnknownFormat)
	}

	mt := mimetype.Detect(data)
	if mt.Is("image/svg+xml") {
		w, h := svgSize(data)
		return Meta{Type: "svg", MimeType: "image/svg+xml", Width: w, Height: h}, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err == nil {
		return Meta{
			Type:     format,
			MimeType: "image/" + format,
			Width:    cfg.Width,
			Height:   cfg.Height,
		}, nil
	}

	// Formats we can recognize but not decode still carry a usable type.
	mime := mt.String()
	if strings.HasPrefix(mime, "image/") {
		return Meta{Type: typeFromMime(mime), MimeType: mime}, nil
	}

	return Meta{}, fmt.Errorf("%w: %s", ErrUnknownFormat, mime)
}

func typeFromMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	t := strings.TrimPrefix(mime, "image/")
	t = strings.TrimPrefix(t, "x-")
	switch t {
	case "jpg", "pjpeg":
		return "jpeg"
	case "heic-sequence":
		return "heic"
	case "heif-sequence":
		return "heif"
	}
	return t
}

// svgSize reads width and height from the root svg element, falling back to
// the viewBox. Unparseable values yield zero.
func svgSize(data []byte) (int, int) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel
	for {
		tok, err := dec.RawToken()
		if err != nil {
			return 0, 0
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "svg" {
			continue
		}

		var w, h int
		var viewBox string
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "width":
				w = parseLength(attr.Value)
			case "height":
				h = parseLength(attr.Value)
			case "viewBox":
				viewBox = attr.Value
			}
		}
		if (w == 0 || h == 0) && viewBox != "" {
			fields := strings.FieldsFunc(viewBox, func(r rune) bool { return r == ' ' || r == ',' })
			if len(fields) == 4 {
				if w == 0 {
					w = parseLength(fields[2])
				}
				if h == 0 {
					h = parseLength(fields[3])
				}
			}
		}
		return w, h
	}
}

func parseLength(s string) int {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f + 0.5)
}
