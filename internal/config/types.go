package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pornlink/ipx-super/internal/alias"
	"github.com/pornlink/ipx-super/internal/storage"
	"github.com/pornlink/ipx-super/internal/svg"
)

// AliasList is an ordered prefix to target mapping. In YAML it is a mapping,
// or a sequence of {prefix, target} items; in the environment it is a JSON
// object. Both keep the written order.
type AliasList []alias.Alias

func (a *AliasList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(AliasList, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: alias target for %q must be a string", v.Line, k.Value)
			}
			out = append(out, alias.Alias{Prefix: k.Value, Target: v.Value})
		}
		*a = out
		return nil
	case yaml.SequenceNode:
		var items []alias.Alias
		if err := node.Decode(&items); err != nil {
			return err
		}
		*a = items
		return nil
	default:
		return fmt.Errorf("line %d: alias must be a mapping or a list", node.Line)
	}
}

func (a *AliasList) UnmarshalText(text []byte) error {
	text = bytes.TrimSpace(text)
	if len(text) == 0 {
		*a = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid alias json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("invalid alias json: expected an object")
	}

	var out AliasList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid alias json: %w", err)
		}
		var target string
		if err := dec.Decode(&target); err != nil {
			return fmt.Errorf("invalid alias json for %v: %w", keyTok, err)
		}
		out = append(out, alias.Alias{Prefix: keyTok.(string), Target: target})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("invalid alias json: %w", err)
	}
	*a = out
	return nil
}

// DomainList is a list of allowed hosts, given as a YAML list or a
// comma-separated string.
type DomainList []string

func (d *DomainList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*d = storage.ParseDomains(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*d = storage.ParseDomains(strings.Join(items, ","))
		return nil
	default:
		return fmt.Errorf("line %d: domains must be a string or a list", node.Line)
	}
}

func (d *DomainList) UnmarshalText(text []byte) error {
	*d = storage.ParseDomains(string(text))
	return nil
}

// SVGO enables SVG optimization. It is written either as a boolean or as a
// mapping of optimizer options, which implies enabled.
type SVGO struct {
	Enabled bool
	Options svg.Options
}

func (s *SVGO) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var enabled bool
		if err := node.Decode(&enabled); err != nil {
			return fmt.Errorf("line %d: svgo must be a boolean or a mapping", node.Line)
		}
		s.Enabled = enabled
		return nil
	case yaml.MappingNode:
		var opts svg.Options
		if err := node.Decode(&opts); err != nil {
			return err
		}
		s.Enabled = true
		s.Options = opts
		return nil
	default:
		return fmt.Errorf("line %d: svgo must be a boolean or a mapping", node.Line)
	}
}

func (s *SVGO) UnmarshalText(text []byte) error {
	enabled, err := strconv.ParseBool(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("svgo must be a boolean: %w", err)
	}
	s.Enabled = enabled
	return nil
}
