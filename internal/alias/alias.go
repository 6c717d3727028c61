// Package alias rewrites resource identifiers according to configured path
// prefix mappings before storage lookup.
package alias

import (
	"regexp"
	"strings"
)

var protocolRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]+:/`)

// HasProtocol reports whether id carries a protocol scheme such as
// "https://". Scheme-bearing ids are fetched remotely; everything else is
// treated as a path.
func HasProtocol(id string) bool {
	return protocolRE.MatchString(id)
}

// WithLeadingSlash returns id with exactly one guaranteed leading "/".
func WithLeadingSlash(id string) string {
	if strings.HasPrefix(id, "/") {
		return id
	}
	return "/" + id
}

// Normalize applies the leading slash rule to ids without a protocol.
func Normalize(id string) string {
	if HasProtocol(id) {
		return id
	}
	return WithLeadingSlash(id)
}

// Alias maps an id prefix to a replacement target.
type Alias struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	Target string `yaml:"target" json:"target"`
}

// Resolver applies the first matching alias to an id. Aliases are tried in
// the order they were configured.
type Resolver struct {
	aliases []Alias
}

// NewResolver creates a resolver. Every prefix is normalized to start with
// "/" so that it can match normalized ids.
func NewResolver(aliases []Alias) *Resolver {
	normalized := make([]Alias, 0, len(aliases))
	for _, a := range aliases {
		if a.Prefix == "" {
			continue
		}
		normalized = append(normalized, Alias{
			Prefix: WithLeadingSlash(a.Prefix),
			Target: a.Target,
		})
	}
	return &Resolver{aliases: normalized}
}

// Resolve normalizes id and rewrites its leading segment if it starts with a
// configured prefix. At most one rewrite is applied; an id matching no
// prefix is returned normalized but otherwise unchanged.
func (r *Resolver) Resolve(id string) string {
	id = Normalize(id)
	for _, a := range r.aliases {
		if strings.HasPrefix(id, a.Prefix) {
			return joinURL(a.Target, id[len(a.Prefix):])
		}
	}
	return id
}

// Aliases returns the normalized alias list in match order.
func (r *Resolver) Aliases() []Alias {
	out := make([]Alias, len(r.aliases))
	copy(out, r.aliases)
	return out
}

// joinURL joins base and rest with exactly one "/" between them.
func joinURL(base, rest string) string {
	if rest == "" || rest == "/" {
		if base == "" {
			return "/"
		}
		return base
	}
	if base == "" {
		return WithLeadingSlash(rest)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rest, "/")
}
