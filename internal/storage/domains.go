package storage

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pornlink/ipx-super/internal/ipxerr"
)

var httpPrefix = regexp.MustCompile(`^https?://`)

// DomainPolicy decides which hosts the HTTP backend may fetch from.
//
// Entries are hostnames or URLs; schemeless entries get an http:// prefix
// before the hostname is extracted. Entries containing '*' are wildcard
// patterns where '*' matches any run of characters.
type DomainPolicy struct {
	allowAll bool
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// NewDomainPolicy builds a policy. Empty entries are ignored.
func NewDomainPolicy(domains []string, allowAll bool) *DomainPolicy {
	p := &DomainPolicy{allowAll: allowAll, exact: make(map[string]struct{})}
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if strings.Contains(d, "*") {
			host := strings.ToLower(httpPrefix.ReplaceAllString(d, ""))
			if i := strings.IndexAny(host, "/:"); i >= 0 {
				host = host[:i]
			}
			p.patterns = append(p.patterns, wildcardToRegexp(host))
			continue
		}
		if !httpPrefix.MatchString(d) {
			d = "http://" + d
		}
		u, err := url.Parse(d)
		if err != nil || u.Hostname() == "" {
			continue
		}
		p.exact[strings.ToLower(u.Hostname())] = struct{}{}
	}
	return p
}

// ParseDomains splits a comma-separated domain list.
func ParseDomains(s string) []string {
	var out []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func wildcardToRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// Allowed reports whether host may be fetched.
func (p *DomainPolicy) Allowed(host string) bool {
	if p.allowAll {
		return true
	}
	host = strings.ToLower(host)
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, re := range p.patterns {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// Validate checks a remote id and returns the URL to fetch. The id is used
// as given; escapes in it are sent to the origin unchanged.
func (p *DomainPolicy) Validate(id string) (string, error) {
	u, err := url.Parse(id)
	if err != nil || u.Hostname() == "" {
		return "", ipxerr.Errorf(ipxerr.ErrMissingHostname, "%s", id)
	}
	if !p.Allowed(u.Hostname()) {
		return "", ipxerr.Errorf(ipxerr.ErrForbiddenHost, "%s", u.Hostname())
	}
	return u.String(), nil
}
