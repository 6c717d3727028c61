package storage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
)

// Cache-control polarities. With PolarityInverted the max-age directive of
// the origin is read only when IgnoreCacheControl is set; with
// PolarityStandard it is read only when IgnoreCacheControl is not set.
const (
	PolarityInverted = "inverted"
	PolarityStandard = "standard"
)

const defaultMaxRedirects = 10

var maxAgeRe = regexp.MustCompile(`max-age=(\d+)`)

// HTTPOptions configure an HTTP backend.
type HTTPOptions struct {
	Domains         []string
	AllowAllDomains bool

	// MaxAge is used when the origin's cache-control is not consulted or
	// carries no max-age.
	MaxAge *int

	IgnoreCacheControl   bool
	CacheControlPolarity string

	// Timeout bounds each request when the caller's context has no
	// deadline. Zero means no bound.
	Timeout time.Duration

	// Headers are sent with every request, before per-request headers.
	Headers map[string]string

	MaxRedirects int
}

// HTTP fetches remote images from allowed hosts.
type HTTP struct {
	client       *fasthttp.Client
	policy       *DomainPolicy
	maxAge       *int
	readMaxAge   bool
	timeout      time.Duration
	headers      map[string]string
	maxRedirects int
}

// NewHTTP returns an HTTP backend. DNS lookups are cached by the dialer.
func NewHTTP(opts HTTPOptions) *HTTP {
	dialer := &fasthttp.TCPDialer{
		Concurrency:      1000,
		DNSCacheDuration: time.Minute,
	}

	readMaxAge := opts.IgnoreCacheControl
	if opts.CacheControlPolarity == PolarityStandard {
		readMaxAge = !opts.IgnoreCacheControl
	}

	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}

	return &HTTP{
		client: &fasthttp.Client{
			Name:                "ipx-super",
			Dial:                dialer.Dial,
			ReadTimeout:         opts.Timeout,
			WriteTimeout:        opts.Timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		policy:       NewDomainPolicy(opts.Domains, opts.AllowAllDomains),
		maxAge:       opts.MaxAge,
		readMaxAge:   readMaxAge,
		timeout:      opts.Timeout,
		headers:      opts.Headers,
		maxRedirects: maxRedirects,
	}
}

func (s *HTTP) Name() string { return "ipx:http" }

// Policy returns the domain policy.
func (s *HTTP) Policy() *DomainPolicy {
	return s.policy
}

// Meta checks the resource with HEAD. HEAD failures yield empty metadata
// rather than an error; only an id that fails validation is an error.
func (s *HTTP) Meta(ctx context.Context, id string, opts Options) (*Meta, error) {
	u, err := s.policy.Validate(id)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	s.prepare(ctx, req, fasthttp.MethodHead, u, opts)
	if err := s.do(ctx, req, resp); err != nil {
		return &Meta{}, nil
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return &Meta{}, nil
	}
	return s.parseMeta(&resp.Header), nil
}

// Data fetches the resource with GET. A 404 means the resource is absent.
func (s *HTTP) Data(ctx context.Context, id string, opts Options) ([]byte, error) {
	u, err := s.policy.Validate(id)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	s.prepare(ctx, req, fasthttp.MethodGet, u, opts)
	if err := s.do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusNotFound:
		return nil, nil
	case code < 200 || code > 299:
		return nil, fmt.Errorf("failed to fetch %s: status %d", u, code)
	}

	body, err := resp.BodyUncompressed()
	if err != nil {
		return nil, fmt.Errorf("failed to decode body of %s: %w", u, err)
	}
	return append([]byte(nil), body...), nil
}

func (s *HTTP) prepare(ctx context.Context, req *fasthttp.Request, method, u string, opts Options) {
	req.SetRequestURI(u)
	req.Header.SetMethod(method)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout > 0 {
		req.SetTimeout(timeout)
	}
}

func (s *HTTP) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.DoRedirects(req, resp, s.maxRedirects)
}

func (s *HTTP) parseMeta(h *fasthttp.ResponseHeader) *Meta {
	meta := &Meta{MaxAge: s.maxAge}

	if s.readMaxAge {
		if m := maxAgeRe.FindSubmatch(h.Peek(fasthttp.HeaderCacheControl)); m != nil {
			if v, err := strconv.Atoi(string(m[1])); err == nil {
				meta.MaxAge = &v
			}
		}
	}

	if lm := h.Peek(fasthttp.HeaderLastModified); len(lm) > 0 {
		if t, err := fasthttp.ParseHTTPDate(lm); err == nil {
			meta.MTime = &t
		}
	}
	return meta
}
