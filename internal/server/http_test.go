package server

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/pornlink/ipx-super/internal/imaging"
	"github.com/pornlink/ipx-super/internal/ipxerr"
	"github.com/pornlink/ipx-super/internal/metrics"
)

// serveHTTP starts h on an in-memory listener and returns a client bound to it.
func serveHTTP(t *testing.T, h *HTTPHandler) *fasthttp.Client {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h.Handle}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})

	return &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
}

func doGet(t *testing.T, c *fasthttp.Client, path string, headers map[string]string) *fasthttp.Response {
	t.Helper()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://ipx.test" + path)
	req.URI().DisablePathNormalizing = true
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp := &fasthttp.Response{}
	if err := c.DoTimeout(req, resp, 5*time.Second); err != nil {
		t.Fatalf("request %s failed: %v", path, err)
	}
	return resp
}

func TestHTTPHandler_Serve(t *testing.T) {
	c := serveHTTP(t, NewHTTPHandler(newTestIPX(t), HTTPOptions{}))

	resp := doGet(t, c, "/w_10/red.png", nil)
	if resp.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status: got %d, body %s", resp.StatusCode(), resp.Body())
	}
	if ct := string(resp.Header.ContentType()); ct != "image/png" {
		t.Errorf("Content-Type: got %s", ct)
	}
	if cc := string(resp.Header.Peek(fasthttp.HeaderCacheControl)); cc != "max-age=60, public, s-maxage=60" {
		t.Errorf("Cache-Control: got %q", cc)
	}
	if len(resp.Header.Peek(fasthttp.HeaderLastModified)) == 0 {
		t.Error("Last-Modified missing")
	}
	if etag := string(resp.Header.Peek(fasthttp.HeaderETag)); etag != ETag(resp.Body()) {
		t.Errorf("ETag: got %s, want %s", etag, ETag(resp.Body()))
	}

	meta, err := imaging.DetectMeta(resp.Body())
	if err != nil {
		t.Fatalf("DetectMeta failed: %v", err)
	}
	if meta.Width != 10 || meta.Height != 8 {
		t.Errorf("expected 10x8, got %dx%d", meta.Width, meta.Height)
	}
}

func TestHTTPHandler_NotModified(t *testing.T) {
	c := serveHTTP(t, NewHTTPHandler(newTestIPX(t), HTTPOptions{}))

	first := doGet(t, c, "/_/red.png", nil)
	etag := string(first.Header.Peek(fasthttp.HeaderETag))

	t.Run("if-none-match", func(t *testing.T) {
		resp := doGet(t, c, "/_/red.png", map[string]string{fasthttp.HeaderIfNoneMatch: etag})
		if resp.StatusCode() != fasthttp.StatusNotModified {
			t.Errorf("status: got %d, want 304", resp.StatusCode())
		}
	})

	t.Run("if-modified-since", func(t *testing.T) {
		future := string(fasthttp.AppendHTTPDate(nil, time.Now().Add(time.Hour)))
		resp := doGet(t, c, "/_/red.png", map[string]string{fasthttp.HeaderIfModifiedSince: future})
		if resp.StatusCode() != fasthttp.StatusNotModified {
			t.Errorf("status: got %d, want 304", resp.StatusCode())
		}
	})

	t.Run("stale validator", func(t *testing.T) {
		past := string(fasthttp.AppendHTTPDate(nil, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
		resp := doGet(t, c, "/_/red.png", map[string]string{fasthttp.HeaderIfModifiedSince: past})
		if resp.StatusCode() != fasthttp.StatusOK {
			t.Errorf("status: got %d, want 200", resp.StatusCode())
		}
	})
}

func TestHTTPHandler_SVG(t *testing.T) {
	c := serveHTTP(t, NewHTTPHandler(newTestIPX(t), HTTPOptions{}))

	resp := doGet(t, c, "/_/logo.svg", nil)
	if resp.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode())
	}
	if ct := string(resp.Header.ContentType()); ct != "image/svg+xml" {
		t.Errorf("Content-Type: got %s", ct)
	}
	if csp := string(resp.Header.Peek("Content-Security-Policy")); csp != svgCSP {
		t.Errorf("CSP: got %q", csp)
	}
	if strings.Contains(string(resp.Body()), "<script") {
		t.Error("script element was not removed")
	}
}

func TestHTTPHandler_Errors(t *testing.T) {
	collector := metrics.NewCollector("ipx_test", false)
	c := serveHTTP(t, NewHTTPHandler(newTestIPX(t), HTTPOptions{Collector: collector}))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"missing id", "/w_10", fasthttp.StatusBadRequest, ipxerr.CodeMissingID},
		{"not found", "/_/nope.png", fasthttp.StatusNotFound, ipxerr.CodeResourceNotFound},
		{"invalid modifier", "/w_abc/red.png", fasthttp.StatusBadRequest, ipxerr.CodeInvalidModifier},
		{"url without http storage", "/_/https://example.com/a.png", fasthttp.StatusNotFound, ipxerr.CodeResourceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doGet(t, c, tt.path, nil)
			if resp.StatusCode() != tt.wantStatus {
				t.Errorf("status: got %d, want %d (body %s)", resp.StatusCode(), tt.wantStatus, resp.Body())
			}
			if code := string(resp.Header.Peek("X-IPX-Error")); code != tt.wantCode {
				t.Errorf("X-IPX-Error: got %s, want %s", code, tt.wantCode)
			}
			if len(resp.Header.Peek(fasthttp.HeaderCacheControl)) != 0 {
				t.Error("error responses must not be cacheable")
			}
		})
	}
}

// TestHTTPHandler_ForbiddenPath calls the handler directly so the encoded
// traversal reaches it without any client side path normalization.
func TestHTTPHandler_ForbiddenPath(t *testing.T) {
	h := NewHTTPHandler(newTestIPX(t), HTTPOptions{})

	for _, path := range []string{
		"/_/..%2F..%2Fetc%2Fpasswd",
		"/w_10/..%2F..%2F..%2Fetc%2Fpasswd",
	} {
		t.Run(path, func(t *testing.T) {
			var req fasthttp.Request
			req.SetRequestURI(path)
			var ctx fasthttp.RequestCtx
			ctx.Init(&req, nil, nil)

			h.Handle(&ctx)

			if status := ctx.Response.StatusCode(); status != fasthttp.StatusForbidden {
				t.Errorf("status: got %d, want 403 (body %s)", status, ctx.Response.Body())
			}
			if code := string(ctx.Response.Header.Peek("X-IPX-Error")); code != ipxerr.CodeForbiddenPath {
				t.Errorf("X-IPX-Error: got %s, want %s", code, ipxerr.CodeForbiddenPath)
			}
		})
	}
}

func TestHTTPHandler_MethodNotAllowed(t *testing.T) {
	c := serveHTTP(t, NewHTTPHandler(newTestIPX(t), HTTPOptions{}))

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://ipx.test/_/red.png")
	req.Header.SetMethod(fasthttp.MethodPost)

	resp := &fasthttp.Response{}
	if err := c.DoTimeout(req, resp, 5*time.Second); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode())
	}
	if allow := string(resp.Header.Peek(fasthttp.HeaderAllow)); allow != "GET, HEAD" {
		t.Errorf("Allow: got %q", allow)
	}
}

func TestHTTPHandler_Metrics(t *testing.T) {
	collector := metrics.NewCollector("ipx_test", false)
	c := serveHTTP(t, NewHTTPHandler(newTestIPX(t), HTTPOptions{Collector: collector, MetricsPath: "/metrics"}))

	doGet(t, c, "/_/nope.png", nil)
	resp := doGet(t, c, "/metrics", nil)
	if resp.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode())
	}
	want := fmt.Sprintf(`ipx_test_errors_total{code="%s"} 1`, ipxerr.CodeResourceNotFound)
	if !strings.Contains(string(resp.Body()), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestParseModifiers(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{"_", map[string]string{}},
		{"", map[string]string{}},
		{"w_200", map[string]string{"w": "200"}},
		{"w_200,h_100", map[string]string{"w": "200", "h": "100"}},
		{"w:200&h=100", map[string]string{"w": "200", "h": "100"}},
		{"s_200x100", map[string]string{"s": "200x100"}},
		{"extract_1_2_3_4", map[string]string{"extract": "1_2_3_4"}},
		{"modulate_1:2=3", map[string]string{"modulate": "1_2_3"}},
		{"grayscale", map[string]string{"grayscale": ""}},
		{"b_%23ff0000", map[string]string{"b": "#ff0000"}},
		{",,w_1,", map[string]string{"w": "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseModifiers(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseModifiers(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s: got %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path     string
		wantMods string
		wantID   string
		wantErr  error
	}{
		{"/w_200/images/a.png", "w_200", "images/a.png", nil},
		{"/_/https://example.com/a.png", "_", "https://example.com/a.png", nil},
		{"/_/https:/example.com/a.png", "_", "https://example.com/a.png", nil},
		{"/_/http%3A%2F%2Fexample.com%2Fa.png", "_", "http://example.com/a.png", nil},
		{"/_/a%20b.png", "_", "a b.png", nil},
		{"/w_200", "", "", ipxerr.ErrMissingID},
		{"/w_200/", "", "", ipxerr.ErrMissingID},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			mods, id, err := splitPath(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mods != tt.wantMods || id != tt.wantID {
				t.Errorf("splitPath(%q) = %q, %q; want %q, %q", tt.path, mods, id, tt.wantMods, tt.wantID)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ipxerr.ErrMissingID, 400},
		{ipxerr.Errorf(ipxerr.ErrInvalidImage, "x"), 400},
		{ipxerr.ErrInvalidModifier, 400},
		{ipxerr.ErrMissingHostname, 403},
		{ipxerr.ErrForbiddenHost, 403},
		{ipxerr.ErrForbiddenPath, 403},
		{ipxerr.ErrResourceNotFound, 404},
		{ipxerr.ErrNoStorage, 500},
		{imaging.ErrUnsupportedEncoding, 501},
		{errors.New("boom"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
