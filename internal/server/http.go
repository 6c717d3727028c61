package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/pornlink/ipx-super/internal/imaging"
	"github.com/pornlink/ipx-super/internal/ipx"
	"github.com/pornlink/ipx-super/internal/ipxerr"
	"github.com/pornlink/ipx-super/internal/metrics"
	"github.com/pornlink/ipx-super/internal/storage"
	"github.com/pornlink/ipx-super/internal/transform"
)

// svgCSP is sent with SVG responses so embedded content cannot run.
const svgCSP = "default-src 'none'; style-src 'unsafe-inline'; sandbox"

// collapsedScheme matches a protocol whose double slash was collapsed by a
// proxy or router, e.g. "https:/example.com".
var collapsedScheme = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*:)/*`)

// HTTPOptions configure the HTTP adapter.
type HTTPOptions struct {
	// RequestTimeout bounds each request. Zero means no bound.
	RequestTimeout time.Duration

	// MetricsPath serves the collector registry when both are set.
	MetricsPath string

	Logger    *zap.Logger
	Collector *metrics.Collector
}

// HTTPHandler serves GET /{modifiers}/{id}.
type HTTPHandler struct {
	ipx         *ipx.IPX
	timeout     time.Duration
	logger      *zap.Logger
	collector   *metrics.Collector
	metricsPath string
	metrics     fasthttp.RequestHandler
}

// NewHTTPHandler returns a handler serving requests through x.
func NewHTTPHandler(x *ipx.IPX, opts HTTPOptions) *HTTPHandler {
	h := &HTTPHandler{
		ipx:       x,
		timeout:   opts.RequestTimeout,
		logger:    opts.Logger,
		collector: opts.Collector,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if reg := opts.Collector.Registry(); reg != nil && opts.MetricsPath != "" {
		h.metricsPath = opts.MetricsPath
		h.metrics = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return h
}

// ParseModifiers parses the URL form of modifiers: entries separated by ','
// or '&', each a name and an argument separated by '_', ':' or '='. Further
// separators inside the argument become '_'. "_" and "" mean no modifiers.
func ParseModifiers(s string) transform.Modifiers {
	m := transform.Modifiers{}
	if s == "" || s == "_" {
		return m
	}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '&' }) {
		name, arg := part, ""
		if i := strings.IndexAny(part, "_:="); i >= 0 {
			name, arg = part[:i], part[i+1:]
		}
		if name == "" {
			continue
		}
		arg = strings.NewReplacer(":", "_", "=", "_").Replace(arg)
		if decoded, err := url.PathUnescape(arg); err == nil {
			arg = decoded
		}
		m[name] = arg
	}
	return m
}

// splitPath splits a raw request path into its modifiers segment and the
// resource id.
func splitPath(path string) (string, string, error) {
	path = strings.TrimPrefix(path, "/")
	mods, id, _ := strings.Cut(path, "/")
	if id == "" {
		return "", "", ipxerr.ErrMissingID
	}
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if m := collapsedScheme.FindStringSubmatch(id); m != nil && strings.Contains(m[0], ":/") {
		id = m[1] + "//" + id[len(m[0]):]
	}
	return mods, id, nil
}

// StatusCode maps an error to the HTTP status returned to clients.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ipxerr.ErrMissingID),
		errors.Is(err, ipxerr.ErrInvalidImage),
		errors.Is(err, ipxerr.ErrInvalidModifier):
		return fasthttp.StatusBadRequest
	case errors.Is(err, ipxerr.ErrMissingHostname),
		errors.Is(err, ipxerr.ErrForbiddenHost),
		errors.Is(err, ipxerr.ErrForbiddenPath):
		return fasthttp.StatusForbidden
	case errors.Is(err, ipxerr.ErrResourceNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, imaging.ErrUnsupportedEncoding):
		return fasthttp.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return fasthttp.StatusGatewayTimeout
	default:
		return fasthttp.StatusInternalServerError
	}
}

// ETag returns a weak validator for data.
func ETag(data []byte) string {
	return fmt.Sprintf(`W/"%x-%016x"`, len(data), xxhash.Sum64(data))
}

// Handle is the fasthttp request handler.
func (h *HTTPHandler) Handle(ctx *fasthttp.RequestCtx) {
	if h.metrics != nil && string(ctx.Path()) == h.metricsPath {
		h.metrics(ctx)
		return
	}

	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		ctx.Response.Header.Set(fasthttp.HeaderAllow, "GET, HEAD")
		return
	}

	if err := h.serve(ctx); err != nil {
		h.fail(ctx, err)
	}
}

func (h *HTTPHandler) serve(ctx *fasthttp.RequestCtx) error {
	mods, id, err := splitPath(string(ctx.Request.URI().PathOriginal()))
	if err != nil {
		return err
	}

	handle, err := h.ipx.Request(id, ParseModifiers(mods), storage.Options{})
	if err != nil {
		return err
	}

	var reqCtx context.Context = ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	meta, err := handle.SourceMeta(reqCtx)
	if err != nil {
		return err
	}

	if meta.MTime != nil {
		mtime := meta.MTime.UTC().Truncate(time.Second)
		ctx.Response.Header.Set(fasthttp.HeaderLastModified, string(fasthttp.AppendHTTPDate(nil, mtime)))
		if ims := ctx.Request.Header.Peek(fasthttp.HeaderIfModifiedSince); len(ims) > 0 {
			if since, err := fasthttp.ParseHTTPDate(ims); err == nil && !mtime.After(since) {
				ctx.SetStatusCode(fasthttp.StatusNotModified)
				return nil
			}
		}
	}

	if meta.MaxAge > 0 {
		age := strconv.Itoa(meta.MaxAge)
		ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "max-age="+age+", public, s-maxage="+age)
	}

	out, err := handle.Process(reqCtx)
	if err != nil {
		return err
	}

	etag := ETag(out.Data)
	ctx.Response.Header.Set(fasthttp.HeaderETag, etag)
	if inm := ctx.Request.Header.Peek(fasthttp.HeaderIfNoneMatch); len(inm) > 0 && string(inm) == etag {
		ctx.SetStatusCode(fasthttp.StatusNotModified)
		return nil
	}

	if out.Format == "svg+xml" {
		ctx.Response.Header.Set("Content-Security-Policy", svgCSP)
	}
	ctx.SetContentType("image/" + out.Format)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(out.Data)
	return nil
}

func (h *HTTPHandler) fail(ctx *fasthttp.RequestCtx, err error) {
	code := ipxerr.Code(err)
	status := StatusCode(err)
	h.collector.Error(code)

	fields := []zap.Field{
		zap.ByteString("path", ctx.Request.URI().PathOriginal()),
		zap.String("code", code),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= fasthttp.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request rejected", fields...)
	}

	// Error resets the response, dropping any caching headers set so far.
	ctx.Error(fmt.Sprintf("%s: %v", code, err), status)
	ctx.Response.Header.Set("X-IPX-Error", code)
}
