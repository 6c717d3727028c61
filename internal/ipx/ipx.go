// Package ipx ties alias resolution, storage selection, caching and the
// transformation pipeline together behind a per-request handle.
package ipx

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pornlink/ipx-super/internal/alias"
	"github.com/pornlink/ipx-super/internal/cache"
	"github.com/pornlink/ipx-super/internal/coalesce"
	"github.com/pornlink/ipx-super/internal/imaging"
	"github.com/pornlink/ipx-super/internal/ipxerr"
	"github.com/pornlink/ipx-super/internal/metrics"
	"github.com/pornlink/ipx-super/internal/storage"
	"github.com/pornlink/ipx-super/internal/svg"
	"github.com/pornlink/ipx-super/internal/transform"
)

// DefaultMaxAge is the source max age in seconds when neither the backend
// nor the configuration provides one.
const DefaultMaxAge = 60

// Processor runs the transformation pipeline. *transform.Processor
// implements it.
type Processor interface {
	Process(ctx context.Context, data []byte, m transform.Modifiers) (*imaging.Processed, error)
}

// Options configure an IPX.
type Options struct {
	// MaxAge defaults to DefaultMaxAge.
	MaxAge int

	Aliases []alias.Alias

	// Storage serves path ids; HTTPStorage serves ids with a protocol.
	// Each is the fallback of the other. At least one is required.
	Storage     storage.Storage
	HTTPStorage storage.Storage

	// Processor defaults to a transform.Processor on the default engine
	// with the default SVG optimizer.
	Processor Processor

	// Cache is optional. Without it every request runs the pipeline,
	// although overlapping identical requests still share one run.
	Cache *cache.Cache

	Logger    *zap.Logger
	Latency   *metrics.LatencyTracker
	Collector *metrics.Collector
}

// IPX serves image requests.
type IPX struct {
	maxAge    int
	resolver  *alias.Resolver
	storage   storage.Storage
	http      storage.Storage
	processor Processor
	cache     *cache.Cache
	logger    *zap.Logger
	latency   *metrics.LatencyTracker
	collector *metrics.Collector

	// flight coalesces pipeline runs across requests by fingerprint.
	flight *coalesce.Group[*imaging.Processed]
}

// New returns an IPX. Configuration is taken from opts only; nothing is read
// from the environment.
func New(opts Options) (*IPX, error) {
	if opts.Storage == nil && opts.HTTPStorage == nil {
		return nil, ipxerr.ErrNoStorage
	}

	x := &IPX{
		maxAge:    opts.MaxAge,
		resolver:  alias.NewResolver(opts.Aliases),
		storage:   opts.Storage,
		http:      opts.HTTPStorage,
		processor: opts.Processor,
		cache:     opts.Cache,
		logger:    opts.Logger,
		latency:   opts.Latency,
		collector: opts.Collector,
		flight:    coalesce.NewFlight[*imaging.Processed](),
	}
	if x.maxAge <= 0 {
		x.maxAge = DefaultMaxAge
	}
	if x.processor == nil {
		opt, err := svg.New(svg.Options{})
		if err != nil {
			return nil, err
		}
		x.processor = transform.NewProcessor(nil, opt)
	}
	if x.logger == nil {
		x.logger = zap.NewNop()
	}
	return x, nil
}

// Resolve applies alias resolution to id.
func (x *IPX) Resolve(id string) string {
	return x.resolver.Resolve(id)
}

// selectStorage picks the HTTP backend for ids with a protocol and the
// generic backend otherwise, each falling back to the other.
func (x *IPX) selectStorage(id string) (storage.Storage, error) {
	primary, fallback := x.storage, x.http
	if alias.HasProtocol(id) {
		primary, fallback = x.http, x.storage
	}
	if primary != nil {
		return primary, nil
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ipxerr.ErrNoStorage
}

// Request validates id, resolves aliases and selects a backend. Nothing is
// fetched until a method of the returned handle is called.
func (x *IPX) Request(id string, m transform.Modifiers, opts storage.Options) (*Handle, error) {
	if id == "" {
		return nil, ipxerr.ErrMissingID
	}

	resolved := x.resolver.Resolve(id)
	backend, err := x.selectStorage(resolved)
	if err != nil {
		return nil, err
	}

	if m == nil {
		m = transform.Modifiers{}
	}
	key, err := cache.Fingerprint(resolved, m)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint %s: %w", resolved, err)
	}

	return &Handle{
		ipx:         x,
		id:          resolved,
		modifiers:   m.Clone(),
		opts:        opts,
		storage:     backend,
		fingerprint: key,
		meta:        coalesce.NewMemo[*SourceMeta](),
		data:        coalesce.NewMemo[[]byte](),
		processed:   coalesce.NewMemo[*imaging.Processed](),
	}, nil
}

// SourceMeta is the freshness metadata of a source.
type SourceMeta struct {
	MTime  *time.Time
	MaxAge int
}

// Handle is one request. Each of its methods runs at most once; later and
// concurrent calls share the first call's result, including its error.
// Results are shared and must not be modified.
type Handle struct {
	ipx         *IPX
	id          string
	modifiers   transform.Modifiers
	opts        storage.Options
	storage     storage.Storage
	fingerprint string

	meta      *coalesce.Group[*SourceMeta]
	data      *coalesce.Group[[]byte]
	processed *coalesce.Group[*imaging.Processed]
}

// ID returns the resolved resource id.
func (h *Handle) ID() string { return h.id }

// Fingerprint returns the cache key of the request.
func (h *Handle) Fingerprint() string { return h.fingerprint }

// Storage returns the selected backend.
func (h *Handle) Storage() storage.Storage { return h.storage }

// SourceMeta returns the source freshness metadata. A missing source is
// ErrResourceNotFound.
func (h *Handle) SourceMeta(ctx context.Context) (*SourceMeta, error) {
	v, _, err := h.meta.Do("", func() (*SourceMeta, error) {
		defer h.ipx.latency.Since(metrics.StageSourceMeta, time.Now())

		meta, err := h.storage.Meta(ctx, h.id, h.opts)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			return nil, ipxerr.Errorf(ipxerr.ErrResourceNotFound, "%s", h.id)
		}
		out := &SourceMeta{MTime: meta.MTime, MaxAge: h.ipx.maxAge}
		if meta.MaxAge != nil {
			out.MaxAge = *meta.MaxAge
		}
		return out, nil
	})
	return v, err
}

// SourceData returns the source bytes. A missing source is
// ErrResourceNotFound.
func (h *Handle) SourceData(ctx context.Context) ([]byte, error) {
	v, _, err := h.data.Do("", func() ([]byte, error) {
		defer h.ipx.latency.Since(metrics.StageSourceData, time.Now())

		data, err := h.storage.Data(ctx, h.id, h.opts)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, ipxerr.Errorf(ipxerr.ErrResourceNotFound, "%s", h.id)
		}
		return data, nil
	})
	return v, err
}

// Process returns the transformed image, from the cache when a fresh entry
// exists.
func (h *Handle) Process(ctx context.Context) (*imaging.Processed, error) {
	v, _, err := h.processed.Do("", func() (*imaging.Processed, error) {
		return h.ipx.process(ctx, h)
	})
	return v, err
}

func (x *IPX) process(ctx context.Context, h *Handle) (*imaging.Processed, error) {
	compute := func(ctx context.Context) (*imaging.Processed, error) {
		data, err := h.SourceData(ctx)
		if err != nil {
			return nil, err
		}
		defer x.latency.Since(metrics.StageProcess, time.Now())

		out, err := x.processor.Process(ctx, data, h.modifiers)
		if err != nil {
			return nil, err
		}
		x.collector.Processed(out.Format)
		return out, nil
	}

	v, shared, err := x.flight.Do(h.fingerprint, func() (*imaging.Processed, error) {
		if x.cache == nil {
			return compute(ctx)
		}
		defer x.latency.Since(metrics.StageCacheFetch, time.Now())
		return x.cache.Fetch(ctx, h.fingerprint, compute)
	})
	if shared {
		x.collector.Coalesced()
		x.logger.Debug("coalesced request", zap.String("id", h.id), zap.String("key", h.fingerprint))
	}
	return v, err
}
