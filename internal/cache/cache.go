package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pornlink/ipx-super/internal/clock"
	"github.com/pornlink/ipx-super/internal/imaging"
	"github.com/pornlink/ipx-super/internal/locking"
	"github.com/pornlink/ipx-super/internal/metrics"
)

// DefaultTTL is how long a cached result stays fresh.
const DefaultTTL = 7 * 24 * time.Hour

// ComputeFunc produces the result to cache on a miss.
type ComputeFunc func(ctx context.Context) (*imaging.Processed, error)

// Options configure a Cache.
type Options struct {
	Store Store

	// TTL defaults to DefaultTTL.
	TTL time.Duration

	// Locks serializes Fetch per key. Defaults to an in-memory lock group.
	Locks locking.Group

	Logger    *zap.Logger
	Collector *metrics.Collector

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Cache is a persistent, TTL-bounded cache of processing results.
type Cache struct {
	store     Store
	ttl       time.Duration
	locks     locking.Group
	logger    *zap.Logger
	collector *metrics.Collector
	clock     clock.Clock
}

// New returns a cache over opts.Store.
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	c := &Cache{
		store:     opts.Store,
		ttl:       opts.TTL,
		locks:     opts.Locks,
		logger:    opts.Logger,
		collector: opts.Collector,
		clock:     opts.Clock,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.locks == nil {
		c.locks = locking.NewMemLock()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	return c, nil
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Fetch returns the fresh entry for key, or runs compute, stores its result
// and returns it. An entry is fresh while now - entry.Time < TTL. Stale and
// unreadable entries are removed before compute runs. A failed write is
// logged and the computed result is still returned.
func (c *Cache) Fetch(ctx context.Context, key string, compute ComputeFunc) (*imaging.Processed, error) {
	v, err := c.locks.DoWithLock(key, func() (interface{}, error) {
		return c.fetchLocked(ctx, key, compute)
	})
	if err != nil {
		return nil, err
	}
	return v.(*imaging.Processed), nil
}

func (c *Cache) fetchLocked(ctx context.Context, key string, compute ComputeFunc) (*imaging.Processed, error) {
	entry, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("unreadable cache entry", zap.String("key", key), zap.Error(err))
		c.collector.CacheLookup(metrics.CacheStale)
		c.remove(ctx, key)
	case entry == nil:
		c.logger.Debug("cache miss", zap.String("key", key))
		c.collector.CacheLookup(metrics.CacheMiss)
	case c.clock.Now().Sub(entry.Time) < c.ttl:
		c.logger.Debug("cache hit", zap.String("key", key))
		c.collector.CacheLookup(metrics.CacheHit)
		return entry.Processed(), nil
	default:
		c.logger.Debug("stale cache entry",
			zap.String("key", key),
			zap.Time("stored", entry.Time),
			zap.Duration("ttl", c.ttl))
		c.collector.CacheLookup(metrics.CacheStale)
		c.remove(ctx, key)
	}

	result, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	stored := &Entry{
		Data:   result.Data,
		Time:   c.clock.Now(),
		Format: result.Format,
		Meta:   result.Meta,
	}
	if err := c.store.Put(ctx, key, stored); err != nil {
		c.logger.Warn("failed to write cache entry", zap.String("key", key), zap.Error(err))
	}
	return result, nil
}

func (c *Cache) remove(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Warn("failed to remove cache entry", zap.String("key", key), zap.Error(err))
	}
}

// Clear removes every entry from the store.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Close releases the store.
func (c *Cache) Close() error {
	return c.store.Close()
}
