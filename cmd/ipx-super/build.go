package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pornlink/ipx-super/internal/cache"
	"github.com/pornlink/ipx-super/internal/config"
	"github.com/pornlink/ipx-super/internal/ipx"
	"github.com/pornlink/ipx-super/internal/locking"
	"github.com/pornlink/ipx-super/internal/metrics"
	"github.com/pornlink/ipx-super/internal/storage"
	"github.com/pornlink/ipx-super/internal/svg"
	"github.com/pornlink/ipx-super/internal/transform"
)

// build assembles the pipeline described by cfg. The returned cleanup
// releases the result cache.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, collector *metrics.Collector, latency *metrics.LatencyTracker) (*ipx.IPX, func(), error) {
	opts := ipx.Options{
		MaxAge:    cfg.MaxAge,
		Aliases:   cfg.Alias,
		Logger:    logger,
		Latency:   latency,
		Collector: collector,
	}

	switch cfg.Storage.Driver {
	case "fs":
		fs, err := storage.NewFS(storage.FSOptions{Dir: cfg.Storage.Dir, MaxAge: cfg.Storage.MaxAge})
		if err != nil {
			return nil, nil, err
		}
		opts.Storage = fs
	case "s3":
		s3opts := cfg.Storage.S3
		s3opts.MaxAge = cfg.Storage.MaxAge
		s3, err := storage.NewS3(ctx, s3opts)
		if err != nil {
			return nil, nil, err
		}
		opts.Storage = s3
	}

	if cfg.HTTP.Enabled {
		opts.HTTPStorage = storage.NewHTTP(cfg.HTTP.Options())
	}

	var optimizer transform.SVGOptimizer
	if cfg.SVGO.Enabled {
		o, err := svg.New(cfg.SVGO.Options)
		if err != nil {
			return nil, nil, err
		}
		optimizer = o
	}
	opts.Processor = transform.NewProcessor(nil, optimizer)

	cleanup := func() {}
	if cfg.Cache.Enabled {
		c, err := buildCache(ctx, cfg.Cache, logger, collector)
		if err != nil {
			return nil, nil, err
		}
		opts.Cache = c
		cleanup = func() {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close cache", zap.Error(err))
			}
		}
	}

	x, err := ipx.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Info("pipeline ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("http_storage", cfg.HTTP.Enabled),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("svgo", cfg.SVGO.Enabled),
	)
	return x, cleanup, nil
}

func buildCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger, collector *metrics.Collector) (*cache.Cache, error) {
	var store cache.Store
	switch cfg.Driver {
	case "redis":
		s, err := cache.NewRedisStore(ctx, cfg.Redis, cfg.TTL)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		s, err := cache.NewDiskStore(cache.DiskOptions{Dir: cfg.Dir, Compress: cfg.Compress, Logger: logger})
		if err != nil {
			return nil, err
		}
		store = s
	}

	var locks locking.Group
	switch cfg.Lock {
	case "file":
		fl, err := locking.NewFileLock(filepath.Join(cfg.Dir, ".locks"))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
		locks = fl
	case "none":
		locks = locking.NewNoOpGroup()
	default:
		locks = locking.NewMemLock()
	}

	return cache.New(cache.Options{
		Store:     store,
		TTL:       cfg.TTL,
		Locks:     locks,
		Logger:    logger,
		Collector: collector,
	})
}
