package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Cache lookup outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// Collector exposes request counters to Prometheus. All methods accept a nil
// receiver.
type Collector struct {
	registry  *prometheus.Registry
	cache     *prometheus.CounterVec
	processed *prometheus.CounterVec
	errors    *prometheus.CounterVec
	shared    prometheus.Counter
}

// NewCollector creates a collector with its own registry. Go runtime and
// process collectors are registered when goMetrics is true.
func NewCollector(namespace string, goMetrics bool) *Collector {
	registry := prometheus.NewRegistry()
	if goMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	c := &Collector{
		registry: registry,
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Persistent cache lookups by outcome.",
		}, []string{"outcome"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_processed_total",
			Help:      "Transformation pipeline executions by output format.",
		}, []string{"format"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed requests by error code.",
		}, []string{"code"}),
		shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Requests that shared an in-flight computation.",
		}),
	}
	registry.MustRegister(c.cache, c.processed, c.errors, c.shared)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) CacheLookup(outcome string) {
	if c == nil {
		return
	}
	c.cache.WithLabelValues(outcome).Inc()
}

func (c *Collector) Processed(format string) {
	if c == nil {
		return
	}
	c.processed.WithLabelValues(format).Inc()
}

func (c *Collector) Error(code string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(code).Inc()
}

func (c *Collector) Coalesced() {
	if c == nil {
		return
	}
	c.shared.Inc()
}
