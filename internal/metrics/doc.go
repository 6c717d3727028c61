// Package metrics records stage latencies and request counters for the
// image proxy.
//
// LatencyTracker keeps a DDSketch per stage so quantiles can be reported
// cheaply at shutdown. Collector exposes Prometheus counters for cache
// outcomes, processed formats and error codes. Both types tolerate nil
// receivers, so components accept them as optional dependencies.
package metrics
