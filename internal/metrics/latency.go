package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Stage names recorded by the orchestrator.
const (
	StageSourceMeta = "source_meta"
	StageSourceData = "source_data"
	StageProcess    = "process"
	StageCacheFetch = "cache_fetch"
)

// LatencyTracker tracks per-stage latency quantiles using DDSketch.
type LatencyTracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	relativeAccuracy float64
}

// NewLatencyTracker creates a tracker. relativeAccuracy bounds the error of
// quantile estimates (0.01 = 1%).
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		relativeAccuracy: relativeAccuracy,
	}
}

// Record records a duration for the given stage. A nil tracker ignores the
// call so components can run without metrics.
func (lt *LatencyTracker) Record(stage string, duration time.Duration) {
	if lt == nil {
		return
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, exists := lt.sketches[stage]
	if !exists {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(lt.relativeAccuracy)
		}
		lt.sketches[stage] = sketch
	}

	// Milliseconds
	sketch.Add(float64(duration.Microseconds()) / 1000.0)
}

// Since records the time elapsed since start. Meant for defer.
func (lt *LatencyTracker) Since(stage string, start time.Time) {
	lt.Record(stage, time.Since(start))
}

// RecordFunc wraps fn and records its execution time.
func (lt *LatencyTracker) RecordFunc(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	lt.Record(stage, time.Since(start))
	return err
}

// Stats holds summary statistics for a stage, in milliseconds.
type Stats struct {
	Operation string
	Count     int64
	Min       float64
	P50       float64
	P90       float64
	P95       float64
	P99       float64
	Max       float64
}

// GetStats returns statistics for the given stage.
func (lt *LatencyTracker) GetStats(stage string) (Stats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.statsLocked(stage)
}

func (lt *LatencyTracker) statsLocked(stage string) (Stats, error) {
	sketch, exists := lt.sketches[stage]
	if !exists {
		return Stats{}, fmt.Errorf("no data for stage: %s", stage)
	}

	count := sketch.GetCount()
	if count == 0 {
		return Stats{Operation: stage}, nil
	}

	min, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p95, _ := sketch.GetValueAtQuantile(0.95)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	max, _ := sketch.GetMaxValue()

	return Stats{
		Operation: stage,
		Count:     int64(count),
		Min:       min,
		P50:       p50,
		P90:       p90,
		P95:       p95,
		P99:       p99,
		Max:       max,
	}, nil
}

// GetAllStats returns statistics for every tracked stage, sorted by name.
func (lt *LatencyTracker) GetAllStats() []Stats {
	if lt == nil {
		return nil
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	stats := make([]Stats, 0, len(lt.sketches))
	for stage := range lt.sketches {
		if stat, err := lt.statsLocked(stage); err == nil {
			stats = append(stats, stat)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Operation < stats[j].Operation })
	return stats
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("  %s: no data", s.Operation)
	}
	return fmt.Sprintf("  %s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms max=%.2fms",
		s.Operation, s.Count, s.Min, s.P50, s.P90, s.P95, s.P99, s.Max)
}
