// Package metrics instruments any cache backend with latency and throughput
// measurement, and optionally exposes the same signals through Prometheus.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// Operation classifies the instrumented cache calls.
type Operation string

const (
	OpGet        Operation = "get"
	OpSet        Operation = "set"
	OpInvalidate Operation = "invalidate"
	OpCleanup    Operation = "cleanup"
)

// Sample is one recorded latency observation.
type Sample struct {
	Op       Operation     `json:"op"`
	Duration time.Duration `json:"duration"`
	Key      string        `json:"key,omitempty"`
	Success  bool          `json:"success"`
	At       time.Time     `json:"at"`
}

// LatencySummary aggregates latency percentiles for one operation kind or
// for all operations combined.
type LatencySummary struct {
	Count  int           `json:"count"`
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	P95    time.Duration `json:"p95"`
}

// InstrumentedCache wraps a backend and measures every call: global
// counters, a bounded ring of recent latency samples, and an hour-bucketed
// operation table covering a rolling 24-hour window.
type InstrumentedCache struct {
	backend  types.Cache
	clock    types.Clock
	exporter *Exporter

	mu       sync.Mutex
	counters types.CacheStats
	ring     []Sample
	next     int
	filled   bool
	hourly   map[time.Time]uint64
}

// Config configures an InstrumentedCache.
type Config struct {
	// LatencyBufferSize bounds the recent-sample ring; oldest samples are
	// dropped on overflow.
	LatencyBufferSize int
	Clock             types.Clock
	Exporter          *Exporter
}

// NewInstrumentedCache wraps backend with measurement.
func NewInstrumentedCache(backend types.Cache, config *Config) (*InstrumentedCache, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "metrics wrapper requires a backend")
	}
	if config == nil {
		config = &Config{}
	}
	if config.LatencyBufferSize == 0 {
		config.LatencyBufferSize = 1000
	}
	if config.LatencyBufferSize < 0 {
		return nil, errors.New(errors.ErrCodeInvalidCapacity, "latency buffer size must be positive")
	}
	if config.Clock == nil {
		config.Clock = types.SystemClock
	}

	return &InstrumentedCache{
		backend:  backend,
		clock:    config.Clock,
		exporter: config.Exporter,
		ring:     make([]Sample, config.LatencyBufferSize),
		hourly:   make(map[time.Time]uint64),
	}, nil
}

// Get counts a hit only when the backend returned a present value; errors
// are recorded with their classification and still re-raised.
func (c *InstrumentedCache) Get(ctx context.Context, key string) (types.Value, bool, error) {
	start := c.clock.Now()
	value, ok, err := c.backend.Get(ctx, key)
	elapsed := c.clock.Now().Sub(start)

	hit := err == nil && ok && !value.IsZero()
	c.record(OpGet, key, elapsed, err, func(s *types.CacheStats) {
		if err != nil {
			return
		}
		if hit {
			s.Hits++
		} else {
			s.Misses++
		}
	})
	return value, ok, err
}

// Set measures the write and re-raises any backend error.
func (c *InstrumentedCache) Set(ctx context.Context, key string, value types.Value, ttl time.Duration) error {
	start := c.clock.Now()
	err := c.backend.Set(ctx, key, value, ttl)
	elapsed := c.clock.Now().Sub(start)

	c.record(OpSet, key, elapsed, err, func(s *types.CacheStats) {
		if err == nil {
			s.Sets++
		}
	})
	return err
}

// Invalidate measures the removal and re-raises any backend error.
func (c *InstrumentedCache) Invalidate(ctx context.Context, keys ...string) (int, error) {
	start := c.clock.Now()
	removed, err := c.backend.Invalidate(ctx, keys...)
	elapsed := c.clock.Now().Sub(start)

	c.record(OpInvalidate, "", elapsed, err, func(s *types.CacheStats) {
		if err == nil {
			s.Invalidations += uint64(removed)
		}
	})
	return removed, err
}

// Cleanup measures the sweep and re-raises any backend error.
func (c *InstrumentedCache) Cleanup(ctx context.Context) (int, error) {
	start := c.clock.Now()
	removed, err := c.backend.Cleanup(ctx)
	elapsed := c.clock.Now().Sub(start)

	c.record(OpCleanup, "", elapsed, err, func(s *types.CacheStats) {
		if err == nil {
			s.Cleanups++
		}
	})
	return removed, err
}

func (c *InstrumentedCache) record(op Operation, key string, elapsed time.Duration, err error, update func(*types.CacheStats)) {
	now := c.clock.Now()

	c.mu.Lock()
	update(&c.counters)
	if err != nil {
		c.counters.Errors++
	}

	c.ring[c.next] = Sample{Op: op, Duration: elapsed, Key: key, Success: err == nil, At: now}
	c.next++
	if c.next == len(c.ring) {
		c.next = 0
		c.filled = true
	}

	bucket := now.Truncate(time.Hour)
	c.hourly[bucket]++
	c.pruneHourlyLocked(now)
	c.mu.Unlock()

	if c.exporter != nil {
		c.exporter.observe(op, err, elapsed)
	}
}

// pruneHourlyLocked keeps only the most recent 24 buckets.
func (c *InstrumentedCache) pruneHourlyLocked(now time.Time) {
	cutoff := now.Truncate(time.Hour).Add(-23 * time.Hour)
	for bucket := range c.hourly {
		if bucket.Before(cutoff) {
			delete(c.hourly, bucket)
		}
	}
}

// Samples returns a copy of the recorded samples, oldest first.
func (c *InstrumentedCache) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samplesLocked()
}

func (c *InstrumentedCache) samplesLocked() []Sample {
	if !c.filled {
		out := make([]Sample, c.next)
		copy(out, c.ring[:c.next])
		return out
	}
	out := make([]Sample, 0, len(c.ring))
	out = append(out, c.ring[c.next:]...)
	out = append(out, c.ring[:c.next]...)
	return out
}

// Latency summarizes all recorded samples; op == "" covers every operation.
func (c *InstrumentedCache) Latency(op Operation) LatencySummary {
	c.mu.Lock()
	samples := c.samplesLocked()
	c.mu.Unlock()

	durations := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		if op == "" || s.Op == op {
			durations = append(durations, s.Duration)
		}
	}
	return summarize(durations)
}

func summarize(durations []time.Duration) LatencySummary {
	if len(durations) == 0 {
		return LatencySummary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	p95Index := (len(durations)*95 + 99) / 100
	if p95Index > 0 {
		p95Index--
	}

	return LatencySummary{
		Count:  len(durations),
		Mean:   total / time.Duration(len(durations)),
		Median: durations[len(durations)/2],
		P95:    durations[p95Index],
	}
}

// HourlyOperations returns operation counts per hour bucket within the
// rolling 24-hour window.
func (c *InstrumentedCache) HourlyOperations() map[time.Time]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneHourlyLocked(c.clock.Now())

	out := make(map[time.Time]uint64, len(c.hourly))
	for bucket, n := range c.hourly {
		out[bucket] = n
	}
	return out
}

// Stats merges the backend's stats with the metrics sub-map.
func (c *InstrumentedCache) Stats() map[string]any {
	c.mu.Lock()
	counters := c.counters.Map()
	sampleCount := c.next
	if c.filled {
		sampleCount = len(c.ring)
	}
	hourlyTotal := uint64(0)
	for _, n := range c.hourly {
		hourlyTotal += n
	}
	c.mu.Unlock()

	all := c.Latency("")
	gets := c.Latency(OpGet)
	counters["samples"] = sampleCount
	counters["latency_mean_ns"] = all.Mean.Nanoseconds()
	counters["latency_median_ns"] = all.Median.Nanoseconds()
	counters["latency_p95_ns"] = all.P95.Nanoseconds()
	counters["get_latency_p95_ns"] = gets.P95.Nanoseconds()
	counters["ops_last_24h"] = hourlyTotal
	return types.MergeStats(c.backend.Stats(), map[string]any{"metrics": counters})
}
