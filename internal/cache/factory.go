package cache

import (
	"log/slog"
	"time"

	"github.com/trackforge/trackforge/internal/circuit"
	"github.com/trackforge/trackforge/internal/config"
	"github.com/trackforge/trackforge/internal/metrics"
	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/retry"
	"github.com/trackforge/trackforge/pkg/types"
)

// EvictionCacheFactory builds eviction wrappers from configuration.
type EvictionCacheFactory struct {
	Clock  types.Clock
	Logger *slog.Logger
}

// Standard builds an LRU-policy wrapper.
func (f EvictionCacheFactory) Standard(backend types.Cache, maxCapacity int, defaultTTL time.Duration) (*EvictingCache, error) {
	policy, err := NewLRUPolicy(maxCapacity)
	if err != nil {
		return nil, err
	}
	return NewEvictingCache(backend, &EvictingCacheConfig{
		Policy:     policy,
		DefaultTTL: defaultTTL,
		Clock:      f.Clock,
		Logger:     f.Logger,
	})
}

// PriorityAware builds a priority-policy wrapper.
func (f EvictionCacheFactory) PriorityAware(backend types.Cache, maxCapacity int, defaultTTL time.Duration, defaultPriority int) (*EvictingCache, error) {
	policy, err := NewPriorityPolicy(maxCapacity)
	if err != nil {
		return nil, err
	}
	return NewEvictingCache(backend, &EvictingCacheConfig{
		Policy:          policy,
		DefaultTTL:      defaultTTL,
		DefaultPriority: defaultPriority,
		Clock:           f.Clock,
		Logger:          f.Logger,
	})
}

// FromConfig selects the policy named in cfg.
func (f EvictionCacheFactory) FromConfig(backend types.Cache, cfg config.EvictionConfig, defaultTTL time.Duration) (*EvictingCache, error) {
	switch cfg.Policy {
	case "", "lru":
		return f.Standard(backend, cfg.MaxCapacity, defaultTTL)
	case "priority":
		return f.PriorityAware(backend, cfg.MaxCapacity, defaultTTL, 0)
	}
	return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown eviction policy %q", cfg.Policy)
}

// CompressionCacheFactory builds compression wrappers.
type CompressionCacheFactory struct {
	Clock  types.Clock
	Logger *slog.Logger
}

func (f CompressionCacheFactory) build(backend types.Cache, algorithm Algorithm, threshold, level int) (*CompressingCache, error) {
	compressor, err := NewCompressor(&CompressorConfig{
		Algorithm:      algorithm,
		ThresholdBytes: threshold,
		Level:          level,
		Clock:          f.Clock,
		Logger:         f.Logger,
	})
	if err != nil {
		return nil, err
	}
	return NewCompressingCache(backend, compressor, f.Logger)
}

// Standard builds a gzip wrapper.
func (f CompressionCacheFactory) Standard(backend types.Cache, threshold, level int) (*CompressingCache, error) {
	return f.build(backend, AlgorithmGzip, threshold, level)
}

// Zstd builds a zstd wrapper.
func (f CompressionCacheFactory) Zstd(backend types.Cache, threshold, level int) (*CompressingCache, error) {
	return f.build(backend, AlgorithmZstd, threshold, level)
}

// Brotli builds a brotli wrapper.
func (f CompressionCacheFactory) Brotli(backend types.Cache, threshold, level int) (*CompressingCache, error) {
	return f.build(backend, AlgorithmBrotli, threshold, level)
}

// FromConfig selects the algorithm named in cfg.
func (f CompressionCacheFactory) FromConfig(backend types.Cache, cfg config.CompressionConfig) (*CompressingCache, error) {
	return f.build(backend, Algorithm(cfg.Algorithm), cfg.ThresholdBytes, cfg.Level)
}

// CacheCircuitBreakerFactory builds resilience wrappers.
type CacheCircuitBreakerFactory struct {
	Clock  types.Clock
	Logger *slog.Logger
}

// Standard uses the given thresholds directly.
func (f CacheCircuitBreakerFactory) Standard(backend types.Cache, name string, cfg config.CircuitBreakerConfig) (*circuit.BreakerCache, error) {
	return circuit.New(backend, circuit.Config{
		Name:                name,
		FailureThreshold:    cfg.FailureThreshold,
		MonitoringWindow:    cfg.MonitoringWindow,
		RecoveryTimeout:     cfg.RecoveryTimeout,
		SuccessThreshold:    cfg.SuccessThreshold,
		MaxHalfOpenRequests: cfg.MaxHalfOpenRequests,
		Clock:               f.Clock,
		Logger:              f.Logger,
	})
}

// Resilient trips later and recovers faster than Standard, for backends
// with known transient noise.
func (f CacheCircuitBreakerFactory) Resilient(backend types.Cache, name string) (*circuit.BreakerCache, error) {
	return circuit.New(backend, circuit.Config{
		Name:                name,
		FailureThreshold:    10,
		MonitoringWindow:    30 * time.Second,
		RecoveryTimeout:     10 * time.Second,
		SuccessThreshold:    2,
		MaxHalfOpenRequests: 3,
		Clock:               f.Clock,
		Logger:              f.Logger,
	})
}

// MetricsCacheFactory builds instrumentation wrappers.
type MetricsCacheFactory struct {
	Clock types.Clock
}

// Standard keeps in-process counters and latency summaries only.
func (f MetricsCacheFactory) Standard(backend types.Cache, bufferSize int) (*metrics.InstrumentedCache, error) {
	return metrics.NewInstrumentedCache(backend, &metrics.Config{
		LatencyBufferSize: bufferSize,
		Clock:             f.Clock,
	})
}

// WithPrometheus additionally publishes to a dedicated registry.
func (f MetricsCacheFactory) WithPrometheus(backend types.Cache, bufferSize int, namespace string) (*metrics.InstrumentedCache, *metrics.Exporter, error) {
	exporter, err := metrics.NewExporter(&metrics.ExporterConfig{Namespace: namespace})
	if err != nil {
		return nil, nil, err
	}
	instrumented, err := metrics.NewInstrumentedCache(backend, &metrics.Config{
		LatencyBufferSize: bufferSize,
		Clock:             f.Clock,
		Exporter:          exporter,
	})
	if err != nil {
		return nil, nil, err
	}
	return instrumented, exporter, nil
}

// WarmingCacheFactory builds warming wrappers.
type WarmingCacheFactory struct {
	Clock  types.Clock
	Logger *slog.Logger
}

// Standard warms sequentially.
func (f WarmingCacheFactory) Standard(backend types.Cache, cfg config.WarmingConfig) *WarmingCache {
	strategy := NewSequentialStrategy(f.Clock, f.Logger, cfg.ItemTimeout, retry.Config{MaxAttempts: cfg.MaxRetries + 1})
	return NewWarmingCache(backend, strategy, f.Clock, f.Logger)
}

// Parallel warms with a bounded worker pool.
func (f WarmingCacheFactory) Parallel(backend types.Cache, cfg config.WarmingConfig) (*WarmingCache, error) {
	strategy, err := NewParallelStrategy(cfg.Concurrency, f.Clock, f.Logger, cfg.ItemTimeout, retry.Config{MaxAttempts: cfg.MaxRetries + 1})
	if err != nil {
		return nil, err
	}
	return NewWarmingCache(backend, strategy, f.Clock, f.Logger), nil
}

// Tiered warms tier by tier with per-tier limits.
func (f WarmingCacheFactory) Tiered(backend types.Cache, cfg config.WarmingConfig) (*WarmingCache, error) {
	limits := make(map[Tier]int, len(cfg.TierLimits))
	for name, limit := range cfg.TierLimits {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, err
		}
		limits[tier] = limit
	}
	strategy, err := NewTieredStrategy(limits, f.Clock, f.Logger, cfg.ItemTimeout, retry.Config{MaxAttempts: cfg.MaxRetries + 1})
	if err != nil {
		return nil, err
	}
	return NewWarmingCache(backend, strategy, f.Clock, f.Logger), nil
}

// BuildChain assembles the standard wrapper stack over backend:
// metrics over circuit breaker over eviction over compression. Each layer
// satisfies the same contract, so callers see a single cache.
func BuildChain(cfg *config.Configuration, backend types.Cache, clock types.Clock, logger *slog.Logger) (types.Cache, error) {
	if backend == nil {
		store, err := NewMemoryStore(&MemoryStoreConfig{
			Shards:     cfg.Memory.Shards,
			DefaultTTL: cfg.Memory.DefaultTTL,
			Clock:      clock,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		backend = store
	}

	compressed, err := CompressionCacheFactory{Clock: clock, Logger: logger}.FromConfig(backend, cfg.Compression)
	if err != nil {
		return nil, err
	}
	evicting, err := EvictionCacheFactory{Clock: clock, Logger: logger}.FromConfig(compressed, cfg.Eviction, cfg.Memory.DefaultTTL)
	if err != nil {
		return nil, err
	}
	guarded, err := CacheCircuitBreakerFactory{Clock: clock, Logger: logger}.Standard(evicting, "cache", cfg.CircuitBreaker)
	if err != nil {
		return nil, err
	}

	factory := MetricsCacheFactory{Clock: clock}
	if cfg.Metrics.Prometheus {
		instrumented, _, err := factory.WithPrometheus(guarded, cfg.Metrics.LatencyBufferSize, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		return instrumented, nil
	}
	return factory.Standard(guarded, cfg.Metrics.LatencyBufferSize)
}
