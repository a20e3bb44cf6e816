// Package config loads and validates the trackforge cache engine
// configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/trackforge/trackforge/pkg/errors"
)

// Configuration is the complete cache engine configuration.
type Configuration struct {
	Global         GlobalConfig         `yaml:"global"`
	Memory         MemoryConfig         `yaml:"memory"`
	Eviction       EvictionConfig       `yaml:"eviction"`
	Compression    CompressionConfig    `yaml:"compression"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Warming        WarmingConfig        `yaml:"warming"`
	Hierarchy      HierarchyConfig      `yaml:"hierarchy"`
	Snapshots      SnapshotConfig       `yaml:"snapshots"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// MemoryConfig configures the sharded in-memory store.
type MemoryConfig struct {
	Shards     int           `yaml:"shards"`
	MaxEntries int           `yaml:"max_entries"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// EvictionConfig configures the eviction wrapper.
type EvictionConfig struct {
	Policy      string `yaml:"policy"` // "lru" or "priority"
	MaxCapacity int    `yaml:"max_capacity"`
}

// CompressionConfig configures the compression wrapper.
type CompressionConfig struct {
	Algorithm      string `yaml:"algorithm"` // gzip, zstd, brotli
	ThresholdBytes int    `yaml:"threshold_bytes"`
	Level          int    `yaml:"level"`
}

// CircuitBreakerConfig configures the resilience wrapper.
type CircuitBreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	MonitoringWindow    time.Duration `yaml:"monitoring_window"`
	RecoveryTimeout     time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold    int           `yaml:"success_threshold"`
	MaxHalfOpenRequests int           `yaml:"max_half_open_requests"`
}

// MetricsConfig configures instrumentation.
type MetricsConfig struct {
	LatencyBufferSize int    `yaml:"latency_buffer_size"`
	Prometheus        bool   `yaml:"prometheus"`
	Namespace         string `yaml:"namespace"`
}

// WarmingConfig configures the warming subsystem.
type WarmingConfig struct {
	Concurrency  int            `yaml:"concurrency"`
	ItemTimeout  time.Duration  `yaml:"item_timeout"`
	MaxRetries   int            `yaml:"max_retries"`
	TierLimits   map[string]int `yaml:"tier_limits"`
	ShutdownWait time.Duration  `yaml:"shutdown_wait"`
}

// HierarchyConfig configures the hierarchical coordinator.
type HierarchyConfig struct {
	L1MaxEntries  int                 `yaml:"l1_max_entries"`
	L1TTL         time.Duration       `yaml:"l1_ttl"`
	L2MaxEntries  int                 `yaml:"l2_max_entries"`
	L2TTL         time.Duration       `yaml:"l2_ttl"`
	RoutePrefixes []string            `yaml:"route_prefixes"`
	RelationRules map[string][]string `yaml:"relation_rules"`
}

// SnapshotConfig configures the persistent domain tiers.
type SnapshotConfig struct {
	Directory     string        `yaml:"directory"`
	AlbumYearFile string        `yaml:"album_year_file"`
	APIResultFile string        `yaml:"api_result_file"`
	SyncInterval  time.Duration `yaml:"sync_interval"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
		},
		Memory: MemoryConfig{
			Shards:     16,
			MaxEntries: 10000,
			DefaultTTL: 30 * time.Minute,
		},
		Eviction: EvictionConfig{
			Policy:      "lru",
			MaxCapacity: 5000,
		},
		Compression: CompressionConfig{
			Algorithm:      "gzip",
			ThresholdBytes: 1024,
			Level:          6,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:    5,
			MonitoringWindow:    60 * time.Second,
			RecoveryTimeout:     30 * time.Second,
			SuccessThreshold:    3,
			MaxHalfOpenRequests: 2,
		},
		Metrics: MetricsConfig{
			LatencyBufferSize: 1000,
			Prometheus:        true,
			Namespace:         "trackforge",
		},
		Warming: WarmingConfig{
			Concurrency: 8,
			ItemTimeout: 15 * time.Second,
			MaxRetries:  2,
			TierLimits: map[string]int{
				"critical": 2,
				"high":     4,
				"medium":   8,
				"low":      16,
			},
			ShutdownWait: 5 * time.Second,
		},
		Hierarchy: HierarchyConfig{
			L1MaxEntries:  1000,
			L1TTL:         5 * time.Minute,
			L2MaxEntries:  20000,
			L2TTL:         24 * time.Hour,
			RoutePrefixes: []string{"album:", "api:", "pending:"},
			RelationRules: map[string][]string{
				"album:": {"api:"},
				"api:":   {"pending:"},
			},
		},
		Snapshots: SnapshotConfig{
			Directory:     "/var/cache/trackforge",
			AlbumYearFile: "album-years.csv",
			APIResultFile: "api-results.json",
			SyncInterval:  time.Minute,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Newf(errors.ErrCodeConfigLoad, "failed to read config file %s", filename).WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Newf(errors.ErrCodeConfigLoad, "failed to parse config file %s", filename).WithCause(err)
	}

	return nil
}

// LoadFromEnv overlays settings from TRACKFORGE_* environment variables.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("TRACKFORGE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("TRACKFORGE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("TRACKFORGE_CACHE_DIR"); val != "" {
		c.Snapshots.Directory = val
	}
	if val := os.Getenv("TRACKFORGE_MEMORY_MAX_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Memory.MaxEntries = n
		}
	}
	if val := os.Getenv("TRACKFORGE_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Memory.DefaultTTL = d
		}
	}
	if val := os.Getenv("TRACKFORGE_WARMING_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Warming.Concurrency = n
		}
	}
	if val := os.Getenv("TRACKFORGE_COMPRESSION_ALGORITHM"); val != "" {
		c.Compression.Algorithm = val
	}
}

// SaveToFile writes the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.New(errors.ErrCodeConfigLoad, "failed to marshal config").WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.New(errors.ErrCodeConfigLoad, "failed to create config directory").WithCause(err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.New(errors.ErrCodeConfigLoad, "failed to write config file").WithCause(err)
	}

	return nil
}

// Validate checks the configuration eagerly so capacity, concurrency, and
// algorithm mistakes surface at startup, not mid-operation.
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, c.Global.LogLevel) {
		return errors.Newf(errors.ErrCodeInvalidConfig, "invalid log_level %q (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Memory.Shards <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "memory.shards must be greater than 0")
	}
	if c.Memory.MaxEntries <= 0 {
		return errors.New(errors.ErrCodeInvalidCapacity, "memory.max_entries must be greater than 0")
	}

	if c.Eviction.MaxCapacity <= 0 {
		return errors.New(errors.ErrCodeInvalidCapacity, "eviction.max_capacity must be greater than 0")
	}
	if c.Eviction.Policy != "lru" && c.Eviction.Policy != "priority" {
		return errors.Newf(errors.ErrCodeInvalidConfig, "unknown eviction policy %q", c.Eviction.Policy)
	}

	switch c.Compression.Algorithm {
	case "gzip", "zstd", "brotli":
	default:
		return errors.Newf(errors.ErrCodeUnsupportedAlgorithm, "unsupported compression algorithm %q", c.Compression.Algorithm)
	}
	if c.Compression.ThresholdBytes < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "compression.threshold_bytes must not be negative")
	}

	if c.CircuitBreaker.FailureThreshold <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "circuit_breaker.failure_threshold must be greater than 0")
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "circuit_breaker.success_threshold must be greater than 0")
	}
	if c.CircuitBreaker.MaxHalfOpenRequests <= 0 {
		return errors.New(errors.ErrCodeInvalidConcurrency, "circuit_breaker.max_half_open_requests must be greater than 0")
	}

	if c.Warming.Concurrency <= 0 {
		return errors.New(errors.ErrCodeInvalidConcurrency, "warming.concurrency must be greater than 0")
	}
	for tier, limit := range c.Warming.TierLimits {
		if limit <= 0 {
			return errors.Newf(errors.ErrCodeInvalidConcurrency, "warming.tier_limits[%s] must be greater than 0", tier)
		}
	}

	if c.Hierarchy.L1MaxEntries <= 0 || c.Hierarchy.L2MaxEntries <= 0 {
		return errors.New(errors.ErrCodeInvalidCapacity, "hierarchy level capacities must be greater than 0")
	}
	if c.Hierarchy.L1TTL <= 0 || c.Hierarchy.L2TTL <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "hierarchy level TTLs must be greater than 0")
	}

	if c.Metrics.LatencyBufferSize <= 0 {
		return errors.New(errors.ErrCodeInvalidCapacity, "metrics.latency_buffer_size must be greater than 0")
	}

	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// String renders a redacted summary for startup logging.
func (c *Configuration) String() string {
	return fmt.Sprintf("Configuration{log_level=%s, memory_entries=%d, eviction=%s/%d, compression=%s, warming_concurrency=%d}",
		c.Global.LogLevel, c.Memory.MaxEntries, c.Eviction.Policy, c.Eviction.MaxCapacity,
		c.Compression.Algorithm, c.Warming.Concurrency)
}
