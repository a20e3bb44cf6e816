package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackforge/trackforge/pkg/errors"
)

func TestNewDefaultValidates(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "lru", cfg.Eviction.Policy)
	assert.Equal(t, "gzip", cfg.Compression.Algorithm)
	assert.NotEmpty(t, cfg.Hierarchy.RelationRules)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
		code   errors.ErrorCode
	}{
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }, errors.ErrCodeInvalidConfig},
		{"zero shards", func(c *Configuration) { c.Memory.Shards = 0 }, errors.ErrCodeInvalidConfig},
		{"zero capacity", func(c *Configuration) { c.Eviction.MaxCapacity = 0 }, errors.ErrCodeInvalidCapacity},
		{"unknown policy", func(c *Configuration) { c.Eviction.Policy = "fifo" }, errors.ErrCodeInvalidConfig},
		{"unknown algorithm", func(c *Configuration) { c.Compression.Algorithm = "lzma" }, errors.ErrCodeUnsupportedAlgorithm},
		{"zero failure threshold", func(c *Configuration) { c.CircuitBreaker.FailureThreshold = 0 }, errors.ErrCodeInvalidConfig},
		{"zero probe budget", func(c *Configuration) { c.CircuitBreaker.MaxHalfOpenRequests = 0 }, errors.ErrCodeInvalidConcurrency},
		{"zero warming concurrency", func(c *Configuration) { c.Warming.Concurrency = 0 }, errors.ErrCodeInvalidConcurrency},
		{"bad tier limit", func(c *Configuration) { c.Warming.TierLimits["low"] = -1 }, errors.ErrCodeInvalidConcurrency},
		{"zero latency buffer", func(c *Configuration) { c.Metrics.LatencyBufferSize = 0 }, errors.ErrCodeInvalidCapacity},
		{"zero l1 ttl", func(c *Configuration) { c.Hierarchy.L1TTL = 0 }, errors.ErrCodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.New(tt.code, ""))
		})
	}
}

func TestLoadFromFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := NewDefault()
	cfg.Memory.MaxEntries = 777
	cfg.Compression.Algorithm = "zstd"
	require.NoError(t, cfg.SaveToFile(path))

	loaded := NewDefault()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, 777, loaded.Memory.MaxEntries)
	assert.Equal(t, "zstd", loaded.Compression.Algorithm)
	require.NoError(t, loaded.Validate())
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.New(errors.ErrCodeConfigLoad, ""))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRACKFORGE_LOG_LEVEL", "DEBUG")
	t.Setenv("TRACKFORGE_MEMORY_MAX_ENTRIES", "123")
	t.Setenv("TRACKFORGE_CACHE_TTL", "90s")
	t.Setenv("TRACKFORGE_COMPRESSION_ALGORITHM", "brotli")

	cfg := NewDefault()
	cfg.LoadFromEnv()
	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	assert.Equal(t, 123, cfg.Memory.MaxEntries)
	assert.Equal(t, 90*time.Second, cfg.Memory.DefaultTTL)
	assert.Equal(t, "brotli", cfg.Compression.Algorithm)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("TRACKFORGE_MEMORY_MAX_ENTRIES", "not-a-number")
	cfg := NewDefault()
	before := cfg.Memory.MaxEntries
	cfg.LoadFromEnv()
	assert.Equal(t, before, cfg.Memory.MaxEntries)
	_ = os.Unsetenv("TRACKFORGE_MEMORY_MAX_ENTRIES")
}
