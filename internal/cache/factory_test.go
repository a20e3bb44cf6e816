package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackforge/trackforge/internal/config"
	"github.com/trackforge/trackforge/pkg/types"
)

func TestEvictionCacheFactory_FromConfig(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	factory := EvictionCacheFactory{Clock: clock}
	store := newTestStore(t, clock, 0)

	lru, err := factory.FromConfig(store, config.EvictionConfig{Policy: "lru", MaxCapacity: 10}, 0)
	require.NoError(t, err)
	assert.Equal(t, "lru", lru.policy.Name())

	prio, err := factory.FromConfig(store, config.EvictionConfig{Policy: "priority", MaxCapacity: 10}, 0)
	require.NoError(t, err)
	assert.Equal(t, "priority", prio.policy.Name())

	_, err = factory.FromConfig(store, config.EvictionConfig{Policy: "fifo", MaxCapacity: 10}, 0)
	assert.Error(t, err)
}

func TestCompressionCacheFactory_Variants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	factory := CompressionCacheFactory{Clock: clock}
	payload := strings.Repeat("compressible payload ", 40)

	builders := map[string]func(types.Cache, int, int) (*CompressingCache, error){
		"gzip":   factory.Standard,
		"zstd":   factory.Zstd,
		"brotli": factory.Brotli,
	}

	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			store := newTestStore(t, clock, 0)
			wrapper, err := build(store, 64, 0)
			require.NoError(t, err)

			require.NoError(t, wrapper.Set(ctx, "k", types.StringValue(payload), 0))
			value, ok, err := wrapper.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			text, _ := value.Text()
			assert.Equal(t, payload, text)
		})
	}
}

func TestBuildChain_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := config.NewDefault()
	cfg.Metrics.Prometheus = false

	chain, err := BuildChain(cfg, nil, newFakeClock(), nil)
	require.NoError(t, err)

	long := strings.Repeat("chained value ", 100)
	require.NoError(t, chain.Set(ctx, "album:test", types.StringValue(long), 0))

	value, ok, err := chain.Get(ctx, "album:test")
	require.NoError(t, err)
	require.True(t, ok)
	text, _ := value.Text()
	assert.Equal(t, long, text)

	// Every layer contributes its sub-map to the merged stats.
	stats := chain.Stats()
	for _, section := range []string{"metrics", "circuit_breaker", "eviction", "compression", "memory"} {
		assert.Contains(t, stats, section, "missing %s section", section)
	}
}

func TestBuildChain_WithPrometheus(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefault()
	cfg.Metrics.Prometheus = true

	chain, err := BuildChain(cfg, nil, newFakeClock(), nil)
	require.NoError(t, err)
	require.NoError(t, chain.Set(context.Background(), "k", types.StringValue("v"), 0))
}

func TestWarmingCacheFactory_TierLimits(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	factory := WarmingCacheFactory{Clock: clock}
	store := newTestStore(t, clock, 0)

	_, err := factory.Tiered(store, config.WarmingConfig{
		TierLimits: map[string]int{"critical": 2, "low": 8},
	})
	require.NoError(t, err)

	_, err = factory.Tiered(store, config.WarmingConfig{
		TierLimits: map[string]int{"urgent": 2},
	})
	assert.Error(t, err, "unknown tier names are configuration errors")
}
