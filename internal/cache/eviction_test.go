package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackforge/trackforge/pkg/types"
)

func newTestEvicting(t *testing.T, clock types.Clock, policy EvictionPolicy, defaultTTL time.Duration) (*EvictingCache, *MemoryStore) {
	t.Helper()
	store := newTestStore(t, clock, 0)
	evicting, err := NewEvictingCache(store, &EvictingCacheConfig{
		Policy:     policy,
		DefaultTTL: defaultTTL,
		Clock:      clock,
	})
	require.NoError(t, err)
	return evicting, store
}

func TestNewLRUPolicy_RejectsBadCapacity(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{0, -1} {
		_, err := NewLRUPolicy(capacity)
		assert.Error(t, err, "capacity %d", capacity)
	}
	_, err := NewPriorityPolicy(0)
	assert.Error(t, err)
}

func TestEvictingCache_CapacityInvariant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	policy, err := NewLRUPolicy(5)
	require.NoError(t, err)
	evicting, _ := newTestEvicting(t, clock, policy, 0)

	// The tracked count never exceeds capacity, checked after every write.
	for i := 0; i < 20; i++ {
		require.NoError(t, evicting.Set(ctx, fmt.Sprintf("key-%d", i), types.StringValue("v"), 0))
		assert.LessOrEqual(t, evicting.TrackedLen(), 5)
		clock.Advance(time.Millisecond)
	}
	assert.Equal(t, 5, evicting.TrackedLen())
}

func TestEvictingCache_LRUEvictsLeastRecentlyAccessed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	policy, err := NewLRUPolicy(3)
	require.NoError(t, err)
	evicting, store := newTestEvicting(t, clock, policy, 0)

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, evicting.Set(ctx, key, types.StringValue(key), 0))
		clock.Advance(time.Second)
	}

	// Touch "a" so "b" becomes the coldest entry.
	_, ok, err := evicting.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	clock.Advance(time.Second)

	require.NoError(t, evicting.Set(ctx, "d", types.StringValue("d"), 0))

	_, ok, _ = evicting.Get(ctx, "b")
	assert.False(t, ok, "coldest entry should have been evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok, _ := evicting.Get(ctx, key)
		assert.True(t, ok, "key %q should survive", key)
	}

	// The backend copy goes with the metadata.
	_, ok, _ = store.Get(ctx, "b")
	assert.False(t, ok)
}

func TestEvictingCache_LRUTieBreakIsInsertionOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	policy, err := NewLRUPolicy(2)
	require.NoError(t, err)
	evicting, _ := newTestEvicting(t, clock, policy, 0)

	// Same access time for both; the earlier insertion loses.
	require.NoError(t, evicting.Set(ctx, "first", types.StringValue("1"), 0))
	require.NoError(t, evicting.Set(ctx, "second", types.StringValue("2"), 0))
	require.NoError(t, evicting.Set(ctx, "third", types.StringValue("3"), 0))

	_, ok, _ := evicting.Get(ctx, "first")
	assert.False(t, ok)
	_, ok, _ = evicting.Get(ctx, "second")
	assert.True(t, ok)
}

func TestEvictingCache_PriorityEvictsLowestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	policy, err := NewPriorityPolicy(3)
	require.NoError(t, err)
	evicting, _ := newTestEvicting(t, clock, policy, 0)

	require.NoError(t, evicting.SetWithPriority(ctx, "low", types.StringValue("1"), 0, 1))
	clock.Advance(time.Second)
	require.NoError(t, evicting.SetWithPriority(ctx, "high", types.StringValue("2"), 0, 10))
	clock.Advance(time.Second)
	require.NoError(t, evicting.SetWithPriority(ctx, "mid", types.StringValue("3"), 0, 5))
	clock.Advance(time.Second)

	require.NoError(t, evicting.SetWithPriority(ctx, "new", types.StringValue("4"), 0, 5))

	_, ok, _ := evicting.Get(ctx, "low")
	assert.False(t, ok, "lowest priority goes first even when recently written")
	for _, key := range []string{"high", "mid", "new"} {
		_, ok, _ := evicting.Get(ctx, key)
		assert.True(t, ok, "key %q should survive", key)
	}
}

func TestEvictingCache_TTLExpiryOnGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	policy, err := NewLRUPolicy(10)
	require.NoError(t, err)
	evicting, store := newTestEvicting(t, clock, policy, 0)

	require.NoError(t, evicting.Set(ctx, "k", types.StringValue("v"), time.Minute))
	clock.Advance(2 * time.Minute)

	_, ok, err := evicting.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, evicting.TrackedLen())

	_, ok, _ = store.Get(ctx, "k")
	assert.False(t, ok, "backend copy removed with the metadata")
}

func TestEvictingCache_ExpiredEntriesGoBeforeCapacityVictims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	policy, err := NewLRUPolicy(3)
	require.NoError(t, err)
	evicting, _ := newTestEvicting(t, clock, policy, 0)

	require.NoError(t, evicting.Set(ctx, "stale", types.StringValue("1"), time.Second))
	clock.Advance(time.Minute)
	require.NoError(t, evicting.Set(ctx, "b", types.StringValue("2"), 0))
	require.NoError(t, evicting.Set(ctx, "c", types.StringValue("3"), 0))
	require.NoError(t, evicting.Set(ctx, "d", types.StringValue("4"), 0))

	// The expired entry was collected, so no live entry needed to go.
	for _, key := range []string{"b", "c", "d"} {
		_, ok, _ := evicting.Get(ctx, key)
		assert.True(t, ok, "key %q should survive", key)
	}
}

func TestEvictingCache_Cleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	policy, err := NewLRUPolicy(10)
	require.NoError(t, err)
	evicting, _ := newTestEvicting(t, clock, policy, 0)

	require.NoError(t, evicting.Set(ctx, "short", types.StringValue("1"), time.Minute))
	require.NoError(t, evicting.Set(ctx, "long", types.StringValue("2"), time.Hour))

	clock.Advance(10 * time.Minute)
	removed, err := evicting.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, evicting.TrackedLen())
}

func TestEvictingCache_Invalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	policy, err := NewLRUPolicy(10)
	require.NoError(t, err)
	evicting, _ := newTestEvicting(t, clock, policy, 0)

	require.NoError(t, evicting.Set(ctx, "k", types.StringValue("v"), 0))
	removed, err := evicting.Invalidate(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, evicting.TrackedLen())
}

func TestEvictingCache_StatsIncludeEvictionReasons(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	policy, err := NewLRUPolicy(1)
	require.NoError(t, err)
	evicting, _ := newTestEvicting(t, clock, policy, 0)

	evicting.Set(ctx, "a", types.StringValue("1"), 0)
	clock.Advance(time.Second)
	evicting.Set(ctx, "b", types.StringValue("2"), 0)

	stats := evicting.Stats()
	sub, ok := stats["eviction"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "lru", sub["policy"])
	assert.Equal(t, 1, sub["capacity"])

	reasons, ok := sub["evictions_by_reason"].(map[string]uint64)
	require.True(t, ok)
	assert.Equal(t, uint64(1), reasons[string(ReasonOverCapacity)])

	// The backend's sub-map survives the merge.
	_, ok = stats["memory"]
	assert.True(t, ok)
}
