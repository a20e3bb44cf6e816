package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/retry"
	"github.com/trackforge/trackforge/pkg/types"
)

func constProducer(v string) func(context.Context) (types.Value, error) {
	return func(context.Context) (types.Value, error) {
		return types.StringValue(v), nil
	}
}

func failingProducer(err error) func(context.Context) (types.Value, error) {
	return func(context.Context) (types.Value, error) {
		return types.Value{}, err
	}
}

// fastRetry keeps test backoffs negligible.
func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestParseTier(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		in   string
		want Tier
	}{
		{"critical", TierCritical},
		{"high", TierHigh},
		{"medium", TierMedium},
		{"low", TierLow},
	} {
		tier, err := ParseTier(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, tier)
		assert.Equal(t, tt.in, tier.String())
	}

	_, err := ParseTier("urgent")
	assert.Error(t, err)
}

func TestSequentialStrategy_WarmsEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())

	items := []WarmingItem{
		{Key: "a", Produce: constProducer("1")},
		{Key: "b", Produce: constProducer("2")},
		{Key: "c", Produce: constProducer("3")},
	}

	progress, err := strategy.Warm(ctx, store, items, nil)
	require.NoError(t, err)

	snap := progress.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Completed)
	assert.Equal(t, 0, snap.Failed)
	assert.True(t, snap.Done())
	assert.False(t, snap.Finished.IsZero())

	for _, key := range []string{"a", "b", "c"} {
		_, ok, _ := store.Get(ctx, key)
		assert.True(t, ok, "key %q should be warmed", key)
	}
}

func TestSequentialStrategy_IsolatesItemFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())

	items := []WarmingItem{
		{Key: "good", Produce: constProducer("1")},
		{Key: "bad", Produce: failingProducer(errors.New(errors.ErrCodeInternalError, "boom"))},
		{Key: "also-good", Produce: constProducer("2")},
	}

	progress, err := strategy.Warm(ctx, store, items, nil)
	require.NoError(t, err, "item failures never abort the run")

	snap := progress.Snapshot()
	assert.Equal(t, 2, snap.Completed)
	assert.Equal(t, 1, snap.Failed)

	_, ok, _ := store.Get(ctx, "also-good")
	assert.True(t, ok, "items after a failure still run")
}

func TestSequentialStrategy_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second,
		retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})

	var calls atomic.Int32
	items := []WarmingItem{{
		Key: "flaky",
		Produce: func(context.Context) (types.Value, error) {
			if calls.Add(1) < 3 {
				return types.Value{}, errors.New(errors.ErrCodeConnectionFailed, "transient")
			}
			return types.StringValue("ok"), nil
		},
	}}

	progress, err := strategy.Warm(ctx, store, items, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Snapshot().Completed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWarming_DependenciesRunFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())

	var order []string
	var mu sync.Mutex
	track := func(key, v string) func(context.Context) (types.Value, error) {
		return func(context.Context) (types.Value, error) {
			mu.Lock()
			order = append(order, key)
			mu.Unlock()
			return types.StringValue(v), nil
		}
	}

	items := []WarmingItem{
		{Key: "api:search", Produce: track("api:search", "x"), Dependencies: []string{"album:year"}},
		{Key: "album:year", Produce: track("album:year", "1997")},
		{Key: "pending:write", Produce: track("pending:write", "y"), Dependencies: []string{"api:search"}},
	}

	progress, err := strategy.Warm(ctx, store, items, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.Snapshot().Completed)
	assert.Equal(t, []string{"album:year", "api:search", "pending:write"}, order)
}

func TestWarming_CycleIsConfigurationError(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())

	items := []WarmingItem{
		{Key: "a", Produce: constProducer("1"), Dependencies: []string{"b"}},
		{Key: "b", Produce: constProducer("2"), Dependencies: []string{"a"}},
	}

	_, err := strategy.Warm(context.Background(), store, items, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.New(errors.ErrCodeDependencyCycle, ""))
}

func TestWarming_FailedDependencySkipsDependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())

	var dependentRan atomic.Bool
	items := []WarmingItem{
		{Key: "parent", Produce: failingProducer(errors.New(errors.ErrCodeInternalError, "boom"))},
		{Key: "child", Dependencies: []string{"parent"}, Produce: func(context.Context) (types.Value, error) {
			dependentRan.Store(true)
			return types.StringValue("x"), nil
		}},
	}

	progress, err := strategy.Warm(ctx, store, items, nil)
	require.NoError(t, err)

	snap := progress.Snapshot()
	assert.Equal(t, 2, snap.Failed, "the dependent fails with its dependency")
	assert.False(t, dependentRan.Load(), "the dependent's producer must not run")
}

func TestWarming_UnknownDependencyIsSatisfied(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())

	// A dependency outside the item set is assumed already cached.
	items := []WarmingItem{
		{Key: "k", Produce: constProducer("v"), Dependencies: []string{"external:thing"}},
	}

	progress, err := strategy.Warm(context.Background(), store, items, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Snapshot().Completed)
}

func TestParallelStrategy_RespectsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy, err := NewParallelStrategy(2, clock, nil, time.Second, fastRetry())
	require.NoError(t, err)

	var inFlight, peak atomic.Int32
	items := make([]WarmingItem, 8)
	for i := range items {
		items[i] = WarmingItem{
			Key: HashKey("parallel", i),
			Produce: func(context.Context) (types.Value, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return types.StringValue("v"), nil
			},
		}
	}

	progress, err := strategy.Warm(ctx, store, items, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, progress.Snapshot().Completed)
	assert.LessOrEqual(t, peak.Load(), int32(2), "concurrency must not exceed the limit")
}

func TestNewParallelStrategy_RejectsBadLimit(t *testing.T) {
	t.Parallel()

	_, err := NewParallelStrategy(0, nil, nil, 0, retry.Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.New(errors.ErrCodeInvalidConcurrency, ""))
}

func TestTieredStrategy_DrainsHighTiersFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy, err := NewTieredStrategy(map[Tier]int{TierCritical: 1, TierLow: 1}, clock, nil, time.Second, fastRetry())
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	track := func(key string) func(context.Context) (types.Value, error) {
		return func(context.Context) (types.Value, error) {
			mu.Lock()
			order = append(order, key)
			mu.Unlock()
			return types.StringValue("v"), nil
		}
	}

	items := []WarmingItem{
		{Key: "low-1", Tier: TierLow, Produce: track("low-1")},
		{Key: "crit-1", Tier: TierCritical, Produce: track("crit-1")},
		{Key: "low-2", Tier: TierLow, Produce: track("low-2")},
		{Key: "crit-2", Tier: TierCritical, Produce: track("crit-2")},
	}

	progress, err := strategy.Warm(ctx, store, items, nil)
	require.NoError(t, err)
	require.Equal(t, 4, progress.Snapshot().Completed)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"crit-1", "crit-2"}, order[:2], "critical items drain before low items start")
}

func TestNewTieredStrategy_RejectsBadLimit(t *testing.T) {
	t.Parallel()

	_, err := NewTieredStrategy(map[Tier]int{TierHigh: -1}, nil, nil, 0, retry.Config{})
	assert.Error(t, err)
}

func TestSequentialStrategy_CancellationCountsRemaining(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())

	ctx, cancel := context.WithCancel(context.Background())

	items := []WarmingItem{
		{Key: "first", Produce: func(context.Context) (types.Value, error) {
			cancel()
			return types.StringValue("v"), nil
		}},
		{Key: "second", Produce: constProducer("v")},
		{Key: "third", Produce: constProducer("v")},
	}

	progress, err := strategy.Warm(ctx, store, items, nil)
	require.NoError(t, err)

	snap := progress.Snapshot()
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 2, snap.Cancelled)
	assert.True(t, snap.Done())
}

func TestProgress_CallbackSeesUpdates(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())

	var updates atomic.Int32
	items := []WarmingItem{
		{Key: "a", Produce: constProducer("1")},
		{Key: "b", Produce: constProducer("2")},
	}

	_, err := strategy.Warm(context.Background(), store, items, func(ProgressSnapshot) {
		updates.Add(1)
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, updates.Load(), int32(4), "setCurrent and completion both report")
}

func TestWarmingCache_PassThroughAndStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())
	warming := NewWarmingCache(store, strategy, clock, nil)

	require.NoError(t, warming.Set(ctx, "k", types.StringValue("v"), 0))
	_, ok, err := warming.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := warming.Warm(ctx, []WarmingItem{{Key: "w", Produce: constProducer("1")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Completed)

	sub, ok := warming.Stats()["warming"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(1), sub["runs"])
	assert.Equal(t, 1, sub["last_completed"])
}

func TestWarmingCache_BackgroundTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Second, fastRetry())
	warming := NewWarmingCache(store, strategy, clock, nil)

	task := warming.WarmInBackground(ctx, []WarmingItem{
		{Key: "a", Produce: constProducer("1")},
		{Key: "b", Produce: constProducer("2")},
	})
	require.NotEmpty(t, task.ID())

	snap, err := task.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Completed)

	_, ok, _ := store.Get(ctx, "a")
	assert.True(t, ok)
}

func TestWarmingTask_Cancel(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := newTestStore(t, clock, 0)
	strategy := NewSequentialStrategy(clock, nil, time.Minute, fastRetry())
	warming := NewWarmingCache(store, strategy, clock, nil)

	release := make(chan struct{})
	task := warming.WarmInBackground(context.Background(), []WarmingItem{
		{Key: "slow", Produce: func(ctx context.Context) (types.Value, error) {
			select {
			case <-release:
				return types.StringValue("v"), nil
			case <-ctx.Done():
				return types.Value{}, ctx.Err()
			}
		}},
		{Key: "never", Produce: constProducer("v")},
	})

	stopped := task.Cancel(time.Second)
	assert.True(t, stopped, "cancelled run should settle within the wait budget")
	close(release)
}
