package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/retry"
	"github.com/trackforge/trackforge/pkg/types"
)

// Tier orders warming items by importance; higher tiers warm first.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
	TierCritical
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParseTier resolves a tier name from configuration.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "critical":
		return TierCritical, nil
	case "high":
		return TierHigh, nil
	case "medium":
		return TierMedium, nil
	case "low":
		return TierLow, nil
	}
	return TierLow, errors.Newf(errors.ErrCodeInvalidConfig, "unknown warming tier %q", s)
}

// WarmingItem is one lazily-produced entry to pre-populate.
type WarmingItem struct {
	Key     string
	Produce func(ctx context.Context) (types.Value, error)
	Tier    Tier
	TTL     time.Duration

	// MaxRetries is the number of extra producer attempts after the first.
	// Zero selects the strategy default.
	MaxRetries int

	// Timeout bounds one item end to end, including retries. Zero selects
	// the strategy default.
	Timeout time.Duration

	// Dependencies are keys that must have been warmed (successfully)
	// before this item's producer runs. A failed dependency fails the
	// dependent without invoking its producer.
	Dependencies []string
}

// ProgressSnapshot is an immutable view of a warming run.
type ProgressSnapshot struct {
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Cancelled  int       `json:"cancelled"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished,omitempty"`
	CurrentKey string    `json:"current_key,omitempty"`
}

// Done reports whether every item has been accounted for.
func (s ProgressSnapshot) Done() bool {
	return s.Completed+s.Failed+s.Cancelled >= s.Total
}

// Progress tracks a warming run incrementally. Once finished it no longer
// mutates.
type Progress struct {
	mu         sync.Mutex
	snapshot   ProgressSnapshot
	clock      types.Clock
	onProgress ProgressFunc
}

// ProgressFunc observes progress updates.
type ProgressFunc func(ProgressSnapshot)

func newProgress(total int, clock types.Clock, onProgress ProgressFunc) *Progress {
	return &Progress{
		snapshot:   ProgressSnapshot{Total: total, Started: clock.Now()},
		clock:      clock,
		onProgress: onProgress,
	}
}

func (p *Progress) update(mutate func(*ProgressSnapshot)) {
	p.mu.Lock()
	if !p.snapshot.Finished.IsZero() {
		p.mu.Unlock()
		return
	}
	mutate(&p.snapshot)
	if p.snapshot.Done() && p.snapshot.Finished.IsZero() {
		p.snapshot.Finished = p.clock.Now()
		p.snapshot.CurrentKey = ""
	}
	snap := p.snapshot
	cb := p.onProgress
	p.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

func (p *Progress) setCurrent(key string) {
	p.update(func(s *ProgressSnapshot) { s.CurrentKey = key })
}

func (p *Progress) markCompleted() {
	p.update(func(s *ProgressSnapshot) { s.Completed++ })
}

func (p *Progress) markFailed() {
	p.update(func(s *ProgressSnapshot) { s.Failed++ })
}

func (p *Progress) markCancelled(n int) {
	p.update(func(s *ProgressSnapshot) { s.Cancelled += n })
}

// Snapshot returns the current view.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// WarmingStrategy pre-populates a backend from a list of items.
type WarmingStrategy interface {
	Warm(ctx context.Context, backend types.Cache, items []WarmingItem, onProgress ProgressFunc) (*Progress, error)
}

// warmRunner holds the pieces every strategy shares.
type warmRunner struct {
	clock          types.Clock
	logger         *slog.Logger
	defaultTimeout time.Duration
	retryConfig    retry.Config
}

func newWarmRunner(clock types.Clock, logger *slog.Logger, defaultTimeout time.Duration, retryConfig retry.Config) warmRunner {
	if clock == nil {
		clock = types.SystemClock
	}
	if logger == nil {
		logger = slog.Default().With("component", "warming")
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 15 * time.Second
	}
	if retryConfig.MaxAttempts == 0 {
		retryConfig = retry.DefaultConfig()
	}
	return warmRunner{clock: clock, logger: logger, defaultTimeout: defaultTimeout, retryConfig: retryConfig}
}

// completionSet tracks which keys succeeded or failed during a run.
type completionSet struct {
	mu     sync.Mutex
	failed map[string]bool
}

func newCompletionSet() *completionSet {
	return &completionSet{failed: make(map[string]bool)}
}

func (c *completionSet) markFailed(key string) {
	c.mu.Lock()
	c.failed[key] = true
	c.mu.Unlock()
}

func (c *completionSet) failedDependency(deps []string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dep := range deps {
		if c.failed[dep] {
			return dep, true
		}
	}
	return "", false
}

// runItem produces one value under the item's timeout and retry budget and
// stores it. A single item's failure never aborts the run.
func (r warmRunner) runItem(ctx context.Context, backend types.Cache, item WarmingItem, progress *Progress, done *completionSet) {
	progress.setCurrent(item.Key)

	if dep, failed := done.failedDependency(item.Dependencies); failed {
		r.logger.Warn("skipping item with failed dependency", "key", item.Key, "dependency", dep)
		done.markFailed(item.Key)
		progress.markFailed()
		return
	}

	timeout := item.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := r.retryConfig
	if item.MaxRetries > 0 {
		cfg.MaxAttempts = item.MaxRetries + 1
	}

	var value types.Value
	err := retry.New(cfg).Do(itemCtx, func(ctx context.Context) error {
		v, err := item.Produce(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err == nil {
		err = backend.Set(itemCtx, item.Key, value, item.TTL)
	}

	if err != nil {
		r.logger.Warn("warming item failed", "key", item.Key, "error", err)
		done.markFailed(item.Key)
		progress.markFailed()
		return
	}
	progress.markCompleted()
}

// resolveBatches orders items dependency-first using Kahn's algorithm and
// returns them as ready batches; items inside a batch are sorted by tier,
// most important first. Dependencies on keys outside the item set are
// treated as already satisfied. A cycle is a configuration error.
func resolveBatches(items []WarmingItem) ([][]WarmingItem, error) {
	byKey := make(map[string]int, len(items))
	for i, item := range items {
		byKey[item.Key] = i
	}

	indegree := make([]int, len(items))
	dependents := make(map[int][]int)
	for i, item := range items {
		for _, dep := range item.Dependencies {
			if j, ok := byKey[dep]; ok && j != i {
				indegree[i]++
				dependents[j] = append(dependents[j], i)
			}
		}
	}

	ready := make([]int, 0, len(items))
	for i, deg := range indegree {
		if deg == 0 {
			ready = append(ready, i)
		}
	}

	var batches [][]WarmingItem
	scheduled := 0
	for len(ready) > 0 {
		batch := make([]WarmingItem, 0, len(ready))
		for _, i := range ready {
			batch = append(batch, items[i])
		}
		sort.SliceStable(batch, func(a, b int) bool { return batch[a].Tier > batch[b].Tier })
		batches = append(batches, batch)
		scheduled += len(batch)

		var next []int
		for _, i := range ready {
			for _, dep := range dependents[i] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Ints(next)
		ready = next
	}

	if scheduled != len(items) {
		return nil, errors.Newf(errors.ErrCodeDependencyCycle,
			"warming items contain a dependency cycle (%d of %d schedulable)", scheduled, len(items))
	}
	return batches, nil
}

// SequentialStrategy warms one item at a time in dependency and tier order.
type SequentialStrategy struct {
	runner warmRunner
}

// NewSequentialStrategy creates the one-at-a-time strategy.
func NewSequentialStrategy(clock types.Clock, logger *slog.Logger, defaultTimeout time.Duration, retryConfig retry.Config) *SequentialStrategy {
	return &SequentialStrategy{runner: newWarmRunner(clock, logger, defaultTimeout, retryConfig)}
}

// Warm processes every item; per-item failures are isolated and counted.
func (s *SequentialStrategy) Warm(ctx context.Context, backend types.Cache, items []WarmingItem, onProgress ProgressFunc) (*Progress, error) {
	batches, err := resolveBatches(items)
	if err != nil {
		return nil, err
	}

	progress := newProgress(len(items), s.runner.clock, onProgress)
	done := newCompletionSet()

	remaining := len(items)
	for _, batch := range batches {
		for _, item := range batch {
			if ctx.Err() != nil {
				progress.markCancelled(remaining)
				return progress, nil
			}
			s.runner.runItem(ctx, backend, item, progress, done)
			remaining--
		}
	}
	return progress, nil
}

// ParallelStrategy warms items concurrently with a global concurrency cap.
type ParallelStrategy struct {
	runner warmRunner
	limit  int
}

// NewParallelStrategy validates the concurrency limit eagerly.
func NewParallelStrategy(limit int, clock types.Clock, logger *slog.Logger, defaultTimeout time.Duration, retryConfig retry.Config) (*ParallelStrategy, error) {
	if limit <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConcurrency, "parallel warming limit %d must be positive", limit)
	}
	return &ParallelStrategy{runner: newWarmRunner(clock, logger, defaultTimeout, retryConfig), limit: limit}, nil
}

// Warm runs each ready batch through a bounded worker pool.
func (s *ParallelStrategy) Warm(ctx context.Context, backend types.Cache, items []WarmingItem, onProgress ProgressFunc) (*Progress, error) {
	batches, err := resolveBatches(items)
	if err != nil {
		return nil, err
	}

	progress := newProgress(len(items), s.runner.clock, onProgress)
	done := newCompletionSet()

	for _, batch := range batches {
		runBatch(ctx, s.runner, backend, batch, s.limit, progress, done)
	}
	return progress, nil
}

// runBatch dispatches one ready batch through a conc pool, counting items
// whose turn arrives after cancellation as cancelled.
func runBatch(ctx context.Context, runner warmRunner, backend types.Cache, batch []WarmingItem, limit int, progress *Progress, done *completionSet) {
	p := pool.New().WithMaxGoroutines(limit)
	for _, item := range batch {
		item := item
		p.Go(func() {
			if ctx.Err() != nil {
				progress.markCancelled(1)
				return
			}
			runner.runItem(ctx, backend, item, progress, done)
		})
	}
	p.Wait()
}

// TieredStrategy partitions each ready batch by tier and drains tiers in
// strict priority order, each with its own concurrency limit.
type TieredStrategy struct {
	runner warmRunner
	limits map[Tier]int
}

// NewTieredStrategy validates every tier limit eagerly; missing tiers get a
// limit of 1.
func NewTieredStrategy(limits map[Tier]int, clock types.Clock, logger *slog.Logger, defaultTimeout time.Duration, retryConfig retry.Config) (*TieredStrategy, error) {
	resolved := map[Tier]int{TierCritical: 1, TierHigh: 2, TierMedium: 4, TierLow: 8}
	for tier, limit := range limits {
		if limit <= 0 {
			return nil, errors.Newf(errors.ErrCodeInvalidConcurrency, "tier %s warming limit %d must be positive", tier, limit)
		}
		resolved[tier] = limit
	}
	return &TieredStrategy{runner: newWarmRunner(clock, logger, defaultTimeout, retryConfig), limits: resolved}, nil
}

// Warm drains tiers most-important-first inside each dependency batch, so no
// low item starts before every critical and high item has been dispatched.
func (s *TieredStrategy) Warm(ctx context.Context, backend types.Cache, items []WarmingItem, onProgress ProgressFunc) (*Progress, error) {
	batches, err := resolveBatches(items)
	if err != nil {
		return nil, err
	}

	progress := newProgress(len(items), s.runner.clock, onProgress)
	done := newCompletionSet()

	for _, batch := range batches {
		byTier := make(map[Tier][]WarmingItem)
		for _, item := range batch {
			byTier[item.Tier] = append(byTier[item.Tier], item)
		}
		for _, tier := range []Tier{TierCritical, TierHigh, TierMedium, TierLow} {
			tierItems := byTier[tier]
			if len(tierItems) == 0 {
				continue
			}
			runBatch(ctx, s.runner, backend, tierItems, s.limits[tier], progress, done)
		}
	}
	return progress, nil
}
