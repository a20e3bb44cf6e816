package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// WarmingTask is a handle to a warming run executing in the background.
type WarmingTask struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	clock  types.Clock

	mu       sync.Mutex
	snapshot ProgressSnapshot
	err      error
}

// ID returns the task's unique identifier.
func (t *WarmingTask) ID() string { return t.id }

// Done is closed when the run finishes, fails, or is cancelled.
func (t *WarmingTask) Done() <-chan struct{} { return t.done }

// Progress returns the most recent progress snapshot.
func (t *WarmingTask) Progress() ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// Err returns the run's terminal error, if any. Only meaningful once Done
// is closed.
func (t *WarmingTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the run finishes or ctx expires.
func (t *WarmingTask) Wait(ctx context.Context) (ProgressSnapshot, error) {
	select {
	case <-t.done:
		return t.Progress(), t.Err()
	case <-ctx.Done():
		return t.Progress(), errors.New(errors.ErrCodeOperationTimeout,
			"timed out waiting for warming task").WithCause(ctx.Err())
	}
}

// Cancel stops the run and waits up to wait for in-flight items to settle.
// It reports whether the run had fully stopped before the deadline.
func (t *WarmingTask) Cancel(wait time.Duration) bool {
	t.cancel()
	if wait <= 0 {
		select {
		case <-t.done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// WarmingCache layers proactive population over a backend. Reads and writes
// pass straight through; Warm and WarmInBackground pre-populate the backend
// with the configured strategy.
type WarmingCache struct {
	backend  types.Cache
	strategy WarmingStrategy
	clock    types.Clock
	logger   *slog.Logger

	mu           sync.Mutex
	runs         int64
	lastSnapshot ProgressSnapshot
}

// NewWarmingCache wraps backend with the given strategy.
func NewWarmingCache(backend types.Cache, strategy WarmingStrategy, clock types.Clock, logger *slog.Logger) *WarmingCache {
	if clock == nil {
		clock = types.SystemClock
	}
	if logger == nil {
		logger = slog.Default().With("component", "warming")
	}
	return &WarmingCache{backend: backend, strategy: strategy, clock: clock, logger: logger}
}

// Get delegates to the backend.
func (w *WarmingCache) Get(ctx context.Context, key string) (types.Value, bool, error) {
	return w.backend.Get(ctx, key)
}

// Set delegates to the backend.
func (w *WarmingCache) Set(ctx context.Context, key string, value types.Value, ttl time.Duration) error {
	return w.backend.Set(ctx, key, value, ttl)
}

// Invalidate delegates to the backend.
func (w *WarmingCache) Invalidate(ctx context.Context, keys ...string) (int, error) {
	return w.backend.Invalidate(ctx, keys...)
}

// Cleanup delegates to the backend.
func (w *WarmingCache) Cleanup(ctx context.Context) (int, error) {
	return w.backend.Cleanup(ctx)
}

// Warm runs the strategy synchronously and returns the final progress.
func (w *WarmingCache) Warm(ctx context.Context, items []WarmingItem, onProgress ProgressFunc) (ProgressSnapshot, error) {
	progress, err := w.strategy.Warm(ctx, w.backend, items, onProgress)
	if err != nil {
		return ProgressSnapshot{}, err
	}
	snap := progress.Snapshot()
	w.recordRun(snap)
	return snap, nil
}

// WarmInBackground starts the strategy on its own goroutine and returns a
// cancellable handle.
func (w *WarmingCache) WarmInBackground(ctx context.Context, items []WarmingItem) *WarmingTask {
	runCtx, cancel := context.WithCancel(ctx)
	task := &WarmingTask{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
		clock:  w.clock,
	}

	go func() {
		defer cancel()
		progress, err := w.strategy.Warm(runCtx, w.backend, items, func(snap ProgressSnapshot) {
			task.mu.Lock()
			task.snapshot = snap
			task.mu.Unlock()
		})

		task.mu.Lock()
		if progress != nil {
			task.snapshot = progress.Snapshot()
		}
		task.err = err
		snap := task.snapshot
		task.mu.Unlock()

		if err != nil {
			w.logger.Error("background warming failed", "task_id", task.id, "error", err)
		} else {
			w.recordRun(snap)
		}
		close(task.done)
	}()

	w.logger.Info("started background warming", "task_id", task.id, "items", len(items))
	return task
}

// Stats reports warming run totals over the backend's stats.
func (w *WarmingCache) Stats() map[string]any {
	w.mu.Lock()
	runs := w.runs
	last := w.lastSnapshot
	w.mu.Unlock()

	own := map[string]any{
		"warming": map[string]any{
			"runs":           runs,
			"last_total":     last.Total,
			"last_completed": last.Completed,
			"last_failed":    last.Failed,
			"last_cancelled": last.Cancelled,
		},
	}
	return types.MergeStats(w.backend.Stats(), own)
}

func (w *WarmingCache) recordRun(snap ProgressSnapshot) {
	w.mu.Lock()
	w.runs++
	w.lastSnapshot = snap
	w.mu.Unlock()
}
