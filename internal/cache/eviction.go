package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// EvictionReason records why an entry was removed.
type EvictionReason string

const (
	ReasonTTLExpired   EvictionReason = "ttl_expired"
	ReasonOverCapacity EvictionReason = "over_capacity"
	ReasonInvalidated  EvictionReason = "invalidated"
)

// Entry is the per-key metadata the eviction engine tracks out-of-band from
// the backend's own storage.
type Entry struct {
	Key         string
	CreatedAt   time.Time
	AccessedAt  time.Time
	AccessCount uint64
	Priority    int
	TTL         time.Duration
	Expiry      time.Time

	// seq is the insertion sequence, the stable tie-break for equal
	// access times.
	seq uint64
}

// Touch bumps access bookkeeping on every read.
func (e *Entry) Touch(now time.Time) {
	e.AccessedAt = now
	e.AccessCount++
}

// EvictionPolicy decides when eviction is needed and which entries go first.
type EvictionPolicy interface {
	// Name identifies the policy in stats and logs.
	Name() string
	// Capacity is the entry budget the policy enforces.
	Capacity() int
	// ShouldEvict reports whether the entry count exceeds capacity.
	ShouldEvict(count int) bool
	// SelectVictims returns up to count keys to evict, worst-first.
	SelectVictims(entries []*Entry, count int) []string
}

// LRUPolicy evicts the least recently accessed entries first.
type LRUPolicy struct {
	MaxCapacity int
}

// NewLRUPolicy validates the capacity eagerly.
func NewLRUPolicy(maxCapacity int) (*LRUPolicy, error) {
	if maxCapacity <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidCapacity, "lru capacity %d must be positive", maxCapacity)
	}
	return &LRUPolicy{MaxCapacity: maxCapacity}, nil
}

func (p *LRUPolicy) Name() string               { return "lru" }
func (p *LRUPolicy) Capacity() int              { return p.MaxCapacity }
func (p *LRUPolicy) ShouldEvict(count int) bool { return count > p.MaxCapacity }

func (p *LRUPolicy) SelectVictims(entries []*Entry, count int) []string {
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].AccessedAt.Equal(sorted[j].AccessedAt) {
			return sorted[i].AccessedAt.Before(sorted[j].AccessedAt)
		}
		return sorted[i].seq < sorted[j].seq
	})
	return victimKeys(sorted, count)
}

// PriorityPolicy evicts low-priority entries first, oldest access first
// within a priority band.
type PriorityPolicy struct {
	MaxCapacity int
}

// NewPriorityPolicy validates the capacity eagerly.
func NewPriorityPolicy(maxCapacity int) (*PriorityPolicy, error) {
	if maxCapacity <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidCapacity, "priority capacity %d must be positive", maxCapacity)
	}
	return &PriorityPolicy{MaxCapacity: maxCapacity}, nil
}

func (p *PriorityPolicy) Name() string               { return "priority" }
func (p *PriorityPolicy) Capacity() int              { return p.MaxCapacity }
func (p *PriorityPolicy) ShouldEvict(count int) bool { return count > p.MaxCapacity }

func (p *PriorityPolicy) SelectVictims(entries []*Entry, count int) []string {
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		if !sorted[i].AccessedAt.Equal(sorted[j].AccessedAt) {
			return sorted[i].AccessedAt.Before(sorted[j].AccessedAt)
		}
		return sorted[i].seq < sorted[j].seq
	})
	return victimKeys(sorted, count)
}

func victimKeys(sorted []*Entry, count int) []string {
	if count > len(sorted) {
		count = len(sorted)
	}
	keys := make([]string, 0, count)
	for _, e := range sorted[:count] {
		keys = append(keys, e.Key)
	}
	return keys
}

// EvictionMetrics aggregates per-eviction observations.
type EvictionMetrics struct {
	ByReason      map[EvictionReason]uint64
	TotalAge      time.Duration
	TotalAccesses uint64
	TotalDuration time.Duration
}

// EvictingCache enforces capacity and TTL limits around any backend. Entry
// metadata lives here, not in the backend, so the wrapper composes with
// stores that know nothing about eviction.
type EvictingCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	seq     uint64

	backend types.Cache
	policy  EvictionPolicy
	clock   types.Clock
	logger  *slog.Logger

	defaultTTL      time.Duration
	defaultPriority int

	stats   types.CacheStats
	metrics EvictionMetrics
}

// EvictingCacheConfig configures an EvictingCache.
type EvictingCacheConfig struct {
	Policy          EvictionPolicy
	DefaultTTL      time.Duration
	DefaultPriority int
	Clock           types.Clock
	Logger          *slog.Logger
}

// NewEvictingCache wraps backend with the given eviction policy.
func NewEvictingCache(backend types.Cache, config *EvictingCacheConfig) (*EvictingCache, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "eviction wrapper requires a backend")
	}
	if config == nil || config.Policy == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "eviction wrapper requires a policy")
	}
	clock := config.Clock
	if clock == nil {
		clock = types.SystemClock
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "eviction")
	}

	return &EvictingCache{
		entries:         make(map[string]*Entry),
		backend:         backend,
		policy:          config.Policy,
		clock:           clock,
		logger:          logger,
		defaultTTL:      config.DefaultTTL,
		defaultPriority: config.DefaultPriority,
		metrics:         EvictionMetrics{ByReason: make(map[EvictionReason]uint64)},
	}, nil
}

// Get touches entry metadata and evicts immediately if the entry's TTL has
// passed, before consulting the backend.
func (c *EvictingCache) Get(ctx context.Context, key string) (types.Value, bool, error) {
	c.mu.Lock()
	entry, tracked := c.entries[key]
	expired := tracked && types.IsExpired(c.clock, entry.Expiry)
	if tracked && !expired {
		entry.Touch(c.clock.Now())
	}
	if expired {
		c.removeEntryLocked(key, ReasonTTLExpired)
	}
	c.mu.Unlock()

	if expired {
		// Best effort: the backend copy goes too, outside the lock.
		if _, err := c.backend.Invalidate(ctx, key); err != nil {
			c.logger.Warn("failed to remove expired entry from backend", "key", key, "error", err)
		}
		c.recordMiss()
		return types.Value{}, false, nil
	}

	value, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.recordError()
		return types.Value{}, false, err
	}
	if ok {
		c.recordHit()
	} else {
		c.recordMiss()
	}
	return value, ok, err
}

// Set stores the value with the default priority.
func (c *EvictingCache) Set(ctx context.Context, key string, value types.Value, ttl time.Duration) error {
	return c.SetWithPriority(ctx, key, value, ttl, c.defaultPriority)
}

// SetWithPriority stores the value, records entry metadata, and then runs the
// check-and-evict pass. Eviction failures are logged and swallowed; they
// never fail the write.
func (c *EvictingCache) SetWithPriority(ctx context.Context, key string, value types.Value, ttl time.Duration, priority int) error {
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.recordError()
		return err
	}

	now := c.clock.Now()
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.CreatedAt = now
		entry.AccessedAt = now
		entry.Priority = priority
		entry.TTL = ttl
		entry.Expiry = types.ComputeExpiry(c.clock, ttl, c.defaultTTL)
	} else {
		c.seq++
		c.entries[key] = &Entry{
			Key:        key,
			CreatedAt:  now,
			AccessedAt: now,
			Priority:   priority,
			TTL:        ttl,
			Expiry:     types.ComputeExpiry(c.clock, ttl, c.defaultTTL),
			seq:        c.seq,
		}
	}
	c.stats.Sets++
	victims := c.checkAndEvictLocked()
	c.mu.Unlock()

	c.dropFromBackend(ctx, victims)
	return nil
}

// checkAndEvictLocked removes TTL-expired entries first, then trims back to
// capacity with the active policy. Returns the evicted keys so the backend
// copies can be dropped outside the lock.
func (c *EvictingCache) checkAndEvictLocked() []string {
	start := c.clock.Now()
	var victims []string

	for key, entry := range c.entries {
		if types.IsExpired(c.clock, entry.Expiry) {
			c.removeEntryLocked(key, ReasonTTLExpired)
			victims = append(victims, key)
		}
	}

	if c.policy.ShouldEvict(len(c.entries)) {
		excess := len(c.entries) - c.policy.Capacity()
		all := make([]*Entry, 0, len(c.entries))
		for _, entry := range c.entries {
			all = append(all, entry)
		}
		for _, key := range c.policy.SelectVictims(all, excess) {
			c.removeEntryLocked(key, ReasonOverCapacity)
			victims = append(victims, key)
		}
	}

	c.metrics.TotalDuration += c.clock.Now().Sub(start)
	return victims
}

func (c *EvictingCache) removeEntryLocked(key string, reason EvictionReason) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.stats.Evictions++
	c.metrics.ByReason[reason]++
	c.metrics.TotalAge += c.clock.Now().Sub(entry.CreatedAt)
	c.metrics.TotalAccesses += entry.AccessCount
}

func (c *EvictingCache) dropFromBackend(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if _, err := c.backend.Invalidate(ctx, keys...); err != nil {
		c.logger.Warn("eviction failed to remove backend entries", "keys", len(keys), "error", err)
	}
}

// Invalidate removes metadata and backend entries for the given keys.
func (c *EvictingCache) Invalidate(ctx context.Context, keys ...string) (int, error) {
	c.mu.Lock()
	for _, key := range keys {
		if _, ok := c.entries[key]; ok {
			c.removeEntryLocked(key, ReasonInvalidated)
		}
	}
	c.stats.Invalidations++
	c.mu.Unlock()

	return c.backend.Invalidate(ctx, keys...)
}

// Cleanup evicts every TTL-expired tracked entry, then runs the backend's
// own cleanup.
func (c *EvictingCache) Cleanup(ctx context.Context) (int, error) {
	c.mu.Lock()
	var victims []string
	for key, entry := range c.entries {
		if types.IsExpired(c.clock, entry.Expiry) {
			c.removeEntryLocked(key, ReasonTTLExpired)
			victims = append(victims, key)
		}
	}
	c.stats.Cleanups++
	c.mu.Unlock()

	c.dropFromBackend(ctx, victims)

	backendRemoved, err := c.backend.Cleanup(ctx)
	if err != nil {
		c.logger.Warn("backend cleanup failed", "error", err)
		return len(victims), nil
	}
	return len(victims) + backendRemoved, nil
}

// TrackedLen returns the number of entries the wrapper currently tracks.
func (c *EvictingCache) TrackedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats merges the backend's stats with the eviction sub-map.
func (c *EvictingCache) Stats() map[string]any {
	c.mu.Lock()
	own := c.stats.Map()
	own["policy"] = c.policy.Name()
	own["capacity"] = c.policy.Capacity()
	own["tracked_entries"] = len(c.entries)
	reasons := make(map[string]uint64, len(c.metrics.ByReason))
	for reason, n := range c.metrics.ByReason {
		reasons[string(reason)] = n
	}
	own["evictions_by_reason"] = reasons
	c.mu.Unlock()

	return types.MergeStats(c.backend.Stats(), map[string]any{"eviction": own})
}

func (c *EvictingCache) recordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
}

func (c *EvictingCache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

func (c *EvictingCache) recordError() {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
}
