package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/trackforge/trackforge/internal/config"
	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// namedTier is a specialized cache registered with the coordinator.
type namedTier struct {
	name  string
	cache types.Cache
}

// Write placement targets accepted by SetLevel. Any other value names a
// registered specialized tier.
const (
	LevelAuto = "auto"
	LevelL1   = "l1"
	LevelL2   = "l2"
)

// prioritySetter is the optional capability a level implements when it can
// record a per-entry eviction priority.
type prioritySetter interface {
	SetWithPriority(ctx context.Context, key string, value types.Value, ttl time.Duration, priority int) error
}

// Coordinator arranges caches into a lookup hierarchy. L1 is small and
// short-lived, L2 is the larger backing level, and specialized tiers are
// consulted after both in registration order. Hits below L1 are promoted
// upward with the L1 lifetime cap applied.
type Coordinator struct {
	l1    types.Cache
	l2    types.Cache
	l1TTL time.Duration
	l2TTL time.Duration

	routePrefixes []string
	policy        *Policy
	invalidator   *InvalidationCoordinator

	mu    sync.RWMutex
	tiers []namedTier

	statsMu    sync.Mutex
	promotions int64
	routedSets int64

	clock  types.Clock
	logger *slog.Logger
}

// CoordinatorOption adjusts construction.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the coordinator's clock.
func WithClock(clock types.Clock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// WithLogger overrides the coordinator's logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithPolicy threads a content-type policy through the coordinator. The
// policy resolves the placement level for auto-routed writes, the TTL when
// the caller passes none, and the eviction priority recorded per entry.
func WithPolicy(policy *Policy) CoordinatorOption {
	return func(c *Coordinator) { c.policy = policy }
}

// NewCoordinator builds the L1 and L2 levels from cfg and wires cascade
// invalidation over both.
func NewCoordinator(cfg config.HierarchyConfig, opts ...CoordinatorOption) (*Coordinator, error) {
	c := &Coordinator{
		l1TTL:         cfg.L1TTL,
		l2TTL:         cfg.L2TTL,
		routePrefixes: append([]string(nil), cfg.RoutePrefixes...),
		clock:         types.SystemClock,
		logger:        slog.Default().With("component", "hierarchy"),
	}
	for _, opt := range opts {
		opt(c)
	}

	l1, err := newLevel(cfg.L1MaxEntries, cfg.L1TTL, c.clock, c.logger.With("level", "l1"))
	if err != nil {
		return nil, err
	}
	l2, err := newLevel(cfg.L2MaxEntries, cfg.L2TTL, c.clock, c.logger.With("level", "l2"))
	if err != nil {
		return nil, err
	}
	c.l1 = l1
	c.l2 = l2

	c.invalidator = NewInvalidationCoordinator(cfg.RelationRules, c.logger)
	c.invalidator.Register("l1", c.l1)
	c.invalidator.Register("l2", c.l2)
	return c, nil
}

// newLevel stacks an LRU eviction wrapper over a sharded store.
func newLevel(maxEntries int, ttl time.Duration, clock types.Clock, logger *slog.Logger) (types.Cache, error) {
	store, err := NewMemoryStore(&MemoryStoreConfig{DefaultTTL: ttl, Clock: clock, Logger: logger})
	if err != nil {
		return nil, err
	}
	policy, err := NewLRUPolicy(maxEntries)
	if err != nil {
		return nil, err
	}
	return NewEvictingCache(store, &EvictingCacheConfig{
		Policy:     policy,
		DefaultTTL: ttl,
		Clock:      clock,
		Logger:     logger,
	})
}

// L1 exposes the fast level, mainly for warming and tests.
func (c *Coordinator) L1() types.Cache { return c.l1 }

// L2 exposes the backing level.
func (c *Coordinator) L2() types.Cache { return c.l2 }

// RegisterTier appends a specialized cache consulted after L2. Names must
// be unique.
func (c *Coordinator) RegisterTier(name string, cache types.Cache) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tiers {
		if t.name == name {
			return errors.Newf(errors.ErrCodeInvalidConfig, "tier %q already registered", name)
		}
	}
	c.tiers = append(c.tiers, namedTier{name: name, cache: cache})
	c.invalidator.Register(name, cache)
	c.logger.Info("registered cache tier", "tier", name, "position", len(c.tiers))
	return nil
}

// DeregisterTier removes a specialized cache by name.
func (c *Coordinator) DeregisterTier(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.tiers {
		if t.name == name {
			c.tiers = append(c.tiers[:i], c.tiers[i+1:]...)
			c.invalidator.Deregister(name)
			return true
		}
	}
	return false
}

func (c *Coordinator) tierSnapshot() []namedTier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]namedTier(nil), c.tiers...)
}

// Get searches L1, then L2, then each registered tier. A hit below L1 is
// copied into every level above it, with the L1 lifetime cap applied.
func (c *Coordinator) Get(ctx context.Context, key string) (types.Value, bool, error) {
	if value, ok, err := c.l1.Get(ctx, key); err != nil {
		return types.Value{}, false, err
	} else if ok {
		return value, true, nil
	}

	if value, ok, err := c.l2.Get(ctx, key); err != nil {
		return types.Value{}, false, err
	} else if ok {
		c.promote(ctx, key, value, false)
		return value, true, nil
	}

	for _, tier := range c.tierSnapshot() {
		value, ok, err := tier.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("tier lookup failed", "tier", tier.name, "key", key, "error", err)
			continue
		}
		if ok {
			c.promote(ctx, key, value, true)
			return value, true, nil
		}
	}
	return types.Value{}, false, nil
}

// promote copies a lower-level hit upward. Promotion failures degrade to a
// log line; the caller already has the value.
func (c *Coordinator) promote(ctx context.Context, key string, value types.Value, throughL2 bool) {
	if throughL2 {
		if err := c.l2.Set(ctx, key, value, c.l2TTL); err != nil {
			c.logger.Warn("promotion to l2 failed", "key", key, "error", err)
		}
	}
	if err := c.l1.Set(ctx, key, value, c.l1TTL); err != nil {
		c.logger.Warn("promotion to l1 failed", "key", key, "error", err)
		return
	}
	c.statsMu.Lock()
	c.promotions++
	c.statsMu.Unlock()
}

func (c *Coordinator) routed(key string) bool {
	for _, prefix := range c.routePrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// capL1 bounds a lifetime to the L1 ceiling. Non-positive TTLs take the
// ceiling itself so nothing lives in L1 longer than configured.
func (c *Coordinator) capL1(ttl time.Duration) time.Duration {
	if ttl <= 0 || (c.l1TTL > 0 && ttl > c.l1TTL) {
		return c.l1TTL
	}
	return ttl
}

// write places a value in one level, recording the policy's eviction
// priority when the level supports it.
func (c *Coordinator) write(ctx context.Context, dst types.Cache, key string, value types.Value, ttl time.Duration) error {
	if c.policy != nil {
		if ps, ok := dst.(prioritySetter); ok {
			return ps.SetWithPriority(ctx, key, value, ttl, c.policy.PriorityFor(key))
		}
	}
	return dst.Set(ctx, key, value, ttl)
}

// Set is the auto-routing write: domain-prefixed keys land in L2 with a
// capped copy in L1, everything else lives in L1 only.
func (c *Coordinator) Set(ctx context.Context, key string, value types.Value, ttl time.Duration) error {
	return c.SetLevel(ctx, key, value, ttl, LevelAuto)
}

// SetLevel pins a write to an explicit placement. LevelAuto (or "") defers
// to the policy's level for the key, falling back to prefix routing; any
// other value must be "l1", "l2", or the name of a registered tier.
func (c *Coordinator) SetLevel(ctx context.Context, key string, value types.Value, ttl time.Duration, level string) error {
	if ttl <= 0 && c.policy != nil {
		ttl = c.policy.TTLFor(key)
	}
	if level == "" || level == LevelAuto {
		if c.policy != nil {
			if resolved := c.policy.LevelFor(key); resolved != "" && resolved != LevelAuto {
				level = resolved
			}
		}
	}

	switch level {
	case "", LevelAuto:
		return c.setAuto(ctx, key, value, ttl)
	case LevelL1:
		return c.write(ctx, c.l1, key, value, c.capL1(ttl))
	case LevelL2:
		return c.write(ctx, c.l2, key, value, ttl)
	}

	for _, t := range c.tierSnapshot() {
		if t.name == level {
			return t.cache.Set(ctx, key, value, ttl)
		}
	}
	return errors.Newf(errors.ErrCodeInvalidConfig, "unknown cache level %q", level)
}

func (c *Coordinator) setAuto(ctx context.Context, key string, value types.Value, ttl time.Duration) error {
	l1TTL := c.capL1(ttl)

	if !c.routed(key) {
		return c.write(ctx, c.l1, key, value, l1TTL)
	}

	if err := c.write(ctx, c.l2, key, value, ttl); err != nil {
		return err
	}
	if err := c.write(ctx, c.l1, key, value, l1TTL); err != nil {
		c.logger.Warn("l1 copy failed after l2 write", "key", key, "error", err)
	}
	c.statsMu.Lock()
	c.routedSets++
	c.statsMu.Unlock()
	return nil
}

// Invalidate cascades each key through the relation rules across every
// level and tier.
func (c *Coordinator) Invalidate(ctx context.Context, keys ...string) (int, error) {
	removed := 0
	var errs error
	for _, key := range keys {
		n, err := c.invalidator.Cascade(ctx, key)
		removed += n
		errs = multierr.Append(errs, err)
	}
	return removed, errs
}

// Cleanup fans out to every level and tier, summing removals and
// aggregating failures.
func (c *Coordinator) Cleanup(ctx context.Context) (int, error) {
	total := 0
	var errs error

	targets := []namedTier{{name: "l1", cache: c.l1}, {name: "l2", cache: c.l2}}
	targets = append(targets, c.tierSnapshot()...)
	for _, t := range targets {
		n, err := t.cache.Cleanup(ctx)
		total += n
		if err != nil {
			c.logger.Warn("tier cleanup failed", "tier", t.name, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return total, errs
}

// Stats nests per-level and per-tier stats under "hierarchy".
func (c *Coordinator) Stats() map[string]any {
	c.statsMu.Lock()
	promotions := c.promotions
	routedSets := c.routedSets
	c.statsMu.Unlock()

	tiers := map[string]any{}
	order := make([]string, 0)
	for _, t := range c.tierSnapshot() {
		tiers[t.name] = t.cache.Stats()
		order = append(order, t.name)
	}

	return map[string]any{
		"hierarchy": map[string]any{
			"promotions":   promotions,
			"routed_sets":  routedSets,
			"tier_order":   order,
			"invalidation": c.invalidator.Stats(),
		},
		"l1":    c.l1.Stats(),
		"l2":    c.l2.Stats(),
		"tiers": tiers,
	}
}
