package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/trackforge/trackforge/pkg/types"
)

// InvalidationCoordinator propagates invalidations across related key
// families. Relation rules map a key prefix to the prefixes it derives; the
// derived key keeps the original suffix. Traversal is breadth-first with a
// visited set, so cyclic rules terminate.
type InvalidationCoordinator struct {
	mu     sync.RWMutex
	rules  map[string][]string
	caches map[string]types.Cache
	logger *slog.Logger

	cascades    int64
	invalidated int64
}

// NewInvalidationCoordinator builds a coordinator over the given relation
// rules.
func NewInvalidationCoordinator(rules map[string][]string, logger *slog.Logger) *InvalidationCoordinator {
	if logger == nil {
		logger = slog.Default().With("component", "invalidation")
	}
	copied := make(map[string][]string, len(rules))
	for prefix, related := range rules {
		copied[prefix] = append([]string(nil), related...)
	}
	return &InvalidationCoordinator{
		rules:  copied,
		caches: make(map[string]types.Cache),
		logger: logger,
	}
}

// Register adds a cache that future cascades will touch. Registering the
// same name again replaces the previous cache.
func (ic *InvalidationCoordinator) Register(name string, cache types.Cache) {
	ic.mu.Lock()
	ic.caches[name] = cache
	ic.mu.Unlock()
}

// Deregister removes a cache from the cascade set.
func (ic *InvalidationCoordinator) Deregister(name string) {
	ic.mu.Lock()
	delete(ic.caches, name)
	ic.mu.Unlock()
}

// expand returns the full closure of keys reachable from key through the
// relation rules, key itself included.
func (ic *InvalidationCoordinator) expand(key string) []string {
	visited := map[string]bool{key: true}
	order := []string{key}
	queue := []string{key}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for prefix, related := range ic.rules {
			if !strings.HasPrefix(current, prefix) {
				continue
			}
			suffix := current[len(prefix):]
			for _, rel := range related {
				derived := rel + suffix
				if visited[derived] {
					continue
				}
				visited[derived] = true
				order = append(order, derived)
				queue = append(queue, derived)
			}
		}
	}
	return order
}

// Cascade invalidates key and every related key in every registered cache.
// It returns the number of entries actually removed across all caches.
func (ic *InvalidationCoordinator) Cascade(ctx context.Context, key string) (int, error) {
	ic.mu.RLock()
	caches := make(map[string]types.Cache, len(ic.caches))
	for name, c := range ic.caches {
		caches[name] = c
	}
	ic.mu.RUnlock()

	keys := ic.expand(key)

	removed := 0
	var errs error
	for name, cache := range caches {
		n, err := cache.Invalidate(ctx, keys...)
		removed += n
		if err != nil {
			ic.logger.Warn("cascade invalidation failed", "cache", name, "key", key, "error", err)
			errs = multierr.Append(errs, err)
		}
	}

	ic.mu.Lock()
	ic.cascades++
	ic.invalidated += int64(removed)
	ic.mu.Unlock()

	ic.logger.Debug("cascade complete", "key", key, "derived_keys", len(keys)-1, "removed", removed)
	return removed, errs
}

// Stats reports cascade totals.
func (ic *InvalidationCoordinator) Stats() map[string]any {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return map[string]any{
		"cascades":            ic.cascades,
		"entries_invalidated": ic.invalidated,
		"relation_rules":      len(ic.rules),
		"registered_caches":   len(ic.caches),
	}
}
