package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// MemoryStore is the concrete in-memory backend at the bottom of every cache
// chain. Keys are spread across shards by xxhash so unrelated keys do not
// contend on one lock.
type MemoryStore struct {
	shards []*memoryShard
	config *MemoryStoreConfig

	statsMu sync.Mutex
	stats   types.CacheStats
}

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	Shards     int           `yaml:"shards"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	Clock      types.Clock   `yaml:"-"`
	Logger     *slog.Logger  `yaml:"-"`
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value  types.Value
	expiry time.Time
}

// NewMemoryStore creates a sharded in-memory store.
func NewMemoryStore(config *MemoryStoreConfig) (*MemoryStore, error) {
	if config == nil {
		config = &MemoryStoreConfig{}
	}
	if config.Shards == 0 {
		config.Shards = 16
	}
	if config.Shards < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "shard count %d must be positive", config.Shards)
	}
	if config.Clock == nil {
		config.Clock = types.SystemClock
	}
	if config.Logger == nil {
		config.Logger = slog.Default().With("component", "memory-store")
	}

	shards := make([]*memoryShard, config.Shards)
	for i := range shards {
		shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}

	return &MemoryStore{shards: shards, config: config}, nil
}

func (m *MemoryStore) shardFor(key string) *memoryShard {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Get returns the value for key, treating an expired entry as a miss and
// removing it in passing.
func (m *MemoryStore) Get(ctx context.Context, key string) (types.Value, bool, error) {
	shard := m.shardFor(key)

	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()

	if !ok {
		m.recordMiss()
		return types.Value{}, false, nil
	}

	if types.IsExpired(m.config.Clock, entry.expiry) {
		shard.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have renewed it.
		if cur, still := shard.entries[key]; still && types.IsExpired(m.config.Clock, cur.expiry) {
			delete(shard.entries, key)
		}
		shard.mu.Unlock()
		m.recordMiss()
		return types.Value{}, false, nil
	}

	m.recordHit()
	return entry.value, true, nil
}

// Set stores value under key with the given TTL (zero selects the default).
func (m *MemoryStore) Set(ctx context.Context, key string, value types.Value, ttl time.Duration) error {
	expiry := types.ComputeExpiry(m.config.Clock, ttl, m.config.DefaultTTL)

	shard := m.shardFor(key)
	shard.mu.Lock()
	shard.entries[key] = memoryEntry{value: value, expiry: expiry}
	shard.mu.Unlock()

	m.statsMu.Lock()
	m.stats.Sets++
	m.statsMu.Unlock()
	return nil
}

// Invalidate removes the given keys and reports how many existed.
func (m *MemoryStore) Invalidate(ctx context.Context, keys ...string) (int, error) {
	removed := 0
	for _, key := range keys {
		shard := m.shardFor(key)
		shard.mu.Lock()
		if _, ok := shard.entries[key]; ok {
			delete(shard.entries, key)
			removed++
		}
		shard.mu.Unlock()
	}

	m.statsMu.Lock()
	m.stats.Invalidations += uint64(removed)
	m.statsMu.Unlock()
	return removed, nil
}

// Cleanup removes every expired entry across all shards.
func (m *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	for _, shard := range m.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if types.IsExpired(m.config.Clock, entry.expiry) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	m.statsMu.Lock()
	m.stats.Cleanups++
	m.stats.Evictions += uint64(removed)
	m.statsMu.Unlock()
	return removed, nil
}

// Len returns the number of live entries (expired-but-unswept included).
func (m *MemoryStore) Len() int {
	total := 0
	for _, shard := range m.shards {
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

// Stats returns the store's statistics under the "memory" key.
func (m *MemoryStore) Stats() map[string]any {
	m.statsMu.Lock()
	counters := m.stats.Map()
	m.statsMu.Unlock()

	counters["entries"] = m.Len()
	counters["shards"] = len(m.shards)
	return map[string]any{"memory": counters}
}

func (m *MemoryStore) recordHit() {
	m.statsMu.Lock()
	m.stats.Hits++
	m.statsMu.Unlock()
}

func (m *MemoryStore) recordMiss() {
	m.statsMu.Lock()
	m.stats.Misses++
	m.statsMu.Unlock()
}
