// Package store provides file-backed cache tiers. Each store keeps a full
// in-memory copy guarded by a mutex and rewrites its snapshot file through a
// temp-file rename, so a crash never leaves a half-written snapshot.
package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// record is one persisted entry. Expiry is zero for entries that never
// expire.
type record struct {
	value  types.Value
	expiry time.Time
}

// snapshotCodec renders the full entry set to bytes and back. The CSV and
// JSON stores differ only in their codec.
type snapshotCodec interface {
	name() string
	encode(entries map[string]record) ([]byte, error)
	decode(data []byte) (map[string]record, error)
}

// fileStore is the shared engine behind the CSV and JSON stores.
type fileStore struct {
	path       string
	codec      snapshotCodec
	clock      types.Clock
	logger     *slog.Logger
	defaultTTL time.Duration

	mu      sync.RWMutex
	entries map[string]record
	dirty   bool
	stats   types.CacheStats
}

func newFileStore(path string, codec snapshotCodec, defaultTTL time.Duration, clock types.Clock, logger *slog.Logger) (*fileStore, error) {
	if path == "" {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "%s store requires a snapshot path", codec.name())
	}
	if clock == nil {
		clock = types.SystemClock
	}
	if logger == nil {
		logger = slog.Default().With("component", "store", "format", codec.name())
	}

	s := &fileStore{
		path:       path,
		codec:      codec,
		clock:      clock,
		logger:     logger,
		defaultTTL: defaultTTL,
		entries:    make(map[string]record),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the snapshot at startup. A missing file is an empty store, a
// present but unreadable one is a hard error.
func (s *fileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Newf(errors.ErrCodeSnapshotCorrupt, "reading snapshot %s", s.path).WithCause(err)
	}
	if len(data) == 0 {
		return nil
	}

	entries, err := s.codec.decode(data)
	if err != nil {
		return errors.Newf(errors.ErrCodeSnapshotCorrupt, "decoding snapshot %s", s.path).WithCause(err)
	}
	s.entries = entries
	s.logger.Info("loaded snapshot", "path", s.path, "entries", len(entries))
	return nil
}

// persistLocked rewrites the snapshot atomically. Callers hold the write
// lock.
func (s *fileStore) persistLocked() error {
	data, err := s.codec.encode(s.entries)
	if err != nil {
		return errors.Newf(errors.ErrCodeInternalError, "encoding snapshot %s", s.path).WithCause(err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Newf(errors.ErrCodeInternalError, "creating snapshot directory %s", dir).WithCause(err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Newf(errors.ErrCodeInternalError, "creating temp snapshot in %s", dir).WithCause(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Newf(errors.ErrCodeInternalError, "writing temp snapshot %s", tmpName).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Newf(errors.ErrCodeInternalError, "closing temp snapshot %s", tmpName).WithCause(err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Newf(errors.ErrCodeInternalError, "replacing snapshot %s", s.path).WithCause(err)
	}
	s.dirty = false
	return nil
}

func (s *fileStore) expired(rec record) bool {
	return types.IsExpired(s.clock, rec.expiry)
}

func (s *fileStore) get(key string) (types.Value, bool) {
	s.mu.RLock()
	rec, ok := s.entries[key]
	stale := ok && s.expired(rec)
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		s.stats.Misses++
		s.mu.Unlock()
		return types.Value{}, false
	}
	if stale {
		s.mu.Lock()
		if cur, still := s.entries[key]; still && s.expired(cur) {
			delete(s.entries, key)
			s.dirty = true
		}
		s.stats.Misses++
		s.mu.Unlock()
		return types.Value{}, false
	}

	s.mu.Lock()
	s.stats.Hits++
	s.mu.Unlock()
	return rec.value, true
}

func (s *fileStore) set(key string, value types.Value, ttl time.Duration) error {
	expiry := types.ComputeExpiry(s.clock, ttl, s.defaultTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = record{value: value, expiry: expiry}
	s.stats.Sets++
	s.dirty = true
	return s.persistLocked()
}

func (s *fileStore) invalidate(keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	s.stats.Invalidations += uint64(removed)
	s.dirty = true
	return removed, s.persistLocked()
}

func (s *fileStore) cleanup() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.entries {
		if s.expired(rec) {
			delete(s.entries, key)
			removed++
		}
	}
	s.stats.Cleanups++
	if removed == 0 {
		return 0, nil
	}
	s.dirty = true
	return removed, s.persistLocked()
}

func (s *fileStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *fileStore) statsMap() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.stats.Map()
	m["entries"] = len(s.entries)
	m["path"] = s.path
	m["format"] = s.codec.name()
	return map[string]any{"store": m}
}
