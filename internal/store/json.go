package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// JSONStore persists entries as a single JSON document keyed by cache key.
type JSONStore struct {
	fs *fileStore
}

// NewJSONStore opens or creates a JSON-backed tier at path.
func NewJSONStore(path string, defaultTTL time.Duration, clock types.Clock, logger *slog.Logger) (*JSONStore, error) {
	fs, err := newFileStore(path, jsonCodec{}, defaultTTL, clock, logger)
	if err != nil {
		return nil, err
	}
	return &JSONStore{fs: fs}, nil
}

// Get returns the stored value, expiring stale entries on read.
func (s *JSONStore) Get(_ context.Context, key string) (types.Value, bool, error) {
	value, ok := s.fs.get(key)
	return value, ok, nil
}

// Set stores the value and rewrites the snapshot.
func (s *JSONStore) Set(_ context.Context, key string, value types.Value, ttl time.Duration) error {
	return s.fs.set(key, value, ttl)
}

// Invalidate removes the given keys, reporting how many were present.
func (s *JSONStore) Invalidate(_ context.Context, keys ...string) (int, error) {
	return s.fs.invalidate(keys)
}

// Cleanup drops every expired entry.
func (s *JSONStore) Cleanup(_ context.Context) (int, error) {
	return s.fs.cleanup()
}

// Len reports the number of live entries.
func (s *JSONStore) Len() int { return s.fs.len() }

// Stats reports store counters under "store".
func (s *JSONStore) Stats() map[string]any { return s.fs.statsMap() }

type jsonCodec struct{}

func (jsonCodec) name() string { return "json" }

// jsonRecord is the wire shape of one entry. Binary payloads rely on
// encoding/json's base64 handling for []byte.
type jsonRecord struct {
	Kind       string `json:"kind"`
	Text       string `json:"text,omitempty"`
	Binary     []byte `json:"binary,omitempty"`
	ExpiryNano int64  `json:"expiry_unix_nano,omitempty"`
}

func (jsonCodec) encode(entries map[string]record) ([]byte, error) {
	out := make(map[string]jsonRecord, len(entries))
	for key, rec := range entries {
		text, _ := rec.value.Text()
		jr := jsonRecord{Kind: "string", Text: text}
		if raw, ok := rec.value.Binary(); ok {
			jr = jsonRecord{Kind: "binary", Binary: raw}
		}
		if !rec.expiry.IsZero() {
			jr.ExpiryNano = rec.expiry.UnixNano()
		}
		out[key] = jr
	}
	return json.MarshalIndent(out, "", "  ")
}

func (jsonCodec) decode(data []byte) (map[string]record, error) {
	var raw map[string]jsonRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	entries := make(map[string]record, len(raw))
	for key, jr := range raw {
		var value types.Value
		switch jr.Kind {
		case "string":
			value = types.StringValue(jr.Text)
		case "binary":
			value = types.BytesValue(jr.Binary)
		default:
			return nil, errors.Newf(errors.ErrCodeValueShape, "entry %q has unknown kind %q", key, jr.Kind)
		}
		var expiry time.Time
		if jr.ExpiryNano != 0 {
			expiry = time.Unix(0, jr.ExpiryNano)
		}
		entries[key] = record{value: value, expiry: expiry}
	}
	return entries, nil
}

// NewAPIResultStore is the JSON tier holding upstream API responses.
func NewAPIResultStore(path string, defaultTTL time.Duration, clock types.Clock, logger *slog.Logger) (*JSONStore, error) {
	store, err := NewJSONStore(path, defaultTTL, clock, logger)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeConfigLoad, "opening api result store").WithCause(err)
	}
	return store, nil
}
