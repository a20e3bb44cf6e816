package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// CSVStore persists entries as one CSV row per key. String payloads are
// stored verbatim, binary payloads base64-encoded, so snapshots stay
// inspectable with ordinary tools.
type CSVStore struct {
	fs *fileStore
}

// NewCSVStore opens or creates a CSV-backed tier at path.
func NewCSVStore(path string, defaultTTL time.Duration, clock types.Clock, logger *slog.Logger) (*CSVStore, error) {
	fs, err := newFileStore(path, csvCodec{}, defaultTTL, clock, logger)
	if err != nil {
		return nil, err
	}
	return &CSVStore{fs: fs}, nil
}

// Get returns the stored value, expiring stale entries on read.
func (s *CSVStore) Get(_ context.Context, key string) (types.Value, bool, error) {
	value, ok := s.fs.get(key)
	return value, ok, nil
}

// Set stores the value and rewrites the snapshot.
func (s *CSVStore) Set(_ context.Context, key string, value types.Value, ttl time.Duration) error {
	return s.fs.set(key, value, ttl)
}

// Invalidate removes the given keys, reporting how many were present.
func (s *CSVStore) Invalidate(_ context.Context, keys ...string) (int, error) {
	return s.fs.invalidate(keys)
}

// Cleanup drops every expired entry.
func (s *CSVStore) Cleanup(_ context.Context) (int, error) {
	return s.fs.cleanup()
}

// Len reports the number of live entries.
func (s *CSVStore) Len() int { return s.fs.len() }

// Stats reports store counters under "store".
func (s *CSVStore) Stats() map[string]any { return s.fs.statsMap() }

type csvCodec struct{}

func (csvCodec) name() string { return "csv" }

const (
	csvKindString = "s"
	csvKindBinary = "b"
)

func (csvCodec) encode(entries map[string]record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"key", "kind", "payload", "expiry_unix_nano"}); err != nil {
		return nil, err
	}
	for key, rec := range entries {
		kind := csvKindString
		payload, _ := rec.value.Text()
		if raw, ok := rec.value.Binary(); ok {
			kind = csvKindBinary
			payload = base64.StdEncoding.EncodeToString(raw)
		}
		expiry := "0"
		if !rec.expiry.IsZero() {
			expiry = strconv.FormatInt(rec.expiry.UnixNano(), 10)
		}
		if err := w.Write([]string{key, kind, payload, expiry}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func (csvCodec) decode(data []byte) (map[string]record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 4

	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]record{}, nil
	}

	entries := make(map[string]record, len(rows)-1)
	for i, row := range rows[1:] {
		key, kind, payload, expiryField := row[0], row[1], row[2], row[3]

		var value types.Value
		switch kind {
		case csvKindString:
			value = types.StringValue(payload)
		case csvKindBinary:
			raw, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				return nil, fmt.Errorf("row %d: decoding binary payload: %w", i+2, err)
			}
			value = types.BytesValue(raw)
		default:
			return nil, fmt.Errorf("row %d: unknown value kind %q", i+2, kind)
		}

		nanos, err := strconv.ParseInt(expiryField, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: parsing expiry: %w", i+2, err)
		}
		var expiry time.Time
		if nanos != 0 {
			expiry = time.Unix(0, nanos)
		}
		entries[key] = record{value: value, expiry: expiry}
	}
	return entries, nil
}

// NewAlbumYearStore is the CSV tier holding album release-year lookups.
func NewAlbumYearStore(path string, clock types.Clock, logger *slog.Logger) (*CSVStore, error) {
	store, err := NewCSVStore(path, 0, clock, logger)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeConfigLoad, "opening album year store").WithCause(err)
	}
	return store, nil
}
