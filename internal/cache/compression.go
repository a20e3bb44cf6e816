package cache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// Algorithm selects the compression codec.
type Algorithm string

const (
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmZstd   Algorithm = "zstd"
	AlgorithmBrotli Algorithm = "brotli"
)

// Compressed payloads carry a four-byte marker so decompression dispatches
// unambiguously; unmarked payloads pass through untouched.
var (
	markerGzip   = []byte{'t', 'f', 'c', 0x01}
	markerZstd   = []byte{'t', 'f', 'c', 0x02}
	markerBrotli = []byte{'t', 'f', 'c', 0x03}
)

const markerLen = 4

// CompressionMetrics tracks running compression totals.
type CompressionMetrics struct {
	CompressOps    uint64
	DecompressOps  uint64
	SkippedSmall   uint64
	SkippedLarger  uint64
	Failures       uint64
	BytesIn        uint64
	BytesOut       uint64
	CompressTime   time.Duration
	DecompressTime time.Duration
}

// Ratio returns compressed-to-original size ratio over all compressed writes.
func (m CompressionMetrics) Ratio() float64 {
	if m.BytesIn == 0 {
		return 0
	}
	return float64(m.BytesOut) / float64(m.BytesIn)
}

// SavingsPercent returns the space saved by compression as a percentage.
func (m CompressionMetrics) SavingsPercent() float64 {
	if m.BytesIn == 0 {
		return 0
	}
	return (1 - m.Ratio()) * 100
}

// Compressor applies threshold-triggered compression with marker-prefixed
// output.
type Compressor struct {
	algorithm Algorithm
	threshold int
	level     int
	clock     types.Clock
	logger    *slog.Logger

	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder

	mu      sync.Mutex
	metrics CompressionMetrics
}

// CompressorConfig configures a Compressor.
type CompressorConfig struct {
	Algorithm      Algorithm
	ThresholdBytes int
	Level          int
	Clock          types.Clock
	Logger         *slog.Logger
}

// NewCompressor validates the algorithm eagerly; an unsupported algorithm is
// a configuration error, never a silent fallback.
func NewCompressor(config *CompressorConfig) (*Compressor, error) {
	if config == nil {
		config = &CompressorConfig{}
	}
	if config.Algorithm == "" {
		config.Algorithm = AlgorithmGzip
	}
	if config.ThresholdBytes < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "compression threshold %d must not be negative", config.ThresholdBytes)
	}
	if config.Level == 0 {
		config.Level = 6
	}
	if config.Clock == nil {
		config.Clock = types.SystemClock
	}
	if config.Logger == nil {
		config.Logger = slog.Default().With("component", "compression")
	}

	c := &Compressor{
		algorithm: config.Algorithm,
		threshold: config.ThresholdBytes,
		level:     config.Level,
		clock:     config.Clock,
		logger:    config.Logger,
	}

	switch config.Algorithm {
	case AlgorithmGzip, AlgorithmBrotli:
	case AlgorithmZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(config.Level)))
		if err != nil {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "failed to initialize zstd encoder").WithCause(err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "failed to initialize zstd decoder").WithCause(err)
		}
		c.zstdEnc = enc
		c.zstdDec = dec
	default:
		return nil, errors.Newf(errors.ErrCodeUnsupportedAlgorithm, "unsupported compression algorithm %q", config.Algorithm)
	}

	return c, nil
}

// ShouldCompress applies the byte-size threshold.
func (c *Compressor) ShouldCompress(data []byte) bool {
	return len(data) >= c.threshold
}

// Compress returns the marker-prefixed compressed form, or the original
// bytes unchanged when the payload is below the threshold, compression does
// not shrink it, or the codec fails. Writes never fail on compression.
func (c *Compressor) Compress(data []byte) []byte {
	if !c.ShouldCompress(data) {
		c.bump(func(m *CompressionMetrics) { m.SkippedSmall++ })
		return data
	}

	start := c.clock.Now()
	compressed, err := c.encode(data)
	elapsed := c.clock.Now().Sub(start)

	if err != nil {
		c.logger.Warn("compression failed, storing uncompressed", "algorithm", c.algorithm, "error", err)
		c.bump(func(m *CompressionMetrics) { m.Failures++ })
		return data
	}

	// Keep the compressed form only when strictly smaller than the original.
	if len(compressed) >= len(data) {
		c.bump(func(m *CompressionMetrics) { m.SkippedLarger++ })
		return data
	}

	c.bump(func(m *CompressionMetrics) {
		m.CompressOps++
		m.BytesIn += uint64(len(data))
		m.BytesOut += uint64(len(compressed))
		m.CompressTime += elapsed
	})
	return compressed
}

// Decompress inspects the marker: unmarked data passes through (legacy and
// small values), a recognized marker with a corrupt payload is a hard
// decompression error.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	marker, payload := splitMarker(data)
	if marker == "" {
		return data, nil
	}

	start := c.clock.Now()
	var (
		out []byte
		err error
	)
	switch marker {
	case string(markerGzip):
		out, err = gunzip(payload)
	case string(markerZstd):
		out, err = c.unzstd(payload)
	case string(markerBrotli):
		out, err = unbrotli(payload)
	}
	elapsed := c.clock.Now().Sub(start)

	if err != nil {
		c.bump(func(m *CompressionMetrics) { m.Failures++ })
		return nil, errors.New(errors.ErrCodeDecompressionFailed, "corrupt compressed payload").WithCause(err)
	}

	c.bump(func(m *CompressionMetrics) {
		m.DecompressOps++
		m.DecompressTime += elapsed
	})
	return out, nil
}

func (c *Compressor) encode(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmGzip:
		var buf bytes.Buffer
		buf.Write(markerGzip)
		w, err := gzip.NewWriterLevel(&buf, c.level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case AlgorithmZstd:
		out := make([]byte, markerLen, markerLen+len(data)/2)
		copy(out, markerZstd)
		return c.zstdEnc.EncodeAll(data, out), nil
	case AlgorithmBrotli:
		var buf bytes.Buffer
		buf.Write(markerBrotli)
		w := brotli.NewWriterLevel(&buf, c.level)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, errors.Newf(errors.ErrCodeUnsupportedAlgorithm, "unsupported compression algorithm %q", c.algorithm)
}

func (c *Compressor) unzstd(payload []byte) ([]byte, error) {
	if c.zstdDec == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		c.zstdDec = dec
	}
	return c.zstdDec.DecodeAll(payload, nil)
}

func gunzip(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func unbrotli(payload []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(payload)))
}

func splitMarker(data []byte) (string, []byte) {
	if len(data) < markerLen {
		return "", data
	}
	head := data[:markerLen]
	switch {
	case bytes.Equal(head, markerGzip), bytes.Equal(head, markerZstd), bytes.Equal(head, markerBrotli):
		return string(head), data[markerLen:]
	}
	return "", data
}

func (c *Compressor) bump(update func(*CompressionMetrics)) {
	c.mu.Lock()
	update(&c.metrics)
	c.mu.Unlock()
}

// Metrics returns a snapshot of compression totals.
func (c *Compressor) Metrics() CompressionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// CompressingCache transparently compresses values on the way into a backend
// and reverses the transformation on the way out, preserving the logical
// string/binary kind across the round trip.
type CompressingCache struct {
	backend    types.Cache
	compressor *Compressor
	logger     *slog.Logger

	statsMu sync.Mutex
	stats   types.CacheStats
}

// NewCompressingCache wraps backend with transparent compression.
func NewCompressingCache(backend types.Cache, compressor *Compressor, logger *slog.Logger) (*CompressingCache, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "compression wrapper requires a backend")
	}
	if compressor == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "compression wrapper requires a compressor")
	}
	if logger == nil {
		logger = slog.Default().With("component", "compressing-cache")
	}
	return &CompressingCache{backend: backend, compressor: compressor, logger: logger}, nil
}

// Set serializes the typed value, compresses it, and stores the opaque bytes.
// The zero Value has no wire tag and is rejected here rather than silently
// round-tripping to a miss.
func (c *CompressingCache) Set(ctx context.Context, key string, value types.Value, ttl time.Duration) error {
	if value.IsZero() {
		return errors.New(errors.ErrCodeValueShape, "cannot store the absent value")
	}
	packed := c.compressor.Compress(value.Encode())
	c.statsMu.Lock()
	c.stats.Sets++
	c.statsMu.Unlock()
	return c.backend.Set(ctx, key, types.BytesValue(packed), ttl)
}

// Get reverses Set: decompress, then decode the tagged value. A corrupt
// payload with a recognized marker surfaces as a hard error; an undecodable
// legacy value degrades to a logged miss.
func (c *CompressingCache) Get(ctx context.Context, key string) (types.Value, bool, error) {
	stored, ok, err := c.backend.Get(ctx, key)
	if err != nil || !ok {
		c.record(ok, err)
		return types.Value{}, false, err
	}

	raw, isBinary := stored.Binary()
	if !isBinary {
		// The backend returned a value this wrapper did not write; hand it
		// through unchanged.
		c.record(true, nil)
		return stored, true, nil
	}

	unpacked, err := c.compressor.Decompress(raw)
	if err != nil {
		c.record(false, err)
		return types.Value{}, false, err
	}

	value, err := types.DecodeValue(unpacked)
	if err != nil {
		c.logger.Warn("cached payload failed shape validation, treating as miss", "key", key, "error", err)
		c.record(false, nil)
		return types.Value{}, false, nil
	}

	c.record(true, nil)
	return value, true, nil
}

// Invalidate passes through to the backend.
func (c *CompressingCache) Invalidate(ctx context.Context, keys ...string) (int, error) {
	c.statsMu.Lock()
	c.stats.Invalidations++
	c.statsMu.Unlock()
	return c.backend.Invalidate(ctx, keys...)
}

// Cleanup passes through to the backend.
func (c *CompressingCache) Cleanup(ctx context.Context) (int, error) {
	c.statsMu.Lock()
	c.stats.Cleanups++
	c.statsMu.Unlock()
	return c.backend.Cleanup(ctx)
}

// Stats merges the backend's stats with the compression sub-map.
func (c *CompressingCache) Stats() map[string]any {
	m := c.compressor.Metrics()
	c.statsMu.Lock()
	own := c.stats.Map()
	c.statsMu.Unlock()

	own["algorithm"] = string(c.compressor.algorithm)
	own["threshold_bytes"] = c.compressor.threshold
	own["compress_ops"] = m.CompressOps
	own["decompress_ops"] = m.DecompressOps
	own["skipped_below_threshold"] = m.SkippedSmall
	own["skipped_not_smaller"] = m.SkippedLarger
	own["failures"] = m.Failures
	own["ratio"] = m.Ratio()
	own["savings_percent"] = m.SavingsPercent()
	return types.MergeStats(c.backend.Stats(), map[string]any{"compression": own})
}

func (c *CompressingCache) record(hit bool, err error) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if err != nil {
		c.stats.Errors++
		return
	}
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
}
