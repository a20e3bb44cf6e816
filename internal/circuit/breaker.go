// Package circuit wraps any cache backend with a three-state circuit breaker
// so a failing backend cannot cascade its failures into every lookup path.
package circuit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trackforge/trackforge/pkg/errors"
	"github.com/trackforge/trackforge/pkg/types"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed - requests pass through.
	StateClosed State = iota
	// StateOpen - requests are rejected until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen - a limited budget of probe requests tests recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration.
type Config struct {
	// Name identifies the breaker in logs and stats.
	Name string `yaml:"name"`

	// FailureThreshold is the number of failures inside MonitoringWindow
	// that trips the breaker open.
	FailureThreshold int `yaml:"failure_threshold"`

	// MonitoringWindow is the sliding window over which failures count.
	MonitoringWindow time.Duration `yaml:"monitoring_window"`

	// RecoveryTimeout is how long the breaker stays open before admitting
	// a probe.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// SuccessThreshold is the number of half-open successes that close the
	// breaker.
	SuccessThreshold int `yaml:"success_threshold"`

	// MaxHalfOpenRequests caps concurrent half-open probes.
	MaxHalfOpenRequests int `yaml:"max_half_open_requests"`

	Clock  types.Clock  `yaml:"-"`
	Logger *slog.Logger `yaml:"-"`
}

// Metrics holds the breaker's counters and the sliding failure window.
type Metrics struct {
	Total            uint64 `json:"total"`
	Successes        uint64 `json:"successes"`
	Failures         uint64 `json:"failures"`
	Blocked          uint64 `json:"blocked"`
	RecoveryAttempts uint64 `json:"recovery_attempts"`
	Opens            uint64 `json:"opens"`
	Closes           uint64 `json:"closes"`
}

// BreakerCache wraps a cache backend with the circuit breaker pattern. All
// state transitions happen under one lock; backend calls happen outside it.
type BreakerCache struct {
	backend types.Cache
	config  Config
	logger  *slog.Logger
	clock   types.Clock

	mu                sync.Mutex
	state             State
	lastTransition    time.Time
	halfOpenInFlight  int
	halfOpenSuccesses int
	failureTimes      []time.Time
	metrics           Metrics
}

// New creates a circuit-breaker wrapper around backend, applying defaults
// for zero config fields and rejecting invalid ones eagerly.
func New(backend types.Cache, config Config) (*BreakerCache, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "circuit breaker requires a backend")
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.FailureThreshold < 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "failure_threshold must be positive")
	}
	if config.MonitoringWindow <= 0 {
		config.MonitoringWindow = 60 * time.Second
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.MaxHalfOpenRequests == 0 {
		config.MaxHalfOpenRequests = 1
	}
	if config.MaxHalfOpenRequests < 0 {
		return nil, errors.New(errors.ErrCodeInvalidConcurrency, "max_half_open_requests must be positive")
	}
	if config.Name == "" {
		config.Name = "cache"
	}
	if config.Clock == nil {
		config.Clock = types.SystemClock
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "circuit-breaker", "breaker", config.Name)
	}

	return &BreakerCache{
		backend:        backend,
		config:         config,
		logger:         logger,
		clock:          config.Clock,
		state:          StateClosed,
		lastTransition: config.Clock.Now(),
	}, nil
}

// admit takes the admission decision under the state lock. The first check
// after the recovery timeout moves open to half-open and is itself admitted
// as a probe.
func (b *BreakerCache) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case StateClosed:
		b.metrics.Total++
		return true

	case StateOpen:
		if now.Sub(b.lastTransition) >= b.config.RecoveryTimeout {
			b.transitionLocked(StateHalfOpen, now)
			b.metrics.RecoveryAttempts++
			b.halfOpenInFlight = 1
			b.metrics.Total++
			return true
		}
		b.metrics.Blocked++
		return false

	case StateHalfOpen:
		if b.halfOpenInFlight >= b.config.MaxHalfOpenRequests {
			b.metrics.Blocked++
			return false
		}
		b.halfOpenInFlight++
		b.metrics.Total++
		return true
	}
	return false
}

// recordSuccess updates breaker state after a successful backend call.
func (b *BreakerCache) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Successes++
	if b.state == StateHalfOpen {
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed, b.clock.Now())
		}
	}
}

// recordFailure updates breaker state after a failed backend call. Every
// failure category counts against the breaker.
func (b *BreakerCache) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.metrics.Failures++
	b.failureTimes = append(b.failureTimes, now)

	switch b.state {
	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.transitionLocked(StateOpen, now)
	case StateClosed:
		if b.recentFailuresLocked(now) >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen, now)
		}
	}
}

// recentFailuresLocked prunes the sliding window lazily and returns the
// failure count inside it.
func (b *BreakerCache) recentFailuresLocked(now time.Time) int {
	cutoff := now.Add(-b.config.MonitoringWindow)
	kept := b.failureTimes[:0]
	for _, t := range b.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failureTimes = kept
	return len(b.failureTimes)
}

func (b *BreakerCache) transitionLocked(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastTransition = now
	b.halfOpenSuccesses = 0
	if to != StateHalfOpen {
		b.halfOpenInFlight = 0
	}

	switch to {
	case StateOpen:
		b.metrics.Opens++
	case StateClosed:
		b.metrics.Closes++
		// A close starts a fresh monitoring window. Pre-outage failures must
		// not count against the recovery the success threshold just proved.
		b.failureTimes = nil
	}
	b.logger.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
}

// Get degrades to a miss when admission is denied or the backend fails; read
// paths never propagate backend errors, but every failure is recorded first.
func (b *BreakerCache) Get(ctx context.Context, key string) (types.Value, bool, error) {
	if !b.admit() {
		return types.Value{}, false, nil
	}

	value, ok, err := b.backend.Get(ctx, key)
	if err != nil {
		b.recordFailure()
		b.logger.Warn("backend get failed, degrading to miss",
			"key", key, "category", string(errors.Classify(err)), "error", err)
		return types.Value{}, false, nil
	}
	b.recordSuccess()
	return value, ok, nil
}

// Set is a silent no-op when admission is denied. Backend failures always
// count against the breaker; connectivity and unexpected errors re-raise so
// callers cannot silently lose writes, while data-shape errors are logged
// and swallowed.
func (b *BreakerCache) Set(ctx context.Context, key string, value types.Value, ttl time.Duration) error {
	if !b.admit() {
		return nil
	}

	err := b.backend.Set(ctx, key, value, ttl)
	if err == nil {
		b.recordSuccess()
		return nil
	}

	b.recordFailure()
	if errors.Classify(err) == errors.CategoryData {
		b.logger.Warn("backend set rejected malformed data", "key", key, "error", err)
		return nil
	}
	return err
}

// Invalidate degrades to zero removals when denied or failing.
func (b *BreakerCache) Invalidate(ctx context.Context, keys ...string) (int, error) {
	if !b.admit() {
		return 0, nil
	}

	removed, err := b.backend.Invalidate(ctx, keys...)
	if err != nil {
		b.recordFailure()
		b.logger.Warn("backend invalidate failed", "keys", len(keys), "error", err)
		return 0, nil
	}
	b.recordSuccess()
	return removed, nil
}

// Cleanup degrades to zero removals when denied or failing.
func (b *BreakerCache) Cleanup(ctx context.Context) (int, error) {
	if !b.admit() {
		return 0, nil
	}

	removed, err := b.backend.Cleanup(ctx)
	if err != nil {
		b.recordFailure()
		b.logger.Warn("backend cleanup failed", "error", err)
		return 0, nil
	}
	b.recordSuccess()
	return removed, nil
}

// State returns the current breaker state.
func (b *BreakerCache) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ForceOpen trips the breaker open for operational override.
func (b *BreakerCache) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateOpen, b.clock.Now())
}

// ForceClose closes the breaker for operational override.
func (b *BreakerCache) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureTimes = nil
	b.transitionLocked(StateClosed, b.clock.Now())
}

// ResetMetrics clears all counters and the failure window without touching
// the current state.
func (b *BreakerCache) ResetMetrics() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = Metrics{}
	b.failureTimes = nil
}

// Metrics returns a copy of the breaker's counters.
func (b *BreakerCache) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// Stats merges the backend's stats with the circuit breaker sub-map.
func (b *BreakerCache) Stats() map[string]any {
	b.mu.Lock()
	own := map[string]any{
		"name":              b.config.Name,
		"state":             b.state.String(),
		"total":             b.metrics.Total,
		"successes":         b.metrics.Successes,
		"failures":          b.metrics.Failures,
		"blocked":           b.metrics.Blocked,
		"recovery_attempts": b.metrics.RecoveryAttempts,
		"opens":             b.metrics.Opens,
		"closes":            b.metrics.Closes,
		"recent_failures":   b.recentFailuresLocked(b.clock.Now()),
	}
	b.mu.Unlock()

	return types.MergeStats(b.backend.Stats(), map[string]any{"circuit_breaker": own})
}
