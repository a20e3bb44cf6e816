// Package retry provides retry logic with exponential backoff for cache
// warming producers and snapshot I/O.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/trackforge/trackforge/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier grows the delay after each attempt.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter randomizes delays to avoid thundering-herd retries.
	Jitter bool `yaml:"jitter"`

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// DefaultConfig returns the retry settings used by the warming subsystem.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes functions with exponential backoff.
type Retryer struct {
	config Config
}

// New creates a Retryer, applying defaults for zero fields.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do runs fn until it succeeds, the error is not retryable, attempts are
// exhausted, or ctx is done. The last error is wrapped with RETRY_EXHAUSTED
// when the attempt budget runs out.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.New(errors.ErrCodeOperationCanceled, "retry canceled").WithCause(err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.delayFor(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.New(errors.ErrCodeOperationCanceled, "retry canceled during backoff").WithCause(ctx.Err())
		case <-timer.C:
		}
	}

	return errors.Newf(errors.ErrCodeRetryExhausted, "gave up after %d attempts", r.config.MaxAttempts).
		WithCause(lastErr)
}

// delayFor computes the backoff delay for the given 1-based attempt.
func (r *Retryer) delayFor(attempt int) time.Duration {
	backoff := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if backoff > float64(r.config.MaxDelay) {
		backoff = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		// Full jitter keeps retries spread between 50% and 100% of backoff.
		backoff = backoff/2 + rand.Float64()*backoff/2
	}
	return time.Duration(backoff)
}
