package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type frozenClock struct{ now time.Time }

func (c *frozenClock) Now() time.Time          { return c.now }
func (c *frozenClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newFrozenClock() *frozenClock {
	return &frozenClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestComputeExpiry(t *testing.T) {
	t.Parallel()

	clock := newFrozenClock()

	tests := []struct {
		name       string
		ttl        time.Duration
		defaultTTL time.Duration
		want       time.Time
	}{
		{"explicit ttl", time.Minute, time.Hour, clock.Now().Add(time.Minute)},
		{"zero selects default", 0, time.Hour, clock.Now().Add(time.Hour)},
		{"negative selects default", -1, time.Hour, clock.Now().Add(time.Hour)},
		{"both zero never expires", 0, 0, time.Time{}},
		{"both negative never expires", -1, -1, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeExpiry(clock, tt.ttl, tt.defaultTTL)
			assert.True(t, got.Equal(tt.want), "ComputeExpiry() = %v, want %v", got, tt.want)
		})
	}
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	clock := newFrozenClock()

	assert.False(t, IsExpired(clock, time.Time{}), "zero expiry never expires")
	assert.False(t, IsExpired(clock, clock.Now().Add(time.Minute)))

	// An expiry equal to the current instant has not passed yet.
	exact := clock.Now()
	assert.False(t, IsExpired(clock, exact))

	expiry := clock.Now().Add(time.Minute)
	clock.advance(2 * time.Minute)
	assert.True(t, IsExpired(clock, expiry))
}
