package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stringerPart struct{ s string }

func (p stringerPart) String() string { return p.s }

func TestHashKey_Deterministic(t *testing.T) {
	t.Parallel()

	first := HashKey("radiohead", "ok computer")
	second := HashKey("radiohead", "ok computer")
	assert.Equal(t, first, second, "structurally equal keys must hash identically")
	assert.Len(t, first, 64)
}

func TestHashKey_OrderMatters(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, HashKey("a", "b"), HashKey("b", "a"))
}

func TestHashKey_MixedParts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts []any
	}{
		{"strings", []any{"artist", "album"}},
		{"bytes", []any{[]byte{0x01, 0x02}}},
		{"stringer", []any{stringerPart{"provider"}}},
		{"numbers", []any{42, 3.14}},
		{"nil part", []any{nil, "x"}},
	}

	seen := map[string]string{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := HashKey(tt.parts...)
			require.Len(t, key, 64)
			prev, dup := seen[key]
			require.False(t, dup, "collision with case %q", prev)
			seen[key] = tt.name
		})
	}
}

func TestHashKey_NumbersAreTypeTagged(t *testing.T) {
	t.Parallel()

	// int 1 and string "1" must not collide.
	assert.NotEqual(t, HashKey(1), HashKey("1"))
	assert.NotEqual(t, HashKey(int64(1)), HashKey(1))
}

func TestHashKey_LargeInput(t *testing.T) {
	t.Parallel()

	parts := make([]any, 100)
	for i := range parts {
		parts[i] = fmt.Sprintf("part-%d", i)
	}
	assert.Len(t, HashKey(parts...), 64)
}
