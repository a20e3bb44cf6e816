package types

import "time"

// ComputeExpiry is the single source of truth for TTL arithmetic: every tier
// derives expiry through it rather than doing ad hoc comparisons. A
// non-positive ttl selects defaultTTL; if both are non-positive the entry
// never expires (zero time).
func ComputeExpiry(clock Clock, ttl, defaultTTL time.Duration) time.Time {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return clock.Now().Add(ttl)
}

// IsExpired reports whether an expiry produced by ComputeExpiry has passed.
// The zero time means "never expires".
func IsExpired(clock Clock, expiry time.Time) bool {
	if expiry.IsZero() {
		return false
	}
	return clock.Now().After(expiry)
}
