package types

import (
	"context"
	"time"
)

// Cache is the capability contract every tier and wrapper in the caching
// engine implements and consumes. Wrappers take a backend Cache and expose
// the same interface, so any subset can be stacked in any order.
type Cache interface {
	// Get returns the value stored under key. A clean miss is not an error:
	// ok is false and err is nil. Implementations never return an error for
	// simple absence.
	Get(ctx context.Context, key string) (Value, bool, error)

	// Set stores value under key. A zero ttl selects the implementation's
	// default TTL.
	Set(ctx context.Context, key string, value Value, ttl time.Duration) error

	// Invalidate removes the given keys and reports how many entries were
	// actually removed.
	Invalidate(ctx context.Context, keys ...string) (int, error)

	// Cleanup removes expired or over-capacity entries and reports how many
	// were removed.
	Cleanup(ctx context.Context) (int, error)

	// Stats returns a structured statistics map. Wrappers merge their own
	// named sub-map over the backend's map; the outer wrapper's keys win on
	// conflict.
	Stats() map[string]any
}

// Clock abstracts time for TTL arithmetic so expiry behavior is testable
// under a controllable clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock used when no clock is injected.
var SystemClock Clock = systemClock{}

// ReleaseCandidate is one scored result from a metadata lookup service.
type ReleaseCandidate struct {
	Artist string  `json:"artist"`
	Album  string  `json:"album"`
	Year   int     `json:"year"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// MetadataProvider is the boundary to an external metadata lookup service.
// Provider implementations live outside the cache engine; the engine only
// sees them through warming producers and specialized tiers.
type MetadataProvider interface {
	Name() string
	LookupAlbumYear(ctx context.Context, artist, album string) (int, error)
	SearchReleases(ctx context.Context, query string) ([]ReleaseCandidate, error)
}

// TrackUpdater is the boundary to the desktop music application's scripting
// bridge. The cache engine never calls it directly; orchestration code does.
type TrackUpdater interface {
	UpdateTrackYear(ctx context.Context, trackID string, year int) error
	UpdateTrackGenre(ctx context.Context, trackID string, genre string) error
}
