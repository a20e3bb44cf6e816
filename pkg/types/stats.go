package types

// CacheStats is the shared counter block every wrapper maintains. Each
// wrapper updates the subset of counters relevant to it and exposes the
// block under its own name inside the merged stats map.
type CacheStats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Sets          uint64 `json:"sets"`
	Invalidations uint64 `json:"invalidations"`
	Cleanups      uint64 `json:"cleanups"`
	Evictions     uint64 `json:"evictions"`
	Errors        uint64 `json:"errors"`
}

// HitRatio derives the hit ratio from hits and misses.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Map renders the counters as a stats sub-map.
func (s CacheStats) Map() map[string]any {
	return map[string]any{
		"hits":          s.Hits,
		"misses":        s.Misses,
		"sets":          s.Sets,
		"invalidations": s.Invalidations,
		"cleanups":      s.Cleanups,
		"evictions":     s.Evictions,
		"errors":        s.Errors,
		"hit_ratio":     s.HitRatio(),
	}
}

// MergeStats overlays the outer wrapper's stats map on the backend's map.
// The outer wrapper's keys win on conflict; neither input is mutated.
func MergeStats(backend, outer map[string]any) map[string]any {
	merged := make(map[string]any, len(backend)+len(outer))
	for k, v := range backend {
		merged[k] = v
	}
	for k, v := range outer {
		merged[k] = v
	}
	return merged
}
