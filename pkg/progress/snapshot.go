package progress

import (
	"time"
)

// DefaultKey prefixes the Redis keys that hold the shared progress state.
const DefaultKey = "groupscan:progress"

// Key suffixes below DefaultKey (or a configured prefix).
const (
	suffixChecked    = ":checked"
	suffixLastUpdate = ":last_update"
)

// Snapshot is the progress state as seen by one process.
type Snapshot struct {
	// Local is the number of IDs checked by this process.
	Local int64 `json:"local"`

	// Global is the total across every process sharing the Redis key.
	// Equal to Local when no mirror is configured.
	Global int64 `json:"global"`

	// LastUpdate is when any process last flushed to Redis.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if no process has flushed within maxAge.
func (s *Snapshot) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// PerMinute converts a count over elapsed into a checks-per-minute rate.
// Returns 0 for a non-positive elapsed time.
func PerMinute(delta int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(delta) / elapsed.Minutes()
}
