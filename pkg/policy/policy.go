// Package policy decides, from a batch observation and an optional detail
// record, what happens to a scanned group ID.
package policy

import "github.com/Sternrassler/group-scanner/pkg/groupapi"

// Action is the outcome of a decision for one ID.
type Action int

const (
	// Keep leaves the ID as it is; it is checked again on the next pass.
	Keep Action = iota

	// Retire removes the ID from scanning for the rest of the run.
	Retire

	// Track marks the ID as confirmed owned.
	Track

	// Inspect requests the full group record before deciding.
	Inspect

	// Report announces the group as claimable, then retires it.
	Report
)

// String returns the lowercase action name used in logs and metric labels.
func (a Action) String() string {
	switch a {
	case Keep:
		return "keep"
	case Retire:
		return "retire"
	case Track:
		return "track"
	case Inspect:
		return "inspect"
	case Report:
		return "report"
	default:
		return "unknown"
	}
}

// Observation is what one batch response says about one ID.
type Observation struct {
	// Present is false when the response did not include the ID.
	Present bool

	// HasOwner is only meaningful when Present is true.
	HasOwner bool
}

// Observe looks id up in a batch result.
func Observe(result groupapi.BatchResult, id uint64) Observation {
	owned, ok := result[id]
	return Observation{Present: ok, HasOwner: owned}
}

// Decide returns the action for id given whether it is already tracked and
// the latest observation. A cutoff of 0 means no cutoff: every ID missing
// from a response is treated as nonexistent. Otherwise only IDs at or above
// the cutoff are; lower IDs are kept for the next pass.
func Decide(id uint64, tracked bool, obs Observation, cutoff uint64) Action {
	if !obs.Present {
		if cutoff == 0 || id >= cutoff {
			return Retire
		}
		return Keep
	}

	switch {
	case !tracked && obs.HasOwner:
		return Track
	case !tracked:
		// Ownerless on first sight: locked or approval-only.
		return Retire
	case obs.HasOwner:
		return Keep
	default:
		return Inspect
	}
}

// Claimable reports whether a group can be joined and claimed by anyone.
func Claimable(d *groupapi.GroupDetail) bool {
	return d != nil && d.PublicEntryAllowed && !d.HasOwner && !d.Locked
}

// Resolve finishes an Inspect decision from the group's detail record.
func Resolve(d *groupapi.GroupDetail) Action {
	if Claimable(d) {
		return Report
	}
	return Retire
}
