package idspace

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// State is the scanning state of a single ID within a worker.
type State int

const (
	// StateRetired means the ID is never scanned again by this worker.
	StateRetired State = iota

	// StateUntracked means the ID is active but no batch has confirmed an owner yet.
	StateUntracked

	// StateTracked means the ID is active and has been seen with an owner.
	StateTracked
)

// String returns the lowercase state name used in logs.
func (s State) String() string {
	switch s {
	case StateUntracked:
		return "untracked"
	case StateTracked:
		return "tracked"
	default:
		return "retired"
	}
}

// Tracker holds the per-worker ID state: an ordered arena of slots walked by
// a wrapping cursor, plus bitmaps for active and tracked membership.
//
// Retiring an ID only clears its bit; the slot becomes a tombstone that the
// cursor skips. Tombstones are compacted when the cursor wraps back to the
// first slot, so the relative order of live IDs never changes mid-wrap and a
// removal cannot make the cursor skip or revisit an ID.
//
// A Tracker is owned by a single worker and is not safe for concurrent use.
type Tracker struct {
	slots   []uint64
	cursor  int
	dead    int
	active  *roaring64.Bitmap
	tracked *roaring64.Bitmap
}

// NewTracker builds a tracker over the given ranges in order. IDs repeated by
// overlapping ranges keep their first position.
func NewTracker(ranges []Range) *Tracker {
	t := &Tracker{
		slots:   make([]uint64, 0, Total(ranges)),
		active:  roaring64.New(),
		tracked: roaring64.New(),
	}

	for _, r := range ranges {
		for id := r.Start; id < r.End; id++ {
			if t.active.CheckedAdd(id) {
				t.slots = append(t.slots, id)
			}
		}
	}

	return t
}

// Len returns the number of active IDs.
func (t *Tracker) Len() int {
	return int(t.active.GetCardinality())
}

// TrackedLen returns the number of tracked IDs.
func (t *Tracker) TrackedLen() int {
	return int(t.tracked.GetCardinality())
}

// IsActive reports whether id is still scanned.
func (t *Tracker) IsActive(id uint64) bool {
	return t.active.Contains(id)
}

// IsTracked reports whether id has been confirmed owned at least once.
func (t *Tracker) IsTracked(id uint64) bool {
	return t.tracked.Contains(id)
}

// State returns the state of id. IDs outside the assigned space are retired.
func (t *Tracker) State(id uint64) State {
	switch {
	case t.tracked.Contains(id):
		return StateTracked
	case t.active.Contains(id):
		return StateUntracked
	default:
		return StateRetired
	}
}

// MarkTracked moves an active id to the tracked state. It returns false when
// id is retired or already tracked.
func (t *Tracker) MarkTracked(id uint64) bool {
	if !t.active.Contains(id) {
		return false
	}
	return t.tracked.CheckedAdd(id)
}

// Retire removes id from the active and tracked sets for good. It returns
// false when id was not active.
func (t *Tracker) Retire(id uint64) bool {
	if !t.active.CheckedRemove(id) {
		return false
	}
	t.tracked.Remove(id)
	t.dead++
	return true
}

// Seek moves the cursor to the given slot offset, modulo the slot count.
func (t *Tracker) Seek(offset int) {
	if len(t.slots) == 0 || offset < 0 {
		t.cursor = 0
		return
	}
	t.cursor = offset % len(t.slots)
}

// Next draws n distinct active IDs starting at the cursor, wrapping around
// the arena. It returns nil when fewer than n IDs are active.
func (t *Tracker) Next(n int) []uint64 {
	if n <= 0 || t.Len() < n {
		return nil
	}

	batch := make([]uint64, 0, n)
	for len(batch) < n {
		if t.cursor >= len(t.slots) {
			t.cursor = 0
			t.compact()
		}

		id := t.slots[t.cursor]
		t.cursor++
		if t.active.Contains(id) {
			batch = append(batch, id)
		}
	}

	return batch
}

// compact drops tombstoned slots. Only called with the cursor at zero.
func (t *Tracker) compact() {
	if t.dead == 0 {
		return
	}

	live := t.slots[:0]
	for _, id := range t.slots {
		if t.active.Contains(id) {
			live = append(live, id)
		}
	}
	clear(t.slots[len(live):])
	t.slots = live
	t.dead = 0
}
