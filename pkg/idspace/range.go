// Package idspace models the candidate group-ID space scanned by workers:
// half-open ID ranges, their partitioning across workers, and the per-worker
// Tracker that records which IDs are still worth scanning.
package idspace

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrEmptyRange is returned when a range does not contain any ID.
var ErrEmptyRange = errors.New("empty id range")

// Range is a half-open interval [Start, End) of candidate IDs.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of IDs in the range.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// String renders the range in the form accepted by ParseRange.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ParseRange parses "start-end" where end is exclusive.
func ParseRange(s string) (Range, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Range{}, fmt.Errorf("parse range %q: expected start-end", s)
	}

	start, err := strconv.ParseUint(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("parse range %q start: %w", s, err)
	}

	end, err := strconv.ParseUint(strings.TrimSpace(endStr), 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("parse range %q end: %w", s, err)
	}

	r := Range{Start: start, End: end}
	if r.Len() == 0 {
		return Range{}, fmt.Errorf("parse range %q: %w", s, ErrEmptyRange)
	}
	return r, nil
}

// ParseRanges parses every entry with ParseRange.
func ParseRanges(specs []string) ([]Range, error) {
	ranges := make([]Range, 0, len(specs))
	for _, s := range specs {
		r, err := ParseRange(s)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// Normalize removes IDs already covered by an earlier range, so every ID
// appears once and keeps the position of its first occurrence. Empty ranges
// are dropped. Disjoint input comes back with the same ranges in the same
// order.
func Normalize(ranges []Range) []Range {
	out := make([]Range, 0, len(ranges))
	var covered []Range // sorted by Start, disjoint

	for _, r := range ranges {
		if r.Len() == 0 {
			continue
		}

		start := r.Start
		for _, c := range covered {
			if c.End <= start {
				continue
			}
			if c.Start >= r.End {
				break
			}
			if c.Start > start {
				out = append(out, Range{Start: start, End: c.Start})
			}
			start = max(start, c.End)
			if start >= r.End {
				break
			}
		}
		if start < r.End {
			out = append(out, Range{Start: start, End: r.End})
		}

		covered = cover(covered, r)
	}
	return out
}

// cover adds r to the sorted, disjoint set covered, merging overlaps.
func cover(covered []Range, r Range) []Range {
	i := 0
	for i < len(covered) && covered[i].Start <= r.Start {
		i++
	}
	covered = slices.Insert(covered, i, r)

	merged := covered[:0]
	for _, c := range covered {
		if n := len(merged); n > 0 && c.Start <= merged[n-1].End {
			merged[n-1].End = max(merged[n-1].End, c.End)
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// Total returns the number of IDs across all ranges, counting overlaps twice.
// Use Normalize first to count distinct IDs.
func Total(ranges []Range) uint64 {
	var total uint64
	for _, r := range ranges {
		total += r.Len()
	}
	return total
}

// Partition splits the flattened ID space into n contiguous, disjoint slices
// of near-equal size. Overlapping input ranges are normalized first so that
// no ID is given to two slices. Earlier slices absorb the remainder. A slice may span
// several input ranges, and slices are empty when n exceeds the ID count.
func Partition(ranges []Range, n int) [][]Range {
	if n <= 0 {
		return nil
	}

	ranges = Normalize(ranges)
	total := Total(ranges)
	parts := make([][]Range, n)
	size := total / uint64(n)
	rem := total % uint64(n)

	idx := 0
	var offset uint64 // position inside ranges[idx]
	for i := 0; i < n; i++ {
		want := size
		if uint64(i) < rem {
			want++
		}

		for want > 0 && idx < len(ranges) {
			r := ranges[idx]
			left := r.Len() - offset
			if left == 0 {
				idx++
				offset = 0
				continue
			}

			take := min(want, left)
			start := r.Start + offset
			parts[i] = append(parts[i], Range{Start: start, End: start + take})
			want -= take
			offset += take
			if offset == r.Len() {
				idx++
				offset = 0
			}
		}
	}

	return parts
}
