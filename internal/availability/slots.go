package availability

import (
	"sort"
	"strings"
	"time"
)

// Interval bounds in minutes.
const (
	MinIntervalMinutes     = 5
	MaxIntervalMinutes     = 120
	DefaultIntervalMinutes = 30
)

// ClampInterval bounds a slot length to [MinIntervalMinutes, MaxIntervalMinutes].
// Zero means "not given" and yields DefaultIntervalMinutes; negative values
// clamp to the minimum.
func ClampInterval(minutes int) int {
	switch {
	case minutes == 0:
		return DefaultIntervalMinutes
	case minutes < MinIntervalMinutes:
		return MinIntervalMinutes
	case minutes > MaxIntervalMinutes:
		return MaxIntervalMinutes
	default:
		return minutes
	}
}

// ParseInterval reads a user-supplied interval. Leading whitespace and a sign
// are accepted and parsing stops at the first non-digit, so "45min" is 45.
// Input without leading digits yields DefaultIntervalMinutes. The result is
// always clamped.
func ParseInterval(s string) int {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	n, digits := 0, 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		digits++
		if n <= MaxIntervalMinutes*10 {
			n = n*10 + int(r-'0')
		}
	}
	if digits == 0 {
		return DefaultIntervalMinutes
	}
	if neg {
		n = -n
	}
	return ClampInterval(n)
}

// Overlaps reports whether [start, end) and w share any instant, that is
// max(start, w.Start) < min(end, w.End). Intervals that only touch at a
// boundary do not overlap, and empty or inverted windows overlap nothing.
func Overlaps(start, end time.Time, w BusyWindow) bool {
	lo := start
	if w.Start.After(lo) {
		lo = w.Start
	}
	hi := end
	if w.End.Before(hi) {
		hi = w.End
	}
	return lo.Before(hi)
}

// MergeBusy returns the union of windows as a sorted list of disjoint
// windows. Empty and inverted windows are dropped; touching windows are
// joined. The input is not modified.
func MergeBusy(windows []BusyWindow) []BusyWindow {
	sorted := make([]BusyWindow, 0, len(windows))
	for _, w := range windows {
		if w.Start.Before(w.End) {
			sorted = append(sorted, w)
		}
	}
	if len(sorted) == 0 {
		return sorted
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := sorted[:1]
	for _, w := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !w.Start.After(last.End) {
			if w.End.After(last.End) {
				last.End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// ComputeSlots walks r from r.Start in steps of the clamped interval and
// returns every full-length candidate that overlaps none of busy. A trailing
// candidate that would end after r.End is dropped. Slots are returned in
// ascending order and labelled with timeZone.
func ComputeSlots(r TimeRange, intervalMinutes int, busy []BusyWindow, timeZone string) []Slot {
	step := time.Duration(ClampInterval(intervalMinutes)) * time.Minute
	slots := []Slot{}
	if !r.Start.Before(r.End) {
		return slots
	}

	merged := MergeBusy(busy)
	next := 0
	for start := r.Start; !start.Add(step).After(r.End); start = start.Add(step) {
		end := start.Add(step)

		// Windows ending at or before start cannot overlap this or any later
		// candidate.
		for next < len(merged) && !merged[next].End.After(start) {
			next++
		}
		if next < len(merged) && Overlaps(start, end, merged[next]) {
			continue
		}

		slots = append(slots, Slot{Start: start, End: end, TimeZone: timeZone})
	}
	return slots
}
