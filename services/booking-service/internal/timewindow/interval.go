package timewindow

import "time"

// Interval is a half-open time range [Start, End). Back-to-back intervals,
// where one ends exactly when the next starts, do not overlap.
type Interval struct {
	Start time.Time
	End   time.Time
}

// New builds an interval from a start time and a duration.
func New(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

// Valid reports whether the interval is non-degenerate (End strictly after Start).
func (iv Interval) Valid() bool {
	return iv.End.After(iv.Start)
}

// Overlaps implements the standard half-open overlap test:
// [a,b) overlaps [c,d) iff a < d && c < b.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// OverlapsAny reports whether iv overlaps at least one of the given intervals.
func OverlapsAny(iv Interval, busy []Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}
