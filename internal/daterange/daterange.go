// Package daterange provides the inclusive time interval used throughout
// the free/busy engine.
package daterange

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange reports a range whose start is after its end.
var ErrInvalidRange = errors.New("daterange: start is after end")

// Range is the closed interval [Start, End]. Ranges are values; callers
// copy rather than share them.
type Range struct {
	Start time.Time
	End   time.Time
}

// Full spans every representable instant the engine deals with.
var Full = Range{
	Start: time.Time{},
	End:   time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC),
}

// New returns the range [start, end]. It does not validate the order.
func New(start, end time.Time) Range {
	return Range{Start: start, End: end}
}

// Validate returns ErrInvalidRange if Start > End. Degenerate ranges
// (Start == End) are valid.
func (r Range) Validate() error {
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	return nil
}

// InRange reports whether start <= t <= end.
func (r Range) InRange(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Overlaps reports whether either endpoint of other lies within r.
func (r Range) Overlaps(other Range) bool {
	return r.InRange(other.Start) || r.InRange(other.End)
}

// Contains reports whether both endpoints of other lie within r. Equal
// ranges contain each other.
func (r Range) Contains(other Range) bool {
	return r.InRange(other.Start) && r.InRange(other.End)
}

// Equal reports whether both endpoints denote the same instants,
// whatever their locations.
func (r Range) Equal(other Range) bool {
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

// Compare orders by Start, then End. A nil other sorts after r.
func (r Range) Compare(other *Range) int {
	if other == nil {
		return -1
	}
	if c := r.Start.Compare(other.Start); c != 0 {
		return c
	}
	return r.End.Compare(other.End)
}

// Duration is End minus Start.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// UTC returns r with both endpoints converted to UTC.
func (r Range) UTC() Range {
	return Range{Start: r.Start.UTC(), End: r.End.UTC()}
}

func (r Range) String() string {
	return r.Start.Format(time.RFC3339) + "/" + r.End.Format(time.RFC3339)
}

// StartOfMonth returns midnight on the first day of t's month, in t's location.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// StartOfNextMonth returns midnight on the first day of the month after t.
func StartOfNextMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0)
}

// SortFunc is a comparison suitable for slices.SortFunc.
func SortFunc(a, b Range) int {
	return a.Compare(&b)
}
