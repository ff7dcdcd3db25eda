package calendar

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned when a range does not satisfy start < end.
var ErrInvalidRange = errors.New("invalid time range: start must be before end")

// TimeRange is an immutable half-open interval [Start, End).
// The timezone of the range is the location carried by Start.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, fmt.Errorf("%w: %s >= %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeRange{Start: start, End: end.In(start.Location())}, nil
}

// MustRange is NewTimeRange for literals known to be valid.
func MustRange(start, end time.Time) TimeRange {
	r, err := NewTimeRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

func (r TimeRange) Location() *time.Location { return r.Start.Location() }

func (r TimeRange) Duration() time.Duration { return r.End.Sub(r.Start) }

func (r TimeRange) IsZero() bool { return r.Start.IsZero() && r.End.IsZero() }

// Overlaps reports whether the two ranges share at least one instant.
// Touching endpoints do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Contains reports whether o lies entirely inside r.
func (r TimeRange) Contains(o TimeRange) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

func (r TimeRange) In(loc *time.Location) TimeRange {
	return TimeRange{Start: r.Start.In(loc), End: r.End.In(loc)}
}

func (r TimeRange) Equal(o TimeRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
