package schedule

import (
	"fmt"
	"time"
)

// Bounds optionally limits the effective time range a schedule covers.
type Bounds struct {
	StartMs *int64 // Inclusive lower bound, nil if unbounded
	EndMs   *int64 // Upper bound, nil if unbounded
}

// NewBounds builds bounds from optional times.
func NewBounds(start, end *time.Time) Bounds {
	var b Bounds
	if start != nil {
		ms := start.UnixMilli()
		b.StartMs = &ms
	}
	if end != nil {
		ms := end.UnixMilli()
		b.EndMs = &ms
	}
	return b
}

// IsZero reports whether neither bound is set.
func (b Bounds) IsZero() bool {
	return b.StartMs == nil && b.EndMs == nil
}

// Validate enforces start <= end when both are present.
func (b Bounds) Validate() error {
	if b.StartMs != nil && b.EndMs != nil && *b.StartMs > *b.EndMs {
		return fmt.Errorf("%w: start %s is after end %s",
			ErrInvalidBounds,
			time.UnixMilli(*b.StartMs).UTC().Format(time.RFC3339),
			time.UnixMilli(*b.EndMs).UTC().Format(time.RFC3339))
	}
	return nil
}

func (b Bounds) String() string {
	start, end := "-inf", "+inf"
	if b.StartMs != nil {
		start = time.UnixMilli(*b.StartMs).UTC().Format(time.RFC3339)
	}
	if b.EndMs != nil {
		end = time.UnixMilli(*b.EndMs).UTC().Format(time.RFC3339)
	}
	return "[" + start + ", " + end + "]"
}
