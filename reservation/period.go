package reservation

// =============================================================================
// DATE RANGE - Check-in day to check-out day
// =============================================================================

// DateRange is a stay from Start (check-in) to End (check-out).
//
// Two ranges may share a boundary day without overlapping: one group checks
// out in the morning, the other checks in the afternoon.
type DateRange struct {
	Start Day `json:"start_date" yaml:"start_date"`
	End   Day `json:"end_date" yaml:"end_date"`
}

// NewDateRange builds a range without validating it.
func NewDateRange(start, end Day) DateRange {
	return DateRange{Start: start, End: end}
}

// Validate rejects empty and inverted ranges.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() || !r.Start.Before(r.End) {
		return &RangeError{Range: r}
	}
	return nil
}

// Overlaps reports whether the ranges share at least one night.
// The test is symmetric and boundary-exclusive.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.Start.Before(o.End) && r.End.After(o.Start)
}

// Within reports whether r lies inside o, boundaries included.
func (r DateRange) Within(o DateRange) bool {
	return r.Start.AfterOrEqual(o.Start) && r.End.BeforeOrEqual(o.End)
}

// Nights is the number of nights covered by the range.
func (r DateRange) Nights() int {
	return DaysBetween(r.Start, r.End)
}

// Clip returns the part of r inside o, and false when they do not overlap.
func (r DateRange) Clip(o DateRange) (DateRange, bool) {
	if !r.Overlaps(o) {
		return DateRange{}, false
	}
	out := r
	if o.Start.After(out.Start) {
		out.Start = o.Start
	}
	if o.End.Before(out.End) {
		out.End = o.End
	}
	return out, true
}

// Equal compares both boundaries.
func (r DateRange) Equal(o DateRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

func (r DateRange) String() string {
	return r.Start.String() + " - " + r.End.String()
}

// YearRange covers January 1st of year up to January 1st of the next year.
func YearRange(year int) DateRange {
	return DateRange{Start: StartOfYear(year), End: StartOfYear(year + 1)}
}
