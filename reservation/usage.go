/*
usage.go - Yearly occupancy per group

PURPOSE:
  Summarizes how the approved nights of a year split between the two
  groups. Shares are percentages of the booked nights, computed with
  decimal.Decimal so the two shares always add up to exactly 100.00
  when anything is booked.

SEE ALSO:
  - views.go: other read models
*/
package reservation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// GroupUsage is one group's approved occupancy in a year.
type GroupUsage struct {
	Group    Group
	Bookings int
	Nights   int
	Share    decimal.Decimal // percent of booked nights, 2 decimals
}

// UsageReport splits a year's approved nights between the groups.
type UsageReport struct {
	Year         int
	YearNights   int
	BookedNights int
	FreeNights   int
	Groups       [2]GroupUsage
}

// BuildUsageReport counts approved nights of the year, clipping bookings
// that straddle New Year.
func BuildUsageReport(ctx context.Context, s Store, year int) (*UsageReport, error) {
	window := YearRange(year)
	bookings, err := s.FindBookings(ctx, BookingFilter{
		Statuses:    []Status{StatusApproved},
		Overlapping: &window,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load approved bookings: %w", err)
	}

	report := &UsageReport{Year: year, YearNights: window.Nights()}
	for i, g := range Groups {
		report.Groups[i].Group = g
	}

	for _, b := range bookings {
		clipped, ok := b.Range.Clip(window)
		if !ok {
			continue
		}
		idx := 0
		if b.Owner == GroupB {
			idx = 1
		}
		report.Groups[idx].Bookings++
		report.Groups[idx].Nights += clipped.Nights()
		report.BookedNights += clipped.Nights()
	}
	report.FreeNights = report.YearNights - report.BookedNights

	if report.BookedNights == 0 {
		report.Groups[0].Share = decimal.Zero
		report.Groups[1].Share = decimal.Zero
		return report, nil
	}

	total := decimal.NewFromInt(int64(report.BookedNights))
	shareA := decimal.NewFromInt(int64(report.Groups[0].Nights)).
		Mul(hundred).
		DivRound(total, 2)
	report.Groups[0].Share = shareA
	report.Groups[1].Share = hundred.Sub(shareA)
	return report, nil
}
