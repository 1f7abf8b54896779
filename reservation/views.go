package reservation

import (
	"context"
	"fmt"
)

// =============================================================================
// DASHBOARD - What a group needs to look at
// =============================================================================

// Dashboard buckets bookings from one group's point of view.
type Dashboard struct {
	Group Group

	// Deroga requests waiting for this group's answer.
	DerogaRequests []Booking
	// Every approved booking, by start date.
	Approved []Booking
	// Negotiations waiting for this group's answer.
	RequiresAttention []Booking
	// This group's own open negotiations, whoever they wait on.
	MyRequests []Booking
}

// BuildDashboard loads the dashboard buckets for g.
func BuildDashboard(ctx context.Context, s Store, g Group) (*Dashboard, error) {
	d := &Dashboard{Group: g}

	var err error
	if d.DerogaRequests, err = s.FindBookings(ctx, BookingFilter{
		Statuses: []Status{StatusDeroga}, PendingWith: &g,
	}); err != nil {
		return nil, fmt.Errorf("failed to load deroga requests: %w", err)
	}
	if d.Approved, err = s.FindBookings(ctx, BookingFilter{
		Statuses: []Status{StatusApproved},
	}); err != nil {
		return nil, fmt.Errorf("failed to load approved bookings: %w", err)
	}
	if d.RequiresAttention, err = s.FindBookings(ctx, BookingFilter{
		Statuses: []Status{StatusNegotiation}, PendingWith: &g,
	}); err != nil {
		return nil, fmt.Errorf("failed to load pending negotiations: %w", err)
	}
	if d.MyRequests, err = s.FindBookings(ctx, BookingFilter{
		Statuses: []Status{StatusNegotiation}, Owner: &g,
	}); err != nil {
		return nil, fmt.Errorf("failed to load own negotiations: %w", err)
	}
	return d, nil
}

// =============================================================================
// CALENDAR FEED
// =============================================================================

// Event colours, as rendered by the calendar front end.
const (
	ColorApprovedA    = "green"
	ColorApprovedB    = "blue"
	ColorOwnPending   = "gold"
	ColorOtherPending = "orange"
	ColorDeroga       = "gray"
)

// CalendarEvent is one booking as seen by a viewer group.
type CalendarEvent struct {
	ID          BookingID
	Title       string
	Owner       Group
	Range       DateRange
	Status      Status
	PendingWith *Group
	Color       string
}

// CalendarEvents lists visible bookings, optionally restricted to a window.
// Cancelled and rejected bookings are not shown.
func CalendarEvents(ctx context.Context, s Store, viewer Group, window *DateRange) ([]CalendarEvent, error) {
	bookings, err := s.FindBookings(ctx, BookingFilter{
		Statuses:    []Status{StatusNegotiation, StatusApproved, StatusDeroga},
		Overlapping: window,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar: %w", err)
	}

	events := make([]CalendarEvent, 0, len(bookings))
	for _, b := range bookings {
		events = append(events, CalendarEvent{
			ID:          b.ID,
			Title:       b.Title,
			Owner:       b.Owner,
			Range:       b.Range,
			Status:      b.Status,
			PendingWith: b.PendingWith,
			Color:       eventColor(&b, viewer),
		})
	}
	return events, nil
}

func eventColor(b *Booking, viewer Group) string {
	switch b.Status {
	case StatusApproved:
		if b.Owner == GroupA {
			return ColorApprovedA
		}
		return ColorApprovedB
	case StatusNegotiation:
		if b.Owner == viewer {
			return ColorOwnPending
		}
		return ColorOtherPending
	}
	return ColorDeroga
}

// =============================================================================
// PENDING DIGEST - Periodic reminder of bookings waiting on a group
// =============================================================================

// PendingDigest lists the bookings one group has to act on.
type PendingDigest struct {
	Group    Group
	Bookings []Booking
}

// PendingDigests returns one digest per group with at least one booking waiting on it.
func PendingDigests(ctx context.Context, s Store) ([]PendingDigest, error) {
	var digests []PendingDigest
	for _, g := range Groups {
		bookings, err := s.FindBookings(ctx, BookingFilter{PendingWith: &g})
		if err != nil {
			return nil, fmt.Errorf("failed to load bookings pending with %s: %w", g, err)
		}
		if len(bookings) == 0 {
			continue
		}
		digests = append(digests, PendingDigest{Group: g, Bookings: bookings})
	}
	return digests, nil
}
