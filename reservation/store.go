/*
store.go - Persistence interfaces for bookings, ownership periods and audit

PURPOSE:
  Defines the boundary between the negotiation logic and the database.
  The ledger never talks SQL; it asks the Store for bookings intersecting a
  range and writes whole records back.

KEY INTERFACES:
  Store:     Booking and ownership-period CRUD with range queries
  TxStore:   Store plus a serialized read-check-write scope
  AuditSink: Append-only audit writes
  AuditLog:  AuditSink plus queries

SERIALIZATION:
  WithTx is the single mutual-exclusion scope of the engine. Everything the
  ledger checks (overlaps, ownership containment, turn) and everything it
  writes happens inside one WithTx call, so two racing creates on
  overlapping dates cannot both pass the admission check. If fn returns an
  error nothing it wrote is visible.

IMPLEMENTATIONS:
  - reservation/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go:     SQLite with goose migrations

SEE ALSO:
  - ledger.go: main consumer
  - audit.go: AuditTrail over AuditLog
*/
package reservation

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// BookingFilter selects bookings. Zero fields do not filter.
//
// Overlapping matches on Booking.Occupies, so a booking under deroga is
// found through its proposed dates and through its original dates.
type BookingFilter struct {
	Statuses    []Status
	Owner       *Group
	PendingWith *Group
	Overlapping *DateRange
	ExcludeID   BookingID
}

// Match applies the filter to one booking. Stores use it for in-process filtering.
func (f BookingFilter) Match(b *Booking) bool {
	if f.ExcludeID != "" && b.ID == f.ExcludeID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if b.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Owner != nil && b.Owner != *f.Owner {
		return false
	}
	if f.PendingWith != nil && !b.IsPendingWith(*f.PendingWith) {
		return false
	}
	if f.Overlapping != nil && !b.Occupies(*f.Overlapping) {
		return false
	}
	return true
}

// PeriodFilter selects ownership periods. Zero fields do not filter.
type PeriodFilter struct {
	Group       *Group
	Overlapping *DateRange
}

func (f PeriodFilter) Match(p *OwnershipPeriod) bool {
	if f.Group != nil && p.Group != *f.Group {
		return false
	}
	if f.Overlapping != nil && !p.Range.Overlaps(*f.Overlapping) {
		return false
	}
	return true
}

// =============================================================================
// STORE
// =============================================================================

// Store persists bookings and ownership periods.
// Find* results are ordered by start date, then id.
type Store interface {
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)
	SaveBooking(ctx context.Context, b Booking) error
	FindBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)

	GetPeriod(ctx context.Context, id PeriodID) (*OwnershipPeriod, error)
	SavePeriod(ctx context.Context, p OwnershipPeriod) error
	DeletePeriod(ctx context.Context, id PeriodID) error
	FindPeriods(ctx context.Context, filter PeriodFilter) ([]OwnershipPeriod, error)
}

// TxStore wraps Store with a serialized transactional scope.
type TxStore interface {
	Store

	// WithTx executes fn exclusively against a transactional view.
	// If fn returns error, every write made through the view is discarded.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// MemberStore is the user directory used to resolve actors.
type MemberStore interface {
	SaveMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, username string) (*Member, error)
	ListMembers(ctx context.Context) ([]Member, error)
}

// =============================================================================
// AUDIT LOG - Append-only record of transitions
// =============================================================================

type AuditAction string

const (
	AuditCreated        AuditAction = "CREATED"
	AuditAutoApproved   AuditAction = "AUTO_APPROVED"
	AuditApproved       AuditAction = "APPROVED"
	AuditRejected       AuditAction = "REJECTED"
	AuditDerogaRequest  AuditAction = "DEROGA_REQUESTED"
	AuditDerogaAccepted AuditAction = "DEROGA_ACCEPTED"
	AuditDerogaRejected AuditAction = "DEROGA_REJECTED"
	AuditModified       AuditAction = "MODIFIED"
	AuditCancelled      AuditAction = "CANCELLED"
	AuditPeriodReduced  AuditAction = "PERIOD_REDUCED"
	AuditPeriodExtended AuditAction = "PERIOD_EXTENDED"
	AuditDatesUpdated   AuditAction = "DATES_UPDATED"
)

// AuditEntry records who did what to which booking.
type AuditEntry struct {
	ID        string
	BookingID BookingID
	Action    AuditAction
	Actor     Actor
	Timestamp time.Time
	Details   string
}

// AuditSink receives audit entries. Never mutated, never deleted.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// AuditLog stores and queries audit entries.
type AuditLog interface {
	AuditSink
	// Query returns matching entries newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	BookingID *BookingID
	Group     *Group
	Actions   []AuditAction
	Limit     int
}

func (f AuditFilter) Match(e *AuditEntry) bool {
	if f.BookingID != nil && e.BookingID != *f.BookingID {
		return false
	}
	if f.Group != nil && e.Actor.Group != *f.Group {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if e.Action == a {
				return true
			}
		}
		return false
	}
	return true
}
