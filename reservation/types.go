/*
Package reservation provides the booking negotiation engine for a shared property.

PURPOSE:
  Two groups share one vacation house. Every stay is a Booking that one group
  proposes and the other group accepts, rejects, or asks to revise. This
  package owns the negotiation state machine, the overlap admission control
  that keeps confirmed stays apart, and the ownership calendar that lets a
  group book its own windows without asking.

KEY CONCEPTS IN THIS FILE (types.go):
  - Group: one of exactly two parties, with a total Other()
  - Status: where a booking sits in the negotiation
  - Booking: the reservation record
  - DerogaProposal: a pending revision of an approved booking
  - OwnershipPeriod: a window in which a group's bookings auto-approve
  - Actor: who is calling

STATE MACHINE:

                 create (outside ownership)
                        │
                        ▼
   reject ┌────▶ NEGOTIATION ──── approve ────▶ APPROVED ◀── create (inside ownership)
   (back  │        │    ▲                        │  ▲  ▲
   to     └────────┘    │ modify / drag (grow)   │  │  │ approve (accept) /
   owner)               └────────────────────────┘  │  │ reject (restore original)
                                                    │  │
                                      request_deroga│  │
                                                    ▼  │
                                                   DEROGA
   Any non-cancelled booking ── cancel ──▶ CANCELLED (terminal)

  REJECTED is declared for compatibility with stored data and external
  consumers but the ledger never parks a booking there.

SEE ALSO:
  - ledger.go: lifecycle operations
  - ownership.go: ownership calendar
  - audit.go: audit trail
  - store.go: persistence interfaces
*/
package reservation

import (
	"fmt"
	"time"
)

// =============================================================================
// GROUP - The two parties sharing the property
// =============================================================================

// Group identifies one of the two stakeholder groups.
type Group string

const (
	GroupA Group = "A"
	GroupB Group = "B"
)

// Groups lists both groups in a stable order.
var Groups = [2]Group{GroupA, GroupB}

// Other returns the complementary group.
func (g Group) Other() Group {
	if g == GroupA {
		return GroupB
	}
	return GroupA
}

// Valid reports whether g is one of the two known groups.
func (g Group) Valid() bool {
	return g == GroupA || g == GroupB
}

// ParseGroup accepts "A" or "B".
func ParseGroup(s string) (Group, error) {
	g := Group(s)
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGroup, s)
	}
	return g, nil
}

// Ptr returns a pointer to a copy of g, for optional group fields.
func (g Group) Ptr() *Group {
	return &g
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusNegotiation Status = "NEGOTIATION"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED" // never assigned by the ledger
	StatusCancelled   Status = "CANCELLED"
	StatusDeroga      Status = "DEROGA"
)

// ParseStatus validates a stored or user-supplied status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusNegotiation, StatusApproved, StatusRejected, StatusCancelled, StatusDeroga:
		return st, nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// Blocking reports whether bookings in this status hold their dates
// against other bookings.
func (s Status) Blocking() bool {
	return s == StatusApproved || s == StatusDeroga
}

// BlockingStatuses are the statuses checked by overlap admission control.
var BlockingStatuses = []Status{StatusApproved, StatusDeroga}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type PeriodID string

// Actor is the user acting on behalf of a group.
type Actor struct {
	User  string
	Group Group
}

func (a Actor) String() string {
	return a.User + " (" + string(a.Group) + ")"
}

// =============================================================================
// BOOKING
// =============================================================================

// DerogaProposal holds what is needed to undo a revision request.
// Its presence on a Booking is equivalent to Status == StatusDeroga.
type DerogaProposal struct {
	Original        DateRange
	RequestedBy     Group
	RequestedByUser string
	Note            string
}

// Booking is a reservation of the property for a date range.
type Booking struct {
	ID        BookingID
	Owner     Group
	CreatedBy string
	Title     string
	Range     DateRange
	Status    Status

	// Who must act next. nil when nobody is waited on.
	PendingWith *Group

	// Set on rejection, cleared on the next modification.
	RejectionNote string

	Deroga *DerogaProposal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPendingWith reports whether g is expected to act next.
func (b *Booking) IsPendingWith(g Group) bool {
	return b.PendingWith != nil && *b.PendingWith == g
}

// Occupies reports whether the booking holds any night of rng. While a
// deroga is open the booking holds both the proposed and the original dates,
// since rejecting the proposal puts the original dates back.
func (b *Booking) Occupies(rng DateRange) bool {
	if b.Range.Overlaps(rng) {
		return true
	}
	return b.Deroga != nil && b.Deroga.Original.Overlaps(rng)
}

// Clone returns a deep copy so callers never share mutable state with the store.
func (b Booking) Clone() Booking {
	out := b
	if b.PendingWith != nil {
		out.PendingWith = b.PendingWith.Ptr()
	}
	if b.Deroga != nil {
		d := *b.Deroga
		out.Deroga = &d
	}
	return out
}

// CheckInvariants verifies the structural rules every stored booking obeys.
func (b *Booking) CheckInvariants() error {
	if !b.Owner.Valid() {
		return fmt.Errorf("booking %s: %w: owner %q", b.ID, ErrInvalidGroup, b.Owner)
	}
	if (b.Deroga != nil) != (b.Status == StatusDeroga) {
		return fmt.Errorf("booking %s: deroga fields present=%t with status %s", b.ID, b.Deroga != nil, b.Status)
	}
	if b.PendingWith != nil && !b.PendingWith.Valid() {
		return fmt.Errorf("booking %s: %w: pending_with %q", b.ID, ErrInvalidGroup, *b.PendingWith)
	}
	return nil
}

// =============================================================================
// OWNERSHIP PERIOD
// =============================================================================

// OwnershipPeriod is a window in which a group's bookings are approved
// without negotiation. Periods of different groups never overlap.
type OwnershipPeriod struct {
	ID        PeriodID
	Group     Group
	Range     DateRange
	Note      string
	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// MEMBER - User directory entry
// =============================================================================

// Member maps a user to the group it books for.
type Member struct {
	Username    string
	Group       Group
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

// Actor returns the acting principal for this member.
func (m Member) Actor() Actor {
	return Actor{User: m.Username, Group: m.Group}
}
