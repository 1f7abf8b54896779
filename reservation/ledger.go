/*
ledger.go - Booking lifecycle operations

PURPOSE:
  The Ledger owns every state change of a Booking. Each operation:
    1. opens one TxStore.WithTx scope
    2. loads the booking and checks status, turn and ownership
    3. runs overlap admission control against confirmed bookings
    4. writes the new booking state
    5. after commit, appends an audit entry and returns a Transition

  Nothing is written when any check fails.

OPERATIONS:
  Create         owner proposes dates (auto-approved inside an ownership period)
  Approve        pending group accepts a negotiation or a deroga
  Reject         pending group bounces a negotiation or refuses a deroga
  RequestDeroga  non-owner asks to move an approved booking
  Modify         owner changes dates, back to negotiation
  Cancel         owner withdraws (terminal)
  DragUpdate     owner adjusts dates from the calendar; shrinking an
                 approved booking keeps it approved

NOTIFICATIONS:
  The ledger does not notify anyone. Transition.Recipient tells the caller
  which group, if any, should hear about the change.

SEE ALSO:
  - types.go: state machine diagram
  - store.go: WithTx serialization contract
  - ownership.go: ownership containment
*/
package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// TRANSITION - What a successful operation returns
// =============================================================================

// Transition describes a committed change to a booking.
type Transition struct {
	Booking        Booking
	Action         AuditAction
	Actor          Actor
	PreviousStatus Status
	PreviousRange  DateRange
	Details        string
}

// RangeChanged reports whether the operation moved the booking's dates.
func (t *Transition) RangeChanged() bool {
	return !t.PreviousRange.Equal(t.Booking.Range)
}

// Recipient returns the group that should be told about this transition.
func (t *Transition) Recipient() (Group, bool) {
	b := t.Booking
	switch t.Action {
	case AuditApproved:
		return b.Owner, true
	case AuditDerogaAccepted, AuditDerogaRejected:
		return b.Owner.Other(), true
	case AuditCancelled, AuditPeriodReduced:
		return b.Owner.Other(), true
	case AuditAutoApproved:
		return b.Owner.Other(), true
	}
	if b.PendingWith != nil {
		return *b.PendingWith, true
	}
	return "", false
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store  TxStore
	Audit  AuditSink // optional
	Logger *slog.Logger

	// Now and NewID are replaceable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

func NewLedger(store TxStore, audit AuditSink, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		Store:  store,
		Audit:  audit,
		Logger: logger,
		Now:    time.Now,
		NewID:  NewID,
	}
}

// Get returns a booking by id.
func (l *Ledger) Get(ctx context.Context, id BookingID) (*Booking, error) {
	return l.Store.GetBooking(ctx, id)
}

// List returns bookings matching the filter, ordered by start date.
func (l *Ledger) List(ctx context.Context, filter BookingFilter) ([]Booking, error) {
	return l.Store.FindBookings(ctx, filter)
}

// =============================================================================
// CREATE
// =============================================================================

// Create proposes a new booking for the actor's group.
//
// Inside one of the group's ownership periods the booking is approved at
// once; otherwise it waits for the other group.
func (l *Ledger) Create(ctx context.Context, actor Actor, title string, rng DateRange) (*Transition, error) {
	if !actor.Group.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroup, actor.Group)
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	var tr *Transition
	err := l.Store.WithTx(ctx, func(tx Store) error {
		if err := checkOverlap(ctx, tx, rng, ""); err != nil {
			return err
		}
		period, err := coveringPeriod(ctx, tx, actor.Group, rng)
		if err != nil {
			return err
		}

		now := l.Now()
		b := Booking{
			ID:        BookingID(l.NewID()),
			Owner:     actor.Group,
			CreatedBy: actor.User,
			Title:     title,
			Range:     rng,
			CreatedAt: now,
			UpdatedAt: now,
		}

		action := AuditCreated
		details := "Dates: " + rng.String()
		if period != nil {
			b.Status = StatusApproved
			action = AuditAutoApproved
			details += fmt.Sprintf(". Inside ownership period %s (%s)", period.ID, period.Range)
		} else {
			b.Status = StatusNegotiation
			b.PendingWith = actor.Group.Other().Ptr()
		}

		if err := tx.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("failed to save booking: %w", err)
		}
		tr = &Transition{
			Booking:        b,
			Action:         action,
			Actor:          actor,
			PreviousStatus: b.Status,
			PreviousRange:  rng,
			Details:        details,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.committed(ctx, tr)
	return tr, nil
}

// =============================================================================
// APPROVE / REJECT - Actions of the group the booking waits on
// =============================================================================

// Approve accepts a negotiation, or accepts a deroga keeping the proposed dates.
func (l *Ledger) Approve(ctx context.Context, actor Actor, id BookingID) (*Transition, error) {
	return l.mutate(ctx, actor, id, func(tx Store, b *Booking) (AuditAction, string, error) {
		if err := checkTurn(actor, b, "approve"); err != nil {
			return "", "", err
		}
		// Negotiations do not hold dates, so another booking may have been
		// confirmed over them since they were proposed.
		if err := checkOverlap(ctx, tx, b.Range, b.ID); err != nil {
			return "", "", err
		}

		switch b.Status {
		case StatusNegotiation:
			b.Status = StatusApproved
			b.PendingWith = nil
			return AuditApproved, "", nil

		default: // StatusDeroga, guaranteed by checkTurn
			details := fmt.Sprintf("Accepted new dates %s (was %s)", b.Range, b.Deroga.Original)
			b.Status = StatusApproved
			b.PendingWith = nil
			b.Deroga = nil
			return AuditDerogaAccepted, details, nil
		}
	})
}

// Reject sends a negotiation back to its owner, or refuses a deroga and
// restores the original dates.
func (l *Ledger) Reject(ctx context.Context, actor Actor, id BookingID, note string) (*Transition, error) {
	return l.mutate(ctx, actor, id, func(_ Store, b *Booking) (AuditAction, string, error) {
		if err := checkTurn(actor, b, "reject"); err != nil {
			return "", "", err
		}

		switch b.Status {
		case StatusNegotiation:
			b.PendingWith = b.Owner.Ptr()
			b.RejectionNote = note
			return AuditRejected, "Note: " + note, nil

		default: // StatusDeroga
			details := fmt.Sprintf("Kept original dates %s (proposed %s)", b.Deroga.Original, b.Range)
			if note != "" {
				details += ". Note: " + note
			}
			b.Range = b.Deroga.Original
			b.Status = StatusApproved
			b.PendingWith = nil
			b.Deroga = nil
			return AuditDerogaRejected, details, nil
		}
	})
}

// =============================================================================
// REQUEST DEROGA - The other group asks to move an approved booking
// =============================================================================

// RequestDeroga proposes new dates for an approved booking of the other group.
// The new dates apply immediately and the owner decides whether they stay.
func (l *Ledger) RequestDeroga(ctx context.Context, actor Actor, id BookingID, rng DateRange, note string) (*Transition, error) {
	return l.mutate(ctx, actor, id, func(tx Store, b *Booking) (AuditAction, string, error) {
		if b.Status != StatusApproved {
			return "", "", &StateError{Op: "request a deroga on", Status: b.Status}
		}
		if actor.Group == b.Owner {
			return "", "", fmt.Errorf("%w: the owner changes its own booking with modify", ErrNotYourTurn)
		}
		if err := rng.Validate(); err != nil {
			return "", "", err
		}
		if err := checkOverlap(ctx, tx, rng, b.ID); err != nil {
			return "", "", err
		}

		details := fmt.Sprintf("Original dates: %s. New dates: %s. Note: %s", b.Range, rng, note)
		b.Deroga = &DerogaProposal{
			Original:        b.Range,
			RequestedBy:     actor.Group,
			RequestedByUser: actor.User,
			Note:            note,
		}
		b.Range = rng
		b.Status = StatusDeroga
		b.PendingWith = b.Owner.Ptr()
		return AuditDerogaRequest, details, nil
	})
}

// =============================================================================
// OWNER OPERATIONS
// =============================================================================

// Modify changes the dates of a booking and restarts the negotiation.
func (l *Ledger) Modify(ctx context.Context, actor Actor, id BookingID, rng DateRange) (*Transition, error) {
	return l.mutate(ctx, actor, id, func(tx Store, b *Booking) (AuditAction, string, error) {
		if err := checkOwner(actor, b); err != nil {
			return "", "", err
		}
		if b.Status == StatusCancelled {
			return "", "", &StateError{Op: "modify", Status: b.Status}
		}
		if err := rng.Validate(); err != nil {
			return "", "", err
		}
		if err := checkOverlap(ctx, tx, rng, b.ID); err != nil {
			return "", "", err
		}

		details := fmt.Sprintf("New dates: %s (was %s)", rng, b.Range)
		b.Range = rng
		b.Status = StatusNegotiation
		b.PendingWith = b.Owner.Other().Ptr()
		b.RejectionNote = ""
		b.Deroga = nil
		return AuditModified, details, nil
	})
}

// Cancel withdraws a booking for good.
func (l *Ledger) Cancel(ctx context.Context, actor Actor, id BookingID) (*Transition, error) {
	return l.mutate(ctx, actor, id, func(_ Store, b *Booking) (AuditAction, string, error) {
		if err := checkOwner(actor, b); err != nil {
			return "", "", err
		}
		if b.Status == StatusCancelled {
			return "", "", &StateError{Op: "cancel", Status: b.Status}
		}

		b.Status = StatusCancelled
		b.PendingWith = nil
		b.Deroga = nil
		return AuditCancelled, "Dates: " + b.Range.String(), nil
	})
}

// DragUpdate moves the dates of a booking directly from the calendar.
//
// Shrinking an approved booking keeps it approved. Growing or shifting it
// sends it back to the other group. Negotiations just take the new dates.
func (l *Ledger) DragUpdate(ctx context.Context, actor Actor, id BookingID, rng DateRange) (*Transition, error) {
	return l.mutate(ctx, actor, id, func(tx Store, b *Booking) (AuditAction, string, error) {
		if err := checkOwner(actor, b); err != nil {
			return "", "", err
		}
		if b.Status != StatusApproved && b.Status != StatusNegotiation {
			return "", "", &StateError{Op: "move", Status: b.Status}
		}
		if err := rng.Validate(); err != nil {
			return "", "", err
		}
		if err := checkOverlap(ctx, tx, rng, b.ID); err != nil {
			return "", "", err
		}

		old := b.Range
		b.Range = rng

		if b.Status == StatusNegotiation {
			return AuditDatesUpdated, fmt.Sprintf("Dates updated from %s to %s", old, rng), nil
		}
		if rng.Within(old) {
			return AuditPeriodReduced, fmt.Sprintf("Period reduced from %s to %s", old, rng), nil
		}
		b.Status = StatusNegotiation
		b.PendingWith = b.Owner.Other().Ptr()
		return AuditPeriodExtended, fmt.Sprintf("Period changed from %s to %s, needs approval", old, rng), nil
	})
}

// =============================================================================
// INTERNALS
// =============================================================================

type mutation func(tx Store, b *Booking) (AuditAction, string, error)

// mutate loads a booking, applies fn to a copy and saves it, all in one WithTx scope.
func (l *Ledger) mutate(ctx context.Context, actor Actor, id BookingID, fn mutation) (*Transition, error) {
	if !actor.Group.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroup, actor.Group)
	}

	var tr *Transition
	err := l.Store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}

		b := current.Clone()
		action, details, err := fn(tx, &b)
		if err != nil {
			return err
		}
		if err := b.CheckInvariants(); err != nil {
			return err
		}

		b.UpdatedAt = l.Now()
		if err := tx.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("failed to save booking: %w", err)
		}

		tr = &Transition{
			Booking:        b,
			Action:         action,
			Actor:          actor,
			PreviousStatus: current.Status,
			PreviousRange:  current.Range,
			Details:        details,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.committed(ctx, tr)
	return tr, nil
}

// committed logs the transition and hands it to the audit sink.
// Audit failures are logged; the transition itself is already durable.
func (l *Ledger) committed(ctx context.Context, tr *Transition) {
	b := tr.Booking
	l.Logger.Info("booking transition",
		"booking", b.ID,
		"action", tr.Action,
		"actor", tr.Actor.User,
		"group", tr.Actor.Group,
		"status", b.Status,
		"range", b.Range.String(),
	)

	if l.Audit == nil {
		return
	}
	entry := AuditEntry{
		ID:        l.NewID(),
		BookingID: b.ID,
		Action:    tr.Action,
		Actor:     tr.Actor,
		Timestamp: b.UpdatedAt,
		Details:   tr.Details,
	}
	if err := l.Audit.Append(ctx, entry); err != nil {
		l.Logger.Error("audit append failed", "booking", b.ID, "action", tr.Action, "error", err)
	}
}

// checkTurn enforces that only the group the booking waits on may approve
// or reject, and only while there is something to decide.
func checkTurn(actor Actor, b *Booking, op string) error {
	if b.Status != StatusNegotiation && b.Status != StatusDeroga {
		return &StateError{Op: op, Status: b.Status}
	}
	if !b.IsPendingWith(actor.Group) {
		return ErrNotYourTurn
	}
	return nil
}

func checkOwner(actor Actor, b *Booking) error {
	if actor.Group != b.Owner {
		return ErrNotOwner
	}
	return nil
}

// checkOverlap fails when rng intersects a confirmed booking other than exclude.
func checkOverlap(ctx context.Context, s Store, rng DateRange, exclude BookingID) error {
	conflicts, err := s.FindBookings(ctx, BookingFilter{
		Statuses:    BlockingStatuses,
		Overlapping: &rng,
		ExcludeID:   exclude,
	})
	if err != nil {
		return fmt.Errorf("overlap check failed: %w", err)
	}
	if len(conflicts) > 0 {
		c := conflicts[0]
		existing := c.Range
		// A deroga may only collide through the dates it would restore.
		if !existing.Overlaps(rng) && c.Deroga != nil {
			existing = c.Deroga.Original
		}
		return &OverlapError{Candidate: rng, Conflicting: c.ID, Existing: existing}
	}
	return nil
}
