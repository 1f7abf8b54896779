/*
errors.go - Error types for the booking engine

PURPOSE:
  Every failure of a lifecycle operation is a local validation failure that
  leaves state unchanged. Callers match with errors.Is against the sentinels
  and use errors.As on the structured errors for details.

ERROR CATEGORIES:
  1. Input errors      - ErrInvalidRange, ErrInvalidGroup
  2. Conflict errors   - ErrOverlapConflict, ErrOwnershipConflict
  3. Permission errors - ErrNotYourTurn, ErrNotOwner
  4. State errors      - ErrInvalidState, ErrNotFound

SEE ALSO:
  - ledger.go, ownership.go: return these errors
  - api/handlers.go: maps them to HTTP status codes
*/
package reservation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRange is returned when start is not strictly before end.
	ErrInvalidRange = errors.New("invalid date range: start must be before end")

	// ErrOverlapConflict is returned when a range intersects a confirmed booking.
	ErrOverlapConflict = errors.New("dates overlap an approved booking")

	// ErrOwnershipConflict is returned when an ownership period intersects a
	// period of the other group. It matches ErrOverlapConflict too.
	ErrOwnershipConflict = fmt.Errorf("ownership period overlaps the other group: %w", ErrOverlapConflict)

	// ErrNotYourTurn is returned when the actor is not the group the booking waits on.
	ErrNotYourTurn = errors.New("not your turn to act on this booking")

	// ErrNotOwner is returned when an owner-only operation is called by the other group.
	ErrNotOwner = errors.New("only the owning group may do this")

	// ErrInvalidState is returned when the booking's status does not support the operation.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrNotFound is returned when a booking, period or member does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidGroup is returned for anything but the two known groups.
	ErrInvalidGroup = errors.New("invalid group")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RangeError describes a rejected date range.
type RangeError struct {
	Range DateRange
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid date range %s: start must be before end", e.Range)
}

func (e *RangeError) Unwrap() error { return ErrInvalidRange }

// OverlapError names the booking that blocks a candidate range.
type OverlapError struct {
	Candidate   DateRange
	Conflicting BookingID
	Existing    DateRange
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("dates %s overlap approved booking %s (%s)", e.Candidate, e.Conflicting, e.Existing)
}

func (e *OverlapError) Unwrap() error { return ErrOverlapConflict }

// OwnershipConflictError names the other group's period that blocks a new one.
type OwnershipConflictError struct {
	Candidate   DateRange
	Group       Group
	Conflicting PeriodID
	Existing    DateRange
}

func (e *OwnershipConflictError) Error() string {
	return fmt.Sprintf("ownership period %s overlaps period %s of group %s (%s)",
		e.Candidate, e.Conflicting, e.Group, e.Existing)
}

func (e *OwnershipConflictError) Unwrap() error { return ErrOwnershipConflict }

// StateError reports an operation attempted against an unsupported status.
type StateError struct {
	Op     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s a booking in status %s", e.Op, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrInvalidGroup)
}

// IsConflict returns true if the error is an overlap or a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOverlapConflict) || errors.Is(err, ErrInvalidState)
}

// IsForbidden returns true if the actor may not perform the operation.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrNotYourTurn) || errors.Is(err, ErrNotOwner)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
