package reservation

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT TRAIL - Passive observer of ledger transitions
// =============================================================================

// DefaultHistoryLimit caps History when the filter sets no limit.
const DefaultHistoryLimit = 200

// AuditTrail fills in ids and timestamps and exposes history queries.
// It implements AuditSink so it can be handed to the Ledger directly.
type AuditTrail struct {
	Log   AuditLog
	Now   func() time.Time
	NewID func() string
}

func NewAuditTrail(log AuditLog) *AuditTrail {
	return &AuditTrail{Log: log, Now: time.Now, NewID: NewID}
}

// Append stores an entry, assigning an id and timestamp when missing.
func (t *AuditTrail) Append(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = t.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.Now()
	}
	return t.Log.Append(ctx, entry)
}

// Record is the short form of Append.
func (t *AuditTrail) Record(ctx context.Context, bookingID BookingID, action AuditAction, actor Actor, details string) error {
	return t.Append(ctx, AuditEntry{BookingID: bookingID, Action: action, Actor: actor, Details: details})
}

// History returns matching entries, newest first.
func (t *AuditTrail) History(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}
	return t.Log.Query(ctx, filter)
}

// ForBooking returns the full history of one booking, newest first.
func (t *AuditTrail) ForBooking(ctx context.Context, id BookingID) ([]AuditEntry, error) {
	return t.Log.Query(ctx, AuditFilter{BookingID: &id})
}
