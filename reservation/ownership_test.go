package reservation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/shared-stay/reservation"
)

// =============================================================================
// OWNERSHIP CALENDAR
// =============================================================================

func TestOwnership_Create_CrossGroupOverlapRejected(t *testing.T) {
	// GIVEN: A owns July 1-31
	// WHEN: B claims July 20 - August 10
	// THEN: ErrOwnershipConflict, which also matches ErrOverlapConflict

	f := newFixture(t)
	ctx := context.Background()
	existing, err := f.ownership.Create(ctx, alice, dates("2025-07-01", "2025-07-31"), "summer")
	require.NoError(t, err)
	assert.Equal(t, reservation.GroupA, existing.Group)
	assert.Equal(t, "alice", existing.CreatedBy)

	_, err = f.ownership.Create(ctx, bruno, dates("2025-07-20", "2025-08-10"), "")
	assert.ErrorIs(t, err, reservation.ErrOwnershipConflict)
	assert.ErrorIs(t, err, reservation.ErrOverlapConflict)

	var conflict *reservation.OwnershipConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, existing.ID, conflict.Conflicting)
	assert.Equal(t, reservation.GroupA, conflict.Group)
}

func TestOwnership_Create_SharedBoundaryAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ownership.Create(ctx, alice, dates("2025-07-01", "2025-07-31"), "")
	require.NoError(t, err)

	_, err = f.ownership.Create(ctx, bruno, dates("2025-07-31", "2025-08-31"), "")
	assert.NoError(t, err)
}

func TestOwnership_Create_SameGroupMayOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ownership.Create(ctx, alice, dates("2025-07-01", "2025-07-31"), "")
	require.NoError(t, err)

	_, err = f.ownership.Create(ctx, alice, dates("2025-07-15", "2025-08-15"), "")
	assert.NoError(t, err)

	periods, err := f.ownership.List(ctx, reservation.PeriodFilter{Group: reservation.GroupA.Ptr()})
	require.NoError(t, err)
	assert.Len(t, periods, 2)
}

func TestOwnership_Create_InvalidRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.ownership.Create(context.Background(), alice, dates("2025-07-31", "2025-07-01"), "")
	assert.ErrorIs(t, err, reservation.ErrInvalidRange)
}

func TestOwnership_Delete(t *testing.T) {
	// GIVEN: A owns July and has an auto-approved booking in it
	// WHEN: B tries to delete the period, then A deletes it
	// THEN: B is refused; A's deletion leaves the booking approved

	f := newFixture(t)
	ctx := context.Background()
	p, err := f.ownership.Create(ctx, alice, dates("2025-07-01", "2025-07-31"), "")
	require.NoError(t, err)
	tr, err := f.ledger.Create(ctx, alice, "", dates("2025-07-05", "2025-07-10"))
	require.NoError(t, err)
	require.Equal(t, reservation.StatusApproved, tr.Booking.Status)

	err = f.ownership.Delete(ctx, bruno, p.ID)
	assert.ErrorIs(t, err, reservation.ErrNotOwner)

	require.NoError(t, f.ownership.Delete(ctx, alice, p.ID))

	err = f.ownership.Delete(ctx, alice, p.ID)
	assert.ErrorIs(t, err, reservation.ErrNotFound)

	got, err := f.ledger.Get(ctx, tr.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusApproved, got.Status)

	next, err := f.ledger.Create(ctx, alice, "", dates("2025-07-15", "2025-07-20"))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusNegotiation, next.Booking.Status, "no longer auto-approved")
}

func TestOwnership_Covering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.ownership.Create(ctx, bruno, dates("2025-12-20", "2026-01-05"), "holidays")
	require.NoError(t, err)

	got, err := f.ownership.Covering(ctx, reservation.GroupB, dates("2025-12-24", "2026-01-02"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)

	got, err = f.ownership.Covering(ctx, reservation.GroupA, dates("2025-12-24", "2026-01-02"))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.ownership.Covering(ctx, reservation.GroupB, dates("2025-12-24", "2026-01-06"))
	require.NoError(t, err)
	assert.Nil(t, got)
}
