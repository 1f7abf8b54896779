package reservation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/shared-stay/reservation"
	"github.com/warp/shared-stay/reservation/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	alice = reservation.Actor{User: "alice", Group: reservation.GroupA}
	bruno = reservation.Actor{User: "bruno", Group: reservation.GroupB}
)

type fixture struct {
	store     *store.Memory
	ledger    *reservation.Ledger
	ownership *reservation.OwnershipCalendar
	audit     *reservation.AuditTrail
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	trail := reservation.NewAuditTrail(mem)

	seq := 0
	var mu sync.Mutex
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	clock := func() time.Time { return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC) }

	ledger := reservation.NewLedger(mem, trail, nil)
	ledger.NewID = newID
	ledger.Now = clock

	cal := reservation.NewOwnershipCalendar(mem, nil)
	cal.NewID = newID
	cal.Now = clock

	return &fixture{store: mem, ledger: ledger, ownership: cal, audit: trail}
}

func dates(start, end string) reservation.DateRange {
	return reservation.NewDateRange(reservation.MustParseDay(start), reservation.MustParseDay(end))
}

// approved creates a booking for actor and has the other group approve it.
func (f *fixture) approved(t *testing.T, actor reservation.Actor, rng reservation.DateRange) reservation.Booking {
	t.Helper()
	ctx := context.Background()
	tr, err := f.ledger.Create(ctx, actor, "stay", rng)
	require.NoError(t, err)
	if tr.Booking.Status == reservation.StatusApproved {
		return tr.Booking
	}
	other := bruno
	if actor.Group == reservation.GroupB {
		other = alice
	}
	tr, err = f.ledger.Approve(ctx, other, tr.Booking.ID)
	require.NoError(t, err)
	return tr.Booking
}

// =============================================================================
// CREATE
// =============================================================================

func TestLedger_Create_OutsideOwnership_Negotiation(t *testing.T) {
	// GIVEN: No ownership periods
	// WHEN: Group A proposes dates
	// THEN: Booking waits on group B

	f := newFixture(t)
	tr, err := f.ledger.Create(context.Background(), alice, "Summer", dates("2025-07-01", "2025-07-10"))
	require.NoError(t, err)

	b := tr.Booking
	assert.Equal(t, reservation.StatusNegotiation, b.Status)
	assert.Equal(t, reservation.GroupA, b.Owner)
	assert.Equal(t, "alice", b.CreatedBy)
	assert.Equal(t, "Summer", b.Title)
	require.NotNil(t, b.PendingWith)
	assert.Equal(t, reservation.GroupB, *b.PendingWith)
	assert.Nil(t, b.Deroga)
	assert.Equal(t, reservation.AuditCreated, tr.Action)

	recipient, ok := tr.Recipient()
	assert.True(t, ok)
	assert.Equal(t, reservation.GroupB, recipient)
}

func TestLedger_Create_InsideOwnership_AutoApproved(t *testing.T) {
	// GIVEN: Group A owns July
	// WHEN: Group A books a week in July, ending on the period's last day
	// THEN: Approved at once (containment is non-strict)

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ownership.Create(ctx, alice, dates("2025-07-01", "2025-07-31"), "")
	require.NoError(t, err)

	tr, err := f.ledger.Create(ctx, alice, "", dates("2025-07-24", "2025-07-31"))
	require.NoError(t, err)

	assert.Equal(t, reservation.StatusApproved, tr.Booking.Status)
	assert.Nil(t, tr.Booking.PendingWith)
	assert.Equal(t, reservation.AuditAutoApproved, tr.Action)
}

func TestLedger_Create_PartlyOutsideOwnership_Negotiation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ownership.Create(ctx, alice, dates("2025-07-01", "2025-07-31"), "")
	require.NoError(t, err)

	tr, err := f.ledger.Create(ctx, alice, "", dates("2025-07-28", "2025-08-03"))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusNegotiation, tr.Booking.Status)
}

func TestLedger_Create_OtherGroupOwnership_Negotiation(t *testing.T) {
	// GIVEN: Group A owns July
	// WHEN: Group B books inside July
	// THEN: B still has to ask A

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ownership.Create(ctx, alice, dates("2025-07-01", "2025-07-31"), "")
	require.NoError(t, err)

	tr, err := f.ledger.Create(ctx, bruno, "", dates("2025-07-05", "2025-07-08"))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusNegotiation, tr.Booking.Status)
	assert.True(t, tr.Booking.IsPendingWith(reservation.GroupA))
}

func TestLedger_Create_InvalidRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rng  reservation.DateRange
	}{
		{"end before start", dates("2025-07-10", "2025-07-01")},
		{"zero nights", dates("2025-07-10", "2025-07-10")},
		{"zero value", reservation.DateRange{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Create(ctx, alice, "", tt.rng)
			assert.ErrorIs(t, err, reservation.ErrInvalidRange)
		})
	}

	all, err := f.ledger.List(ctx, reservation.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, all, "nothing is written on failure")
}

func TestLedger_Create_InvalidGroup(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Create(context.Background(), reservation.Actor{User: "x", Group: "C"}, "", dates("2025-07-01", "2025-07-02"))
	assert.ErrorIs(t, err, reservation.ErrInvalidGroup)
}

// =============================================================================
// OVERLAP ADMISSION CONTROL
// =============================================================================

func TestLedger_Overlap_ApprovedBlocksBothGroups(t *testing.T) {
	// GIVEN: An approved booking July 10-20
	// WHEN: Either group proposes intersecting dates
	// THEN: ErrOverlapConflict naming the blocking booking

	f := newFixture(t)
	ctx := context.Background()
	existing := f.approved(t, alice, dates("2025-07-10", "2025-07-20"))

	for _, actor := range []reservation.Actor{alice, bruno} {
		_, err := f.ledger.Create(ctx, actor, "", dates("2025-07-15", "2025-07-25"))
		require.ErrorIs(t, err, reservation.ErrOverlapConflict)

		var overlap *reservation.OverlapError
		require.ErrorAs(t, err, &overlap)
		assert.Equal(t, existing.ID, overlap.Conflicting)
	}
}

func TestLedger_Overlap_SharedBoundaryDayAllowed(t *testing.T) {
	// GIVEN: Approved July 10-20
	// WHEN: Booking July 20-25 (checkout day = check-in day) and July 5-10
	// THEN: Both accepted

	f := newFixture(t)
	ctx := context.Background()
	f.approved(t, alice, dates("2025-07-10", "2025-07-20"))

	_, err := f.ledger.Create(ctx, bruno, "", dates("2025-07-20", "2025-07-25"))
	assert.NoError(t, err)
	_, err = f.ledger.Create(ctx, bruno, "", dates("2025-07-05", "2025-07-10"))
	assert.NoError(t, err)
}

func TestLedger_Overlap_NegotiationsDoNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Create(ctx, alice, "", dates("2025-07-10", "2025-07-20"))
	require.NoError(t, err)
	_, err = f.ledger.Create(ctx, bruno, "", dates("2025-07-12", "2025-07-18"))
	assert.NoError(t, err, "two negotiations may compete for the same dates")
}

func TestLedger_Approve_RechecksOverlap(t *testing.T) {
	// GIVEN: Two competing negotiations for the same week
	// WHEN: The first is approved, then the second
	// THEN: The second approval fails, the loser stays in negotiation

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ledger.Create(ctx, alice, "", dates("2025-07-10", "2025-07-20"))
	require.NoError(t, err)
	second, err := f.ledger.Create(ctx, bruno, "", dates("2025-07-15", "2025-07-25"))
	require.NoError(t, err)

	_, err = f.ledger.Approve(ctx, bruno, first.Booking.ID)
	require.NoError(t, err)

	_, err = f.ledger.Approve(ctx, alice, second.Booking.ID)
	assert.ErrorIs(t, err, reservation.ErrOverlapConflict)

	loser, err := f.ledger.Get(ctx, second.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusNegotiation, loser.Status)
}

func TestLedger_Overlap_CancelledReleasesDates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-10", "2025-07-20"))

	_, err := f.ledger.Cancel(ctx, alice, b.ID)
	require.NoError(t, err)

	_, err = f.ledger.Create(ctx, bruno, "", dates("2025-07-10", "2025-07-20"))
	assert.NoError(t, err)
}

func TestLedger_Overlap_ConcurrentCreates_OneWins(t *testing.T) {
	// GIVEN: Group A owns August, so its bookings auto-approve
	// WHEN: Many overlapping creates race
	// THEN: Exactly one succeeds, the rest get ErrOverlapConflict

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ownership.Create(ctx, alice, dates("2025-08-01", "2025-08-31"), "")
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := reservation.NewDay(2025, time.August, 5+i%3)
			_, errs[i] = f.ledger.Create(ctx, alice, "", reservation.NewDateRange(start, start.AddDays(7)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, reservation.ErrOverlapConflict)
	}
	assert.Equal(t, 1, wins)

	approved, err := f.ledger.List(ctx, reservation.BookingFilter{Statuses: reservation.BlockingStatuses})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestLedger_Approve_NotYourTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, err := f.ledger.Create(ctx, alice, "", dates("2025-07-01", "2025-07-05"))
	require.NoError(t, err)

	_, err = f.ledger.Approve(ctx, alice, tr.Booking.ID)
	assert.ErrorIs(t, err, reservation.ErrNotYourTurn)
	assert.True(t, reservation.IsForbidden(err))
}

func TestLedger_Approve_InvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-05"))

	_, err := f.ledger.Approve(ctx, bruno, b.ID)
	assert.ErrorIs(t, err, reservation.ErrInvalidState)

	var stateErr *reservation.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, reservation.StatusApproved, stateErr.Status)
}

func TestLedger_Approve_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Approve(context.Background(), bruno, "missing")
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestLedger_Reject_BouncesToOwner(t *testing.T) {
	// GIVEN: A negotiation pending with B
	// WHEN: B rejects with a note
	// THEN: Still NEGOTIATION, now pending with A, note stored

	f := newFixture(t)
	ctx := context.Background()
	created, err := f.ledger.Create(ctx, alice, "", dates("2025-07-01", "2025-07-05"))
	require.NoError(t, err)

	tr, err := f.ledger.Reject(ctx, bruno, created.Booking.ID, "we need that week")
	require.NoError(t, err)
	b := tr.Booking
	assert.Equal(t, reservation.StatusNegotiation, b.Status)
	assert.True(t, b.IsPendingWith(reservation.GroupA))
	assert.Equal(t, "we need that week", b.RejectionNote)
	assert.Equal(t, "Note: we need that week", tr.Details)

	_, err = f.ledger.Reject(ctx, bruno, b.ID, "again")
	assert.ErrorIs(t, err, reservation.ErrNotYourTurn)

	mod, err := f.ledger.Modify(ctx, alice, b.ID, dates("2025-07-08", "2025-07-12"))
	require.NoError(t, err)
	assert.True(t, mod.Booking.IsPendingWith(reservation.GroupB))
	assert.Empty(t, mod.Booking.RejectionNote)

	_, err = f.ledger.Approve(ctx, bruno, b.ID)
	assert.NoError(t, err)
}

func TestLedger_Reject_OwnerMayApproveBouncedBooking(t *testing.T) {
	// GIVEN: B rejected A's negotiation, so it waits on A
	// WHEN: A approves it as is
	// THEN: APPROVED with nobody pending; B can no longer act on it

	f := newFixture(t)
	ctx := context.Background()
	created, err := f.ledger.Create(ctx, alice, "", dates("2025-07-01", "2025-07-05"))
	require.NoError(t, err)
	_, err = f.ledger.Reject(ctx, bruno, created.Booking.ID, "")
	require.NoError(t, err)

	tr, err := f.ledger.Approve(ctx, alice, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.AuditApproved, tr.Action)
	assert.Equal(t, reservation.StatusApproved, tr.Booking.Status)
	assert.Nil(t, tr.Booking.PendingWith)

	_, err = f.ledger.Reject(ctx, bruno, created.Booking.ID, "")
	assert.ErrorIs(t, err, reservation.ErrInvalidState)
}

// =============================================================================
// DEROGA
// =============================================================================

func TestLedger_Deroga_AcceptKeepsNewDates(t *testing.T) {
	// GIVEN: A's booking July 1-10 is approved
	// WHEN: B requests July 3-8, then A approves
	// THEN: APPROVED with July 3-8, deroga cleared

	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))

	tr, err := f.ledger.RequestDeroga(ctx, bruno, b.ID, dates("2025-07-03", "2025-07-08"), "leave us the weekend")
	require.NoError(t, err)
	d := tr.Booking
	assert.Equal(t, reservation.StatusDeroga, d.Status)
	assert.Equal(t, dates("2025-07-03", "2025-07-08"), d.Range)
	require.NotNil(t, d.Deroga)
	assert.Equal(t, dates("2025-07-01", "2025-07-10"), d.Deroga.Original)
	assert.Equal(t, reservation.GroupB, d.Deroga.RequestedBy)
	assert.Equal(t, "bruno", d.Deroga.RequestedByUser)
	assert.True(t, d.IsPendingWith(reservation.GroupA))

	tr, err = f.ledger.Approve(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.AuditDerogaAccepted, tr.Action)
	assert.Equal(t, reservation.StatusApproved, tr.Booking.Status)
	assert.Equal(t, dates("2025-07-03", "2025-07-08"), tr.Booking.Range)
	assert.Nil(t, tr.Booking.Deroga)
	assert.Nil(t, tr.Booking.PendingWith)
}

func TestLedger_Deroga_ShiftByOneDay_Accepted(t *testing.T) {
	// GIVEN: A books [10, 17), B approves
	// WHEN: B asks for [11, 18), A approves
	// THEN: APPROVED with [11, 18) and no deroga left

	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.ledger.Create(ctx, alice, "", dates("2025-05-10", "2025-05-17"))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusNegotiation, tr.Booking.Status)
	assert.True(t, tr.Booking.IsPendingWith(reservation.GroupB))
	id := tr.Booking.ID

	tr, err = f.ledger.Approve(ctx, bruno, id)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusApproved, tr.Booking.Status)
	assert.Nil(t, tr.Booking.PendingWith)

	tr, err = f.ledger.RequestDeroga(ctx, bruno, id, dates("2025-05-11", "2025-05-18"), "note")
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusDeroga, tr.Booking.Status)
	assert.True(t, tr.Booking.IsPendingWith(reservation.GroupA))
	assert.Equal(t, "2025-05-10", tr.Booking.Deroga.Original.Start.String())

	tr, err = f.ledger.Approve(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusApproved, tr.Booking.Status)
	assert.Equal(t, dates("2025-05-11", "2025-05-18"), tr.Booking.Range)
	assert.Nil(t, tr.Booking.Deroga)
}

func TestLedger_Deroga_RejectRestoresOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))

	_, err := f.ledger.RequestDeroga(ctx, bruno, b.ID, dates("2025-07-03", "2025-07-08"), "")
	require.NoError(t, err)

	tr, err := f.ledger.Reject(ctx, alice, b.ID, "no thanks")
	require.NoError(t, err)
	assert.Equal(t, reservation.AuditDerogaRejected, tr.Action)
	assert.Equal(t, reservation.StatusApproved, tr.Booking.Status)
	assert.Equal(t, b.Range, tr.Booking.Range, "round trip restores the original dates")
	assert.Nil(t, tr.Booking.Deroga)

	recipient, ok := tr.Recipient()
	assert.True(t, ok)
	assert.Equal(t, reservation.GroupB, recipient, "the requester hears the answer")
}

func TestLedger_Deroga_RequiresApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, err := f.ledger.Create(ctx, alice, "", dates("2025-07-01", "2025-07-10"))
	require.NoError(t, err)

	_, err = f.ledger.RequestDeroga(ctx, bruno, tr.Booking.ID, dates("2025-07-02", "2025-07-05"), "")
	assert.ErrorIs(t, err, reservation.ErrInvalidState)
}

func TestLedger_Deroga_OwnerCannotRequest(t *testing.T) {
	f := newFixture(t)
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))

	_, err := f.ledger.RequestDeroga(context.Background(), alice, b.ID, dates("2025-07-02", "2025-07-05"), "")
	assert.ErrorIs(t, err, reservation.ErrNotYourTurn)
}

func TestLedger_Deroga_RequesterCannotDecide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))
	_, err := f.ledger.RequestDeroga(ctx, bruno, b.ID, dates("2025-07-02", "2025-07-05"), "")
	require.NoError(t, err)

	_, err = f.ledger.Approve(ctx, bruno, b.ID)
	assert.ErrorIs(t, err, reservation.ErrNotYourTurn)
}

func TestLedger_Deroga_HoldsOriginalDates(t *testing.T) {
	// GIVEN: A's July 1-10 booking is under a deroga proposing July 3-5
	// WHEN: B tries to book July 7-9 (inside the original, outside the proposal)
	// THEN: Blocked, since rejecting the deroga would bring July 7-9 back

	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))
	_, err := f.ledger.RequestDeroga(ctx, bruno, b.ID, dates("2025-07-03", "2025-07-05"), "")
	require.NoError(t, err)

	_, err = f.ownership.Create(ctx, bruno, dates("2025-07-06", "2025-07-31"), "")
	require.NoError(t, err)
	_, err = f.ledger.Create(ctx, bruno, "", dates("2025-07-07", "2025-07-09"))
	assert.ErrorIs(t, err, reservation.ErrOverlapConflict)

	_, err = f.ledger.Reject(ctx, alice, b.ID, "")
	require.NoError(t, err)
	got, err := f.ledger.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, dates("2025-07-01", "2025-07-10"), got.Range)
}

func TestLedger_Deroga_ConflictNamesOriginalDates(t *testing.T) {
	// GIVEN: A's July 1-10 booking is under a deroga proposing August 1-10
	// WHEN: B tries to book July 2-5, touching only the original dates
	// THEN: The overlap error names July 1-10, not the proposal

	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))
	_, err := f.ledger.RequestDeroga(ctx, bruno, b.ID, dates("2025-08-01", "2025-08-10"), "")
	require.NoError(t, err)

	_, err = f.ownership.Create(ctx, bruno, dates("2025-07-01", "2025-07-31"), "")
	require.NoError(t, err)
	_, err = f.ledger.Create(ctx, bruno, "", dates("2025-07-02", "2025-07-05"))
	var overlap *reservation.OverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, b.ID, overlap.Conflicting)
	assert.Equal(t, dates("2025-07-01", "2025-07-10"), overlap.Existing)
}

func TestLedger_Deroga_OverlapWithThirdBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))
	other := f.approved(t, bruno, dates("2025-07-10", "2025-07-15"))

	_, err := f.ledger.RequestDeroga(ctx, bruno, b.ID, dates("2025-07-05", "2025-07-12"), "")
	var overlap *reservation.OverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, other.ID, overlap.Conflicting)
}

func TestLedger_Deroga_Walkthrough(t *testing.T) {
	// A books March 1-10 (negotiation), B approves, B asks for March 3-8,
	// A rejects: original dates come back. Audit shows the whole story.

	f := newFixture(t)
	ctx := context.Background()

	created, err := f.ledger.Create(ctx, alice, "Ski week", dates("2025-03-01", "2025-03-10"))
	require.NoError(t, err)
	id := created.Booking.ID

	_, err = f.ledger.Approve(ctx, bruno, id)
	require.NoError(t, err)
	_, err = f.ledger.RequestDeroga(ctx, bruno, id, dates("2025-03-03", "2025-03-08"), "school holidays")
	require.NoError(t, err)
	_, err = f.ledger.Reject(ctx, alice, id, "")
	require.NoError(t, err)

	got, err := f.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusApproved, got.Status)
	assert.Equal(t, dates("2025-03-01", "2025-03-10"), got.Range)

	history, err := f.audit.ForBooking(ctx, id)
	require.NoError(t, err)
	var actions []reservation.AuditAction
	for _, e := range history {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []reservation.AuditAction{
		reservation.AuditDerogaRejected,
		reservation.AuditDerogaRequest,
		reservation.AuditApproved,
		reservation.AuditCreated,
	}, actions, "newest first")
}

// =============================================================================
// MODIFY / CANCEL
// =============================================================================

func TestLedger_Modify_ApprovedGoesBackToNegotiation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))

	tr, err := f.ledger.Modify(ctx, alice, b.ID, dates("2025-07-02", "2025-07-12"))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusNegotiation, tr.Booking.Status)
	assert.True(t, tr.Booking.IsPendingWith(reservation.GroupB))
	assert.True(t, tr.RangeChanged())
	assert.Equal(t, reservation.StatusApproved, tr.PreviousStatus)
}

func TestLedger_Modify_NotOwner(t *testing.T) {
	f := newFixture(t)
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))

	_, err := f.ledger.Modify(context.Background(), bruno, b.ID, dates("2025-07-02", "2025-07-12"))
	assert.ErrorIs(t, err, reservation.ErrNotOwner)
}

func TestLedger_Modify_DuringDeroga_ClearsProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))
	_, err := f.ledger.RequestDeroga(ctx, bruno, b.ID, dates("2025-07-03", "2025-07-08"), "")
	require.NoError(t, err)

	tr, err := f.ledger.Modify(ctx, alice, b.ID, dates("2025-07-04", "2025-07-09"))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusNegotiation, tr.Booking.Status)
	assert.Nil(t, tr.Booking.Deroga)
}

func TestLedger_Cancel_IsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))

	_, err := f.ledger.Cancel(ctx, bruno, b.ID)
	assert.ErrorIs(t, err, reservation.ErrNotOwner)

	tr, err := f.ledger.Cancel(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, tr.Booking.Status)
	assert.Nil(t, tr.Booking.PendingWith)

	_, err = f.ledger.Cancel(ctx, alice, b.ID)
	assert.ErrorIs(t, err, reservation.ErrInvalidState)
	_, err = f.ledger.Modify(ctx, alice, b.ID, dates("2025-07-02", "2025-07-03"))
	assert.ErrorIs(t, err, reservation.ErrInvalidState)
	_, err = f.ledger.Approve(ctx, bruno, b.ID)
	assert.ErrorIs(t, err, reservation.ErrInvalidState)
	_, err = f.ledger.DragUpdate(ctx, alice, b.ID, dates("2025-07-02", "2025-07-03"))
	assert.ErrorIs(t, err, reservation.ErrInvalidState)
}

// =============================================================================
// DRAG UPDATE
// =============================================================================

func TestLedger_DragUpdate(t *testing.T) {
	tests := []struct {
		name       string
		approve    bool
		newRange   reservation.DateRange
		wantAction reservation.AuditAction
		wantStatus reservation.Status
	}{
		{"shrink approved", true, dates("2025-07-02", "2025-07-08"), reservation.AuditPeriodReduced, reservation.StatusApproved},
		{"same dates approved", true, dates("2025-07-01", "2025-07-10"), reservation.AuditPeriodReduced, reservation.StatusApproved},
		{"extend approved", true, dates("2025-07-01", "2025-07-12"), reservation.AuditPeriodExtended, reservation.StatusNegotiation},
		{"shift approved", true, dates("2025-06-29", "2025-07-05"), reservation.AuditPeriodExtended, reservation.StatusNegotiation},
		{"move negotiation", false, dates("2025-08-01", "2025-08-05"), reservation.AuditDatesUpdated, reservation.StatusNegotiation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			created, err := f.ledger.Create(ctx, alice, "", dates("2025-07-01", "2025-07-10"))
			require.NoError(t, err)
			if tt.approve {
				_, err = f.ledger.Approve(ctx, bruno, created.Booking.ID)
				require.NoError(t, err)
			}

			tr, err := f.ledger.DragUpdate(ctx, alice, created.Booking.ID, tt.newRange)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, tr.Action)
			assert.Equal(t, tt.wantStatus, tr.Booking.Status)
			assert.Equal(t, tt.newRange, tr.Booking.Range)
			if tt.wantStatus == reservation.StatusNegotiation {
				assert.True(t, tr.Booking.IsPendingWith(reservation.GroupB))
			}
		})
	}
}

func TestLedger_DragUpdate_DerogaNotAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))
	_, err := f.ledger.RequestDeroga(ctx, bruno, b.ID, dates("2025-07-03", "2025-07-08"), "")
	require.NoError(t, err)

	_, err = f.ledger.DragUpdate(ctx, alice, b.ID, dates("2025-07-03", "2025-07-06"))
	assert.ErrorIs(t, err, reservation.ErrInvalidState)
}

func TestLedger_DragUpdate_Overlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))
	f.approved(t, bruno, dates("2025-07-10", "2025-07-20"))

	_, err := f.ledger.DragUpdate(ctx, alice, b.ID, dates("2025-07-01", "2025-07-11"))
	assert.ErrorIs(t, err, reservation.ErrOverlapConflict)

	got, err := f.ledger.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, dates("2025-07-01", "2025-07-10"), got.Range, "failed drag writes nothing")
}

// =============================================================================
// AUDIT & RECIPIENTS
// =============================================================================

type failingSink struct{}

func (failingSink) Append(context.Context, reservation.AuditEntry) error {
	return errors.New("disk full")
}

func TestLedger_AuditFailureDoesNotFailOperation(t *testing.T) {
	mem := store.NewMemory()
	ledger := reservation.NewLedger(mem, failingSink{}, nil)

	tr, err := ledger.Create(context.Background(), alice, "", dates("2025-07-01", "2025-07-05"))
	require.NoError(t, err)

	got, err := mem.GetBooking(context.Background(), tr.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusNegotiation, got.Status)
}

func TestLedger_AuditEntryPerTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.approved(t, alice, dates("2025-07-01", "2025-07-10"))
	_, err := f.ledger.Cancel(ctx, alice, b.ID)
	require.NoError(t, err)

	// Failed operations leave no trace.
	_, err = f.ledger.Cancel(ctx, alice, b.ID)
	require.Error(t, err)

	entries, err := f.audit.History(ctx, reservation.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, reservation.AuditCancelled, entries[0].Action)
	assert.Equal(t, alice, entries[0].Actor)
	assert.Equal(t, b.ID, entries[0].BookingID)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestTransition_Recipient(t *testing.T) {
	tests := []struct {
		action  reservation.AuditAction
		pending *reservation.Group
		want    reservation.Group
		ok      bool
	}{
		{reservation.AuditCreated, reservation.GroupB.Ptr(), reservation.GroupB, true},
		{reservation.AuditAutoApproved, nil, reservation.GroupB, true},
		{reservation.AuditApproved, nil, reservation.GroupA, true},
		{reservation.AuditRejected, reservation.GroupA.Ptr(), reservation.GroupA, true},
		{reservation.AuditDerogaRequest, reservation.GroupA.Ptr(), reservation.GroupA, true},
		{reservation.AuditDerogaAccepted, nil, reservation.GroupB, true},
		{reservation.AuditDerogaRejected, nil, reservation.GroupB, true},
		{reservation.AuditCancelled, nil, reservation.GroupB, true},
		{reservation.AuditPeriodReduced, nil, reservation.GroupB, true},
		{reservation.AuditPeriodExtended, reservation.GroupB.Ptr(), reservation.GroupB, true},
		{reservation.AuditDatesUpdated, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			tr := reservation.Transition{
				Action:  tt.action,
				Booking: reservation.Booking{Owner: reservation.GroupA, PendingWith: tt.pending},
			}
			got, ok := tr.Recipient()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
