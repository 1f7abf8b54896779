// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/shared-stay/reservation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements reservation.TxStore, reservation.AuditLog and
// reservation.MemberStore.
type Memory struct {
	mu       sync.RWMutex
	bookings map[reservation.BookingID]reservation.Booking
	periods  map[reservation.PeriodID]reservation.OwnershipPeriod
	audit    []reservation.AuditEntry
	members  map[string]reservation.Member
}

func NewMemory() *Memory {
	return &Memory{
		bookings: make(map[reservation.BookingID]reservation.Booking),
		periods:  make(map[reservation.PeriodID]reservation.OwnershipPeriod),
		members:  make(map[string]reservation.Member),
	}
}

// state is the unlocked implementation shared by Memory and its transactional view.
type state struct{ m *Memory }

func (s state) getBooking(id reservation.BookingID) (*reservation.Booking, error) {
	b, ok := s.m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, reservation.ErrNotFound)
	}
	out := b.Clone()
	return &out, nil
}

func (s state) saveBooking(b reservation.Booking) {
	s.m.bookings[b.ID] = b.Clone()
}

func (s state) findBookings(f reservation.BookingFilter) []reservation.Booking {
	var result []reservation.Booking
	for _, b := range s.m.bookings {
		if f.Match(&b) {
			result = append(result, b.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Range.Start.Equal(result[j].Range.Start) {
			return result[i].Range.Start.Before(result[j].Range.Start)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s state) getPeriod(id reservation.PeriodID) (*reservation.OwnershipPeriod, error) {
	p, ok := s.m.periods[id]
	if !ok {
		return nil, fmt.Errorf("ownership period %s: %w", id, reservation.ErrNotFound)
	}
	return &p, nil
}

func (s state) deletePeriod(id reservation.PeriodID) error {
	if _, ok := s.m.periods[id]; !ok {
		return fmt.Errorf("ownership period %s: %w", id, reservation.ErrNotFound)
	}
	delete(s.m.periods, id)
	return nil
}

func (s state) findPeriods(f reservation.PeriodFilter) []reservation.OwnershipPeriod {
	var result []reservation.OwnershipPeriod
	for _, p := range s.m.periods {
		if f.Match(&p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Range.Start.Equal(result[j].Range.Start) {
			return result[i].Range.Start.Before(result[j].Range.Start)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// =============================================================================
// reservation.Store
// =============================================================================

func (m *Memory) GetBooking(_ context.Context, id reservation.BookingID) (*reservation.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return state{m}.getBooking(id)
}

func (m *Memory) SaveBooking(_ context.Context, b reservation.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state{m}.saveBooking(b)
	return nil
}

func (m *Memory) FindBookings(_ context.Context, f reservation.BookingFilter) ([]reservation.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return state{m}.findBookings(f), nil
}

func (m *Memory) GetPeriod(_ context.Context, id reservation.PeriodID) (*reservation.OwnershipPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return state{m}.getPeriod(id)
}

func (m *Memory) SavePeriod(_ context.Context, p reservation.OwnershipPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[p.ID] = p
	return nil
}

func (m *Memory) DeletePeriod(_ context.Context, id reservation.PeriodID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return state{m}.deletePeriod(id)
}

func (m *Memory) FindPeriods(_ context.Context, f reservation.PeriodFilter) ([]reservation.OwnershipPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return state{m}.findPeriods(f), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the write lock.
// On error the bookings and periods are restored from a snapshot.
func (m *Memory) WithTx(_ context.Context, fn func(reservation.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{state{m}}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	bookings map[reservation.BookingID]reservation.Booking
	periods  map[reservation.PeriodID]reservation.OwnershipPeriod
}

func (m *Memory) snapshot() memorySnapshot {
	bookings := make(map[reservation.BookingID]reservation.Booking, len(m.bookings))
	for k, v := range m.bookings {
		bookings[k] = v.Clone()
	}
	periods := make(map[reservation.PeriodID]reservation.OwnershipPeriod, len(m.periods))
	for k, v := range m.periods {
		periods[k] = v
	}
	return memorySnapshot{bookings: bookings, periods: periods}
}

func (m *Memory) restore(s memorySnapshot) {
	m.bookings = s.bookings
	m.periods = s.periods
}

// txView runs against the locked store without re-locking.
type txView struct {
	s state
}

func (v *txView) GetBooking(_ context.Context, id reservation.BookingID) (*reservation.Booking, error) {
	return v.s.getBooking(id)
}

func (v *txView) SaveBooking(_ context.Context, b reservation.Booking) error {
	v.s.saveBooking(b)
	return nil
}

func (v *txView) FindBookings(_ context.Context, f reservation.BookingFilter) ([]reservation.Booking, error) {
	return v.s.findBookings(f), nil
}

func (v *txView) GetPeriod(_ context.Context, id reservation.PeriodID) (*reservation.OwnershipPeriod, error) {
	return v.s.getPeriod(id)
}

func (v *txView) SavePeriod(_ context.Context, p reservation.OwnershipPeriod) error {
	v.s.m.periods[p.ID] = p
	return nil
}

func (v *txView) DeletePeriod(_ context.Context, id reservation.PeriodID) error {
	return v.s.deletePeriod(id)
}

func (v *txView) FindPeriods(_ context.Context, f reservation.PeriodFilter) ([]reservation.OwnershipPeriod, error) {
	return v.s.findPeriods(f), nil
}

// =============================================================================
// reservation.AuditLog
// =============================================================================

// Append adds an audit entry. Append-only.
func (m *Memory) Append(_ context.Context, e reservation.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// Query returns matching entries in reverse insertion order.
func (m *Memory) Query(_ context.Context, f reservation.AuditFilter) ([]reservation.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []reservation.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		if f.Match(&m.audit[i]) {
			result = append(result, m.audit[i])
			if f.Limit > 0 && len(result) == f.Limit {
				break
			}
		}
	}
	return result, nil
}

// =============================================================================
// reservation.MemberStore
// =============================================================================

func (m *Memory) SaveMember(_ context.Context, member reservation.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.Username] = member
	return nil
}

func (m *Memory) GetMember(_ context.Context, username string) (*reservation.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[username]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", username, reservation.ErrNotFound)
	}
	return &member, nil
}

func (m *Memory) ListMembers(_ context.Context) ([]reservation.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]reservation.Member, 0, len(m.members))
	for _, member := range m.members {
		result = append(result, member)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

// Reset clears bookings, periods and the audit trail. Members are kept.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings = make(map[reservation.BookingID]reservation.Booking)
	m.periods = make(map[reservation.PeriodID]reservation.OwnershipPeriod)
	m.audit = nil
	return nil
}
