/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists bookings, ownership periods, the audit trail and the member
  directory in a single SQLite file. The same queries run on PostgreSQL with
  minor dialect changes.

INTERFACES IMPLEMENTED:
  reservation.TxStore:     Bookings and ownership periods
  reservation.AuditLog:    Append-only audit entries
  reservation.MemberStore: User directory

KEY TABLES:
  bookings:          One row per booking, deroga columns NULL unless in DEROGA
  ownership_periods: Auto-approval windows
  audit_entries:     Append-only; an UPDATE trigger aborts any rewrite
  members:           Username to group mapping

OVERLAP QUERY:
  A booking occupies [start_date, end_date) and, while in deroga, also
  [orig_start, orig_end). Dates are stored as YYYY-MM-DD text so string
  comparison orders them correctly:

    (start_date < :end AND end_date > :start)
    OR (orig_start IS NOT NULL AND orig_start < :end AND orig_end > :start)

CONCURRENCY:
  The pool is capped at one connection and WithTx holds a mutex for the
  whole read-check-write sequence. Inside WithTx every query goes through
  the *sql.Tx, never through the parent Store.

MIGRATION:
  Schema is versioned with goose. Migrations are embedded from
  migrations/*.sql and applied on New().

USAGE:
  store, err := sqlite.New("./data/stay.db")
  if err != nil {
      return err
  }
  defer store.Close()

  ledger := reservation.NewLedger(store, reservation.NewAuditTrail(store), logger)

SEE ALSO:
  - reservation/store.go: Interface definitions
  - reservation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/shared-stay/reservation"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; held for the whole of WithTx
}

// New opens (or creates) the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" a single database and makes WithTx the
	// only writer.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `id, owner, created_by, title, start_date, end_date, status,
	pending_with, rejection_note, orig_start, orig_end, deroga_by, deroga_by_user,
	deroga_note, created_at, updated_at`

func getBooking(ctx context.Context, q querier, id reservation.BookingID) (*reservation.Booking, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("booking %s: %w", id, reservation.ErrNotFound)
	}
	b, err := scanBooking(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func saveBooking(ctx context.Context, q querier, b reservation.Booking) error {
	var (
		pendingWith                      sql.NullString
		origStart, origEnd               sql.NullString
		derogaBy, derogaUser, derogaNote sql.NullString
	)
	if b.PendingWith != nil {
		pendingWith = nullString(string(*b.PendingWith))
	}
	if d := b.Deroga; d != nil {
		origStart = nullString(d.Original.Start.String())
		origEnd = nullString(d.Original.End.String())
		derogaBy = nullString(string(d.RequestedBy))
		derogaUser = sql.NullString{String: d.RequestedByUser, Valid: true}
		derogaNote = sql.NullString{String: d.Note, Valid: true}
	}

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			pending_with = excluded.pending_with,
			rejection_note = excluded.rejection_note,
			orig_start = excluded.orig_start,
			orig_end = excluded.orig_end,
			deroga_by = excluded.deroga_by,
			deroga_by_user = excluded.deroga_by_user,
			deroga_note = excluded.deroga_note,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		b.ID,
		b.Owner,
		b.CreatedBy,
		b.Title,
		b.Range.Start.String(),
		b.Range.End.String(),
		b.Status,
		pendingWith,
		b.RejectionNote,
		origStart,
		origEnd,
		derogaBy,
		derogaUser,
		derogaNote,
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save booking %s: %w", b.ID, err)
	}
	return nil
}

func findBookings(ctx context.Context, q querier, f reservation.BookingFilter) ([]reservation.Booking, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.Owner != nil {
		where = append(where, "owner = ?")
		args = append(args, *f.Owner)
	}
	if f.PendingWith != nil {
		where = append(where, "pending_with = ?")
		args = append(args, *f.PendingWith)
	}
	if f.Overlapping != nil {
		start, end := f.Overlapping.Start.String(), f.Overlapping.End.String()
		where = append(where, `((start_date < ? AND end_date > ?)
			OR (orig_start IS NOT NULL AND orig_start < ? AND orig_end > ?))`)
		args = append(args, end, start, end, start)
	}
	if f.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, f.ExcludeID)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []reservation.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(rows *sql.Rows) (reservation.Booking, error) {
	var (
		b                                reservation.Booking
		start, end                       string
		pendingWith                      sql.NullString
		origStart, origEnd               sql.NullString
		derogaBy, derogaUser, derogaNote sql.NullString
		createdAt, updatedAt             string
	)

	err := rows.Scan(
		&b.ID, &b.Owner, &b.CreatedBy, &b.Title, &start, &end, &b.Status,
		&pendingWith, &b.RejectionNote, &origStart, &origEnd, &derogaBy, &derogaUser,
		&derogaNote, &createdAt, &updatedAt,
	)
	if err != nil {
		return b, fmt.Errorf("failed to scan booking: %w", err)
	}

	if b.Range, err = parseRange(start, end); err != nil {
		return b, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	if pendingWith.Valid {
		b.PendingWith = reservation.Group(pendingWith.String).Ptr()
	}
	if origStart.Valid {
		original, err := parseRange(origStart.String, origEnd.String)
		if err != nil {
			return b, fmt.Errorf("booking %s: %w", b.ID, err)
		}
		b.Deroga = &reservation.DerogaProposal{
			Original:        original,
			RequestedBy:     reservation.Group(derogaBy.String),
			RequestedByUser: derogaUser.String,
			Note:            derogaNote.String,
		}
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// OWNERSHIP PERIODS
// =============================================================================

const periodColumns = `id, group_name, start_date, end_date, note, created_by, created_at`

func getPeriod(ctx context.Context, q querier, id reservation.PeriodID) (*reservation.OwnershipPeriod, error) {
	periods, err := queryPeriods(ctx, q, `SELECT `+periodColumns+` FROM ownership_periods WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		return nil, fmt.Errorf("ownership period %s: %w", id, reservation.ErrNotFound)
	}
	return &periods[0], nil
}

func savePeriod(ctx context.Context, q querier, p reservation.OwnershipPeriod) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ownership_periods (`+periodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			note = excluded.note
	`,
		p.ID, p.Group, p.Range.Start.String(), p.Range.End.String(),
		p.Note, p.CreatedBy, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save ownership period %s: %w", p.ID, err)
	}
	return nil
}

func deletePeriod(ctx context.Context, q querier, id reservation.PeriodID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM ownership_periods WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete ownership period %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ownership period %s: %w", id, reservation.ErrNotFound)
	}
	return nil
}

func findPeriods(ctx context.Context, q querier, f reservation.PeriodFilter) ([]reservation.OwnershipPeriod, error) {
	var (
		where []string
		args  []any
	)
	if f.Group != nil {
		where = append(where, "group_name = ?")
		args = append(args, *f.Group)
	}
	if f.Overlapping != nil {
		where = append(where, "start_date < ? AND end_date > ?")
		args = append(args, f.Overlapping.End.String(), f.Overlapping.Start.String())
	}

	query := `SELECT ` + periodColumns + ` FROM ownership_periods`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date ASC, id ASC"
	return queryPeriods(ctx, q, query, args...)
}

func queryPeriods(ctx context.Context, q querier, query string, args ...any) ([]reservation.OwnershipPeriod, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ownership periods: %w", err)
	}
	defer rows.Close()

	var periods []reservation.OwnershipPeriod
	for rows.Next() {
		var (
			p          reservation.OwnershipPeriod
			start, end string
			createdAt  string
		)
		if err := rows.Scan(&p.ID, &p.Group, &start, &end, &p.Note, &p.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ownership period: %w", err)
		}
		if p.Range, err = parseRange(start, end); err != nil {
			return nil, fmt.Errorf("ownership period %s: %w", p.ID, err)
		}
		p.CreatedAt = parseTime(createdAt)
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// =============================================================================
// reservation.Store (outside a transaction)
// =============================================================================

func (s *Store) GetBooking(ctx context.Context, id reservation.BookingID) (*reservation.Booking, error) {
	return getBooking(ctx, s.db, id)
}

func (s *Store) SaveBooking(ctx context.Context, b reservation.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBooking(ctx, s.db, b)
}

func (s *Store) FindBookings(ctx context.Context, f reservation.BookingFilter) ([]reservation.Booking, error) {
	return findBookings(ctx, s.db, f)
}

func (s *Store) GetPeriod(ctx context.Context, id reservation.PeriodID) (*reservation.OwnershipPeriod, error) {
	return getPeriod(ctx, s.db, id)
}

func (s *Store) SavePeriod(ctx context.Context, p reservation.OwnershipPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePeriod(ctx, s.db, p)
}

func (s *Store) DeletePeriod(ctx context.Context, id reservation.PeriodID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePeriod(ctx, s.db, id)
}

func (s *Store) FindPeriods(ctx context.Context, f reservation.PeriodFilter) ([]reservation.OwnershipPeriod, error) {
	return findPeriods(ctx, s.db, f)
}

// =============================================================================
// TRANSACTIONAL STORE (reservation.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The transaction is
// rolled back if fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(reservation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetBooking(ctx context.Context, id reservation.BookingID) (*reservation.Booking, error) {
	return getBooking(ctx, ts.tx, id)
}

func (ts *txStore) SaveBooking(ctx context.Context, b reservation.Booking) error {
	return saveBooking(ctx, ts.tx, b)
}

func (ts *txStore) FindBookings(ctx context.Context, f reservation.BookingFilter) ([]reservation.Booking, error) {
	return findBookings(ctx, ts.tx, f)
}

func (ts *txStore) GetPeriod(ctx context.Context, id reservation.PeriodID) (*reservation.OwnershipPeriod, error) {
	return getPeriod(ctx, ts.tx, id)
}

func (ts *txStore) SavePeriod(ctx context.Context, p reservation.OwnershipPeriod) error {
	return savePeriod(ctx, ts.tx, p)
}

func (ts *txStore) DeletePeriod(ctx context.Context, id reservation.PeriodID) error {
	return deletePeriod(ctx, ts.tx, id)
}

func (ts *txStore) FindPeriods(ctx context.Context, f reservation.PeriodFilter) ([]reservation.OwnershipPeriod, error) {
	return findPeriods(ctx, ts.tx, f)
}

// =============================================================================
// AUDIT LOG (reservation.AuditLog interface)
// =============================================================================

// Append inserts an audit entry. Rows are never updated or deleted
// except by Reset.
func (s *Store) Append(ctx context.Context, e reservation.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, booking_id, action, actor_user, actor_group, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.BookingID, e.Action, e.Actor.User, e.Actor.Group, formatTime(e.Timestamp), e.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns matching audit entries, newest first.
func (s *Store) Query(ctx context.Context, f reservation.AuditFilter) ([]reservation.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.BookingID != nil {
		where = append(where, "booking_id = ?")
		args = append(args, *f.BookingID)
	}
	if f.Group != nil {
		where = append(where, "actor_group = ?")
		args = append(args, *f.Group)
	}
	if len(f.Actions) > 0 {
		where = append(where, "action IN ("+placeholders(len(f.Actions))+")")
		for _, a := range f.Actions {
			args = append(args, a)
		}
	}

	query := `SELECT id, booking_id, action, actor_user, actor_group, timestamp, details FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []reservation.AuditEntry
	for rows.Next() {
		var (
			e  reservation.AuditEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Action, &e.Actor.User, &e.Actor.Group, &ts, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// MEMBERS (reservation.MemberStore interface)
// =============================================================================

func (s *Store) SaveMember(ctx context.Context, m reservation.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (username, group_name, display_name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			group_name = excluded.group_name,
			display_name = excluded.display_name,
			email = excluded.email
	`, m.Username, m.Group, m.DisplayName, m.Email, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save member %s: %w", m.Username, err)
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, username string) (*reservation.Member, error) {
	var (
		m         reservation.Member
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT username, group_name, display_name, email, created_at
		FROM members WHERE username = ?
	`, username).Scan(&m.Username, &m.Group, &m.DisplayName, &m.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", username, reservation.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]reservation.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, group_name, display_name, email, created_at
		FROM members ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []reservation.Member
	for rows.Next() {
		var (
			m         reservation.Member
			createdAt string
		)
		if err := rows.Scan(&m.Username, &m.Group, &m.DisplayName, &m.Email, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset deletes all bookings, ownership periods and audit entries.
// Members are kept so users can keep logging in.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"audit_entries", "bookings", "ownership_periods"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseRange(start, end string) (reservation.DateRange, error) {
	s, err := reservation.ParseDay(start)
	if err != nil {
		return reservation.DateRange{}, err
	}
	e, err := reservation.ParseDay(end)
	if err != nil {
		return reservation.DateRange{}, err
	}
	return reservation.NewDateRange(s, e), nil
}
