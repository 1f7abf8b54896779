/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes the reservation ledger, the ownership calendar and the audit
  trail over REST. Handles request/response, JSON serialization, and
  delegates every decision to the reservation package.

ENDPOINTS:
  Identity:
    GET    /api/me                      Member + group of the X-User header

  Views:
    GET    /api/dashboard               Buckets for the caller's group
    GET    /api/calendar/events         ?from=&to= (both optional)
    GET    /api/usage                   ?year= (default: current year)

  Bookings:
    GET    /api/bookings                ?status=&owner=&pending_with=
    POST   /api/bookings                Create
    GET    /api/bookings/{id}           Details
    GET    /api/bookings/{id}/audit     History of one booking
    POST   /api/bookings/{id}/approve
    POST   /api/bookings/{id}/reject    {note}
    POST   /api/bookings/{id}/deroga    {start_date,end_date,note}
    POST   /api/bookings/{id}/modify    {start_date,end_date}
    POST   /api/bookings/{id}/dates     {start_date,end_date} (calendar drag)
    POST   /api/bookings/{id}/cancel

  Ownership:
    GET    /api/ownership
    POST   /api/ownership
    DELETE /api/ownership/{id}

  Audit:
    GET    /api/audit                   ?limit=&group=

  Members, scenarios, admin: see scenarios.go

ACTING USER:
  Every booking, ownership and view endpoint requires the X-User header.
  The user must exist in the member directory; its group is the acting
  group. Missing or unknown users get 401.

ERROR HANDLING:
  Errors are returned as JSON {error, details}:
  - 400: Malformed body, bad dates, unknown group or status
  - 401: Missing or unknown X-User
  - 403: Not your turn, not the owner
  - 404: Booking, period or member not found
  - 409: Overlap with a confirmed booking, operation not allowed in state
  - 500: Internal errors

NOTIFICATIONS:
  After every successful transition the recipient group is notified.
  Delivery failures are logged and never fail the request.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Member directory, demo scenarios, reset
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/shared-stay/config"
	"github.com/warp/shared-stay/notify"
	"github.com/warp/shared-stay/reservation"
)

// UserHeader names the acting user.
const UserHeader = "X-User"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is everything the API needs from storage. Both the SQLite store
// and the in-memory store implement it.
type Backend interface {
	reservation.TxStore
	reservation.AuditLog
	reservation.MemberStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Backend
	Ledger    *reservation.Ledger
	Ownership *reservation.OwnershipCalendar
	Audit     *reservation.AuditTrail
	Notifier  *notify.Notifier // optional
	Config    *config.Config
	Logger    *slog.Logger
	Now       func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the domain services on top of store.
func NewHandler(store Backend, cfg *config.Config, notifier *notify.Notifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	audit := reservation.NewAuditTrail(store)
	return &Handler{
		Store:     store,
		Ledger:    reservation.NewLedger(store, audit, logger),
		Ownership: reservation.NewOwnershipCalendar(store, logger),
		Audit:     audit,
		Notifier:  notifier,
		Config:    cfg,
		Logger:    logger,
		Now:       time.Now,
	}
}

// =============================================================================
// ACTING MEMBER
// =============================================================================

type memberKey struct{}

// RequireMember resolves the X-User header to a member and stores it in
// the request context.
func (h *Handler) RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(UserHeader))
		if username == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+UserHeader+" header", nil)
			return
		}
		m, err := h.Store.GetMember(r.Context(), username)
		if err != nil {
			if reservation.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "Unknown user", err)
				return
			}
			h.internalError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), memberKey{}, *m)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// memberFrom returns the member set by RequireMember.
func memberFrom(ctx context.Context) reservation.Member {
	m, _ := ctx.Value(memberKey{}).(reservation.Member)
	return m
}

// Me returns the acting member.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.toMemberDTO(memberFrom(r.Context())))
}

// =============================================================================
// VIEW HANDLERS
// =============================================================================

// Dashboard returns the booking buckets of the caller's group.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	g := memberFrom(r.Context()).Group
	d, err := reservation.BuildDashboard(r.Context(), h.Store, g)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DashboardDTO{
		Group:             string(d.Group),
		DerogaRequests:    toBookingDTOs(d.DerogaRequests),
		Approved:          toBookingDTOs(d.Approved),
		RequiresAttention: toBookingDTOs(d.RequiresAttention),
		MyRequests:        toBookingDTOs(d.MyRequests),
	})
}

// CalendarEvents returns visible bookings coloured for the caller.
func (h *Handler) CalendarEvents(w http.ResponseWriter, r *http.Request) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")

	var window *reservation.DateRange
	if from != "" || to != "" {
		rng, err := RangeRequest{StartDate: from, EndDate: to}.Range()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid calendar window", err)
			return
		}
		if err := rng.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid calendar window", err)
			return
		}
		window = &rng
	}

	events, err := reservation.CalendarEvents(r.Context(), h.Store, memberFrom(r.Context()).Group, window)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Usage returns the share of approved nights per group for a year.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	year := h.Now().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y < 1 || y > 9999 {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	report, err := reservation.BuildUsageReport(r.Context(), h.Store, year)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	dto := UsageDTO{
		Year:         report.Year,
		YearNights:   report.YearNights,
		BookedNights: report.BookedNights,
		FreeNights:   report.FreeNights,
	}
	for _, g := range report.Groups {
		dto.Groups = append(dto.Groups, GroupUsageDTO{
			Group:     string(g.Group),
			GroupName: h.Config.GroupName(g.Group),
			Bookings:  g.Bookings,
			Nights:    g.Nights,
			Share:     g.Share.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// ListBookings returns bookings matching the query filters.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter reservation.BookingFilter

	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			st, err := reservation.ParseStatus(strings.ToUpper(strings.TrimSpace(part)))
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid status", err)
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	for param, dst := range map[string]**reservation.Group{
		"owner":        &filter.Owner,
		"pending_with": &filter.PendingWith,
	} {
		s := q.Get(param)
		if s == "" {
			continue
		}
		g, err := reservation.ParseGroup(strings.ToUpper(s))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+param, err)
			return
		}
		*dst = &g
	}

	bookings, err := h.Ledger.List(r.Context(), filter)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(bookings))
}

// GetBooking returns one booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Ledger.Get(r.Context(), bookingID(r))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// BookingAudit returns the history of one booking, newest first.
func (h *Handler) BookingAudit(w http.ResponseWriter, r *http.Request) {
	id := bookingID(r)
	if _, err := h.Ledger.Get(r.Context(), id); err != nil {
		h.domainError(w, r, err)
		return
	}
	entries, err := h.Audit.ForBooking(r.Context(), id)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// CreateBooking submits a new booking for the caller's group.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rng, err := req.Range()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dates", err)
		return
	}

	actor := memberFrom(r.Context()).Actor()
	tr, err := h.Ledger.Create(r.Context(), actor, strings.TrimSpace(req.Title), rng)
	h.respondTransition(w, r, http.StatusCreated, tr, err)
}

func (h *Handler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	actor := memberFrom(r.Context()).Actor()
	tr, err := h.Ledger.Approve(r.Context(), actor, bookingID(r))
	h.respondTransition(w, r, http.StatusOK, tr, err)
}

func (h *Handler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	actor := memberFrom(r.Context()).Actor()
	tr, err := h.Ledger.Reject(r.Context(), actor, bookingID(r), strings.TrimSpace(req.Note))
	h.respondTransition(w, r, http.StatusOK, tr, err)
}

// RequestDeroga asks the owner of an approved booking to move it.
func (h *Handler) RequestDeroga(w http.ResponseWriter, r *http.Request) {
	var req DerogaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rng, err := req.Range()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dates", err)
		return
	}
	actor := memberFrom(r.Context()).Actor()
	tr, err := h.Ledger.RequestDeroga(r.Context(), actor, bookingID(r), rng, strings.TrimSpace(req.Note))
	h.respondTransition(w, r, http.StatusOK, tr, err)
}

// ModifyBooking changes the dates of a booking and restarts negotiation.
func (h *Handler) ModifyBooking(w http.ResponseWriter, r *http.Request) {
	h.moveBooking(w, r, h.Ledger.Modify)
}

// UpdateDates is the calendar drag-and-drop variant of ModifyBooking.
func (h *Handler) UpdateDates(w http.ResponseWriter, r *http.Request) {
	h.moveBooking(w, r, h.Ledger.DragUpdate)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	actor := memberFrom(r.Context()).Actor()
	tr, err := h.Ledger.Cancel(r.Context(), actor, bookingID(r))
	h.respondTransition(w, r, http.StatusOK, tr, err)
}

type moveFunc func(context.Context, reservation.Actor, reservation.BookingID, reservation.DateRange) (*reservation.Transition, error)

func (h *Handler) moveBooking(w http.ResponseWriter, r *http.Request, move moveFunc) {
	var req RangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rng, err := req.Range()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dates", err)
		return
	}
	actor := memberFrom(r.Context()).Actor()
	tr, err := move(r.Context(), actor, bookingID(r), rng)
	h.respondTransition(w, r, http.StatusOK, tr, err)
}

// respondTransition writes the outcome of a ledger operation and notifies
// the recipient group on success.
func (h *Handler) respondTransition(w http.ResponseWriter, r *http.Request, status int, tr *reservation.Transition, err error) {
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	if h.Notifier != nil {
		h.Notifier.Transition(r.Context(), tr)
	}
	writeJSON(w, status, toTransitionResponse(tr))
}

func bookingID(r *http.Request) reservation.BookingID {
	return reservation.BookingID(chi.URLParam(r, "id"))
}

// =============================================================================
// OWNERSHIP HANDLERS
// =============================================================================

// ListPeriods returns ownership periods, optionally for one ?group=.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	var filter reservation.PeriodFilter
	if s := r.URL.Query().Get("group"); s != "" {
		g, err := reservation.ParseGroup(strings.ToUpper(s))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid group", err)
			return
		}
		filter.Group = &g
	}

	periods, err := h.Ownership.List(r.Context(), filter)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePeriod claims an ownership period for the caller's group.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req CreatePeriodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rng, err := req.Range()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dates", err)
		return
	}

	actor := memberFrom(r.Context()).Actor()
	p, err := h.Ownership.Create(r.Context(), actor, rng, strings.TrimSpace(req.Note))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(*p))
}

// DeletePeriod removes one of the caller's ownership periods.
func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	actor := memberFrom(r.Context()).Actor()
	id := reservation.PeriodID(chi.URLParam(r, "id"))
	if err := h.Ownership.Delete(r.Context(), actor, id); err != nil {
		h.domainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit returns the most recent audit entries.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	var filter reservation.AuditFilter
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}
	if s := r.URL.Query().Get("group"); s != "" {
		g, err := reservation.ParseGroup(strings.ToUpper(s))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid group", err)
			return
		}
		filter.Group = &g
	}

	entries, err := h.Audit.History(r.Context(), filter)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) toMemberDTO(m reservation.Member) MemberDTO {
	return MemberDTO{
		Username:    m.Username,
		Group:       string(m.Group),
		GroupName:   h.Config.GroupName(m.Group),
		DisplayName: m.DisplayName,
		Email:       m.Email,
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// domainError maps reservation errors to HTTP status codes.
func (h *Handler) domainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case reservation.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case reservation.IsForbidden(err):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case reservation.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case reservation.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.Logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "Internal error", nil)
}
