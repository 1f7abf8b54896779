/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures of the booking API. Domain types carry no
  JSON tags; the mapping to snake_case fields happens here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers of several DTOs

DATES:
  All dates are "YYYY-MM-DD" calendar days. end_date is the checkout day
  and is not occupied.

SEE ALSO:
  - handlers.go: Uses these types
  - reservation/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/warp/shared-stay/reservation"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RangeRequest is the body of every operation that only moves dates.
type RangeRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Range parses both days and builds the half-open range.
func (r RangeRequest) Range() (reservation.DateRange, error) {
	start, err := reservation.ParseDay(r.StartDate)
	if err != nil {
		return reservation.DateRange{}, err
	}
	end, err := reservation.ParseDay(r.EndDate)
	if err != nil {
		return reservation.DateRange{}, err
	}
	return reservation.NewDateRange(start, end), nil
}

type CreateBookingRequest struct {
	Title string `json:"title"`
	RangeRequest
}

type RejectRequest struct {
	Note string `json:"note"`
}

type DerogaRequest struct {
	RangeRequest
	Note string `json:"note"`
}

type CreatePeriodRequest struct {
	RangeRequest
	Note string `json:"note"`
}

type CreateMemberRequest struct {
	Username    string `json:"username"`
	Group       string `json:"group"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// LoadScenarioRequest selects a built-in scenario by name.
type LoadScenarioRequest struct {
	Name  string `json:"name"`
	Reset bool   `json:"reset"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type MemberDTO struct {
	Username    string `json:"username"`
	Group       string `json:"group"`
	GroupName   string `json:"group_name"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// DerogaDTO is the open revision request of a booking.
type DerogaDTO struct {
	OriginalStartDate string `json:"original_start_date"`
	OriginalEndDate   string `json:"original_end_date"`
	RequestedBy       string `json:"requested_by"`
	RequestedByUser   string `json:"requested_by_user,omitempty"`
	Note              string `json:"note,omitempty"`
}

type BookingDTO struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	CreatedBy     string     `json:"created_by"`
	Title         string     `json:"title"`
	StartDate     string     `json:"start_date"`
	EndDate       string     `json:"end_date"`
	Nights        int        `json:"nights"`
	Status        string     `json:"status"`
	PendingWith   *string    `json:"pending_with"`
	RejectionNote string     `json:"rejection_note,omitempty"`
	Deroga        *DerogaDTO `json:"deroga,omitempty"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     string     `json:"updated_at"`
}

// TransitionResponse is returned by every lifecycle operation.
type TransitionResponse struct {
	Action         string     `json:"action"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Details        string     `json:"details,omitempty"`
	Booking        BookingDTO `json:"booking"`
}

type DashboardDTO struct {
	Group             string       `json:"group"`
	DerogaRequests    []BookingDTO `json:"deroga_requests"`
	Approved          []BookingDTO `json:"approved"`
	RequiresAttention []BookingDTO `json:"requires_attention"`
	MyRequests        []BookingDTO `json:"my_requests"`
}

// EventDTO is a calendar entry. "end" is exclusive, as calendar widgets expect.
type EventDTO struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Color       string  `json:"color"`
	Owner       string  `json:"owner"`
	Status      string  `json:"status"`
	PendingWith *string `json:"pending_with"`
}

type PeriodDTO struct {
	ID        string `json:"id"`
	Group     string `json:"group"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Note      string `json:"note,omitempty"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

type AuditEntryDTO struct {
	ID        string `json:"id"`
	BookingID string `json:"booking_id"`
	Action    string `json:"action"`
	User      string `json:"user"`
	Group     string `json:"group"`
	Timestamp string `json:"timestamp"`
	Details   string `json:"details,omitempty"`
}

type GroupUsageDTO struct {
	Group     string `json:"group"`
	GroupName string `json:"group_name"`
	Bookings  int    `json:"bookings"`
	Nights    int    `json:"nights"`
	Share     string `json:"share"`
}

type UsageDTO struct {
	Year         int             `json:"year"`
	YearNights   int             `json:"year_nights"`
	BookedNights int             `json:"booked_nights"`
	FreeNights   int             `json:"free_nights"`
	Groups       []GroupUsageDTO `json:"groups"`
}

// ScenarioDTO describes a scenario available for loading.
type ScenarioDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Current     bool   `json:"current"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func groupPtr(g *reservation.Group) *string {
	if g == nil {
		return nil
	}
	s := string(*g)
	return &s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toBookingDTO(b reservation.Booking) BookingDTO {
	dto := BookingDTO{
		ID:            string(b.ID),
		Owner:         string(b.Owner),
		CreatedBy:     b.CreatedBy,
		Title:         b.Title,
		StartDate:     b.Range.Start.String(),
		EndDate:       b.Range.End.String(),
		Nights:        b.Range.Nights(),
		Status:        string(b.Status),
		PendingWith:   groupPtr(b.PendingWith),
		RejectionNote: b.RejectionNote,
		CreatedAt:     formatTime(b.CreatedAt),
		UpdatedAt:     formatTime(b.UpdatedAt),
	}
	if d := b.Deroga; d != nil {
		dto.Deroga = &DerogaDTO{
			OriginalStartDate: d.Original.Start.String(),
			OriginalEndDate:   d.Original.End.String(),
			RequestedBy:       string(d.RequestedBy),
			RequestedByUser:   d.RequestedByUser,
			Note:              d.Note,
		}
	}
	return dto
}

func toBookingDTOs(bookings []reservation.Booking) []BookingDTO {
	out := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		out[i] = toBookingDTO(b)
	}
	return out
}

func toTransitionResponse(tr *reservation.Transition) TransitionResponse {
	return TransitionResponse{
		Action:         string(tr.Action),
		PreviousStatus: string(tr.PreviousStatus),
		Details:        tr.Details,
		Booking:        toBookingDTO(tr.Booking),
	}
}

func toEventDTO(e reservation.CalendarEvent) EventDTO {
	return EventDTO{
		ID:          string(e.ID),
		Title:       e.Title,
		Start:       e.Range.Start.String(),
		End:         e.Range.End.String(),
		Color:       e.Color,
		Owner:       string(e.Owner),
		Status:      string(e.Status),
		PendingWith: groupPtr(e.PendingWith),
	}
}

func toPeriodDTO(p reservation.OwnershipPeriod) PeriodDTO {
	return PeriodDTO{
		ID:        string(p.ID),
		Group:     string(p.Group),
		StartDate: p.Range.Start.String(),
		EndDate:   p.Range.End.String(),
		Note:      p.Note,
		CreatedBy: p.CreatedBy,
		CreatedAt: formatTime(p.CreatedAt),
	}
}

func toAuditDTOs(entries []reservation.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryDTO{
			ID:        e.ID,
			BookingID: string(e.BookingID),
			Action:    string(e.Action),
			User:      e.Actor.User,
			Group:     string(e.Actor.Group),
			Timestamp: formatTime(e.Timestamp),
			Details:   e.Details,
		}
	}
	return out
}
