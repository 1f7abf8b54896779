/*
Package notify tells the right group about booking transitions.

PURPOSE:
  The ledger reports who should hear about a change (Transition.Recipient).
  This package turns that into a Notification, looks up the recipient
  group's members, and hands the result to a Dispatcher. It also sends the
  periodic digest of bookings still waiting on each group.

DISPATCHERS:
  LogDispatcher:  writes notifications to slog (default)
  AMQPDispatcher: publishes JSON to a RabbitMQ topic exchange
  Multi:          fans out to several dispatchers

  Delivery is best effort. A failed dispatch is logged and never undoes the
  booking change that caused it.

SEE ALSO:
  - reservation/ledger.go: Transition.Recipient
  - reservation/views.go: PendingDigests
  - api/scheduler.go: weekly digest job
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/shared-stay/reservation"
)

// =============================================================================
// NOTIFICATION
// =============================================================================

type Kind string

const (
	KindTransition Kind = "transition"
	KindDigest     Kind = "digest"
)

// Notification is one message for one group.
type Notification struct {
	Kind      Kind                    `json:"kind"`
	Recipient reservation.Group       `json:"recipient"`
	Emails    []string                `json:"emails,omitempty"`
	Subject   string                  `json:"subject"`
	Summary   string                  `json:"summary"`
	Link      string                  `json:"link,omitempty"`
	Action    reservation.AuditAction `json:"action,omitempty"`
	BookingID reservation.BookingID   `json:"booking_id,omitempty"`
	Bookings  []reservation.BookingID `json:"bookings,omitempty"`
	SentAt    time.Time               `json:"sent_at"`
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

var subjects = map[reservation.AuditAction]string{
	reservation.AuditCreated:        "New booking request",
	reservation.AuditAutoApproved:   "Booking confirmed in ownership period",
	reservation.AuditApproved:       "Booking approved",
	reservation.AuditRejected:       "Booking rejected, changes needed",
	reservation.AuditDerogaRequest:  "URGENT: change requested on approved booking",
	reservation.AuditDerogaAccepted: "Requested change accepted",
	reservation.AuditDerogaRejected: "Requested change refused",
	reservation.AuditModified:       "Booking modified, approval needed",
	reservation.AuditCancelled:      "Booking cancelled",
	reservation.AuditPeriodReduced:  "Booking period reduced",
	reservation.AuditPeriodExtended: "Booking period changed, approval needed",
	reservation.AuditDatesUpdated:   "Booking dates updated",
}

// Subject returns the message subject for an action on a booking titled title.
func Subject(action reservation.AuditAction, title string) string {
	s, ok := subjects[action]
	if !ok {
		s = "Booking update"
	}
	if title == "" {
		return s
	}
	return s + ": " + title
}

// FromTransition builds the notification for a committed transition.
// It returns false when nobody needs to hear about it.
func FromTransition(tr *reservation.Transition, appURL string) (Notification, bool) {
	recipient, ok := tr.Recipient()
	if !ok {
		return Notification{}, false
	}
	b := tr.Booking

	summary := fmt.Sprintf("%s by %s. Dates: %s. Status: %s.", tr.Action, tr.Actor, b.Range, b.Status)
	if tr.RangeChanged() {
		summary += fmt.Sprintf(" Previous dates: %s.", tr.PreviousRange)
	}
	if tr.Details != "" {
		summary += " " + tr.Details
	}

	return Notification{
		Kind:      KindTransition,
		Recipient: recipient,
		Subject:   Subject(tr.Action, b.Title),
		Summary:   summary,
		Link:      bookingLink(appURL, b.ID),
		Action:    tr.Action,
		BookingID: b.ID,
	}, true
}

// FromDigest builds the reminder for one group's pending bookings.
func FromDigest(d reservation.PendingDigest, appURL string) Notification {
	var (
		lines []string
		ids   []reservation.BookingID
	)
	for _, b := range d.Bookings {
		title := b.Title
		if title == "" {
			title = string(b.ID)
		}
		lines = append(lines, fmt.Sprintf("- %s (%s, group %s, %s)", title, b.Range, b.Owner, b.Status))
		ids = append(ids, b.ID)
	}
	return Notification{
		Kind:      KindDigest,
		Recipient: d.Group,
		Subject:   fmt.Sprintf("%d booking(s) waiting for your answer", len(d.Bookings)),
		Summary:   strings.Join(lines, "\n"),
		Link:      appURL,
		Bookings:  ids,
	}
}

func bookingLink(appURL string, id reservation.BookingID) string {
	if appURL == "" {
		return ""
	}
	return strings.TrimSuffix(appURL, "/") + "/bookings/" + string(id)
}

// =============================================================================
// NOTIFIER - Recipient lookup + dispatch
// =============================================================================

// Notifier resolves recipients and dispatches notifications.
type Notifier struct {
	Dispatcher Dispatcher
	Members    reservation.MemberStore // optional, fills Notification.Emails
	Logger     *slog.Logger
	AppURL     string
	Now        func() time.Time
}

func NewNotifier(d Dispatcher, members reservation.MemberStore, logger *slog.Logger, appURL string) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{Dispatcher: d, Members: members, Logger: logger, AppURL: appURL, Now: time.Now}
}

// Transition notifies the recipient group of tr, if any. Failures are logged.
func (n *Notifier) Transition(ctx context.Context, tr *reservation.Transition) {
	msg, ok := FromTransition(tr, n.AppURL)
	if !ok {
		return
	}
	if err := n.send(ctx, msg); err != nil {
		n.Logger.Error("notification failed",
			"booking", tr.Booking.ID, "action", tr.Action, "recipient", msg.Recipient, "error", err)
	}
}

// SendDigests dispatches one reminder per group with pending bookings and
// returns how many were sent.
func (n *Notifier) SendDigests(ctx context.Context, s reservation.Store) (int, error) {
	digests, err := reservation.PendingDigests(ctx, s)
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, d := range digests {
		if err := n.send(ctx, FromDigest(d, n.AppURL)); err != nil {
			errs = append(errs, fmt.Errorf("digest for group %s: %w", d.Group, err))
			continue
		}
		sent++
	}
	n.Logger.Info("pending digests sent", "sent", sent, "groups", len(digests))
	return sent, errors.Join(errs...)
}

func (n *Notifier) send(ctx context.Context, msg Notification) error {
	msg.SentAt = n.Now()
	if n.Members != nil {
		emails, err := n.emails(ctx, msg.Recipient)
		if err != nil {
			return err
		}
		msg.Emails = emails
	}
	return n.Dispatcher.Dispatch(ctx, msg)
}

func (n *Notifier) emails(ctx context.Context, g reservation.Group) ([]string, error) {
	members, err := n.Members.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	var out []string
	for _, m := range members {
		if m.Group == g && m.Email != "" {
			out = append(out, m.Email)
		}
	}
	return out, nil
}

// =============================================================================
// DISPATCHERS
// =============================================================================

// LogDispatcher writes notifications to the log.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"kind", n.Kind,
		"recipient", n.Recipient,
		"emails", n.Emails,
		"subject", n.Subject,
		"booking", n.BookingID,
	)
	return nil
}

// Multi dispatches to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
