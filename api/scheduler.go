/*
scheduler.go - Pending digest reminders

PURPOSE:
  Periodically reminds each group of the bookings waiting on its answer.
  A negotiation has no timeout, so without a reminder a forgotten request
  stays open forever.

DESIGN:
  - robfig/cron with the standard 5-field syntax ("0 9 * * MON")
  - Overlapping runs are skipped, panics are recovered and logged
  - An empty schedule disables the scheduler

USAGE:
  s := NewReminderScheduler(notifier, store, cfg.ReminderSchedule, logger)
  if err := s.Start(); err != nil { ... }
  defer s.Stop()

SEE ALSO:
  - notify/notify.go: Notifier.SendDigests
  - reservation/views.go: PendingDigests
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/shared-stay/notify"
	"github.com/warp/shared-stay/reservation"
)

// RunTimeout bounds one reminder run.
const RunTimeout = 2 * time.Minute

// ReminderScheduler sends pending digests on a cron schedule.
type ReminderScheduler struct {
	Notifier *notify.Notifier
	Store    reservation.Store
	Schedule string
	Logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	lastRun time.Time
}

// NewReminderScheduler creates a scheduler. Call Start to run it.
func NewReminderScheduler(n *notify.Notifier, store reservation.Store, schedule string, logger *slog.Logger) *ReminderScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		Notifier: n,
		Store:    store,
		Schedule: schedule,
		Logger:   logger,
	}
}

// Start registers the job and starts the cron loop.
func (s *ReminderScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Schedule == "" {
		s.Logger.Info("reminder scheduler disabled")
		return nil
	}
	if s.cron != nil {
		return fmt.Errorf("reminder scheduler already started")
	}

	logger := cronLogger{s.Logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.Schedule, s.run); err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", s.Schedule, err)
	}
	c.Start()
	s.cron = c

	s.Logger.Info("reminder scheduler started", "schedule", s.Schedule)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.Logger.Info("reminder scheduler stopped")
}

// RunNow sends the digests immediately and returns how many were sent.
func (s *ReminderScheduler) RunNow(ctx context.Context) (int, error) {
	sent, err := s.Notifier.SendDigests(ctx, s.Store)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()
	return sent, err
}

// LastRun returns when digests were last sent, zero if never.
func (s *ReminderScheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *ReminderScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), RunTimeout)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.Logger.Error("reminder run failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
