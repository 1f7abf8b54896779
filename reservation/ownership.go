/*
ownership.go - Ownership calendar (pre-approved windows per group)

PURPOSE:
  A group can declare ownership periods: windows in which its own bookings
  skip negotiation. The calendar guarantees that periods of different
  groups never overlap, so at most one group can auto-approve any night.

RULES:
  - Creation validates the range and rejects overlap with the OTHER group's
    periods (ErrOwnershipConflict). Periods of the same group may overlap.
  - Only the owning group may delete a period.
  - Containment for auto-approval is non-strict: a booking that starts on
    the period's first day and ends on its last day is covered.
  - Periods do not touch existing bookings: deleting a period never revokes
    an approval, and creating one never approves a pending booking.

SEE ALSO:
  - ledger.go: Create consults coveringPeriod
*/
package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OwnershipCalendar manages ownership periods.
type OwnershipCalendar struct {
	Store  TxStore
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

func NewOwnershipCalendar(store TxStore, logger *slog.Logger) *OwnershipCalendar {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnershipCalendar{Store: store, Logger: logger, Now: time.Now, NewID: NewID}
}

// Create declares a new ownership period for the actor's group.
func (c *OwnershipCalendar) Create(ctx context.Context, actor Actor, rng DateRange, note string) (*OwnershipPeriod, error) {
	if !actor.Group.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroup, actor.Group)
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	var created *OwnershipPeriod
	err := c.Store.WithTx(ctx, func(tx Store) error {
		other := actor.Group.Other()
		conflicts, err := tx.FindPeriods(ctx, PeriodFilter{Group: &other, Overlapping: &rng})
		if err != nil {
			return fmt.Errorf("ownership overlap check failed: %w", err)
		}
		if len(conflicts) > 0 {
			return &OwnershipConflictError{
				Candidate:   rng,
				Group:       other,
				Conflicting: conflicts[0].ID,
				Existing:    conflicts[0].Range,
			}
		}

		p := OwnershipPeriod{
			ID:        PeriodID(c.NewID()),
			Group:     actor.Group,
			Range:     rng,
			Note:      note,
			CreatedBy: actor.User,
			CreatedAt: c.Now(),
		}
		if err := tx.SavePeriod(ctx, p); err != nil {
			return fmt.Errorf("failed to save ownership period: %w", err)
		}
		created = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.Logger.Info("ownership period created",
		"period", created.ID, "group", created.Group, "range", created.Range.String(), "by", actor.User)
	return created, nil
}

// Delete removes a period owned by the actor's group.
func (c *OwnershipCalendar) Delete(ctx context.Context, actor Actor, id PeriodID) error {
	err := c.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if p.Group != actor.Group {
			return ErrNotOwner
		}
		return tx.DeletePeriod(ctx, id)
	})
	if err != nil {
		return err
	}

	c.Logger.Info("ownership period deleted", "period", id, "group", actor.Group, "by", actor.User)
	return nil
}

// List returns periods matching the filter, ordered by start date.
func (c *OwnershipCalendar) List(ctx context.Context, filter PeriodFilter) ([]OwnershipPeriod, error) {
	return c.Store.FindPeriods(ctx, filter)
}

// Covering returns the group's period that fully contains rng, if any.
func (c *OwnershipCalendar) Covering(ctx context.Context, g Group, rng DateRange) (*OwnershipPeriod, error) {
	return coveringPeriod(ctx, c.Store, g, rng)
}

func coveringPeriod(ctx context.Context, s Store, g Group, rng DateRange) (*OwnershipPeriod, error) {
	candidates, err := s.FindPeriods(ctx, PeriodFilter{Group: &g, Overlapping: &rng})
	if err != nil {
		return nil, fmt.Errorf("ownership lookup failed: %w", err)
	}
	for i := range candidates {
		if rng.Within(candidates[i].Range) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}
