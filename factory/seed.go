/*
Package factory turns YAML seed documents into ledger operations.

PURPOSE:
  Demo data, fixtures and the built-in scenarios are written as YAML and
  replayed through the Ledger and OwnershipCalendar, never inserted
  directly into the store. Every seeded booking therefore obeys the same
  rules (overlap, turn, ownership) and leaves the same audit trail as one
  created through the API.

YAML SCHEMA:
  members:
    - username: alice
      group: A
      display_name: Alice
      email: alice@example.com
  ownership:
    - by: alice                 # member username, declared above or already stored
      start_date: 2027-07-01
      end_date: 2027-08-01
      note: July is ours
  bookings:
    - title: Ski week
      by: alice
      start_date: 2027-02-01
      end_date: 2027-02-08
      steps:                    # optional, applied in order
        - {action: approve, by: bruno}
        - {action: deroga, by: bruno, start_date: 2027-02-03, end_date: 2027-02-08, note: ...}
        - {action: reject, by: alice}

  Step actions: approve, reject, deroga, modify, drag, cancel.
  Unknown fields are rejected.

SEE ALSO:
  - scenarios.go: built-in scenarios
  - cmd/stay: `stay seed <file>`
*/
package factory

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/shared-stay/reservation"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// Seed is a complete seed document.
type Seed struct {
	Name        string        `yaml:"name,omitempty"`
	Description string        `yaml:"description,omitempty"`
	Members     []MemberYAML  `yaml:"members,omitempty"`
	Ownership   []PeriodYAML  `yaml:"ownership,omitempty"`
	Bookings    []BookingYAML `yaml:"bookings,omitempty"`
}

type MemberYAML struct {
	Username    string            `yaml:"username"`
	Group       reservation.Group `yaml:"group"`
	DisplayName string            `yaml:"display_name,omitempty"`
	Email       string            `yaml:"email,omitempty"`
}

type PeriodYAML struct {
	By    string          `yaml:"by"`
	Start reservation.Day `yaml:"start_date"`
	End   reservation.Day `yaml:"end_date"`
	Note  string          `yaml:"note,omitempty"`
}

func (p PeriodYAML) Range() reservation.DateRange {
	return reservation.NewDateRange(p.Start, p.End)
}

type BookingYAML struct {
	Title string          `yaml:"title,omitempty"`
	By    string          `yaml:"by"`
	Start reservation.Day `yaml:"start_date"`
	End   reservation.Day `yaml:"end_date"`
	Steps []StepYAML      `yaml:"steps,omitempty"`
}

func (b BookingYAML) Range() reservation.DateRange {
	return reservation.NewDateRange(b.Start, b.End)
}

// StepYAML is one follow-up operation on the booking it belongs to.
type StepYAML struct {
	Action string           `yaml:"action"`
	By     string           `yaml:"by"`
	Start  *reservation.Day `yaml:"start_date,omitempty"`
	End    *reservation.Day `yaml:"end_date,omitempty"`
	Note   string           `yaml:"note,omitempty"`
}

// Step actions.
const (
	StepApprove = "approve"
	StepReject  = "reject"
	StepDeroga  = "deroga"
	StepModify  = "modify"
	StepDrag    = "drag"
	StepCancel  = "cancel"
)

// =============================================================================
// PARSING
// =============================================================================

// ParseSeed decodes and validates a seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// LoadSeedFile reads and parses a seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seed, nil
}

// Validate checks what can be checked without a store: groups, ranges,
// step names, and that every operation has a "by". Whether that member
// exists is only known at Apply time.
func (s *Seed) Validate() error {
	for i, m := range s.Members {
		if m.Username == "" {
			return fmt.Errorf("members[%d]: username is required", i)
		}
		if !m.Group.Valid() {
			return fmt.Errorf("members[%d] %s: %w: %q", i, m.Username, reservation.ErrInvalidGroup, m.Group)
		}
	}
	checkBy := func(where, by string) error {
		if by == "" {
			return fmt.Errorf("%s: by is required", where)
		}
		return nil
	}

	for i, p := range s.Ownership {
		where := fmt.Sprintf("ownership[%d]", i)
		if err := checkBy(where, p.By); err != nil {
			return err
		}
		if err := p.Range().Validate(); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	}

	for i, b := range s.Bookings {
		where := fmt.Sprintf("bookings[%d]", i)
		if err := checkBy(where, b.By); err != nil {
			return err
		}
		if err := b.Range().Validate(); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		for j, st := range b.Steps {
			stepWhere := fmt.Sprintf("%s.steps[%d]", where, j)
			if err := checkBy(stepWhere, st.By); err != nil {
				return err
			}
			switch st.Action {
			case StepApprove, StepReject, StepCancel:
			case StepDeroga, StepModify, StepDrag:
				if _, err := st.Range(); err != nil {
					return fmt.Errorf("%s: %w", stepWhere, err)
				}
			default:
				return fmt.Errorf("%s: unknown action %q", stepWhere, st.Action)
			}
		}
	}
	return nil
}

// Range returns the dates carried by a deroga, modify or drag step.
func (st StepYAML) Range() (reservation.DateRange, error) {
	if st.Start == nil || st.End == nil {
		return reservation.DateRange{}, fmt.Errorf("%s step needs start_date and end_date", st.Action)
	}
	rng := reservation.NewDateRange(*st.Start, *st.End)
	return rng, rng.Validate()
}

// =============================================================================
// APPLY
// =============================================================================

// Target is where a seed is replayed.
type Target struct {
	Ledger    *reservation.Ledger
	Ownership *reservation.OwnershipCalendar
	Members   reservation.MemberStore
}

// Result counts what a seed created.
type Result struct {
	Members  int                     `json:"members"`
	Periods  int                     `json:"periods"`
	Bookings []reservation.BookingID `json:"bookings"`
	Steps    int                     `json:"steps"`
}

// Apply replays the seed. A "by" not declared under members is looked up
// in t.Members. It stops at the first failing operation; what was applied
// before stays applied.
func (s *Seed) Apply(ctx context.Context, t Target) (*Result, error) {
	res := &Result{}
	actors := make(map[string]reservation.Actor, len(s.Members))
	actor := func(username string) (reservation.Actor, error) {
		if a, ok := actors[username]; ok {
			return a, nil
		}
		m, err := t.Members.GetMember(ctx, username)
		if err != nil {
			return reservation.Actor{}, err
		}
		actors[username] = m.Actor()
		return actors[username], nil
	}

	for _, m := range s.Members {
		member := reservation.Member{
			Username:    m.Username,
			Group:       m.Group,
			DisplayName: m.DisplayName,
			Email:       m.Email,
		}
		if err := t.Members.SaveMember(ctx, member); err != nil {
			return res, fmt.Errorf("member %s: %w", m.Username, err)
		}
		actors[m.Username] = member.Actor()
		res.Members++
	}

	for i, p := range s.Ownership {
		by, err := actor(p.By)
		if err != nil {
			return res, fmt.Errorf("ownership[%d]: %w", i, err)
		}
		if _, err := t.Ownership.Create(ctx, by, p.Range(), p.Note); err != nil {
			return res, fmt.Errorf("ownership[%d]: %w", i, err)
		}
		res.Periods++
	}

	for i, b := range s.Bookings {
		by, err := actor(b.By)
		if err != nil {
			return res, fmt.Errorf("bookings[%d]: %w", i, err)
		}
		tr, err := t.Ledger.Create(ctx, by, b.Title, b.Range())
		if err != nil {
			return res, fmt.Errorf("bookings[%d]: %w", i, err)
		}
		id := tr.Booking.ID
		res.Bookings = append(res.Bookings, id)

		for j, st := range b.Steps {
			by, err := actor(st.By)
			if err != nil {
				return res, fmt.Errorf("bookings[%d].steps[%d]: %w", i, j, err)
			}
			if err := applyStep(ctx, t.Ledger, by, id, st); err != nil {
				return res, fmt.Errorf("bookings[%d].steps[%d] %s: %w", i, j, st.Action, err)
			}
			res.Steps++
		}
	}
	return res, nil
}

func applyStep(ctx context.Context, l *reservation.Ledger, actor reservation.Actor, id reservation.BookingID, st StepYAML) error {
	var err error
	switch st.Action {
	case StepApprove:
		_, err = l.Approve(ctx, actor, id)
	case StepReject:
		_, err = l.Reject(ctx, actor, id, st.Note)
	case StepCancel:
		_, err = l.Cancel(ctx, actor, id)
	default:
		rng, rerr := st.Range()
		if rerr != nil {
			return rerr
		}
		switch st.Action {
		case StepDeroga:
			_, err = l.RequestDeroga(ctx, actor, id, rng, st.Note)
		case StepModify:
			_, err = l.Modify(ctx, actor, id, rng)
		case StepDrag:
			_, err = l.DragUpdate(ctx, actor, id, rng)
		default:
			err = fmt.Errorf("unknown action %q", st.Action)
		}
	}
	return err
}
