package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Event types emitted through the outbox for the notification consumers.
const (
	EventReminderDue = "scheduler.reminder.due.v1"
	EventNoShow      = "scheduler.appointment.no_show.v1"
)

// Milestone is one reminder point before an appointment's start.
type Milestone struct {
	Name   string
	Offset time.Duration
}

var DefaultMilestones = []Milestone{
	{Name: "24h", Offset: 24 * time.Hour},
	{Name: "2h", Offset: 2 * time.Hour},
}

// DefaultWindow is how far past the exact milestone point the sweep keeps
// catching an appointment. Once now+offset has moved beyond the start time
// the reminder is missed for good rather than sent late.
const DefaultWindow = 30 * time.Minute

// Due is the appointment summary a reminder or no-show event is built from.
type Due struct {
	AppointmentID       string
	ClientID            string
	BusinessID          string
	ServiceID           string
	StaffID             string
	StartTime           time.Time
	EndTime             time.Time
	ConfirmationCode    string
	ClientPhoneOverride string
}

type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store reads and flags appointments for the sweepers. DueReminders must
// claim rows so concurrent sweeper replicas never return the same
// appointment, and MarkReminderSent must flip exactly the flag belonging to
// the milestone.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	DueReminders(ctx context.Context, tx Tx, milestone Milestone, windowStart, windowEnd time.Time, limit int) ([]Due, error)
	MarkReminderSent(ctx context.Context, tx Tx, appointmentID string, milestone Milestone) error
	OverdueConfirmed(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]Due, error)
	MarkNoShow(ctx context.Context, tx Tx, appointmentID string, at time.Time) error
}

// Dispatcher hands an event off for delivery inside the sweep transaction.
// The production dispatcher writes an outbox row; a committed row counts as
// the one allowed attempt for that milestone.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx Tx, eventType string, d Due, extra map[string]any) error
}

// ReminderSweeper periodically finds appointments whose reminder milestone
// falls inside the current window and dispatches one reminder per milestone.
// The sent flag commits atomically with the dispatch, so a crash either
// leaves both or neither.
type ReminderSweeper struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	milestones []Milestone
	interval   time.Duration
	window     time.Duration
	batchSize  int
	now        func() time.Time
}

type ReminderConfig struct {
	Milestones []Milestone
	Interval   time.Duration
	Window     time.Duration
	BatchSize  int
	Now        func() time.Time
}

func NewReminderSweeper(store Store, dispatcher Dispatcher, logger *slog.Logger, cfg ReminderConfig) (*ReminderSweeper, error) {
	if len(cfg.Milestones) == 0 {
		cfg.Milestones = DefaultMilestones
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	// A sweep cadence longer than the window would let milestones slip
	// through between passes.
	if cfg.Interval > cfg.Window {
		return nil, fmt.Errorf("sweep interval %s exceeds reminder window %s", cfg.Interval, cfg.Window)
	}
	for _, m := range cfg.Milestones {
		if m.Offset <= 0 {
			return nil, fmt.Errorf("milestone %q has non-positive offset", m.Name)
		}
	}
	return &ReminderSweeper{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		milestones: cfg.Milestones,
		interval:   cfg.Interval,
		window:     cfg.Window,
		batchSize:  cfg.BatchSize,
		now:        cfg.Now,
	}, nil
}

func (s *ReminderSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("reminder sweep failed", "err", err)
			}
		}
	}
}

// Sweep runs one pass over every milestone. A dispatch failure for one
// appointment leaves its flag unset for the next pass and does not stop the
// rest of the batch.
func (s *ReminderSweeper) Sweep(ctx context.Context) error {
	now := s.now()
	for _, m := range s.milestones {
		if err := s.sweepMilestone(ctx, m, now); err != nil {
			return fmt.Errorf("milestone %s: %w", m.Name, err)
		}
	}
	return nil
}

func (s *ReminderSweeper) sweepMilestone(ctx context.Context, m Milestone, now time.Time) error {
	// An appointment is due when its start falls within [now+offset,
	// now+offset+window): the reminder fires at the milestone or within the
	// window after it, never later than the milestone itself warrants.
	windowStart := now.Add(m.Offset)
	windowEnd := now.Add(m.Offset + s.window)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := s.store.DueReminders(ctx, tx, m, windowStart, windowEnd, s.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	sent := 0
	for _, d := range due {
		if err := s.dispatcher.Dispatch(ctx, tx, EventReminderDue, d, map[string]any{
			"milestone": m.Name,
		}); err != nil {
			s.logger.Error("reminder dispatch failed", "appointment_id", d.AppointmentID, "milestone", m.Name, "err", err)
			continue
		}
		if err := s.store.MarkReminderSent(ctx, tx, d.AppointmentID, m); err != nil {
			return err
		}
		sent++
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if sent > 0 {
		s.logger.Info("reminders dispatched", "milestone", m.Name, "count", sent)
	}
	return nil
}
