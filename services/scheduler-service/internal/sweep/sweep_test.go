package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type memTx struct{}

func (memTx) Commit(context.Context) error   { return nil }
func (memTx) Rollback(context.Context) error { return nil }

type memAppt struct {
	due          Due
	status       string
	sent24h      bool
	sent2h       bool
	noShowMarked bool
}

type memStore struct {
	mu    sync.Mutex
	appts map[string]*memAppt
}

func newMemStore(appts ...*memAppt) *memStore {
	s := &memStore{appts: map[string]*memAppt{}}
	for _, a := range appts {
		s.appts[a.due.AppointmentID] = a
	}
	return s
}

func (s *memStore) Begin(context.Context) (Tx, error) { return memTx{}, nil }

func (s *memStore) DueReminders(_ context.Context, _ Tx, m Milestone, windowStart, windowEnd time.Time, limit int) ([]Due, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Due
	for _, a := range s.appts {
		if a.status != "confirmed" {
			continue
		}
		if a.flagged(m) {
			continue
		}
		if a.due.StartTime.Before(windowStart) || !a.due.StartTime.Before(windowEnd) {
			continue
		}
		out = append(out, a.due)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (a *memAppt) flagged(m Milestone) bool {
	if m.Name == "24h" {
		return a.sent24h
	}
	return a.sent2h
}

func (s *memStore) MarkReminderSent(_ context.Context, _ Tx, id string, m Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.appts[id]
	if m.Name == "24h" {
		a.sent24h = true
	} else {
		a.sent2h = true
	}
	return nil
}

func (s *memStore) OverdueConfirmed(_ context.Context, _ Tx, cutoff time.Time, limit int) ([]Due, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Due
	for _, a := range s.appts {
		if a.status == "confirmed" && a.due.EndTime.Before(cutoff) {
			out = append(out, a.due)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) MarkNoShow(_ context.Context, _ Tx, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.appts[id]
	a.status = "no_show"
	a.noShowMarked = true
	return nil
}

type dispatched struct {
	eventType     string
	appointmentID string
	extra         map[string]any
}

type memDispatcher struct {
	mu     sync.Mutex
	events []dispatched
	failOn map[string]bool
}

func (d *memDispatcher) Dispatch(_ context.Context, _ Tx, eventType string, due Due, extra map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[due.AppointmentID] {
		return errors.New("broker unavailable")
	}
	d.events = append(d.events, dispatched{eventType, due.AppointmentID, extra})
	return nil
}

var sweepNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func appt(id, status string, start time.Time, duration time.Duration) *memAppt {
	return &memAppt{
		due: Due{
			AppointmentID: id,
			ClientID:      "client-1",
			BusinessID:    "biz-1",
			ServiceID:     "svc-1",
			StartTime:     start,
			EndTime:       start.Add(duration),
		},
		status: status,
	}
}

func newSweeper(t *testing.T, store *memStore, disp *memDispatcher) *ReminderSweeper {
	t.Helper()
	s, err := NewReminderSweeper(store, disp, slog.Default(), ReminderConfig{
		Now: func() time.Time { return sweepNow },
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	return s
}

func TestReminderSweep_SendsOncePerMilestone(t *testing.T) {
	// Inside the 24h window: starts 24h10m from now. The pending appointment
	// at the same start never gets a reminder.
	store := newMemStore(
		appt("a1", "confirmed", sweepNow.Add(24*time.Hour+10*time.Minute), time.Hour),
		appt("unconfirmed", "pending", sweepNow.Add(24*time.Hour+10*time.Minute), time.Hour),
	)
	disp := &memDispatcher{}
	s := newSweeper(t, store, disp)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(disp.events) != 1 {
		t.Fatalf("events = %d, want 1", len(disp.events))
	}
	evt := disp.events[0]
	if evt.eventType != EventReminderDue || evt.extra["milestone"] != "24h" {
		t.Fatalf("unexpected event %+v", evt)
	}

	// Second pass with the flag set dispatches nothing.
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(disp.events) != 1 {
		t.Fatalf("reminder duplicated: %d events", len(disp.events))
	}
}

func TestReminderSweep_WindowBoundaries(t *testing.T) {
	store := newMemStore(
		// Starts in less than 24h: the milestone already passed, a reminder
		// now would arrive late, so it is skipped for good.
		appt("late", "confirmed", sweepNow.Add(24*time.Hour-time.Minute), time.Hour),
		// Exactly at the far edge of the window: excluded, the next sweep
		// catches it.
		appt("edge", "confirmed", sweepNow.Add(24*time.Hour+30*time.Minute), time.Hour),
		// Exactly at the milestone.
		appt("exact", "confirmed", sweepNow.Add(24*time.Hour), time.Hour),
	)
	disp := &memDispatcher{}
	s := newSweeper(t, store, disp)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(disp.events) != 1 || disp.events[0].appointmentID != "exact" {
		t.Fatalf("expected only the exact-milestone appointment, got %+v", disp.events)
	}
}

func TestReminderSweep_BothMilestonesIndependent(t *testing.T) {
	// Inside the 2h window only.
	store := newMemStore(appt("a1", "confirmed", sweepNow.Add(2*time.Hour+5*time.Minute), time.Hour))
	disp := &memDispatcher{}
	s := newSweeper(t, store, disp)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(disp.events) != 1 || disp.events[0].extra["milestone"] != "2h" {
		t.Fatalf("expected one 2h reminder, got %+v", disp.events)
	}
	if store.appts["a1"].sent24h {
		t.Fatal("24h flag must not be touched by the 2h milestone")
	}
	if !store.appts["a1"].sent2h {
		t.Fatal("2h flag not set")
	}
}

func TestReminderSweep_FailureLeavesFlagUnsetAndIsolates(t *testing.T) {
	start := sweepNow.Add(24*time.Hour + 10*time.Minute)
	store := newMemStore(
		appt("ok", "confirmed", start, time.Hour),
		appt("bad", "confirmed", start, time.Hour),
	)
	disp := &memDispatcher{failOn: map[string]bool{"bad": true}}
	s := newSweeper(t, store, disp)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !store.appts["ok"].sent24h {
		t.Fatal("healthy appointment must still be flagged")
	}
	if store.appts["bad"].sent24h {
		t.Fatal("failed dispatch must leave the flag unset for retry")
	}

	// The broker recovers; the next pass inside the window retries.
	disp.failOn = nil
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("retry sweep: %v", err)
	}
	if !store.appts["bad"].sent24h {
		t.Fatal("retry did not flag the appointment")
	}
	if len(disp.events) != 2 {
		t.Fatalf("events = %d, want 2", len(disp.events))
	}
}

func TestReminderSweep_ConfigValidation(t *testing.T) {
	store := newMemStore()
	_, err := NewReminderSweeper(store, &memDispatcher{}, slog.Default(), ReminderConfig{
		Interval: time.Hour,
		Window:   30 * time.Minute,
	})
	if err == nil {
		t.Fatal("interval longer than window must be rejected")
	}

	_, err = NewReminderSweeper(store, &memDispatcher{}, slog.Default(), ReminderConfig{
		Milestones: []Milestone{{Name: "bogus", Offset: -time.Hour}},
	})
	if err == nil {
		t.Fatal("non-positive milestone offset must be rejected")
	}
}

func TestCleanupSweep_MarksOnlyOverdueConfirmed(t *testing.T) {
	store := newMemStore(
		// Ended 2h ago: past the 1h grace.
		appt("overdue", "confirmed", sweepNow.Add(-3*time.Hour), time.Hour),
		// Ended 30m ago: still inside grace.
		appt("recent", "confirmed", sweepNow.Add(-90*time.Minute), time.Hour),
		// Pending never becomes a no-show.
		appt("pending", "pending", sweepNow.Add(-3*time.Hour), time.Hour),
		// Terminal rows are untouched.
		appt("done", "completed", sweepNow.Add(-3*time.Hour), time.Hour),
	)
	disp := &memDispatcher{}
	s := NewCleanupSweeper(store, disp, slog.Default(), CleanupConfig{
		Now: func() time.Time { return sweepNow },
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if store.appts["overdue"].status != "no_show" {
		t.Fatalf("overdue status = %s, want no_show", store.appts["overdue"].status)
	}
	for _, id := range []string{"recent", "pending", "done"} {
		if store.appts[id].noShowMarked {
			t.Fatalf("%s must not be marked a no-show", id)
		}
	}
	if len(disp.events) != 1 || disp.events[0].eventType != EventNoShow {
		t.Fatalf("expected one no-show event, got %+v", disp.events)
	}
}
