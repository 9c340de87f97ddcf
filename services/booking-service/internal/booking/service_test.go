package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/model"
)

type fakeTx struct{ committed bool }

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakeStore struct {
	mu    sync.Mutex
	seq   int
	appts map[string]*model.Appointment
}

func newFakeStore() *fakeStore {
	return &fakeStore{appts: map[string]*model.Appointment{}}
}

func (f *fakeStore) Begin(context.Context) (Tx, error) { return &fakeTx{}, nil }

func (f *fakeStore) LockSlots(context.Context, Tx, string) error { return nil }

func (f *fakeStore) Create(_ context.Context, _ Tx, appt *model.Appointment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("appt-%d", f.seq)
	cp := *appt
	cp.ID = id
	f.appts[id] = &cp
	return id, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return *a, nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, _ Tx, id string) (model.Appointment, error) {
	return f.Get(ctx, id)
}

func (f *fakeStore) ListOverlapping(_ context.Context, businessID, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, a := range f.appts {
		if a.BusinessID != businessID || a.ID == excludeID {
			continue
		}
		// An appointment with no staff member occupies the whole business.
		if staffID != "" && a.StaffID != "" && a.StaffID != staffID {
			continue
		}
		if a.Status != model.StatusPending && a.Status != model.StatusConfirmed {
			continue
		}
		if a.StartTime.Before(end) && start.Before(a.EndTime()) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) ConfirmationCodeExists(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appts {
		if a.ConfirmationCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) MarkConfirmed(_ context.Context, _ Tx, id string, at time.Time) error {
	return f.mutate(id, func(a *model.Appointment) {
		a.Status = model.StatusConfirmed
		a.ConfirmedAt = &at
	})
}

func (f *fakeStore) MarkCancelled(_ context.Context, _ Tx, id string, reason model.CancellationReason, notes string, byClient bool, at time.Time) error {
	return f.mutate(id, func(a *model.Appointment) {
		a.Status = model.StatusCancelled
		a.CancelledAt = &at
		a.CancelReason = reason
		a.CancelNotes = notes
		a.CancelledByClient = &byClient
	})
}

func (f *fakeStore) MarkInProgress(_ context.Context, _ Tx, id string) error {
	return f.mutate(id, func(a *model.Appointment) { a.Status = model.StatusInProgress })
}

func (f *fakeStore) MarkCompleted(_ context.Context, _ Tx, id string, at time.Time, actual *int) error {
	return f.mutate(id, func(a *model.Appointment) {
		a.Status = model.StatusCompleted
		a.CompletedAt = &at
		a.ActualDuration = actual
	})
}

func (f *fakeStore) MarkRescheduled(_ context.Context, _ Tx, id string) error {
	return f.mutate(id, func(a *model.Appointment) { a.Status = model.StatusRescheduled })
}

func (f *fakeStore) mutate(id string, fn func(*model.Appointment)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	return nil
}

type fakeDirectory struct {
	inactive map[string]bool
	missing  map[string]bool
	services map[string]ServiceInfo
}

func (d *fakeDirectory) BusinessActive(_ context.Context, businessID string) (bool, error) {
	if d.missing[businessID] {
		return false, ErrNotFound
	}
	return !d.inactive[businessID], nil
}

func (d *fakeDirectory) GetService(_ context.Context, _, serviceID string) (ServiceInfo, error) {
	svc, ok := d.services[serviceID]
	if !ok {
		return ServiceInfo{}, ErrNotFound
	}
	return svc, nil
}

type emitted struct {
	eventType     string
	appointmentID string
	payload       []byte
}

type fakeSink struct {
	mu     sync.Mutex
	events []emitted
}

func (s *fakeSink) Emit(_ context.Context, _ Tx, eventType, appointmentID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emitted{eventType, appointmentID, payload})
	return nil
}

var testNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestService(store *fakeStore, sink *fakeSink) *Service {
	dir := &fakeDirectory{
		inactive: map[string]bool{"biz-paused": true},
		missing:  map[string]bool{"biz-missing": true},
		services: map[string]ServiceInfo{
			"svc-cut": {ID: "svc-cut", DurationMinutes: 30, Price: "45.00", Deposit: "10.00"},
		},
	}
	return NewService(store, dir, sink, slog.Default(), Config{
		Now: func() time.Time { return testNow },
	})
}

func mustBook(t *testing.T, s *Service, start time.Time) model.Appointment {
	t.Helper()
	appt, err := s.Book(context.Background(), BookRequest{
		ClientID:   "client-1",
		BusinessID: "biz-1",
		ServiceID:  "svc-cut",
		Start:      start,
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}

func TestBook_CreatesPendingWithSnapshot(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	s := newTestService(store, sink)

	appt := mustBook(t, s, testNow.Add(26*time.Hour))

	if appt.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending", appt.Status)
	}
	if appt.ServicePrice != "45.00" || appt.DepositAmount != "10.00" {
		t.Fatalf("price snapshot not captured: %q / %q", appt.ServicePrice, appt.DepositAmount)
	}
	if appt.DurationMinutes != 30 {
		t.Fatalf("duration = %d, want 30", appt.DurationMinutes)
	}
	if len(appt.ConfirmationCode) == 0 {
		t.Fatal("confirmation code missing")
	}
	if !appt.EndTime().Equal(appt.StartTime.Add(30 * time.Minute)) {
		t.Fatal("end must derive from the duration snapshot")
	}
	if len(sink.events) != 1 || sink.events[0].eventType != EventBooked {
		t.Fatalf("expected one %s event, got %v", EventBooked, sink.events)
	}
}

func TestBook_EventCarriesPhoneOverride(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	s := newTestService(store, sink)

	_, err := s.Book(context.Background(), BookRequest{
		ClientID: "client-1", BusinessID: "biz-1", ServiceID: "svc-cut",
		Start: testNow.Add(26 * time.Hour), ClientPhoneOverride: "+15550199",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(sink.events[0].payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["client_phone_override"] != "+15550199" {
		t.Fatalf("client_phone_override = %v, want +15550199", payload["client_phone_override"])
	}
}

func TestBook_BusinessValidation(t *testing.T) {
	s := newTestService(newFakeStore(), &fakeSink{})

	_, err := s.Book(context.Background(), BookRequest{BusinessID: "biz-paused", ServiceID: "svc-cut", Start: testNow.Add(time.Hour)})
	if !errors.Is(err, ErrBusinessInactive) {
		t.Fatalf("expected ErrBusinessInactive, got %v", err)
	}

	_, err = s.Book(context.Background(), BookRequest{BusinessID: "biz-missing", ServiceID: "svc-cut", Start: testNow.Add(time.Hour)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBook_ConflictAndBackToBack(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeSink{})

	// Existing confirmed appointment 14:00-14:30 (30-minute service).
	first := mustBook(t, s, testNow.Add(6*time.Hour))
	if _, err := s.Confirm(context.Background(), first.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Overlapping request fails.
	_, err := s.Book(context.Background(), BookRequest{
		ClientID: "client-2", BusinessID: "biz-1", ServiceID: "svc-cut",
		Start: first.StartTime.Add(15 * time.Minute),
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	// Back-to-back request starting exactly at the existing end succeeds.
	if _, err := s.Book(context.Background(), BookRequest{
		ClientID: "client-2", BusinessID: "biz-1", ServiceID: "svc-cut",
		Start: first.EndTime(),
	}); err != nil {
		t.Fatalf("back-to-back booking must succeed: %v", err)
	}
}

func TestBook_BusinessWideBlocksStaff(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeSink{})

	// Booking with no staff member occupies the whole business.
	wide := mustBook(t, s, testNow.Add(6*time.Hour))

	// A staff-scoped request into the same slot must fail.
	_, err := s.Book(context.Background(), BookRequest{
		ClientID: "client-2", BusinessID: "biz-1", ServiceID: "svc-cut",
		StaffID: "staff-1", Start: wide.StartTime.Add(10 * time.Minute),
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	// A different slot for the same staff member is fine.
	if _, err := s.Book(context.Background(), BookRequest{
		ClientID: "client-2", BusinessID: "biz-1", ServiceID: "svc-cut",
		StaffID: "staff-1", Start: wide.EndTime(),
	}); err != nil {
		t.Fatalf("non-overlapping staff booking must succeed: %v", err)
	}
}

func TestBook_CancelledDoesNotBlock(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeSink{})

	appt := mustBook(t, s, testNow.Add(6*time.Hour))
	if _, err := s.Cancel(context.Background(), appt.ID, CancelRequest{
		Reason: model.ReasonClientRequest, Actor: ActorClient,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := s.Book(context.Background(), BookRequest{
		ClientID: "client-2", BusinessID: "biz-1", ServiceID: "svc-cut",
		Start: appt.StartTime,
	}); err != nil {
		t.Fatalf("cancelled appointment must not block the slot: %v", err)
	}
}

func TestConfirm_OnlyFromPending(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeSink{})

	appt := mustBook(t, s, testNow.Add(6*time.Hour))
	confirmed, err := s.Confirm(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != model.StatusConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("confirm did not stamp state: %+v", confirmed)
	}

	if _, err := s.Confirm(context.Background(), appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("re-confirm must fail with ErrInvalidTransition, got %v", err)
	}
}

func TestCancel_LeadTimeRule(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeSink{})

	// Starts in 90 minutes: inside the default 2-hour window.
	appt := mustBook(t, s, testNow.Add(90*time.Minute))

	_, err := s.Cancel(context.Background(), appt.ID, CancelRequest{
		Reason: model.ReasonClientRequest, Actor: ActorClient,
	})
	if !errors.Is(err, ErrCancellationWindowClosed) {
		t.Fatalf("expected ErrCancellationWindowClosed, got %v", err)
	}

	// A client cannot override the window.
	_, err = s.Cancel(context.Background(), appt.ID, CancelRequest{
		Reason: model.ReasonClientRequest, Actor: ActorClient, Override: true,
	})
	if !errors.Is(err, ErrCancellationWindowClosed) {
		t.Fatalf("client override must not bypass the window, got %v", err)
	}

	// Business-privileged override succeeds.
	got, err := s.Cancel(context.Background(), appt.ID, CancelRequest{
		Reason: model.ReasonBusinessRequest, Actor: ActorBusiness, Override: true,
	})
	if err != nil {
		t.Fatalf("business override cancel: %v", err)
	}
	if got.Status != model.StatusCancelled || got.CancelledByClient == nil || *got.CancelledByClient {
		t.Fatalf("cancellation metadata wrong: %+v", got)
	}
}

func TestTerminalImmutability(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeSink{})
	ctx := context.Background()

	appt := mustBook(t, s, testNow.Add(6*time.Hour))
	if _, err := s.Confirm(ctx, appt.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := s.Complete(ctx, appt.ID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := s.Confirm(ctx, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirm on terminal: got %v", err)
	}
	if _, err := s.Cancel(ctx, appt.ID, CancelRequest{Actor: ActorBusiness, Override: true}); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("cancel on terminal: got %v", err)
	}
	if _, err := s.Complete(ctx, appt.ID, nil); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("complete on terminal: got %v", err)
	}
	if _, err := s.Reschedule(ctx, appt.ID, RescheduleRequest{NewStart: testNow.Add(30 * time.Hour)}); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("reschedule on terminal: got %v", err)
	}

	got, err := store.Get(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("terminal status changed to %s", got.Status)
	}
}

func TestComplete_RecordsActualDuration(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeSink{})
	ctx := context.Background()

	appt := mustBook(t, s, testNow.Add(6*time.Hour))
	if _, err := s.Confirm(ctx, appt.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := s.Start(ctx, appt.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	actual := 40
	got, err := s.Complete(ctx, appt.ID, &actual)
	if err != nil {
		t.Fatalf("complete from in_progress: %v", err)
	}
	if got.ActualDuration == nil || *got.ActualDuration != 40 {
		t.Fatalf("actual duration not recorded: %+v", got.ActualDuration)
	}
}

func TestReschedule_Lineage(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	s := newTestService(store, sink)
	ctx := context.Background()

	src := mustBook(t, s, testNow.Add(24*time.Hour))
	newStart := testNow.Add(48 * time.Hour)

	next, err := s.Reschedule(ctx, src.ID, RescheduleRequest{NewStart: newStart, Actor: ActorClient})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	if next.OriginalAppointmentID != src.ID {
		t.Fatalf("lineage: OriginalAppointmentID = %q, want %q", next.OriginalAppointmentID, src.ID)
	}
	if !next.StartTime.Equal(newStart) {
		t.Fatalf("new start = %s, want %s", next.StartTime, newStart)
	}
	if next.RescheduledFrom == nil || !next.RescheduledFrom.Equal(src.StartTime) {
		t.Fatalf("rescheduled_from not carried: %+v", next.RescheduledFrom)
	}
	if next.ServicePrice != src.ServicePrice || next.DurationMinutes != src.DurationMinutes {
		t.Fatal("price/duration snapshot must carry forward")
	}

	gotSrc, err := store.Get(ctx, src.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if gotSrc.Status != model.StatusRescheduled {
		t.Fatalf("source status = %s, want rescheduled", gotSrc.Status)
	}

	// The source no longer blocks its old slot.
	if _, err := s.Book(ctx, BookRequest{
		ClientID: "client-2", BusinessID: "biz-1", ServiceID: "svc-cut",
		Start: src.StartTime,
	}); err != nil {
		t.Fatalf("old slot must be bookable after reschedule: %v", err)
	}

	// Rescheduling the replacement onto its own time succeeds (self excluded).
	if _, err := s.Reschedule(ctx, next.ID, RescheduleRequest{NewStart: newStart.Add(15 * time.Minute), Actor: ActorClient}); err != nil {
		t.Fatalf("overlapping self-reschedule must succeed: %v", err)
	}
}

func TestReschedule_LeadTimeAndInProgress(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeSink{})
	ctx := context.Background()

	soon := mustBook(t, s, testNow.Add(time.Hour))
	if _, err := s.Reschedule(ctx, soon.ID, RescheduleRequest{NewStart: testNow.Add(26 * time.Hour), Actor: ActorClient}); !errors.Is(err, ErrCancellationWindowClosed) {
		t.Fatalf("expected lead-time rejection, got %v", err)
	}

	busy := mustBook(t, s, testNow.Add(6*time.Hour))
	if _, err := s.Confirm(ctx, busy.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := s.Start(ctx, busy.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Reschedule(ctx, busy.ID, RescheduleRequest{NewStart: testNow.Add(26 * time.Hour), Actor: ActorBusiness, Override: true}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("in_progress reschedule must fail, got %v", err)
	}
}

func TestBook_ConfirmationCodeCollision(t *testing.T) {
	store := newFakeStore()
	codes := []string{"DUPLICAT", "DUPLICAT", "FRESH123"}
	i := 0
	dir := &fakeDirectory{services: map[string]ServiceInfo{
		"svc-cut": {ID: "svc-cut", DurationMinutes: 30, Price: "45.00"},
	}}
	s := NewService(store, dir, &fakeSink{}, slog.Default(), Config{
		Now:     func() time.Time { return testNow },
		NewCode: func() string { c := codes[i%len(codes)]; i++; return c },
	})
	ctx := context.Background()

	first, err := s.Book(ctx, BookRequest{ClientID: "c", BusinessID: "b", ServiceID: "svc-cut", Start: testNow.Add(6 * time.Hour)})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	second, err := s.Book(ctx, BookRequest{ClientID: "c", BusinessID: "b2", ServiceID: "svc-cut", Start: testNow.Add(6 * time.Hour)})
	if err != nil {
		t.Fatalf("book with collision: %v", err)
	}
	if first.ConfirmationCode == second.ConfirmationCode {
		t.Fatal("collision must be resolved by regeneration")
	}
	if second.ConfirmationCode != "FRESH123" {
		t.Fatalf("expected regenerated code, got %q", second.ConfirmationCode)
	}
}

// TestNoDoubleBookingInvariant replays random booking sequences and checks
// after every step that no two pending/confirmed appointments for the same
// business overlap.
func TestNoDoubleBookingInvariant(t *testing.T) {
	store := newFakeStore()
	s := newTestService(store, &fakeSink{})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	day := testNow.Add(24 * time.Hour)
	for i := 0; i < 200; i++ {
		start := day.Add(time.Duration(rng.Intn(32)) * 15 * time.Minute)
		_, err := s.Book(ctx, BookRequest{
			ClientID: "client", BusinessID: "biz-1", ServiceID: "svc-cut", Start: start,
		})
		if err != nil && !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("step %d: unexpected error %v", i, err)
		}
		assertNoOverlap(t, store, "biz-1")
	}
}

func assertNoOverlap(t *testing.T, store *fakeStore, businessID string) {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	var live []*model.Appointment
	for _, a := range store.appts {
		if a.BusinessID == businessID && (a.Status == model.StatusPending || a.Status == model.StatusConfirmed) {
			live = append(live, a)
		}
	}
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			a, b := live[i], live[j]
			if a.StartTime.Before(b.EndTime()) && b.StartTime.Before(a.EndTime()) {
				t.Fatalf("conflict invariant violated: %s and %s overlap", a.ID, b.ID)
			}
		}
	}
}
