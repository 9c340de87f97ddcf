package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/STEPHANAS-SOFT/Bookora/services/notification-service/internal/storage"
)

type fakeStore struct {
	contacts map[string]storage.Contact
	logged   []storage.Notification
}

func (s *fakeStore) GetContact(_ context.Context, clientID string) (storage.Contact, error) {
	c, ok := s.contacts[clientID]
	if !ok {
		return storage.Contact{}, storage.ErrContactNotFound
	}
	return c, nil
}

func (s *fakeStore) Insert(_ context.Context, n storage.Notification) error {
	s.logged = append(s.logged, n)
	return nil
}

type fakeEmail struct {
	sent []string
	fail bool
}

func (f *fakeEmail) Send(to, _, _ string) error {
	if f.fail {
		return errors.New("smtp down")
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeSMS struct{ sent []string }

func (f *fakeSMS) Send(_ context.Context, to, _ string) error {
	f.sent = append(f.sent, to)
	return nil
}
func (f *fakeSMS) ProviderID() string { return "sms-fake" }

func TestCompose_ReminderMilestones(t *testing.T) {
	evt := Event{StartTime: "2026-05-04T14:00:00Z", ConfirmationCode: "AB12CD34", Milestone: "24h"}
	_, body, notify := Compose("scheduler.reminder.due.v1", evt)
	if !notify {
		t.Fatal("reminder must notify")
	}
	if !strings.Contains(body, "tomorrow") {
		t.Fatalf("24h body = %q", body)
	}

	evt.Milestone = "2h"
	_, body, _ = Compose("scheduler.reminder.due.v1", evt)
	if !strings.Contains(body, "in 2 hours") {
		t.Fatalf("2h body = %q", body)
	}
}

func TestCompose_NoShowIsSilent(t *testing.T) {
	_, _, notify := Compose("scheduler.appointment.no_show.v1", Event{})
	if notify {
		t.Fatal("no-show events must not message the client")
	}
}

func TestHandle_DeliversOnAllChannels(t *testing.T) {
	store := &fakeStore{contacts: map[string]storage.Contact{
		"client-1": {Email: "c@example.com", Phone: "+15550100"},
	}}
	em := &fakeEmail{}
	sm := &fakeSMS{}
	n := New(store, em, sm, slog.Default())

	raw := []byte(`{"appointment_id":"a1","client_id":"client-1","business_id":"b1","start_time":"2026-05-04T14:00:00Z","confirmation_code":"AB12CD34"}`)
	if err := n.Handle(context.Background(), "booking.appointment.confirmed.v1", raw); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(em.sent) != 1 || len(sm.sent) != 1 {
		t.Fatalf("email=%d sms=%d, want 1 each", len(em.sent), len(sm.sent))
	}
	if len(store.logged) != 2 {
		t.Fatalf("logged %d attempts, want 2", len(store.logged))
	}
	for _, rec := range store.logged {
		if rec.Status != "sent" {
			t.Fatalf("status = %s, want sent", rec.Status)
		}
	}
}

func TestHandle_RecordsFailureAndContinues(t *testing.T) {
	store := &fakeStore{contacts: map[string]storage.Contact{
		"client-1": {Email: "c@example.com", Phone: "+15550100"},
	}}
	em := &fakeEmail{fail: true}
	sm := &fakeSMS{}
	n := New(store, em, sm, slog.Default())

	raw := []byte(`{"appointment_id":"a1","client_id":"client-1","start_time":"2026-05-04T14:00:00Z"}`)
	if err := n.Handle(context.Background(), "booking.appointment.cancelled.v1", raw); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// SMS still goes out when email fails; both attempts are logged.
	if len(sm.sent) != 1 {
		t.Fatalf("sms sent = %d, want 1", len(sm.sent))
	}
	var failed, sent int
	for _, rec := range store.logged {
		switch rec.Status {
		case "failed":
			failed++
		case "sent":
			sent++
		}
	}
	if failed != 1 || sent != 1 {
		t.Fatalf("failed=%d sent=%d, want 1/1", failed, sent)
	}
}

func TestHandle_PhoneOverrideWins(t *testing.T) {
	store := &fakeStore{contacts: map[string]storage.Contact{
		"client-1": {Email: "c@example.com", Phone: "+15550100"},
	}}
	sm := &fakeSMS{}
	n := New(store, &fakeEmail{}, sm, slog.Default())

	raw := []byte(`{"appointment_id":"a1","client_id":"client-1","start_time":"2026-05-04T14:00:00Z","client_phone_override":"+15550199"}`)
	if err := n.Handle(context.Background(), "booking.appointment.confirmed.v1", raw); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(sm.sent) != 1 || sm.sent[0] != "+15550199" {
		t.Fatalf("sms sent to %v, want the override +15550199", sm.sent)
	}
	for _, rec := range store.logged {
		if rec.Channel == "sms" && rec.Recipient != "+15550199" {
			t.Fatalf("sms attempt recorded against %s, want the override", rec.Recipient)
		}
	}
}

func TestHandle_UnknownClient(t *testing.T) {
	store := &fakeStore{contacts: map[string]storage.Contact{}}
	n := New(store, &fakeEmail{}, &fakeSMS{}, slog.Default())

	raw := []byte(`{"appointment_id":"a1","client_id":"ghost"}`)
	if err := n.Handle(context.Background(), "booking.appointment.confirmed.v1", raw); err != nil {
		t.Fatalf("missing contact must not error the consumer: %v", err)
	}
	if len(store.logged) != 0 {
		t.Fatal("nothing should be logged without a contact")
	}
}
