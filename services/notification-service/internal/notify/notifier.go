package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/STEPHANAS-SOFT/Bookora/services/notification-service/internal/email"
	"github.com/STEPHANAS-SOFT/Bookora/services/notification-service/internal/sms"
	"github.com/STEPHANAS-SOFT/Bookora/services/notification-service/internal/storage"
)

// Event is the superset of fields across the booking and scheduler topics.
// Fields absent from a given event type stay empty.
type Event struct {
	AppointmentID       string `json:"appointment_id"`
	ClientID            string `json:"client_id"`
	BusinessID          string `json:"business_id"`
	ServiceID           string `json:"service_id"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	ConfirmationCode    string `json:"confirmation_code"`
	Milestone           string `json:"milestone"`
	Reason              string `json:"reason"`
	RescheduledFrom     string `json:"rescheduled_from"`
	ClientPhoneOverride string `json:"client_phone_override"`
}

// ContactStore is the slice of storage the notifier needs.
type ContactStore interface {
	GetContact(ctx context.Context, clientID string) (storage.Contact, error)
	Insert(ctx context.Context, n storage.Notification) error
}

type Notifier struct {
	store  ContactStore
	email  email.Sender
	sms    sms.Sender
	logger *slog.Logger
}

func New(store ContactStore, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:  store,
		email:  emailSender,
		sms:    smsSender,
		logger: logger,
	}
}

// Compose maps an event to a client-facing message. The second return is
// false for events that carry no client message (no-shows are bookkeeping,
// not something to greet the client with).
func Compose(eventType string, evt Event) (subject, body string, notify bool) {
	when := evt.StartTime
	if t, err := time.Parse(time.RFC3339, evt.StartTime); err == nil {
		when = t.UTC().Format("Mon, 2 Jan 2006 at 15:04 MST")
	}

	switch eventType {
	case "booking.appointment.created.v1":
		return "Appointment request received",
			fmt.Sprintf("We received your booking for %s. Your confirmation code is %s. You'll hear from us once the business confirms.", when, evt.ConfirmationCode),
			true
	case "booking.appointment.confirmed.v1":
		return "Appointment confirmed",
			fmt.Sprintf("Your appointment on %s is confirmed. Confirmation code: %s.", when, evt.ConfirmationCode),
			true
	case "booking.appointment.cancelled.v1":
		body := fmt.Sprintf("Your appointment on %s has been cancelled.", when)
		if evt.Reason != "" {
			body += " Reason: " + strings.ReplaceAll(evt.Reason, "_", " ") + "."
		}
		return "Appointment cancelled", body, true
	case "booking.appointment.rescheduled.v1":
		return "Appointment rescheduled",
			fmt.Sprintf("Your appointment has been moved to %s. Your new confirmation code is %s.", when, evt.ConfirmationCode),
			true
	case "scheduler.reminder.due.v1":
		label := "soon"
		switch evt.Milestone {
		case "24h":
			label = "tomorrow"
		case "2h":
			label = "in 2 hours"
		}
		return "Appointment reminder",
			fmt.Sprintf("Reminder: your appointment is %s, on %s. Confirmation code: %s.", label, when, evt.ConfirmationCode),
			true
	default:
		return "", "", false
	}
}

// Handle processes one event end to end: compose, resolve the client's
// contact endpoints, deliver on every available channel, and record each
// attempt. Delivery failures are logged and recorded, never retried here;
// the inbox already consumed the event.
func (n *Notifier) Handle(ctx context.Context, eventType string, raw []byte) error {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		n.logger.Error("invalid event payload", "event_type", eventType, "err", err)
		return nil
	}
	if evt.AppointmentID == "" || evt.ClientID == "" {
		n.logger.Error("event missing appointment_id or client_id", "event_type", eventType)
		return nil
	}

	subject, body, notify := Compose(eventType, evt)
	if !notify {
		return nil
	}

	contact, err := n.store.GetContact(ctx, evt.ClientID)
	if err != nil {
		n.logger.Error("contact lookup failed", "client_id", evt.ClientID, "err", err)
		return nil
	}

	if contact.Email != "" {
		status, reason := "sent", ""
		if err := n.email.Send(contact.Email, subject, body); err != nil {
			status, reason = "failed", err.Error()
			n.logger.Error("email delivery failed", "appointment_id", evt.AppointmentID, "err", err)
		}
		n.record(ctx, eventType, evt, "email", contact.Email, status, reason)
	}
	// A phone override captured at booking time wins over the stored number.
	phone := contact.Phone
	if evt.ClientPhoneOverride != "" {
		phone = evt.ClientPhoneOverride
	}
	if phone != "" {
		status, reason := "sent", ""
		if err := n.sms.Send(ctx, phone, subject+": "+body); err != nil {
			status, reason = "failed", err.Error()
			n.logger.Error("sms delivery failed", "appointment_id", evt.AppointmentID, "err", err)
		}
		n.record(ctx, eventType, evt, "sms", phone, status, reason)
	}
	if contact.Email == "" && phone == "" {
		n.logger.Warn("client has no contact endpoints", "client_id", evt.ClientID)
	}
	return nil
}

func (n *Notifier) record(ctx context.Context, eventType string, evt Event, channel, recipient, status, reason string) {
	err := n.store.Insert(ctx, storage.Notification{
		AppointmentID: evt.AppointmentID,
		ClientID:      evt.ClientID,
		BusinessID:    evt.BusinessID,
		EventType:     eventType,
		Channel:       channel,
		Recipient:     recipient,
		Payload: map[string]any{
			"milestone":         evt.Milestone,
			"start_time":        evt.StartTime,
			"confirmation_code": evt.ConfirmationCode,
		},
		Status:      status,
		ErrorReason: reason,
	})
	if err != nil {
		n.logger.Error("notification log write failed", "appointment_id", evt.AppointmentID, "err", err)
	}
}
