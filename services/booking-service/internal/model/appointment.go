package model

import "time"

// Status is the appointment lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// CancellationReason is the structured reason code recorded on cancellation.
type CancellationReason string

const (
	ReasonClientRequest   CancellationReason = "client_request"
	ReasonBusinessRequest CancellationReason = "business_request"
	ReasonEmergency       CancellationReason = "emergency"
	ReasonIllness         CancellationReason = "illness"
	ReasonWeather         CancellationReason = "weather"
	ReasonNoShow          CancellationReason = "no_show"
	ReasonOther           CancellationReason = "other"
)

// Appointment is the central booking entity. Status and the reminder flags
// are written only by the lifecycle engine and the scheduler respectively;
// pricing fields are a snapshot taken at booking time and never updated.
type Appointment struct {
	ID         string
	ClientID   string
	BusinessID string
	ServiceID  string
	StaffID    string // optional; empty means business-wide capacity

	StartTime       time.Time
	DurationMinutes int

	Status           Status
	ConfirmationCode string

	ServicePrice  string
	DepositAmount string
	TotalAmount   string

	ClientNotes         string
	ClientPhoneOverride string
	BusinessNotes       string

	ConfirmedAt       *time.Time
	CancelledAt       *time.Time
	CancelReason      CancellationReason
	CancelNotes       string
	CancelledByClient *bool

	OriginalAppointmentID string
	RescheduledFrom       *time.Time

	CompletedAt    *time.Time
	ActualDuration *int

	ConfirmationSent bool
	Reminder24hSent  bool
	Reminder2hSent   bool

	CreatedAt time.Time
}

// EndTime is derived from the duration snapshot, never stored independently.
func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// StartsWithin reports whether the appointment begins within lead of now.
// Used for the cancellation/reschedule lead-time rule.
func (a *Appointment) StartsWithin(now time.Time, lead time.Duration) bool {
	return a.StartTime.Sub(now) <= lead
}

// CanBeRescheduled mirrors the cancellation rule but also excludes
// appointments that are already underway.
func (a *Appointment) CanBeRescheduled(now time.Time, lead time.Duration) bool {
	if a.Status.Terminal() || a.Status == StatusInProgress {
		return false
	}
	return !a.StartsWithin(now, lead)
}
