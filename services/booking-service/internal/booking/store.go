package booking

import (
	"context"
	"time"

	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/model"
)

// Tx is the subset of a database transaction the engine needs. pgx.Tx
// satisfies it; tests substitute an in-memory implementation.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the appointment repository contract. Implementations must map
// their not-found condition to ErrNotFound and an exclusion-constraint
// violation on create to ErrSlotUnavailable.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	// LockSlots serializes check-then-write booking flows for one business
	// for the duration of the transaction.
	LockSlots(ctx context.Context, tx Tx, businessID string) error

	Create(ctx context.Context, tx Tx, appt *model.Appointment) (string, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	GetForUpdate(ctx context.Context, tx Tx, id string) (model.Appointment, error)

	// ListOverlapping returns pending/confirmed appointments for the
	// business (scoped to staffID when non-empty) whose [start,end)
	// interval overlaps the candidate, excluding excludeID when non-empty.
	ListOverlapping(ctx context.Context, businessID, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error)

	ConfirmationCodeExists(ctx context.Context, code string) (bool, error)

	MarkConfirmed(ctx context.Context, tx Tx, id string, at time.Time) error
	MarkCancelled(ctx context.Context, tx Tx, id string, reason model.CancellationReason, notes string, byClient bool, at time.Time) error
	MarkInProgress(ctx context.Context, tx Tx, id string) error
	MarkCompleted(ctx context.Context, tx Tx, id string, at time.Time, actualDuration *int) error
	MarkRescheduled(ctx context.Context, tx Tx, id string) error
}

// Directory is the read-only business/service store collaborator.
type Directory interface {
	// BusinessActive reports whether the business exists and accepts
	// bookings. A missing business yields ErrNotFound.
	BusinessActive(ctx context.Context, businessID string) (bool, error)

	GetService(ctx context.Context, businessID, serviceID string) (ServiceInfo, error)
}

// ServiceInfo is the service snapshot captured onto new appointments.
type ServiceInfo struct {
	ID              string
	DurationMinutes int
	Price           string
	Deposit         string
}

// EventSink receives lifecycle events inside the same transaction as the
// state change, so an event exists iff the change committed.
type EventSink interface {
	Emit(ctx context.Context, tx Tx, eventType, appointmentID string, payload []byte) error
}
