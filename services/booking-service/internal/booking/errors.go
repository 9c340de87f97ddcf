package booking

import "errors"

// Domain errors surfaced to callers. Each maps to a stable error kind so a
// client can tell "pick another time" from "you're not allowed to do this yet"
// from "that appointment is gone". None of them is retried automatically.
var (
	// ErrSlotUnavailable means the requested interval conflicts with an
	// existing pending/confirmed appointment. Recoverable by picking
	// another slot.
	ErrSlotUnavailable = errors.New("time slot unavailable")

	// ErrInvalidTransition means the requested status change is not legal
	// from the appointment's current state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyTerminal means the appointment is completed, cancelled, or
	// a no-show; nothing may change it anymore.
	ErrAlreadyTerminal = errors.New("appointment already terminal")

	// ErrCancellationWindowClosed means the appointment starts within the
	// minimum lead time. Business-privileged callers may override.
	ErrCancellationWindowClosed = errors.New("cancellation window closed")

	// ErrNotFound covers missing or invisible businesses, services, and
	// appointments.
	ErrNotFound = errors.New("not found")

	// ErrBusinessInactive means the business is not accepting bookings.
	ErrBusinessInactive = errors.New("business is not accepting bookings")
)

// Kind returns the stable wire identifier for a domain error, or "" for
// errors outside the taxonomy.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAlreadyTerminal):
		return "already_terminal"
	case errors.Is(err, ErrCancellationWindowClosed):
		return "cancellation_window_closed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBusinessInactive):
		return "business_inactive"
	default:
		return ""
	}
}
