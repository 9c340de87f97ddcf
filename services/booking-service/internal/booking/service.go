package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/model"
)

// Event types emitted to the notification collaborator via the outbox.
const (
	EventBooked      = "booking.appointment.created.v1"
	EventConfirmed   = "booking.appointment.confirmed.v1"
	EventCancelled   = "booking.appointment.cancelled.v1"
	EventRescheduled = "booking.appointment.rescheduled.v1"
)

// Actor identifies which party requested a mutation.
type Actor string

const (
	ActorClient   Actor = "client"
	ActorBusiness Actor = "business"
)

// DefaultCancellationLeadTime is the minimum gap between "now" and an
// appointment's start for a client cancellation or reschedule.
const DefaultCancellationLeadTime = 2 * time.Hour

const maxCodeAttempts = 5

// Service is the appointment lifecycle engine. It is the sole writer of
// appointment status; all mutations run inside a single transaction together
// with their outbox event.
type Service struct {
	store    Store
	detector *Detector
	dir      Directory
	events   EventSink
	logger   *slog.Logger
	leadTime time.Duration
	now      func() time.Time
	newCode  func() string
}

type Config struct {
	CancellationLeadTime time.Duration
	Now                  func() time.Time
	NewCode              func() string
}

func NewService(store Store, dir Directory, events EventSink, logger *slog.Logger, cfg Config) *Service {
	if cfg.CancellationLeadTime <= 0 {
		cfg.CancellationLeadTime = DefaultCancellationLeadTime
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewCode == nil {
		cfg.NewCode = NewConfirmationCode
	}
	return &Service{
		store:    store,
		detector: NewDetector(store),
		dir:      dir,
		events:   events,
		logger:   logger,
		leadTime: cfg.CancellationLeadTime,
		now:      cfg.Now,
		newCode:  cfg.NewCode,
	}
}

// Detector exposes the conflict detector for read-only callers.
func (s *Service) Detector() *Detector {
	return s.detector
}

type BookRequest struct {
	ClientID            string
	BusinessID          string
	ServiceID           string
	StaffID             string
	Start               time.Time
	ClientNotes         string
	ClientPhoneOverride string
}

// Book creates a pending appointment with a service price snapshot and a
// fresh confirmation code. The per-business slot lock is held across the
// conflict check and the insert so two concurrent calls for the same slot
// cannot both pass; the exclusion constraint backstops the invariant.
func (s *Service) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	active, err := s.dir.BusinessActive(ctx, req.BusinessID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !active {
		return model.Appointment{}, ErrBusinessInactive
	}

	svc, err := s.dir.GetService(ctx, req.BusinessID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if svc.DurationMinutes <= 0 {
		return model.Appointment{}, fmt.Errorf("service %s has invalid duration %d", req.ServiceID, svc.DurationMinutes)
	}

	appt := model.Appointment{
		ClientID:            req.ClientID,
		BusinessID:          req.BusinessID,
		ServiceID:           req.ServiceID,
		StaffID:             req.StaffID,
		StartTime:           req.Start,
		DurationMinutes:     svc.DurationMinutes,
		Status:              model.StatusPending,
		ServicePrice:        svc.Price,
		DepositAmount:       svc.Deposit,
		TotalAmount:         svc.Price,
		ClientNotes:         req.ClientNotes,
		ClientPhoneOverride: req.ClientPhoneOverride,
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.store.LockSlots(ctx, tx, req.BusinessID); err != nil {
		return model.Appointment{}, err
	}

	conflict, err := s.detector.HasConflict(ctx, req.BusinessID, req.StaffID, appt.StartTime, appt.EndTime(), "")
	if err != nil {
		return model.Appointment{}, err
	}
	if conflict {
		return model.Appointment{}, ErrSlotUnavailable
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.ConfirmationCode = code

	id, err := s.store.Create(ctx, tx, &appt)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.ID = id

	if err := s.emit(ctx, tx, EventBooked, &appt, nil); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Confirm moves a pending appointment to confirmed. Any other source state,
// terminal included, is an invalid transition; retries are not silently
// absorbed.
func (s *Service) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusPending {
		return model.Appointment{}, fmt.Errorf("confirm from %s: %w", appt.Status, ErrInvalidTransition)
	}

	at := s.now()
	if err := s.store.MarkConfirmed(ctx, tx, id, at); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusConfirmed
	appt.ConfirmedAt = &at

	if err := s.emit(ctx, tx, EventConfirmed, &appt, nil); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

type CancelRequest struct {
	Reason model.CancellationReason
	Notes  string
	Actor  Actor
	// Override lifts the lead-time rule; honored only for business actors.
	Override bool
}

// Cancel is legal from any non-terminal state. The lead-time rule applies
// unless a business actor explicitly overrides it.
func (s *Service) Cancel(ctx context.Context, id string, req CancelRequest) (model.Appointment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status.Terminal() {
		return model.Appointment{}, fmt.Errorf("cancel %s appointment: %w", appt.Status, ErrAlreadyTerminal)
	}
	if appt.StartsWithin(s.now(), s.leadTime) && !(req.Override && req.Actor == ActorBusiness) {
		return model.Appointment{}, ErrCancellationWindowClosed
	}

	at := s.now()
	byClient := req.Actor != ActorBusiness
	if err := s.store.MarkCancelled(ctx, tx, id, req.Reason, req.Notes, byClient, at); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusCancelled
	appt.CancelledAt = &at
	appt.CancelReason = req.Reason
	appt.CancelNotes = req.Notes
	appt.CancelledByClient = &byClient

	if err := s.emit(ctx, tx, EventCancelled, &appt, map[string]any{
		"reason":       string(req.Reason),
		"cancelled_by": string(req.Actor),
	}); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Start marks a confirmed appointment as underway.
func (s *Service) Start(ctx context.Context, id string) (model.Appointment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status.Terminal() {
		return model.Appointment{}, fmt.Errorf("start %s appointment: %w", appt.Status, ErrAlreadyTerminal)
	}
	if appt.Status != model.StatusConfirmed {
		return model.Appointment{}, fmt.Errorf("start from %s: %w", appt.Status, ErrInvalidTransition)
	}

	if err := s.store.MarkInProgress(ctx, tx, id); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusInProgress

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Complete closes out a confirmed or in-progress appointment, optionally
// recording the actual duration for analytics.
func (s *Service) Complete(ctx context.Context, id string, actualDuration *int) (model.Appointment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status.Terminal() {
		return model.Appointment{}, fmt.Errorf("complete %s appointment: %w", appt.Status, ErrAlreadyTerminal)
	}
	if appt.Status != model.StatusConfirmed && appt.Status != model.StatusInProgress {
		return model.Appointment{}, fmt.Errorf("complete from %s: %w", appt.Status, ErrInvalidTransition)
	}

	at := s.now()
	if err := s.store.MarkCompleted(ctx, tx, id, at, actualDuration); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusCompleted
	appt.CompletedAt = &at
	appt.ActualDuration = actualDuration

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

type RescheduleRequest struct {
	NewStart time.Time
	Actor    Actor
	// Override lifts the lead-time rule; honored only for business actors.
	Override bool
}

// Reschedule marks the source appointment rescheduled and creates its
// replacement in one transaction: both rows commit or neither does. The new
// appointment carries the old price snapshot, notes, and a lineage link, and
// the source stops counting toward conflicts from that point on.
func (s *Service) Reschedule(ctx context.Context, id string, req RescheduleRequest) (model.Appointment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	src, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if src.Status.Terminal() {
		return model.Appointment{}, fmt.Errorf("reschedule %s appointment: %w", src.Status, ErrAlreadyTerminal)
	}
	if src.Status == model.StatusInProgress || src.Status == model.StatusRescheduled {
		return model.Appointment{}, fmt.Errorf("reschedule from %s: %w", src.Status, ErrInvalidTransition)
	}
	if src.StartsWithin(s.now(), s.leadTime) && !(req.Override && req.Actor == ActorBusiness) {
		return model.Appointment{}, ErrCancellationWindowClosed
	}

	if err := s.store.LockSlots(ctx, tx, src.BusinessID); err != nil {
		return model.Appointment{}, err
	}

	end := req.NewStart.Add(time.Duration(src.DurationMinutes) * time.Minute)
	conflict, err := s.detector.HasConflict(ctx, src.BusinessID, src.StaffID, req.NewStart, end, src.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	if conflict {
		return model.Appointment{}, ErrSlotUnavailable
	}

	if err := s.store.MarkRescheduled(ctx, tx, src.ID); err != nil {
		return model.Appointment{}, err
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	oldStart := src.StartTime
	next := model.Appointment{
		ClientID:              src.ClientID,
		BusinessID:            src.BusinessID,
		ServiceID:             src.ServiceID,
		StaffID:               src.StaffID,
		StartTime:             req.NewStart,
		DurationMinutes:       src.DurationMinutes,
		Status:                model.StatusPending,
		ConfirmationCode:      code,
		ServicePrice:          src.ServicePrice,
		DepositAmount:         src.DepositAmount,
		TotalAmount:           src.TotalAmount,
		ClientNotes:           src.ClientNotes,
		ClientPhoneOverride:   src.ClientPhoneOverride,
		OriginalAppointmentID: src.ID,
		RescheduledFrom:       &oldStart,
	}

	newID, err := s.store.Create(ctx, tx, &next)
	if err != nil {
		return model.Appointment{}, err
	}
	next.ID = newID

	if err := s.emit(ctx, tx, EventRescheduled, &next, map[string]any{
		"original_appointment_id": src.ID,
		"rescheduled_from":        oldStart.UTC().Format(time.RFC3339),
	}); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return next, nil
}

func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := s.newCode()
		exists, err := s.store.ConfirmationCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
		s.logger.Warn("confirmation code collision, regenerating", "attempt", i+1)
	}
	return "", fmt.Errorf("could not generate a unique confirmation code after %d attempts", maxCodeAttempts)
}

func (s *Service) emit(ctx context.Context, tx Tx, eventType string, a *model.Appointment, extra map[string]any) error {
	payload := map[string]any{
		"appointment_id":    a.ID,
		"client_id":         a.ClientID,
		"business_id":       a.BusinessID,
		"service_id":        a.ServiceID,
		"status":            string(a.Status),
		"start_time":        a.StartTime.UTC().Format(time.RFC3339),
		"end_time":          a.EndTime().UTC().Format(time.RFC3339),
		"duration_minutes":  a.DurationMinutes,
		"confirmation_code": a.ConfirmationCode,
	}
	if a.StaffID != "" {
		payload["staff_id"] = a.StaffID
	}
	if a.ClientPhoneOverride != "" {
		payload["client_phone_override"] = a.ClientPhoneOverride
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.events.Emit(ctx, tx, eventType, a.ID, raw)
}
