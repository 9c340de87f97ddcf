package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/booking"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/model"
)

// AppointmentRepository is the pgx-backed booking.Store. Errors cross the
// boundary already mapped to the booking package's sentinels.
type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (booking.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockSlots takes a per-business advisory lock scoped to the transaction.
// Every booking and reschedule for a business funnels through it, so the
// conflict check and the insert happen without a racing writer in between.
func (r *AppointmentRepository) LockSlots(ctx context.Context, tx booking.Tx, businessID string) error {
	_, err := pgtx(tx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, businessID)
	return err
}

const appointmentColumns = `
	id::text, client_id::text, business_id::text, service_id::text, COALESCE(staff_id::text, ''),
	start_time, duration_minutes, status, confirmation_code,
	COALESCE(service_price::text, ''), COALESCE(deposit_amount::text, ''), COALESCE(total_amount::text, ''),
	COALESCE(client_notes, ''), COALESCE(client_phone_override, ''), COALESCE(business_notes, ''),
	confirmed_at, cancelled_at, COALESCE(cancellation_reason, ''), COALESCE(cancellation_notes, ''), cancelled_by_client,
	COALESCE(original_appointment_id::text, ''), rescheduled_from,
	completed_at, actual_duration,
	confirmation_sent, reminder_24h_sent, reminder_2h_sent,
	created_at`

func (r *AppointmentRepository) Create(ctx context.Context, tx booking.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := pgtx(tx).QueryRow(ctx, `
		INSERT INTO appointments
			(client_id, business_id, service_id, staff_id, start_time, duration_minutes, status,
			 confirmation_code, service_price, deposit_amount, total_amount,
			 client_notes, client_phone_override,
			 original_appointment_id, rescheduled_from)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7,
			$8, NULLIF($9, '')::numeric, NULLIF($10, '')::numeric, NULLIF($11, '')::numeric,
			$12, $13,
			NULLIF($14, '')::uuid, $15)
		RETURNING id::text
	`, appt.ClientID, appt.BusinessID, appt.ServiceID, appt.StaffID,
		appt.StartTime, appt.DurationMinutes, appt.Status,
		appt.ConfirmationCode, appt.ServicePrice, appt.DepositAmount, appt.TotalAmount,
		appt.ClientNotes, appt.ClientPhoneOverride,
		appt.OriginalAppointmentID, appt.RescheduledFrom).Scan(&id)
	if err != nil {
		if isExclusion(err) {
			return "", booking.ErrSlotUnavailable
		}
		return "", err
	}
	return id, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx booking.Tx, id string) (model.Appointment, error) {
	row := pgtx(tx).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetByConfirmationCode(ctx context.Context, code string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE confirmation_code = $1`, code)
	return scanAppointment(row)
}

// ListOverlapping returns the pending/confirmed appointments whose half-open
// interval intersects [start, end). With no staff filter the whole business
// counts as one capacity; with one, that staff member's rows block, and so do
// rows with no staff member, since those occupy the whole business.
func (r *AppointmentRepository) ListOverlapping(ctx context.Context, businessID, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND ($2 = '' OR staff_id IS NULL OR staff_id = $2::uuid)
			AND status IN ('pending', 'confirmed')
			AND start_time < $4
			AND end_time > $3
			AND ($5 = '' OR id <> $5::uuid)
		ORDER BY start_time ASC
	`, businessID, staffID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListByBusiness(ctx context.Context, businessID string, from, to time.Time, status string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND start_time >= $2
			AND start_time < $3
			AND ($4 = '' OR status = $4)
		ORDER BY start_time ASC
		LIMIT $5
	`, businessID, from, to, status, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ConfirmationCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE confirmation_code = $1)`, code).Scan(&exists)
	return exists, err
}

func (r *AppointmentRepository) MarkConfirmed(ctx context.Context, tx booking.Tx, id string, at time.Time) error {
	return r.exec(ctx, tx, `
		UPDATE appointments
		SET status = 'confirmed', confirmed_at = $2, confirmation_sent = true
		WHERE id = $1
	`, id, at)
}

func (r *AppointmentRepository) MarkCancelled(ctx context.Context, tx booking.Tx, id string, reason model.CancellationReason, notes string, byClient bool, at time.Time) error {
	return r.exec(ctx, tx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = $2,
			cancellation_reason = NULLIF($3, ''),
			cancellation_notes = NULLIF($4, ''),
			cancelled_by_client = $5
		WHERE id = $1
	`, id, at, string(reason), notes, byClient)
}

func (r *AppointmentRepository) MarkInProgress(ctx context.Context, tx booking.Tx, id string) error {
	return r.exec(ctx, tx, `UPDATE appointments SET status = 'in_progress' WHERE id = $1`, id)
}

func (r *AppointmentRepository) MarkCompleted(ctx context.Context, tx booking.Tx, id string, at time.Time, actualDuration *int) error {
	return r.exec(ctx, tx, `
		UPDATE appointments
		SET status = 'completed', completed_at = $2, actual_duration = $3
		WHERE id = $1
	`, id, at, actualDuration)
}

func (r *AppointmentRepository) MarkRescheduled(ctx context.Context, tx booking.Tx, id string) error {
	return r.exec(ctx, tx, `UPDATE appointments SET status = 'rescheduled' WHERE id = $1`, id)
}

func (r *AppointmentRepository) SetBusinessNotes(ctx context.Context, id, notes string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE appointments SET business_notes = NULLIF($2, '') WHERE id = $1`, id, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *AppointmentRepository) exec(ctx context.Context, tx booking.Tx, sql string, args ...any) error {
	tag, err := pgtx(tx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.ClientID,
		&appt.BusinessID,
		&appt.ServiceID,
		&appt.StaffID,
		&appt.StartTime,
		&appt.DurationMinutes,
		&appt.Status,
		&appt.ConfirmationCode,
		&appt.ServicePrice,
		&appt.DepositAmount,
		&appt.TotalAmount,
		&appt.ClientNotes,
		&appt.ClientPhoneOverride,
		&appt.BusinessNotes,
		&appt.ConfirmedAt,
		&appt.CancelledAt,
		&appt.CancelReason,
		&appt.CancelNotes,
		&appt.CancelledByClient,
		&appt.OriginalAppointmentID,
		&appt.RescheduledFrom,
		&appt.CompletedAt,
		&appt.ActualDuration,
		&appt.ConfirmationSent,
		&appt.Reminder24hSent,
		&appt.Reminder2hSent,
		&appt.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func pgtx(tx booking.Tx) pgx.Tx {
	t, ok := tx.(pgx.Tx)
	if !ok {
		panic(fmt.Sprintf("storage: unexpected transaction type %T", tx))
	}
	return t
}

func isExclusion(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
