package sweep

import (
	"context"
	"fmt"

	"time"

	"github.com/jackc/pgx/v5"

	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
)

// Repository is the pgx-backed Store. It reads the appointments table the
// booking service owns; the only columns it ever writes are the reminder
// flags and the no-show status.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (Tx, error) {
	return r.pool.Begin(ctx)
}

func flagColumn(m Milestone) (string, error) {
	switch m.Name {
	case "24h":
		return "reminder_24h_sent", nil
	case "2h":
		return "reminder_2h_sent", nil
	default:
		return "", fmt.Errorf("no flag column for milestone %q", m.Name)
	}
}

func (r *Repository) DueReminders(ctx context.Context, tx Tx, m Milestone, windowStart, windowEnd time.Time, limit int) ([]Due, error) {
	col, err := flagColumn(m)
	if err != nil {
		return nil, err
	}
	rows, err := pgtx(tx).Query(ctx, `
		SELECT id::text, client_id::text, business_id::text, service_id::text, COALESCE(staff_id::text, ''),
			start_time, end_time, confirmation_code, COALESCE(client_phone_override, '')
		FROM appointments
		WHERE status = 'confirmed'
			AND NOT `+col+`
			AND start_time >= $1
			AND start_time < $2
		ORDER BY start_time
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, windowStart, windowEnd, limit)
	if err != nil {
		return nil, err
	}
	return collectDue(rows)
}

func (r *Repository) MarkReminderSent(ctx context.Context, tx Tx, appointmentID string, m Milestone) error {
	col, err := flagColumn(m)
	if err != nil {
		return err
	}
	_, err = pgtx(tx).Exec(ctx, `UPDATE appointments SET `+col+` = true WHERE id = $1`, appointmentID)
	return err
}

func (r *Repository) OverdueConfirmed(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]Due, error) {
	rows, err := pgtx(tx).Query(ctx, `
		SELECT id::text, client_id::text, business_id::text, service_id::text, COALESCE(staff_id::text, ''),
			start_time, end_time, confirmation_code, COALESCE(client_phone_override, '')
		FROM appointments
		WHERE status = 'confirmed'
			AND end_time < $1
		ORDER BY end_time
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectDue(rows)
}

func (r *Repository) MarkNoShow(ctx context.Context, tx Tx, appointmentID string, at time.Time) error {
	_, err := pgtx(tx).Exec(ctx, `
		UPDATE appointments
		SET status = 'no_show',
			cancelled_at = $2,
			cancellation_reason = 'no_show'
		WHERE id = $1
	`, appointmentID, at)
	return err
}

func collectDue(rows pgx.Rows) ([]Due, error) {
	defer rows.Close()
	var out []Due
	for rows.Next() {
		var d Due
		if err := rows.Scan(&d.AppointmentID, &d.ClientID, &d.BusinessID, &d.ServiceID, &d.StaffID,
			&d.StartTime, &d.EndTime, &d.ConfirmationCode, &d.ClientPhoneOverride); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func pgtx(tx Tx) pgx.Tx {
	t, ok := tx.(pgx.Tx)
	if !ok {
		panic(fmt.Sprintf("sweep: unexpected transaction type %T", tx))
	}
	return t
}
