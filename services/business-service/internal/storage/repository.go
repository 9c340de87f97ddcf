package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
)

// ErrNotFound is returned when a business-scoped lookup matches nothing.
var ErrNotFound = errors.New("not found")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type Business struct {
	ID       string
	OwnerID  string
	Name     string
	Timezone string
	IsActive bool
}

func (r *Repository) CreateBusiness(ctx context.Context, ownerID, name, timezone string) (string, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return "", err
	}
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO businesses (owner_id, name, timezone, is_active)
		VALUES ($1, $2, $3, true)
		RETURNING id::text
	`, ownerID, name, timezone).Scan(&id)
	return id, err
}

func (r *Repository) GetBusiness(ctx context.Context, businessID string) (Business, error) {
	var b Business
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, name, COALESCE(timezone, 'UTC'), is_active
		FROM businesses
		WHERE id = $1
	`, businessID).Scan(&b.ID, &b.OwnerID, &b.Name, &b.Timezone, &b.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Business{}, ErrNotFound
	}
	return b, err
}

func (r *Repository) SetBusinessActive(ctx context.Context, businessID string, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE businesses SET is_active = $2, updated_at = now() WHERE id = $1
	`, businessID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Hours is one weekday's operating window. Weekdays run Monday=0 through
// Sunday=6. Break minutes are nil when the business takes no midday break.
type Hours struct {
	DayOfWeek        int
	OpenMinute       int
	CloseMinute      int
	BreakStartMinute *int
	BreakEndMinute   *int
	IsClosed         bool
}

func (r *Repository) UpsertHours(ctx context.Context, businessID string, h Hours) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_hours (business_id, day_of_week, open_minute, close_minute, break_start_minute, break_end_minute, is_closed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (business_id, day_of_week) DO UPDATE
		SET open_minute = EXCLUDED.open_minute,
			close_minute = EXCLUDED.close_minute,
			break_start_minute = EXCLUDED.break_start_minute,
			break_end_minute = EXCLUDED.break_end_minute,
			is_closed = EXCLUDED.is_closed
	`, businessID, h.DayOfWeek, h.OpenMinute, h.CloseMinute, h.BreakStartMinute, h.BreakEndMinute, h.IsClosed)
	return err
}

func (r *Repository) ListHours(ctx context.Context, businessID string) ([]Hours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day_of_week, open_minute, close_minute, break_start_minute, break_end_minute, is_closed
		FROM business_hours
		WHERE business_id = $1
		ORDER BY day_of_week ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Hours
	for rows.Next() {
		var h Hours
		if err := rows.Scan(&h.DayOfWeek, &h.OpenMinute, &h.CloseMinute, &h.BreakStartMinute, &h.BreakEndMinute, &h.IsClosed); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	Description     string
	DurationMinutes int
	Price           string
	DepositAmount   string
	IsActive        bool
	CreatedAt       time.Time
}

func (r *Repository) CreateService(ctx context.Context, svc Service) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, business_id, name, description, duration_minutes, price, deposit_amount, is_active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::numeric, NULLIF($7, '')::numeric, true)
	`, id, svc.BusinessID, svc.Name, svc.Description, svc.DurationMinutes, svc.Price, svc.DepositAmount)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListServices(ctx context.Context, businessID string, limit int) ([]Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, COALESCE(description, ''), duration_minutes,
			COALESCE(price::text, ''), COALESCE(deposit_amount::text, ''), is_active, created_at
		FROM services
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.Description, &s.DurationMinutes, &s.Price, &s.DepositAmount, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) SetServiceActive(ctx context.Context, businessID, serviceID string, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services SET is_active = $3 WHERE id = $2 AND business_id = $1
	`, businessID, serviceID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type Staff struct {
	ID         string
	BusinessID string
	Name       string
	IsActive   bool
}

// CreateStaff inserts the member and seeds the default Monday-to-Friday
// 09:00-17:00 schedule in the same transaction.
func (r *Repository) CreateStaff(ctx context.Context, businessID, name string) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO staff (business_id, name, is_active)
		VALUES ($1, $2, true)
		RETURNING id::text
	`, businessID, name).Scan(&id)
	if err != nil {
		return "", err
	}

	for wd := 0; wd <= 6; wd++ {
		working := wd < 5
		startMin, endMin := 540, 1020
		if !working {
			startMin, endMin = 0, 0
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO staff_working_hours (staff_id, day_of_week, is_working, start_minute, end_minute)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (staff_id, day_of_week) DO NOTHING
		`, id, wd, working, startMin, endMin); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListStaff(ctx context.Context, businessID string, limit int) ([]Staff, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, is_active
		FROM staff
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Staff
	for rows.Next() {
		var s Staff
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type WorkingHours struct {
	StaffID     string
	DayOfWeek   int
	IsWorking   bool
	StartMinute int
	EndMinute   int
}

func (r *Repository) ListWorkingHours(ctx context.Context, businessID, staffID string) ([]WorkingHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.staff_id::text, h.day_of_week, h.is_working, h.start_minute, h.end_minute
		FROM staff_working_hours h
		JOIN staff s ON s.id = h.staff_id
		WHERE s.business_id = $1 AND h.staff_id = $2
		ORDER BY h.day_of_week ASC
	`, businessID, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkingHours
	for rows.Next() {
		var wh WorkingHours
		if err := rows.Scan(&wh.StaffID, &wh.DayOfWeek, &wh.IsWorking, &wh.StartMinute, &wh.EndMinute); err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) UpsertWorkingHours(ctx context.Context, businessID string, wh WorkingHours) error {
	if err := r.staffBelongs(ctx, businessID, wh.StaffID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staff_working_hours (staff_id, day_of_week, is_working, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (staff_id, day_of_week) DO UPDATE
		SET is_working = EXCLUDED.is_working,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute
	`, wh.StaffID, wh.DayOfWeek, wh.IsWorking, wh.StartMinute, wh.EndMinute)
	return err
}

type TimeOff struct {
	ID        string
	StaffID   string
	StartTime time.Time
	EndTime   time.Time
	Reason    string
	Status    string
	CreatedAt time.Time
}

func (r *Repository) CreateTimeOff(ctx context.Context, businessID, staffID string, startTime, endTime time.Time, reason string) (string, error) {
	if err := r.staffBelongs(ctx, businessID, staffID); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staff_time_off (id, staff_id, start_time, end_time, reason, status)
		VALUES ($1, $2, $3, $4, $5, 'approved')
	`, id, staffID, startTime, endTime, reason)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListTimeOff(ctx context.Context, businessID, staffID string, from, to time.Time, limit int) ([]TimeOff, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT t.id::text, t.staff_id::text, t.start_time, t.end_time, COALESCE(t.reason, ''), t.status, t.created_at
		FROM staff_time_off t
		JOIN staff s ON s.id = t.staff_id
		WHERE s.business_id = $1
			AND t.staff_id = $2
			AND t.end_time > $3
			AND t.start_time < $4
		ORDER BY t.start_time ASC
		LIMIT $5
	`, businessID, staffID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeOff
	for rows.Next() {
		var t TimeOff
		if err := rows.Scan(&t.ID, &t.StaffID, &t.StartTime, &t.EndTime, &t.Reason, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) DeleteTimeOff(ctx context.Context, businessID, timeOffID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM staff_time_off t
		USING staff s
		WHERE t.staff_id = s.id
		  AND s.business_id = $1
		  AND t.id = $2
	`, businessID, timeOffID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) staffBelongs(ctx context.Context, businessID, staffID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM staff WHERE id = $1 AND business_id = $2)
	`, staffID, businessID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}
