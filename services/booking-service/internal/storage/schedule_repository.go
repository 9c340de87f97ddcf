package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/availability"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/booking"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/timewindow"
)

// Default staff schedule when no explicit working hours exist: Monday to
// Friday, 09:00 to 17:00 local time.
const (
	defaultStaffStartMinute = 540
	defaultStaffEndMinute   = 1020
)

// ScheduleRepository reads the business catalog tables: the booking.Directory
// lookups plus the operating-hours data the slot generator consumes.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) BusinessActive(ctx context.Context, businessID string) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT is_active FROM businesses WHERE id = $1`, businessID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, booking.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

func (r *ScheduleRepository) GetService(ctx context.Context, businessID, serviceID string) (booking.ServiceInfo, error) {
	var svc booking.ServiceInfo
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, duration_minutes, COALESCE(price::text, ''), COALESCE(deposit_amount::text, '')
		FROM services
		WHERE id = $1 AND business_id = $2 AND is_active
	`, serviceID, businessID).Scan(&svc.ID, &svc.DurationMinutes, &svc.Price, &svc.Deposit)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.ServiceInfo{}, booking.ErrNotFound
	}
	if err != nil {
		return booking.ServiceInfo{}, err
	}
	return svc, nil
}

func (r *ScheduleRepository) BusinessTimezone(ctx context.Context, businessID string) (*time.Location, error) {
	var tz string
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(timezone, 'UTC') FROM businesses WHERE id = $1`, businessID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("business %s has invalid timezone %q: %w", businessID, tz, err)
	}
	return loc, nil
}

// DaySchedule resolves the bookable window for one business on one date:
// business hours, narrowed to the staff member's working hours when a staff
// member is requested, with lunch breaks and approved time off attached.
// Weekdays are stored Monday=0 through Sunday=6.
func (r *ScheduleRepository) DaySchedule(ctx context.Context, businessID, staffID string, date time.Time, loc *time.Location) (availability.DaySchedule, error) {
	weekday := (int(date.In(loc).Weekday()) + 6) % 7

	var (
		openMinute, closeMinute          int
		breakStartMinute, breakEndMinute *int
		closed                           bool
	)
	err := r.pool.QueryRow(ctx, `
		SELECT open_minute, close_minute, break_start_minute, break_end_minute, is_closed
		FROM business_hours
		WHERE business_id = $1 AND day_of_week = $2
	`, businessID, weekday).Scan(&openMinute, &closeMinute, &breakStartMinute, &breakEndMinute, &closed)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && closed) {
		return availability.DaySchedule{}, nil
	}
	if err != nil {
		return availability.DaySchedule{}, err
	}

	sched := availability.DaySchedule{
		Open:   true,
		Window: availability.ResolveWindow(date, openMinute, closeMinute, loc),
	}
	if breakStartMinute != nil && breakEndMinute != nil {
		sched.Breaks = append(sched.Breaks, availability.ResolveWindow(date, *breakStartMinute, *breakEndMinute, loc))
	}

	if staffID != "" {
		if err := r.applyStaffSchedule(ctx, &sched, staffID, date, weekday, loc); err != nil {
			return availability.DaySchedule{}, err
		}
	}
	return sched, nil
}

func (r *ScheduleRepository) applyStaffSchedule(ctx context.Context, sched *availability.DaySchedule, staffID string, date time.Time, weekday int, loc *time.Location) error {
	var (
		startMinute, endMinute int
		working                bool
	)
	err := r.pool.QueryRow(ctx, `
		SELECT start_minute, end_minute, is_working
		FROM staff_working_hours
		WHERE staff_id = $1 AND day_of_week = $2
	`, staffID, weekday).Scan(&startMinute, &endMinute, &working)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No explicit schedule: weekday default hours apply.
		working = weekday < 5
		startMinute, endMinute = defaultStaffStartMinute, defaultStaffEndMinute
	case err != nil:
		return err
	}
	if !working {
		sched.Open = false
		return nil
	}

	staffWindow := availability.ResolveWindow(date, startMinute, endMinute, loc)
	sched.Window = intersect(sched.Window, staffWindow)
	if !sched.Window.Valid() {
		sched.Open = false
		return nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM staff_time_off
		WHERE staff_id = $1 AND status = 'approved' AND start_time < $3 AND end_time > $2
	`, staffID, sched.Window.Start, sched.Window.End)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var iv timewindow.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return err
		}
		sched.TimeOff = append(sched.TimeOff, iv)
	}
	return rows.Err()
}

func intersect(a, b timewindow.Interval) timewindow.Interval {
	out := a
	if b.Start.After(out.Start) {
		out.Start = b.Start
	}
	if b.End.Before(out.End) {
		out.End = b.End
	}
	return out
}
