package availability

import (
	"time"

	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/timewindow"
)

// DefaultStep is the slot cursor increment when none is configured.
const DefaultStep = 15 * time.Minute

// DaySchedule is a business's resolved operating window for a single date.
// Break windows (lunch etc.) and staff time off are excluded the same way
// booked intervals are.
type DaySchedule struct {
	Open    bool
	Window  timewindow.Interval
	Breaks  []timewindow.Interval
	TimeOff []timewindow.Interval
}

// Slots returns candidate start times for a booking of the given duration
// within the schedule, stepping from open to (close - duration) and skipping
// any cursor whose interval overlaps a busy, break, or time-off interval.
//
// The result is advisory: it does not reserve anything. A returned slot can
// still lose the race at booking time.
func Slots(sched DaySchedule, duration, step time.Duration, busy []timewindow.Interval, now time.Time) []time.Time {
	if !sched.Open || duration <= 0 {
		return nil
	}
	if step <= 0 {
		step = DefaultStep
	}
	if !sched.Window.Valid() {
		return nil
	}
	if sched.Window.Start.Add(duration).After(sched.Window.End) {
		return nil
	}

	// Breaks and time off block slots exactly like existing bookings.
	blocked := make([]timewindow.Interval, 0, len(busy)+len(sched.Breaks)+len(sched.TimeOff))
	blocked = append(blocked, busy...)
	blocked = append(blocked, sched.Breaks...)
	blocked = append(blocked, sched.TimeOff...)

	var slots []time.Time
	for t := sched.Window.Start; !t.Add(duration).After(sched.Window.End); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !timewindow.OverlapsAny(timewindow.New(t, duration), blocked) {
			slots = append(slots, t)
		}
	}
	return slots
}

// ResolveWindow places clock-minute boundaries onto an absolute date in loc.
// startMinute/endMinute are minutes after midnight, e.g. 540 for 09:00.
func ResolveWindow(date time.Time, startMinute, endMinute int, loc *time.Location) timewindow.Interval {
	if loc == nil {
		loc = time.UTC
	}
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return timewindow.Interval{
		Start: midnight.Add(time.Duration(startMinute) * time.Minute),
		End:   midnight.Add(time.Duration(endMinute) * time.Minute),
	}
}
