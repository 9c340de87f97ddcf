package availability

import (
	"testing"
	"time"

	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/timewindow"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
}

func contains(slots []time.Time, t time.Time) bool {
	for _, s := range slots {
		if s.Equal(t) {
			return true
		}
	}
	return false
}

func TestSlots_BusinessDayWithBreakAndBooking(t *testing.T) {
	// Open 09:00-17:00, lunch 12:00-13:00, 30-minute service,
	// one existing booking 10:00-10:30.
	sched := DaySchedule{
		Open:   true,
		Window: timewindow.Interval{Start: at(9, 0), End: at(17, 0)},
		Breaks: []timewindow.Interval{{Start: at(12, 0), End: at(13, 0)}},
	}
	busy := []timewindow.Interval{{Start: at(10, 0), End: at(10, 30)}}

	slots := Slots(sched, 30*time.Minute, 15*time.Minute, busy, at(0, 0))

	if len(slots) == 0 {
		t.Fatal("expected slots")
	}
	if !slots[0].Equal(at(9, 0)) {
		t.Fatalf("first slot = %s, want 09:00", slots[0].Format("15:04"))
	}
	if !slots[len(slots)-1].Equal(at(16, 30)) {
		t.Fatalf("last slot = %s, want 16:30", slots[len(slots)-1].Format("15:04"))
	}

	// 09:45 overlaps the booking tail; 10:00 and 10:15 sit inside it.
	for _, h := range []time.Time{at(9, 45), at(10, 0), at(10, 15)} {
		if contains(slots, h) {
			t.Fatalf("slot %s must be excluded by the booking", h.Format("15:04"))
		}
	}
	// 10:30 is back-to-back with the booking end and must be offered.
	if !contains(slots, at(10, 30)) {
		t.Fatal("back-to-back slot 10:30 must be available")
	}

	// Every slot whose interval intersects the 12:00-13:00 break is excluded;
	// 11:30 ends exactly at 12:00 and 13:00 starts exactly at break end.
	for _, h := range []time.Time{at(11, 45), at(12, 0), at(12, 15), at(12, 30), at(12, 45)} {
		if contains(slots, h) {
			t.Fatalf("slot %s must be excluded by the break", h.Format("15:04"))
		}
	}
	if !contains(slots, at(11, 30)) || !contains(slots, at(13, 0)) {
		t.Fatal("slots adjacent to the break must be available")
	}

	// 31 candidate starts, minus 3 blocked by the booking and 5 by the break.
	if len(slots) != 23 {
		t.Fatalf("expected 23 slots, got %d", len(slots))
	}
}

func TestSlots_ClosedDay(t *testing.T) {
	sched := DaySchedule{Open: false}
	if got := Slots(sched, 30*time.Minute, 15*time.Minute, nil, at(0, 0)); got != nil {
		t.Fatalf("closed day must yield no slots, got %d", len(got))
	}
}

func TestSlots_ServiceLongerThanWindow(t *testing.T) {
	sched := DaySchedule{
		Open:   true,
		Window: timewindow.Interval{Start: at(9, 0), End: at(9, 30)},
	}
	if got := Slots(sched, time.Hour, 15*time.Minute, nil, at(0, 0)); got != nil {
		t.Fatalf("expected no slots, got %d", len(got))
	}
}

func TestSlots_SkipsPastCursor(t *testing.T) {
	sched := DaySchedule{
		Open:   true,
		Window: timewindow.Interval{Start: at(9, 0), End: at(10, 0)},
	}
	now := at(9, 31)
	slots := Slots(sched, 15*time.Minute, 15*time.Minute, nil, now)
	if len(slots) != 1 || !slots[0].Equal(at(9, 45)) {
		t.Fatalf("expected only the 09:45 slot, got %v", slots)
	}
}

func TestSlots_TimeOffBlocks(t *testing.T) {
	sched := DaySchedule{
		Open:    true,
		Window:  timewindow.Interval{Start: at(9, 0), End: at(11, 0)},
		TimeOff: []timewindow.Interval{{Start: at(9, 0), End: at(10, 0)}},
	}
	slots := Slots(sched, 30*time.Minute, 30*time.Minute, nil, at(0, 0))
	if len(slots) != 2 || !slots[0].Equal(at(10, 0)) || !slots[1].Equal(at(10, 30)) {
		t.Fatalf("expected 10:00 and 10:30, got %v", slots)
	}
}

func TestResolveWindow(t *testing.T) {
	date := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	iv := ResolveWindow(date, 540, 1020, time.UTC)
	if !iv.Start.Equal(at(9, 0)) || !iv.End.Equal(at(17, 0)) {
		t.Fatalf("unexpected window %v", iv)
	}
}
