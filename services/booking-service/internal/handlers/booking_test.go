package handlers

import (
	"testing"
	"time"

	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/availability"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/timewindow"
)

func TestBuildSlotsResponse_ClosedDay(t *testing.T) {
	resp := buildSlotsResponse(availability.DaySchedule{}, 30*time.Minute, nil, time.Now())
	if !resp.Closed {
		t.Fatal("closed day must be flagged closed")
	}
	if resp.Slots == nil || len(resp.Slots) != 0 {
		t.Fatalf("closed day slots = %v, want empty non-nil", resp.Slots)
	}
}

func TestBuildSlotsResponse_FullyBookedStaysOpen(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	window := availability.ResolveWindow(day, 540, 600, time.UTC)
	sched := availability.DaySchedule{Open: true, Window: window}

	// One booking covering the whole window: no slots, but the day is open.
	resp := buildSlotsResponse(sched, 30*time.Minute, []timewindow.Interval{window}, day)
	if resp.Closed {
		t.Fatal("fully booked day must not read as closed")
	}
	if len(resp.Slots) != 0 {
		t.Fatalf("slots = %v, want none", resp.Slots)
	}

	// Without the booking the window yields slots.
	resp = buildSlotsResponse(sched, 30*time.Minute, nil, day)
	if resp.Closed || len(resp.Slots) == 0 {
		t.Fatalf("open day with free window must yield slots, got %+v", resp)
	}
	if resp.Slots[0].StartTime != "2026-03-10T09:00:00Z" {
		t.Fatalf("first slot = %s, want 2026-03-10T09:00:00Z", resp.Slots[0].StartTime)
	}
}
