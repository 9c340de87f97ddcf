//go:build protogen

package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
	businessv1 "github.com/STEPHANAS-SOFT/Bookora/protos/gen/business/v1"
	"github.com/STEPHANAS-SOFT/Bookora/services/business-service/internal/storage"
)

// server answers read-only catalog lookups for peer services. Writes stay
// on the HTTP surface.
type server struct {
	businessv1.UnimplementedBusinessServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	businessv1.RegisterBusinessServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

func (s *server) GetBusinessProfile(ctx context.Context, req *businessv1.BusinessProfileRequest) (*businessv1.BusinessProfileResponse, error) {
	resp := &businessv1.BusinessProfileResponse{
		BusinessId: req.GetBusinessId(),
		Timezone:   "UTC",
	}
	if s.repo == nil || req.GetBusinessId() == "" {
		return resp, nil
	}
	b, err := s.repo.GetBusiness(ctx, req.GetBusinessId())
	if err != nil {
		return resp, nil
	}
	resp.Name = b.Name
	resp.Timezone = b.Timezone
	resp.IsActive = b.IsActive
	return resp, nil
}

func (s *server) GetAvailabilityConfig(ctx context.Context, req *businessv1.AvailabilityConfigRequest) (*businessv1.AvailabilityConfigResponse, error) {
	resp := &businessv1.AvailabilityConfigResponse{
		BusinessId: req.GetBusinessId(),
		StaffId:    req.GetStaffId(),
		Timezone:   "UTC",
		IsWorking:  false,
	}
	if s.repo == nil || req.GetBusinessId() == "" || req.GetStaffId() == "" || req.GetDate() == "" {
		return resp, nil
	}

	b, err := s.repo.GetBusiness(ctx, req.GetBusinessId())
	if err != nil || !b.IsActive {
		return resp, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		loc = time.UTC
	} else {
		resp.Timezone = b.Timezone
	}

	dayLocal, err := time.ParseInLocation("2006-01-02", req.GetDate(), loc)
	if err != nil {
		return resp, nil
	}
	// Monday is day 0 in the schedule tables.
	weekday := (int(dayLocal.Weekday()) + 6) % 7

	open, ok, err := businessWindow(ctx, s.repo, req.GetBusinessId(), weekday)
	if err != nil || !ok {
		return resp, nil
	}
	work, ok, err := staffWindow(ctx, s.repo, req.GetBusinessId(), req.GetStaffId(), weekday)
	if err != nil || !ok {
		return resp, nil
	}

	start := maxMinute(open.start, work.start)
	end := minMinute(open.end, work.end)
	if end <= start {
		return resp, nil
	}

	midnight := time.Date(dayLocal.Year(), dayLocal.Month(), dayLocal.Day(), 0, 0, 0, 0, loc)
	workStartUTC := midnight.Add(time.Duration(start) * time.Minute).UTC()
	workEndUTC := midnight.Add(time.Duration(end) * time.Minute).UTC()
	resp.IsWorking = true
	resp.WorkStartUtc = timestamppb.New(workStartUTC)
	resp.WorkEndUtc = timestamppb.New(workEndUTC)

	var busy []span
	if open.breakStart != nil {
		bs := midnight.Add(time.Duration(*open.breakStart) * time.Minute).UTC()
		be := midnight.Add(time.Duration(*open.breakEnd) * time.Minute).UTC()
		busy = append(busy, span{start: bs, end: be})
	}
	timeOff, err := s.repo.ListTimeOff(ctx, req.GetBusinessId(), req.GetStaffId(), workStartUTC, workEndUTC, 500)
	if err == nil {
		for _, t := range timeOff {
			busy = append(busy, span{start: t.StartTime.UTC(), end: t.EndTime.UTC()})
		}
	}

	for _, w := range subtract(workStartUTC, workEndUTC, busy) {
		resp.WindowsUtc = append(resp.WindowsUtc, &businessv1.AvailabilityWindow{
			StartUtc: timestamppb.New(w.start),
			EndUtc:   timestamppb.New(w.end),
		})
	}
	return resp, nil
}

type minuteWindow struct {
	start      int
	end        int
	breakStart *int
	breakEnd   *int
}

func businessWindow(ctx context.Context, repo *storage.Repository, businessID string, weekday int) (minuteWindow, bool, error) {
	hours, err := repo.ListHours(ctx, businessID)
	if err != nil {
		return minuteWindow{}, false, err
	}
	for _, h := range hours {
		if h.DayOfWeek != weekday {
			continue
		}
		if h.IsClosed {
			return minuteWindow{}, false, nil
		}
		return minuteWindow{start: h.OpenMinute, end: h.CloseMinute, breakStart: h.BreakStartMinute, breakEnd: h.BreakEndMinute}, true, nil
	}
	return minuteWindow{}, false, nil
}

func staffWindow(ctx context.Context, repo *storage.Repository, businessID, staffID string, weekday int) (minuteWindow, bool, error) {
	hours, err := repo.ListWorkingHours(ctx, businessID, staffID)
	if err != nil {
		return minuteWindow{}, false, err
	}
	for _, wh := range hours {
		if wh.DayOfWeek != weekday {
			continue
		}
		if !wh.IsWorking {
			return minuteWindow{}, false, nil
		}
		return minuteWindow{start: wh.StartMinute, end: wh.EndMinute}, true, nil
	}
	return minuteWindow{}, false, nil
}

func maxMinute(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minMinute(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type span struct {
	start time.Time
	end   time.Time
}

// subtract removes the busy spans from [baseStart, baseEnd) and returns
// the remaining open windows in order.
func subtract(baseStart, baseEnd time.Time, busy []span) []span {
	if !baseEnd.After(baseStart) {
		return nil
	}
	var clipped []span
	for _, b := range busy {
		s, e := b.start, b.end
		if !e.After(baseStart) || !s.Before(baseEnd) {
			continue
		}
		if s.Before(baseStart) {
			s = baseStart
		}
		if e.After(baseEnd) {
			e = baseEnd
		}
		if e.After(s) {
			clipped = append(clipped, span{start: s, end: e})
		}
	}
	if len(clipped) == 0 {
		return []span{{start: baseStart, end: baseEnd}}
	}

	sortSpans(clipped)
	merged := clipped[:1]
	for _, cur := range clipped[1:] {
		last := &merged[len(merged)-1]
		if cur.start.After(last.end) {
			merged = append(merged, cur)
			continue
		}
		if cur.end.After(last.end) {
			last.end = cur.end
		}
	}

	var out []span
	cursor := baseStart
	for _, m := range merged {
		if m.start.After(cursor) {
			out = append(out, span{start: cursor, end: m.start})
		}
		if m.end.After(cursor) {
			cursor = m.end
		}
	}
	if baseEnd.After(cursor) {
		out = append(out, span{start: cursor, end: baseEnd})
	}
	return out
}

func sortSpans(in []span) {
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j].start.Before(in[j-1].start); j-- {
			in[j], in[j-1] = in[j-1], in[j]
		}
	}
}
