package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/STEPHANAS-SOFT/Bookora/libs/httpx"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/availability"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/booking"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/model"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/storage"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/timewindow"
)

type BookingHandler struct {
	engine *booking.Service
	repo   *storage.AppointmentRepository
	sched  *storage.ScheduleRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewBookingHandler(engine *booking.Service, repo *storage.AppointmentRepository, sched *storage.ScheduleRepository, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		engine: engine,
		repo:   repo,
		sched:  sched,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register wires all routes. The public ones go through the extra middleware
// when one is given (the redis rate limiter in production).
func (h *BookingHandler) Register(mux *http.ServeMux, public httpx.Middleware) {
	if public == nil {
		public = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("/api/v1/public/slots", public(http.HandlerFunc(h.Slots)))
	mux.Handle("/api/v1/public/book", public(http.HandlerFunc(h.Book)))
	mux.Handle("/api/v1/public/appointments/lookup", public(http.HandlerFunc(h.Lookup)))
	mux.HandleFunc("/api/v1/appointments", h.List)
	mux.HandleFunc("/api/v1/appointments/mine", h.ListMine)
	mux.HandleFunc("/api/v1/appointments/confirm", h.Confirm)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/appointments/start", h.Start)
	mux.HandleFunc("/api/v1/appointments/complete", h.Complete)
	mux.HandleFunc("/api/v1/appointments/notes", h.Notes)
}

type appointmentView struct {
	AppointmentID         string `json:"appointment_id"`
	ClientID              string `json:"client_id"`
	BusinessID            string `json:"business_id"`
	ServiceID             string `json:"service_id"`
	StaffID               string `json:"staff_id,omitempty"`
	StartTime             string `json:"start_time"`
	EndTime               string `json:"end_time"`
	DurationMinutes       int    `json:"duration_minutes"`
	Status                string `json:"status"`
	ConfirmationCode      string `json:"confirmation_code"`
	ServicePrice          string `json:"service_price,omitempty"`
	DepositAmount         string `json:"deposit_amount,omitempty"`
	TotalAmount           string `json:"total_amount,omitempty"`
	ClientNotes           string `json:"client_notes,omitempty"`
	BusinessNotes         string `json:"business_notes,omitempty"`
	ConfirmedAt           string `json:"confirmed_at,omitempty"`
	CancelledAt           string `json:"cancelled_at,omitempty"`
	CancellationReason    string `json:"cancellation_reason,omitempty"`
	CompletedAt           string `json:"completed_at,omitempty"`
	ActualDuration        *int   `json:"actual_duration_minutes,omitempty"`
	OriginalAppointmentID string `json:"original_appointment_id,omitempty"`
	RescheduledFrom       string `json:"rescheduled_from,omitempty"`
	CreatedAt             string `json:"created_at,omitempty"`
}

func viewOf(a model.Appointment) appointmentView {
	v := appointmentView{
		AppointmentID:         a.ID,
		ClientID:              a.ClientID,
		BusinessID:            a.BusinessID,
		ServiceID:             a.ServiceID,
		StaffID:               a.StaffID,
		StartTime:             a.StartTime.UTC().Format(time.RFC3339),
		EndTime:               a.EndTime().UTC().Format(time.RFC3339),
		DurationMinutes:       a.DurationMinutes,
		Status:                string(a.Status),
		ConfirmationCode:      a.ConfirmationCode,
		ServicePrice:          a.ServicePrice,
		DepositAmount:         a.DepositAmount,
		TotalAmount:           a.TotalAmount,
		ClientNotes:           a.ClientNotes,
		BusinessNotes:         a.BusinessNotes,
		CancellationReason:    string(a.CancelReason),
		ActualDuration:        a.ActualDuration,
		OriginalAppointmentID: a.OriginalAppointmentID,
	}
	if a.ConfirmedAt != nil {
		v.ConfirmedAt = a.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	if a.CancelledAt != nil {
		v.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	if a.CompletedAt != nil {
		v.CompletedAt = a.CompletedAt.UTC().Format(time.RFC3339)
	}
	if a.RescheduledFrom != nil {
		v.RescheduledFrom = a.RescheduledFrom.UTC().Format(time.RFC3339)
	}
	if !a.CreatedAt.IsZero() {
		v.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return v
}

type bookRequest struct {
	ClientID     string `json:"client_id"`
	BusinessID   string `json:"business_id"`
	ServiceID    string `json:"service_id"`
	StaffID      string `json:"staff_id"`
	StartTime    string `json:"start_time"`
	ClientNotes  string `json:"client_notes"`
	ContactPhone string `json:"contact_phone"`
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = httpx.PrincipalFromContext(r.Context()).UserID
	}
	if clientID == "" || req.BusinessID == "" || req.ServiceID == "" {
		http.Error(w, "client_id, business_id, and service_id required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	if !start.After(h.now()) {
		http.Error(w, "start_time must be in the future", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Book(r.Context(), booking.BookRequest{
		ClientID:            clientID,
		BusinessID:          req.BusinessID,
		ServiceID:           req.ServiceID,
		StaffID:             strings.TrimSpace(req.StaffID),
		Start:               start,
		ClientNotes:         strings.TrimSpace(req.ClientNotes),
		ClientPhoneOverride: strings.TrimSpace(req.ContactPhone),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(appt))
}

type mutateRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
	Notes         string `json:"notes"`
	NewStartTime  string `json:"new_start_time"`
	ActualMinutes *int   `json:"actual_duration_minutes"`
	BusinessNotes string `json:"business_notes"`
	Override      bool   `json:"override"`
}

func decodeMutate(w http.ResponseWriter, r *http.Request) (mutateRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return mutateRequest{}, false
	}
	var req mutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return mutateRequest{}, false
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return mutateRequest{}, false
	}
	return req, true
}

func actorFor(r *http.Request) booking.Actor {
	if httpx.PrincipalFromContext(r.Context()).IsBusiness() {
		return booking.ActorBusiness
	}
	return booking.ActorClient
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutate(w, r)
	if !ok {
		return
	}
	appt, err := h.engine.Confirm(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

var validReasons = map[model.CancellationReason]bool{
	model.ReasonClientRequest:   true,
	model.ReasonBusinessRequest: true,
	model.ReasonEmergency:       true,
	model.ReasonIllness:         true,
	model.ReasonWeather:         true,
	model.ReasonNoShow:          true,
	model.ReasonOther:           true,
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutate(w, r)
	if !ok {
		return
	}
	actor := actorFor(r)
	reason := model.CancellationReason(strings.TrimSpace(req.Reason))
	if reason == "" {
		if actor == booking.ActorBusiness {
			reason = model.ReasonBusinessRequest
		} else {
			reason = model.ReasonClientRequest
		}
	}
	if !validReasons[reason] {
		http.Error(w, "invalid cancellation reason", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Cancel(r.Context(), req.AppointmentID, booking.CancelRequest{
		Reason:   reason,
		Notes:    strings.TrimSpace(req.Notes),
		Actor:    actor,
		Override: req.Override,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutate(w, r)
	if !ok {
		return
	}
	newStart, err := time.Parse(time.RFC3339, req.NewStartTime)
	if err != nil {
		http.Error(w, "invalid new_start_time", http.StatusBadRequest)
		return
	}
	if !newStart.After(h.now()) {
		http.Error(w, "new_start_time must be in the future", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Reschedule(r.Context(), req.AppointmentID, booking.RescheduleRequest{
		NewStart: newStart,
		Actor:    actorFor(r),
		Override: req.Override,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

func (h *BookingHandler) Start(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutate(w, r)
	if !ok {
		return
	}
	appt, err := h.engine.Start(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutate(w, r)
	if !ok {
		return
	}
	if req.ActualMinutes != nil && *req.ActualMinutes <= 0 {
		http.Error(w, "actual_duration_minutes must be positive", http.StatusBadRequest)
		return
	}
	appt, err := h.engine.Complete(r.Context(), req.AppointmentID, req.ActualMinutes)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

func (h *BookingHandler) Notes(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutate(w, r)
	if !ok {
		return
	}
	if !httpx.PrincipalFromContext(r.Context()).IsBusiness() {
		http.Error(w, "business role required", http.StatusForbidden)
		return
	}
	if err := h.repo.SetBusinessNotes(r.Context(), req.AppointmentID, strings.TrimSpace(req.BusinessNotes)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	appt, err := h.repo.Get(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

func (h *BookingHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	if code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}
	appt, err := h.repo.GetByConfirmationCode(r.Context(), code)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := httpx.PrincipalFromContext(r.Context()).BusinessID
	if businessID == "" {
		businessID = strings.TrimSpace(r.URL.Query().Get("business_id"))
	}
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	now := h.now()
	from := now.AddDate(0, 0, -30)
	to := now.AddDate(0, 0, 90)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
		to = t
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))

	appts, err := h.repo.ListByBusiness(r.Context(), businessID, from, to, status, queryLimit(r, 100, 500))
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, views(appts))
}

func (h *BookingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := httpx.PrincipalFromContext(r.Context()).UserID
	if clientID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	appts, err := h.repo.ListByClient(r.Context(), clientID, queryLimit(r, 50, 200))
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, views(appts))
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// slotsResponse distinguishes a closed or unconfigured day from an open day
// that happens to be fully booked.
type slotsResponse struct {
	Slots  []slotItem `json:"slots"`
	Closed bool       `json:"closed"`
}

func buildSlotsResponse(sched availability.DaySchedule, duration time.Duration, busy []timewindow.Interval, now time.Time) slotsResponse {
	resp := slotsResponse{Slots: []slotItem{}, Closed: !sched.Open}
	if resp.Closed {
		return resp
	}
	for _, s := range availability.Slots(sched, duration, availability.DefaultStep, busy, now) {
		resp.Slots = append(resp.Slots, slotItem{
			StartTime: s.UTC().Format(time.RFC3339),
			EndTime:   s.Add(duration).UTC().Format(time.RFC3339),
		})
	}
	return resp
}

// Slots returns the bookable start times for one business, service, and date.
// Advisory only: a listed slot can still be taken by the time the client books.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if businessID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "business_id, service_id, and date are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	loc, err := h.sched.BusinessTimezone(ctx, businessID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	svc, err := h.sched.GetService(ctx, businessID, serviceID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	duration := time.Duration(svc.DurationMinutes) * time.Minute

	sched, err := h.sched.DaySchedule(ctx, businessID, staffID, date, loc)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var busy []timewindow.Interval
	if sched.Open {
		booked, err := h.repo.ListOverlapping(ctx, businessID, staffID, sched.Window.Start, sched.Window.End, "")
		if err != nil {
			http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
			return
		}
		busy = make([]timewindow.Interval, 0, len(booked))
		for _, a := range booked {
			busy = append(busy, timewindow.Interval{Start: a.StartTime, End: a.EndTime()})
		}
	}
	writeJSON(w, http.StatusOK, buildSlotsResponse(sched, duration, busy, h.now()))
}

func (h *BookingHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := booking.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "not_found":
		status = http.StatusNotFound
	case "slot_unavailable", "invalid_transition", "already_terminal":
		status = http.StatusConflict
	case "cancellation_window_closed", "business_inactive":
		status = http.StatusUnprocessableEntity
	case "":
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  kind,
	})
}

func views(appts []model.Appointment) []appointmentView {
	out := make([]appointmentView, 0, len(appts))
	for _, a := range appts {
		out = append(out, viewOf(a))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryLimit(r *http.Request, def, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}
