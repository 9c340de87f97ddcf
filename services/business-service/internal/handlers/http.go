package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/STEPHANAS-SOFT/Bookora/libs/httpx"
	"github.com/STEPHANAS-SOFT/Bookora/services/business-service/internal/storage"
)

const minutesPerDay = 24 * 60

type Handler struct {
	repo *storage.Repository
}

func New(repo *storage.Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/businesses", h.CreateBusiness)
	mux.HandleFunc("/api/v1/businesses/profile", h.GetBusiness)
	mux.HandleFunc("/api/v1/businesses/active", h.SetActive)
	mux.HandleFunc("/api/v1/hours", h.Hours)
	mux.HandleFunc("/api/v1/services", h.Services)
	mux.HandleFunc("/api/v1/services/active", h.SetServiceActive)
	mux.HandleFunc("/api/v1/staff", h.Staff)
	mux.HandleFunc("/api/v1/staff/hours", h.StaffHours)
	mux.HandleFunc("/api/v1/staff/time-off", h.TimeOff)
}

func businessIDFrom(r *http.Request) string {
	if id := httpx.PrincipalFromContext(r.Context()).BusinessID; id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("business_id"))
}

func writeErr(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, fallback, http.StatusInternalServerError)
}

func (h *Handler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name     string `json:"name"`
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	ownerID := httpx.PrincipalFromContext(r.Context()).UserID
	if ownerID == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	id, err := h.repo.CreateBusiness(r.Context(), ownerID, req.Name, strings.TrimSpace(req.Timezone))
	if err != nil {
		http.Error(w, "invalid timezone or create failed", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"business_id": id})
}

func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := businessIDFrom(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	b, err := h.repo.GetBusiness(r.Context(), businessID)
	if err != nil {
		writeErr(w, err, "failed to load business")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"business_id": b.ID,
		"owner_id":    b.OwnerID,
		"name":        b.Name,
		"timezone":    b.Timezone,
		"is_active":   b.IsActive,
	})
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := businessIDFrom(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.repo.SetBusinessActive(r.Context(), businessID, req.Active); err != nil {
		writeErr(w, err, "failed to update business")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Hours(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFrom(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		hours, err := h.repo.ListHours(r.Context(), businessID)
		if err != nil {
			writeErr(w, err, "failed to list hours")
			return
		}
		_ = json.NewEncoder(w).Encode(hoursViews(hours))
	case http.MethodPut:
		var req struct {
			DayOfWeek        int  `json:"day_of_week"`
			OpenMinute       int  `json:"open_minute"`
			CloseMinute      int  `json:"close_minute"`
			BreakStartMinute *int `json:"break_start_minute"`
			BreakEndMinute   *int `json:"break_end_minute"`
			IsClosed         bool `json:"is_closed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.DayOfWeek < 0 || req.DayOfWeek > 6 {
			http.Error(w, "day_of_week must be 0 (Monday) through 6 (Sunday)", http.StatusBadRequest)
			return
		}
		if !req.IsClosed && !validWindow(req.OpenMinute, req.CloseMinute) {
			http.Error(w, "open_minute/close_minute invalid", http.StatusBadRequest)
			return
		}
		if (req.BreakStartMinute == nil) != (req.BreakEndMinute == nil) {
			http.Error(w, "break minutes must be set together", http.StatusBadRequest)
			return
		}
		if req.BreakStartMinute != nil {
			if !validWindow(*req.BreakStartMinute, *req.BreakEndMinute) ||
				*req.BreakStartMinute < req.OpenMinute || *req.BreakEndMinute > req.CloseMinute {
				http.Error(w, "break must sit inside open hours", http.StatusBadRequest)
				return
			}
		}
		err := h.repo.UpsertHours(r.Context(), businessID, storage.Hours{
			DayOfWeek:        req.DayOfWeek,
			OpenMinute:       req.OpenMinute,
			CloseMinute:      req.CloseMinute,
			BreakStartMinute: req.BreakStartMinute,
			BreakEndMinute:   req.BreakEndMinute,
			IsClosed:         req.IsClosed,
		})
		if err != nil {
			writeErr(w, err, "failed to save hours")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func validWindow(start, end int) bool {
	return start >= 0 && end <= minutesPerDay && start < end
}

func hoursViews(hours []storage.Hours) []map[string]any {
	out := make([]map[string]any, 0, len(hours))
	for _, h := range hours {
		v := map[string]any{
			"day_of_week":  h.DayOfWeek,
			"open_minute":  h.OpenMinute,
			"close_minute": h.CloseMinute,
			"is_closed":    h.IsClosed,
		}
		if h.BreakStartMinute != nil {
			v["break_start_minute"] = *h.BreakStartMinute
			v["break_end_minute"] = *h.BreakEndMinute
		}
		out = append(out, v)
	}
	return out
}

func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFrom(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		services, err := h.repo.ListServices(r.Context(), businessID, limitParam(r))
		if err != nil {
			writeErr(w, err, "failed to list services")
			return
		}
		out := make([]map[string]any, 0, len(services))
		for _, s := range services {
			out = append(out, map[string]any{
				"service_id":       s.ID,
				"name":             s.Name,
				"description":      s.Description,
				"duration_minutes": s.DurationMinutes,
				"price":            s.Price,
				"deposit_amount":   s.DepositAmount,
				"is_active":        s.IsActive,
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPost:
		var req struct {
			Name            string `json:"name"`
			Description     string `json:"description"`
			DurationMinutes int    `json:"duration_minutes"`
			Price           string `json:"price"`
			DepositAmount   string `json:"deposit_amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || req.DurationMinutes <= 0 || req.DurationMinutes > 8*60 {
			http.Error(w, "name and a duration between 1 and 480 minutes required", http.StatusBadRequest)
			return
		}
		id, err := h.repo.CreateService(r.Context(), storage.Service{
			BusinessID:      businessID,
			Name:            req.Name,
			Description:     strings.TrimSpace(req.Description),
			DurationMinutes: req.DurationMinutes,
			Price:           strings.TrimSpace(req.Price),
			DepositAmount:   strings.TrimSpace(req.DepositAmount),
		})
		if err != nil {
			writeErr(w, err, "failed to create service")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"service_id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) SetServiceActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := businessIDFrom(r)
	var req struct {
		ServiceID string `json:"service_id"`
		Active    bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if businessID == "" || strings.TrimSpace(req.ServiceID) == "" {
		http.Error(w, "business_id and service_id required", http.StatusBadRequest)
		return
	}
	if err := h.repo.SetServiceActive(r.Context(), businessID, req.ServiceID, req.Active); err != nil {
		writeErr(w, err, "failed to update service")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Staff(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFrom(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		staff, err := h.repo.ListStaff(r.Context(), businessID, limitParam(r))
		if err != nil {
			writeErr(w, err, "failed to list staff")
			return
		}
		out := make([]map[string]any, 0, len(staff))
		for _, s := range staff {
			out = append(out, map[string]any{
				"staff_id":  s.ID,
				"name":      s.Name,
				"is_active": s.IsActive,
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		id, err := h.repo.CreateStaff(r.Context(), businessID, req.Name)
		if err != nil {
			writeErr(w, err, "failed to create staff")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"staff_id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) StaffHours(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFrom(r)
	staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
	if businessID == "" || staffID == "" {
		http.Error(w, "business_id and staff_id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		hours, err := h.repo.ListWorkingHours(r.Context(), businessID, staffID)
		if err != nil {
			writeErr(w, err, "failed to list working hours")
			return
		}
		out := make([]map[string]any, 0, len(hours))
		for _, wh := range hours {
			out = append(out, map[string]any{
				"day_of_week":  wh.DayOfWeek,
				"is_working":   wh.IsWorking,
				"start_minute": wh.StartMinute,
				"end_minute":   wh.EndMinute,
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPut:
		var req struct {
			DayOfWeek   int  `json:"day_of_week"`
			IsWorking   bool `json:"is_working"`
			StartMinute int  `json:"start_minute"`
			EndMinute   int  `json:"end_minute"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.DayOfWeek < 0 || req.DayOfWeek > 6 {
			http.Error(w, "day_of_week must be 0 (Monday) through 6 (Sunday)", http.StatusBadRequest)
			return
		}
		if req.IsWorking && !validWindow(req.StartMinute, req.EndMinute) {
			http.Error(w, "start_minute/end_minute invalid", http.StatusBadRequest)
			return
		}
		err := h.repo.UpsertWorkingHours(r.Context(), businessID, storage.WorkingHours{
			StaffID:     staffID,
			DayOfWeek:   req.DayOfWeek,
			IsWorking:   req.IsWorking,
			StartMinute: req.StartMinute,
			EndMinute:   req.EndMinute,
		})
		if err != nil {
			writeErr(w, err, "failed to save working hours")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) TimeOff(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFrom(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
		if staffID == "" {
			http.Error(w, "staff_id required", http.StatusBadRequest)
			return
		}
		now := time.Now().UTC()
		entries, err := h.repo.ListTimeOff(r.Context(), businessID, staffID, now.AddDate(0, -1, 0), now.AddDate(1, 0, 0), limitParam(r))
		if err != nil {
			writeErr(w, err, "failed to list time off")
			return
		}
		out := make([]map[string]any, 0, len(entries))
		for _, t := range entries {
			out = append(out, map[string]any{
				"time_off_id": t.ID,
				"staff_id":    t.StaffID,
				"start_time":  t.StartTime.UTC().Format(time.RFC3339),
				"end_time":    t.EndTime.UTC().Format(time.RFC3339),
				"reason":      t.Reason,
				"status":      t.Status,
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPost:
		var req struct {
			StaffID   string `json:"staff_id"`
			StartTime string `json:"start_time"`
			EndTime   string `json:"end_time"`
			Reason    string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			http.Error(w, "invalid start_time", http.StatusBadRequest)
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil || !end.After(start) {
			http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
			return
		}
		id, err := h.repo.CreateTimeOff(r.Context(), businessID, strings.TrimSpace(req.StaffID), start, end, strings.TrimSpace(req.Reason))
		if err != nil {
			writeErr(w, err, "failed to create time off")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"time_off_id": id})
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			http.Error(w, "id required", http.StatusBadRequest)
			return
		}
		if err := h.repo.DeleteTimeOff(r.Context(), businessID, id); err != nil {
			writeErr(w, err, "failed to delete time off")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func limitParam(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return 0
	}
	return n
}
