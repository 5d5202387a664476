package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vkovalenko/groomly/libs/telegram"
	"github.com/vkovalenko/groomly/services/salon-service/internal/storage"
)

// Store is implemented by storage.Repository; faked in tests.
type Store interface {
	GetOrCreateMaster(ctx context.Context, telegramID int64, username, fullName string) (storage.MasterProfile, error)
	UpdateMasterProfile(ctx context.Context, telegramID int64, u storage.ProfileUpdate) error
	ListServices(ctx context.Context, masterID int64) ([]storage.Service, error)
	CreateService(ctx context.Context, masterID int64, name, description string, price float64, durationMinutes int) (int64, error)
	UpdateService(ctx context.Context, masterID, serviceID int64, name, description string, price float64, durationMinutes int) error
	DeactivateService(ctx context.Context, masterID, serviceID int64) error
	ListWorkingHours(ctx context.Context, masterID int64) ([]storage.WorkingHourRule, error)
	ReplaceWorkingHours(ctx context.Context, masterID int64, rules []storage.WorkingHourRule) error
	IsMasterPremium(ctx context.Context, masterID int64) (bool, error)
}

type Handler struct {
	repo   Store
	logger *slog.Logger
}

func New(repo Store, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func caller(w http.ResponseWriter, r *http.Request) (*telegram.User, bool) {
	u, ok := telegram.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return u, true
}

type profilePayload struct {
	MasterID    int64  `json:"master_id"`
	Username    string `json:"username,omitempty"`
	FullName    string `json:"full_name"`
	SalonName   string `json:"salon_name"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Timezone    string `json:"timezone"`
	IsPremium   bool   `json:"is_premium"`
}

// GetProfile registers the master on first verified login, so the WebApp
// never sees "profile not found" for its own owner.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	p, err := h.repo.GetOrCreateMaster(r.Context(), user.ID, user.Username, user.DisplayName())
	if err != nil {
		h.logger.Error("get or create master failed", "err", err)
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profilePayload{
		MasterID:    p.TelegramID,
		Username:    p.Username,
		FullName:    p.FullName,
		SalonName:   p.SalonName,
		Phone:       p.Phone,
		Address:     p.Address,
		Description: p.Description,
		AvatarURL:   p.AvatarURL,
		Timezone:    p.Timezone,
		IsPremium:   p.IsPremium,
	})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		SalonName   string `json:"salon_name"`
		FullName    string `json:"full_name"`
		Phone       string `json:"phone"`
		Address     string `json:"address"`
		Description string `json:"description"`
		AvatarURL   string `json:"avatar_url"`
		Timezone    string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone == "" {
		req.Timezone = "Asia/Almaty"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}

	err := h.repo.UpdateMasterProfile(r.Context(), user.ID, storage.ProfileUpdate{
		SalonName:   strings.TrimSpace(req.SalonName),
		FullName:    strings.TrimSpace(req.FullName),
		Phone:       strings.TrimSpace(req.Phone),
		Address:     strings.TrimSpace(req.Address),
		Description: strings.TrimSpace(req.Description),
		AvatarURL:   strings.TrimSpace(req.AvatarURL),
		Timezone:    req.Timezone,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update profile", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type serviceRequest struct {
	ID              int64   `json:"id,omitempty"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration_minutes"`
}

type servicePayload struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration_minutes"`
	IsActive        bool    `json:"is_active"`
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	services, err := h.repo.ListServices(r.Context(), user.ID)
	if err != nil {
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}
	items := make([]servicePayload, 0, len(services))
	for _, s := range services {
		items = append(items, servicePayload{
			ID:              s.ID,
			Name:            s.Name,
			Description:     s.Description,
			Price:           s.Price,
			DurationMinutes: s.DurationMinutes,
			IsActive:        s.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func validServiceInput(req serviceRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name required")
	}
	if req.DurationMinutes <= 0 || req.DurationMinutes > 8*60 {
		return errors.New("duration_minutes must be between 1 and 480")
	}
	if req.Price < 0 {
		return errors.New("price must not be negative")
	}
	return nil
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := validServiceInput(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateService(r.Context(), user.ID, strings.TrimSpace(req.Name), strings.TrimSpace(req.Description), req.Price, req.DurationMinutes)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrServiceLimit):
			http.Error(w, fmt.Sprintf("active service limit (%d) reached, upgrade to premium", storage.FreeActiveServiceLimit), http.StatusPaymentRequired)
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "profile not found", http.StatusNotFound)
		default:
			http.Error(w, "failed to create service", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.ID <= 0 {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if err := validServiceInput(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.repo.UpdateService(r.Context(), user.ID, req.ID, strings.TrimSpace(req.Name), strings.TrimSpace(req.Description), req.Price, req.DurationMinutes)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update service", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("id")), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	if err := h.repo.DeactivateService(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete service", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type workingHourItem struct {
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SlotMinutes int    `json:"slot_minutes"`
}

func (h *Handler) ListWorkingHours(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	rules, err := h.repo.ListWorkingHours(r.Context(), user.ID)
	if err != nil {
		http.Error(w, "failed to list working hours", http.StatusInternalServerError)
		return
	}
	items := make([]workingHourItem, 0, len(rules))
	for _, rule := range rules {
		items = append(items, workingHourItem{
			DayOfWeek:   rule.DayOfWeek,
			StartTime:   minuteClock(rule.StartMinute),
			EndTime:     minuteClock(rule.EndMinute),
			SlotMinutes: rule.SlotMinutes,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// ReplaceWorkingHours takes the full week and swaps it atomically. Days
// absent from the payload become days off. Non-premium masters get their
// slot granularity pinned to 30 minutes regardless of the requested value.
func (h *Handler) ReplaceWorkingHours(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req []workingHourItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	isPremium, err := h.repo.IsMasterPremium(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}

	seen := make(map[int]bool, len(req))
	rules := make([]storage.WorkingHourRule, 0, len(req))
	for _, item := range req {
		if item.DayOfWeek < 1 || item.DayOfWeek > 7 {
			http.Error(w, "day_of_week must be 1..7", http.StatusBadRequest)
			return
		}
		if seen[item.DayOfWeek] {
			http.Error(w, "duplicate day_of_week", http.StatusBadRequest)
			return
		}
		seen[item.DayOfWeek] = true

		start, err := clockMinute(item.StartTime)
		if err != nil {
			http.Error(w, "invalid start_time", http.StatusBadRequest)
			return
		}
		end, err := clockMinute(item.EndTime)
		if err != nil {
			http.Error(w, "invalid end_time", http.StatusBadRequest)
			return
		}
		if end <= start {
			http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
			return
		}

		slotMinutes := item.SlotMinutes
		if slotMinutes <= 0 || slotMinutes > 240 {
			http.Error(w, "slot_minutes must be between 1 and 240", http.StatusBadRequest)
			return
		}
		if !isPremium {
			slotMinutes = 30
		}

		rules = append(rules, storage.WorkingHourRule{
			DayOfWeek:   item.DayOfWeek,
			StartMinute: start,
			EndMinute:   end,
			SlotMinutes: slotMinutes,
		})
	}

	if err := h.repo.ReplaceWorkingHours(r.Context(), user.ID, rules); err != nil {
		http.Error(w, "failed to update working hours", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func clockMinute(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func minuteClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
