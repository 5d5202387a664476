package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vkovalenko/groomly/services/booking-service/internal/availability"
	"github.com/vkovalenko/groomly/services/booking-service/internal/model"
	"github.com/vkovalenko/groomly/services/booking-service/internal/outbox"
	"github.com/vkovalenko/groomly/services/booking-service/internal/storage"
)

// CatalogStore is the read surface the public handlers need. Implemented by
// storage.CatalogRepository; faked in tests.
type CatalogStore interface {
	GetMaster(ctx context.Context, masterID int64) (model.Master, error)
	ListActiveServices(ctx context.Context, masterID int64) ([]model.Service, error)
	GetActiveService(ctx context.Context, masterID, serviceID int64) (model.Service, error)
	ListWorkingHours(ctx context.Context, masterID int64) ([]model.WorkingHourRule, error)
	GetWorkingHourRule(ctx context.Context, masterID int64, isoWeekday int) (model.WorkingHourRule, error)
}

// BookingStore is the write surface. Implemented by storage.BookingRepository.
type BookingStore interface {
	ListBusyIntervals(ctx context.Context, masterID int64, dayStartUTC, dayEndUTC time.Time) ([]storage.BusyInterval, error)
	CreateAppointment(ctx context.Context, appt *model.Appointment, evt outbox.Event) (int64, error)
	GetAppointment(ctx context.Context, masterID, appointmentID int64) (model.Appointment, error)
	ListByMaster(ctx context.Context, masterID int64, limit int) ([]model.Appointment, error)
	UpdateStatus(ctx context.Context, masterID, appointmentID int64, newStatus string, evt outbox.Event) error
}

type PublicHandler struct {
	catalog CatalogStore
	booking BookingStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewPublicHandler(catalog CatalogStore, booking BookingStore, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		catalog: catalog,
		booking: booking,
		logger:  logger,
		now:     time.Now,
	}
}

type profileResponse struct {
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

type serviceItem struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration_minutes"`
}

type scheduleItem struct {
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SlotMinutes int    `json:"slot_minutes"`
}

type slotsResponse struct {
	Date     string   `json:"date"`
	Timezone string   `json:"timezone"`
	Slots    []string `json:"slots"`
}

func masterIDParam(r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("master_id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *PublicHandler) Profile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	masterID, ok := masterIDParam(r)
	if !ok {
		http.Error(w, "master_id required", http.StatusBadRequest)
		return
	}

	m, err := h.catalog.GetMaster(r.Context(), masterID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "master not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		MasterID:    m.TelegramID,
		Username:    m.Username,
		FullName:    m.FullName,
		SalonName:   m.SalonName,
		Phone:       m.Phone,
		Address:     m.Address,
		Description: m.Description,
		AvatarURL:   m.AvatarURL,
		Timezone:    m.Timezone,
		IsPremium:   m.IsPremium,
	})
}

func (h *PublicHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	masterID, ok := masterIDParam(r)
	if !ok {
		http.Error(w, "master_id required", http.StatusBadRequest)
		return
	}

	services, err := h.catalog.ListActiveServices(r.Context(), masterID)
	if err != nil {
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}

	items := make([]serviceItem, 0, len(services))
	for _, s := range services {
		items = append(items, serviceItem{
			ID:              s.ID,
			Name:            s.Name,
			Description:     s.Description,
			Price:           s.Price,
			DurationMinutes: s.DurationMinutes,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *PublicHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	masterID, ok := masterIDParam(r)
	if !ok {
		http.Error(w, "master_id required", http.StatusBadRequest)
		return
	}

	rules, err := h.catalog.ListWorkingHours(r.Context(), masterID)
	if err != nil {
		http.Error(w, "failed to list working hours", http.StatusInternalServerError)
		return
	}

	items := make([]scheduleItem, 0, len(rules))
	for _, rule := range rules {
		items = append(items, scheduleItem{
			DayOfWeek:   rule.DayOfWeek,
			StartTime:   minuteClock(rule.StartMinute),
			EndTime:     minuteClock(rule.EndMinute),
			SlotMinutes: rule.SlotMinutes,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// Slots answers "which start times are bookable for this service on this
// date". The result is advisory: the booking insert is the only arbiter.
func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	masterID, ok := masterIDParam(r)
	if !ok {
		http.Error(w, "master_id required", http.StatusBadRequest)
		return
	}
	serviceID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("service_id")), 10, 64)
	if err != nil || serviceID <= 0 {
		http.Error(w, "service_id required", http.StatusBadRequest)
		return
	}
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	master, err := h.catalog.GetMaster(ctx, masterID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "master not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load master", http.StatusInternalServerError)
		return
	}
	svc, err := h.catalog.GetActiveService(ctx, masterID, serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}

	loc := availability.Location(master.Timezone)
	resp := slotsResponse{Date: dateStr, Timezone: master.Timezone, Slots: []string{}}

	rule, err := h.catalog.GetWorkingHourRule(ctx, masterID, availability.ISOWeekday(date.Weekday()))
	if err != nil {
		if storage.IsNotFound(err) {
			// Day off: an empty list, not an error.
			writeJSON(w, http.StatusOK, resp)
			return
		}
		http.Error(w, "failed to load working hours", http.StatusInternalServerError)
		return
	}

	slotMinutes := rule.SlotMinutes
	if !master.IsPremium {
		slotMinutes = availability.DefaultSlotMinutes
	}

	dayStart, dayEnd := availability.DayBounds(date, loc)
	busy, err := h.booking.ListBusyIntervals(ctx, masterID, dayStart, dayEnd)
	if err != nil {
		http.Error(w, "failed to load busy intervals", http.StatusInternalServerError)
		return
	}

	intervals := make([]availability.Interval, 0, len(busy))
	for _, b := range busy {
		intervals = append(intervals, availability.Interval{
			Start: b.StartsAt,
			End:   b.StartsAt.Add(time.Duration(b.DurationMinutes) * time.Minute),
		})
	}

	starts := availability.Slots(
		date,
		loc,
		availability.Rule{
			Weekday:     rule.DayOfWeek,
			StartMinute: rule.StartMinute,
			EndMinute:   rule.EndMinute,
			SlotMinutes: slotMinutes,
		},
		time.Duration(svc.DurationMinutes)*time.Minute,
		intervals,
		h.now(),
	)
	for _, s := range starts {
		resp.Slots = append(resp.Slots, s.In(loc).Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, resp)
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
