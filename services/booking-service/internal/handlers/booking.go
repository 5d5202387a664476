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

	"github.com/google/uuid"
	"github.com/vkovalenko/groomly/libs/telegram"
	"github.com/vkovalenko/groomly/services/booking-service/internal/availability"
	"github.com/vkovalenko/groomly/services/booking-service/internal/model"
	"github.com/vkovalenko/groomly/services/booking-service/internal/outbox"
	"github.com/vkovalenko/groomly/services/booking-service/internal/storage"
)

type BookingHandler struct {
	catalog  CatalogStore
	booking  BookingStore
	notifier telegram.Sender
	logger   *slog.Logger
	now      func() time.Time
}

func NewBookingHandler(catalog CatalogStore, booking BookingStore, notifier telegram.Sender, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		catalog:  catalog,
		booking:  booking,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

type createAppointmentRequest struct {
	MasterID    int64  `json:"master_id"`
	ServiceID   int64  `json:"service_id"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	PetName     string `json:"pet_name"`
	PetBreed    string `json:"pet_breed"`
	Comment     string `json:"comment"`
	StartsAt    string `json:"starts_at"`
}

type createAppointmentResponse struct {
	AppointmentID int64  `json:"appointment_id"`
	Status        string `json:"status"`
	StartsAt      string `json:"starts_at"`
}

type statusChangeRequest struct {
	AppointmentID int64 `json:"appointment_id"`
}

type appointmentItem struct {
	ID          int64  `json:"id"`
	ServiceID   int64  `json:"service_id"`
	ServiceName string `json:"service_name,omitempty"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	PetName     string `json:"pet_name"`
	PetBreed    string `json:"pet_breed,omitempty"`
	Comment     string `json:"comment,omitempty"`
	StartsAt    string `json:"starts_at"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// Create books a slot for the calling Telegram user. There is no availability
// pre-check here: the partial unique index on (master_id, starts_at) decides
// concurrent requests, and the loser gets a 409.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	client, ok := telegram.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientPhone = strings.TrimSpace(req.ClientPhone)
	req.PetName = strings.TrimSpace(req.PetName)
	if req.MasterID <= 0 || req.ServiceID <= 0 || req.ClientName == "" || req.ClientPhone == "" || req.PetName == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	startsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartsAt))
	if err != nil {
		http.Error(w, "invalid starts_at", http.StatusBadRequest)
		return
	}
	if !startsAt.After(h.now()) {
		http.Error(w, "starts_at must be in the future", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	master, err := h.catalog.GetMaster(ctx, req.MasterID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "master not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load master", http.StatusInternalServerError)
		return
	}
	svc, err := h.catalog.GetActiveService(ctx, req.MasterID, req.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "unknown or inactive service", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	appt := &model.Appointment{
		MasterID:       req.MasterID,
		ServiceID:      req.ServiceID,
		ClientID:       client.ID,
		ClientUsername: client.Username,
		ClientName:     req.ClientName,
		ClientPhone:    req.ClientPhone,
		PetName:        req.PetName,
		PetBreed:       strings.TrimSpace(req.PetBreed),
		Comment:        strings.TrimSpace(req.Comment),
		StartsAt:       startsAt.UTC(),
		Status:         model.StatusPending,
		IdempotencyKey: idempotencyKey,
		ServiceName:    svc.Name,
		ServicePrice:   svc.Price,
	}

	evt, err := appointmentEvent(outbox.EventAppointmentBooked, appt, svc.Name)
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	id, err := h.booking.CreateAppointment(ctx, appt, evt)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		h.logger.Error("create appointment failed", "err", err)
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}
	appt.ID = id

	// The booking is committed; the Telegram ping to the master is best
	// effort and must not delay or fail the response.
	go h.notifyMaster(master, appt, svc.Name)

	writeJSON(w, http.StatusCreated, createAppointmentResponse{
		AppointmentID: id,
		Status:        appt.Status,
		StartsAt:      appt.StartsAt.In(availability.Location(master.Timezone)).Format(time.RFC3339),
	})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	master, ok := telegram.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	appts, err := h.booking.ListByMaster(r.Context(), master.ID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, appointmentItem{
			ID:          a.ID,
			ServiceID:   a.ServiceID,
			ServiceName: a.ServiceName,
			ClientName:  a.ClientName,
			ClientPhone: a.ClientPhone,
			PetName:     a.PetName,
			PetBreed:    a.PetBreed,
			Comment:     a.Comment,
			StartsAt:    a.StartsAt.UTC().Format(time.RFC3339),
			Status:      a.Status,
			CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// Confirm, Cancel and Complete are the master-side lifecycle transitions.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, model.StatusConfirmed, outbox.EventAppointmentConfirmed)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, model.StatusCancelled, outbox.EventAppointmentCancelled)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, model.StatusCompleted, outbox.EventAppointmentCompleted)
}

func (h *BookingHandler) changeStatus(w http.ResponseWriter, r *http.Request, newStatus, eventType string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	master, ok := telegram.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req statusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID <= 0 {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	appt, err := h.booking.GetAppointment(ctx, master.ID, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	evt, err := appointmentEvent(eventType, &appt, appt.ServiceName)
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.booking.UpdateStatus(ctx, master.ID, req.AppointmentID, newStatus, evt); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			http.Error(w, "status transition not allowed", http.StatusConflict)
			return
		}
		h.logger.Error("status change failed", "err", err, "appointment_id", req.AppointmentID)
		http.Error(w, "failed to update appointment", http.StatusInternalServerError)
		return
	}
	appt.Status = newStatus

	if newStatus == model.StatusConfirmed || newStatus == model.StatusCancelled {
		go h.notifyClient(&appt)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"appointment_id": appt.ID,
		"status":         newStatus,
	})
}

func (h *BookingHandler) notifyMaster(master model.Master, appt *model.Appointment, serviceName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	local := appt.StartsAt.In(availability.Location(master.Timezone))
	text := fmt.Sprintf(
		"<b>New booking</b>\n%s at %s\nClient: %s (%s)\nPet: %s",
		telegram.EscapeHTML(serviceName), local.Format("02.01.2006 15:04"),
		telegram.EscapeHTML(appt.ClientName), telegram.EscapeHTML(appt.ClientPhone),
		telegram.EscapeHTML(appt.PetName),
	)
	if err := h.notifier.Send(ctx, master.TelegramID, text); err != nil {
		h.logger.Warn("master notification failed", "err", err, "appointment_id", appt.ID)
	}
}

func (h *BookingHandler) notifyClient(appt *model.Appointment) {
	if appt.ClientID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var text string
	switch appt.Status {
	case model.StatusConfirmed:
		text = fmt.Sprintf("Your booking for %s is <b>confirmed</b>.", appt.StartsAt.UTC().Format("02.01.2006 15:04"))
	case model.StatusCancelled:
		text = fmt.Sprintf("Your booking for %s was <b>cancelled</b>.", appt.StartsAt.UTC().Format("02.01.2006 15:04"))
	default:
		return
	}
	if err := h.notifier.Send(ctx, appt.ClientID, text); err != nil {
		h.logger.Warn("client notification failed", "err", err, "appointment_id", appt.ID)
	}
}

func appointmentEvent(eventType string, appt *model.Appointment, serviceName string) (outbox.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"master_id":      appt.MasterID,
		"service_id":     appt.ServiceID,
		"service_name":   serviceName,
		"price":          appt.ServicePrice,
		"client_id":      appt.ClientID,
		"starts_at":      appt.StartsAt.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   strconv.FormatInt(appt.MasterID, 10),
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
