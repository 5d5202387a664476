package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vkovalenko/groomly/libs/telegram"
	"github.com/vkovalenko/groomly/services/salon-service/internal/storage"
)

type fakeStore struct {
	profile      storage.MasterProfile
	updated      *storage.ProfileUpdate
	services     []storage.Service
	createErr    error
	createdID    int64
	rules        []storage.WorkingHourRule
	replaced     []storage.WorkingHourRule
	premium      bool
	premiumErr   error
	deactivated  int64
	deactivateErr error
}

func (f *fakeStore) GetOrCreateMaster(ctx context.Context, telegramID int64, username, fullName string) (storage.MasterProfile, error) {
	if f.profile.TelegramID == 0 {
		f.profile = storage.MasterProfile{TelegramID: telegramID, Username: username, FullName: fullName, Timezone: "Asia/Almaty"}
	}
	return f.profile, nil
}

func (f *fakeStore) UpdateMasterProfile(ctx context.Context, telegramID int64, u storage.ProfileUpdate) error {
	f.updated = &u
	return nil
}

func (f *fakeStore) ListServices(ctx context.Context, masterID int64) ([]storage.Service, error) {
	return f.services, nil
}

func (f *fakeStore) CreateService(ctx context.Context, masterID int64, name, description string, price float64, durationMinutes int) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	if f.createdID == 0 {
		f.createdID = 1
	}
	return f.createdID, nil
}

func (f *fakeStore) UpdateService(ctx context.Context, masterID, serviceID int64, name, description string, price float64, durationMinutes int) error {
	return nil
}

func (f *fakeStore) DeactivateService(ctx context.Context, masterID, serviceID int64) error {
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	f.deactivated = serviceID
	return nil
}

func (f *fakeStore) ListWorkingHours(ctx context.Context, masterID int64) ([]storage.WorkingHourRule, error) {
	return f.rules, nil
}

func (f *fakeStore) ReplaceWorkingHours(ctx context.Context, masterID int64, rules []storage.WorkingHourRule) error {
	f.replaced = rules
	return nil
}

func (f *fakeStore) IsMasterPremium(ctx context.Context, masterID int64) (bool, error) {
	if f.premiumErr != nil {
		return false, f.premiumErr
	}
	return f.premium, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func authed(method, target string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	u := &telegram.User{ID: 42, Username: "groomer", FirstName: "Dana"}
	return r.WithContext(telegram.ContextWithUser(r.Context(), u))
}

func TestGetProfileRegistersOnFirstLogin(t *testing.T) {
	store := &fakeStore{}
	h := New(store, testLogger())

	rec := httptest.NewRecorder()
	h.GetProfile(rec, authed(http.MethodGet, "/api/v1/salon/profile", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp profilePayload
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MasterID != 42 || resp.Timezone != "Asia/Almaty" {
		t.Fatalf("unexpected profile: %+v", resp)
	}
}

func TestGetProfileUnauthorized(t *testing.T) {
	h := New(&fakeStore{}, testLogger())

	rec := httptest.NewRecorder()
	h.GetProfile(rec, httptest.NewRequest(http.MethodGet, "/api/v1/salon/profile", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestUpdateProfileRejectsBadTimezone(t *testing.T) {
	h := New(&fakeStore{}, testLogger())

	body, _ := json.Marshal(map[string]string{"timezone": "Mars/Olympus"})
	rec := httptest.NewRecorder()
	h.UpdateProfile(rec, authed(http.MethodPut, "/api/v1/salon/profile", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateProfileOK(t *testing.T) {
	store := &fakeStore{}
	h := New(store, testLogger())

	body, _ := json.Marshal(map[string]string{
		"salon_name": "Pushistik",
		"timezone":   "UTC",
	})
	rec := httptest.NewRecorder()
	h.UpdateProfile(rec, authed(http.MethodPut, "/api/v1/salon/profile", body))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	if store.updated == nil || store.updated.SalonName != "Pushistik" || store.updated.Timezone != "UTC" {
		t.Fatalf("unexpected update: %+v", store.updated)
	}
}

func TestCreateServiceLimit(t *testing.T) {
	h := New(&fakeStore{createErr: storage.ErrServiceLimit}, testLogger())

	body, _ := json.Marshal(serviceRequest{Name: "Trim", Price: 5000, DurationMinutes: 60})
	rec := httptest.NewRecorder()
	h.CreateService(rec, authed(http.MethodPost, "/api/v1/salon/services", body))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
}

func TestCreateServiceValidation(t *testing.T) {
	h := New(&fakeStore{}, testLogger())

	cases := []serviceRequest{
		{Name: "", Price: 100, DurationMinutes: 60},
		{Name: "Trim", Price: 100, DurationMinutes: 0},
		{Name: "Trim", Price: -1, DurationMinutes: 60},
	}
	for _, req := range cases {
		body, _ := json.Marshal(req)
		rec := httptest.NewRecorder()
		h.CreateService(rec, authed(http.MethodPost, "/api/v1/salon/services", body))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("req %+v: status = %d, want 400", req, rec.Code)
		}
	}
}

func TestCreateServiceOK(t *testing.T) {
	h := New(&fakeStore{createdID: 9}, testLogger())

	body, _ := json.Marshal(serviceRequest{Name: "Full groom", Price: 12000, DurationMinutes: 90})
	rec := httptest.NewRecorder()
	h.CreateService(rec, authed(http.MethodPost, "/api/v1/salon/services", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteService(t *testing.T) {
	store := &fakeStore{}
	h := New(store, testLogger())

	rec := httptest.NewRecorder()
	h.DeleteService(rec, authed(http.MethodDelete, "/api/v1/salon/services?id=7", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if store.deactivated != 7 {
		t.Fatalf("deactivated = %d, want 7", store.deactivated)
	}
}

func TestReplaceWorkingHoursForcesNonPremiumGranularity(t *testing.T) {
	store := &fakeStore{premium: false}
	h := New(store, testLogger())

	body, _ := json.Marshal([]workingHourItem{
		{DayOfWeek: 1, StartTime: "10:00", EndTime: "18:00", SlotMinutes: 60},
		{DayOfWeek: 2, StartTime: "09:00", EndTime: "13:30", SlotMinutes: 15},
	})
	rec := httptest.NewRecorder()
	h.ReplaceWorkingHours(rec, authed(http.MethodPut, "/api/v1/salon/working-hours", body))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	if len(store.replaced) != 2 {
		t.Fatalf("replaced %d rules, want 2", len(store.replaced))
	}
	for _, rule := range store.replaced {
		if rule.SlotMinutes != 30 {
			t.Fatalf("slot_minutes = %d, want 30 for non-premium", rule.SlotMinutes)
		}
	}
	if store.replaced[0].StartMinute != 600 || store.replaced[0].EndMinute != 1080 {
		t.Fatalf("unexpected minutes: %+v", store.replaced[0])
	}
}

func TestReplaceWorkingHoursKeepsPremiumGranularity(t *testing.T) {
	store := &fakeStore{premium: true}
	h := New(store, testLogger())

	body, _ := json.Marshal([]workingHourItem{
		{DayOfWeek: 6, StartTime: "10:00", EndTime: "16:00", SlotMinutes: 60},
	})
	rec := httptest.NewRecorder()
	h.ReplaceWorkingHours(rec, authed(http.MethodPut, "/api/v1/salon/working-hours", body))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if store.replaced[0].SlotMinutes != 60 {
		t.Fatalf("slot_minutes = %d, want 60 for premium", store.replaced[0].SlotMinutes)
	}
}

func TestReplaceWorkingHoursValidation(t *testing.T) {
	h := New(&fakeStore{}, testLogger())

	cases := []struct {
		name  string
		items []workingHourItem
	}{
		{"bad day", []workingHourItem{{DayOfWeek: 0, StartTime: "10:00", EndTime: "18:00", SlotMinutes: 30}}},
		{"duplicate day", []workingHourItem{
			{DayOfWeek: 1, StartTime: "10:00", EndTime: "18:00", SlotMinutes: 30},
			{DayOfWeek: 1, StartTime: "10:00", EndTime: "12:00", SlotMinutes: 30},
		}},
		{"end before start", []workingHourItem{{DayOfWeek: 1, StartTime: "18:00", EndTime: "10:00", SlotMinutes: 30}}},
		{"bad clock", []workingHourItem{{DayOfWeek: 1, StartTime: "25:00", EndTime: "26:00", SlotMinutes: 30}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, _ := json.Marshal(tc.items)
			rec := httptest.NewRecorder()
			h.ReplaceWorkingHours(rec, authed(http.MethodPut, "/api/v1/salon/working-hours", body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestListWorkingHoursRendersClock(t *testing.T) {
	store := &fakeStore{rules: []storage.WorkingHourRule{
		{DayOfWeek: 1, StartMinute: 600, EndMinute: 1080, SlotMinutes: 30},
	}}
	h := New(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListWorkingHours(rec, authed(http.MethodGet, "/api/v1/salon/working-hours", nil))
	var items []workingHourItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].StartTime != "10:00" || items[0].EndTime != "18:00" {
		t.Fatalf("unexpected items: %+v", items)
	}
}
