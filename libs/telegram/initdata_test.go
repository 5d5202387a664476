package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

const testBotToken = "12345:test-token"

func signedInitData(t *testing.T, user User, authDate time.Time) string {
	t.Helper()
	userJSON, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	return Sign(testBotToken, map[string]string{
		"user":      string(userJSON),
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
		"query_id":  "AAF9tW1TAAAAAH21bVOCW8Ly",
	})
}

func TestValidate_Accepts(t *testing.T) {
	v := NewValidator(testBotToken, 0)
	initData := signedInitData(t, User{ID: 99, Username: "masha", FirstName: "Maria"}, time.Now())

	user, err := v.Validate(initData)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if user.ID != 99 || user.Username != "masha" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestValidate_RejectsTampered(t *testing.T) {
	v := NewValidator(testBotToken, 0)
	initData := signedInitData(t, User{ID: 99}, time.Now())
	tampered := initData + "&premium=1"

	if _, err := v.Validate(tampered); err == nil {
		t.Fatal("expected tampered payload to be rejected")
	}
}

func TestValidate_RejectsWrongToken(t *testing.T) {
	v := NewValidator("other:token", 0)
	initData := signedInitData(t, User{ID: 99}, time.Now())

	if _, err := v.Validate(initData); err == nil {
		t.Fatal("expected signature from another bot to be rejected")
	}
}

func TestValidate_RejectsStale(t *testing.T) {
	v := NewValidator(testBotToken, time.Hour)
	initData := signedInitData(t, User{ID: 99}, time.Now().Add(-2*time.Hour))

	if _, err := v.Validate(initData); err == nil {
		t.Fatal("expected stale auth_date to be rejected")
	}
}

func TestValidate_RejectsMissingHash(t *testing.T) {
	v := NewValidator(testBotToken, 0)
	if _, err := v.Validate("user=%7B%22id%22%3A1%7D"); err == nil {
		t.Fatal("expected payload without hash to be rejected")
	}
}

func TestRequireUser(t *testing.T) {
	v := NewValidator(testBotToken, 0)

	var got *User
	handler := RequireUser(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(InitDataHeader, signedInitData(t, User{ID: 7, FirstName: "Ivan"}, time.Now()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got == nil || got.ID != 7 {
		t.Fatalf("expected user 7 in context, got %+v", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without init data, got %d", rec.Code)
	}
}

func TestBotSender_Send(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewBotSender(testBotToken, srv.URL)
	if err := s.Send(context.Background(), 42, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/bot"+testBotToken+"/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["chat_id"].(float64) != 42 || gotBody["text"] != "hello" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestBotSender_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewBotSender(testBotToken, srv.URL)
	if err := s.Send(context.Background(), 42, "hello"); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}
