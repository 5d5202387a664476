package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"github.com/vkovalenko/groomly/services/billing-service/internal/storage"
)

type fakeStore struct {
	recorded  []storage.ProviderEvent
	applied   []premiumChange
	applyErr  error
	recordErr error
}

type premiumChange struct {
	masterID int64
	premium  bool
}

func (f *fakeStore) RecordEvent(ctx context.Context, evt storage.ProviderEvent) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, evt)
	return nil
}

func (f *fakeStore) ApplyPremiumChange(ctx context.Context, evt storage.ProviderEvent, masterID int64, premium bool) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, premiumChange{masterID: masterID, premium: premium})
	return nil
}

const testSecret = "whsec_test"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func signedRequest(t *testing.T, eventType string, object map[string]any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": json.RawMessage(raw)},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/billing/stripe/webhook", bytes.NewReader(signed.Payload))
	r.Header.Set("Stripe-Signature", signed.Header)
	return r
}

func TestCheckoutCompletedGrantsPremium(t *testing.T) {
	store := &fakeStore{}
	h := New(store, testLogger(), testSecret, time.Minute)

	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, "checkout.session.completed", map[string]any{
		"id":       "cs_test_1",
		"metadata": map[string]string{"master_id": "42"},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(store.applied) != 1 || store.applied[0].masterID != 42 || !store.applied[0].premium {
		t.Fatalf("applied = %+v, want premium grant for 42", store.applied)
	}
}

func TestSubscriptionDeletedRevokesPremium(t *testing.T) {
	store := &fakeStore{}
	h := New(store, testLogger(), testSecret, time.Minute)

	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_test_1",
		"metadata": map[string]string{"master_id": "42"},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.applied) != 1 || store.applied[0].premium {
		t.Fatalf("applied = %+v, want premium revoke", store.applied)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := &fakeStore{}
	h := New(store, testLogger(), testSecret, time.Minute)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/billing/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	r.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(store.applied) != 0 {
		t.Fatalf("applied = %+v, want none", store.applied)
	}
}

func TestWebhookDuplicateIsAcknowledged(t *testing.T) {
	store := &fakeStore{applyErr: storage.ErrDuplicateProviderEvent}
	h := New(store, testLogger(), testSecret, time.Minute)

	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, "checkout.session.completed", map[string]any{
		"id":       "cs_test_1",
		"metadata": map[string]string{"master_id": "42"},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for duplicate", rec.Code)
	}
}

func TestWebhookMissingMetadataIgnored(t *testing.T) {
	store := &fakeStore{}
	h := New(store, testLogger(), testSecret, time.Minute)

	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, "checkout.session.completed", map[string]any{
		"id": "cs_test_1",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.applied) != 0 {
		t.Fatalf("applied = %+v, want none without master_id", store.applied)
	}
}

func TestWebhookUnhandledTypeRecorded(t *testing.T) {
	store := &fakeStore{}
	h := New(store, testLogger(), testSecret, time.Minute)

	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, "invoice.paid", map[string]any{"id": "in_test_1"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.recorded) != 1 || store.recorded[0].EventType != "invoice.paid" {
		t.Fatalf("recorded = %+v, want the unhandled event", store.recorded)
	}
}
