package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"github.com/vkovalenko/groomly/services/billing-service/internal/storage"
)

// Store is implemented by storage.Repository; faked in tests.
type Store interface {
	RecordEvent(ctx context.Context, evt storage.ProviderEvent) error
	ApplyPremiumChange(ctx context.Context, evt storage.ProviderEvent, masterID int64, premium bool) error
}

type Handler struct {
	repo          Store
	logger        *slog.Logger
	webhookSecret string
	tolerance     time.Duration
}

func New(repo Store, logger *slog.Logger, webhookSecret string, tolerance time.Duration) *Handler {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Handler{
		repo:          repo,
		logger:        logger,
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
	}
}

// StripeWebhook is the only billing surface. There is no session auth; the
// Stripe signature is the auth. A checkout completed with master_id metadata
// grants premium, a deleted subscription revokes it.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.webhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.webhookSecret, h.tolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	record := storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}
	h.logger.Info("stripe event received", "provider_event_id", evt.ID, "event_type", evtType)

	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("invalid checkout session payload", "err", err)
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		h.applyPremium(w, r, record, session.Metadata["master_id"], true)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			h.logger.Error("invalid subscription payload", "err", err)
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		h.applyPremium(w, r, record, sub.Metadata["master_id"], false)

	default:
		// Unhandled types are acknowledged so Stripe stops retrying, but the
		// delivery is still recorded for the idempotency ledger.
		if err := h.repo.RecordEvent(r.Context(), record); err != nil && !errors.Is(err, storage.ErrDuplicateProviderEvent) {
			http.Error(w, "failed to record event", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *Handler) applyPremium(w http.ResponseWriter, r *http.Request, record storage.ProviderEvent, rawMasterID string, premium bool) {
	masterID, err := strconv.ParseInt(strings.TrimSpace(rawMasterID), 10, 64)
	if err != nil || masterID <= 0 {
		// No metadata means the checkout did not originate from this product.
		h.logger.Warn("stripe event without master_id metadata", "event_type", record.EventType)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	err = h.repo.ApplyPremiumChange(r.Context(), record, masterID, premium)
	switch {
	case errors.Is(err, storage.ErrDuplicateProviderEvent):
		h.logger.Info("duplicate stripe event ignored", "provider_event_id", record.ProviderEventID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
	case errors.Is(err, storage.ErrMasterNotFound):
		h.logger.Warn("stripe event for unknown master", "master_id", masterID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown_master"})
	case err != nil:
		h.logger.Error("premium change failed", "err", err, "master_id", masterID)
		http.Error(w, "failed to apply change", http.StatusInternalServerError)
	default:
		h.logger.Info("premium updated", "master_id", masterID, "premium", premium)
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
	}
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
