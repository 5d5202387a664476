package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vkovalenko/groomly/libs/telegram"
	"github.com/vkovalenko/groomly/services/analytics-service/internal/rollup"
)

// Store is implemented by rollup.Repository; faked in tests.
type Store interface {
	IsPremium(ctx context.Context, masterID int64) (bool, error)
	Range(ctx context.Context, masterID int64, from, to time.Time) ([]rollup.DayStats, error)
}

type StatsHandler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewStatsHandler(store Store, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{store: store, logger: logger, now: time.Now}
}

type dayPayload struct {
	Day       string  `json:"day"`
	Booked    int     `json:"booked"`
	Confirmed int     `json:"confirmed"`
	Cancelled int     `json:"cancelled"`
	Completed int     `json:"completed"`
	Revenue   float64 `json:"revenue"`
}

type statsResponse struct {
	IsPremium bool         `json:"is_premium"`
	From      string       `json:"from,omitempty"`
	To        string       `json:"to,omitempty"`
	Days      []dayPayload `json:"days,omitempty"`
	Totals    dayPayload   `json:"totals"`
}

// Stats returns the caller's daily rollups for a date range, defaulting to
// the trailing 30 days. The dashboard is a premium feature: non-premium
// masters get only the flag, which the frontend turns into an upsell screen.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	master, ok := telegram.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	premium, err := h.store.IsPremium(r.Context(), master.ID)
	if err != nil {
		h.logger.Error("premium lookup failed", "err", err)
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	if !premium {
		body, _ := json.Marshal(statsResponse{IsPremium: false})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	to := h.now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -29)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = parsed
	}
	if to.Before(from) {
		http.Error(w, "to must not precede from", http.StatusBadRequest)
		return
	}

	days, err := h.store.Range(r.Context(), master.ID, from, to)
	if err != nil {
		h.logger.Error("stats range failed", "err", err)
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	resp := statsResponse{
		IsPremium: true,
		From:      from.Format("2006-01-02"),
		To:        to.Format("2006-01-02"),
		Days:      make([]dayPayload, 0, len(days)),
	}
	for _, d := range days {
		resp.Days = append(resp.Days, dayPayload{
			Day:       d.Day.Format("2006-01-02"),
			Booked:    d.Booked,
			Confirmed: d.Confirmed,
			Cancelled: d.Cancelled,
			Completed: d.Completed,
			Revenue:   d.Revenue,
		})
		resp.Totals.Booked += d.Booked
		resp.Totals.Confirmed += d.Confirmed
		resp.Totals.Cancelled += d.Cancelled
		resp.Totals.Completed += d.Completed
		resp.Totals.Revenue += d.Revenue
	}

	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
