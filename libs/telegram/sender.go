package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sender delivers a message to a Telegram chat. Implementations must be safe
// for concurrent use; callers treat delivery as best-effort.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

const defaultAPIBase = "https://api.telegram.org"

// BotSender sends messages through the Bot API sendMessage method with HTML
// parse mode. The HTTP client carries a hard timeout so a stuck Telegram call
// can never block a booking response or starve a reminder batch.
type BotSender struct {
	token   string
	apiBase string
	http    *http.Client
}

func NewBotSender(token string, apiBase string) *BotSender {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &BotSender{
		token:   strings.TrimSpace(token),
		apiBase: apiBase,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *BotSender) Send(ctx context.Context, chatID int64, text string) error {
	if s.token == "" {
		return errors.New("telegram bot token not configured")
	}
	if chatID == 0 {
		return errors.New("telegram chat id not set")
	}
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopSender drops messages. Used in tests and token-less dev environments.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) Send(_ context.Context, _ int64, _ string) error {
	return nil
}
