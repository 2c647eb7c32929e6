package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// LogSender writes notifications to the log. It is the default sender.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a log sender.
func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("sender", "log").Logger()}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, msg Message) error {
	ev := s.log.Info()
	if msg.Bankrupt {
		ev = s.log.Warn()
	}
	ev.Str("kind", msg.Kind).
		Int64("turn_id", msg.TurnID).
		Int("turn_number", msg.TurnNumber).
		Int64("company_id", msg.CompanyID).
		Str("company", msg.Company).
		Str("net_income", msg.NetIncome).
		Str("ending_capital", msg.Capital).
		Msg("Turn notification")
	return nil
}

// WebhookSender posts each message as JSON.
type WebhookSender struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewWebhookSender creates a webhook sender for url.
func NewWebhookSender(url string, log zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("sender", "webhook").Logger(),
	}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	s.log.Debug().Int64("company_id", msg.CompanyID).Int("status", resp.StatusCode).Msg("Webhook delivered")
	return nil
}
