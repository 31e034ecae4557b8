package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// --------------------------------------------------------------------------
// Log sink — development default
// --------------------------------------------------------------------------

// LogSink writes notifications to the structured log. Used in development
// and as the fallback when no push endpoint is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) DeliverNow(_ context.Context, title, body, identifier string) error {
	s.logger.Info("notification", "title", title, "body", body, "identifier", identifier)
	return nil
}

func (s *LogSink) Cancel(_ context.Context, identifier string) error {
	s.logger.Info("notification cancelled", "identifier", identifier)
	return nil
}

// --------------------------------------------------------------------------
// Webhook sink — push gateway
// --------------------------------------------------------------------------

const webhookTimeout = 10 * time.Second

// WebhookSink POSTs notifications to a push gateway (the companion app's
// notification relay). The gateway owns platform delivery; this sink only
// reports whether the handoff succeeded.
type WebhookSink struct {
	url        string
	authToken  string
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink for the given endpoint.
func NewWebhookSink(url, authToken string) *WebhookSink {
	return &WebhookSink{
		url:        url,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}
}

type webhookPayload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Identifier string `json:"identifier"`
	Action     string `json:"action"` // "deliver" | "cancel"
}

func (s *WebhookSink) DeliverNow(ctx context.Context, title, body, identifier string) error {
	return s.post(ctx, webhookPayload{Title: title, Body: body, Identifier: identifier, Action: "deliver"})
}

func (s *WebhookSink) Cancel(ctx context.Context, identifier string) error {
	return s.post(ctx, webhookPayload{Identifier: identifier, Action: "cancel"})
}

func (s *WebhookSink) post(ctx context.Context, p webhookPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
