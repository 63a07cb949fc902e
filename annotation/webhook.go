package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Webhook posts every annotation event as JSON to a URL
type Webhook struct {
	url    string
	logger *slog.Logger
	client *http.Client
}

var _ Notifier = (*Webhook)(nil)

// NewWebhook creates a new Webhook instance
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		logger: slog.With("component", "webhook"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Timestamp string            `json:"timestamp"`
	Event     Kind              `json:"event"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Notify sends e to the webhook
func (w *Webhook) Notify(ctx context.Context, e Event) error {
	data, err := json.Marshal(webhookPayload{Timestamp: e.Timestamp, Event: e.Kind, Payload: e.Payload})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, body)
	}

	w.logger.Debug("Forwarded annotation",
		slog.String("timestamp", e.Timestamp),
		slog.String("event", string(e.Kind)),
		slog.Int("status", resp.StatusCode))

	return nil
}
