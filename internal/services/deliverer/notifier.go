package deliverer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookNotifier posts delivery notifications as JSON to a configured URL
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier that POSTs to webhookURL
func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    webhookURL,
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

// Notify posts the notification, treating any non-2xx response as an error
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(struct {
		Event string `json:"event"`
		Notification
	}{Event: "digest.delivered", Notification: n})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier stands in when no webhook is configured
type LogNotifier struct{}

// Notify records the delivery in the log and succeeds
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	log.Printf("[INFO] deliverer: %s notification for digest %s (%s), no webhook configured", n.Method, n.DigestID, n.Title)
	return nil
}

// NewNotifier returns a webhook notifier when a URL is configured and the
// logging no-op otherwise
func NewNotifier(webhookURL string) Notifier {
	if webhookURL == "" {
		return LogNotifier{}
	}
	return NewWebhookNotifier(webhookURL)
}

var _ Notifier = (*WebhookNotifier)(nil)
var _ Notifier = LogNotifier{}
