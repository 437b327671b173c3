// Package notify provides Notification Adapter implementations behind the
// alerting.Notifier contract: a webhook notifier for real delivery and a
// log notifier for development and as a fallback.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jpayne/fleetwatch/pkg/alerting"
)

// WebhookNotifier POSTs the notification as JSON to the recipient URL.
// The recipient address is the webhook endpoint itself, so one rule can
// fan out to any mix of endpoints.
type WebhookNotifier struct {
	client *http.Client
}

func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	alerting.Notification
	Message string `json:"message"`
}

func (w *WebhookNotifier) Send(ctx context.Context, recipient string, n alerting.Notification) error {
	body, err := json.Marshal(webhookPayload{Notification: n, Message: n.Message()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned status %d", recipient, resp.StatusCode)
	}
	return nil
}

var _ alerting.Notifier = (*WebhookNotifier)(nil)
