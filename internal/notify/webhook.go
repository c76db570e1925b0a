// Package notify delivers terminal-state job notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

const defaultTimeout = 10 * time.Second

// payload is the wire shape of a webhook delivery.
type payload struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	Scraper         string `json:"scraper"`
	CompletedAt     string `json:"completed_at"`
	DurationSeconds string `json:"duration_seconds"`
	ProductsScraped int    `json:"products_scraped"`
	WebhookSentAt   string `json:"webhook_sent_at"`
}

// Webhook posts JSON notifications to the URL carried by each notification.
// Notifications without a URL are silently skipped, so callers can always
// invoke it unconditionally.
type Webhook struct {
	client *http.Client
	clock  harvest.Clock
	logger *zap.Logger
}

// NewWebhook builds a notifier with the given request timeout (zero takes
// the default).
func NewWebhook(timeout time.Duration, clock harvest.Clock, logger *zap.Logger) *Webhook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		client: &http.Client{Timeout: timeout},
		clock:  clock,
		logger: logger,
	}
}

// Notify delivers the notification. Non-2xx responses are errors; the caller
// decides whether delivery failure matters.
func (w *Webhook) Notify(ctx context.Context, n harvest.Notification) error {
	if n.WebhookURL == "" {
		return nil
	}
	body, err := json.Marshal(payload{
		JobID:           n.JobID,
		Status:          string(n.Status),
		Scraper:         n.Scraper,
		CompletedAt:     n.CompletedAt.UTC().Format(time.RFC3339),
		DurationSeconds: fmt.Sprintf("%.1f", n.DurationSeconds),
		ProductsScraped: n.ProductsScraped,
		WebhookSentAt:   w.clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	w.logger.Info("webhook delivered",
		zap.String("job_id", n.JobID),
		zap.String("status", string(n.Status)),
	)
	return nil
}
