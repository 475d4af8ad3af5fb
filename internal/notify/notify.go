// Package notify delivers outbound messages and emergency escalations.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/domain"
	"github.com/jaidee-care/jaidee-core/internal/shared"
)

// Messenger sends outbound text to a user through the messaging transport.
// The engine never parses transport envelopes; this is the whole contract.
type Messenger interface {
	SendText(ctx context.Context, userID, text string) error
}

// Escalation is one emergency-contact alert for a Critical-tier message.
type Escalation struct {
	UserID     string      `json:"user_id"`
	Tier       domain.Tier `json:"-"`
	TierName   string      `json:"tier"`
	Excerpt    string      `json:"excerpt"`
	OccurredAt time.Time   `json:"occurred_at"`
}

const sendTimeout = 10 * time.Second

// HTTPPush sends JSON payloads to a configured webhook URL with a bounded
// timeout.
type HTTPPush struct {
	url    string
	client *http.Client
}

// NewHTTPPush creates a push sender for the given webhook URL.
func NewHTTPPush(url string) *HTTPPush {
	return &HTTPPush{
		url:    url,
		client: &http.Client{Timeout: sendTimeout},
	}
}

// SendText posts an outbound message for delivery by the transport.
func (p *HTTPPush) SendText(ctx context.Context, userID, text string) error {
	return p.post(ctx, map[string]string{"user_id": userID, "text": text})
}

// SendEscalation posts an emergency alert to the escalation channel.
func (p *HTTPPush) SendEscalation(ctx context.Context, esc Escalation) error {
	esc.TierName = esc.Tier.String()
	return p.post(ctx, esc)
}

func (p *HTTPPush) post(ctx context.Context, payload interface{}) error {
	if p.url == "" {
		// Useful in development: deliveries are logged, not sent.
		slog.Info("outbound delivery skipped, no webhook configured", "payload", payload)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbound payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build outbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return shared.Transient("outbound post", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close outbound response body", "error", closeErr)
		}
	}()

	if resp.StatusCode >= 500 {
		return shared.Transient("outbound post", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		// The transport is pushing back; the escalation queue retries with
		// backoff rather than dropping the alert.
		return shared.RateLimited("outbound post", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("outbound post rejected with status %d", resp.StatusCode)
	}
	return nil
}
