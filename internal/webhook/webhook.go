// Package webhook delivers signed event notifications to organization
// webhooks. Delivery is best effort: failures are logged, never surfaced to
// the originating request.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw JSON body,
	// keyed with the webhook's shared secret.
	SignatureHeader = "x-pulse-signature"

	deliveryTimeout = 10 * time.Second
	maxAttempts     = 3
)

// EventRequestCompleted is emitted once per metered gateway call.
const EventRequestCompleted = "ai_request.completed"

// Event is the JSON body POSTed to subscribed webhooks.
type Event struct {
	Type             string  `json:"type"`
	RequestID        string  `json:"request_id"`
	OrgID            string  `json:"org_id"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostEUR          float64 `json:"cost_eur"`
	LatencyMS        int64   `json:"latency_ms"`
	Status           int     `json:"status"`
	ErrorCode        string  `json:"error_code,omitempty"`
	Timestamp        string  `json:"timestamp"`
}

// Sender delivers one event to one endpoint with retries.
type Sender struct {
	client *http.Client

	// Backoff returns the wait before retrying attempt n (1-based).
	// Overridable in tests.
	Backoff func(attempt int) time.Duration
}

func NewSender() *Sender {
	return &Sender{
		client:  &http.Client{Timeout: deliveryTimeout},
		Backoff: defaultBackoff,
	}
}

func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver POSTs the event to url, signing the raw body with secret. Non-2xx
// responses and transport errors are retried with exponential backoff. The
// final failure is logged and swallowed.
func (s *Sender) Deliver(ctx context.Context, url, secret string, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("warn: webhook marshal failed: %v", err)
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.post(ctx, url, secret, body); err == nil {
			return
		} else if attempt == maxAttempts {
			log.Printf("warn: webhook delivery to %s failed after %d attempts: %v", url, maxAttempts, err)
			return
		} else {
			log.Printf("warn: webhook delivery to %s failed (attempt %d): %v", url, attempt, err)
		}

		select {
		case <-time.After(s.Backoff(attempt)):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) post(ctx context.Context, url, secret string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("endpoint returned status %d", e.code)
}
