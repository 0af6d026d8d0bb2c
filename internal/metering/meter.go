// Package metering turns completed gateway calls into RequestLog and
// CostEvent records and emits webhook notifications.
package metering

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/pricing"
	"github.com/pulselabs/pulse/internal/store"
	"github.com/pulselabs/pulse/internal/webhook"
)

// FailurePolicy controls how calls that failed after routing are priced.
type FailurePolicy string

const (
	// FailureZeroCost writes the RequestLog with zero cost and no CostEvent.
	FailureZeroCost FailurePolicy = "zero_cost"
	// FailurePartial prices whatever usage the provider reported before
	// failing and writes a CostEvent when that amount is nonzero.
	FailurePartial FailurePolicy = "partial"
)

// Sample is everything the meter needs to record one call attempt that
// reached the metering stage.
type Sample struct {
	// RequestID becomes the RequestLog id. Generated when empty, so the
	// orchestrator can hand the caller the same id it meters under.
	RequestID string

	OrgID       string
	KeyID       string
	Attribution store.Attribution
	Provider    string
	Model       string
	Messages    []model.Message

	// Usage as reported by the provider; nil when the provider reported
	// nothing and tokens must be estimated.
	Usage *model.Usage

	// Completion is the generated text, used for the output-token estimate
	// when Usage is nil.
	Completion string

	// MaxCostPerRequestEUR is the route's per-request ceiling, if any. It is
	// not enforced pre-call; a breach is logged here once the real cost is
	// known.
	MaxCostPerRequestEUR *float64

	Latency    time.Duration
	StatusCode int
	ErrorCode  string
}

// Meter persists metering records and dispatches webhook events. Webhook
// delivery runs in background goroutines; Done lets tests wait for them.
type Meter struct {
	store     store.Store
	prices    *pricing.Table
	estimator *pricing.Estimator
	sender    *webhook.Sender
	onFailure FailurePolicy

	pending sync.WaitGroup
	now     func() time.Time
}

func New(st store.Store, prices *pricing.Table, sender *webhook.Sender, onFailure FailurePolicy) *Meter {
	if onFailure == "" {
		onFailure = FailurePartial
	}
	return &Meter{
		store:     st,
		prices:    prices,
		estimator: pricing.NewEstimator(),
		sender:    sender,
		onFailure: onFailure,
		now:       time.Now,
	}
}

// Record writes exactly one RequestLog and, for billable calls, exactly one
// CostEvent, then dispatches ai_request.completed to every enabled webhook
// subscribed to it. Store write failures are logged; the caller's response
// is never blocked on them.
func (m *Meter) Record(ctx context.Context, s Sample) {
	promptTokens, completionTokens := m.tokens(s)
	totalTokens := promptTokens + completionTokens

	amount := m.prices.TotalCost(s.Provider, s.Model, promptTokens, completionTokens)
	if s.ErrorCode != "" && m.onFailure == FailureZeroCost {
		amount = 0
	}

	id := s.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	if s.MaxCostPerRequestEUR != nil && amount > *s.MaxCostPerRequestEUR {
		log.Printf("warn: request %s cost %.6f EUR exceeds route ceiling %.2f EUR (%s/%s)",
			id, amount, *s.MaxCostPerRequestEUR, s.Provider, s.Model)
	}

	rec := store.RequestLog{
		ID:               id,
		OrgID:            s.OrgID,
		KeyID:            s.KeyID,
		Attribution:      s.Attribution,
		Provider:         s.Provider,
		Model:            s.Model,
		PromptHash:       hashPrompt(s.Messages),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		CostEUR:          amount,
		LatencyMs:        s.Latency.Milliseconds(),
		StatusCode:       s.StatusCode,
		ErrorCode:        s.ErrorCode,
		CreatedAt:        m.now().UTC(),
	}
	if err := m.store.InsertRequestLog(ctx, rec); err != nil {
		log.Printf("warn: insert request log: %v", err)
		return
	}

	if amount > 0 {
		ev := store.CostEvent{
			ID:           uuid.NewString(),
			OrgID:        s.OrgID,
			KeyID:        s.KeyID,
			Attribution:  s.Attribution,
			Provider:     s.Provider,
			Model:        s.Model,
			AmountEUR:    amount,
			Source:       "gateway",
			RequestLogID: rec.ID,
			CreatedAt:    rec.CreatedAt,
		}
		if err := m.store.InsertCostEvent(ctx, ev); err != nil {
			log.Printf("warn: insert cost event: %v", err)
		}
	}

	m.dispatch(ctx, rec)
}

// Done returns a channel that closes once all webhook deliveries in flight
// at call time have finished.
func (m *Meter) Done() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(ch)
	}()
	return ch
}

func (m *Meter) dispatch(ctx context.Context, rec store.RequestLog) {
	hooks, err := m.store.ListEnabledWebhooks(ctx, rec.OrgID)
	if err != nil {
		log.Printf("warn: list webhooks: %v", err)
		return
	}

	event := webhook.Event{
		Type:             webhook.EventRequestCompleted,
		RequestID:        rec.ID,
		OrgID:            rec.OrgID,
		Provider:         rec.Provider,
		Model:            rec.Model,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		CostEUR:          rec.CostEUR,
		LatencyMS:        rec.LatencyMs,
		Status:           rec.StatusCode,
		ErrorCode:        rec.ErrorCode,
		Timestamp:        rec.CreatedAt.Format(time.RFC3339),
	}

	for _, h := range hooks {
		if !h.SubscribedTo(webhook.EventRequestCompleted) {
			continue
		}
		m.pending.Add(1)
		go func(url, secret string) {
			defer m.pending.Done()
			// Delivery outlives the request; only process shutdown stops it.
			m.sender.Deliver(context.WithoutCancel(ctx), url, secret, event)
		}(h.URL, h.Secret)
	}
}

// tokens returns (prompt, completion) counts, preferring the provider's
// usage block over a tiktoken estimate.
func (m *Meter) tokens(s Sample) (int, int) {
	if s.Usage != nil {
		return s.Usage.PromptTokens, s.Usage.CompletionTokens
	}

	msgs := make([]pricing.EstimateMessage, len(s.Messages))
	for i, msg := range s.Messages {
		msgs[i] = pricing.EstimateMessage{Role: msg.Role, Content: msg.Content}
	}
	prompt := m.estimator.EstimateMessages(s.Model, msgs)
	if prompt < 0 {
		prompt = 0
	}
	completion := 0
	if s.Completion != "" {
		if n := m.estimator.EstimateText(s.Model, s.Completion); n > 0 {
			completion = n
		}
	}
	return prompt, completion
}

// hashPrompt hashes the full message list. The raw prompt is never stored.
func hashPrompt(messages []model.Message) string {
	h := sha256.New()
	for _, msg := range messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
