// Package gateway is the request orchestrator. It drives each call through
// authenticate, attribution, limits, routing, provider invocation and
// metering, short-circuiting to a typed error at the first failed stage.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pulselabs/pulse/internal/auth"
	"github.com/pulselabs/pulse/internal/guard"
	"github.com/pulselabs/pulse/internal/metering"
	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/provider"
	"github.com/pulselabs/pulse/internal/router"
	"github.com/pulselabs/pulse/internal/store"
)

// Options tune per-deployment orchestrator behavior.
type Options struct {
	// RequireAttribution rejects calls whose resolved attribution is
	// completely empty.
	RequireAttribution bool
}

// Gateway composes the call pipeline. All stages are stateless; shared
// counters live behind the rate limiter and store.
type Gateway struct {
	auth    *auth.Authenticator
	limiter guard.RateLimiter
	costs   *guard.CostGate
	router  *router.Router
	meter   *metering.Meter
	opts    Options

	// adapterFor is the provider registry lookup, injectable in tests.
	adapterFor func(name string) (provider.Adapter, error)
}

func New(a *auth.Authenticator, limiter guard.RateLimiter, costs *guard.CostGate, r *router.Router, m *metering.Meter, opts Options) *Gateway {
	return &Gateway{
		auth:       a,
		limiter:    limiter,
		costs:      costs,
		router:     r,
		meter:      m,
		opts:       opts,
		adapterFor: provider.Get,
	}
}

// Result is the buffered outcome of one gateway call.
type Result struct {
	RequestID string
	Provider  string
	Model     string
	Content   string
	Usage     model.Usage
	Raw       json.RawMessage
}

// StreamResult is the streaming outcome. Deltas is open as soon as the
// provider begins responding; Done closes once deferred metering has
// finished, which tests use to await idleness.
type StreamResult struct {
	RequestID string
	Provider  string
	Model     string
	Deltas    <-chan provider.StreamDelta
	Done      <-chan struct{}
}

// dispatch is the resolved call state shared by Invoke and InvokeStream
// after the pre-invocation stages have passed.
type dispatch struct {
	requestID   string
	key         store.GatewayKey
	attribution store.Attribution
	route       *router.ResolvedRoute
	adapter     provider.Adapter
	started     time.Time
}

// sample seeds a metering sample with the resolved call state. Callers fill
// in usage, completion and the outcome fields.
func (d *dispatch) sample(req *model.ChatCompletionRequest) metering.Sample {
	return metering.Sample{
		RequestID:            d.requestID,
		OrgID:                d.key.OrgID,
		KeyID:                d.key.ID,
		Attribution:          d.attribution,
		Provider:             d.route.Route.Provider,
		Model:                req.Model,
		Messages:             req.Messages,
		MaxCostPerRequestEUR: d.route.Route.MaxCostPerRequestEUR,
	}
}

// prepare runs authenticate → attribution → limits → route. Failures here
// precede routing (or are routing failures) and are never cost-metered.
func (g *Gateway) prepare(ctx context.Context, bearer string, hints model.AttributionHints, req *model.ChatCompletionRequest) (*dispatch, error) {
	key, err := g.auth.Authenticate(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if err := g.auth.CheckModelAccess(&key, req.Model); err != nil {
		return nil, err
	}

	attribution := auth.ResolveAttribution(&key, hints)
	if g.opts.RequireAttribution && attribution == (store.Attribution{}) {
		return nil, model.NewGatewayError(model.ErrAttributionNeeded,
			"this organization requires attribution on every request")
	}

	if err := guard.CheckRate(ctx, g.limiter, key.ID, key.RPMLimit); err != nil {
		return nil, err
	}
	if err := g.costs.Check(ctx, &key); err != nil {
		return nil, err
	}

	route, err := g.router.Resolve(ctx, key.OrgID, req.Model)
	if err != nil {
		return nil, err
	}
	adapter, err := g.adapterFor(route.Route.Provider)
	if err != nil {
		ge := model.NewGatewayError(model.ErrNoRoute, "no adapter for provider "+route.Route.Provider)
		ge.Model = req.Model
		return nil, ge
	}

	return &dispatch{
		requestID:   uuid.NewString(),
		key:         key,
		attribution: attribution,
		route:       route,
		adapter:     adapter,
		started:     time.Now(),
	}, nil
}

// Invoke performs a buffered call. Provider failures after routing are
// metered before the error is returned.
func (g *Gateway) Invoke(ctx context.Context, bearer string, hints model.AttributionHints, req *model.ChatCompletionRequest) (*Result, error) {
	d, err := g.prepare(ctx, bearer, hints, req)
	if err != nil {
		return nil, err
	}

	result, err := d.adapter.Invoke(ctx, d.route.Secret, invokeRequest(req))
	if err != nil {
		return nil, g.meterFailure(ctx, d, req, err)
	}

	usage := model.Usage{
		PromptTokens:     result.InputTokens,
		CompletionTokens: result.OutputTokens,
		TotalTokens:      result.InputTokens + result.OutputTokens,
	}
	sample := d.sample(req)
	sample.Usage = &usage
	sample.Completion = result.Content
	sample.Latency = time.Since(d.started)
	sample.StatusCode = 200
	g.meter.Record(ctx, sample)

	return &Result{
		RequestID: d.requestID,
		Provider:  d.route.Route.Provider,
		Model:     req.Model,
		Content:   result.Content,
		Usage:     usage,
		Raw:       result.Raw,
	}, nil
}

// InvokeStream performs a streaming call. Adapters without true streaming
// are invoked buffered and replayed as a single-chunk pseudo-stream.
// Metering is deferred until the stream closes or errors and runs without
// blocking delta forwarding.
func (g *Gateway) InvokeStream(ctx context.Context, bearer string, hints model.AttributionHints, req *model.ChatCompletionRequest) (*StreamResult, error) {
	d, err := g.prepare(ctx, bearer, hints, req)
	if err != nil {
		return nil, err
	}

	if !d.adapter.SupportsStreaming() {
		return g.pseudoStream(ctx, d, req)
	}

	upstream, err := d.adapter.Stream(ctx, d.route.Secret, invokeRequest(req))
	if err != nil {
		return nil, g.meterFailure(ctx, d, req, err)
	}

	out := make(chan provider.StreamDelta)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)

		var content []byte
		var usage *model.Usage
		var streamErr error
		for delta := range upstream {
			if delta.Done {
				usage = delta.Usage
				streamErr = delta.Err
			} else {
				content = append(content, delta.Content...)
			}
			// A disconnected caller stops forwarding, but the loop keeps
			// draining so the closing delta's usage is still captured.
			select {
			case out <- delta:
			case <-ctx.Done():
			}
		}

		sample := d.sample(req)
		sample.Usage = usage
		sample.Completion = string(content)
		sample.Latency = time.Since(d.started)
		sample.StatusCode = 200
		if streamErr != nil {
			ge := model.AsGatewayError(provider.RedactError(streamErr))
			sample.StatusCode = ge.StatusCode
			sample.ErrorCode = ge.Code
		}
		// Metering must survive a caller disconnect mid-stream.
		g.meter.Record(context.WithoutCancel(ctx), sample)
	}()

	return &StreamResult{
		RequestID: d.requestID,
		Provider:  d.route.Route.Provider,
		Model:     req.Model,
		Deltas:    out,
		Done:      done,
	}, nil
}

// pseudoStream serves a streaming request through a buffered adapter: the
// whole completion arrives as one chunk followed by the closing delta.
func (g *Gateway) pseudoStream(ctx context.Context, d *dispatch, req *model.ChatCompletionRequest) (*StreamResult, error) {
	result, err := d.adapter.Invoke(ctx, d.route.Secret, invokeRequest(req))
	if err != nil {
		return nil, g.meterFailure(ctx, d, req, err)
	}

	usage := model.Usage{
		PromptTokens:     result.InputTokens,
		CompletionTokens: result.OutputTokens,
		TotalTokens:      result.InputTokens + result.OutputTokens,
	}

	out := make(chan provider.StreamDelta, 2)
	out <- provider.StreamDelta{Content: result.Content}
	out <- provider.StreamDelta{Done: true, Usage: &usage}
	close(out)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sample := d.sample(req)
		sample.Usage = &usage
		sample.Completion = result.Content
		sample.Latency = time.Since(d.started)
		sample.StatusCode = 200
		g.meter.Record(context.WithoutCancel(ctx), sample)
	}()

	return &StreamResult{
		RequestID: d.requestID,
		Provider:  d.route.Route.Provider,
		Model:     req.Model,
		Deltas:    out,
		Done:      done,
	}, nil
}

// meterFailure records a provider invocation failure and returns the
// sanitized typed error. Latency and partial cost are already incurred at
// this point, so the attempt is still metered.
func (g *Gateway) meterFailure(ctx context.Context, d *dispatch, req *model.ChatCompletionRequest, err error) error {
	ge := model.AsGatewayError(provider.RedactError(err))
	if ge.Provider == "" {
		ge.Provider = d.route.Route.Provider
	}
	if ge.Model == "" {
		ge.Model = req.Model
	}

	sample := d.sample(req)
	sample.Latency = time.Since(d.started)
	sample.StatusCode = ge.StatusCode
	sample.ErrorCode = ge.Code
	g.meter.Record(ctx, sample)
	return ge
}

func invokeRequest(req *model.ChatCompletionRequest) *provider.InvokeRequest {
	return &provider.InvokeRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}
