package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pulselabs/pulse/internal/model"
)

// InvokeRequest is the normalized request shape passed to every adapter.
type InvokeRequest struct {
	Model       string
	Messages    []model.Message
	MaxTokens   *int
	Temperature *float64
}

// InvokeResult is the normalized buffered response.
type InvokeResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Raw          json.RawMessage
}

// StreamDelta is one increment of a streaming response. The final delta has
// Done set; Usage is populated on the final delta when the provider reported
// a usage block before finishing.
type StreamDelta struct {
	Content string
	Usage   *model.Usage
	Err     error
	Done    bool
}

// ErrStreamingUnsupported is returned by adapters that only implement the
// buffered path. The orchestrator synthesizes a single-chunk pseudo-stream
// from the buffered result instead.
var ErrStreamingUnsupported = errors.New("streaming not supported by this provider")

// Adapter normalizes one upstream AI provider. Adapters must never embed the
// secret in returned errors.
type Adapter interface {
	// Name returns the provider identifier used by ModelRoutes.
	Name() string

	// SupportsStreaming reports whether Stream delivers true incremental
	// deltas.
	SupportsStreaming() bool

	// Invoke performs a buffered completion call.
	Invoke(ctx context.Context, secret string, req *InvokeRequest) (*InvokeResult, error)

	// Stream performs a streaming completion call. Adapters without true
	// streaming return ErrStreamingUnsupported.
	Stream(ctx context.Context, secret string, req *InvokeRequest) (<-chan StreamDelta, error)
}
