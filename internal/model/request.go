package model

// ChatCompletionRequest represents an OpenAI-compatible chat completion request
// as accepted by the gateway's /v1/chat/completions surface.
type ChatCompletionRequest struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	Stop        any            `json:"stop,omitempty"`
	User        *string        `json:"user,omitempty"`
	Stream      *bool          `json:"stream,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IsStreaming returns true if the request has streaming enabled.
func (r *ChatCompletionRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

// AttributionHints carries caller-supplied attribution overrides, typically
// extracted from x-pulse-* request headers. Empty fields mean "use the key's
// default".
type AttributionHints struct {
	Team    string
	Project string
	App     string
	Client  string
}
