// Package mistral adapts the Mistral "La Plateforme" API, which is wire
// compatible with the OpenAI chat completions format.
package mistral

import (
	"context"

	"github.com/pulselabs/pulse/internal/provider"
	"github.com/pulselabs/pulse/internal/provider/openai"
)

const baseURL = "https://api.mistral.ai/v1"

type Adapter struct {
	*openai.Adapter
}

func New() *Adapter {
	return NewWithBaseURL(baseURL)
}

func NewWithBaseURL(url string) *Adapter {
	return &Adapter{Adapter: openai.NewWithBaseURL(url)}
}

func (a *Adapter) Name() string            { return "mistral" }
func (a *Adapter) SupportsStreaming() bool { return false }

func (a *Adapter) Stream(context.Context, string, *provider.InvokeRequest) (<-chan provider.StreamDelta, error) {
	return nil, provider.ErrStreamingUnsupported
}

func init() {
	provider.Register(New())
}
