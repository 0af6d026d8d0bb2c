package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	messagesEndpoint = "/v1/messages"
	apiVersion       = "2023-06-01"

	defaultMaxTokens = 4096
)

// Adapter implements the Anthropic translation layer. It is invoked through
// the buffered path only; streaming requests are served by the orchestrator
// as a single-chunk pseudo-stream.
type Adapter struct {
	baseURL string
	client  *http.Client
}

func New() *Adapter {
	return NewWithBaseURL(defaultBaseURL)
}

func NewWithBaseURL(baseURL string) *Adapter {
	return &Adapter{baseURL: baseURL, client: http.DefaultClient}
}

func (a *Adapter) Name() string            { return "anthropic" }
func (a *Adapter) SupportsStreaming() bool { return false }

func (a *Adapter) Stream(context.Context, string, *provider.InvokeRequest) (<-chan provider.StreamDelta, error) {
	return nil, provider.ErrStreamingUnsupported
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Invoke(ctx context.Context, secret string, req *provider.InvokeRequest) (*provider.InvokeResult, error) {
	body := transformRequestBody(req)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+messagesEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("x-api-key", secret)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", provider.RedactError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}

	var ar anthropicResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	var content string
	for _, block := range ar.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &provider.InvokeResult{
		Content:      content,
		InputTokens:  ar.Usage.InputTokens,
		OutputTokens: ar.Usage.OutputTokens,
		Raw:          raw,
	}, nil
}

// transformRequestBody converts the normalized request into Anthropic's
// messages format: system messages are hoisted out of the message list.
func transformRequestBody(req *provider.InvokeRequest) map[string]any {
	var system string
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system += msg.Content
			continue
		}
		messages = append(messages, map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := map[string]any{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if system != "" {
		body["system"] = system
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	return body
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	msg := fmt.Sprintf("anthropic returned status %d", resp.StatusCode)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	ge := model.NewGatewayError(model.MapHTTPStatusToError(resp.StatusCode), provider.Redact(msg))
	ge.Provider = "anthropic"
	return ge
}

func init() {
	provider.Register(New())
}
