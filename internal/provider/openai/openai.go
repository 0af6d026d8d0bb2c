package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

// Adapter implements the OpenAI provider.
type Adapter struct {
	baseURL string
	client  *http.Client
}

// New creates a new OpenAI adapter with the default base URL.
func New() *Adapter {
	return NewWithBaseURL(defaultBaseURL)
}

// NewWithBaseURL creates a new OpenAI adapter with a custom base URL.
func NewWithBaseURL(baseURL string) *Adapter {
	return &Adapter{baseURL: baseURL, client: http.DefaultClient}
}

func (a *Adapter) Name() string            { return "openai" }
func (a *Adapter) SupportsStreaming() bool { return true }

func (a *Adapter) Invoke(ctx context.Context, secret string, req *provider.InvokeRequest) (*provider.InvokeResult, error) {
	httpReq, err := a.buildRequest(ctx, secret, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", provider.RedactError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}

	var result model.ModelResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}

	content := ""
	if len(result.Choices) > 0 && result.Choices[0].Message != nil {
		content = result.Choices[0].Message.Content
	}

	return &provider.InvokeResult{
		Content:      content,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
		Raw:          body,
	}, nil
}

func (a *Adapter) buildRequest(ctx context.Context, secret string, req *provider.InvokeRequest, stream bool) (*http.Request, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+secret)
	return httpReq, nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	msg := fmt.Sprintf("openai returned status %d", resp.StatusCode)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	ge := model.NewGatewayError(model.MapHTTPStatusToError(resp.StatusCode), provider.Redact(msg))
	ge.Provider = "openai"
	return ge
}

func init() {
	provider.Register(New())
}
