package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/provider"
)

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, line := range lines {
			io.WriteString(w, line+"\n\n")
			flusher.Flush()
		}
	}))
}

func TestStream(t *testing.T) {
	server := sseServer(t,
		`data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`data: {"id":"chatcmpl-1","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		`data: [DONE]`,
	)
	defer server.Close()

	a := NewWithBaseURL(server.URL)
	deltas, err := a.Stream(context.Background(), "sk-test", &provider.InvokeRequest{
		Model:    "gpt-4o",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var content strings.Builder
	var final provider.StreamDelta
	for d := range deltas {
		if d.Done {
			final = d
			continue
		}
		content.WriteString(d.Content)
	}

	assert.Equal(t, "Hello", content.String())
	assert.True(t, final.Done)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 5, final.Usage.PromptTokens)
	assert.Equal(t, 2, final.Usage.CompletionTokens)
	assert.Equal(t, 7, final.Usage.TotalTokens)
	assert.NoError(t, final.Err)
}

func TestStream_RequestsUsage(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	a := NewWithBaseURL(server.URL)
	deltas, err := a.Stream(context.Background(), "sk-test", &provider.InvokeRequest{
		Model:    "gpt-4o",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	for range deltas {
	}

	assert.Contains(t, gotBody, `"stream":true`)
	assert.Contains(t, gotBody, `"include_usage":true`)
}

func TestStream_ErrorBeforeFirstChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"rate limit reached"}}`)
	}))
	defer server.Close()

	a := NewWithBaseURL(server.URL)
	_, err := a.Stream(context.Background(), "sk-test", &provider.InvokeRequest{
		Model:    "gpt-4o",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRateLimit)
}

func TestStream_TruncatedWithoutDone(t *testing.T) {
	server := sseServer(t,
		`data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"partial"}}]}`,
	)
	defer server.Close()

	a := NewWithBaseURL(server.URL)
	deltas, err := a.Stream(context.Background(), "sk-test", &provider.InvokeRequest{
		Model:    "gpt-4o",
		Messages: []model.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var content strings.Builder
	var final provider.StreamDelta
	for d := range deltas {
		if d.Done {
			final = d
			continue
		}
		content.WriteString(d.Content)
	}

	assert.Equal(t, "partial", content.String())
	assert.True(t, final.Done)
	assert.Nil(t, final.Usage)
}
