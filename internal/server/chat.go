package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pulselabs/pulse/internal/auth"
	"github.com/pulselabs/pulse/internal/model"
)

// ChatCompletion handles POST /v1/chat/completions (and /v1/responses).
func (s *Server) ChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req model.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
			Error: model.ErrorDetail{
				Message: "invalid request body: " + err.Error(),
				Type:    "invalid_request_error",
			},
		})
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
			Error: model.ErrorDetail{
				Message: "model and messages are required",
				Type:    "invalid_request_error",
			},
		})
		return
	}

	bearer := auth.ExtractToken(r)
	hints := attributionHints(r)

	if req.IsStreaming() {
		s.streamCompletion(w, r, bearer, hints, &req)
		return
	}

	result, err := s.gateway.Invoke(r.Context(), bearer, hints, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	finish := "stop"
	writeJSON(w, http.StatusOK, model.ModelResponse{
		ID:      result.RequestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   result.Model,
		Choices: []model.Choice{{
			Index:        0,
			Message:      &model.Message{Role: "assistant", Content: result.Content},
			FinishReason: &finish,
		}},
		Usage: result.Usage,
	})
}

// streamCompletion serves the SSE path. Failures before the stream opens
// map to a plain JSON error; failures mid-stream are delivered as a final
// SSE error event followed by [DONE].
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, bearer string, hints model.AttributionHints, req *model.ChatCompletionRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
			Error: model.ErrorDetail{Message: "streaming unsupported by transport", Type: "api_error"},
		})
		return
	}

	result, err := s.gateway.InvokeStream(r.Context(), bearer, hints, req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	created := time.Now().Unix()
	for delta := range result.Deltas {
		if delta.Err != nil {
			ge := model.AsGatewayError(delta.Err)
			payload, _ := json.Marshal(ge.Envelope())
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			continue
		}
		if delta.Done {
			continue
		}

		content := delta.Content
		chunk := model.StreamChunk{
			ID:      result.RequestID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   result.Model,
			Choices: []model.StreamChoice{{
				Index: 0,
				Delta: model.Delta{Content: &content},
			}},
		}
		payload, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// attributionHints extracts caller attribution overrides from x-pulse-*
// headers.
func attributionHints(r *http.Request) model.AttributionHints {
	return model.AttributionHints{
		Team:    r.Header.Get("x-pulse-team"),
		Project: r.Header.Get("x-pulse-project"),
		App:     r.Header.Get("x-pulse-app"),
		Client:  r.Header.Get("x-pulse-client"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps gateway errors onto the JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	ge := model.AsGatewayError(err)
	if ge.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprint(ge.RetryAfterSeconds))
	}
	writeJSON(w, ge.StatusCode, ge.Envelope())
}
