package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pulselabs/pulse/internal/model"
	"github.com/pulselabs/pulse/internal/provider"
)

var doneMarker = []byte("[DONE]")

// Stream performs an incremental chat completion. Deltas are sent on the
// returned channel as they arrive; the channel is closed after the final
// delta (Done=true, with usage when the provider reported one).
func (a *Adapter) Stream(ctx context.Context, secret string, req *provider.InvokeRequest) (<-chan provider.StreamDelta, error) {
	httpReq, err := a.buildRequest(ctx, secret, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream request failed: %w", provider.RedactError(err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseErrorResponse(resp)
	}

	out := make(chan provider.StreamDelta)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var usage *model.Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := bytes.TrimSpace([]byte(strings.TrimPrefix(line, "data: ")))

			if bytes.Equal(data, doneMarker) {
				out <- provider.StreamDelta{Done: true, Usage: usage}
				return
			}

			var chunk model.StreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != nil {
				select {
				case out <- provider.StreamDelta{Content: *chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					// Caller went away: stop reading from upstream but still
					// surface whatever usage was reported so far.
					out <- provider.StreamDelta{Done: true, Usage: usage, Err: ctx.Err()}
					return
				}
			}
		}

		// Stream ended without [DONE].
		if err := scanner.Err(); err != nil && err != io.EOF {
			out <- provider.StreamDelta{Done: true, Usage: usage, Err: provider.RedactError(err)}
			return
		}
		out <- provider.StreamDelta{Done: true, Usage: usage}
	}()

	return out, nil
}
