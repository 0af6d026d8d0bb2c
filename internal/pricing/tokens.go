package pricing

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens for requests whose provider reported no usage
// block. Encoders are cached per encoding name.
type Estimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func NewEstimator() *Estimator {
	return &Estimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// EstimateText returns the token count of a text for the given model, or -1
// when the model has no known encoding.
func (e *Estimator) EstimateText(model, text string) int {
	enc := e.getEncoder(model)
	if enc == nil {
		return -1
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateMessages counts tokens for a chat message list, including the
// per-message framing overhead OpenAI documents for its chat format.
// Returns -1 when the model has no known encoding.
func (e *Estimator) EstimateMessages(model string, messages []EstimateMessage) int {
	enc := e.getEncoder(model)
	if enc == nil {
		return -1
	}

	const tokensPerMessage = 3

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(enc.Encode(msg.Role, nil, nil))
		total += len(enc.Encode(msg.Content, nil, nil))
	}
	total += 3 // reply is primed with <|start|>assistant<|message|>
	return total
}

// EstimateMessage is a simplified message shape for token counting.
type EstimateMessage struct {
	Role    string
	Content string
}

func (e *Estimator) getEncoder(model string) *tiktoken.Tiktoken {
	encoding := modelToEncoding(model)
	if encoding == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encoders[encoding]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil
	}
	e.encoders[encoding] = enc
	return enc
}

// modelToEncoding maps model names to tiktoken encoding names. Non-OpenAI
// chat models fall back to cl100k_base, which is close enough for an
// estimate when the provider reported nothing.
func modelToEncoding(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

	switch {
	case strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return "o200k_base"
	case strings.HasPrefix(model, "gpt-4"),
		strings.HasPrefix(model, "gpt-3.5"):
		return "cl100k_base"
	default:
		return "cl100k_base"
	}
}
