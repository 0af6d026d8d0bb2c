package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTableLoads(t *testing.T) {
	table := Default()
	assert.True(t, table.Known("openai", "gpt-4"))
	assert.True(t, table.Known("anthropic", "claude-sonnet-4"))
	assert.True(t, table.Known("mistral", "mistral-large-latest"))
	assert.False(t, table.Known("openai", "unknown-model"))
}

func TestCost(t *testing.T) {
	table := &Table{
		models: map[string]ModelPrice{
			"openai/gpt-4": {InputCostPerToken: 0.00003, OutputCostPerToken: 0.00006},
		},
		overrides: make(map[string]ModelPrice),
	}

	prompt, completion := table.Cost("openai", "gpt-4", 1000, 500)
	assert.InDelta(t, 0.03, prompt, 1e-9)
	assert.InDelta(t, 0.03, completion, 1e-9)
	assert.InDelta(t, 0.06, table.TotalCost("openai", "gpt-4", 1000, 500), 1e-9)
}

func TestCost_UnknownModelIsZero(t *testing.T) {
	table := Default()
	prompt, completion := table.Cost("openai", "unknown-model", 100, 100)
	assert.Zero(t, prompt)
	assert.Zero(t, completion)
}

func TestLookup_BareModelFallback(t *testing.T) {
	table := &Table{
		models: map[string]ModelPrice{
			"gpt-4o": {InputCostPerToken: 0.000002, OutputCostPerToken: 0.000008},
		},
		overrides: make(map[string]ModelPrice),
	}
	// Bare entries match regardless of provider.
	assert.True(t, table.Known("openai", "gpt-4o"))
	assert.True(t, table.Known("azure", "gpt-4o"))
}

func TestSetCustomPricing(t *testing.T) {
	table := &Table{
		models: map[string]ModelPrice{
			"openai/gpt-4": {InputCostPerToken: 0.00003, OutputCostPerToken: 0.00006},
		},
		overrides: make(map[string]ModelPrice),
	}
	table.SetCustomPricing("openai", "gpt-4", ModelPrice{InputCostPerToken: 0.00001, OutputCostPerToken: 0.00002})

	prompt, _ := table.Cost("openai", "gpt-4", 1000, 0)
	assert.InDelta(t, 0.01, prompt, 1e-9)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"acme/fast-model:\n  input_cost_per_token: 0.000001\n  output_cost_per_token: 0.000002\n"), 0o644))

	table, err := Load(path)
	require.NoError(t, err)
	assert.True(t, table.Known("acme", "fast-model"))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEstimateMessages(t *testing.T) {
	e := NewEstimator()
	n := e.EstimateMessages("gpt-4o", []EstimateMessage{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "Hello, how are you?"},
	})
	// Exact counts depend on the encoder; just verify framing overhead is
	// counted on top of the content.
	assert.Greater(t, n, 10)

	single := e.EstimateMessages("gpt-4o", []EstimateMessage{{Role: "user", Content: "hi"}})
	assert.Less(t, single, n)
}

func TestEstimateText_NonOpenAIFallback(t *testing.T) {
	e := NewEstimator()
	n := e.EstimateText("claude-sonnet-4", "some words to count")
	assert.Greater(t, n, 0)
}
