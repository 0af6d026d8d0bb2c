// Package pricing holds the per-provider, per-model EUR pricing table and
// the token estimation fallback used when a provider reports no usage block.
package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var defaultTableYAML []byte

// ModelPrice holds the EUR cost per token for one model.
type ModelPrice struct {
	InputCostPerToken  float64 `yaml:"input_cost_per_token"`
	OutputCostPerToken float64 `yaml:"output_cost_per_token"`
}

// Table calculates request costs from token counts. Entries are keyed
// "provider/model"; a bare model name matches any provider.
type Table struct {
	mu        sync.RWMutex
	models    map[string]ModelPrice
	overrides map[string]ModelPrice
}

var defaultTable *Table
var once sync.Once

// Default returns the singleton table loaded from the embedded data.
func Default() *Table {
	once.Do(func() {
		t, err := parse(defaultTableYAML)
		if err != nil {
			// Embedded table is validated by tests; an empty table just
			// means every model prices at zero.
			t = &Table{models: make(map[string]ModelPrice), overrides: make(map[string]ModelPrice)}
		}
		defaultTable = t
	})
	return defaultTable
}

// Load reads a pricing table from a YAML file on disk.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing table: %w", err)
	}
	t, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse pricing table %s: %w", path, err)
	}
	return t, nil
}

func parse(data []byte) (*Table, error) {
	models := make(map[string]ModelPrice)
	if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, err
	}
	return &Table{models: models, overrides: make(map[string]ModelPrice)}, nil
}

// Cost returns the EUR cost for a call, split into prompt and completion
// parts. Unknown models cost zero.
func (t *Table) Cost(provider, model string, promptTokens, completionTokens int) (float64, float64) {
	price := t.lookup(provider, model)
	if price == nil {
		return 0, 0
	}
	return float64(promptTokens) * price.InputCostPerToken,
		float64(completionTokens) * price.OutputCostPerToken
}

// TotalCost returns the combined EUR cost for a call.
func (t *Table) TotalCost(provider, model string, promptTokens, completionTokens int) float64 {
	prompt, completion := t.Cost(provider, model, promptTokens, completionTokens)
	return prompt + completion
}

// Known reports whether the table has a price for the model. Calls to
// unknown models are never billed.
func (t *Table) Known(provider, model string) bool {
	return t.lookup(provider, model) != nil
}

// SetCustomPricing registers an override for a model. Overrides win over
// loaded entries.
func (t *Table) SetCustomPricing(provider, model string, price ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides[provider+"/"+model] = price
}

// lookup checks overrides first, then "provider/model", then the bare
// model name.
func (t *Table) lookup(provider, model string) *ModelPrice {
	t.mu.RLock()
	defer t.mu.RUnlock()

	qualified := provider + "/" + model
	if price, ok := t.overrides[qualified]; ok {
		return &price
	}
	if price, ok := t.models[qualified]; ok {
		return &price
	}

	bare := model
	if idx := strings.Index(model, "/"); idx >= 0 {
		bare = model[idx+1:]
	}
	if price, ok := t.overrides[bare]; ok {
		return &price
	}
	if price, ok := t.models[bare]; ok {
		return &price
	}
	return nil
}
