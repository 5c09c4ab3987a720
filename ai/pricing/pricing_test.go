package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name         string
		model        string
		inputTokens  int
		outputTokens int
		cachedTokens int
		want         Cost
	}{
		{
			name:         "known model",
			model:        "gpt-5-mini",
			inputTokens:  1000,
			outputTokens: 500,
			want:         Cost{Input: 0.00025, Output: 0.001, Cached: 0, Total: 0.00125},
		},
		{
			name:         "cached tokens billed at cached rate",
			model:        "gpt-5-mini",
			inputTokens:  1000,
			outputTokens: 500,
			cachedTokens: 2000,
			want:         Cost{Input: 0.00025, Output: 0.001, Cached: 0.00005, Total: 0.0013},
		},
		{
			name:         "unknown model falls back to default price",
			model:        "some-new-model",
			inputTokens:  1000,
			outputTokens: 500,
			want:         Cost{Input: 0.00025, Output: 0.001, Cached: 0, Total: 0.00125},
		},
		{
			name:         "model without prompt caching ignores cached tokens",
			model:        "gpt-3.5-turbo",
			inputTokens:  1_000_000,
			outputTokens: 0,
			cachedTokens: 1_000_000,
			want:         Cost{Input: 0.50, Output: 0, Cached: 0, Total: 0.50},
		},
		{
			name:        "embedding model has free output",
			model:       "text-embedding-3-small",
			inputTokens: 1_000_000,
			want:        Cost{Input: 0.02, Output: 0, Cached: 0, Total: 0.02},
		},
		{
			name:  "zero tokens cost nothing",
			model: "gpt-5",
			want:  Cost{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.model, tt.inputTokens, tt.outputTokens, tt.cachedTokens)
			assert.InDelta(t, tt.want.Input, got.Input, 1e-12)
			assert.InDelta(t, tt.want.Output, got.Output, 1e-12)
			assert.InDelta(t, tt.want.Cached, got.Cached, 1e-12)
			assert.InDelta(t, tt.want.Total, got.Total, 1e-12)
		})
	}
}

func TestCalculateTotalIsSumOfParts(t *testing.T) {
	for _, model := range SupportedModels() {
		got := Calculate(model, 123_456, 78_901, 23_456)
		assert.InDelta(t, got.Input+got.Output+got.Cached, got.Total, 1e-8, "model %s", model)
	}
}

func TestLookup(t *testing.T) {
	price, ok := Lookup("gpt-5-mini")
	require.True(t, ok)
	assert.Equal(t, 0.25, price.Input)
	assert.Equal(t, 2.00, price.Output)
	require.NotNil(t, price.CachedInput)
	assert.Equal(t, 0.025, *price.CachedInput)

	price, ok = Lookup("nope")
	assert.False(t, ok)
	assert.Equal(t, 0.25, price.Input)
}
