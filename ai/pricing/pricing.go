// Package pricing maps model names to per-million-token prices and
// computes call costs. Prices follow the OpenAI standard tier and the
// published Groq rates.
package pricing

import "math"

// Price holds USD prices per one million tokens. CachedInput is nil
// for models without prompt caching.
type Price struct {
	Input       float64
	Output      float64
	CachedInput *float64
}

// Cost is the USD breakdown of a single call, each part rounded to
// eight decimals.
type Cost struct {
	Input  float64
	Output float64
	Cached float64
	Total  float64
}

func cached(v float64) *float64 { return &v }

// defaultPrice is applied to unknown models so cost tracking never
// silently drops a call.
var defaultPrice = Price{Input: 0.25, Output: 2.00, CachedInput: cached(0.025)}

var prices = map[string]Price{
	// OpenAI GPT-5
	"gpt-5.1":             {Input: 1.25, Output: 10.00, CachedInput: cached(0.125)},
	"gpt-5":               {Input: 1.25, Output: 10.00, CachedInput: cached(0.125)},
	"gpt-5-mini":          {Input: 0.25, Output: 2.00, CachedInput: cached(0.025)},
	"gpt-5-nano":          {Input: 0.05, Output: 0.40, CachedInput: cached(0.005)},
	"gpt-5-chat-latest":   {Input: 1.25, Output: 10.00, CachedInput: cached(0.125)},
	"gpt-5.1-chat-latest": {Input: 1.25, Output: 10.00, CachedInput: cached(0.125)},
	"gpt-5-codex":         {Input: 1.25, Output: 10.00, CachedInput: cached(0.125)},
	"gpt-5.1-codex":       {Input: 1.25, Output: 10.00, CachedInput: cached(0.125)},
	"gpt-5-pro":           {Input: 15.00, Output: 120.00},

	// OpenAI GPT-4.1
	"gpt-4.1":      {Input: 2.00, Output: 8.00, CachedInput: cached(0.50)},
	"gpt-4.1-mini": {Input: 0.40, Output: 1.60, CachedInput: cached(0.10)},
	"gpt-4.1-nano": {Input: 0.10, Output: 0.40, CachedInput: cached(0.025)},

	// OpenAI GPT-4o
	"gpt-4o":            {Input: 2.50, Output: 10.00, CachedInput: cached(1.25)},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.60, CachedInput: cached(0.075)},
	"gpt-4o-2024-05-13": {Input: 5.00, Output: 15.00},
	"gpt-4o-2024-08-06": {Input: 2.50, Output: 10.00, CachedInput: cached(1.25)},

	// OpenAI reasoning models
	"o1":                    {Input: 15.00, Output: 60.00, CachedInput: cached(7.50)},
	"o1-pro":                {Input: 150.00, Output: 600.00},
	"o3":                    {Input: 2.00, Output: 8.00, CachedInput: cached(0.50)},
	"o3-pro":                {Input: 20.00, Output: 80.00},
	"o3-deep-research":      {Input: 10.00, Output: 40.00, CachedInput: cached(2.50)},
	"o4-mini":               {Input: 1.10, Output: 4.40, CachedInput: cached(0.275)},
	"o4-mini-deep-research": {Input: 2.00, Output: 8.00, CachedInput: cached(0.50)},
	"o3-mini":               {Input: 1.10, Output: 4.40, CachedInput: cached(0.55)},
	"o1-mini":               {Input: 1.10, Output: 4.40, CachedInput: cached(0.55)},

	// OpenAI embeddings
	"text-embedding-3-small": {Input: 0.02, Output: 0.0},
	"text-embedding-3-large": {Input: 0.13, Output: 0.0},
	"text-embedding-ada-002": {Input: 0.10, Output: 0.0},

	// Groq
	"openai/gpt-oss-120b": {Input: 0.15, Output: 0.60, CachedInput: cached(0.075)},

	// Legacy OpenAI models
	"gpt-4-turbo-2024-04-09": {Input: 10.00, Output: 30.00},
	"gpt-3.5-turbo":          {Input: 0.50, Output: 1.50},
}

// Lookup returns the price for a model and whether the model is known.
// Unknown models get the default price.
func Lookup(model string) (Price, bool) {
	if p, ok := prices[model]; ok {
		return p, true
	}
	return defaultPrice, false
}

// SupportedModels lists every model with configured pricing.
func SupportedModels() []string {
	models := make([]string, 0, len(prices))
	for model := range prices {
		models = append(models, model)
	}
	return models
}

// Calculate breaks down the cost of a call. Cached tokens are billed
// at the cached-input rate when the model supports prompt caching and
// are free-of-charge otherwise, matching provider billing.
func Calculate(model string, inputTokens, outputTokens, cachedTokens int) Cost {
	price, _ := Lookup(model)

	inputCost := float64(inputTokens) / 1e6 * price.Input
	outputCost := float64(outputTokens) / 1e6 * price.Output

	cachedCost := 0.0
	if cachedTokens > 0 && price.CachedInput != nil {
		cachedCost = float64(cachedTokens) / 1e6 * *price.CachedInput
	}

	return Cost{
		Input:  round8(inputCost),
		Output: round8(outputCost),
		Cached: round8(cachedCost),
		Total:  round8(inputCost + outputCost + cachedCost),
	}
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
