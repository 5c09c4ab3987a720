// Package tracker measures every model call the agent makes and
// appends one row per call to the llm_calls ledger. Persistence is
// best effort: a failed insert is logged and never interrupts the
// conversation.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/pricing"
	"github.com/atiendohq/atiendo/store"
)

// persistTimeout bounds the ledger insert so a slow database cannot
// stall a turn that already finished its model call.
const persistTimeout = 5 * time.Second

// TurnUsage accumulates tokens and cost across all calls of one turn.
type TurnUsage struct {
	mu     sync.Mutex
	tokens int
	cost   float64
}

// Add records tokens and cost from one call.
func (u *TurnUsage) Add(tokens int, cost float64) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tokens += tokens
	u.cost += cost
}

// Tokens returns the accumulated token count.
func (u *TurnUsage) Tokens() int {
	if u == nil {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tokens
}

// Cost returns the accumulated cost in USD.
func (u *TurnUsage) Cost() float64 {
	if u == nil {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cost
}

type turnKey struct{}

// WithTurn attaches a turn accumulator to the context so nested
// services add their usage to the running turn.
func WithTurn(ctx context.Context, usage *TurnUsage) context.Context {
	return context.WithValue(ctx, turnKey{}, usage)
}

// TurnFrom extracts the turn accumulator, or nil outside a turn.
func TurnFrom(ctx context.Context) *TurnUsage {
	usage, _ := ctx.Value(turnKey{}).(*TurnUsage)
	return usage
}

// Tracker writes llm_calls rows.
type Tracker struct {
	store *store.Store
}

// New creates a Tracker backed by the given store.
func New(s *store.Store) *Tracker {
	return &Tracker{store: s}
}

// CallOptions identifies one model call for the ledger.
type CallOptions struct {
	BusinessID      string
	ExecutionID     string
	OperationType   string
	Provider        string
	Model           string
	ReasoningEffort string
	Context         map[string]any
}

// Call is one in-flight measured call. Begin it before the request,
// Record the usage on success, End it in all cases.
type Call struct {
	tracker *Tracker
	opts    CallOptions
	started time.Time
	usage   llm.Usage
}

// Begin starts measuring a call.
func (t *Tracker) Begin(opts CallOptions) *Call {
	return &Call{tracker: t, opts: opts, started: time.Now()}
}

// Record stores the provider-reported usage for the call.
func (c *Call) Record(usage llm.Usage) {
	c.usage = usage
}

// End computes cost, appends the ledger row and feeds the turn
// accumulator. Failed calls are persisted too, with their error and
// whatever usage was recorded before the failure.
func (c *Call) End(ctx context.Context, callErr error) {
	duration := time.Since(c.started)
	cost := pricing.Calculate(c.opts.Model, c.usage.InputTokens, c.usage.OutputTokens, c.usage.CachedTokens)
	// Cached tokens are a subset of the input, priced separately but
	// never double-counted.
	totalTokens := c.usage.InputTokens + c.usage.OutputTokens

	TurnFrom(ctx).Add(totalTokens, cost.Total)

	row := &store.LLMCall{
		BusinessID:       c.opts.BusinessID,
		OperationType:    c.opts.OperationType,
		OperationContext: c.opts.Context,
		Provider:         c.opts.Provider,
		Model:            c.opts.Model,
		InputTokens:      c.usage.InputTokens,
		OutputTokens:     c.usage.OutputTokens,
		CachedTokens:     c.usage.CachedTokens,
		TotalTokens:      totalTokens,
		InputCost:        cost.Input,
		OutputCost:       cost.Output,
		CachedCost:       cost.Cached,
		TotalCost:        cost.Total,
		DurationMs:       duration.Milliseconds(),
		ReasoningEffort:  c.opts.ReasoningEffort,
		CacheHit:         c.usage.CachedTokens > 0,
	}
	if c.opts.ExecutionID != "" {
		id := c.opts.ExecutionID
		row.ExecutionID = &id
	}
	if callErr != nil {
		msg := callErr.Error()
		row.Error = &msg
	}

	// Detach from the turn context so a cancelled turn still gets its
	// ledger row.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := c.tracker.store.CreateLLMCall(persistCtx, row); err != nil {
		slog.Error("Tracker: failed to persist llm call",
			"business_id", c.opts.BusinessID,
			"operation", c.opts.OperationType,
			"model", c.opts.Model,
			"error", err,
		)
	}
}

// EstimateTokens approximates token usage for text where the provider
// reports none, using the 4-chars-per-token rule.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
