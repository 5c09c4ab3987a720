package store

// LLMCall is one row of the ai.llm_calls ledger. Every model call the
// agent makes produces exactly one row, including failed calls.
type LLMCall struct {
	BusinessID  string
	ExecutionID *string

	OperationType    string
	OperationContext map[string]any

	Provider string
	Model    string

	InputTokens  int
	OutputTokens int
	CachedTokens int
	TotalTokens  int

	InputCost  float64
	OutputCost float64
	CachedCost float64
	TotalCost  float64

	DurationMs      int64
	ReasoningEffort string
	CacheHit        bool
	Error           *string
}
