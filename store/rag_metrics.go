package store

// RAGMetrics is one row of ai.rag_metrics, written once per RAG
// pipeline run whether or not the run produced chunks.
type RAGMetrics struct {
	BusinessID  string
	ExecutionID *string

	Query           string
	SearchStrategy  string
	QueriesUsed     []string
	QueriesExecuted int

	SemanticWeight float64
	KeywordWeight  float64

	ChunksRetrieved   int
	ChunksAfterRerank *int
	ChunksValidated   int
	ChunksReturned    int

	TopCombinedScore float64
	TopRerankScore   *float64
	ThresholdUsed    float64

	RerankApplied    bool
	ValidationPassed *bool
	FallbackUsed     bool

	SearchDurationMs int64
	RerankDurationMs *int64
	DurationMs       int64
	Error            *string
}

// ToolExecution is one row of ai.tool_executions, an audit record for
// each tool the agent ran during a turn.
type ToolExecution struct {
	BusinessID  string
	ExecutionID *string

	ToolName   string
	Request    map[string]any
	Response   map[string]any
	Success    bool
	DurationMs int64
	Error      *string
}
