package postgres

import (
	"context"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/atiendohq/atiendo/store"
)

// CreateLLMCall appends one row to the ai.llm_calls ledger.
func (d *DB) CreateLLMCall(ctx context.Context, create *store.LLMCall) error {
	stmt := `
		INSERT INTO ai.llm_calls (
			business_id, execution_id, operation_type, operation_context,
			provider, model,
			input_tokens, output_tokens, cached_tokens, total_tokens,
			input_cost, output_cost, cached_cost, total_cost,
			duration_ms, reasoning_effort, cache_hit, error
		) VALUES (` + placeholders(18) + `)
	`

	operationContext, err := json.Marshal(create.OperationContext)
	if err != nil {
		return errors.Wrap(err, "failed to encode operation context")
	}

	_, err = d.db.ExecContext(ctx, stmt,
		create.BusinessID, create.ExecutionID, create.OperationType, operationContext,
		create.Provider, create.Model,
		create.InputTokens, create.OutputTokens, create.CachedTokens, create.TotalTokens,
		create.InputCost, create.OutputCost, create.CachedCost, create.TotalCost,
		create.DurationMs, nullString(create.ReasoningEffort), create.CacheHit, create.Error,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create llm call")
	}
	return nil
}

// CreateRAGMetrics appends one row to ai.rag_metrics.
func (d *DB) CreateRAGMetrics(ctx context.Context, create *store.RAGMetrics) error {
	stmt := `
		INSERT INTO ai.rag_metrics (
			business_id, execution_id, query, search_strategy,
			queries_used, queries_executed, semantic_weight, keyword_weight,
			chunks_retrieved, chunks_after_reranking, chunks_validated, chunks_returned,
			top_combined_score, top_rerank_score, threshold_used,
			rerank_applied, relevance_validation_passed, fallback_used,
			search_duration_ms, reranking_duration_ms, duration_ms, error
		) VALUES (` + placeholders(22) + `)
	`

	_, err := d.db.ExecContext(ctx, stmt,
		create.BusinessID, create.ExecutionID, create.Query, create.SearchStrategy,
		pq.Array(create.QueriesUsed), create.QueriesExecuted, create.SemanticWeight, create.KeywordWeight,
		create.ChunksRetrieved, create.ChunksAfterRerank, create.ChunksValidated, create.ChunksReturned,
		create.TopCombinedScore, create.TopRerankScore, create.ThresholdUsed,
		create.RerankApplied, create.ValidationPassed, create.FallbackUsed,
		create.SearchDurationMs, create.RerankDurationMs, create.DurationMs, create.Error,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create rag metrics")
	}
	return nil
}

// CreateToolExecution appends one audit row to ai.tool_executions.
func (d *DB) CreateToolExecution(ctx context.Context, create *store.ToolExecution) error {
	stmt := `
		INSERT INTO ai.tool_executions (
			business_id, execution_id, tool_name, request, response,
			success, duration_ms, error
		) VALUES (` + placeholders(8) + `)
	`

	request, err := json.Marshal(create.Request)
	if err != nil {
		return errors.Wrap(err, "failed to encode tool request")
	}
	response, err := json.Marshal(create.Response)
	if err != nil {
		return errors.Wrap(err, "failed to encode tool response")
	}

	_, err = d.db.ExecContext(ctx, stmt,
		create.BusinessID, create.ExecutionID, create.ToolName, request, response,
		create.Success, create.DurationMs, create.Error,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create tool execution")
	}
	return nil
}
