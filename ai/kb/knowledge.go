// Package kb searches a business's knowledge base. Both search modes
// embed the query first, so they check chunk existence up front to
// avoid paying for embeddings against an empty knowledge base.
package kb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atiendohq/atiendo/ai/core/embedding"
	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/tracker"
	"github.com/atiendohq/atiendo/store"
)

// KnowledgeBase runs retrieval queries for one deployment.
type KnowledgeBase struct {
	store    *store.Store
	embedder embedding.Service
	tracker  *tracker.Tracker
}

// New creates a KnowledgeBase client.
func New(s *store.Store, embedder embedding.Service, t *tracker.Tracker) *KnowledgeBase {
	return &KnowledgeBase{store: s, embedder: embedder, tracker: t}
}

// SemanticSearch finds chunks by vector similarity alone.
type SemanticSearch struct {
	BusinessID  string
	Query       string
	K           int
	Threshold   float64
	DocumentIDs []string
	ExecutionID string
}

// HybridSearch blends vector similarity with Spanish keyword rank.
type HybridSearch struct {
	BusinessID     string
	Query          string
	K              int
	SemanticWeight float64
	KeywordWeight  float64
	Threshold      float64
	ExecutionID    string
}

func validateCommon(businessID, query string, k int, threshold float64) error {
	if businessID == "" {
		return fmt.Errorf("business id required")
	}
	if query == "" {
		return fmt.Errorf("query required")
	}
	if k < 1 {
		return fmt.Errorf("k must be >= 1, got %d", k)
	}
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be in [0, 1], got %v", threshold)
	}
	return nil
}

// Semantic runs a pure vector search. Returns no chunks (and no
// error) when the business has nothing indexed.
func (kb *KnowledgeBase) Semantic(ctx context.Context, find *SemanticSearch) ([]*store.Chunk, error) {
	if err := validateCommon(find.BusinessID, find.Query, find.K, find.Threshold); err != nil {
		return nil, err
	}

	vector, ok, err := kb.embedQuery(ctx, find.BusinessID, find.ExecutionID, find.Query)
	if err != nil || !ok {
		return nil, err
	}

	chunks, err := kb.store.SemanticSearch(ctx, &store.SemanticSearch{
		BusinessID:  find.BusinessID,
		Embedding:   vector,
		K:           find.K,
		Threshold:   find.Threshold,
		DocumentIDs: find.DocumentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	slog.Debug("KB: semantic search",
		"business_id", find.BusinessID,
		"k", find.K,
		"threshold", find.Threshold,
		"results", len(chunks),
	)
	return chunks, nil
}

// Hybrid runs the weighted semantic+keyword search.
func (kb *KnowledgeBase) Hybrid(ctx context.Context, find *HybridSearch) ([]*store.Chunk, error) {
	if err := validateCommon(find.BusinessID, find.Query, find.K, find.Threshold); err != nil {
		return nil, err
	}
	if find.SemanticWeight < 0 || find.KeywordWeight < 0 {
		return nil, fmt.Errorf("weights must be >= 0")
	}

	vector, ok, err := kb.embedQuery(ctx, find.BusinessID, find.ExecutionID, find.Query)
	if err != nil || !ok {
		return nil, err
	}

	chunks, err := kb.store.HybridSearch(ctx, &store.HybridSearch{
		BusinessID:     find.BusinessID,
		Query:          find.Query,
		Embedding:      vector,
		K:              find.K,
		SemanticWeight: find.SemanticWeight,
		KeywordWeight:  find.KeywordWeight,
		Threshold:      find.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}

	slog.Debug("KB: hybrid search",
		"business_id", find.BusinessID,
		"k", find.K,
		"threshold", find.Threshold,
		"results", len(chunks),
	)
	return chunks, nil
}

// Stats summarizes the knowledge base of a business.
func (kb *KnowledgeBase) Stats(ctx context.Context, businessID string) (*store.KnowledgeStats, error) {
	if businessID == "" {
		return nil, fmt.Errorf("business id required")
	}
	return kb.store.GetKnowledgeStats(ctx, businessID)
}

// embedQuery returns the query vector, or ok=false when the business
// has no indexed chunks. The embedding call is tracked with estimated
// tokens because the embeddings API reports usage unreliably across
// providers.
func (kb *KnowledgeBase) embedQuery(ctx context.Context, businessID, executionID, query string) ([]float32, bool, error) {
	count, err := kb.store.CountChunksWithEmbeddings(ctx, businessID)
	if err != nil {
		return nil, false, fmt.Errorf("chunk count failed: %w", err)
	}
	if count == 0 {
		slog.Debug("KB: no indexed chunks, skipping embedding", "business_id", businessID)
		return nil, false, nil
	}

	call := kb.tracker.Begin(tracker.CallOptions{
		BusinessID:    businessID,
		ExecutionID:   executionID,
		OperationType: "embedding",
		Provider:      "openai",
		Model:         kb.embedder.Model(),
		Context:       map[string]any{"query_chars": len(query)},
	})

	vector, err := kb.embedder.Embed(ctx, query)
	if err == nil {
		call.Record(llm.Usage{InputTokens: tracker.EstimateTokens(query)})
	}
	call.End(ctx, err)
	if err != nil {
		return nil, false, fmt.Errorf("query embedding failed: %w", err)
	}

	return vector, true, nil
}
