package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/store"
)

func TestAdaptiveThreshold(t *testing.T) {
	tests := []struct {
		confidence float64
		want       float64
	}{
		{0.9, 0.30},
		{0.86, 0.30},
		{0.85, 0.35},
		{0.75, 0.35},
		{0.71, 0.35},
		{0.70, 0.40},
		{0.5, 0.40},
		{0.0, 0.40},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("confidence %v", tt.confidence), func(t *testing.T) {
			assert.Equal(t, tt.want, adaptiveThreshold(tt.confidence))
		})
	}
}

func TestValidateRelevance(t *testing.T) {
	chunks := []*store.Chunk{
		{ID: "strong", CombinedScore: 0.8, RerankScore: ptr(0.9)},
		{ID: "weak-combined", CombinedScore: 0.39, RerankScore: ptr(0.9)},
		{ID: "weak-rerank", CombinedScore: 0.8, RerankScore: ptr(0.49)},
		{ID: "boundary", CombinedScore: 0.4, RerankScore: ptr(0.5)},
		{ID: "never-reranked", CombinedScore: 0.45},
	}

	validated := validateRelevance(chunks)

	ids := make([]string, 0, len(validated))
	for _, c := range validated {
		ids = append(ids, c.ID)
	}
	// Unreranked chunks pass the rerank gate by default.
	assert.Equal(t, []string{"strong", "boundary", "never-reranked"}, ids)
}

func ragState(strategy SearchStrategy, confidence float64) *State {
	return &State{
		BusinessID:         "biz-1",
		ExecutionID:        "exec-1",
		Confidence:         confidence,
		NeedsKnowledgeBase: true,
		KBSearchStrategy:   strategy,
		Messages:           []Message{HumanMessage("¿cuánto cuesta el envío?")},
	}
}

func TestOptimizedRAGDedupKeepsBestScore(t *testing.T) {
	driver := &fakeDriver{
		cfg:        enabledConfig(),
		chunkCount: 10,
		hybridFn: func(find *store.HybridSearch) ([]*store.Chunk, error) {
			// The same chunk scores differently per query variation.
			if find.Query == "¿cuánto cuesta el envío?" {
				return []*store.Chunk{
					{ID: "c1", DocumentID: "d1", ChunkIndex: 0, Content: "Envíos 24h.", CombinedScore: 0.55},
					{ID: "c2", DocumentID: "d1", ChunkIndex: 1, Content: "Cuesta 10 soles.", CombinedScore: 0.70},
				}, nil
			}
			return []*store.Chunk{
				{ID: "c1", DocumentID: "d1", ChunkIndex: 0, Content: "Envíos 24h.", CombinedScore: 0.80},
			}, nil
		},
	}
	groq := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return textResult(`{"queries": ["precio del envío"]}`)
	}}
	eng := newTestEngine(driver, &scriptedLLM{}, groq)
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := ragState(SearchBroad, 0.8)
	update, err := tn.optimizedRAG(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	// broad = original + one variation.
	require.Len(t, driver.hybridFinds, 2)
	// Two unique chunks, best score first.
	require.Len(t, s.RetrievedDocs, 2)
	assert.Equal(t, "Envíos 24h.", s.RetrievedDocs[0])
	assert.Equal(t, "Cuesta 10 soles.", s.RetrievedDocs[1])

	require.Len(t, driver.ragMetrics, 1)
	m := driver.ragMetrics[0]
	assert.Equal(t, "multi_query", m.SearchStrategy)
	assert.Equal(t, 2, m.QueriesExecuted)
	assert.Equal(t, 0.6, m.SemanticWeight)
	assert.Equal(t, 0.4, m.KeywordWeight)
	assert.Equal(t, 2, m.ChunksRetrieved)
	assert.Equal(t, 0.80, m.TopCombinedScore)
	require.NotNil(t, m.ValidationPassed)
	assert.True(t, *m.ValidationPassed)
	// No reranking on two chunks: the rerank columns stay null.
	assert.Nil(t, m.ChunksAfterRerank)
	assert.Nil(t, m.RerankDurationMs)
}

func TestOptimizedRAGExpansionFailureDegrades(t *testing.T) {
	driver := &fakeDriver{
		cfg:        enabledConfig(),
		chunkCount: 10,
		hybridFn: func(find *store.HybridSearch) ([]*store.Chunk, error) {
			return []*store.Chunk{
				{ID: "c1", DocumentID: "d1", ChunkIndex: 0, Content: "dato", CombinedScore: 0.6},
			}, nil
		},
	}
	groq := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		return nil, errors.New("groq down")
	}}
	eng := newTestEngine(driver, &scriptedLLM{}, groq)
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := ragState(SearchMultiQuery, 0.8)
	update, err := tn.optimizedRAG(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	// Only the original query ran.
	require.Len(t, driver.hybridFinds, 1)
	assert.Equal(t, "¿cuánto cuesta el envío?", driver.hybridFinds[0].Query)
	assert.Equal(t, []string{"dato"}, s.RetrievedDocs)
}

func TestOptimizedRAGRerankPadsMissingScores(t *testing.T) {
	chunks := make([]*store.Chunk, 6)
	for i := range chunks {
		chunks[i] = &store.Chunk{
			ID:         fmt.Sprintf("c%d", i+1),
			DocumentID: "d1",
			ChunkIndex: i,
			Content:    fmt.Sprintf("contenido %d", i+1),
			// Descending so the merge order is stable.
			CombinedScore: 0.9 - float64(i)*0.05,
		}
	}
	driver := &fakeDriver{
		cfg:        enabledConfig(),
		chunkCount: 10,
		hybridFn: func(find *store.HybridSearch) ([]*store.Chunk, error) {
			return chunks, nil
		},
	}
	groq := &scriptedLLM{fn: func(req *llm.Request) (*llm.Result, error) {
		// Only two scores for six chunks; the rest pad to 0.5.
		return textResult(`{"scores": [0.9, 0.1]}`)
	}}
	eng := newTestEngine(driver, &scriptedLLM{}, groq)
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := ragState(SearchExact, 0.8)
	update, err := tn.optimizedRAG(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	// Six candidates trigger reranking. The chunk scored 0.1 sorts
	// last and falls out of the top five; the padded 0.5 scores pass
	// the rerank gate.
	require.Len(t, s.RetrievedDocs, 5)
	assert.Equal(t, "contenido 1", s.RetrievedDocs[0])
	assert.NotContains(t, s.RetrievedDocs, "contenido 2")

	require.Len(t, driver.ragMetrics, 1)
	m := driver.ragMetrics[0]
	assert.True(t, m.RerankApplied)
	require.NotNil(t, m.TopRerankScore)
	assert.Equal(t, 0.9, *m.TopRerankScore)
	require.NotNil(t, m.ChunksAfterRerank)
	assert.Equal(t, 5, *m.ChunksAfterRerank)
	assert.NotNil(t, m.RerankDurationMs)
}

func TestOptimizedRAGFallbackToSemantic(t *testing.T) {
	driver := &fakeDriver{
		cfg:        enabledConfig(),
		chunkCount: 10,
		hybridFn: func(find *store.HybridSearch) ([]*store.Chunk, error) {
			return nil, nil
		},
		semanticChunks: []*store.Chunk{
			{ID: "c1", DocumentID: "d1", ChunkIndex: 0, Content: "resultado amplio", Similarity: 0.3},
		},
	}
	eng := newTestEngine(driver, &scriptedLLM{}, &scriptedLLM{})
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := ragState(SearchExact, 0.8)
	update, err := tn.optimizedRAG(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	require.Len(t, driver.semFinds, 1)
	assert.Equal(t, 3, driver.semFinds[0].K)
	assert.Equal(t, 0.2, driver.semFinds[0].Threshold)
	assert.Equal(t, []string{"resultado amplio"}, s.RetrievedDocs)

	require.Len(t, driver.ragMetrics, 1)
	assert.True(t, driver.ragMetrics[0].FallbackUsed)
}

func TestOptimizedRAGAllSearchesFailedStillFallsBack(t *testing.T) {
	driver := &fakeDriver{
		cfg:        enabledConfig(),
		chunkCount: 10,
		hybridFn: func(find *store.HybridSearch) ([]*store.Chunk, error) {
			return nil, errors.New("db down")
		},
		semanticChunks: []*store.Chunk{
			{ID: "c1", DocumentID: "d1", ChunkIndex: 0, Content: "resultado amplio", Similarity: 0.3},
		},
	}
	eng := newTestEngine(driver, &scriptedLLM{}, &scriptedLLM{})
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := ragState(SearchExact, 0.8)
	update, err := tn.optimizedRAG(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	// Failed hybrid searches still leave the semantic-only fallback a
	// chance to retrieve something.
	require.Len(t, driver.semFinds, 1)
	assert.Equal(t, []string{"resultado amplio"}, s.RetrievedDocs)

	// Both audit rows record the failure anyway.
	require.Len(t, driver.toolExecs, 1)
	assert.False(t, driver.toolExecs[0].Success)
	require.NotNil(t, driver.toolExecs[0].Error)

	require.Len(t, driver.ragMetrics, 1)
	m := driver.ragMetrics[0]
	assert.NotNil(t, m.Error)
	assert.True(t, m.FallbackUsed)
	require.NotNil(t, m.ValidationPassed)
	assert.False(t, *m.ValidationPassed)
}

func TestOptimizedRAGAllSearchesFailedEmptyFallback(t *testing.T) {
	driver := &fakeDriver{
		cfg:        enabledConfig(),
		chunkCount: 10,
		hybridFn: func(find *store.HybridSearch) ([]*store.Chunk, error) {
			return nil, errors.New("db down")
		},
	}
	eng := newTestEngine(driver, &scriptedLLM{}, &scriptedLLM{})
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := ragState(SearchExact, 0.8)
	update, err := tn.optimizedRAG(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	// The node degrades instead of failing the turn.
	assert.Empty(t, s.RetrievedDocs)
	require.Len(t, driver.semFinds, 1)
	require.Len(t, driver.ragMetrics, 1)
	assert.NotNil(t, driver.ragMetrics[0].Error)
}

func TestOptimizedRAGStrategyNoneSkipsExpansion(t *testing.T) {
	driver := &fakeDriver{
		cfg:        enabledConfig(),
		chunkCount: 10,
		hybridFn: func(find *store.HybridSearch) ([]*store.Chunk, error) {
			return []*store.Chunk{
				{ID: "c1", DocumentID: "d1", ChunkIndex: 0, Content: "dato", CombinedScore: 0.6},
			}, nil
		},
	}
	groq := &scriptedLLM{}
	eng := newTestEngine(driver, &scriptedLLM{}, groq)
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := ragState(SearchNone, 0.8)
	update, err := tn.optimizedRAG(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	// No expansion call, only the original query.
	assert.Empty(t, groq.requests)
	require.Len(t, driver.hybridFinds, 1)
	assert.Equal(t, "¿cuánto cuesta el envío?", driver.hybridFinds[0].Query)
	assert.Equal(t, []string{"dato"}, s.RetrievedDocs)
}

func TestOptimizedRAGEmptyKnowledgeBase(t *testing.T) {
	driver := &fakeDriver{cfg: enabledConfig(), chunkCount: 0}
	eng := newTestEngine(driver, &scriptedLLM{}, &scriptedLLM{})
	tn, err := eng.newTurn(driver.cfg)
	require.NoError(t, err)

	s := ragState(SearchExact, 0.9)
	update, err := tn.optimizedRAG(context.Background(), s)
	require.NoError(t, err)
	s.apply(update)

	assert.Empty(t, s.RetrievedDocs)
	// No hybrid query ever reached the database.
	assert.Empty(t, driver.hybridFinds)
	// Metrics are still written for the empty run.
	require.Len(t, driver.ragMetrics, 1)
}
