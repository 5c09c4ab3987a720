package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/atiendohq/atiendo/ai/core/llm"
	"github.com/atiendohq/atiendo/ai/kb"
	"github.com/atiendohq/atiendo/ai/tracker"
	"github.com/atiendohq/atiendo/store"
)

const (
	searchK             = 5
	semanticWeight      = 0.6
	keywordWeight       = 0.4
	maxParallelSearches = 3

	rerankCandidates = 10
	rerankTopN       = 5
	rerankPreview    = 300

	combinedThreshold = 0.4
	rerankThreshold   = 0.5

	fallbackK         = 3
	fallbackThreshold = 0.2
)

const queryExpansionSystemPrompt = `Eres un experto en reformular preguntas para búsqueda semántica.
Genera variaciones de la pregunta original enfocándote en:
- Sinónimos y términos relacionados
- Ejemplos específicos
- Conceptos más amplios o más específicos

Retorna SOLO un JSON con el formato: {"queries": ["query1", "query2"]}`

const rerankSystemPrompt = `Eres un experto en evaluar relevancia de documentos.
Evalúa qué tan relevante es cada documento para responder la pregunta del usuario.

Retorna un JSON con scores de 0.0 (nada relevante) a 1.0 (muy relevante).
Formato: {"scores": [0.85, 0.62, 0.91, ...]}`

// optimizedRAG is the retrieval pipeline: query expansion, parallel
// hybrid search, dedup, rerank, relevance validation, and a
// semantic-only fallback. It degrades rather than fails: a broken
// pipeline yields no docs, and the respond node handles that.
func (t *turn) optimizedRAG(ctx context.Context, s *State) (*Update, error) {
	started := time.Now()

	last, ok := s.lastHumanMessage()
	if !ok {
		return &Update{}, nil
	}
	originalQuery := last.Content

	threshold := adaptiveThreshold(s.Confidence)
	slog.Info("RAG: starting",
		"business_id", s.BusinessID,
		"strategy", string(s.KBSearchStrategy),
		"threshold", threshold,
		"confidence", s.Confidence,
	)

	var (
		retrieved         []string
		chunksFound       int
		chunksAfterRerank *int
		chunksValidated   int
		rerankApplied     bool
		fallbackUsed      bool
		topCombined       float64
		topRerank         *float64
		rerankDuration    *int64
		pipelineErr       error
	)

	queries := t.expandQueries(ctx, s, originalQuery)

	searchStart := time.Now()
	chunks, searchErr := t.multiQuerySearch(ctx, s, queries, threshold)
	searchDuration := time.Since(searchStart).Milliseconds()
	if searchErr != nil {
		// Failed searches leave zero chunks; the pipeline continues so
		// the semantic-only fallback still gets its chance.
		pipelineErr = searchErr
		chunks = nil
	}
	chunksFound = len(chunks)

	if chunksFound >= rerankTopN {
		rerankStart := time.Now()
		chunks = t.rerank(ctx, s, originalQuery, chunks)
		rerankDuration = ptr(time.Since(rerankStart).Milliseconds())
		rerankApplied = true
		chunksAfterRerank = ptr(len(chunks))
	}

	validated := validateRelevance(chunks)
	chunksValidated = len(validated)
	validationPassed := ptr(len(validated) > 0)
	if len(validated) > 0 {
		topCombined = validated[0].CombinedScore
		if validated[0].RerankScore != nil {
			topRerank = validated[0].RerankScore
		}
	}
	for _, c := range validated {
		retrieved = append(retrieved, c.Content)
	}

	if len(retrieved) == 0 && threshold > fallbackThreshold {
		slog.Info("RAG: no validated chunks, falling back to semantic-only",
			"business_id", s.BusinessID,
		)
		fallbackUsed = true
		fallbackStart := time.Now()
		fallbackChunks, fbErr := t.engine.kb.Semantic(ctx, &kb.SemanticSearch{
			BusinessID:  s.BusinessID,
			Query:       originalQuery,
			K:           fallbackK,
			Threshold:   fallbackThreshold,
			ExecutionID: s.ExecutionID,
		})
		searchDuration += time.Since(fallbackStart).Milliseconds()
		if fbErr != nil {
			slog.Error("RAG: fallback search failed", "business_id", s.BusinessID, "error", fbErr)
		} else {
			chunksFound += len(fallbackChunks)
			for _, c := range fallbackChunks {
				retrieved = append(retrieved, c.Content)
			}
		}
	}

	duration := time.Since(started).Milliseconds()

	t.auditToolExecution(ctx, s, &store.ToolExecution{
		BusinessID:  s.BusinessID,
		ExecutionID: executionIDPtr(s.ExecutionID),
		ToolName:    "optimized_rag_multi_query",
		Success:     pipelineErr == nil,
		DurationMs:  duration,
		Error:       errPtr(pipelineErr),
		Request: map[string]any{
			"original_query":    originalQuery,
			"queries_generated": queries,
			"strategy":          string(s.KBSearchStrategy),
			"threshold":         threshold,
		},
		Response: map[string]any{
			"chunks_found":      chunksFound,
			"reranking_applied": rerankApplied,
			"chunks_validated":  chunksValidated,
			"results_count":     len(retrieved),
		},
	})

	strategy := "hybrid"
	if len(queries) > 1 {
		strategy = "multi_query"
	}
	t.saveRAGMetrics(ctx, &store.RAGMetrics{
		BusinessID:        s.BusinessID,
		ExecutionID:       executionIDPtr(s.ExecutionID),
		Query:             originalQuery,
		SearchStrategy:    strategy,
		QueriesUsed:       queries,
		QueriesExecuted:   len(queries),
		SemanticWeight:    semanticWeight,
		KeywordWeight:     keywordWeight,
		ChunksRetrieved:   chunksFound,
		ChunksAfterRerank: chunksAfterRerank,
		ChunksValidated:   chunksValidated,
		ChunksReturned:    len(retrieved),
		TopCombinedScore:  topCombined,
		TopRerankScore:    topRerank,
		ThresholdUsed:     threshold,
		RerankApplied:     rerankApplied,
		ValidationPassed:  validationPassed,
		FallbackUsed:      fallbackUsed,
		SearchDurationMs:  searchDuration,
		RerankDurationMs:  rerankDuration,
		DurationMs:        duration,
		Error:             errPtr(pipelineErr),
	})

	t.engine.metrics.RAGRun(len(retrieved), fallbackUsed)

	update := &Update{
		RetrievedDocsSet: true,
		AppendToolsUsed:  []string{"optimized_rag_multi_query"},
		RAG: &RAGSnapshot{
			ChunksRetrieved: chunksFound,
			ChunksReturned:  len(retrieved),
			QueriesExecuted: len(queries),
			RerankApplied:   rerankApplied,
			FallbackUsed:    fallbackUsed,
			DurationMs:      duration,
		},
	}
	if len(retrieved) > 0 {
		update.RetrievedDocs = retrieved
	}
	return update, nil
}

// adaptiveThreshold loosens retrieval when the orchestrator is
// confident the knowledge base covers the question.
func adaptiveThreshold(confidence float64) float64 {
	switch {
	case confidence > 0.85:
		return 0.30
	case confidence > 0.70:
		return 0.35
	default:
		return 0.40
	}
}

// expandQueries produces the search queries for the configured
// strategy: broad adds one variation, multi_query adds two, anything
// else (exact, none) keeps the original query. Expansion failure
// degrades to the original query alone.
func (t *turn) expandQueries(ctx context.Context, s *State, originalQuery string) []string {
	var numVariations int
	switch s.KBSearchStrategy {
	case SearchBroad:
		numVariations = 1
	case SearchMultiQuery:
		numVariations = 2
	default:
		// exact, none, or unset: the original query alone. Routing only
		// reaches this node when retrieval was planned, but a stray
		// "none" must not buy an expansion call.
		return []string{originalQuery}
	}

	userPrompt := fmt.Sprintf(`Pregunta original: "%s"

Genera %d variación(es) alternativa(s) de esta pregunta.
Las variaciones deben buscar la misma información pero con diferentes palabras.`, originalQuery, numVariations)

	call := t.engine.tracker.Begin(tracker.CallOptions{
		BusinessID:      s.BusinessID,
		ExecutionID:     s.ExecutionID,
		OperationType:   "multi_query_expansion",
		Provider:        "groq",
		Model:           t.engine.profile.ExpansionModel,
		ReasoningEffort: "low",
		Context:         map[string]any{"strategy": string(s.KBSearchStrategy)},
	})
	result, err := t.groq.Complete(ctx, &llm.Request{
		Model:           t.engine.profile.ExpansionModel,
		ReasoningEffort: "low",
		Temperature:     ptr(float32(0.3)),
		MaxTokens:       500,
		Messages: []llm.Message{
			llm.SystemPrompt(queryExpansionSystemPrompt),
			llm.UserMessage(userPrompt),
		},
	})
	if err == nil {
		call.Record(result.Usage)
	}
	call.End(ctx, err)
	if err != nil {
		slog.Warn("RAG: query expansion failed, using original query",
			"business_id", s.BusinessID, "error", err,
		)
		return []string{originalQuery}
	}

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(result.Text)), &parsed); err != nil {
		slog.Warn("RAG: undecodable expansion output, using original query",
			"business_id", s.BusinessID, "error", err,
		)
		return []string{originalQuery}
	}

	variations := parsed.Queries
	if len(variations) > numVariations {
		variations = variations[:numVariations]
	}
	return append([]string{originalQuery}, variations...)
}

// multiQuerySearch runs one hybrid search per query with bounded
// parallelism, then merges results deduplicated by (document, chunk),
// keeping the best combined score.
func (t *turn) multiQuerySearch(ctx context.Context, s *State, queries []string, threshold float64) ([]*store.Chunk, error) {
	sem := semaphore.NewWeighted(maxParallelSearches)
	results := make([][]*store.Chunk, len(queries))
	errs := make([]error, len(queries))

	var wg sync.WaitGroup
	for i, query := range queries {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], errs[i] = t.engine.kb.Hybrid(ctx, &kb.HybridSearch{
				BusinessID:     s.BusinessID,
				Query:          query,
				K:              searchK,
				SemanticWeight: semanticWeight,
				KeywordWeight:  keywordWeight,
				Threshold:      threshold,
				ExecutionID:    s.ExecutionID,
			})
		}(i, query)
	}
	wg.Wait()

	// All-settled: individual query failures only drop that query's
	// results. Fail the search only when every query failed.
	failed := 0
	type chunkKey struct {
		documentID string
		chunkIndex int
	}
	best := make(map[chunkKey]*store.Chunk)
	for i := range queries {
		if errs[i] != nil {
			failed++
			slog.Warn("RAG: query search failed",
				"business_id", s.BusinessID, "query_index", i, "error", errs[i],
			)
			continue
		}
		for _, chunk := range results[i] {
			key := chunkKey{chunk.DocumentID, chunk.ChunkIndex}
			if existing, ok := best[key]; !ok || chunk.CombinedScore > existing.CombinedScore {
				best[key] = chunk
			}
		}
	}
	if failed == len(queries) {
		return nil, fmt.Errorf("all %d searches failed: %w", failed, errs[0])
	}

	merged := make([]*store.Chunk, 0, len(best))
	for _, chunk := range best {
		merged = append(merged, chunk)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CombinedScore > merged[j].CombinedScore
	})

	slog.Debug("RAG: merged results",
		"business_id", s.BusinessID,
		"queries", len(queries),
		"unique_chunks", len(merged),
	)
	return merged, nil
}

// rerank scores the top candidates against the original question with
// a cheap model and keeps the best five. Any failure keeps the hybrid
// ordering instead.
func (t *turn) rerank(ctx context.Context, s *State, originalQuery string, chunks []*store.Chunk) []*store.Chunk {
	if len(chunks) > rerankCandidates {
		chunks = chunks[:rerankCandidates]
	}

	var docs strings.Builder
	for i, chunk := range chunks {
		preview := chunk.Content
		if len([]rune(preview)) > rerankPreview {
			preview = string([]rune(preview)[:rerankPreview])
		}
		fmt.Fprintf(&docs, "%d. %s...\n\n", i+1, preview)
	}

	userPrompt := fmt.Sprintf(`Pregunta: "%s"

Documentos:
%s
Evalúa la relevancia de cada documento (1-%d) para esta pregunta.`, originalQuery, docs.String(), len(chunks))

	call := t.engine.tracker.Begin(tracker.CallOptions{
		BusinessID:      s.BusinessID,
		ExecutionID:     s.ExecutionID,
		OperationType:   "reranking",
		Provider:        "groq",
		Model:           t.engine.profile.RerankModel,
		ReasoningEffort: "low",
		Context:         map[string]any{"chunks_count": len(chunks)},
	})
	result, err := t.groq.Complete(ctx, &llm.Request{
		Model:           t.engine.profile.RerankModel,
		ReasoningEffort: "low",
		Temperature:     ptr(float32(0.2)),
		MaxTokens:       300,
		Messages: []llm.Message{
			llm.SystemPrompt(rerankSystemPrompt),
			llm.UserMessage(userPrompt),
		},
	})
	if err == nil {
		call.Record(result.Usage)
	}
	call.End(ctx, err)
	if err != nil {
		slog.Warn("RAG: reranking failed, keeping hybrid order",
			"business_id", s.BusinessID, "error", err,
		)
		return topN(chunks, rerankTopN)
	}

	var parsed struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(result.Text)), &parsed); err != nil {
		slog.Warn("RAG: undecodable rerank output, keeping hybrid order",
			"business_id", s.BusinessID, "error", err,
		)
		return topN(chunks, rerankTopN)
	}

	scores := parsed.Scores
	// Pad missing scores conservatively instead of dropping chunks.
	for len(scores) < len(chunks) {
		scores = append(scores, 0.5)
	}
	for i, chunk := range chunks {
		chunk.RerankScore = ptr(scores[i])
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return *chunks[i].RerankScore > *chunks[j].RerankScore
	})
	return topN(chunks, rerankTopN)
}

func topN(chunks []*store.Chunk, n int) []*store.Chunk {
	if len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}

// validateRelevance drops chunks the hybrid score or the reranker
// consider weak. Chunks that were never reranked pass the rerank gate.
func validateRelevance(chunks []*store.Chunk) []*store.Chunk {
	validated := make([]*store.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		rerank := 1.0
		if chunk.RerankScore != nil {
			rerank = *chunk.RerankScore
		}
		if chunk.CombinedScore >= combinedThreshold && rerank >= rerankThreshold {
			validated = append(validated, chunk)
		}
	}
	return validated
}

func (t *turn) auditToolExecution(ctx context.Context, s *State, exec *store.ToolExecution) {
	if s.ExecutionID == "" {
		return
	}
	if err := t.engine.store.CreateToolExecution(ctx, exec); err != nil {
		slog.Error("RAG: failed to save tool execution", "business_id", s.BusinessID, "error", err)
	}
}

func (t *turn) saveRAGMetrics(ctx context.Context, m *store.RAGMetrics) {
	if err := t.engine.store.CreateRAGMetrics(ctx, m); err != nil {
		slog.Error("RAG: failed to save metrics", "business_id", m.BusinessID, "error", err)
	}
}

// cleanJSON strips the markdown fences some models wrap JSON in.
func cleanJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

func executionIDPtr(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func errPtr(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
