package store

import "time"

// Chunk is one retrieved knowledge-base chunk from
// ai.documents_embeddings. Score fields are populated depending on the
// search that produced the chunk: Similarity for semantic search,
// Semantic/Keyword/Combined for hybrid search. RerankScore is filled in
// later by the reranking pass, not by the store.
type Chunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Metadata   map[string]any

	Similarity    float64
	SemanticScore float64
	KeywordScore  float64
	CombinedScore float64
	RerankScore   *float64
}

// SemanticSearch finds chunks by vector similarity alone.
type SemanticSearch struct {
	BusinessID string
	Embedding  []float32
	K          int
	Threshold  float64
	// Optional restriction to specific documents.
	DocumentIDs []string
}

// HybridSearch finds chunks by a weighted blend of vector similarity
// and Spanish full-text rank. The threshold applies to the combined
// score.
type HybridSearch struct {
	BusinessID     string
	Query          string
	Embedding      []float32
	K              int
	SemanticWeight float64
	KeywordWeight  float64
	Threshold      float64
}

// KnowledgeStats summarizes a business's knowledge base.
type KnowledgeStats struct {
	TotalDocuments int
	TotalChunks    int
	AvgChunkChars  float64
	LastIndexedAt  *time.Time
}
