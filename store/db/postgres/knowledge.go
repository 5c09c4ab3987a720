package postgres

import (
	"context"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/atiendohq/atiendo/store"
)

// CountChunksWithEmbeddings counts indexed chunks for a business. Used
// to short-circuit searches before paying for a query embedding.
func (d *DB) CountChunksWithEmbeddings(ctx context.Context, businessID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ai.documents_embeddings
		WHERE business_id = $1 AND embedding IS NOT NULL
	`

	var count int
	if err := d.db.QueryRowContext(ctx, query, businessID).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count chunks")
	}
	return count, nil
}

// SemanticSearch returns chunks by cosine similarity. Similarity is
// 1 - cosine distance, so higher is closer.
func (d *DB) SemanticSearch(ctx context.Context, find *store.SemanticSearch) ([]*store.Chunk, error) {
	query := `
		SELECT id, document_id, chunk_index, content, COALESCE(metadata, '{}'),
			1 - (embedding <=> $1) AS similarity
		FROM ai.documents_embeddings
		WHERE business_id = $2
			AND embedding IS NOT NULL
			AND 1 - (embedding <=> $1) >= $3
			AND ($4::uuid[] IS NULL OR document_id = ANY($4))
		ORDER BY embedding <=> $1
		LIMIT $5
	`

	var docIDs any
	if len(find.DocumentIDs) > 0 {
		docIDs = pq.Array(find.DocumentIDs)
	}

	rows, err := d.db.QueryContext(ctx, query,
		pgvector.NewVector(find.Embedding),
		find.BusinessID,
		find.Threshold,
		docIDs,
		find.K,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run semantic search")
	}
	defer rows.Close()

	var chunks []*store.Chunk
	for rows.Next() {
		chunk := &store.Chunk{}
		var metadata []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Content, &metadata, &chunk.Similarity); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk")
		}
		if err := json.Unmarshal(metadata, &chunk.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to decode chunk metadata")
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate chunks")
	}

	return chunks, nil
}

// HybridSearch blends cosine similarity with Spanish full-text rank.
// Chunks with no keyword match still participate with a keyword score
// of zero; the threshold applies to the combined score.
func (d *DB) HybridSearch(ctx context.Context, find *store.HybridSearch) ([]*store.Chunk, error) {
	query := `
		WITH scored AS (
			SELECT id, document_id, chunk_index, content, COALESCE(metadata, '{}') AS metadata,
				1 - (embedding <=> $1) AS semantic_score,
				COALESCE(ts_rank(content_search, plainto_tsquery('spanish', $2)), 0) AS keyword_score
			FROM ai.documents_embeddings
			WHERE business_id = $3 AND embedding IS NOT NULL
		)
		SELECT id, document_id, chunk_index, content, metadata,
			semantic_score, keyword_score,
			($4 * semantic_score + $5 * keyword_score) AS combined_score
		FROM scored
		WHERE ($4 * semantic_score + $5 * keyword_score) >= $6
		ORDER BY combined_score DESC
		LIMIT $7
	`

	rows, err := d.db.QueryContext(ctx, query,
		pgvector.NewVector(find.Embedding),
		find.Query,
		find.BusinessID,
		find.SemanticWeight,
		find.KeywordWeight,
		find.Threshold,
		find.K,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run hybrid search")
	}
	defer rows.Close()

	var chunks []*store.Chunk
	for rows.Next() {
		chunk := &store.Chunk{}
		var metadata []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Content, &metadata,
			&chunk.SemanticScore, &chunk.KeywordScore, &chunk.CombinedScore); err != nil {
			return nil, errors.Wrap(err, "failed to scan chunk")
		}
		if err := json.Unmarshal(metadata, &chunk.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to decode chunk metadata")
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate chunks")
	}

	return chunks, nil
}

// GetKnowledgeStats summarizes the knowledge base of a business.
func (d *DB) GetKnowledgeStats(ctx context.Context, businessID string) (*store.KnowledgeStats, error) {
	query := `
		SELECT COUNT(DISTINCT document_id),
			COUNT(*),
			COALESCE(AVG(LENGTH(content)), 0),
			MAX(created_at)
		FROM ai.documents_embeddings
		WHERE business_id = $1 AND embedding IS NOT NULL
	`

	stats := &store.KnowledgeStats{}
	err := d.db.QueryRowContext(ctx, query, businessID).Scan(
		&stats.TotalDocuments, &stats.TotalChunks, &stats.AvgChunkChars, &stats.LastIndexedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get knowledge stats")
	}
	return stats, nil
}
