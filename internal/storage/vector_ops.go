package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

// SerializeVector converts a float32 slice to bytes for storage
func SerializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeVector(data []byte) []float32 {
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SearchVector performs an exact cosine scan over every stored embedding of
// the query's dimensionality. Rows of another dimension belong to another
// model and are excluded in SQL rather than skipped in Go.
func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, limit int, corpus types.Corpus, minSimilarity float64) ([]VectorResult, error) {
	if len(vector) == 0 {
		return nil, types.ErrDimensionMismatch
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT c.id, c.corpus, c.verified, e.vector
		FROM embeddings e
		INNER JOIN chunks c ON c.id = e.chunk_id
		WHERE e.dimension = ?`
	args := []interface{}{len(vector)}
	if corpus != "" {
		query += " AND c.corpus = ?"
		args = append(args, corpus)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []VectorResult
	for rows.Next() {
		var r VectorResult
		var verified int
		var blob []byte
		if err := rows.Scan(&r.ChunkID, &r.Corpus, &verified, &blob); err != nil {
			return nil, err
		}
		sim := cosineSimilarity(vector, deserializeVector(blob))
		if sim < minSimilarity {
			continue
		}
		r.Verified = verified != 0
		r.SimilarityScore = sim
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].ChunkID > results[j].ChunkID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
