package pgx

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"

	"github.com/relgraph/backend/pkg/store"
)

// Search returns the k documents closest to embedding by cosine distance.
// Score is 1 - distance.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]store.VectorHit, error) {
	if len(embedding) == 0 {
		return nil, errors.New("empty query embedding")
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT id, COALESCE(metadata->>'ticker', ''), content, embedding <=> $1 AS distance
		FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2`, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	hits := make([]store.VectorHit, 0, k)
	for rows.Next() {
		var (
			hit      store.VectorHit
			distance float64
		)
		if err := rows.Scan(&hit.DocumentID, &hit.Ticker, &hit.Content, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		// zero-norm embeddings yield a NaN distance
		if math.IsNaN(distance) {
			continue
		}
		hit.Score = 1 - distance
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	return hits, nil
}
