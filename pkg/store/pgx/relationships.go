package pgx

import (
	"context"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/store"
)

var relationshipColumns = []string{
	"source_ticker", "target_ticker", "relationship_type", "confidence", "extracted_from", "extracted_at",
}

// ReplaceCandidates swaps the stored candidates of docIDs for candidates in
// one transaction, so a re-run of a document never leaves both its old and
// its new triplets behind.
func (s *Store) ReplaceCandidates(ctx context.Context, docIDs []string, candidates []common.RelationshipCandidate) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if ids := store.UniqueIDs(docIDs); len(ids) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM company_relationships WHERE extracted_from = ANY($1)`, ids); err != nil {
			return fmt.Errorf("failed to delete previous candidates: %w", err)
		}
	}

	if len(candidates) > 0 {
		rows := make([][]any, len(candidates))
		for i, c := range candidates {
			rows[i] = []any{c.Source, c.Target, string(c.Kind), c.Confidence, c.DocumentID, c.ExtractedAt.UTC()}
		}
		if _, err := tx.CopyFrom(ctx, pgxv5.Identifier{"company_relationships"}, relationshipColumns, pgxv5.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to copy candidates: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit candidates: %w", err)
	}
	return nil
}

func (s *Store) LoadCandidates(ctx context.Context) ([]common.RelationshipCandidate, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT source_ticker, target_ticker, relationship_type, confidence, extracted_from, extracted_at
		FROM company_relationships
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	defer rows.Close()

	var out []common.RelationshipCandidate
	for rows.Next() {
		var (
			c    common.RelationshipCandidate
			kind string
		)
		if err := rows.Scan(&c.Source, &c.Target, &kind, &c.Confidence, &c.DocumentID, &c.ExtractedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.Kind = common.RelationshipKind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	return out, nil
}
