package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/store"
)

const documentBatchSize = 500

func (s *Store) ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]common.Document, error) {
	sql, args := buildDocumentQuery(filter)
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []common.Document
	for rows.Next() {
		var (
			doc             common.Document
			ticker, srcType *string
			date            *string
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &ticker, &srcType, &date); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if ticker != nil {
			doc.Metadata.Ticker = *ticker
		}
		if srcType != nil {
			doc.Metadata.SourceType = *srcType
		}
		if date != nil && *date != "" {
			if t, err := time.Parse(time.RFC3339Nano, *date); err == nil {
				doc.Metadata.Date = t
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// SaveDocuments upserts documents by id. A document saved without an
// embedding keeps the one already stored.
func (s *Store) SaveDocuments(ctx context.Context, docs []common.Document) error {
	return store.DocumentBatches(docs, documentBatchSize, func(page []common.Document) error {
		batch := &pgxv5.Batch{}
		for _, doc := range page {
			meta := doc.Metadata
			meta.Ticker = common.NormalizeTicker(meta.Ticker)
			meta.Date = meta.Date.UTC()
			rawMeta, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata of %s: %w", doc.ID, err)
			}

			var embedding *pgvector.Vector
			if len(doc.Embedding) > 0 {
				v := pgvector.NewVector(doc.Embedding)
				embedding = &v
			}
			batch.Queue(upsertDocumentSQL, doc.ID, util.SanitizePostgresText(doc.Content), rawMeta, embedding)
		}

		if err := s.conn.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save documents: %w", err)
		}
		return nil
	})
}

const upsertDocumentSQL = `
INSERT INTO documents (id, content, metadata, embedding)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET content   = EXCLUDED.content,
    metadata  = EXCLUDED.metadata,
    embedding = COALESCE(EXCLUDED.embedding, documents.embedding);
`
