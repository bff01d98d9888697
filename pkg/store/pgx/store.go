// Package pgx implements the store interfaces on PostgreSQL with pgvector.
package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relgraph/backend/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

// Store is the Postgres backed DocumentStore, RelationshipStore,
// VectorSearcher and RunStore. The connection must have the pgvector types
// registered.
type Store struct {
	conn pgxIConn
}

var (
	_ store.DocumentStore     = (*Store)(nil)
	_ store.RelationshipStore = (*Store)(nil)
	_ store.VectorSearcher    = (*Store)(nil)
	_ store.RunStore          = (*Store)(nil)
)

func New(conn pgxIConn) *Store {
	return &Store{conn: conn}
}

// NextSnapshotVersion draws from snapshot_version_seq so that versions stay
// increasing across processes and restarts.
func (s *Store) NextSnapshotVersion(ctx context.Context) (uint64, error) {
	var v int64
	if err := s.conn.QueryRow(ctx, `SELECT nextval('snapshot_version_seq')`).Scan(&v); err != nil {
		return 0, err
	}
	return uint64(v), nil
}
