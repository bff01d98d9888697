package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relgraph/backend/pkg/store"
)

func (s *Store) SaveRun(ctx context.Context, run store.RunRecord) error {
	failures := run.Failures
	if failures == nil {
		failures = []store.RunFailure{}
	}
	rawFailures, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to marshal run failures: %w", err)
	}

	var buildErr *string
	if run.BuildError != "" {
		buildErr = &run.BuildError
	}
	var version *int64
	if run.SnapshotVersion > 0 {
		v := int64(run.SnapshotVersion)
		version = &v
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO extraction_runs (
			id, started_at, finished_at, documents, succeeded, candidates,
			edges_ingested, snapshot_version, build_error, failures
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Documents, run.Succeeded, run.Candidates,
		run.EdgesIngested, version, buildErr, rawFailures,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}
