package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/graph"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/snapshot"
	"github.com/relgraph/backend/pkg/store"
)

// Runner is the extraction side of *graph.GraphClient.
type Runner interface {
	Run(ctx context.Context, docs []common.Document, opts graph.RunOptions) (*graph.RunReport, error)
	Rebuild(ctx context.Context) (*snapshot.Snapshot, error)
}

// ErrMalformedMessage marks bodies that can never be processed; they go
// straight to the dead-letter queue.
var ErrMalformedMessage = errors.New("malformed message")

// ProcessExtractMessage loads the referenced documents and runs extraction
// over them. Per-document failures are part of the run report and do not
// fail the message; a run that could not persist its candidates does, so
// the message is retried.
func ProcessExtractMessage(ctx context.Context, docs store.DocumentStore, runner Runner, body []byte) error {
	var msg ExtractMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	ids := store.UniqueIDs(msg.DocumentIDs)
	if len(ids) == 0 {
		return fmt.Errorf("%w: no document ids", ErrMalformedMessage)
	}

	loaded, err := docs.ListDocuments(ctx, store.DocumentFilter{IDs: ids})
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}
	if missing := missingIDs(ids, loaded); len(missing) > 0 {
		logger.Warn("[Queue] Documents not found", "count", len(missing), "ids", missing)
	}
	if len(loaded) == 0 {
		return nil
	}

	report, err := runner.Run(ctx, loaded, graph.RunOptions{
		Concurrency: msg.Concurrency,
		MaxRetries:  msg.MaxRetries,
	})
	if err != nil {
		return err
	}
	logger.Info("[Queue] Extraction run finished",
		"run", report.ID,
		"documents", report.Documents,
		"succeeded", report.Succeeded,
		"failed", len(report.Failures),
		"edges", report.EdgesIngested,
		"version", report.SnapshotVersion,
	)
	return nil
}

func ProcessRebuildMessage(ctx context.Context, runner Runner, body []byte) error {
	var msg RebuildMsg
	if len(body) > 0 {
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
	}
	snap, err := runner.Rebuild(ctx)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Snapshot rebuilt", "version", snap.Version(), "edges", snap.EdgeCount(), "reason", msg.Message)
	return nil
}

func missingIDs(want []string, got []common.Document) []string {
	var missing []string
	for _, id := range want {
		if !slices.ContainsFunc(got, func(d common.Document) bool { return d.ID == id }) {
			missing = append(missing, id)
		}
	}
	return missing
}
