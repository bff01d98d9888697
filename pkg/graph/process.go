package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/metrics"
	"github.com/relgraph/backend/pkg/snapshot"
	"github.com/relgraph/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

// RunOptions overrides the client's pool size and retry count for one run.
// A zero Concurrency or a nil MaxRetries keeps the client's configuration;
// MaxRetries pointing at 0 disables retries.
type RunOptions struct {
	Concurrency int
	MaxRetries  *int
}

// DocumentFailure is a document that reached a failed terminal state.
type DocumentFailure struct {
	DocumentID string
	Reason     string
	Transient  bool
	Attempts   int
}

// RunReport summarizes an extraction run. BuildErr is set when extraction
// finished but the snapshot could not be rebuilt; the previous snapshot is
// still current in that case.
type RunReport struct {
	ID              string
	StartedAt       time.Time
	Duration        time.Duration
	Documents       int
	Succeeded       int
	Candidates      int
	EdgesIngested   int
	SnapshotVersion uint64
	Failures        []DocumentFailure
	BuildErr        error
}

// Record converts the report into its audit row.
func (r *RunReport) Record() store.RunRecord {
	rec := store.RunRecord{
		ID:              r.ID,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.StartedAt.Add(r.Duration),
		Documents:       r.Documents,
		Succeeded:       r.Succeeded,
		Candidates:      r.Candidates,
		EdgesIngested:   r.EdgesIngested,
		SnapshotVersion: r.SnapshotVersion,
		Failures:        make([]store.RunFailure, len(r.Failures)),
	}
	if r.BuildErr != nil {
		rec.BuildError = r.BuildErr.Error()
	}
	for i, f := range r.Failures {
		rec.Failures[i] = store.RunFailure(f)
	}
	return rec
}

type runCollector struct {
	mu         sync.Mutex
	candidates []common.RelationshipCandidate
	succeeded  []string
	failures   []DocumentFailure
	progress   *util.RunProgress
}

// Run extracts relationships from docs and publishes a snapshot built from
// all persisted evidence.
//
// Every document ends in exactly one terminal state: succeeded or failed.
// A failed document never aborts the run; it is listed in the report. Only
// cancellation of ctx stops the run early, in which case nothing is persisted
// and ctx's error is returned alongside the partial report.
func (g *GraphClient) Run(ctx context.Context, docs []common.Document, opts RunOptions) (*RunReport, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	concurrency := g.concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}
	maxRetries := g.maxRetries
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		maxRetries = *opts.MaxRetries
	}

	report := &RunReport{ID: id, StartedAt: time.Now().UTC(), Documents: len(docs)}
	col := &runCollector{progress: util.NewRunProgress(len(docs))}
	reportStep := max(1, len(docs)/20)

	logger.Info("Starting extraction run", "run", id, "documents", len(docs), "concurrency", concurrency, "max_retries", maxRetries)

	var eg errgroup.Group
	eg.SetLimit(concurrency)
	for _, doc := range docs {
		eg.Go(func() error {
			cands, attempts, err := g.extractDocument(ctx, doc, maxRetries)

			col.mu.Lock()
			defer col.mu.Unlock()
			if err != nil {
				col.failures = append(col.failures, DocumentFailure{
					DocumentID: doc.ID,
					Reason:     err.Error(),
					Transient:  IsTransient(err),
					Attempts:   attempts,
				})
				col.progress.Failed++
				if ctx.Err() == nil {
					logger.Warn("Document extraction failed", "run", id, "document", doc.ID, "attempts", attempts, "err", err)
				}
			} else {
				col.candidates = append(col.candidates, cands...)
				col.succeeded = append(col.succeeded, doc.ID)
				col.progress.Succeeded++
			}
			if col.progress.ShouldReport(reportStep) {
				logger.Info("Extraction progress", "run", id, "progress", col.progress.String(), "remaining", col.progress.Remaining().Round(time.Second))
			}
			return nil
		})
	}
	_ = eg.Wait()

	slices.SortFunc(col.failures, func(a, b DocumentFailure) int { return strings.Compare(a.DocumentID, b.DocumentID) })
	slices.Sort(col.succeeded)
	report.Succeeded = len(col.succeeded)
	report.Candidates = len(col.candidates)
	report.Failures = col.failures

	defer func() {
		report.Duration = time.Since(report.StartedAt)
		metrics.Default().ObserveRunSeconds(report.Duration.Seconds())
	}()

	if err := ctx.Err(); err != nil {
		logger.Warn("Extraction run cancelled", "run", id, "progress", col.progress.String())
		return report, err
	}

	if report.Succeeded == 0 {
		logger.Warn("No document was extracted, keeping current snapshot", "run", id, "failed", len(report.Failures))
	} else {
		snap, err := g.ingest(ctx, col.succeeded, col.candidates)
		switch {
		case errors.Is(err, errPersist):
			return report, err
		case err != nil:
			report.BuildErr = err
		default:
			report.EdgesIngested = snap.EdgeCount()
			report.SnapshotVersion = snap.Version()
		}
	}

	logger.Info("Extraction run finished", "run", id, "succeeded", report.Succeeded, "failed", len(report.Failures),
		"candidates", report.Candidates, "edges", report.EdgesIngested, "version", report.SnapshotVersion)

	if g.runs != nil {
		report.Duration = time.Since(report.StartedAt)
		if err := g.runs.SaveRun(ctx, report.Record()); err != nil {
			logger.Warn("Failed to save extraction run", "run", id, "err", err)
		}
	}
	return report, nil
}

// extractDocument runs the extractor with rate limiting, a per-attempt
// timeout and retries for transient failures.
func (g *GraphClient) extractDocument(ctx context.Context, doc common.Document, maxRetries int) ([]common.RelationshipCandidate, int, error) {
	return util.RetryWithBackoff(ctx, maxRetries, g.backoff, IsTransient,
		func(ctx context.Context) ([]common.RelationshipCandidate, error) {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			actx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
			defer cancel()

			cands, err := g.extractor.Extract(actx, doc)
			switch {
			case err == nil:
				metrics.Default().IncExtraction(metrics.OutcomeSuccess)
			case IsTransient(err):
				metrics.Default().IncExtraction(metrics.OutcomeTransient)
			default:
				metrics.Default().IncExtraction(metrics.OutcomePermanent)
			}
			return cands, err
		})
}

var errPersist = errors.New("failed to persist candidates")

// ingest stores the candidates of the succeeded documents, consolidates the
// whole evidence base and rebuilds the snapshot.
func (g *GraphClient) ingest(ctx context.Context, docIDs []string, cands []common.RelationshipCandidate) (*snapshot.Snapshot, error) {
	all := cands
	if g.relationships != nil {
		if err := g.relationships.ReplaceCandidates(ctx, docIDs, cands); err != nil {
			return nil, fmt.Errorf("%w: %w", errPersist, err)
		}
		loaded, err := g.relationships.LoadCandidates(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidates: %w", err)
		}
		all = loaded
	}
	return g.snapshots.Rebuild(ctx, Consolidate(all, g.consolidate...))
}

// Rebuild consolidates every persisted candidate and publishes a new
// snapshot without extracting anything.
func (g *GraphClient) Rebuild(ctx context.Context) (*snapshot.Snapshot, error) {
	if g.relationships == nil {
		return nil, errors.New("rebuild needs a relationship store")
	}
	all, err := g.relationships.LoadCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	return g.snapshots.Rebuild(ctx, Consolidate(all, g.consolidate...))
}
