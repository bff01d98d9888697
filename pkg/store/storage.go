package store

import (
	"context"
	"time"

	"github.com/relgraph/backend/pkg/common"
)

// DocumentFilter selects documents for an extraction run. Zero fields do not
// constrain the selection.
type DocumentFilter struct {
	IDs         []string
	Tickers     []string
	SourceTypes []string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// DocumentStore reads and writes the documents table.
type DocumentStore interface {
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]common.Document, error)
	SaveDocuments(ctx context.Context, docs []common.Document) error
}

// RelationshipStore persists extracted candidates so that every run can
// consolidate the full evidence base rather than only its own batch.
type RelationshipStore interface {
	// ReplaceCandidates atomically removes all rows extracted from docIDs and
	// inserts candidates in their place.
	ReplaceCandidates(ctx context.Context, docIDs []string, candidates []common.RelationshipCandidate) error
	LoadCandidates(ctx context.Context) ([]common.RelationshipCandidate, error)
}

// VectorHit is one semantic search result.
type VectorHit struct {
	DocumentID string
	Ticker     string
	Content    string
	// Score is a similarity; larger is better.
	Score float64
}

// VectorSearcher is the external semantic index.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, k int) ([]VectorHit, error)
}

// RunFailure is a document that did not yield candidates in a run.
type RunFailure struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
	Transient  bool   `json:"transient"`
	Attempts   int    `json:"attempts"`
}

// RunRecord is the audit row written after each extraction run.
type RunRecord struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Documents       int
	Succeeded       int
	Candidates      int
	EdgesIngested   int
	SnapshotVersion uint64
	BuildError      string
	Failures        []RunFailure
}

type RunStore interface {
	SaveRun(ctx context.Context, run RunRecord) error
}
