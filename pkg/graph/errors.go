package graph

import (
	"errors"
	"fmt"

	"github.com/relgraph/backend/pkg/ai"
)

var (
	// ErrConsolidationConflict marks a candidate that could not be folded into
	// an edge. Consolidation logs and drops it.
	ErrConsolidationConflict = errors.New("consolidation conflict")
	// ErrEmptyDocument is returned for documents without text.
	ErrEmptyDocument = errors.New("document has no content")
	// ErrMissingTicker is returned when a document has no ticker to anchor
	// its relationships.
	ErrMissingTicker = errors.New("document has no ticker")
)

// ExtractionFailure is the error an Extractor returns for a document.
// Transient failures are retried by the runner; permanent ones are not.
type ExtractionFailure struct {
	DocumentID string
	Transient  bool
	Err        error
}

func (e *ExtractionFailure) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("extraction of %s failed (%s): %v", e.DocumentID, kind, e.Err)
}

func (e *ExtractionFailure) Unwrap() error {
	return e.Err
}

func newExtractionFailure(docID string, err error) *ExtractionFailure {
	return &ExtractionFailure{DocumentID: docID, Transient: ai.IsTransient(err), Err: err}
}

// IsTransient reports whether err is a retryable extraction error.
func IsTransient(err error) bool {
	var ef *ExtractionFailure
	if errors.As(err, &ef) {
		return ef.Transient
	}
	return ai.IsTransient(err)
}
