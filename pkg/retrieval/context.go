package retrieval

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"unicode/utf8"

	"github.com/relgraph/backend/pkg/ai"
)

type Provenance string

const (
	ProvenanceGraph  Provenance = "graph"
	ProvenanceVector Provenance = "vector"
)

// ContextItem is one piece of evidence handed to the answer generator.
type ContextItem struct {
	Provenance Provenance `json:"provenance"`
	DocumentID string     `json:"document_id"`
	Text       string     `json:"text"`
	// Score is normalized to [0,1] within the item's provenance.
	Score float64 `json:"score"`
	Cost  int     `json:"cost"`
}

// RetrievalContext is the merged, budget-bounded result of a retrieval.
// Degraded names the sources that failed and contributed nothing.
type RetrievalContext struct {
	Items           []ContextItem `json:"items"`
	Cost            int           `json:"cost"`
	Degraded        []string      `json:"degraded,omitempty"`
	Ticker          string        `json:"ticker,omitempty"`
	SnapshotVersion uint64        `json:"snapshot_version,omitempty"`
}

var (
	// ErrRetrievalUnavailable is returned when every source failed.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrInvalidBudget        = errors.New("budget must be positive")
	// ErrSuperseded is the cancellation cause of a request replaced by a
	// newer one in the same session.
	ErrSuperseded = errors.New("retrieval superseded by a newer request")
)

// SourceError reports a failed retrieval source.
type SourceError struct {
	Source Provenance
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("retrieval source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// CostFunc measures an item against the budget.
type CostFunc func(text string) int

// CharCost counts runes.
func CharCost(text string) int {
	return utf8.RuneCountInString(text)
}

// TokenCost counts o200k_base tokens.
func TokenCost(text string) int {
	return ai.CountTokens(text)
}

// CostFuncByName maps the RETRIEVE_COST setting to a CostFunc.
func CostFuncByName(name string) CostFunc {
	if name == "tokens" {
		return TokenCost
	}
	return CharCost
}

// normalize divides every score by the largest one so the best item of a
// source scores 1. Non-finite scores count as 0 and non-positive maxima map
// everything to 0.
func normalize(items []ContextItem) {
	var top float64
	for i, it := range items {
		if math.IsNaN(it.Score) || math.IsInf(it.Score, 0) {
			items[i].Score = 0
			continue
		}
		top = max(top, it.Score)
	}
	for i := range items {
		if top <= 0 {
			items[i].Score = 0
			continue
		}
		items[i].Score = max(0, items[i].Score/top)
	}
}

// merge normalizes both sources, interleaves them by score and keeps items
// while the cumulative cost fits the budget. An item that does not fit is
// skipped and smaller later items are still considered. Document ids are
// unique in the result.
func merge(graphItems, vectorItems []ContextItem, budget int, cost CostFunc) RetrievalContext {
	normalize(graphItems)
	normalize(vectorItems)

	all := make([]ContextItem, 0, len(graphItems)+len(vectorItems))
	all = append(all, vectorItems...)
	all = append(all, graphItems...)
	slices.SortStableFunc(all, func(a, b ContextItem) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(provenanceRank(a.Provenance), provenanceRank(b.Provenance)),
			cmp.Compare(a.DocumentID, b.DocumentID),
		)
	})

	out := RetrievalContext{Items: make([]ContextItem, 0, len(all))}
	seen := make(map[string]struct{}, len(all))
	for _, it := range all {
		if it.Text == "" {
			continue
		}
		if _, dup := seen[it.DocumentID]; dup {
			continue
		}
		c := cost(it.Text)
		if out.Cost+c > budget {
			continue
		}
		seen[it.DocumentID] = struct{}{}
		it.Cost = c
		out.Cost += c
		out.Items = append(out.Items, it)
	}
	return out
}

func provenanceRank(p Provenance) int {
	if p == ProvenanceVector {
		return 0
	}
	return 1
}
