package graph

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/metrics"
)

// DefaultCorroborationStep is the confidence added per corroborating document
// beyond the first.
const DefaultCorroborationStep = 0.05

type consolidateOptions struct {
	step float64
}

type ConsolidateOption func(*consolidateOptions)

// WithCorroborationStep sets the per-document boost. Negative values are
// treated as zero so that aggregation stays monotonic.
func WithCorroborationStep(step float64) ConsolidateOption {
	return func(o *consolidateOptions) { o.step = max(0, step) }
}

type edgeAccumulator struct {
	edge common.RelationshipEdge
	docs map[string]struct{}
}

// Consolidate folds candidates into canonical edges, one per (source, target,
// kind). The edge confidence is
//
//	min(1, maxConfidence + step*(distinctDocuments-1))
//
// which never decreases when a candidate is added. When several candidates
// share the peak confidence the most recently extracted one supplies
// ExtractedAt. Edges are returned sorted by key.
func Consolidate(candidates []common.RelationshipCandidate, opts ...ConsolidateOption) []common.RelationshipEdge {
	o := consolidateOptions{step: DefaultCorroborationStep}
	for _, opt := range opts {
		opt(&o)
	}

	groups := make(map[common.EdgeKey]*edgeAccumulator)
	for _, c := range candidates {
		c.Source = common.NormalizeTicker(c.Source)
		c.Target = common.NormalizeTicker(c.Target)
		reason := candidateProblem(c)
		if reason == "" && c.DocumentID == "" {
			reason = dropMissingDoc
		}
		if reason != "" {
			err := fmt.Errorf("%w: %s for %s", ErrConsolidationConflict, reason, c.Key())
			logger.Warn("Dropping candidate during consolidation", "err", err, "document", c.DocumentID)
			metrics.Default().IncDroppedCandidate(reason)
			continue
		}
		c.Confidence = clampConfidence(c.Confidence)

		acc, ok := groups[c.Key()]
		if !ok {
			groups[c.Key()] = &edgeAccumulator{
				edge: common.RelationshipEdge{
					Source:      c.Source,
					Target:      c.Target,
					Kind:        c.Kind,
					Confidence:  c.Confidence,
					ExtractedAt: c.ExtractedAt,
				},
				docs: map[string]struct{}{c.DocumentID: {}},
			}
			continue
		}
		acc.docs[c.DocumentID] = struct{}{}
		switch {
		case c.Confidence > acc.edge.Confidence:
			acc.edge.Confidence = c.Confidence
			acc.edge.ExtractedAt = c.ExtractedAt
		case c.Confidence == acc.edge.Confidence && c.ExtractedAt.After(acc.edge.ExtractedAt):
			acc.edge.ExtractedAt = c.ExtractedAt
		}
	}

	edges := make([]common.RelationshipEdge, 0, len(groups))
	for _, acc := range groups {
		e := acc.edge
		e.Documents = make([]string, 0, len(acc.docs))
		for d := range acc.docs {
			e.Documents = append(e.Documents, d)
		}
		slices.Sort(e.Documents)
		e.Confidence = math.Min(1, e.Confidence+o.step*float64(len(e.Documents)-1))
		edges = append(edges, e)
	}
	slices.SortFunc(edges, func(a, b common.RelationshipEdge) int {
		return cmp.Or(
			cmp.Compare(a.Source, b.Source),
			cmp.Compare(a.Target, b.Target),
			cmp.Compare(a.Kind, b.Kind),
		)
	})
	return edges
}
