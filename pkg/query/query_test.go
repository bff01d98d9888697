package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/snapshot"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func edge(src, dst string, kind common.RelationshipKind, conf float64) common.RelationshipEdge {
	return common.RelationshipEdge{Source: src, Target: dst, Kind: kind, Confidence: conf, Documents: []string{"doc"}}
}

func engineFor(t *testing.T, edges ...common.RelationshipEdge) *Engine {
	t.Helper()
	snap, err := snapshot.Build(edges, 1)
	require.NoError(t, err)
	return NewEngine(snap)
}

func keys(edges []common.RelationshipEdge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.Key().String()
	}
	return out
}

func TestNeighborsOrdering(t *testing.T) {
	e := engineFor(t,
		edge("AAPL", "TSM", common.KindSupplier, 0.9),
		edge("AAPL", "MSFT", common.KindCompetitor, 0.4),
	)
	got := e.Neighbors("AAPL")
	require.Len(t, got, 2)
	assert.Equal(t, "TSM", got[0].Target)
	assert.Equal(t, "MSFT", got[1].Target)
}

func TestNeighborsBothDirectionsAndKinds(t *testing.T) {
	e := engineFor(t,
		edge("AAPL", "TSM", common.KindSupplier, 0.9),
		edge("TSM", "AAPL", common.KindCustomer, 0.9),
		edge("NVDA", "TSM", common.KindSupplier, 0.8),
		edge("TSM", "INTC", common.KindCompetitor, 0.6),
	)
	assert.Equal(t, []string{
		"TSM|AAPL|customer",
		"AAPL|TSM|supplier",
		"NVDA|TSM|supplier",
		"TSM|INTC|competitor",
	}, keys(e.Neighbors("tsm")))

	assert.Equal(t, []string{"TSM|INTC|competitor"}, keys(e.Neighbors("TSM", common.KindCompetitor)))
	assert.Empty(t, e.Neighbors("IBM"))
}

func TestPathScenarios(t *testing.T) {
	e := engineFor(t,
		edge("AAPL", "TSM", common.KindSupplier, 0.9),
		edge("TSM", "NVDA", common.KindCustomer, 0.7),
		edge("AAPL", "MSFT", common.KindCompetitor, 0.4),
	)

	_, err := e.Path("AAPL", "NVDA", 1)
	assert.ErrorIs(t, err, ErrNoPathFound)

	path, err := e.Path("AAPL", "NVDA", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL|TSM|supplier", "TSM|NVDA|customer"}, keys(path))

	path, err = e.Path("AAPL", "AAPL", 1)
	require.NoError(t, err)
	assert.Empty(t, path)

	// direction matters
	_, err = e.Path("NVDA", "AAPL", 4)
	assert.ErrorIs(t, err, ErrNoPathFound)

	_, err = e.Path("AAPL", "IBM", 2)
	assert.ErrorIs(t, err, ErrNoPathFound)
	assert.ErrorIs(t, err, ErrUnknownTicker)

	_, err = e.Path("AAPL", "NVDA", 0)
	assert.ErrorIs(t, err, ErrInvalidDepth)
	_, err = e.Path("AAPL", "NVDA", DefaultMaxDepth+1)
	assert.ErrorIs(t, err, ErrInvalidDepth)
}

func TestPathPrefersBottleneckThenTickers(t *testing.T) {
	e := engineFor(t,
		// A-B-D has bottleneck 0.3, A-C-D has 0.6
		edge("A", "B", common.KindSupplier, 0.9),
		edge("B", "D", common.KindSupplier, 0.3),
		edge("A", "C", common.KindSupplier, 0.6),
		edge("C", "D", common.KindSupplier, 0.8),
		// a longer but stronger route is never preferred
		edge("A", "X", common.KindSupplier, 1),
		edge("X", "Y", common.KindSupplier, 1),
		edge("Y", "D", common.KindSupplier, 1),
	)
	path, err := e.Path("A", "D", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"A|C|supplier", "C|D|supplier"}, keys(path))

	tie := engineFor(t,
		edge("A", "C", common.KindSupplier, 0.5),
		edge("C", "D", common.KindSupplier, 0.5),
		edge("A", "B", common.KindSupplier, 0.5),
		edge("B", "D", common.KindSupplier, 0.5),
		edge("B", "D", common.KindOther, 0.5),
	)
	path, err = tie.Path("A", "D", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A|B|supplier", "B|D|other"}, keys(path))
}

func TestPathDepthBound(t *testing.T) {
	nodes := []string{"A", "B", "C", "D", "E", "F"}
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("paths respect max depth and are connected", prop.ForAll(
		func(seeds []int, from, to, depth int) bool {
			var edges []common.RelationshipEdge
			seen := map[string]bool{}
			for _, s := range seeds {
				src, dst := nodes[s%6], nodes[(s/6)%6]
				k := src + dst
				if src == dst || seen[k] {
					continue
				}
				seen[k] = true
				edges = append(edges, edge(src, dst, common.KindSupplier, float64((s/36)%10+1)/10))
			}
			snap, err := snapshot.Build(edges, 1)
			if err != nil {
				return true
			}
			e := NewEngine(snap)
			path, err := e.Path(nodes[from], nodes[to], depth)
			if err != nil {
				return true
			}
			if len(path) > depth {
				return false
			}
			cur := nodes[from]
			for _, p := range path {
				if p.Source != cur {
					return false
				}
				cur = p.Target
			}
			return cur == nodes[to]
		},
		gen.SliceOf(gen.IntRange(0, 359)),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.IntRange(1, DefaultMaxDepth),
	))

	properties.TestingRun(t)
}

func TestSubgraph(t *testing.T) {
	e := engineFor(t,
		edge("AAPL", "TSM", common.KindSupplier, 0.9),
		edge("NVDA", "TSM", common.KindSupplier, 0.8),
		edge("NVDA", "AMD", common.KindCompetitor, 0.7),
		edge("AMD", "INTC", common.KindCompetitor, 0.6),
	)

	sub, err := e.Subgraph("AAPL", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "NVDA", "TSM"}, sub.Nodes())
	assert.Equal(t, 2, sub.EdgeCount())
	assert.Equal(t, e.Snapshot().Version(), sub.Version())

	_, err = e.Subgraph("IBM", 1)
	assert.ErrorIs(t, err, ErrUnknownTicker)
	_, err = e.Subgraph("AAPL", 0)
	assert.ErrorIs(t, err, ErrInvalidDepth)
}

func TestRankRelated(t *testing.T) {
	e := NewEngine(mustBuild(t,
		edge("AAPL", "TSM", common.KindSupplier, 0.9),
		edge("TSM", "AAPL", common.KindCustomer, 0.8),
		edge("AAPL", "MSFT", common.KindCompetitor, 0.6),
		edge("TSM", "NVDA", common.KindCustomer, 0.95),
	), WithDegreeWeight(0))

	peers, err := e.RankRelated("AAPL", 2, 10)
	require.NoError(t, err)
	require.Len(t, peers, 3)

	assert.Equal(t, "TSM", peers[0].Ticker)
	assert.Equal(t, 1, peers[0].Hops)
	assert.Equal(t, []common.RelationshipKind{common.KindCustomer, common.KindSupplier}, peers[0].Kinds)
	assert.InDelta(t, 0.9+DefaultKindBonus, peers[0].Score, 1e-9)
	assert.Len(t, peers[0].Edges, 2)

	assert.Equal(t, "MSFT", peers[1].Ticker)
	assert.InDelta(t, 0.6, peers[1].Score, 1e-9)

	assert.Equal(t, "NVDA", peers[2].Ticker)
	assert.Equal(t, 2, peers[2].Hops)
	assert.InDelta(t, 0.9, peers[2].Evidence, 1e-9)
	assert.InDelta(t, 0.45, peers[2].Score, 1e-9)

	top, err := e.RankRelated("AAPL", 1, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "TSM", top[0].Ticker)

	_, err = e.RankRelated("AAPL", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)
	_, err = e.RankRelated("AAPL", 0, 3)
	assert.ErrorIs(t, err, ErrInvalidDepth)
	_, err = e.RankRelated("IBM", 1, 3)
	assert.ErrorIs(t, err, ErrUnknownTicker)
}

func TestRankRelatedTiesByTicker(t *testing.T) {
	e := engineFor(t,
		edge("HUB", "ZZZ", common.KindOther, 0.5),
		edge("HUB", "AAA", common.KindOther, 0.5),
		edge("HUB", "MMM", common.KindOther, 0.5),
	)
	peers, err := e.RankRelated("HUB", 1, 3)
	require.NoError(t, err)
	got := make([]string, len(peers))
	for i, p := range peers {
		got[i] = p.Ticker
	}
	assert.Equal(t, []string{"AAA", "MMM", "ZZZ"}, got)
}

func TestEngineWithoutSnapshot(t *testing.T) {
	e := NewEngine(nil)
	assert.Empty(t, e.Neighbors("AAPL"))
	_, err := e.RankRelated("AAPL", 1, 1)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.False(t, e.HasTicker("AAPL"))
}

func TestEngineTracing(t *testing.T) {
	trace := NewQueryTrace()
	snap := mustBuild(t,
		edge("AAPL", "TSM", common.KindSupplier, 0.9),
		edge("TSM", "NVDA", common.KindCustomer, 0.7),
	)
	e := NewEngine(snap, WithTracer(MultiTracer{trace, nil}))

	e.Neighbors("AAPL")
	_, err := e.Path("AAPL", "NVDA", 2)
	require.NoError(t, err)

	s := trace.Snapshot()
	assert.Equal(t, []string{"AAPL", "NVDA", "TSM"}, s.VisitedTickers)
	assert.Equal(t, []string{"AAPL|TSM|supplier", "TSM|NVDA|customer"}, s.ReturnedEdges)
}

func TestTracerFromContext(t *testing.T) {
	assert.Nil(t, TracerFromContext(context.Background()))

	trace := NewQueryTrace()
	ctx := ContextWithTracer(context.Background(), trace)
	got := TracerFromContext(ctx)
	require.NotNil(t, got)
	RecordVisitedTickers(got, "test", "AAPL")
	assert.Equal(t, []string{"AAPL"}, trace.Snapshot().VisitedTickers)
}

func mustBuild(t *testing.T, edges ...common.RelationshipEdge) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Build(edges, 1)
	require.NoError(t, err, fmt.Sprint(edges))
	return snap
}
