package snapshot

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/relgraph/backend/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func edge(src, dst string, kind common.RelationshipKind, conf float64, docs ...string) common.RelationshipEdge {
	return common.RelationshipEdge{Source: src, Target: dst, Kind: kind, Confidence: conf, Documents: docs}
}

func sampleEdges() []common.RelationshipEdge {
	return []common.RelationshipEdge{
		edge("AAPL", "TSM", common.KindSupplier, 0.9, "d1"),
		edge("AAPL", "MSFT", common.KindCompetitor, 0.4, "d2"),
		edge("AAPL", "GOOGL", common.KindCompetitor, 0.4, "d3"),
		edge("AAPL", "GOOGL", common.KindCustomer, 0.4, "d3"),
		edge("NVDA", "TSM", common.KindSupplier, 0.8, "d4", "d5"),
		edge("TSM", "AAPL", common.KindCustomer, 0.7, "d6"),
	}
}

func tickers(edges []common.RelationshipEdge, peer func(common.RelationshipEdge) string) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = peer(e) + ":" + string(e.Kind)
	}
	return out
}

func TestBuildAdjacencyOrder(t *testing.T) {
	s, err := Build(sampleEdges(), 3)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), s.Version())
	assert.Equal(t, []string{"AAPL", "GOOGL", "MSFT", "NVDA", "TSM"}, s.Nodes())
	assert.Equal(t, 6, s.EdgeCount())

	out := s.Out("AAPL")
	assert.Equal(t,
		[]string{"TSM:supplier", "GOOGL:competitor", "GOOGL:customer", "MSFT:competitor"},
		tickers(out, func(e common.RelationshipEdge) string { return e.Target }),
	)

	in := s.In("TSM")
	assert.Equal(t,
		[]string{"AAPL:supplier", "NVDA:supplier"},
		tickers(in, func(e common.RelationshipEdge) string { return e.Source }),
	)
	assert.Equal(t, 3, s.Degree("AAPL"))
	assert.True(t, s.HasNode("NVDA"))
	assert.False(t, s.HasNode("IBM"))
	assert.Empty(t, s.Out("IBM"))
}

func TestBuildIsOrderIndependent(t *testing.T) {
	edges := sampleEdges()
	a, err := Build(edges, 1)
	require.NoError(t, err)

	reversed := slices.Clone(edges)
	slices.Reverse(reversed)
	b, err := Build(reversed, 2)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Edges(), b.Edges())
	assert.Equal(t, a.Out("AAPL"), b.Out("AAPL"))
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(nil, 1)
	assert.ErrorIs(t, err, ErrEmptyGraph)

	dup := append(sampleEdges(), edge("AAPL", "TSM", common.KindSupplier, 0.1, "d9"))
	_, err = Build(dup, 1)
	assert.ErrorIs(t, err, ErrDuplicateEdge)

	for _, bad := range []common.RelationshipEdge{
		edge("", "TSM", common.KindSupplier, 0.5),
		edge("AAPL", "AAPL", common.KindSupplier, 0.5),
		edge("AAPL", "TSM", "partner", 0.5),
		edge("AAPL", "TSM", common.KindSupplier, 1.5),
	} {
		_, err := Build([]common.RelationshipEdge{bad}, 1)
		assert.ErrorIs(t, err, ErrInvalidEdge, "edge %+v", bad)
	}
}

func TestBuildDoesNotAliasInput(t *testing.T) {
	edges := sampleEdges()
	s, err := Build(edges, 1)
	require.NoError(t, err)

	edges[0].Documents[0] = "mutated"
	e, ok := s.Edge(common.EdgeKey{Source: "AAPL", Target: "TSM", Kind: common.KindSupplier})
	require.True(t, ok)
	assert.Equal(t, []string{"d1"}, e.Documents)
}

func TestRestrict(t *testing.T) {
	s, err := Build(sampleEdges(), 5)
	require.NoError(t, err)

	sub := s.Restrict(map[string]struct{}{"AAPL": {}, "TSM": {}})
	require.NotNil(t, sub)
	assert.Equal(t, uint64(5), sub.Version())
	assert.Equal(t, []string{"AAPL", "TSM"}, sub.Nodes())
	assert.Equal(t, 2, sub.EdgeCount())

	assert.Nil(t, s.Restrict(map[string]struct{}{"IBM": {}}))
}

func TestJSONRoundTrip(t *testing.T) {
	s, err := Build(sampleEdges(), 9)
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), decoded.Version())
	assert.True(t, s.Equal(decoded))
	assert.True(t, s.BuiltAt().Equal(decoded.BuiltAt()))

	_, err = Decode([]byte(`{"version":1,"edges":[]}`))
	assert.ErrorIs(t, err, ErrEmptyGraph)
}
