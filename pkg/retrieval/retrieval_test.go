package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/snapshot"
	"github.com/relgraph/backend/pkg/store"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSnapshots struct{ snap *snapshot.Snapshot }

func (s staticSnapshots) Current() *snapshot.Snapshot { return s.snap }

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

// fakeSearcher blocks its first blockFirst calls until their context ends.
type fakeSearcher struct {
	hits       []store.VectorHit
	err        error
	blockFirst int32
	calls      atomic.Int32
}

func (f *fakeSearcher) Search(ctx context.Context, _ []float32, k int) ([]store.VectorHit, error) {
	if f.calls.Add(1) <= f.blockFirst {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[:min(k, len(f.hits))], nil
}

func testSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Build([]common.RelationshipEdge{
		{Source: "AAPL", Target: "TSM", Kind: common.KindSupplier, Confidence: 0.8, Documents: []string{"d1", "d2"}},
		{Source: "AAPL", Target: "MSFT", Kind: common.KindCompetitor, Confidence: 0.4, Documents: []string{"d3"}},
		{Source: "TSM", Target: "MSFT", Kind: common.KindCustomer, Confidence: 0.6, Documents: []string{"d4"}},
	}, 7)
	require.NoError(t, err)
	return snap
}

func testHits() []store.VectorHit {
	return []store.VectorHit{
		{DocumentID: "d1", Ticker: "AAPL", Content: "Apple sources chips from TSMC.", Score: 0.5},
		{DocumentID: "d9", Ticker: "AAPL", Content: "Apple competes in cloud.", Score: 0.25},
	}
}

func TestRetrieveMergesBothSources(t *testing.T) {
	o := NewOrchestrator(OrchestratorParams{
		Snapshots: staticSnapshots{testSnapshot(t)},
		Embedder:  fakeEmbedder{},
		Vectors:   &fakeSearcher{hits: testHits()},
	})

	rc, err := o.Retrieve(context.Background(), Request{Query: "Who supplies $AAPL?", Budget: 10_000})
	require.NoError(t, err)
	assert.Empty(t, rc.Degraded)
	assert.Equal(t, "AAPL", rc.Ticker)
	assert.Equal(t, uint64(7), rc.SnapshotVersion)

	require.NotEmpty(t, rc.Items)
	// top item of each source is normalized to 1 and vector wins the tie
	assert.Equal(t, ProvenanceVector, rc.Items[0].Provenance)
	assert.Equal(t, "d1", rc.Items[0].DocumentID)
	assert.Equal(t, 1.0, rc.Items[0].Score)
	assert.Equal(t, ProvenanceGraph, rc.Items[1].Provenance)
	assert.Equal(t, 1.0, rc.Items[1].Score)
	assert.Equal(t, "graph:AAPL|TSM|supplier", rc.Items[1].DocumentID)
	assert.Equal(t, "TSM is a supplier of AAPL (confidence 0.80, 2 documents)", rc.Items[1].Text)

	ids := map[string]bool{}
	total := 0
	for _, it := range rc.Items {
		assert.False(t, ids[it.DocumentID], "duplicate %s", it.DocumentID)
		ids[it.DocumentID] = true
		assert.GreaterOrEqual(t, it.Score, 0.0)
		assert.LessOrEqual(t, it.Score, 1.0)
		total += it.Cost
	}
	assert.Equal(t, total, rc.Cost)
	assert.True(t, ids["graph:TSM|MSFT|customer"], "edges among neighbors are included")
	assert.True(t, ids["d9"])
}

func TestRetrieveDegradesWhenGraphMissing(t *testing.T) {
	o := NewOrchestrator(OrchestratorParams{
		Snapshots: staticSnapshots{},
		Embedder:  fakeEmbedder{},
		Vectors:   &fakeSearcher{hits: testHits()},
	})
	rc, err := o.Retrieve(context.Background(), Request{Query: "AAPL suppliers", Budget: 1000})
	require.NoError(t, err)
	assert.Equal(t, []string{"graph"}, rc.Degraded)
	require.Len(t, rc.Items, 2)
	for _, it := range rc.Items {
		assert.Equal(t, ProvenanceVector, it.Provenance)
	}
}

func TestRetrieveDegradesWhenVectorTimesOut(t *testing.T) {
	searcher := &fakeSearcher{blockFirst: 1}
	o := NewOrchestrator(OrchestratorParams{
		Snapshots:     staticSnapshots{testSnapshot(t)},
		Embedder:      fakeEmbedder{},
		Vectors:       searcher,
		VectorTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	rc, err := o.Retrieve(context.Background(), Request{Query: "AAPL", TickerHint: "aapl", Budget: 1000})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"vector"}, rc.Degraded)
	require.NotEmpty(t, rc.Items)
	for _, it := range rc.Items {
		assert.Equal(t, ProvenanceGraph, it.Provenance)
	}
}

func TestRetrieveUnavailableWhenBothFail(t *testing.T) {
	o := NewOrchestrator(OrchestratorParams{
		Snapshots: staticSnapshots{},
		Embedder:  fakeEmbedder{err: errors.New("embedding service down")},
		Vectors:   &fakeSearcher{},
	})
	rc, err := o.Retrieve(context.Background(), Request{Query: "AAPL", Budget: 1000})
	require.ErrorIs(t, err, ErrRetrievalUnavailable)
	assert.Nil(t, rc)

	var serr *SourceError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "embedding service down")
}

func TestRetrieveUnknownTickerIsNotDegraded(t *testing.T) {
	o := NewOrchestrator(OrchestratorParams{
		Snapshots: staticSnapshots{testSnapshot(t)},
		Embedder:  fakeEmbedder{},
		Vectors:   &fakeSearcher{hits: testHits()},
	})
	rc, err := o.Retrieve(context.Background(), Request{Query: "what about the weather", Budget: 1000})
	require.NoError(t, err)
	assert.Empty(t, rc.Degraded)
	assert.Empty(t, rc.Ticker)
	assert.Len(t, rc.Items, 2)
}

func TestRetrieveRejectsBudget(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorParams{}).Retrieve(context.Background(), Request{Query: "x", Budget: 0})
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestMergeSkipsItemsThatDoNotFit(t *testing.T) {
	vector := []ContextItem{
		{Provenance: ProvenanceVector, DocumentID: "big", Text: strings.Repeat("x", 80), Score: 0.9},
		{Provenance: ProvenanceVector, DocumentID: "small", Text: strings.Repeat("y", 10), Score: 0.3},
		{Provenance: ProvenanceVector, DocumentID: "small", Text: "dup", Score: 0.1},
	}
	graph := []ContextItem{
		{Provenance: ProvenanceGraph, DocumentID: "graph:A|B|other", Text: strings.Repeat("z", 30), Score: 2},
	}
	rc := merge(graph, vector, 50, CharCost)

	require.Len(t, rc.Items, 2)
	assert.Equal(t, "graph:A|B|other", rc.Items[0].DocumentID)
	assert.Equal(t, "small", rc.Items[1].DocumentID)
	assert.Equal(t, 40, rc.Cost)
}

func TestMergeNonPositiveScores(t *testing.T) {
	rc := merge(nil, []ContextItem{
		{Provenance: ProvenanceVector, DocumentID: "a", Text: "a", Score: -1},
		{Provenance: ProvenanceVector, DocumentID: "b", Text: "b", Score: 0},
	}, 10, CharCost)
	require.Len(t, rc.Items, 2)
	assert.Equal(t, 0.0, rc.Items[0].Score)
	assert.Equal(t, "a", rc.Items[0].DocumentID)
}

func TestMergeIgnoresNonFiniteScores(t *testing.T) {
	graph := []ContextItem{{Provenance: ProvenanceGraph, DocumentID: "g1", Text: "g", Score: 0.4}}
	vector := []ContextItem{
		{Provenance: ProvenanceVector, DocumentID: "d1", Text: "a", Score: math.NaN()},
		{Provenance: ProvenanceVector, DocumentID: "d2", Text: "b", Score: 0.9},
		{Provenance: ProvenanceVector, DocumentID: "d3", Text: "c", Score: math.Inf(1)},
	}
	rc := merge(graph, vector, 100, CharCost)

	require.Len(t, rc.Items, 4)
	ids := make([]string, 0, len(rc.Items))
	for _, it := range rc.Items {
		assert.False(t, math.IsNaN(it.Score) || math.IsInf(it.Score, 0), it.DocumentID)
		ids = append(ids, it.DocumentID)
	}
	assert.Equal(t, []string{"d2", "g1", "d1", "d3"}, ids)
	assert.Equal(t, 1.0, rc.Items[0].Score)

	_, err := json.Marshal(rc)
	require.NoError(t, err)
}

func TestMergeRespectsBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("merged cost never exceeds the budget", prop.ForAll(
		func(lengths []int, budget int) bool {
			var graph, vector []ContextItem
			for i, n := range lengths {
				it := ContextItem{DocumentID: fmt.Sprintf("doc%d", i%7), Text: strings.Repeat("w", n), Score: float64(n % 13)}
				if i%2 == 0 {
					it.Provenance = ProvenanceGraph
					graph = append(graph, it)
				} else {
					it.Provenance = ProvenanceVector
					vector = append(vector, it)
				}
			}
			rc := merge(graph, vector, budget, CharCost)
			sum := 0
			for _, it := range rc.Items {
				sum += it.Cost
			}
			return rc.Cost <= budget && sum == rc.Cost
		},
		gen.SliceOf(gen.IntRange(0, 200)),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}

func TestSessionsCancelSuperseded(t *testing.T) {
	blocking := &fakeSearcher{blockFirst: 1, hits: testHits()}
	o := NewOrchestrator(OrchestratorParams{
		Snapshots:     staticSnapshots{},
		Embedder:      fakeEmbedder{},
		Vectors:       blocking,
		VectorTimeout: 10 * time.Second,
	})
	sessions := NewSessions(o)

	firstErr := make(chan error, 1)
	go func() {
		_, err := sessions.Retrieve(context.Background(), "s1", Request{Query: "first", Budget: 100})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return blocking.calls.Load() == 1 }, time.Second, time.Millisecond)

	// the second request replaces the first and is not blocked
	rc, err := sessions.Retrieve(context.Background(), "s1", Request{Query: "second", Budget: 1000})
	require.NoError(t, err)
	assert.NotEmpty(t, rc.Items)

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded request was not cancelled")
	}
	assert.Equal(t, 0, sessions.Running())
}

func TestInferTicker(t *testing.T) {
	known := func(t string) bool {
		switch t {
		case "AAPL", "TSM", "BRK-B", "NVDA":
			return true
		}
		return false
	}
	assert.Equal(t, "BRK-B", InferTicker("how exposed is $brk.b to AAPL", known))
	assert.Equal(t, "AAPL", InferTicker("Is AAPL exposed to TSM?", known))
	assert.Equal(t, "NVDA", InferTicker("Who competes with NVIDIA?", known))
	assert.Equal(t, "", InferTicker("Who supplies IBM?", known))
}
