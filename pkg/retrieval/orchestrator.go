// Package retrieval assembles answer context from the relationship graph and
// the semantic document index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/metrics"
	"github.com/relgraph/backend/pkg/query"
	"github.com/relgraph/backend/pkg/snapshot"
	"github.com/relgraph/backend/pkg/store"
)

// SnapshotSource yields the snapshot a request should read.
type SnapshotSource interface {
	Current() *snapshot.Snapshot
}

// Embedder turns query text into a vector for the semantic index.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

var errNoSnapshot = errors.New("no graph snapshot published")

type Orchestrator struct {
	snapshots SnapshotSource
	embedder  Embedder
	vectors   store.VectorSearcher

	graphTimeout  time.Duration
	vectorTimeout time.Duration
	vectorK       int
	graphDepth    int
	graphTopK     int
	cost          CostFunc
	queryOpts     []query.Option
}

// OrchestratorParams configures an Orchestrator. Zero durations and counts
// fall back to defaults. Either source may be nil; a missing source is
// reported as degraded on every request.
type OrchestratorParams struct {
	Snapshots SnapshotSource
	Embedder  Embedder
	Vectors   store.VectorSearcher

	GraphTimeout  time.Duration
	VectorTimeout time.Duration
	VectorK       int
	GraphDepth    int
	GraphTopK     int
	Cost          CostFunc
	QueryOptions  []query.Option
}

func NewOrchestrator(params OrchestratorParams) *Orchestrator {
	o := &Orchestrator{
		snapshots:     params.Snapshots,
		embedder:      params.Embedder,
		vectors:       params.Vectors,
		graphTimeout:  params.GraphTimeout,
		vectorTimeout: params.VectorTimeout,
		vectorK:       params.VectorK,
		graphDepth:    params.GraphDepth,
		graphTopK:     params.GraphTopK,
		cost:          params.Cost,
		queryOpts:     params.QueryOptions,
	}
	if o.graphTimeout <= 0 {
		o.graphTimeout = 2 * time.Second
	}
	if o.vectorTimeout <= 0 {
		o.vectorTimeout = 3 * time.Second
	}
	if o.vectorK <= 0 {
		o.vectorK = 8
	}
	if o.graphDepth <= 0 {
		o.graphDepth = 2
	}
	if o.graphTopK <= 0 {
		o.graphTopK = 10
	}
	if o.cost == nil {
		o.cost = CharCost
	}
	return o
}

// Request is one retrieval. Budget bounds the summed cost of the returned
// items.
type Request struct {
	Query      string
	TickerHint string
	Budget     int
}

type branchResult struct {
	items   []ContextItem
	ticker  string
	version uint64
	err     error
}

// Retrieve runs the graph and vector branches concurrently, each under its
// own deadline, and merges what they return. A failed branch is listed in
// Degraded; when both fail ErrRetrievalUnavailable is returned. If ctx is
// cancelled the cancellation error is returned instead of partial context.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (*RetrievalContext, error) {
	if req.Budget < 1 {
		return nil, ErrInvalidBudget
	}
	defer metrics.TimeRetrieval()()

	var graphRes, vectorRes branchResult
	var wg sync.WaitGroup
	wg.Go(func() {
		graphRes = runBranch(ctx, o.graphTimeout, func(ctx context.Context) branchResult {
			return o.graphBranch(ctx, req)
		})
	})
	wg.Go(func() {
		vectorRes = runBranch(ctx, o.vectorTimeout, func(ctx context.Context) branchResult {
			return o.vectorBranch(ctx, req)
		})
	})
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		return nil, err
	}

	var degraded []string
	for _, r := range []struct {
		source Provenance
		err    error
	}{{ProvenanceGraph, graphRes.err}, {ProvenanceVector, vectorRes.err}} {
		if r.err == nil {
			continue
		}
		serr := &SourceError{Source: r.source, Err: r.err}
		logger.Warn("Retrieval source degraded", "source", r.source, "err", serr)
		metrics.Default().IncRetrievalDegraded(string(r.source))
		degraded = append(degraded, string(r.source))
	}
	if graphRes.err != nil && vectorRes.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, errors.Join(
			&SourceError{Source: ProvenanceGraph, Err: graphRes.err},
			&SourceError{Source: ProvenanceVector, Err: vectorRes.err},
		))
	}

	rc := merge(graphRes.items, vectorRes.items, req.Budget, o.cost)
	rc.Degraded = degraded
	rc.Ticker = graphRes.ticker
	rc.SnapshotVersion = graphRes.version
	logger.Debug("Retrieved context", "ticker", rc.Ticker, "items", len(rc.Items), "cost", rc.Cost, "budget", req.Budget, "degraded", degraded)
	return &rc, nil
}

// runBranch gives fn its own deadline and stops waiting once it expires, so
// a branch that ignores its context cannot hold up the request.
func runBranch(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) branchResult) branchResult {
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan branchResult, 1)
	go func() { done <- fn(bctx) }()

	select {
	case r := <-done:
		return r
	case <-bctx.Done():
		return branchResult{err: bctx.Err()}
	}
}

func (o *Orchestrator) graphBranch(ctx context.Context, req Request) branchResult {
	if o.snapshots == nil {
		return branchResult{err: errNoSnapshot}
	}
	snap := o.snapshots.Current()
	if snap == nil {
		return branchResult{err: errNoSnapshot}
	}
	res := branchResult{version: snap.Version()}

	ticker := common.NormalizeTicker(req.TickerHint)
	if ticker == "" {
		ticker = InferTicker(req.Query, snap.HasNode)
	}
	if ticker == "" || !snap.HasNode(ticker) {
		// nothing to anchor a traversal on
		return res
	}
	res.ticker = ticker

	opts := o.queryOpts
	if t := query.TracerFromContext(ctx); t != nil {
		opts = append(slices.Clip(opts), query.WithTracer(t))
	}
	engine := query.NewEngine(snap, opts...)
	depth := min(o.graphDepth, engine.MaxDepth())
	peers, err := engine.RankRelated(ticker, depth, o.graphTopK)
	if err != nil {
		res.err = err
		return res
	}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	seen := make(map[common.EdgeKey]struct{})
	add := func(edge common.RelationshipEdge, score float64) {
		if _, ok := seen[edge.Key()]; ok {
			return
		}
		seen[edge.Key()] = struct{}{}
		res.items = append(res.items, ContextItem{
			Provenance: ProvenanceGraph,
			DocumentID: "graph:" + edge.Key().String(),
			Text:       edge.Fact(),
			Score:      score,
		})
	}
	for _, p := range peers {
		for _, edge := range p.Edges {
			add(edge, p.Score*edge.Confidence)
		}
	}

	// relationships among the direct neighbors, e.g. two suppliers that
	// compete with each other
	sub, err := engine.Subgraph(ticker, 1)
	if err != nil {
		res.err = err
		return res
	}
	for _, edge := range sub.Edges() {
		if edge.Source != ticker && edge.Target != ticker {
			add(edge, 0.5*edge.Confidence)
		}
	}
	return res
}

func (o *Orchestrator) vectorBranch(ctx context.Context, req Request) branchResult {
	if o.embedder == nil || o.vectors == nil {
		return branchResult{err: errors.New("no vector index configured")}
	}
	emb, err := o.embedder.GenerateEmbedding(ctx, []byte(req.Query))
	if err != nil {
		return branchResult{err: fmt.Errorf("embed query: %w", err)}
	}
	hits, err := o.vectors.Search(ctx, emb, o.vectorK)
	if err != nil {
		return branchResult{err: fmt.Errorf("vector search: %w", err)}
	}

	items := make([]ContextItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, ContextItem{
			Provenance: ProvenanceVector,
			DocumentID: h.DocumentID,
			Text:       h.Content,
			Score:      h.Score,
		})
	}
	return branchResult{items: items}
}
