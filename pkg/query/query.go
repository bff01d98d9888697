// Package query answers structural questions against one graph snapshot.
// An Engine never sees a newer snapshot than the one it was created with, so
// a request observes a consistent graph even while a rebuild publishes.
package query

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/snapshot"
)

var (
	ErrNoPathFound   = errors.New("no path found")
	ErrInvalidDepth  = errors.New("invalid depth")
	ErrInvalidTopK   = errors.New("invalid top_k")
	ErrUnknownTicker = errors.New("unknown ticker")
	ErrNoSnapshot    = errors.New("no graph snapshot available")
)

const (
	DefaultMaxDepth     = 4
	DefaultKindBonus    = 0.1
	DefaultDegreeWeight = 0.02
)

type Engine struct {
	snap         *snapshot.Snapshot
	maxDepth     int
	kindBonus    float64
	degreeWeight float64
	tracer       Tracer
}

type Option func(*Engine)

// WithMaxDepth caps the depth any operation accepts.
func WithMaxDepth(d int) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxDepth = d
		}
	}
}

func WithKindBonus(b float64) Option {
	return func(e *Engine) { e.kindBonus = b }
}

func WithDegreeWeight(w float64) Option {
	return func(e *Engine) { e.degreeWeight = w }
}

func WithTracer(t Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func NewEngine(snap *snapshot.Snapshot, opts ...Option) *Engine {
	e := &Engine{
		snap:         snap,
		maxDepth:     DefaultMaxDepth,
		kindBonus:    DefaultKindBonus,
		degreeWeight: DefaultDegreeWeight,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Snapshot() *snapshot.Snapshot { return e.snap }
func (e *Engine) MaxDepth() int                { return e.maxDepth }

// HasTicker reports whether ticker is a node of the snapshot.
func (e *Engine) HasTicker(ticker string) bool {
	return e.snap != nil && e.snap.HasNode(common.NormalizeTicker(ticker))
}

func (e *Engine) checkDepth(depth int) error {
	if depth < 1 || depth > e.maxDepth {
		return fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidDepth, depth, e.maxDepth)
	}
	return nil
}

func (e *Engine) lookup(ticker string) (string, error) {
	if e.snap == nil {
		return "", ErrNoSnapshot
	}
	t := common.NormalizeTicker(ticker)
	if !e.snap.HasNode(t) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTicker, ticker)
	}
	return t, nil
}

// Neighbors returns every edge touching ticker in either direction, ordered
// by confidence descending, then peer ticker, then kind. When kinds are given
// only those kinds are returned. Unknown tickers yield no edges.
func (e *Engine) Neighbors(ticker string, kinds ...common.RelationshipKind) []common.RelationshipEdge {
	t, err := e.lookup(ticker)
	if err != nil {
		return nil
	}

	edges := append(e.snap.Out(t), e.snap.In(t)...)
	if len(kinds) > 0 {
		edges = slices.DeleteFunc(edges, func(edge common.RelationshipEdge) bool {
			return !slices.Contains(kinds, edge.Kind)
		})
	}
	slices.SortStableFunc(edges, func(a, b common.RelationshipEdge) int {
		return cmp.Or(
			cmp.Compare(b.Confidence, a.Confidence),
			cmp.Compare(a.Peer(t), b.Peer(t)),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Source, b.Source),
		)
	})

	RecordVisitedTickers(e.tracer, "neighbors", t)
	RecordReturnedEdges(e.tracer, "neighbors", edges...)
	return edges
}

// Path returns a directed path from source to target with the fewest hops,
// at most maxDepth. Among shortest paths it prefers the largest bottleneck
// (weakest edge confidence), then the lexicographically smallest ticker
// sequence. A path from a ticker to itself is empty.
func (e *Engine) Path(source, target string, maxDepth int) ([]common.RelationshipEdge, error) {
	if err := e.checkDepth(maxDepth); err != nil {
		return nil, err
	}
	src, err := e.lookup(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoPathFound, err)
	}
	dst, err := e.lookup(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoPathFound, err)
	}
	if src == dst {
		return []common.RelationshipEdge{}, nil
	}

	// hop distance from src over outgoing edges, bounded by maxDepth
	dist := map[string]int{src: 0}
	layers := [][]string{{src}}
	for d := 0; d < maxDepth && dist[dst] == 0; d++ {
		var next []string
		for _, u := range layers[d] {
			for _, edge := range e.snap.Out(u) {
				if _, seen := dist[edge.Target]; !seen {
					dist[edge.Target] = d + 1
					next = append(next, edge.Target)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		layers = append(layers, next)
	}
	hops, ok := dist[dst]
	if !ok {
		RecordVisitedTickers(e.tracer, "path", src, dst)
		return nil, fmt.Errorf("%w: %s to %s within %d hops", ErrNoPathFound, src, dst, maxDepth)
	}

	forward := func(u string, edge common.RelationshipEdge) bool {
		return dist[edge.Target] == dist[u]+1 && dist[edge.Target] <= hops
	}

	// best achievable bottleneck per node along shortest paths
	bottleneck := map[string]float64{src: math.Inf(1)}
	for d := 0; d < hops; d++ {
		for _, u := range layers[d] {
			bu, reached := bottleneck[u]
			if !reached {
				continue
			}
			for _, edge := range e.snap.Out(u) {
				if !forward(u, edge) {
					continue
				}
				bottleneck[edge.Target] = max(bottleneck[edge.Target], min(bu, edge.Confidence))
			}
		}
	}
	best := bottleneck[dst]

	// nodes that still reach dst in the remaining hops using edges >= best
	reaches := map[string]bool{dst: true}
	for d := hops - 1; d >= 0; d-- {
		for _, u := range layers[d] {
			for _, edge := range e.snap.Out(u) {
				if forward(u, edge) && edge.Confidence >= best && reaches[edge.Target] {
					reaches[u] = true
					break
				}
			}
		}
	}

	path := make([]common.RelationshipEdge, 0, hops)
	for cur := src; cur != dst; {
		var step common.RelationshipEdge
		for _, edge := range e.snap.Out(cur) {
			if !forward(cur, edge) || edge.Confidence < best || !reaches[edge.Target] {
				continue
			}
			if step.Target == "" || preferStep(edge, step) {
				step = edge
			}
		}
		path = append(path, step)
		cur = step.Target
	}

	RecordVisitedTickers(e.tracer, "path", pathTickers(path)...)
	RecordReturnedEdges(e.tracer, "path", path...)
	return path, nil
}

// preferStep orders candidate hops by next ticker, then confidence
// descending, then kind.
func preferStep(a, b common.RelationshipEdge) bool {
	return cmp.Or(
		cmp.Compare(a.Target, b.Target),
		cmp.Compare(b.Confidence, a.Confidence),
		cmp.Compare(a.Kind, b.Kind),
	) < 0
}

func pathTickers(path []common.RelationshipEdge) []string {
	if len(path) == 0 {
		return nil
	}
	out := []string{path[0].Source}
	for _, edge := range path {
		out = append(out, edge.Target)
	}
	return out
}

// undirectedLayers walks the graph ignoring direction and returns the hop
// distance of every node within depth of start, plus the nodes per layer.
func (e *Engine) undirectedLayers(start string, depth int) (map[string]int, [][]string) {
	dist := map[string]int{start: 0}
	layers := [][]string{{start}}
	for d := 0; d < depth; d++ {
		var next []string
		visit := func(peer string) {
			if _, seen := dist[peer]; !seen {
				dist[peer] = d + 1
				next = append(next, peer)
			}
		}
		for _, u := range layers[d] {
			for _, edge := range e.snap.Out(u) {
				visit(edge.Target)
			}
			for _, edge := range e.snap.In(u) {
				visit(edge.Source)
			}
		}
		if len(next) == 0 {
			break
		}
		slices.Sort(next)
		layers = append(layers, next)
	}
	return dist, layers
}

// Subgraph returns the nodes within depth undirected hops of ticker and every
// edge among them. The result carries the parent snapshot's version.
func (e *Engine) Subgraph(ticker string, depth int) (*snapshot.Snapshot, error) {
	if err := e.checkDepth(depth); err != nil {
		return nil, err
	}
	t, err := e.lookup(ticker)
	if err != nil {
		return nil, err
	}

	dist, _ := e.undirectedLayers(t, depth)
	nodes := make(map[string]struct{}, len(dist))
	for n := range dist {
		nodes[n] = struct{}{}
	}
	sub := e.snap.Restrict(nodes)
	if sub == nil {
		return nil, fmt.Errorf("%w: %q has no edges", ErrUnknownTicker, ticker)
	}

	RecordVisitedTickers(e.tracer, "subgraph", sub.Nodes()...)
	return sub, nil
}

// RankedPeer is one company related to the queried ticker.
type RankedPeer struct {
	Ticker   string                    `json:"ticker"`
	Score    float64                   `json:"score"`
	Hops     int                       `json:"hops"`
	Evidence float64                   `json:"evidence"`
	Kinds    []common.RelationshipKind `json:"kinds"`
	// Edges link the peer to the previous hop, strongest first.
	Edges []common.RelationshipEdge `json:"edges"`
}

// RankRelated scores the peers within depth undirected hops of ticker and
// returns the best topK. A peer's score is
//
//	evidence*0.5^(hops-1) + kindBonus*(kinds-1) + degreeWeight*ln(1+degree)
//
// where evidence is the best bottleneck confidence over shortest paths and
// kinds counts the distinct kinds linking the peer to the previous hop.
// Ties are broken by ticker.
func (e *Engine) RankRelated(ticker string, depth, topK int) ([]RankedPeer, error) {
	if err := e.checkDepth(depth); err != nil {
		return nil, err
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, topK)
	}
	t, err := e.lookup(ticker)
	if err != nil {
		return nil, err
	}

	dist, layers := e.undirectedLayers(t, depth)
	evidence := map[string]float64{t: math.Inf(1)}
	links := make(map[string][]common.RelationshipEdge)
	for d := 0; d+1 < len(layers); d++ {
		for _, u := range layers[d] {
			for _, edge := range append(e.snap.Out(u), e.snap.In(u)...) {
				peer := edge.Peer(u)
				if dist[peer] != d+1 {
					continue
				}
				evidence[peer] = max(evidence[peer], min(evidence[u], edge.Confidence))
				links[peer] = append(links[peer], edge)
			}
		}
	}

	peers := make([]RankedPeer, 0, len(dist)-1)
	for peer, hops := range dist {
		if hops == 0 {
			continue
		}
		edges := links[peer]
		slices.SortFunc(edges, func(a, b common.RelationshipEdge) int {
			return cmp.Or(
				cmp.Compare(b.Confidence, a.Confidence),
				cmp.Compare(a.Source, b.Source),
				cmp.Compare(a.Target, b.Target),
				cmp.Compare(a.Kind, b.Kind),
			)
		})
		var kinds []common.RelationshipKind
		for _, edge := range edges {
			if !slices.Contains(kinds, edge.Kind) {
				kinds = append(kinds, edge.Kind)
			}
		}
		slices.Sort(kinds)

		ev := evidence[peer]
		score := ev*math.Pow(0.5, float64(hops-1)) +
			e.kindBonus*float64(len(kinds)-1) +
			e.degreeWeight*math.Log1p(float64(e.snap.Degree(peer)))
		peers = append(peers, RankedPeer{
			Ticker:   peer,
			Score:    score,
			Hops:     hops,
			Evidence: ev,
			Kinds:    kinds,
			Edges:    edges,
		})
	}

	slices.SortFunc(peers, func(a, b RankedPeer) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.Ticker, b.Ticker))
	})
	if len(peers) > topK {
		peers = peers[:topK]
	}

	visited := make([]string, len(peers))
	for i, p := range peers {
		visited[i] = p.Ticker
	}
	RecordVisitedTickers(e.tracer, "rank_related", append(visited, t)...)
	return peers, nil
}
