// Package snapshot holds immutable, versioned relationship graphs and the
// single-writer store that publishes them.
package snapshot

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/relgraph/backend/pkg/common"
)

var (
	// ErrEmptyGraph is returned when a build is attempted without edges. The
	// previously published snapshot stays current.
	ErrEmptyGraph = errors.New("snapshot: empty edge set")
	// ErrInvalidEdge is returned for edges that violate the edge invariants.
	ErrInvalidEdge = errors.New("snapshot: invalid edge")
	// ErrDuplicateEdge is returned when two edges share a key.
	ErrDuplicateEdge = errors.New("snapshot: duplicate edge")
)

// Snapshot is one immutable version of the relationship graph.
//
// Edges returned by accessors share their Documents slice with the snapshot;
// callers must treat them as read-only.
type Snapshot struct {
	version uint64
	builtAt time.Time

	edges []common.RelationshipEdge
	nodes []string
	index map[common.EdgeKey]int
	out   map[string][]int
	in    map[string][]int
}

// Build creates a snapshot from a consolidated edge set. It is a pure
// function of edges: equal inputs in any order give structurally equal
// snapshots.
func Build(edges []common.RelationshipEdge, version uint64) (*Snapshot, error) {
	if len(edges) == 0 {
		return nil, ErrEmptyGraph
	}

	s := &Snapshot{
		version: version,
		builtAt: time.Now().UTC(),
		edges:   make([]common.RelationshipEdge, len(edges)),
		index:   make(map[common.EdgeKey]int, len(edges)),
		out:     make(map[string][]int),
		in:      make(map[string][]int),
	}

	for i, e := range edges {
		if err := validateEdge(e); err != nil {
			return nil, err
		}
		e.Documents = slices.Clone(e.Documents)
		slices.Sort(e.Documents)
		e.Documents = slices.Compact(e.Documents)
		s.edges[i] = e
	}
	slices.SortFunc(s.edges, compareEdgeKeys)

	seen := make(map[string]struct{})
	for i, e := range s.edges {
		key := e.Key()
		if _, ok := s.index[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEdge, key)
		}
		s.index[key] = i
		s.out[e.Source] = append(s.out[e.Source], i)
		s.in[e.Target] = append(s.in[e.Target], i)
		seen[e.Source] = struct{}{}
		seen[e.Target] = struct{}{}
	}

	s.nodes = make([]string, 0, len(seen))
	for n := range seen {
		s.nodes = append(s.nodes, n)
	}
	slices.Sort(s.nodes)

	for n, idx := range s.out {
		s.sortAdjacency(idx, func(e common.RelationshipEdge) string { return e.Target })
		s.out[n] = idx
	}
	for n, idx := range s.in {
		s.sortAdjacency(idx, func(e common.RelationshipEdge) string { return e.Source })
		s.in[n] = idx
	}

	return s, nil
}

func validateEdge(e common.RelationshipEdge) error {
	switch {
	case e.Source == "" || e.Target == "":
		return fmt.Errorf("%w: empty ticker in %s", ErrInvalidEdge, e.Key())
	case e.Source == e.Target:
		return fmt.Errorf("%w: self loop %s", ErrInvalidEdge, e.Key())
	case !e.Kind.Valid():
		return fmt.Errorf("%w: unknown kind in %s", ErrInvalidEdge, e.Key())
	case math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1:
		return fmt.Errorf("%w: confidence %v in %s", ErrInvalidEdge, e.Confidence, e.Key())
	}
	return nil
}

func compareEdgeKeys(a, b common.RelationshipEdge) int {
	return cmp.Or(
		cmp.Compare(a.Source, b.Source),
		cmp.Compare(a.Target, b.Target),
		cmp.Compare(a.Kind, b.Kind),
	)
}

// sortAdjacency orders by confidence descending, then peer ticker, then kind.
func (s *Snapshot) sortAdjacency(idx []int, peer func(common.RelationshipEdge) string) {
	slices.SortFunc(idx, func(i, j int) int {
		a, b := s.edges[i], s.edges[j]
		return cmp.Or(
			cmp.Compare(b.Confidence, a.Confidence),
			cmp.Compare(peer(a), peer(b)),
			cmp.Compare(a.Kind, b.Kind),
		)
	})
}

func (s *Snapshot) Version() uint64    { return s.version }
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }
func (s *Snapshot) NodeCount() int     { return len(s.nodes) }
func (s *Snapshot) EdgeCount() int     { return len(s.edges) }

// Nodes returns all tickers in ascending order.
func (s *Snapshot) Nodes() []string {
	return slices.Clone(s.nodes)
}

// Edges returns all edges ordered by (source, target, kind).
func (s *Snapshot) Edges() []common.RelationshipEdge {
	return slices.Clone(s.edges)
}

func (s *Snapshot) HasNode(ticker string) bool {
	_, found := slices.BinarySearch(s.nodes, ticker)
	return found
}

func (s *Snapshot) Edge(key common.EdgeKey) (common.RelationshipEdge, bool) {
	i, ok := s.index[key]
	if !ok {
		return common.RelationshipEdge{}, false
	}
	return s.edges[i], true
}

// Out returns the edges leaving ticker in adjacency order.
func (s *Snapshot) Out(ticker string) []common.RelationshipEdge {
	return s.collect(s.out[ticker])
}

// In returns the edges entering ticker in adjacency order.
func (s *Snapshot) In(ticker string) []common.RelationshipEdge {
	return s.collect(s.in[ticker])
}

// Degree counts distinct peers connected to ticker in either direction.
func (s *Snapshot) Degree(ticker string) int {
	peers := make(map[string]struct{})
	for _, i := range s.out[ticker] {
		peers[s.edges[i].Target] = struct{}{}
	}
	for _, i := range s.in[ticker] {
		peers[s.edges[i].Source] = struct{}{}
	}
	return len(peers)
}

func (s *Snapshot) collect(idx []int) []common.RelationshipEdge {
	out := make([]common.RelationshipEdge, len(idx))
	for k, i := range idx {
		out[k] = s.edges[i]
	}
	return out
}

// Restrict returns a snapshot containing only edges whose endpoints are both
// in nodes. It keeps the parent's version. Nil is returned when no edge
// survives.
func (s *Snapshot) Restrict(nodes map[string]struct{}) *Snapshot {
	kept := make([]common.RelationshipEdge, 0)
	for _, e := range s.edges {
		_, okS := nodes[e.Source]
		_, okT := nodes[e.Target]
		if okS && okT {
			kept = append(kept, e)
		}
	}
	sub, err := Build(kept, s.version)
	if err != nil {
		return nil
	}
	sub.builtAt = s.builtAt
	return sub
}

// Equal reports structural equality: same edges with the same confidences and
// documents. Version and build time are ignored.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return slices.EqualFunc(s.edges, o.edges, func(a, b common.RelationshipEdge) bool {
		return a.Key() == b.Key() &&
			a.Confidence == b.Confidence &&
			slices.Equal(a.Documents, b.Documents)
	})
}

type snapshotJSON struct {
	Version uint64                    `json:"version"`
	BuiltAt time.Time                 `json:"built_at"`
	Edges   []common.RelationshipEdge `json:"edges"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Version: s.version, BuiltAt: s.builtAt, Edges: s.edges})
}

// Decode rebuilds a snapshot from its JSON form, revalidating every edge.
func Decode(data []byte) (*Snapshot, error) {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	s, err := Build(raw.Edges, raw.Version)
	if err != nil {
		return nil, err
	}
	if !raw.BuiltAt.IsZero() {
		s.builtAt = raw.BuiltAt
	}
	return s, nil
}
