package query

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/relgraph/backend/pkg/common"
)

type TraceEventKind string

const (
	TraceEventVisitedTickers TraceEventKind = "visited_tickers"
	TraceEventReturnedEdges  TraceEventKind = "returned_edges"

	TraceEventToolCall TraceEventKind = "tool_call"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind      TraceEventKind
	Operation string

	Tickers  []string
	EdgeKeys []string

	ToolName      string
	ToolArguments string
	DurationMs    int64
	Error         string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordVisitedTickers(t Tracer, op string, tickers ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventVisitedTickers, Operation: op, Tickers: tickers})
}

func RecordReturnedEdges(t Tracer, op string, edges ...common.RelationshipEdge) {
	if t == nil {
		return
	}
	keys := make([]string, len(edges))
	for i, e := range edges {
		keys[i] = e.Key().String()
	}
	t.Record(TraceEvent{Kind: TraceEventReturnedEdges, Operation: op, EdgeKeys: keys})
}

func RecordToolCall(t Tracer, name, arguments string, took time.Duration, err error) {
	if t == nil {
		return
	}
	ev := TraceEvent{Kind: TraceEventToolCall, ToolName: name, ToolArguments: arguments, DurationMs: took.Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
	}
	t.Record(ev)
}

type tracerKey struct{}

// ContextWithTracer attaches a request-scoped tracer to ctx.
func ContextWithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// TracerFromContext returns the tracer attached by ContextWithTracer, or nil.
func TracerFromContext(ctx context.Context) Tracer {
	t, _ := ctx.Value(tracerKey{}).(Tracer)
	return t
}

// QueryTrace collects which tickers and edges a request touched, so answers
// can cite what the graph contributed.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	visitedTickers map[string]struct{}
	returnedEdges  map[string]struct{}
	toolCalls      []TraceEvent
}

type QueryTraceSnapshot struct {
	VisitedTickers []string     `json:"visited_tickers"`
	ReturnedEdges  []string     `json:"returned_edges"`
	ToolCalls      []TraceEvent `json:"-"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		visitedTickers: make(map[string]struct{}),
		returnedEdges:  make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventVisitedTickers:
		for _, ticker := range event.Tickers {
			if ticker == "" {
				continue
			}
			t.visitedTickers[ticker] = struct{}{}
		}
	case TraceEventReturnedEdges:
		for _, key := range event.EdgeKeys {
			if key == "" {
				continue
			}
			t.returnedEdges[key] = struct{}{}
		}
	case TraceEventToolCall:
		t.toolCalls = append(t.toolCalls, event)
	default:
		return
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		VisitedTickers: make([]string, 0, len(t.visitedTickers)),
		ReturnedEdges:  make([]string, 0, len(t.returnedEdges)),
		ToolCalls:      slices.Clone(t.toolCalls),
	}
	for ticker := range t.visitedTickers {
		s.VisitedTickers = append(s.VisitedTickers, ticker)
	}
	for key := range t.returnedEdges {
		s.ReturnedEdges = append(s.ReturnedEdges, key)
	}

	slices.Sort(s.VisitedTickers)
	slices.Sort(s.ReturnedEdges)

	return s
}
