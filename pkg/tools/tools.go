// Package tools exposes the graph and the retrieval orchestrator to an
// answer model as a closed set of tool calls.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/relgraph/backend/pkg/ai"
	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/metrics"
	"github.com/relgraph/backend/pkg/query"
	"github.com/relgraph/backend/pkg/retrieval"
)

const (
	GraphQueryTool      = "graph_query"
	ContextRetrieveTool = "context_retrieve"
)

const (
	DefaultMaxTopK   = 50
	DefaultMaxBudget = 32000
)

// ValidationError reports a tool call rejected before it reached the graph
// or the retrieval sources.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("tool %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Field, e.Reason)
}

type GraphQueryArgs struct {
	Ticker string `json:"ticker" jsonschema:"description=Ticker of the company to look up" validate:"required,max=12"`
	Depth  int    `json:"depth" jsonschema:"description=Maximum number of hops,minimum=1" validate:"required,min=1"`
	TopK   int    `json:"top_k" jsonschema:"description=Maximum number of related companies,minimum=1" validate:"required,min=1"`
	// Target switches the call to a path lookup between Ticker and Target.
	Target string `json:"target,omitempty" jsonschema:"description=Optional second ticker; when set the strongest path is returned" validate:"omitempty,max=12"`
}

type ContextRetrieveArgs struct {
	Query      string `json:"query" jsonschema:"description=Question to gather context for" validate:"required,max=5000"`
	TickerHint string `json:"ticker_hint,omitempty" jsonschema:"description=Ticker the question is about if known" validate:"omitempty,max=12"`
	Budget     int    `json:"budget" jsonschema:"description=Maximum context cost,minimum=1" validate:"required,min=1"`
}

type GraphQueryResult struct {
	Ticker          string                    `json:"ticker"`
	SnapshotVersion uint64                    `json:"snapshot_version"`
	Related         []query.RankedPeer        `json:"related,omitempty"`
	Path            []common.RelationshipEdge `json:"path,omitempty"`
	Facts           []string                  `json:"facts"`
}

// Result holds exactly one of GraphQuery or Context, selected by Tool.
type Result struct {
	Tool       string                      `json:"tool"`
	GraphQuery *GraphQueryResult           `json:"graph_query,omitempty"`
	Context    *retrieval.RetrievalContext `json:"context,omitempty"`
}

type SnapshotSource = retrieval.SnapshotSource

type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.RetrievalContext, error)
}

type DispatcherParams struct {
	Snapshots SnapshotSource
	Retriever Retriever

	// Zero values fall back to query.DefaultMaxDepth, DefaultMaxTopK and
	// DefaultMaxBudget.
	MaxDepth  int
	MaxTopK   int
	MaxBudget int

	Tracer query.Tracer
}

type Dispatcher struct {
	snapshots SnapshotSource
	retriever Retriever
	maxDepth  int
	maxTopK   int
	maxBudget int
	tracer    query.Tracer
	validate  *validator.Validate
}

func NewDispatcher(params DispatcherParams) *Dispatcher {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	d := &Dispatcher{
		snapshots: params.Snapshots,
		retriever: params.Retriever,
		maxDepth:  params.MaxDepth,
		maxTopK:   params.MaxTopK,
		maxBudget: params.MaxBudget,
		tracer:    params.Tracer,
		validate:  v,
	}
	if d.maxDepth <= 0 {
		d.maxDepth = query.DefaultMaxDepth
	}
	if d.maxTopK <= 0 {
		d.maxTopK = DefaultMaxTopK
	}
	if d.maxBudget <= 0 {
		d.maxBudget = DefaultMaxBudget
	}
	return d
}

// Call runs the named tool with JSON arguments. Rejected input is returned
// as *ValidationError; failures of the sources themselves are returned as
// they are.
func (d *Dispatcher) Call(ctx context.Context, name string, raw json.RawMessage) (res *Result, err error) {
	start := time.Now()
	tracer := d.tracerFor(ctx)
	defer func() {
		metrics.Default().IncToolCall(name, err == nil)
		query.RecordToolCall(tracer, name, string(raw), time.Since(start), err)
		var verr *ValidationError
		if errors.As(err, &verr) {
			logger.Warn("[Tools] Rejected tool call", "tool", name, "field", verr.Field, "reason", verr.Reason)
		}
	}()

	switch name {
	case GraphQueryTool:
		var args GraphQueryArgs
		if err := d.decode(name, raw, &args); err != nil {
			return nil, err
		}
		return d.graphQuery(name, args, tracer)
	case ContextRetrieveTool:
		var args ContextRetrieveArgs
		if err := d.decode(name, raw, &args); err != nil {
			return nil, err
		}
		return d.contextRetrieve(ctx, name, args)
	default:
		return nil, &ValidationError{Tool: name, Reason: "unknown tool"}
	}
}

// tracerFor combines the dispatcher's tracer with the one carried by ctx.
func (d *Dispatcher) tracerFor(ctx context.Context) query.Tracer {
	reqTracer := query.TracerFromContext(ctx)
	switch {
	case reqTracer == nil:
		return d.tracer
	case d.tracer == nil:
		return reqTracer
	}
	return query.MultiTracer{d.tracer, reqTracer}
}

func (d *Dispatcher) decode(tool string, raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{Tool: tool, Reason: "invalid arguments: " + err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return &ValidationError{Tool: tool, Reason: "invalid arguments: trailing data"}
	}
	if err := d.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			reason := fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			return &ValidationError{Tool: tool, Field: fe.Field(), Reason: "failed " + reason}
		}
		return &ValidationError{Tool: tool, Reason: err.Error()}
	}
	return nil
}

func (d *Dispatcher) graphQuery(tool string, args GraphQueryArgs, tracer query.Tracer) (*Result, error) {
	if args.Depth > d.maxDepth {
		return nil, &ValidationError{Tool: tool, Field: "depth", Reason: fmt.Sprintf("must be at most %d", d.maxDepth)}
	}
	if args.TopK > d.maxTopK {
		return nil, &ValidationError{Tool: tool, Field: "top_k", Reason: fmt.Sprintf("must be at most %d", d.maxTopK)}
	}

	snap := d.snapshots.Current()
	if snap == nil {
		return nil, query.ErrNoSnapshot
	}
	engine := query.NewEngine(snap, query.WithMaxDepth(d.maxDepth), query.WithTracer(tracer))

	ticker := common.NormalizeTicker(args.Ticker)
	if !engine.HasTicker(ticker) {
		return nil, &ValidationError{Tool: tool, Field: "ticker", Reason: "unknown ticker " + ticker}
	}
	out := &GraphQueryResult{Ticker: ticker, SnapshotVersion: snap.Version(), Facts: []string{}}

	if args.Target != "" {
		target := common.NormalizeTicker(args.Target)
		if !engine.HasTicker(target) {
			return nil, &ValidationError{Tool: tool, Field: "target", Reason: "unknown ticker " + target}
		}
		path, err := engine.Path(ticker, target, args.Depth)
		switch {
		case errors.Is(err, query.ErrNoPathFound):
		case err != nil:
			return nil, err
		default:
			out.Path = path
			for _, edge := range path {
				out.Facts = append(out.Facts, edge.Fact())
			}
		}
		return &Result{Tool: tool, GraphQuery: out}, nil
	}

	peers, err := engine.RankRelated(ticker, args.Depth, args.TopK)
	if err != nil {
		return nil, err
	}
	out.Related = peers
	for _, p := range peers {
		if len(p.Edges) > 0 {
			out.Facts = append(out.Facts, p.Edges[0].Fact())
		}
	}
	return &Result{Tool: tool, GraphQuery: out}, nil
}

func (d *Dispatcher) contextRetrieve(ctx context.Context, tool string, args ContextRetrieveArgs) (*Result, error) {
	if args.Budget > d.maxBudget {
		return nil, &ValidationError{Tool: tool, Field: "budget", Reason: fmt.Sprintf("must be at most %d", d.maxBudget)}
	}
	if reason := CheckQuery(args.Query); reason != "" {
		return nil, &ValidationError{Tool: tool, Field: "query", Reason: reason}
	}

	rc, err := d.retriever.Retrieve(ctx, retrieval.Request{
		Query:      args.Query,
		TickerHint: args.TickerHint,
		Budget:     args.Budget,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Tool: tool, Context: rc}, nil
}

// Tools describes the dispatch table in the form the AI clients accept. Each
// handler returns the JSON encoding of the Result; a ValidationError is
// returned as text so the model can correct its arguments.
func (d *Dispatcher) Tools() ([]ai.Tool, error) {
	defs := []struct {
		name, description string
		args              any
	}{
		{GraphQueryTool, "Look up companies related to a ticker in the relationship graph, or the strongest path between two tickers.", GraphQueryArgs{}},
		{ContextRetrieveTool, "Gather graph facts and document passages relevant to a question, within a cost budget.", ContextRetrieveArgs{}},
	}

	out := make([]ai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := ai.GenerateSchemaMap(def.args)
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for %s: %w", def.name, err)
		}
		out = append(out, ai.Tool{
			Name:        def.name,
			Description: def.description,
			Parameters:  params,
			Handler:     d.handler(def.name),
		})
	}
	return out, nil
}

func (d *Dispatcher) handler(name string) ai.ToolHandler {
	return func(ctx context.Context, arguments string) (string, error) {
		res, err := d.Call(ctx, name, json.RawMessage(arguments))
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return "error: " + verr.Error(), nil
			}
			return "", err
		}
		b, err := json.Marshal(res)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
