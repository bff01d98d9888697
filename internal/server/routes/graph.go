package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relgraph/backend/internal/queue"
	"github.com/relgraph/backend/internal/server/middleware"
	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/query"
	"github.com/relgraph/backend/pkg/snapshot"

	"github.com/labstack/echo/v4"
)

type edgesResponse struct {
	SnapshotVersion uint64                    `json:"snapshot_version"`
	Edges           []common.RelationshipEdge `json:"edges"`
	Trace           query.QueryTraceSnapshot  `json:"trace"`
}

func engine(c echo.Context, trace query.Tracer) (*query.Engine, error) {
	app := c.(*middleware.AppContext).App
	snap := app.Snapshots.Current()
	if snap == nil {
		return nil, query.ErrNoSnapshot
	}
	opts := []query.Option{query.WithTracer(trace)}
	if app.MaxDepth > 0 {
		opts = append(opts, query.WithMaxDepth(app.MaxDepth))
	}
	return query.NewEngine(snap, opts...), nil
}

// GetNeighborsHandler lists the edges touching a ticker, optionally limited
// to the kinds given as repeated kind query parameters.
func GetNeighborsHandler(c echo.Context) error {
	type getNeighborsParams struct {
		Ticker string   `param:"ticker" validate:"required"`
		Kinds  []string `query:"kind"`
	}

	params := new(getNeighborsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request params"))
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request params"))
	}
	kinds := make([]common.RelationshipKind, 0, len(params.Kinds))
	for _, k := range params.Kinds {
		kind, err := common.ParseRelationshipKind(k)
		if err != nil {
			return c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error()))
		}
		kinds = append(kinds, kind)
	}

	trace := query.NewQueryTrace()
	e, err := engine(c, trace)
	if err != nil {
		return toolError(c, err)
	}
	ticker := common.NormalizeTicker(params.Ticker)
	if !e.HasTicker(ticker) {
		return c.JSON(http.StatusNotFound, errorBody("Unknown ticker"))
	}
	edges := e.Neighbors(ticker, kinds...)
	return c.JSON(http.StatusOK, edgesResponse{
		SnapshotVersion: e.Snapshot().Version(),
		Edges:           edges,
		Trace:           trace.Snapshot(),
	})
}

// GetPathHandler finds the shortest directed path between two tickers. A
// missing path is an empty edge list, not an error.
func GetPathHandler(c echo.Context) error {
	type getPathParams struct {
		Source string `query:"source" validate:"required"`
		Target string `query:"target" validate:"required"`
		Depth  int    `query:"depth" validate:"omitempty,min=1"`
	}

	params := new(getPathParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request params"))
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request params"))
	}

	trace := query.NewQueryTrace()
	e, err := engine(c, trace)
	if err != nil {
		return toolError(c, err)
	}
	depth := params.Depth
	if depth == 0 {
		depth = e.MaxDepth()
	}
	path, err := e.Path(common.NormalizeTicker(params.Source), common.NormalizeTicker(params.Target), depth)
	switch {
	case errors.Is(err, query.ErrUnknownTicker):
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, query.ErrNoPathFound):
		path = []common.RelationshipEdge{}
	case errors.Is(err, query.ErrInvalidDepth):
		return c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error()))
	case err != nil:
		return toolError(c, err)
	}
	return c.JSON(http.StatusOK, edgesResponse{
		SnapshotVersion: e.Snapshot().Version(),
		Edges:           path,
		Trace:           trace.Snapshot(),
	})
}

// RebuildGraphHandler republishes the snapshot from the persisted
// candidates. With a queue the rebuild is handed to a worker.
func RebuildGraphHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if app.Queue != nil {
		data, _ := json.Marshal(queue.RebuildMsg{Message: "rebuild requested via api"})
		if err := queue.PublishFIFO(ctx, app.Queue, queue.RebuildQueue, data); err != nil {
			logger.Error("Failed to enqueue rebuild", "err", err)
			return c.JSON(http.StatusInternalServerError, errorBody("Internal server error"))
		}
		return c.JSON(http.StatusAccepted, map[string]string{"message": "Rebuild queued"})
	}

	snap, err := app.Graph.Rebuild(ctx)
	if errors.Is(err, snapshot.ErrEmptyGraph) {
		return c.JSON(http.StatusConflict, errorBody("No relationships to build from"))
	}
	if err != nil {
		logger.Error("Rebuild failed", "err", err)
		return c.JSON(http.StatusInternalServerError, errorBody("Internal server error"))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"snapshot_version": snap.Version(),
		"nodes":            snap.NodeCount(),
		"edges":            snap.EdgeCount(),
	})
}

// ExtractHandler queues an extraction job for the given documents.
func ExtractHandler(c echo.Context) error {
	type extractBody struct {
		DocumentIDs []string `json:"document_ids" validate:"required,min=1,dive,required"`
		Concurrency int      `json:"concurrency" validate:"omitempty,min=1,max=64"`
		MaxRetries  *int     `json:"max_retries" validate:"omitempty,min=0,max=10"`
	}

	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("Job queue not configured"))
	}

	data := new(extractBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request body"))
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request body"))
	}

	msg, _ := json.Marshal(queue.ExtractMsg{
		Message:     "extraction requested via api",
		DocumentIDs: data.DocumentIDs,
		Concurrency: data.Concurrency,
		MaxRetries:  data.MaxRetries,
	})
	if err := queue.PublishFIFO(c.Request().Context(), app.Queue, queue.ExtractQueue, msg); err != nil {
		logger.Error("Failed to enqueue extraction", "err", err)
		return c.JSON(http.StatusInternalServerError, errorBody("Internal server error"))
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"message":   "Extraction queued",
		"documents": len(data.DocumentIDs),
	})
}
