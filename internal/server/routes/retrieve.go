package routes

import (
	"fmt"
	"net/http"

	"github.com/relgraph/backend/internal/server/middleware"
	"github.com/relgraph/backend/pkg/query"
	"github.com/relgraph/backend/pkg/retrieval"
	"github.com/relgraph/backend/pkg/tools"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RetrieveHandler assembles hybrid context for a question. Requests that
// share a session id cancel each other: only the newest one completes.
func RetrieveHandler(c echo.Context) error {
	type retrieveBody struct {
		Query      string `json:"query" validate:"required,max=5000"`
		TickerHint string `json:"ticker_hint"`
		Budget     int    `json:"budget" validate:"required,min=1"`
		SessionID  string `json:"session_id"`
	}

	data := new(retrieveBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request body"))
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request body"))
	}
	app := c.(*middleware.AppContext).App
	maxBudget := app.MaxBudget
	if maxBudget <= 0 {
		maxBudget = tools.DefaultMaxBudget
	}
	if data.Budget > maxBudget {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": fmt.Sprintf("budget must be at most %d", maxBudget),
			"field": "budget",
		})
	}
	if reason := tools.CheckQuery(data.Query); reason != "" {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": reason, "field": "query"})
	}
	if data.SessionID == "" {
		data.SessionID = c.Request().Header.Get("X-Session-ID")
	}
	if data.SessionID == "" {
		// Anonymous requests never supersede each other.
		data.SessionID = "anon-" + gonanoid.Must()
	}

	trace := query.NewQueryTrace()
	ctx := query.ContextWithTracer(c.Request().Context(), trace)
	res, err := app.Sessions.Retrieve(ctx, data.SessionID, retrieval.Request{
		Query:      data.Query,
		TickerHint: data.TickerHint,
		Budget:     data.Budget,
	})
	if err != nil {
		return toolError(c, err)
	}
	return c.JSON(http.StatusOK, retrieveResponse{RetrievalContext: res, Trace: trace.Snapshot()})
}
