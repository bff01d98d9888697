package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/relgraph/backend/internal/server/middleware"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/query"
	"github.com/relgraph/backend/pkg/retrieval"
	"github.com/relgraph/backend/pkg/tools"

	"github.com/labstack/echo/v4"
)

const maxToolBody = 1 << 20

// traced results carry the tickers and edges the request touched so the
// answer layer can cite them.
type toolResponse struct {
	*tools.Result
	Trace query.QueryTraceSnapshot `json:"trace"`
}

type retrieveResponse struct {
	*retrieval.RetrievalContext
	Trace query.QueryTraceSnapshot `json:"trace"`
}

// CallToolHandler runs one tool with the raw request body as arguments.
func CallToolHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	name := c.Param("name")

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxToolBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request body"))
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	trace := query.NewQueryTrace()
	ctx := query.ContextWithTracer(c.Request().Context(), trace)
	res, err := app.Tools.Call(ctx, name, body)
	if err != nil {
		return toolError(c, err)
	}
	return c.JSON(http.StatusOK, toolResponse{Result: res, Trace: trace.Snapshot()})
}

func toolError(c echo.Context, err error) error {
	var verr *tools.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": verr.Error(),
			"tool":  verr.Tool,
			"field": verr.Field,
		})
	case errors.Is(err, query.ErrNoSnapshot):
		return c.JSON(http.StatusServiceUnavailable, errorBody("Graph not built yet"))
	case errors.Is(err, retrieval.ErrRetrievalUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorBody("Retrieval sources unavailable"))
	case errors.Is(err, retrieval.ErrSuperseded):
		return c.JSON(http.StatusConflict, errorBody("Superseded by a newer request"))
	case c.Request().Context().Err() != nil:
		return c.JSON(http.StatusRequestTimeout, errorBody("Request cancelled"))
	}
	logger.Error("Tool call failed", "err", err)
	return c.JSON(http.StatusInternalServerError, errorBody("Internal server error"))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
