package middleware

import (
	"context"
	"encoding/json"

	"github.com/relgraph/backend/internal/queue"
	"github.com/relgraph/backend/pkg/retrieval"
	"github.com/relgraph/backend/pkg/snapshot"
	"github.com/relgraph/backend/pkg/tools"

	"github.com/labstack/echo/v4"
)

type ToolCaller interface {
	Call(ctx context.Context, name string, raw json.RawMessage) (*tools.Result, error)
}

type SessionRetriever interface {
	Retrieve(ctx context.Context, sessionID string, req retrieval.Request) (*retrieval.RetrievalContext, error)
}

type Rebuilder interface {
	Rebuild(ctx context.Context) (*snapshot.Snapshot, error)
}

// App is what request handlers may touch. Queue is nil when the server runs
// without RabbitMQ; rebuilds then run inline.
type App struct {
	Tools     ToolCaller
	Sessions  SessionRetriever
	Snapshots retrieval.SnapshotSource
	Graph     Rebuilder
	Queue     queue.Publisher
	MaxDepth  int
	MaxBudget int
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app})
		}
	}
}
