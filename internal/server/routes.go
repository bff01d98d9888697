package server

import (
	"net/http"

	"github.com/relgraph/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, metrics http.Handler) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	apiRoutes := e.Group("/api")

	// Tool boundary
	apiRoutes.POST("/tools/:name", routes.CallToolHandler)
	apiRoutes.POST("/retrieve", routes.RetrieveHandler)

	// Graph routes
	apiRoutes.GET("/graph/neighbors/:ticker", routes.GetNeighborsHandler)
	apiRoutes.GET("/graph/path", routes.GetPathHandler)
	apiRoutes.POST("/graph/rebuild", routes.RebuildGraphHandler)
	apiRoutes.POST("/graph/extract", routes.ExtractHandler)
}
