package handler

import (
	"log/slog"

	"github.com/haatos/multici/internal"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func NewServer(workflowService WorkflowServicer, apiToken string, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Use(
		middleware.Recover(),
		RequestLogger(logger),
		middleware.CORSWithConfig(internal.GetCORSConfig()),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)

	e.GET("/healthz", GetHealth)
	api := e.Group("/api")
	api.GET("/config", GetConfig, RequireToken(apiToken))
	SetupWorkflowRoutes(api, workflowService, RequireToken(apiToken))
	return e
}
