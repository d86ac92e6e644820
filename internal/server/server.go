// Package server exposes the HTTP status and enqueue surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/stulshyan/sherpaAI-sub000/internal/pipeline"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

type StatusReader interface {
	Get(ctx context.Context, requirementID string) (*pipeline.State, error)
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, requirementID, requestedBy string) (string, error)
}

type RequirementFinder interface {
	FindByID(ctx context.Context, id string) (*models.Requirement, error)
}

type ResultLoader interface {
	LoadResult(ctx context.Context, requirementID string) (*models.DecompositionResult, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]bool
}

// Deps wires the handlers. Requirements, Results, Adapters and Metrics are
// optional; the matching checks or routes are skipped when nil.
type Deps struct {
	Status       StatusReader
	Jobs         JobEnqueuer
	Requirements RequirementFinder
	Results      ResultLoader
	Adapters     HealthChecker
	Metrics      http.Handler
	Logger       *zap.Logger
}

// New builds the echo instance with all routes mounted.
func New(deps Deps) *echo.Echo {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.HTTPErrorHandler = errorHandler(logger)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}

	h := &handlers{deps: deps, logger: logger}
	v1 := e.Group("/v1")
	v1.GET("/requirements/:id/status", h.status)
	v1.POST("/requirements/:id/decompose", h.decompose)
	if deps.Results != nil {
		v1.GET("/requirements/:id/decomposition", h.decomposition)
	}
	if deps.Adapters != nil {
		v1.GET("/adapters/health", h.adapterHealth)
	}
	return e
}

func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
}

// Run serves e on addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
