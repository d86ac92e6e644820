package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/stulshyan/sherpaAI-sub000/internal/objectstore"
	"github.com/stulshyan/sherpaAI-sub000/internal/worker"
	"github.com/stulshyan/sherpaAI-sub000/models"
)

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

type decomposeRequest struct {
	RequestedBy string `json:"requested_by"`
}

type decomposeResponse struct {
	RequirementID string `json:"requirement_id"`
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
}

func (h *handlers) status(c echo.Context) error {
	id := c.Param("id")
	state, err := h.deps.Status.Get(c.Request().Context(), id)
	if errors.Is(err, worker.ErrStatusNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no pipeline status for requirement "+id)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

func (h *handlers) decompose(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	var body decomposeRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if h.deps.Requirements != nil {
		if _, err := h.deps.Requirements.FindByID(ctx, id); err != nil {
			if errors.Is(err, models.ErrRequirementNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "requirement "+id+" not found")
			}
			return err
		}
	}
	jobID, err := h.deps.Jobs.Enqueue(ctx, id, body.RequestedBy)
	if err != nil {
		if jobID == "" {
			return err
		}
		h.logger.Warn("job enqueued without status snapshot", zap.String("requirement_id", id), zap.Error(err))
	}
	return c.JSON(http.StatusAccepted, decomposeResponse{RequirementID: id, JobID: jobID, Status: "queued"})
}

func (h *handlers) decomposition(c echo.Context) error {
	id := c.Param("id")
	res, err := h.deps.Results.LoadResult(c.Request().Context(), id)
	if errors.Is(err, objectstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no decomposition stored for requirement "+id)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// adapterHealth answers 503 when no adapter is healthy.
func (h *handlers) adapterHealth(c echo.Context) error {
	health := h.deps.Adapters.HealthCheck(c.Request().Context())
	code := http.StatusServiceUnavailable
	for _, ok := range health {
		if ok {
			code = http.StatusOK
			break
		}
	}
	return c.JSON(code, map[string]interface{}{"adapters": health})
}
