package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shoppoller/internal/registry"
	"shoppoller/internal/repository"
	"shoppoller/internal/service"
	"shoppoller/internal/tasks"
)

type TaskQueue interface {
	Submit(ctx context.Context, name string, worldIDs []uint) (string, error)
	Running(ctx context.Context) ([]tasks.Record, error)
}

// OpsHandler exposes manual triggers and the coordination state of the poller.
type OpsHandler struct {
	Tasks    TaskQueue
	Registry *registry.Registry
	Janitor  *service.JanitorService
	Runs     repository.RunRepository
	Logger   *zap.Logger
}

func (h *OpsHandler) Register(r *gin.Engine) {
	group := r.Group("/v1")
	group.POST("/update-prices", h.updatePrices)
	group.POST("/janitor", h.runJanitor)
	group.GET("/inflight", h.inflight)
	group.GET("/tasks", h.running)
	group.GET("/runs", h.listRuns)
}

type updatePricesRequest struct {
	WorldIDs []uint `json:"world_ids"`
}

// @Summary Queue a price update
// @Tags ops
// @Param body body updatePricesRequest false "world ids; omit for every eligible world"
// @Success 202 {object} apiResponse
// @Router /v1/update-prices [post]
func (h *OpsHandler) updatePrices(c *gin.Context) {
	if h.Tasks == nil {
		Error(c, http.StatusInternalServerError, "task runner unavailable", nil)
		return
	}
	var req updatePricesRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		Error(c, http.StatusBadRequest, "invalid body: "+err.Error(), nil)
		return
	}
	var ids []uint
	if len(req.WorldIDs) > 0 {
		ids = req.WorldIDs
	}
	id, err := h.Tasks.Submit(c.Request.Context(), tasks.NameUpdatePrices, ids)
	if err != nil {
		h.logger().Warn("submit price update failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, tasks.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		Error(c, status, err.Error(), nil)
		return
	}
	Accepted(c, gin.H{"task_id": id, "world_ids": ids})
}

// @Summary Run the in-flight registry janitor
// @Tags ops
// @Success 200 {object} apiResponse
// @Router /v1/janitor [post]
func (h *OpsHandler) runJanitor(c *gin.Context) {
	if h.Janitor == nil {
		Error(c, http.StatusInternalServerError, "janitor unavailable", nil)
		return
	}
	result, err := h.Janitor.Run(c.Request.Context())
	if err != nil {
		h.logger().Warn("janitor failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

// @Summary List in-flight world ids
// @Tags ops
// @Success 200 {object} apiResponse
// @Router /v1/inflight [get]
func (h *OpsHandler) inflight(c *gin.Context) {
	if h.Registry == nil {
		Error(c, http.StatusInternalServerError, "registry unavailable", nil)
		return
	}
	set, err := h.Registry.Snapshot(c.Request.Context())
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	ids := registry.IDs(set)
	Ok(c, ids, map[string]any{"total": len(ids)})
}

// @Summary List running tasks
// @Tags ops
// @Success 200 {object} apiResponse
// @Router /v1/tasks [get]
func (h *OpsHandler) running(c *gin.Context) {
	if h.Tasks == nil {
		Error(c, http.StatusInternalServerError, "task runner unavailable", nil)
		return
	}
	records, err := h.Tasks.Running(c.Request.Context())
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, records, map[string]any{"total": len(records)})
}

// @Summary List poll runs
// @Tags ops
// @Param status query string false "run status"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /v1/runs [get]
func (h *OpsHandler) listRuns(c *gin.Context) {
	if h.Runs == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	params := repository.ListPollRunsParams{
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		params.Status = &status
	}
	runs, err := h.Runs.ListPollRuns(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, runs, map[string]any{"limit": params.Limit, "offset": params.Offset})
}

func (h *OpsHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
