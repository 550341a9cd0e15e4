package handler

import (
	"context"
	"net/http"

	"github.com/haatos/multici/internal"
	"github.com/haatos/multici/internal/service"
	"github.com/haatos/multici/internal/store"
	"github.com/labstack/echo/v4"
)

const (
	defaultRunsPerPage int64 = 20
	maxRunsPerPage     int64 = 100
)

type WorkflowServicer interface {
	ListWorkflows() []service.WorkflowInfo
	TriggerRun(ctx context.Context, workflow, trigger string) (*store.Run, error)
	CancelRun(ctx context.Context, runID string) error
	GetRunByID(ctx context.Context, runID string) (*store.Run, error)
	ListRunsPaginated(ctx context.Context, workflow string, limit, offset int64) ([]store.Run, int64, error)
	ListJobResults(ctx context.Context, runID string) ([]store.JobResult, error)
	GetJobLog(ctx context.Context, runID, job string) ([]byte, error)
}

type WorkflowHandler struct {
	workflowService WorkflowServicer
}

func NewWorkflowHandler(workflowService WorkflowServicer) *WorkflowHandler {
	return &WorkflowHandler{workflowService: workflowService}
}

// SetupWorkflowRoutes registers the JSON API. Mutating routes go through
// guard.
func SetupWorkflowRoutes(g *echo.Group, workflowService WorkflowServicer, guard echo.MiddlewareFunc) {
	h := NewWorkflowHandler(workflowService)
	g.GET("/workflows", h.GetWorkflows)
	g.POST("/workflows/:workflow/runs", h.PostWorkflowRun, guard)
	g.GET("/runs", h.GetRuns)
	g.GET("/runs/:run_id", h.GetRun)
	g.GET("/runs/:run_id/output", h.GetRunOutput)
	g.GET("/runs/:run_id/jobs", h.GetRunJobs)
	g.GET("/runs/:run_id/jobs/:job/log", h.GetJobLog)
	g.POST("/runs/:run_id/cancel", h.PostCancelRun, guard)
}

func (h *WorkflowHandler) GetWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, h.workflowService.ListWorkflows())
}

func (h *WorkflowHandler) PostWorkflowRun(c echo.Context) error {
	wp := new(WorkflowParams)
	if err := c.Bind(wp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid workflow")
	}
	r, err := h.workflowService.TriggerRun(c.Request().Context(), wp.Workflow, internal.TriggerAPI)
	if err != nil {
		return serviceError(err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/runs/"+r.RunID)
	return c.JSON(http.StatusAccepted, r)
}

type runsResponse struct {
	Runs    []store.Run `json:"runs"`
	Total   int64       `json:"total"`
	Page    int64       `json:"page"`
	PerPage int64       `json:"per_page"`
}

func (h *WorkflowHandler) GetRuns(c echo.Context) error {
	lp := new(ListRunsParams)
	if err := c.Bind(lp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid query parameters")
	}
	if lp.Page < 1 {
		lp.Page = 1
	}
	if lp.PerPage < 1 {
		lp.PerPage = defaultRunsPerPage
	}
	lp.PerPage = min(lp.PerPage, maxRunsPerPage)

	runs, total, err := h.workflowService.ListRunsPaginated(
		c.Request().Context(),
		lp.Workflow,
		lp.PerPage,
		(lp.Page-1)*lp.PerPage,
	)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, runsResponse{Runs: runs, Total: total, Page: lp.Page, PerPage: lp.PerPage})
}

func (h *WorkflowHandler) GetRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	r, err := h.workflowService.GetRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *WorkflowHandler) GetRunOutput(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	r, err := h.workflowService.GetRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(err)
	}
	var output string
	if r.Output != nil {
		output = *r.Output
	}
	return c.String(http.StatusOK, output)
}

func (h *WorkflowHandler) GetRunJobs(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	jobs, err := h.workflowService.ListJobResults(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *WorkflowHandler) GetJobLog(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	data, err := h.workflowService.GetJobLog(c.Request().Context(), rp.RunID, rp.Job)
	if err != nil {
		return serviceError(err)
	}
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, data)
}

func (h *WorkflowHandler) PostCancelRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	if err := h.workflowService.CancelRun(c.Request().Context(), rp.RunID); err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusAccepted)
}
