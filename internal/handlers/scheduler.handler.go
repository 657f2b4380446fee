package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	"github.com/nimasrn/outreach-engine/internal/scheduler"
	xhttp "github.com/nimasrn/outreach-engine/pkg/http"
)

type SchedulerService interface {
	Status() scheduler.Status
	RunTask(ctx context.Context, name string) (bool, error)
}

type SchedulerHandler struct {
	svc SchedulerService
}

func RegisterSchedulerRoutes(e *router.Group, h *SchedulerHandler) {
	e.GET("/scheduler/status", h.GetStatus)
	e.POST("/scheduler/tasks/{name}/run", h.RunTask)
}

func NewSchedulerHandler(svc SchedulerService) *SchedulerHandler {
	return &SchedulerHandler{svc: svc}
}

type runTaskResponse struct {
	Task  string `json:"task"`
	Ran   bool   `json:"ran"`
	Error string `json:"error,omitempty"`
}

func (h *SchedulerHandler) GetStatus(ctx *xhttp.RequestCtx) {
	xhttp.WriteJSON(ctx, xhttp.StatusOK, h.svc.Status())
}

// RunTask triggers one run of a task outside its ticker. A run that is
// skipped because the task is already active answers 409.
func (h *SchedulerHandler) RunTask(ctx *xhttp.RequestCtx) {
	name, _ := ctx.UserValue("name").(string)

	ran, err := h.svc.RunTask(context.Background(), name)
	resp := runTaskResponse{Task: name, Ran: ran}
	switch {
	case errors.Is(err, scheduler.ErrUnknownTask):
		resp.Error = err.Error()
		xhttp.WriteJSON(ctx, xhttp.StatusNotFound, resp)
	case err != nil:
		resp.Error = err.Error()
		xhttp.WriteJSON(ctx, xhttp.StatusInternalServerError, resp)
	case !ran:
		xhttp.WriteJSON(ctx, xhttp.StatusConflict, resp)
	default:
		xhttp.WriteJSON(ctx, xhttp.StatusOK, resp)
	}
}
