package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/outreach-engine/pkg/http"
	"github.com/nimasrn/outreach-engine/pkg/logger"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is a dependency the process cannot work without.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	names  []string
	checks map[string]Pinger
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{checks: make(map[string]Pinger)}
}

// Check adds a named dependency to the health report.
func (h *HealthHandler) Check(name string, p Pinger) *HealthHandler {
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = p
	return h
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	c, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.names))}
	status := xhttp.StatusOK
	for _, name := range h.names {
		if err := h.checks[name].Ping(c); err != nil {
			logger.Warn("health check failed", "dependency", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = xhttp.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	xhttp.WriteJSON(ctx, status, resp)
}
