package handlers

import (
	"github.com/fasthttp/router"
	gateway "github.com/nimasrn/outreach-engine/internal/gateways"
	xhttp "github.com/nimasrn/outreach-engine/pkg/http"
)

type ProviderStatser interface {
	Stats() []gateway.ProviderStats
}

type ProviderHandler struct {
	sms ProviderStatser
}

func RegisterProviderRoutes(e *router.Group, h *ProviderHandler) {
	e.GET("/providers/sms", h.GetSMSProviders)
}

func NewProviderHandler(sms ProviderStatser) *ProviderHandler {
	return &ProviderHandler{sms: sms}
}

// GetSMSProviders lists the live score and circuit state of every SMS provider.
func (h *ProviderHandler) GetSMSProviders(ctx *xhttp.RequestCtx) {
	xhttp.WriteJSON(ctx, xhttp.StatusOK, map[string]any{"providers": h.sms.Stats()})
}
