package checkout

import (
	"net/http"
	"strings"

	"github.com/noah-isme/payrelay/internal/common"
)

// Handler exposes the checkout endpoint.
type Handler struct {
	Svc *Service
}

// CreateIntent handles POST /api/v1/checkout/intent.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload Input
	if err := common.DecodeStrict(r.Body, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.Svc.Create(r.Context(), payload, strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}
