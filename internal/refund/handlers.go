package refund

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/noah-isme/payrelay/internal/common"
	"github.com/noah-isme/payrelay/internal/money"
)

// Handler exposes the refund endpoint.
type Handler struct {
	Svc *Service
}

// Create handles POST /api/v1/refunds.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "refund service not configured", nil)
		return
	}
	var payload struct {
		PaymentIntentID string          `json:"paymentIntentId"`
		TotalAmount     json.RawMessage `json:"totalAmount"`
		Reason          string          `json:"reason"`
	}
	if err := common.DecodeStrict(r.Body, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	total, err := money.AmountText(payload.TotalAmount)
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_AMOUNT", "totalAmount must be a positive amount of at least one minor unit", nil)
		return
	}
	in := Input{
		PaymentIntentID: payload.PaymentIntentID,
		TotalAmount:     total,
		Reason:          payload.Reason,
	}
	out, err := h.Svc.Create(r.Context(), in, strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}
