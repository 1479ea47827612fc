// README: Payment gateway webhook handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"delixmi/internal/modules/order"
)

type WebhookHandler struct {
	order *order.Service
}

func NewWebhookHandler(svc *order.Service) *WebhookHandler {
	return &WebhookHandler{order: svc}
}

type paymentWebhookReq struct {
	GatewayRef string `json:"gatewayRef"`
	Approved   bool   `json:"approved"`
}

// PaymentCaptured is the gateway capture callback. An approved capture
// confirms the order; a declined one marks the payment failed and leaves the
// order pending.
func (h *WebhookHandler) PaymentCaptured(c *gin.Context) {
	var req paymentWebhookReq
	if !bindJSON(c, &req) {
		return
	}
	if req.GatewayRef == "" {
		writeError(c, http.StatusBadRequest, "MISSING_FIELD", "gatewayRef is required")
		return
	}

	o, err := h.order.ConfirmPayment(c.Request.Context(), order.WebhookCommand{
		GatewayRef: req.GatewayRef,
		Approved:   req.Approved,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o.Summary()})
}
