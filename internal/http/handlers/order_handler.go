// README: Order handlers: status reads, staff transitions, rejection, cancellation.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"delixmi/internal/modules/order"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id", c.Param("id"))
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	history, err := h.order.History(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o.Summary(), "history": history})
}

type staffReq struct {
	ActorID string `json:"actorId"`
}

func (h *OrderHandler) MarkPreparing(c *gin.Context) {
	h.staffTransition(c, h.order.MarkPreparing)
}

func (h *OrderHandler) MarkReady(c *gin.Context) {
	h.staffTransition(c, h.order.MarkReady)
}

func (h *OrderHandler) staffTransition(c *gin.Context, apply func(ctx context.Context, cmd order.StaffCommand) (*order.Order, error)) {
	id, ok := parseUUID(c, "id", c.Param("id"))
	if !ok {
		return
	}
	var req staffReq
	if !bindJSON(c, &req) {
		return
	}
	actorID, ok := parseUUID(c, "actorId", req.ActorID)
	if !ok {
		return
	}

	o, err := apply(c.Request.Context(), order.StaffCommand{OrderID: id, ActorID: actorID})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o.Summary()})
}

type rejectReq struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

func (h *OrderHandler) Reject(c *gin.Context) {
	id, ok := parseUUID(c, "id", c.Param("id"))
	if !ok {
		return
	}
	var req rejectReq
	if !bindJSON(c, &req) {
		return
	}
	actorID, ok := parseUUID(c, "actorId", req.ActorID)
	if !ok {
		return
	}
	if req.Reason == "" {
		writeError(c, http.StatusBadRequest, "MISSING_FIELD", "reason is required")
		return
	}

	o, refund, err := h.order.RejectOrder(c.Request.Context(), order.RejectCommand{
		OrderID: id,
		ActorID: actorID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o.Summary(), "refund": refund})
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := parseUUID(c, "id", c.Param("id"))
	if !ok {
		return
	}
	var req staffReq
	if !bindJSON(c, &req) {
		return
	}
	actorID, ok := parseUUID(c, "actorId", req.ActorID)
	if !ok {
		return
	}

	o, err := h.order.CancelOrder(c.Request.Context(), order.CancelCommand{OrderID: id, ActorID: actorID})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o.Summary()})
}
