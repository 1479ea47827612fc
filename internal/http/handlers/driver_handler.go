// README: Courier-facing handlers: availability feed, claim, complete, location, status.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"delixmi/internal/modules/courier"
	"delixmi/internal/modules/dispatch"
)

type DriverHandler struct {
	dispatch *dispatch.Service
	courier  *courier.Service
}

func NewDriverHandler(dispatchSvc *dispatch.Service, courierSvc *courier.Service) *DriverHandler {
	return &DriverHandler{dispatch: dispatchSvc, courier: courierSvc}
}

func (h *DriverHandler) ListAvailable(c *gin.Context) {
	courierID, ok := parseUUID(c, "driverId", c.Query("driverId"))
	if !ok {
		return
	}
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "pageSize", 10)

	res, err := h.dispatch.ListAvailableOrders(c.Request.Context(), courierID, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type claimReq struct {
	DriverID string `json:"driverId"`
}

func (h *DriverHandler) Claim(c *gin.Context) {
	orderID, ok := parseUUID(c, "id", c.Param("id"))
	if !ok {
		return
	}
	var req claimReq
	if !bindJSON(c, &req) {
		return
	}
	courierID, ok := parseUUID(c, "driverId", req.DriverID)
	if !ok {
		return
	}

	res, err := h.dispatch.Claim(c.Request.Context(), orderID, courierID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *DriverHandler) Complete(c *gin.Context) {
	orderID, ok := parseUUID(c, "id", c.Param("id"))
	if !ok {
		return
	}
	var req claimReq
	if !bindJSON(c, &req) {
		return
	}
	courierID, ok := parseUUID(c, "driverId", req.DriverID)
	if !ok {
		return
	}

	res, err := h.dispatch.Complete(c.Request.Context(), orderID, courierID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type locationReq struct {
	DriverID  string  `json:"driverId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if !bindJSON(c, &req) {
		return
	}
	courierID, ok := parseUUID(c, "driverId", req.DriverID)
	if !ok {
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(c, http.StatusBadRequest, "INVALID_COORDINATES", "latitude/longitude out of range")
		return
	}

	prof, movedKm, err := h.courier.UpdateLocation(c.Request.Context(), courier.UpdateLocationCommand{
		CourierID: courierID,
		Lat:       req.Latitude,
		Lng:       req.Longitude,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver": prof.View(), "movedKm": movedKm})
}

type availabilityReq struct {
	DriverID string `json:"driverId"`
	Status   string `json:"status"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if !bindJSON(c, &req) {
		return
	}
	courierID, ok := parseUUID(c, "driverId", req.DriverID)
	if !ok {
		return
	}

	prof, err := h.courier.SetAvailability(c.Request.Context(), courier.SetAvailabilityCommand{
		CourierID: courierID,
		Target:    courier.Status(req.Status),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver": prof.View()})
}

// intQuery tolerates absent or malformed numeric params; the services clamp
// whatever comes through.
func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
