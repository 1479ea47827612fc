// README: Shared handler utilities: JSON envelopes, uuid parsing, error mapping.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"delixmi/internal/errs"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: errorBody{Code: code, Message: msg}})
}

// writeServiceError maps the error taxonomy onto HTTP statuses in one place;
// handlers never pick status codes by hand.
func writeServiceError(c *gin.Context, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	writeError(c, statusFor(e.Kind), e.Code, e.Message)
}

func statusFor(k errs.Kind) int {
	switch k {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindPrecondition:
		return http.StatusUnprocessableEntity
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// parseUUID rejects malformed ids before they reach a service. The false
// return means the error response was already written.
func parseUUID(c *gin.Context, field, raw string) (uuid.UUID, bool) {
	if raw == "" {
		writeError(c, http.StatusBadRequest, "MISSING_FIELD", field+" is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ID", field+" must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid json body")
		return false
	}
	return true
}
