package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"khata-system/internal/ledger"
	"khata-system/internal/store"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func errorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
	}
}

// respondError maps the error taxonomy onto HTTP statuses: bad input is
// the caller's to fix, a missing document is 404, and remote store
// failures are retryable 502s.
func respondError(c *gin.Context, err error) {
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, errorResponse(verr.Error()))
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse("Record not found"))
		return
	}
	var serr *store.StoreError
	if errors.As(err, &serr) {
		c.JSON(http.StatusBadGateway, errorResponse("Store operation failed, please retry"))
		return
	}
	c.JSON(http.StatusInternalServerError, errorResponse("Internal error"))
}
