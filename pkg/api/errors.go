package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/supportdesk/pkg/services"
)

// mapServiceError maps service-layer errors to an HTTP status and message.
func mapServiceError(err error) (int, string) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, validErr.Error()
	}
	if errors.Is(err, services.ErrNotFound) {
		return http.StatusNotFound, "resource not found"
	}
	if errors.Is(err, services.ErrForbidden) {
		return http.StatusForbidden, "forbidden"
	}
	if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrInvalidState) {
		return http.StatusConflict, err.Error()
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return http.StatusInternalServerError, "internal server error"
}

func abortWithServiceError(c *gin.Context, err error) {
	code, msg := mapServiceError(err)
	c.AbortWithStatusJSON(code, ErrorResponse{Error: msg})
}
