package api

import (
	"errors"
	"net/http"

	"edgehost/pkg/endpoint"
	"edgehost/pkg/host"

	"github.com/gin-gonic/gin"
)

// respondError sends a structured JSON error response
func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": gin.H{
			"message": message,
			"status":  code,
		},
	})
	c.Abort()
}

// respondFailure maps an endpoint or host error onto its HTTP status.
func respondFailure(c *gin.Context, err error) {
	respondError(c, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, host.ErrInstanceNotFound),
		errors.Is(err, endpoint.ErrUnknownType),
		errors.Is(err, endpoint.ErrConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, host.ErrDuplicateInstance),
		errors.Is(err, endpoint.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, endpoint.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, endpoint.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, endpoint.ErrLifecycle),
		errors.Is(err, endpoint.ErrSend):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
