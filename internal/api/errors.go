package api

import (
	"errors"
	"net/http"

	"fulfillment-service/internal/service"

	"github.com/gin-gonic/gin"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrOutOfStock),
		errors.Is(err, service.ErrCartEmpty),
		errors.Is(err, service.ErrOrderNotCancellable),
		errors.Is(err, service.ErrInvalidCoupon):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrPaymentGatewayUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err. Domain errors carry user-facing details; anything
// unrecognised is reported as an internal error without details.
func writeError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{
			"error": message,
		})
		return
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
