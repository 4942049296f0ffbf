package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	bookingdomain "github.com/bookline-app/bookline/internal/booking/domain"
	companydomain "github.com/bookline-app/bookline/internal/company/domain"
	extrachargedomain "github.com/bookline-app/bookline/internal/extracharge/domain"
	"github.com/bookline-app/bookline/internal/fees"
	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last handler error as a JSON response
// once the chain has run, so handlers only ever push domain errors.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, bookingdomain.ErrBookingNotFound),
		errors.Is(err, companydomain.ErrCompanyNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, extrachargedomain.ErrChargeNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: err.Error()}

	case errors.Is(err, paymentdomain.ErrNotBookingOwner),
		errors.Is(err, paymentdomain.ErrNotCompanyOwner):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: err.Error()}

	case errors.Is(err, paymentdomain.ErrAlreadyPaid),
		errors.Is(err, paymentdomain.ErrBookingNotPayable),
		errors.Is(err, paymentdomain.ErrNotRefundable),
		errors.Is(err, paymentdomain.ErrConcurrentUpdate),
		errors.Is(err, extrachargedomain.ErrChargeExpired),
		errors.Is(err, extrachargedomain.ErrChargeNotPending):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidRefundAmount),
		errors.Is(err, paymentdomain.ErrSessionMismatch),
		errors.Is(err, extrachargedomain.ErrInvalidAmount),
		errors.Is(err, fees.ErrInvalidBaseAmount),
		errors.Is(err, gatewaydomain.ErrInvalidSignature),
		errors.Is(err, gatewaydomain.ErrInvalidPayload):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}

	case errors.Is(err, gatewaydomain.ErrUpstream):
		return http.StatusBadGateway, errorPayload{Type: "upstream_error", Message: err.Error()}

	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}
