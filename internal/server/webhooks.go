package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
)

// maxWebhookBody caps webhook payload reads; gateway events are small.
const maxWebhookBody = 1 << 20

// HandleGatewayWebhook accepts a signed gateway delivery. Anything that
// verified and parsed but failed to apply answers non-2xx so the gateway
// redelivers; everything else is acknowledged to stop retries.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := s.webhooks.Process(c.Request.Context(), payload, signature); err != nil {
		switch {
		case errors.Is(err, gatewaydomain.ErrInvalidSignature), errors.Is(err, gatewaydomain.ErrInvalidPayload):
			AbortWithError(c, err)
		default:
			s.log.Error("webhook processing failed, gateway will retry", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
				Error: errorPayload{Type: "internal_error", Message: "event processing failed"},
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
