package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/bookline-app/bookline/internal/payment/domain"
)

func (s *Server) CreateCheckout(c *gin.Context) {
	bookingID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.payments.CreateCheckout(c.Request.Context(), currentUserID(c), bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) SyncBookingPayment(c *gin.Context) {
	bookingID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))

	result, err := s.payments.Sync(c.Request.Context(), currentUserID(c), bookingID, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetBookingPayment(c *gin.Context) {
	bookingID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.payments.GetByBookingID(c.Request.Context(), bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) GetPayment(c *gin.Context) {
	payment, err := s.payments.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) RefundPayment(c *gin.Context) {
	paymentID := strings.TrimSpace(c.Param("id"))
	if paymentID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req refundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}
	if req.Amount < 0 {
		AbortWithError(c, paymentdomain.ErrInvalidRefundAmount)
		return
	}

	payment, err := s.payments.Refund(c.Request.Context(), currentUserID(c), paymentID, req.Amount, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
