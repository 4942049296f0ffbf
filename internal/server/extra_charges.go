package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	extrachargedomain "github.com/bookline-app/bookline/internal/extracharge/domain"
)

type createExtraChargeRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) CreateExtraCharge(c *gin.Context) {
	bookingID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createExtraChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	charge, err := s.extraCharges.Create(c.Request.Context(), currentUserID(c), bookingID, req.Amount, reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, charge)
}

func (s *Server) ListExtraCharges(c *gin.Context) {
	bookingID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	charges, err := s.extraCharges.List(c.Request.Context(), currentUserID(c), bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if charges == nil {
		charges = []extrachargedomain.ExtraCharge{}
	}
	c.JSON(http.StatusOK, gin.H{"extra_charges": charges})
}

func (s *Server) PayExtraCharge(c *gin.Context) {
	chargeID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.extraCharges.Pay(c.Request.Context(), currentUserID(c), chargeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) DeclineExtraCharge(c *gin.Context) {
	s.transitionExtraCharge(c, s.extraCharges.Decline)
}

func (s *Server) CancelExtraCharge(c *gin.Context) {
	s.transitionExtraCharge(c, s.extraCharges.Cancel)
}

func (s *Server) transitionExtraCharge(c *gin.Context, op func(context.Context, snowflake.ID, snowflake.ID) (*extrachargedomain.ExtraCharge, error)) {
	chargeID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	charge, err := op(c.Request.Context(), currentUserID(c), chargeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, charge)
}
