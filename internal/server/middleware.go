package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const ctxKeyUserID = "user_id"

// UserRequired reads the authenticated user from the X-User-Id header, set
// by the auth proxy in front of this service. The engine itself holds no
// credentials; an absent or malformed header is a 401.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(ctxKeyUserID, userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
