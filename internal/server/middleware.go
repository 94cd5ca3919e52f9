package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID is the identity shim. Authentication lives in front of
	// this service; the header carries the already-authenticated user.
	HeaderUserID = "X-User-ID"

	contextUserIDKey = "user_id"
)

func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := value.(snowflake.ID)
	return userID, ok
}

// CheckoutRateLimit throttles order creation per client IP. The limiter is
// optional; without Redis everything passes.
func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		result, err := s.limiter.AllowCheckout(c.Request.Context(), c.ClientIP())
		if err != nil {
			// Redis being down must not block checkouts.
			s.log.Warn("checkout rate limit unavailable")
			c.Next()
			return
		}
		if !result.Allowed {
			AbortWithError(c, ErrTooManyRequest)
			return
		}
		c.Next()
	}
}

func (s *Server) IPNRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		result, err := s.limiter.AllowIPN(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.log.Warn("ipn rate limit unavailable")
			c.Next()
			return
		}
		if !result.Allowed {
			AbortWithError(c, ErrTooManyRequest)
			return
		}
		c.Next()
	}
}
