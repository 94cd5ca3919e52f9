package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxIPNBody = 1 << 20

// HandlePayPalIPN ingests provider webhooks. Verified duplicates and events
// for unknown orders are acknowledged with 200 so the provider stops
// redelivering; only unverifiable payloads are rejected.
func (s *Server) HandlePayPalIPN(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIPNBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.ipnSvc.HandleIPN(c.Request.Context(), c.Request.Header, payload); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
