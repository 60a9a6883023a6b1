package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// queueStats returns per-queue job counts grouped by status
func (s *Server) queueStats(c *gin.Context) {
	stats, err := s.deps.Jobs.QueueStats(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"queues": stats})
}
