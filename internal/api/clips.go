package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type feedbackRequest struct {
	Tag string `json:"tag"`
}

// setClipFeedback tags a clip up or down; an empty tag clears the vote
func (s *Server) setClipFeedback(c *gin.Context) {
	clipID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "clip id must be numeric"})
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	if err := s.deps.Digests.SetClipFeedback(c.Request.Context(), uint(clipID), req.Tag); err != nil {
		s.renderError(c, err)
		return
	}

	clip, err := s.deps.Digests.GetClip(c.Request.Context(), uint(clipID))
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, clip)
}
