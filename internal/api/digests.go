package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/poddigest/poddigest/internal/services/configs"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
)

type triggerRequest struct {
	UserID   string `json:"userId" binding:"required"`
	ConfigID uint   `json:"configId" binding:"required"`
}

// triggerDigest starts a digest run outside the weekly schedule
func (s *Server) triggerDigest(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	digest, err := s.deps.Orchestrator.Trigger(c.Request.Context(), req.UserID, req.ConfigID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, digest)
}

// getDigest returns a digest with its clips in playback order
func (s *Server) getDigest(c *gin.Context) {
	digest, err := s.deps.Digests.GetDigest(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, digest)
}

// listUserDigests returns a user's digests, newest first
func (s *Server) listUserDigests(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "limit must be a non-negative integer"})
		return
	}

	list, err := s.deps.Digests.ListDigestsByUser(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"digests": list,
		"count":   len(list),
	})
}

// retryDigest re-runs a failed digest from the top of the pipeline
func (s *Server) retryDigest(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Orchestrator.Retry(c.Request.Context(), id); err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "ok", "id": id})
}

// cancelDigest stops an in-flight digest run
func (s *Server) cancelDigest(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Orchestrator.Cancel(c.Request.Context(), id); err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "id": id})
}

// renderError maps service errors onto ops responses
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, digests.ErrDigestNotFound),
		errors.Is(err, digests.ErrClipNotFound),
		errors.Is(err, configs.ErrConfigNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrForeignConfig):
		status = http.StatusForbidden
	case errors.Is(err, orchestrator.ErrDigestInFlight),
		errors.Is(err, orchestrator.ErrTerminalDigest),
		errors.Is(err, digests.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, digests.ErrInvalidFeedback):
		status = http.StatusBadRequest
	}

	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}
