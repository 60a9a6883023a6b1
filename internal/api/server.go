package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poddigest/poddigest/internal/database"
	"github.com/poddigest/poddigest/internal/metrics"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
	"github.com/poddigest/poddigest/pkg/config"
)

// Dependencies carries the services the ops surface reads and drives
type Dependencies struct {
	DB           *database.DB
	Digests      digests.Service
	Orchestrator orchestrator.Service
	Jobs         jobs.Service
}

// Server is the internal ops HTTP server: pipeline visibility plus manual
// digest control. The listener-facing product API is a separate surface.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	deps       Dependencies
	security   config.SecurityConfig
}

// Engine returns the server's gin engine for testing
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// NewServer creates a new ops server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	server := &Server{
		engine: engine,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:        engine,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			IdleTimeout:    30 * time.Second,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
		deps:     deps,
		security: cfg.Security,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery middleware - must be first
	if s.security.EnableRecovery {
		s.engine.Use(gin.Recovery())
	}

	s.engine.Use(gin.Logger())
	s.engine.Use(metrics.InstrumentHandler())

	if s.security.EnableCORS {
		s.engine.Use(s.corsMiddleware())
	}

	s.engine.Use(s.requestSizeLimitMiddleware())
}

// setupRoutes configures all ops routes
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/", s.rootHandler)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/digests", s.triggerDigest)
		v1.GET("/digests/:id", s.getDigest)
		v1.POST("/digests/:id/retry", s.retryDigest)
		v1.POST("/digests/:id/cancel", s.cancelDigest)
		v1.GET("/users/:userId/digests", s.listUserDigests)
		v1.POST("/clips/:id/feedback", s.setClipFeedback)
		v1.GET("/queue/stats", s.queueStats)
	}

	s.engine.NoRoute(s.notFoundHandler)
}

// corsMiddleware returns CORS middleware built from the security config
func (s *Server) corsMiddleware() gin.HandlerFunc {
	origins := strings.Join(s.security.CORSOrigins, ", ")
	if origins == "" {
		origins = "*"
	}
	methods := strings.Join(s.security.CORSMethods, ", ")
	if methods == "" {
		methods = "GET, POST, OPTIONS"
	}
	headers := strings.Join(s.security.CORSHeaders, ", ")
	if headers == "" {
		headers = "Content-Type, Authorization"
	}

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origins)
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// requestSizeLimitMiddleware caps request bodies at 1MB
func (s *Server) requestSizeLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut || c.Request.Method == http.MethodPatch {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1024*1024)
		}
		c.Next()
	}
}

// healthHandler handles health check requests
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  s.databaseStatus(),
	})
}

// databaseStatus reports the database health
func (s *Server) databaseStatus() gin.H {
	if s.deps.DB == nil {
		return gin.H{"status": "not configured"}
	}

	if err := s.deps.DB.HealthCheck(); err != nil {
		return gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		}
	}

	return gin.H{"status": "healthy"}
}

// rootHandler identifies the service
func (s *Server) rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "poddigest",
		"description": "weekly podcast audio digest pipeline",
	})
}

// notFoundHandler handles 404 responses
func (s *Server) notFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"status":  "error",
		"message": "Resource not found",
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
