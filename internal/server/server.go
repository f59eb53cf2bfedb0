// Package server exposes the HTTP surface: trigger webhooks for the event
// sources, workflow management, health, and metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/trigger"
	"relay/internal/workflow"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr  string
	Debug bool
}

// Server wires the trigger components and workflow store behind HTTP.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	notifications *trigger.NotificationTrigger
	geofences     *trigger.GeofenceTrigger
	photos        *trigger.PhotoWatcher
	store         *workflow.Store
	metrics       *observability.Metrics
	logger        logging.Logger
}

func NewServer(
	cfg Config,
	notifications *trigger.NotificationTrigger,
	geofences *trigger.GeofenceTrigger,
	photos *trigger.PhotoWatcher,
	store *workflow.Store,
	metrics *observability.Metrics,
	logger logging.Logger,
) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(accessLog(logging.OrNop(logger)))

	s := &Server{
		engine:        engine,
		notifications: notifications,
		geofences:     geofences,
		photos:        photos,
		store:         store,
		metrics:       metrics,
		logger:        logging.OrNop(logger),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.setupRoutes()
	return s
}

// accessLog records one line per request. Health and metrics probes are
// skipped to keep the log readable.
func accessLog(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/healthz" || path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		logger.Info("%s %s -> %d (%s)", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	triggers := s.engine.Group("/triggers")
	{
		triggers.POST("/notification", s.handleNotificationTrigger)
		triggers.POST("/geofence", s.handleGeofenceTrigger)
		triggers.POST("/photo", s.handlePhotoTrigger)
	}

	workflows := s.engine.Group("/workflows")
	{
		workflows.GET("", s.handleListWorkflows)
		workflows.POST("", s.handleCreateWorkflow)
		workflows.GET("/:id", s.handleGetWorkflow)
		workflows.DELETE("/:id", s.handleDeleteWorkflow)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
