package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	apimiddleware "github.com/tqchen/yarn-ec2/internal/api/middleware"
	"github.com/tqchen/yarn-ec2/internal/catalog"
	"github.com/tqchen/yarn-ec2/internal/controller"
)

// ServerConfig holds configuration for the status server
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		ShutdownTimeout: 10 * time.Second,
		RequestTimeout:  10 * time.Second,
	}
}

// SnapshotSource provides the latest controller state
type SnapshotSource interface {
	Snapshot() *controller.Snapshot
}

// Server is the read-only status API of the controller
type Server struct {
	echo      *echo.Echo
	config    *ServerConfig
	snapshots SnapshotSource
	registry  *catalog.Registry
	metrics   http.Handler
	log       *logrus.Entry
}

// NewServer creates a new status server. metrics may be nil when no exposition endpoint is
// configured.
func NewServer(
	config *ServerConfig,
	snapshots SnapshotSource,
	registry *catalog.Registry,
	metrics http.Handler,
	log *logrus.Entry,
) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Disable Echo's default logger, requests are logged through logrus
	e.Logger.SetOutput(io.Discard)

	e.Validator = NewValidator()

	s := &Server{
		echo:      e,
		config:    config,
		snapshots: snapshots,
		registry:  registry,
		metrics:   metrics,
		log:       log.WithField("component", "api"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware stack
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(apimiddleware.Logger(s.log))
	s.echo.Use(middleware.ContextTimeout(s.config.RequestTimeout))
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/ready", s.readyCheck)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")

	statusHandler := NewStatusHandler(s.snapshots)
	v1.GET("/status", statusHandler.Status)
	v1.GET("/prices", statusHandler.Prices)
	v1.GET("/requests", statusHandler.Requests)

	if s.registry != nil {
		instanceHandler := NewInstanceHandler(s.registry)
		instances := v1.Group("/instances")
		instances.GET("", instanceHandler.List)
		instances.GET("/:name", instanceHandler.Get)
	}
}

// healthCheck returns basic health status
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// readyCheck reports ready once the controller has completed a tick
func (s *Server) readyCheck(c echo.Context) error {
	snap := s.snapshots.Snapshot()
	if snap == nil || !snap.Ready() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "no reconciliation tick completed yet",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ready",
		"last_tick": snap.LastTickAt.Format(time.RFC3339),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.log.WithField("addr", addr).Info("Starting status server")
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance for testing
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
