// Package api serves the HTTP side of taskstream: health and metrics
// endpoints, the WebSocket task stream, and read/cancel access to live
// sessions and recorded runs.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/codeready-toolchain/taskstream/pkg/config"
	"github.com/codeready-toolchain/taskstream/pkg/database"
	"github.com/codeready-toolchain/taskstream/pkg/history"
	"github.com/codeready-toolchain/taskstream/pkg/session"
	"github.com/codeready-toolchain/taskstream/pkg/transport/wsstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunStore reads recorded task runs. *history.Store implements it.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]history.Run, error)
	GetRun(ctx context.Context, id int64) (*history.Run, error)
}

// Server is the HTTP API server.
type Server struct {
	cfg        *config.Config
	engine     *gin.Engine
	handler    http.Handler // engine with /ws routed around it
	httpServer *http.Server
	sessions   *session.Manager
	ws         http.Handler

	dbClient *database.Client // nil when history is disabled
	runs     RunStore         // nil when history is disabled
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, sessions *session.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		sessions: sessions,
		ws: wsstream.NewHandler(sessions,
			cfg.Server.AllowedOrigins, cfg.Server.WSWriteTimeout),
	}
	s.setupRoutes()
	s.handler = s.routes()
	return s
}

// SetHistory enables the database health check and the /api/v1/runs
// endpoints.
func (s *Server) SetHistory(dbClient *database.Client, runs RunStore) {
	s.dbClient = dbClient
	s.runs = runs
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogger())
	s.engine.Use(securityHeaders())

	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1")
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/cancel", s.cancelSessionHandler)
	v1.GET("/task-types", s.listTaskTypesHandler)
	v1.GET("/runs", s.listRunsHandler)
	v1.GET("/runs/:id", s.getRunHandler)
}

// Handler returns the full HTTP handler, /ws included, for tests and
// custom listeners.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server on the given address. It blocks until the
// server stops and returns nil after a graceful Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.handler,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
//
// Hijacked WebSocket connections are not tracked by http.Server, so callers
// cancel live sessions through the session manager first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
