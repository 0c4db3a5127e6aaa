// Package web exposes the registry over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kozaktomas/reunite/internal/config"
	"github.com/kozaktomas/reunite/internal/registry"
	"github.com/kozaktomas/reunite/internal/web/handlers"
	"github.com/kozaktomas/reunite/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	registry   *registry.Registry
	faces      handlers.EmbeddingExtractor
	gatherer   prometheus.Gatherer
	router     *chi.Mux
	httpServer *http.Server
	jobManager *handlers.JobManager
}

// NewServer creates a new web server. faces may be nil to disable image
// submission and gatherer may be nil to disable /metrics.
func NewServer(
	cfg *config.Config, reg *registry.Registry, faces handlers.EmbeddingExtractor,
	gatherer prometheus.Gatherer, port int, host string,
) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:     cfg,
		registry:   reg,
		faces:      faces,
		gatherer:   gatherer,
		router:     r,
		jobManager: handlers.NewJobManager(),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.IdentifyOperator(cfg.Web.OperatorToken))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute, // SSE streams of long rescans
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown cancels running rescans and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down web server")
	s.jobManager.CancelAll()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
