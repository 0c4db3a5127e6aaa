package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/reunite/internal/web/handlers"
	"github.com/kozaktomas/reunite/internal/web/middleware"
)

const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	recordsHandler := handlers.NewRecordsHandler(s.registry, s.faces)
	matchesHandler := handlers.NewMatchesHandler(s.registry)
	rescanHandler := handlers.NewRescanHandler(s.registry, s.jobManager)
	statsHandler := handlers.NewStatsHandler(s.registry)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	if s.gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Post("/records", recordsHandler.Submit)
			r.Post("/records/image", recordsHandler.SubmitImage)
			r.Get("/records", recordsHandler.List)
			r.Get("/records/{id}", recordsHandler.Get)
			r.Get("/stats", statsHandler.Get)
		})

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(s.config.Web.OperatorToken))

			r.With(chiMiddleware.Timeout(requestTimeout)).Post("/records/{id}/invalidate", recordsHandler.Invalidate)
			r.With(chiMiddleware.Timeout(requestTimeout)).Get("/matches", matchesHandler.List)
			r.With(chiMiddleware.Timeout(requestTimeout)).Post("/matches/confirm", matchesHandler.Confirm)

			// Rescan (long-running, no request timeout)
			r.Post("/rescan", rescanHandler.Start)
			r.Get("/rescan/{jobId}", rescanHandler.Status)
			r.Get("/rescan/{jobId}/events", rescanHandler.Events)
			r.Delete("/rescan/{jobId}", rescanHandler.Cancel)
		})
	})
}
