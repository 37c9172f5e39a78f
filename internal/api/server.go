// Package api exposes the HTTP interface: job submission and control,
// the business catalog, and check history.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/config"
	"github.com/zzpscan/zzpscan/internal/lifecycle"
	"github.com/zzpscan/zzpscan/internal/metrics"
)

// Server wires HTTP handlers to the lifecycle manager and stores.
type Server struct {
	router     chi.Router
	jobs       *lifecycle.Manager
	businesses catalog.BusinessStore
	checks     catalog.CheckStore
	logger     *zap.Logger
	cfg        config.Config

	// ready reports downstream readiness; nil means always ready.
	ready func(r *http.Request) error
}

// Option adjusts optional Server behavior.
type Option func(*Server)

// WithReadiness installs the readiness probe used by /readyz.
func WithReadiness(fn func(r *http.Request) error) Option {
	return func(s *Server) { s.ready = fn }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs *lifecycle.Manager,
	businesses catalog.BusinessStore,
	checks catalog.CheckStore,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:       jobs,
		businesses: businesses,
		checks:     checks,
		logger:     logger,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/discover", s.submitDiscoverJob)
			r.Post("/check-website", s.submitCheckJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
				r.Post("/retry", s.retryJob)
			})
		})
		r.Route("/businesses", func(r chi.Router) {
			r.Get("/", s.listBusinesses)
			r.Post("/", s.createBusiness)
			r.Get("/stats", s.businessStats)
			r.Route("/{business_id}", func(r chi.Router) {
				r.Get("/", s.getBusiness)
				r.Put("/", s.updateBusiness)
				r.Delete("/", s.deleteBusiness)
				r.Get("/checks", s.listBusinessChecks)
			})
		})
		r.Get("/checks", s.listChecks)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
