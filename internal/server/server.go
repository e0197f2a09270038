// Package server exposes the engine over HTTP: scheduling updates, reading
// the committed tree, streaming frames, and managing the resource catalog and
// scene library.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/reflow/internal/config"
	"github.com/me/reflow/internal/engine"
	"github.com/me/reflow/internal/scene"
	"github.com/me/reflow/internal/store"
)

// Server is the reflow REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	engine    *engine.Engine
	store     store.Store
	loader    *scene.Loader

	// waitTimeout bounds ?wait=true scheduling requests; tests shorten it.
	waitTimeout time.Duration

	// heartbeat is the SSE keepalive interval; tests shorten it.
	heartbeat time.Duration
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithWaitTimeout overrides how long a ?wait=true schedule request may block.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Server) { s.waitTimeout = d }
}

// WithHeartbeat overrides the SSE heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// New creates a Server with all routes registered. eng drives all rendering;
// st backs the resource catalog and scene library.
func New(cfg config.ServerConfig, st store.Store, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger.With("component", "server"),
		config:      cfg,
		startTime:   time.Now(),
		engine:      eng,
		store:       st,
		loader:      scene.New(logger),
		waitTimeout: 30 * time.Second,
		heartbeat:   15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	// API routes (JSON)
	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health
		r.Get("/health", s.handleHealth)

		// Updates
		r.Route("/updates", func(r chi.Router) {
			r.Get("/", s.handleListUpdates)
			r.Post("/", s.handleScheduleUpdate)
			r.Get("/{id}", s.handleGetUpdate)
		})

		// Committed output
		r.Get("/tree", s.handleGetTree)
		r.Get("/boundaries", s.handleListBoundaries)
		r.Get("/frames", s.handleListFrames)

		// Resource catalog + cache
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", s.handleListResources)
			r.Post("/invalidate", s.handleInvalidate)
			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetResource)
				r.Put("/", s.handlePutResource)
				r.Delete("/", s.handleDeleteResource)
			})
		})
		r.Get("/cache", s.handleGetCache)

		// Scene library
		r.Route("/scenes", func(r chi.Router) {
			r.Get("/", s.handleListScenes)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetScene)
				r.Put("/", s.handlePutScene)
				r.Delete("/", s.handleDeleteScene)
			})
		})

		// Virtual clock
		r.Get("/time", s.handleGetTime)
		r.Post("/time/expire", s.handleExpire)

		// SSE endpoints for real-time updates
		r.Route("/sse", func(r chi.Router) {
			r.Get("/frames", s.handleSSEFrames)
		})
	})
}
