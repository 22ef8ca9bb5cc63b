package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shiguredo/media-processors/internal/config"
	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/internal/host"
	"github.com/shiguredo/media-processors/internal/store"
)

// Server is the playback engine REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	loop      *engine.Loop
	store     store.Store  // optional; journal endpoints answer 404 without it
	broker    *host.Broker // optional; the host command stream answers 404 without it
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore sets the journal store used by the run endpoints.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithBroker sets the broker the host command stream subscribes to.
func WithBroker(b *host.Broker) Option {
	return func(s *Server) {
		s.broker = b
	}
}

// New creates a new Server with all routes registered. Every engine call goes
// through loop, which must be started by the caller.
func New(cfg config.ServerConfig, loop *engine.Loop, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		loop:      loop,
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

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/container", func(r chi.Router) {
			r.Get("/", s.handleGetContainer)
			r.Post("/", s.handleLoadContainer)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handlePlay)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleStop)
				r.Get("/runs", s.handleListRuns)
			})
		})

		// Completions reported by a remote decode host.
		r.Route("/tokens/{token}", func(r chi.Router) {
			r.Post("/awake", s.handleAwake)
			r.Post("/decoder", s.handleDecoderCreated)
			r.Delete("/", s.handleAbandon)
		})

		r.Route("/sse", func(r chi.Router) {
			r.Get("/host", s.handleSSEHost)
		})
	})
}
