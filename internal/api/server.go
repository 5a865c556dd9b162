// Package api exposes the admin HTTP surface for starting, polling and
// cancelling a sync.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"media_syncer/internal/domain"
	"media_syncer/internal/service"
)

type SyncController interface {
	StartAsync(ctx context.Context, progress service.ProgressFunc) (*domain.SyncState, error)
	Status(ctx context.Context) (*domain.SyncState, error)
	Cancel(ctx context.Context) (bool, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	// runCtx outlives requests; background syncs run under it.
	runCtx context.Context
	syncs  SyncController
	db     Pinger
	router *chi.Mux
	logger *slog.Logger

	allowedOrigins []string
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithAllowedOrigins enables CORS for browser pollers on the given origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func NewServer(runCtx context.Context, syncs SyncController, db Pinger, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		runCtx: runCtx,
		syncs:  syncs,
		db:     db,
		router: chi.NewRouter(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if len(s.allowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1/sync", func(r chi.Router) {
		r.Get("/status", s.handleSyncStatus)
		r.Post("/start", s.handleSyncStart)
		r.Post("/cancel", s.handleSyncCancel)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
