// Package server is the HTTP adapter over the kiku orchestrator.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/index"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/watcher"
	"go.uber.org/zap"
)

// WatchService manages watched directories at runtime.
type WatchService interface {
	Roots() []watcher.Root
	AddDirectory(dir, namespace string, syncExisting bool) error
	RemoveDirectory(dir string) error
}

// Server is the HTTP server for the kiku API.
type Server struct {
	rag    *rag.Orchestrator
	store  *index.Store
	watch  WatchService
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatcher enables the watch directory endpoints.
func WithWatcher(w WatchService) Option {
	return func(s *Server) { s.watch = w }
}

// NewServer creates a server with the given dependencies.
func NewServer(orch *rag.Orchestrator, store *index.Store, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		rag:    orch,
		store:  store,
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if d := s.config.Server.RequestTimeout(); d > 0 {
		r.Use(middleware.Timeout(d))
	}
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// legacy routes
	r.Post("/context/{namespace}", s.handleAddContext)
	r.Post("/query/{namespace}", s.handleQuery)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/namespaces", s.handleListNamespaces)
		r.Route("/namespaces/{namespace}", func(r chi.Router) {
			r.Get("/", s.handleNamespaceStats)
			r.Post("/documents", s.handleIngest)
			r.Post("/files", s.handleUpload)
			r.Post("/retrieve", s.handleRetrieve)
			r.Post("/answer", s.handleAnswer)
		})
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
