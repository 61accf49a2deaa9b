package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/open-mediary/mediary/internal/domain"
	"github.com/open-mediary/mediary/internal/mediator"
	"github.com/open-mediary/mediary/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo *mediator.Repository, entities *domain.EntityRegistry, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, version string) *Server {
	handler := NewHandler(repo, entities, cache, bus, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Operational endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/", func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Get("/entities", handler.ListEntities)

		r.Route("/entities/{type}", func(r chi.Router) {
			r.Post("/", handler.CreateEntity)
			r.Post("/query", handler.FindEntities)
			r.Post("/search", handler.SearchEntities)
			r.Post("/count", handler.CountEntities)
			r.Post("/deleteMany", handler.DeleteMany)

			r.Get("/trash", handler.ListTrash)
			r.Post("/trash/{trashId}/restore", handler.Restore)
			r.Post("/versions/{versionId}/rollback", handler.Rollback)

			r.Get("/{id}", handler.GetEntity)
			r.Put("/{id}", handler.ReplaceEntity)
			r.Patch("/{id}", handler.UpdateEntity)
			r.Delete("/{id}", handler.DeleteEntity)
			r.Get("/{id}/versions", handler.ListVersions)
		})

		// Validation rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
