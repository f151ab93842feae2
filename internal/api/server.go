// Package api exposes the payout pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server around an assembled handler.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	router := chi.NewRouter()

	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health and observability
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Get("/stats", handler.Stats)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Payout pipeline
	router.Post("/payouts", handler.SubmitPayout)
	router.Get("/payouts", handler.ListPayouts)
	router.Get("/payouts/{id}", handler.GetPayout)
	router.Delete("/payouts/{id}", handler.CancelPayout)

	// Velocity introspection
	router.Get("/velocity/{kind}/{id}", handler.GetVelocity)

	// Manual list curation
	router.Get("/blocks", handler.ListBlocks)
	router.Post("/blocks", handler.CreateBlock)
	router.Delete("/blocks/{kind}/{id}", handler.DeleteBlock)
	router.Post("/whitelist", handler.CreateWhitelistEntry)
	router.Delete("/whitelist/{kind}/{id}", handler.DeleteWhitelistEntry)

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
