// Package server exposes the administrative HTTP surface: digest and A/B
// run triggers plus credit visibility.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"scout/internal/abtest"
	"scout/internal/config"
	"scout/internal/credits"
	"scout/internal/digest"
	"scout/internal/logger"
	"scout/internal/persistence"
	"scout/internal/schedule"
)

// Server is the admin HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	db         persistence.Database
	assembler  *digest.Assembler
	harness    *abtest.Harness
	ledger     *credits.Ledger
	scheduler  *schedule.Scheduler
	log        *slog.Logger
}

// New creates the server with all routes registered.
func New(db persistence.Database, assembler *digest.Assembler, harness *abtest.Harness, cfg config.Server) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		db:        db,
		assembler: assembler,
		harness:   harness,
		ledger:    credits.NewLedger(db.ProviderCalls()),
		scheduler: schedule.New(db),
		log:       logger.Get(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(5 * time.Minute))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/digests", func(r chi.Router) {
			r.Post("/run", s.handleRunDigest)
			r.Get("/", s.handleListDigests)
			r.Get("/{id}", s.handleGetDigest)
		})
		r.Post("/abtests/run", s.handleRunAbtest)
		r.Get("/credits", s.handleCredits)
	})
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router exposes the chi router, useful for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
