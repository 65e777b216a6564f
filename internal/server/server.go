// Package server exposes the headless control and monitoring HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arvindrk/silverbot/internal/metrics"
	"github.com/arvindrk/silverbot/internal/server/handler"
	"github.com/arvindrk/silverbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Status  *handler.StatusHandler
	Control *handler.ControlHandler // nil in monitor mode
}

// Server is the control/monitoring HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route, wires the middleware chain, and returns
// the server ready to start. m may be nil; the /metrics route is then
// omitted.
func NewServer(cfg Config, handlers Handlers, m *metrics.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Status.Health)
	mux.HandleFunc("GET /api/snapshot", handlers.Status.Snapshot)
	mux.HandleFunc("GET /api/trades", handlers.Status.Trades)

	if handlers.Control != nil {
		mux.HandleFunc("POST /api/exit", handlers.Control.Exit)
		mux.HandleFunc("POST /api/toggle", handlers.Control.Toggle)
	}

	if m != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}
