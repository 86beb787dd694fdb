// Package server runs the ops HTTP listener next to the worker: health
// probes and a WebSocket stream of committed staking events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stakingengine/internal/server/handler"
	"github.com/alanyoungcy/stakingengine/internal/server/middleware"
	"github.com/alanyoungcy/stakingengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr string
}

// Server is the ops HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes. hub may be nil, in which case the event
// stream is not served.
func NewServer(cfg Config, health *handler.HealthHandler, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Live)
	mux.HandleFunc("GET /readyz", health.Ready)
	if hub != nil {
		mux.HandleFunc("GET /ws/events", hub.HandleWS)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           middleware.Logging(logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("stopped")
	return ctx.Err()
}
