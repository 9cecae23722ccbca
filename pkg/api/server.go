package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/scaler/pkg/log"
	"github.com/cuemby/scaler/pkg/metrics"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server
const ShutdownTimeout = 5 * time.Second

// Server exposes /metrics, /health, /ready and /live over HTTP
type Server struct {
	server *http.Server
}

// NewServer creates a server for addr backed by the metrics mux
func NewServer(addr string) *Server {
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      metrics.NewServeMux(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := log.WithComponent("api")
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("metrics server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info().Msg("metrics server stopped")
	return nil
}
