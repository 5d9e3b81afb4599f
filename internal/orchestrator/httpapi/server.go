package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/orchestrator"
)

// Server owns the orchestrator's HTTP listener.
type Server struct {
	logger arbor.ILogger
	server *http.Server
}

// NewServer builds an http.Server bound to host:port, delivering
// index-document tasks into driver.
func NewServer(host string, port int, driver *orchestrator.Driver, logger arbor.ILogger) *Server {
	mux := http.NewServeMux()
	NewHandler(driver, logger).Register(mux)

	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.server.Addr).Msg("orchestrator HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("orchestrator server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down orchestrator HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("orchestrator server shutdown failed: %w", err)
	}
	return nil
}
