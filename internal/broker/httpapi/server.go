package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/broker"
)

// Server owns the broker's HTTP listener.
type Server struct {
	logger arbor.ILogger
	server *http.Server
}

// NewServer builds an http.Server bound to host:port with the routes from
// service mounted, using the teacher's server timeout conventions.
func NewServer(host string, port int, service *broker.Service, logger arbor.ILogger) *Server {
	mux := http.NewServeMux()
	NewHandler(service, logger).Register(mux)

	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.server.Addr).Msg("broker HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("broker server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down broker HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("broker server shutdown failed: %w", err)
	}
	return nil
}
