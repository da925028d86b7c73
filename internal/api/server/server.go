// Package server provides the HTTP server for the mapkit API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/eduard256/mapkit/pkg/logger"
)

// Server wraps the HTTP server with graceful shutdown.
type Server struct {
	httpServer      *http.Server
	logger          *logger.Logger
	port            int
	shutdownTimeout time.Duration
}

// New creates a new Server instance.
func New(port int, shutdownTimeout time.Duration, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second, // Mounts may wait on host data and SDK loads
			IdleTimeout:  120 * time.Second,
		},
		logger:          logger.OrNop(log).Component("http"),
		port:            port,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start begins listening for HTTP requests.
// It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.WithField("port", s.port).Info("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.WithField("timeout", s.shutdownTimeout.String()).Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("shutdown error")
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
