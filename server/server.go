// Package server exposes a queue.Service over HTTP with JSON bodies.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tozny/localqueue/logging"
)

// DefaultShutdownTimeout bounds how long Close waits for in progress requests.
const DefaultShutdownTimeout = 10 * time.Second

// Server serves an http.Handler and is managed by a lifecycle.Manager.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
	listener   net.Listener
	errs       chan error
}

// NewServer returns a Server for handler on address.
func NewServer(address string, handler http.Handler, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              address,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
		errs:   make(chan error, 1),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, valid after Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Initialize starts serving in the background. Listen must have succeeded first.
func (s *Server) Initialize() {
	s.logger.Infof("Server: listening on %s", s.Addr())
	go func() {
		err := s.httpServer.Serve(s.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Server: error %s serving %s", err, s.Addr())
			s.errs <- err
		}
		close(s.errs)
	}()
}

// Errors reports a serve failure and is closed once serving stops.
func (s *Server) Errors() <-chan error { return s.errs }

// Close stops accepting requests and waits for in progress ones.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("Server: error %s shutting down", err)
	}
}
