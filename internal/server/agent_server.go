package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AgentServer serves the loopback API. It only listens on localhost.
type AgentServer struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewAgentServer creates a server for handler on localhost:port. Port 0
// picks a free port.
func NewAgentServer(port int, handler http.Handler, logger *zap.Logger) *AgentServer {
	return &AgentServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("localhost:%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the port and serves in the background
func (s *AgentServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("Agent server listening", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Agent server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *AgentServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends
func (s *AgentServer) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down agent server: %w", err)
	}
	s.logger.Info("Agent server stopped")
	return nil
}
