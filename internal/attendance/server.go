package attendance

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/abyssinia-assembly/attendance/internal/sync"
)

// Server runs the channel handler and REST API on one listener.
type Server struct {
	addr    string
	handler *Handler
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server for h, serving router on host:port.
func NewServer(host string, port int, h *Handler, router http.Handler) *Server {
	addr := fmt.Sprintf("%s:%d", host, port)
	return &Server{
		addr:    addr,
		handler: h,
		// No Read/WriteTimeout: they would cut long-lived channel
		// connections. Sessions manage their own deadlines.
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("attendance server starting")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("attendance server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes every session and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("attendance server stopping")
	s.handler.CloseAll()
	return s.server.Shutdown(ctx)
}
