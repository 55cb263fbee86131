package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/moji/internal/logger"
)

// ServerConfig configures a storage node server.
type ServerConfig struct {
	// Listen is the TCP address to serve on.
	// Default: ":7500"
	Listen string

	// Root is the directory holding node content.
	Root string
}

func (c *ServerConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":7500"
	}
}

// Server runs a storage node over HTTP.
//
// The server supports graceful shutdown through context cancellation or Stop.
type Server struct {
	server       *http.Server
	store        *Store
	listen       string
	shutdownOnce sync.Once
}

// NewServer creates a storage node server. The root directory is created if
// it does not exist; call Start to begin serving.
func NewServer(ctx context.Context, config ServerConfig) (*Server, error) {
	config.applyDefaults()

	store, err := NewStore(ctx, config.Root)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:              config.Listen,
		Handler:           NewHandler(store),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server: server,
		store:  store,
		listen: config.Listen,
	}, nil
}

// Start serves requests and blocks until ctx is cancelled or serving fails.
//
// When ctx is cancelled, Start shuts the server down gracefully and returns
// the shutdown result.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("storage node listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like Start but accepts connections on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Storage node listening on %s (root %s)", ln.Addr(), s.store.Root())

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Storage node shutdown signal received")
		// ctx is already cancelled; shut down on a fresh timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("storage node failed: %w", err)
	}
}

// Stop gracefully shuts the server down. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("storage node shutdown error: %w", err)
			logger.Error("Storage node shutdown error: %v", err)
		} else {
			logger.Info("Storage node stopped gracefully")
		}
	})
	return shutdownErr
}
