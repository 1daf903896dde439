package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Server runs an http.Server as a supervised service.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewServer wraps srv. Shutdown waits up to shutdownTimeout for open requests.
func NewServer(srv *http.Server, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{server: srv, shutdownTimeout: shutdownTimeout}
}

// Serve listens until ctx is done, then shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "http-server"
}
