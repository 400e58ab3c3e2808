package httphandler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

type Server struct {
	*http.Server
}

// NewServer returns an http server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// TryListenAndServe tries to start the http server if there isn't an error after a certain time it returns nil
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		err := s.Server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

// Serve serves on an existing listener until Close.
func (s *Server) Serve(l net.Listener) error {
	err := s.Server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close waits up to d for in flight requests, then closes the server.
func (s *Server) Close(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := s.Server.Shutdown(ctx); err != nil {
		return s.Server.Close()
	}
	return nil
}
