package infra

import (
	"context"
	"net/http"
	"time"
)

// Callbacks from the generation engine arrive in bursts; a short header
// timeout sheds slow-loris connections without touching the body timeouts.
const readHeaderTimeout = 5 * time.Second

// HTTPServer runs the API with the configured timeouts and a graceful stop.
type HTTPServer struct {
	srv *http.Server
}

func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{srv: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}}
}

// Addr returns the listen address, for startup logging.
func (s *HTTPServer) Addr() string {
	if s.srv == nil {
		return ""
	}
	return s.srv.Addr
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *HTTPServer) Start() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests. In-flight dispatches either finish
// their saga or compensate; nothing is cut mid-reservation.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
