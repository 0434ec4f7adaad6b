package infra

import (
	"context"
	"net/http"
	"time"
)

// HTTPServer owns the webhook listener lifecycle. Start blocks serving;
// Shutdown stops accepting events and drains in-flight handlers, after which
// the host waits separately for detached jobs.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer builds the listener from the loaded configuration.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{server: &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
		// Event payloads are small; slow header writes indicate a bad peer.
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}}
}

// Start serves until Shutdown is called or the listener fails.
func (s *HTTPServer) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server within the context deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
