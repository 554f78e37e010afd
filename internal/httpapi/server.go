// Package httpapi serves the client's status, health and prometheus
// metrics over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds server configuration
type Config struct {
	// AuthSecret, when set, protects the status endpoint with HS256 bearer tokens
	AuthSecret string
	// Gatherer serves /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
	// Version is reported by the root endpoint
	Version string
}

// Server represents the HTTP API server
type Server struct {
	handlers   *Handlers
	middleware *Middleware
	gatherer   prometheus.Gatherer
	server     *http.Server
	log        zerolog.Logger
	version    string
}

// NewServer creates a new HTTP API server
func NewServer(source StatusSource, config Config) *Server {
	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger := config.Logger.With().Str("component", "httpapi").Logger()

	s := &Server{
		handlers:   NewHandlers(source, logger),
		middleware: NewMiddleware(config.AuthSecret, logger),
		gatherer:   gatherer,
		log:        logger,
		version:    config.Version,
	}
	s.server = &http.Server{
		Handler:        s.setupRoutes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Serve serves on ln until ctx ends, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("HTTP API listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(handler)))
	}

	mux.Handle("/api/v1/status", withMiddleware(s.middleware.AuthRequired(s.handlers.Status)))
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))
	mux.Handle("/metrics", withMiddleware(
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP))
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.handlers.writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service": "nodestream",
		"version": s.version,
		"endpoints": map[string]string{
			"status":  "GET /api/v1/status",
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}
