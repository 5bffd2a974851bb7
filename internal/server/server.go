// Package server is the HTTP surface of floodwatch.
//
// Routes:
//
//	POST /api/summary   one conversation, answered from the result cache when possible
//	GET  /api/map-data  quick survey around ?lat=&lon= with full provider data
//	GET  /ws/summary    websocket; streams orchestrator events, then the result
//	     /mcp           the tool registry as a streamable HTTP MCP server
//	GET  /metrics       Prometheus exposition
//	GET  /healthz, /readyz
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/floodwatch/internal/health"
	"github.com/MrWong99/floodwatch/internal/observe"
	"github.com/MrWong99/floodwatch/internal/orchestrator"
	"github.com/MrWong99/floodwatch/internal/survey"
)

// maxBodyBytes bounds request bodies and websocket messages.
const maxBodyBytes = 1 << 20

// Summarizer answers a conversational request. *cache.Service satisfies it.
type Summarizer interface {
	Summary(ctx context.Context, req orchestrator.Request) (res *orchestrator.Result, cached bool, err error)
}

// Surveyor runs a quick survey. *survey.Surveyor satisfies it.
type Surveyor interface {
	Run(ctx context.Context, region string, lat, lon float64) (*survey.Result, error)
}

// Region is the area assumed when a request names none.
type Region struct {
	ID        string
	Latitude  float64
	Longitude float64
}

// Server routes HTTP requests to the floodwatch services.
type Server struct {
	summarizer Summarizer
	surveyor   Surveyor
	region     Region

	mcp     http.Handler
	metrics http.Handler
	health  *health.Handler

	logger     *slog.Logger
	instrument *observe.Metrics
	mux        *http.ServeMux
}

// Option configures a [Server].
type Option func(*Server)

// WithMCP mounts h on /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealth mounts the health endpoints.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records request and stream metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.instrument = m }
}

// New creates a Server.
func New(summarizer Summarizer, surveyor Surveyor, region Region, opts ...Option) *Server {
	s := &Server{
		summarizer: summarizer,
		surveyor:   surveyor,
		region:     region,
		logger:     slog.Default(),
		mux:        http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/map-data", s.handleMapData)
	s.mux.HandleFunc("GET /ws/summary", s.handleStream)
	if s.mcp != nil {
		s.mux.Handle("/mcp", s.mcp)
	}
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	if s.health != nil {
		s.health.Register(s.mux)
	}
}

// Handler returns the root handler wrapped in the tracing and logging
// middleware.
func (s *Server) Handler() http.Handler {
	m := s.instrument
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return observe.Middleware(m)(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
