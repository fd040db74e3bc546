package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psaab/snmpagentd/pkg/agent"
	"github.com/psaab/snmpagentd/pkg/stats"
)

// Reloader re-reads a configuration source.
type Reloader interface {
	Reload() error
}

// Config configures the API server.
type Config struct {
	Addr     string
	Auth     *AuthConfig // nil = no authentication
	Registry *agent.Registry
	Stats    *stats.Set
	ACL      Reloader // nil when the ACL is not file backed
	Start    time.Time
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	registry   *agent.Registry
	stats      *stats.Set
	acl        Reloader
	startTime  time.Time
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		registry:  cfg.Registry,
		stats:     cfg.Stats,
		acl:       cfg.ACL,
		startTime: cfg.Start,
	}
	if s.startTime.IsZero() {
		s.startTime = time.Now()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(s))
	if s.stats != nil {
		registry.MustRegister(s.stats)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/v1/status", s.statusHandler)
	mux.HandleFunc("GET /api/v1/agents", s.agentsHandler)
	mux.HandleFunc("GET /api/v1/statistics", s.statisticsHandler)
	mux.HandleFunc("POST /api/v1/acl/reload", s.aclReloadHandler)

	var handler http.Handler = mux
	if cfg.Auth != nil {
		handler = authMiddleware(cfg.Auth, mux)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
