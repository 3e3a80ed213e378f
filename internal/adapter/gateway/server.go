// Package gateway exposes the router over HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/infra/middleware"
)

const (
	defaultMaxBodyBytes = 64 << 10
	shutdownTimeout     = 5 * time.Second
)

// Config controls the listener and the middleware stack.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit      float64
	RateBurst      int
	TrustedProxies []string
	Tokens         []string
}

// Server serves the routing API. Start blocks until the context passed to it
// is cancelled or Stop is called.
type Server struct {
	cfg    Config
	deps   HandlerDeps
	logger *slog.Logger

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway server.
func NewServer(cfg Config, deps HandlerDeps, logger *slog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = max(1, int(cfg.RateLimit))
	}
	return &Server{cfg: cfg, deps: deps, logger: logger}
}

// Handler builds the full middleware stack. The rate limiter janitor lives
// until ctx is done. /healthz is served without authentication.
func (s *Server) Handler(ctx context.Context) http.Handler {
	h := &handlers{deps: s.deps, maxBody: s.cfg.MaxBodyBytes, logger: s.logger}

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/route", h.route)
	api.HandleFunc("GET /v1/stats", h.stats)
	api.HandleFunc("GET /v1/agents", h.agents)
	api.HandleFunc("GET /v1/audit", h.audit)
	api.HandleFunc("POST /v1/registry/reload", h.reload)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.Handle("/v1/", middleware.BearerAuth(s.cfg.Tokens)(api))

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.AccessLog(s.logger),
		middleware.SecurityHeaders,
	}
	if s.cfg.RateLimit > 0 {
		rl := middleware.NewRateLimiter(ctx, middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit,
			Burst:             s.cfg.RateBurst,
			TrustedProxies:    s.cfg.TrustedProxies,
		})
		mws = append(mws, rl.Middleware)
	}
	return middleware.Chain(mux, mws...)
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop(context.Background())
		case <-stopped:
		}
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// BoundAddr returns the listener address once Start has bound it.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Stop gracefully shuts down the server, waiting at most five seconds for
// in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
