// Package server exposes the control API, metrics and the live stats
// websocket of a simulation.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/server/handler"
	"github.com/alanyoungcy/mevsim/internal/server/middleware"
	"github.com/alanyoungcy/mevsim/internal/server/ws"
)

// RateLimit bounds API requests per client IP. A nil Limiter disables it.
type RateLimit struct {
	Limiter domain.RateLimiter
	Limit   int
	Window  time.Duration
}

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string
	RateLimit   RateLimit
}

// Handlers are the route targets. Hub and Metrics may be nil.
type Handlers struct {
	Health     *handler.HealthHandler
	Simulation *handler.SimulationHandler
	Hub        *ws.Hub
	Metrics    http.Handler
}

// Server is the HTTP and websocket front of a simulation.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and wraps them in the middleware chain.
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, h, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed and wrapped http.Handler.
func NewHandler(cfg Config, h Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/stats", h.Simulation.GetStats)
	mux.HandleFunc("GET /api/strategies", h.Simulation.ListStrategies)
	mux.HandleFunc("POST /api/strategies/{name}/enable", h.Simulation.SetStrategyEnabled(true))
	mux.HandleFunc("POST /api/strategies/{name}/disable", h.Simulation.SetStrategyEnabled(false))
	mux.HandleFunc("POST /api/simulation/export", h.Simulation.Export)
	mux.HandleFunc("POST /api/simulation/{action}", h.Simulation.Control)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var handler http.Handler = mux
	handler = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(handler)
	if rl := cfg.RateLimit; rl.Limiter != nil && rl.Limit > 0 {
		window := rl.Window
		if window <= 0 {
			window = time.Second
		}
		handler = middleware.RateLimit(rl.Limiter, rl.Limit, window, logger)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
