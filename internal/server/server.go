// Package server is the HTTP and WebSocket API of the pool service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/metrics"
	"github.com/alanyoungcy/bullbear/internal/server/handler"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
	"github.com/alanyoungcy/bullbear/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port             int
	CORSOrigins      []string
	APIKey           string // if empty, authentication is disabled
	RateLimit        int    // requests per RateWindow per client; 0 disables
	RateWindow       time.Duration
	RequireSignature bool
	SignatureMaxSkew time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Pools  *handler.PoolHandler
	Feeds  *handler.FeedHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// publicPaths skip API key authentication.
var publicPaths = []string{"/api/health", "/metrics"}

// NewServer creates a Server with all routes registered. limiter and wsHub
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped API handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	// Pools.
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("POST /api/pools", handlers.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/events", handlers.Pools.Events)
	mux.HandleFunc("GET /api/pools/{id}/positions/{user}", handlers.Pools.GetPosition)
	mux.HandleFunc("GET /api/pools/{id}/quote/mint", handlers.Pools.QuoteMint)
	mux.HandleFunc("GET /api/pools/{id}/quote/burn", handlers.Pools.QuoteBurn)
	mux.HandleFunc("POST /api/pools/{id}/mint", handlers.Pools.Mint)
	mux.HandleFunc("POST /api/pools/{id}/burn", handlers.Pools.Burn)
	mux.HandleFunc("POST /api/pools/{id}/snapshot", handlers.Pools.Snapshot)
	mux.HandleFunc("POST /api/pools/{id}/claim", handlers.Pools.Claim)
	mux.HandleFunc("POST /api/pools/{id}/creator-fee", handlers.Pools.WithdrawCreatorFee)
	mux.HandleFunc("GET /api/users/{user}/positions", handlers.Pools.ListUserPositions)

	// Oracle feeds and answers.
	mux.HandleFunc("GET /api/price-feeds", handlers.Feeds.ListFeeds)
	mux.HandleFunc("PUT /api/price-feeds/{pair...}", handlers.Feeds.SetFeed)
	mux.HandleFunc("GET /api/prices/{pair...}", handlers.Feeds.GetPrice)
	mux.HandleFunc("PUT /api/prices/{pair...}", handlers.Feeds.PushPrice)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Outermost last: CORS, metrics, logging, auth, identity, rate limit.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Identity(middleware.IdentityConfig{
		RequireSignature: cfg.RequireSignature,
		MaxSkew:          cfg.SignatureMaxSkew,
	})(h)
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	h = middleware.Logging(logger)(h)
	h = metrics.InstrumentHandler(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
