// Package server exposes the settlement engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clearstrike/clearstrike/internal/domain"
	"github.com/clearstrike/clearstrike/internal/server/handler"
	"github.com/clearstrike/clearstrike/internal/server/middleware"
	"github.com/clearstrike/clearstrike/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client per RateWindow; 0 disables
	// limiting. Requires a RateLimiter to be wired.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Feeds     *handler.FeedHandler
	Rounds    *handler.RoundHandler
	Positions *handler.PositionHandler
	Vault     *handler.VaultHandler
	Admin     *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API server for the settlement
// engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, rate limiting, CORS, auth) and attaches
// the WebSocket hub. The limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Feed endpoints.
	mux.HandleFunc("GET /api/feeds", handlers.Feeds.ListFeeds)
	mux.HandleFunc("GET /api/feeds/{id}/round", handlers.Feeds.GetLatestRound)
	mux.HandleFunc("GET /api/feeds/{id}/rounds", handlers.Feeds.ListRounds)

	// Round submission.
	mux.HandleFunc("POST /api/rounds", handlers.Rounds.PushRounds)

	// Position endpoints. The bundle variants carry round updates in the
	// same body; plain open/close use the same handlers with empty rounds.
	mux.HandleFunc("GET /api/positions", handlers.Positions.List)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.Get)
	mux.HandleFunc("POST /api/positions/open", handlers.Positions.Open)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.Close)
	mux.HandleFunc("POST /api/bundles/open", handlers.Positions.Open)
	mux.HandleFunc("POST /api/bundles/close", handlers.Positions.CloseBatch)

	// Liquidity vault endpoints.
	mux.HandleFunc("GET /api/vault", handlers.Vault.Status)
	mux.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/withdraw", handlers.Vault.Withdraw)

	// Admin endpoints.
	mux.HandleFunc("PUT /api/admin/feeds/{id}/config", handlers.Admin.SetFeedConfig)
	mux.HandleFunc("PUT /api/admin/feeds/{id}/enabled", handlers.Admin.SetEnabled)
	mux.HandleFunc("PUT /api/admin/signer", handlers.Admin.SetSigner)
	mux.HandleFunc("PUT /api/admin/fee-receiver", handlers.Admin.SetFeeReceiver)
	mux.HandleFunc("PUT /api/admin/owner", handlers.Admin.TransferAdmin)
	mux.HandleFunc("PUT /api/admin/reserve-fraction", handlers.Admin.SetReserveFraction)
	mux.HandleFunc("PUT /api/admin/duration-multiplier", handlers.Admin.SetDurationMultiplier)
	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/admin/unpause", handlers.Admin.Unpause)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
