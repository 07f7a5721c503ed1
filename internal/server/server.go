// Package server assembles the HTTP and WebSocket API for the settlement
// engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fanpredict/marketd/internal/domain"
	"github.com/fanpredict/marketd/internal/server/handler"
	"github.com/fanpredict/marketd/internal/server/middleware"
	"github.com/fanpredict/marketd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminKey    string // guards resolve/reconcile/audit; empty disables the guard
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Bets       *handler.BetHandler
	Wallets    *handler.WalletHandler
	Settlement *handler.SettlementHandler
	Audit      *handler.AuditHandler
	Archive    *handler.ArchiveHandler // nil unless archiving is enabled
}

// Server is the HTTP + WebSocket API server for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
// Mutating settlement routes are wrapped in the admin guard; everything else
// is public behind the shared rate limit. limiter may be nil to disable rate
// limiting entirely.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Admin(cfg.AdminKey)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{address}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{address}/quote", handlers.Markets.QuoteBet)
	mux.HandleFunc("POST /api/markets", admin(handlers.Markets.CreateMarket))

	// Bet endpoints.
	mux.HandleFunc("POST /api/markets/{address}/bets", handlers.Bets.PlaceBet)
	mux.HandleFunc("GET /api/markets/{address}/bets", handlers.Bets.ListMarketBets)
	mux.HandleFunc("GET /api/wallets/{address}/bets", handlers.Bets.WalletHistory)
	mux.HandleFunc("GET /api/leaderboard", handlers.Bets.Leaderboard)

	// Wallet funding. Deposits bridge off-ledger payments into the token
	// ledger, so they sit behind the admin guard; approvals are issued by
	// the wallet itself.
	mux.HandleFunc("POST /api/wallets/{address}/deposit", admin(handlers.Wallets.Deposit))
	mux.HandleFunc("POST /api/wallets/{address}/approve", handlers.Wallets.Approve)
	mux.HandleFunc("GET /api/wallets/{address}/balance", handlers.Wallets.GetBalance)

	// Settlement endpoints.
	mux.HandleFunc("POST /api/markets/{address}/resolve", admin(handlers.Settlement.ResolveMarket))
	mux.HandleFunc("POST /api/settlements/{question_id}/reconcile", admin(handlers.Settlement.ReconcileQuestion))
	mux.HandleFunc("POST /api/markets/{address}/claim", handlers.Settlement.Claim)
	mux.HandleFunc("GET /api/wallets/{address}/claimable", handlers.Settlement.Claimable)

	// Audit log.
	mux.HandleFunc("GET /api/audit", admin(handlers.Audit.ListAudit))

	// Archive browsing, only when the archiver is wired.
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", admin(handlers.Archive.ListArchives))
		mux.HandleFunc("GET /api/archive/{path...}", admin(handlers.Archive.Download))
		mux.HandleFunc("DELETE /api/archive/{path...}", admin(handlers.Archive.Delete))
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
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
