package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/server/handler"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/server/middleware"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/server/ws"
)

const healthPath = "/api/health"

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per minute per client; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Sessions  *handler.SessionHandler
	Signals   *handler.SignalHandler
	Portfolio *handler.PortfolioHandler
}

// Server is the headless HTTP + WebSocket API of the paper trading engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil when rate limiting is off.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed handler with its middleware chain.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)

	// Session lifecycle.
	mux.HandleFunc("POST /api/sessions", handlers.Sessions.StartSession)
	mux.HandleFunc("GET /api/sessions", handlers.Sessions.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", handlers.Sessions.GetSession)
	mux.HandleFunc("POST /api/sessions/{id}/stop", handlers.Sessions.StopSession)
	mux.HandleFunc("POST /api/sessions/{id}/pause", handlers.Sessions.PauseSession)
	mux.HandleFunc("POST /api/sessions/{id}/resume", handlers.Sessions.ResumeSession)

	// Trading.
	mux.HandleFunc("POST /api/sessions/{id}/signals", handlers.Signals.SubmitSignal)
	mux.HandleFunc("POST /api/sessions/{id}/marks", handlers.Signals.MarkToMarket)

	// Reads.
	mux.HandleFunc("GET /api/sessions/{id}/portfolio", handlers.Portfolio.GetPortfolio)
	mux.HandleFunc("GET /api/sessions/{id}/performance", handlers.Portfolio.GetPerformance)
	mux.HandleFunc("GET /api/sessions/{id}/positions", handlers.Portfolio.ListPositions)
	mux.HandleFunc("GET /api/sessions/{id}/trades", handlers.Portfolio.ListTrades)
	mux.HandleFunc("GET /api/sessions/{id}/snapshots", handlers.Portfolio.ListSnapshots)
	mux.HandleFunc("POST /api/sessions/{id}/snapshots", handlers.Portfolio.TakeSnapshot)
	mux.HandleFunc("GET /api/audit", handlers.Portfolio.ListAudit)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, healthPath)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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
