package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

const healthCheckTimeout = 2 * time.Second

// LiveCounter reports how many sessions are currently live.
type LiveCounter interface {
	LiveCount() int
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	live      LiveCounter
	checkers  []domain.HealthChecker
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. live may be nil in modes that run
// no sessions.
func NewHealthHandler(live LiveCounter, mode string, logger *slog.Logger, checkers ...domain.HealthChecker) *HealthHandler {
	return &HealthHandler{
		live:      live,
		checkers:  checkers,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck reports liveness and the state of each backing service. Any
// failing dependency turns the reply into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.checkers))
	auth := make(map[string]bool)
	for _, c := range h.checkers {
		if a, ok := c.(domain.Authenticator); ok {
			auth[c.Name()] = a.IsAuthenticated()
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: health check failed",
				slog.String("dependency", c.Name()),
				slog.String("error", err.Error()),
			)
			checks[c.Name()] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[c.Name()] = "ok"
	}

	body := map[string]any{
		"status":         status,
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"checks":         checks,
	}
	if len(auth) > 0 {
		body["authenticated"] = auth
	}
	if h.live != nil {
		body["live_sessions"] = h.live.LiveCount()
	}
	writeJSON(w, code, body)
}
