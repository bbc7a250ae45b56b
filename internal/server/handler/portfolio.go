package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// PortfolioService defines the read methods the portfolio handler requires.
type PortfolioService interface {
	GetPortfolioStatus(ctx context.Context, id string) (domain.PortfolioStatus, error)
	GetPerformanceSummary(ctx context.Context, id string) (domain.PerformanceSnapshot, error)
	GetPerformanceSince(ctx context.Context, id string, since time.Time) (domain.PerformanceSnapshot, error)
	TakeSnapshot(ctx context.Context, id string) (domain.PerformanceSnapshot, error)
	SnapshotHistory(id string) ([]domain.PerformanceSnapshot, error)
	ListSnapshots(ctx context.Context, id string, opts domain.ListOpts) ([]domain.PerformanceSnapshot, error)
	ListPositions(ctx context.Context, id string, status domain.PositionStatus) ([]domain.Position, error)
	ListTrades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error)
	ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// PortfolioHandler serves portfolio, performance and history reads.
type PortfolioHandler struct {
	portfolio PortfolioService
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler with the given service and logger.
func NewPortfolioHandler(portfolio PortfolioService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolio: portfolio, logger: logger}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

type listSnapshotsResponse struct {
	Snapshots []domain.PerformanceSnapshot `json:"snapshots"`
}

type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// GetPortfolio returns capital, totals and open positions.
// GET /api/sessions/{id}/portfolio
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	status, err := h.portfolio.GetPortfolioStatus(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get portfolio", err)
		return
	}
	if status.Positions == nil {
		status.Positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, status)
}

// GetPerformance returns the session's statistics as of now, or over the
// period starting at the RFC 3339 since parameter.
// GET /api/sessions/{id}/performance
func (h *PortfolioHandler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	var (
		snap domain.PerformanceSnapshot
		err  error
	)
	if v := r.URL.Query().Get("since"); v != "" {
		since, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		snap, err = h.portfolio.GetPerformanceSince(r.Context(), pathParam(r, "id"), since)
	} else {
		snap, err = h.portfolio.GetPerformanceSummary(r.Context(), pathParam(r, "id"))
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "get performance", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// TakeSnapshot records a snapshot of a live session.
// POST /api/sessions/{id}/snapshots
func (h *PortfolioHandler) TakeSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.portfolio.TakeSnapshot(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "take snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// ListSnapshots returns persisted snapshots, or the in-memory rolling
// window when recent=true.
// GET /api/sessions/{id}/snapshots?recent=true
func (h *PortfolioHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var (
		snaps []domain.PerformanceSnapshot
		err   error
	)
	if r.URL.Query().Get("recent") == "true" {
		snaps, err = h.portfolio.SnapshotHistory(id)
	} else {
		opts, perr := parseListOpts(r)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		snaps, err = h.portfolio.ListSnapshots(r.Context(), id, opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list snapshots", err)
		return
	}
	if snaps == nil {
		snaps = []domain.PerformanceSnapshot{}
	}
	writeJSON(w, http.StatusOK, listSnapshotsResponse{Snapshots: snaps})
}

// ListPositions returns the session's positions, optionally filtered by
// status.
// GET /api/sessions/{id}/positions?status=open
func (h *PortfolioHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := domain.PositionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.PositionStatusOpen, domain.PositionStatusClosed:
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	positions, err := h.portfolio.ListPositions(r.Context(), pathParam(r, "id"), status)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ListTrades returns the session's trade log in execution order.
// GET /api/sessions/{id}/trades?limit=50&offset=0
func (h *PortfolioHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.portfolio.ListTrades(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

// ListAudit returns audit entries, newest first.
// GET /api/audit
func (h *PortfolioHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.portfolio.ListAudit(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries})
}
