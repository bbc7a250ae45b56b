package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// SignalService defines the trading methods the signal handler requires.
type SignalService interface {
	SubmitSignal(ctx context.Context, sessionID string, sig domain.Signal) (domain.PositionUpdate, error)
	MarkToMarket(ctx context.Context, sessionID, symbol string, price float64) ([]domain.Trigger, error)
}

// SignalHandler serves signal submission and manual marks.
type SignalHandler struct {
	signals SignalService
	logger  *slog.Logger
}

// NewSignalHandler creates a SignalHandler with the given service and logger.
func NewSignalHandler(signals SignalService, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{signals: signals, logger: logger}
}

type markRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type markResponse struct {
	Triggers []domain.Trigger `json:"triggers"`
}

// SubmitSignal runs a signal through the risk checks and the simulator. A
// rejected signal replies 422 with its rejection code.
// POST /api/sessions/{id}/signals
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var sig domain.Signal
	if err := decodeBody(w, r, &sig); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	upd, err := h.signals.SubmitSignal(r.Context(), pathParam(r, "id"), sig)
	if err != nil {
		writeServiceError(w, r, h.logger, "submit signal", err)
		return
	}
	writeJSON(w, http.StatusCreated, upd)
}

// MarkToMarket applies one price to the session's open positions and
// returns the triggers it fired.
// POST /api/sessions/{id}/marks
func (h *SignalHandler) MarkToMarket(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	triggers, err := h.signals.MarkToMarket(r.Context(), pathParam(r, "id"), req.Symbol, req.Price)
	if err != nil {
		writeServiceError(w, r, h.logger, "mark to market", err)
		return
	}
	if triggers == nil {
		triggers = []domain.Trigger{}
	}
	writeJSON(w, http.StatusOK, markResponse{Triggers: triggers})
}
