package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// SessionService defines the lifecycle methods the session handler requires.
type SessionService interface {
	StartSession(ctx context.Context, req domain.SessionConfig) (domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Session, error)
	LiveSessions() []domain.Session
	StopSession(ctx context.Context, id string) (domain.PerformanceSnapshot, error)
	PauseSession(ctx context.Context, id string) (domain.Session, error)
	ResumeSession(ctx context.Context, id string) (domain.Session, error)
}

// SessionHandler serves the session lifecycle endpoints.
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler with the given service and logger.
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

type listSessionsResponse struct {
	Sessions []domain.Session `json:"sessions"`
}

// StartSession opens a new session. Omitted fields take the configured
// defaults.
// POST /api/sessions
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionConfig
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.sessions.StartSession(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions returns the sessions of an owner, or the live sessions when
// no owner is given.
// GET /api/sessions?owner=...&limit=50&offset=0
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: h.sessions.LiveSessions()})
		return
	}

	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := h.sessions.ListSessions(r.Context(), owner, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}

// GetSession returns one session.
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.GetSession(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// StopSession closes every open position and ends the session. The reply is
// the final performance snapshot.
// POST /api/sessions/{id}/stop
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.StopSession(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "stop session", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PauseSession stops a session from accepting signals.
// POST /api/sessions/{id}/pause
func (h *SessionHandler) PauseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.PauseSession(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "pause session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ResumeSession lets a paused session accept signals again.
// POST /api/sessions/{id}/resume
func (h *SessionHandler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.ResumeSession(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "resume session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
