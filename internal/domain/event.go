package domain

import "time"

// Pub/sub channels and streams used by the engine.
const (
	ChannelPortfolio = "portfolio"
	ChannelTriggers  = "triggers"
	ChannelPrices    = "prices"
	ChannelSessions  = "sessions"
)

// Audit event names.
const (
	AuditSessionStarted    = "session_started"
	AuditSessionPaused     = "session_paused"
	AuditSessionResumed    = "session_resumed"
	AuditSessionStopped    = "session_stopped"
	AuditSessionTerminated = "session_terminated"
	AuditFill              = "fill"
	AuditRejection         = "signal_rejected"
	AuditTrigger           = "trigger"
)

// Event is the envelope published on pub/sub channels.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}
