package notify

import (
	"fmt"
	"strings"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// TriggerMessage renders a stop-loss or take-profit crossing. The event
// name is the trigger kind.
func TriggerMessage(t domain.Trigger) Message {
	side := "long"
	if t.Quantity < 0 {
		side = "short"
	}
	label := "Take profit"
	sev := SeverityInfo
	if t.Kind == domain.TriggerStopLoss {
		label = "Stop loss"
		sev = SeverityWarning
	}
	return Message{
		Event:    string(t.Kind),
		Title:    fmt.Sprintf("%s hit: %s", label, t.Symbol),
		Severity: sev,
		Body: strings.Join([]string{
			fmt.Sprintf("Strategy: %s", t.Strategy),
			fmt.Sprintf("Position: %s %g", side, abs(t.Quantity)),
			fmt.Sprintf("Level: %.4f  Price: %.4f", t.Level, t.Price),
			fmt.Sprintf("Session: %s", t.SessionID),
			fmt.Sprintf("At: %s", t.At.UTC().Format("2006-01-02 15:04:05 MST")),
		}, "\n"),
	}
}

// SessionMessage renders a session lifecycle event.
func SessionMessage(event string, s domain.Session) Message {
	sev := SeverityInfo
	title := "Session " + strings.ReplaceAll(strings.TrimPrefix(event, "session_"), "_", " ")
	if s.Status == domain.SessionStatusTerminated {
		sev = SeverityCritical
	}
	lines := []string{
		fmt.Sprintf("Session: %s (owner %s)", s.ID, s.OwnerID),
		fmt.Sprintf("Capital: %.2f of %.2f initial", s.CurrentCapital, s.InitialCapital),
		fmt.Sprintf("Realized P&L: %.2f  Commissions: %.2f  Trades: %d", s.RealizedPnL, s.Commissions, s.TradeCount),
	}
	if s.EndReason != "" {
		lines = append(lines, "Reason: "+s.EndReason)
	}
	return Message{Event: event, Title: title, Body: strings.Join(lines, "\n"), Severity: sev}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
