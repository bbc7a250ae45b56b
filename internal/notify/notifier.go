// Package notify delivers session and trigger alerts to operators over
// Telegram and Discord. Messages are filtered by event name so operators
// receive only the alerts they subscribed to.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Severity ranks a message; senders use it for emphasis.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// Message is one alert.
type Message struct {
	Event    string
	Title    string
	Body     string
	Severity Severity
}

// Sender is implemented by each delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans a message out to every sender whose event filter allows it.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether msg's event would be delivered anywhere.
func (n *Notifier) Enabled(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers msg to every sender. A failing sender does not stop
// delivery to the others; all failures are returned joined.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if !n.Enabled(msg.Event) {
		n.logger.DebugContext(ctx, "notify: event filtered", slog.String("event", msg.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.WarnContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// postJSON sends payload and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
