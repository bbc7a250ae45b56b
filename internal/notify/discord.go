package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Embed colours by severity.
const (
	discordBlue   = 0x3498db
	discordOrange = 0xe67e22
	discordRed    = 0xe74c3c
)

// DiscordSender posts messages to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
// Requests time out after 10 seconds.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts msg as a single embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       msg.Title,
			"description": msg.Body,
			"color":       discordColor(msg.Severity),
			"footer":      map[string]string{"text": msg.Event},
		}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }

func discordColor(s Severity) int {
	switch s {
	case SeverityCritical:
		return discordRed
	case SeverityWarning:
		return discordOrange
	}
	return discordBlue
}
