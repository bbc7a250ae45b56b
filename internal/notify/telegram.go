package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts messages through the Telegram Bot API.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat. Requests time out after 10 seconds.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiURL: telegramAPI,
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithAPIURL points the sender at another Bot API host.
func (t *TelegramSender) WithAPIURL(url string) *TelegramSender {
	t.apiURL = strings.TrimRight(url, "/")
	return t
}

// Send posts msg with its title in bold.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("%s*%s*\n%s", telegramPrefix(msg.Severity), msg.Title, msg.Body),
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	if err := postJSON(ctx, t.client, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }

func telegramPrefix(s Severity) string {
	switch s {
	case SeverityCritical:
		return "⛔ "
	case SeverityWarning:
		return "⚠️ "
	}
	return ""
}
