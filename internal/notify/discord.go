package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// discordContentLimit is the maximum message length Discord accepts.
const discordContentLimit = 2000

// DiscordSender posts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender with a 10 second HTTP timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the message with the title in bold, truncated to Discord's limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	if r := []rune(content); len(r) > discordContentLimit {
		content = string(r[:discordContentLimit-1]) + "…"
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}
	// Discord answers 204 No Content on success.
	return postJSON(ctx, d.client, "discord", d.webhookURL, body)
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}
