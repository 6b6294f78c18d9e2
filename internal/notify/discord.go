package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordMaxContent is the webhook content limit in characters.
const discordMaxContent = 2000

// DiscordSender posts to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a sender for webhookURL. Posts appear under
// username when it is set.
func NewDiscordSender(webhookURL, username string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, username: username, client: defaultHTTPClient()}
}

type discordPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// Send posts title in bold followed by message, truncated to the webhook
// limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := truncateRunes("**"+title+"**\n"+message, discordMaxContent)
	if err := postJSON(ctx, d.client, d.webhookURL, discordPayload{Content: content, Username: d.username}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }

// truncateRunes cuts s to n runes, ending in an ellipsis when shortened.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
