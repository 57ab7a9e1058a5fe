package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: defaultClient}
}

type discordPayload struct {
	Username        string                 `json:"username"`
	Content         string                 `json:"content"`
	AllowedMentions map[string]interface{} `json:"allowed_mentions"`
}

// Send posts a message with the title in bold. Mentions are disabled so
// usernames in events can never ping anyone.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordPayload{
		Username:        "groupledger",
		Content:         fmt.Sprintf("**%s**\n%s", title, message),
		AllowedMentions: map[string]interface{}{"parse": []string{}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
