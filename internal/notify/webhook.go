package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/groupledger/internal/crypto"
)

// WebhookSender posts notifications as JSON to an arbitrary endpoint. When
// a secret is set, every request carries an HMAC signature over the body.
type WebhookSender struct {
	url    string
	auth   *crypto.HMACAuth
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender. An empty secret sends unsigned
// requests.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{url: url, client: defaultClient, now: time.Now}
	if secret != "" {
		w.auth = &crypto.HMACAuth{Secret: secret}
	}
	return w
}

type webhookPayload struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Send posts the notification.
func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	payload := webhookPayload{Title: title, Message: message, SentAt: w.now().UTC()}
	if w.auth == nil {
		return postJSON(ctx, w.client, w.Name(), w.url, payload)
	}
	return postSigned(ctx, w.client, w.Name(), w.url, payload, w.auth.Headers)
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
