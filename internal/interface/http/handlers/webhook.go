package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
)

// HeaderTelegramSecret is set by Telegram on webhook calls when the webhook
// was registered with a secret token.
const HeaderTelegramSecret = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler consumes a raw Telegram update.
type WebhookHandler interface {
	HandleTelegramUpdate(ctx context.Context, payload []byte) error
}

// WebhookHandlerFunc adapts a function to WebhookHandler.
type WebhookHandlerFunc func(ctx context.Context, payload []byte) error

// HandleTelegramUpdate implements WebhookHandler.
func (f WebhookHandlerFunc) HandleTelegramUpdate(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// ValidSecret reports whether r carries the expected secret token.
// An empty secret accepts every request.
func ValidSecret(r *http.Request, secret string) bool {
	if secret == "" {
		return true
	}
	got := r.Header.Get(HeaderTelegramSecret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
