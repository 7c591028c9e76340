// Package handler contains Telegram command and callback handlers.
// Each handler follows the pattern: receive request → call application layer → format response.
// Handlers never talk to the Bot API; the bot delivers the Response.
package handler

import (
	"context"
	"errors"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/internal/interface/telegram/middleware"
	"github.com/ascend-app/ascend/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE
// ══════════════════════════════════════════════════════════════════════════════

// Request is a command or callback reduced to what handlers need.
type Request struct {
	TelegramID int64
	ChatID     int64

	// MessageID is the message carrying the keyboard for callbacks.
	MessageID int64

	Username  string
	FirstName string

	// Args is the text after the command.
	Args string

	// Data is the callback data, CallbackID the query to answer.
	Data       string
	CallbackID string

	IsCallback bool
}

// Response is what the bot sends back.
type Response struct {
	Text     string
	Keyboard *presenter.InlineKeyboard

	// Toast answers a callback query; Alert shows it as a modal.
	Toast string
	Alert bool

	// Edit replaces the callback's message instead of sending a new one.
	Edit bool
}

// Handler handles one route.
type Handler interface {
	Handle(ctx context.Context, req Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (*Response, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// FeatureGate reports per-user feature rollout (config.FeatureFlags).
type FeatureGate interface {
	IsEnabledFor(name string, userID int64) bool
}

// ══════════════════════════════════════════════════════════════════════════════
// USER-FACING ERRORS
// ══════════════════════════════════════════════════════════════════════════════

const (
	QuestNotFoundMessage  = "🤔 This quest doesn't exist anymore."
	BusyMessage           = "⏳ The server is busy. Please try again in a moment."
	InvalidRequestMessage = "🤔 That didn't look right. Try /help."
)

// errorResponse turns expected domain errors into a reply. Anything else is
// returned as is and handled by the bot.
func errorResponse(req Request, err error) (*Response, error) {
	var msg string
	switch {
	case errors.Is(err, progression.ErrUserNotFound):
		msg = middleware.NeedsOnboardingMessage
	case errors.Is(err, progression.ErrQuestNotFound):
		msg = QuestNotFoundMessage
	case progression.IsUnavailable(err):
		msg = BusyMessage
	case shared.IsValidation(err):
		msg = InvalidRequestMessage
	default:
		return nil, err
	}
	if req.IsCallback {
		return &Response{Toast: msg, Alert: true}, nil
	}
	return &Response{Text: msg}, nil
}
