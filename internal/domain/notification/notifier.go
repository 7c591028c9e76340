// Package notification describes outbound messages to users.
// Delivery is always fire-and-forget: a failed notification never affects progression state.
package notification

import (
	"context"
	"fmt"

	"github.com/ascend-app/ascend/internal/domain/progression"
)

// Kind identifies a notification template.
type Kind string

const (
	KindRankUp         Kind = "rank_up"
	KindStreakReminder Kind = "streak_reminder"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindRankUp, KindStreakReminder:
		return true
	default:
		return false
	}
}

// InlineButton is a button attached below a chat message.
// Exactly one of CallbackData, URL or WebAppURL is set.
type InlineButton struct {
	Text         string
	CallbackData string
	URL          string
	WebAppURL    string
}

// NewCallbackButton creates a button that sends callback data back to the bot.
func NewCallbackButton(text, data string) InlineButton {
	return InlineButton{Text: text, CallbackData: data}
}

// NewWebAppButton creates a button that opens the mini app.
func NewWebAppButton(text, url string) InlineButton {
	return InlineButton{Text: text, WebAppURL: url}
}

// IsValid checks that the button has text and exactly one action.
func (b InlineButton) IsValid() bool {
	actions := 0
	for _, s := range []string{b.CallbackData, b.URL, b.WebAppURL} {
		if s != "" {
			actions++
		}
	}
	return b.Text != "" && actions == 1
}

// Message is a rendered notification ready for a channel.
type Message struct {
	Kind     Kind
	UserID   int64
	Text     string
	Keyboard [][]InlineButton
}

// Notifier delivers notifications to users.
type Notifier interface {
	// NotifyRankUp tells the user they reached a new rank stage.
	NotifyRankUp(ctx context.Context, userID int64, stage progression.RankStage) error

	// NotifyStreakReminder reminds a user with an open streak to complete a quest today.
	NotifyStreakReminder(ctx context.Context, userID int64, streak int) error
}

// RankUpText is the plain rank-up template.
func RankUpText(stage progression.RankStage) string {
	return fmt.Sprintf("🏆 RANK UP!\n\nYou've reached %s.\nYour stats are growing. Keep going!", stage)
}

// StreakReminderText is the plain streak reminder template.
func StreakReminderText(streak int) string {
	return fmt.Sprintf("🔥 Your streak is %d days. Complete one quest today to keep it alive.", streak)
}

// NopNotifier discards every notification. Used when Telegram is disabled.
type NopNotifier struct{}

func (NopNotifier) NotifyRankUp(context.Context, int64, progression.RankStage) error { return nil }
func (NopNotifier) NotifyStreakReminder(context.Context, int64, int) error           { return nil }
