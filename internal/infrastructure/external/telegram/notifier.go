package telegram

import (
	"context"
	"fmt"

	"github.com/ascend-app/ascend/internal/domain/notification"
	"github.com/ascend-app/ascend/internal/domain/progression"
)

// Notifier delivers notifications as private chat messages.
// A user's private chat id equals their Telegram user id.
type Notifier struct {
	client     *Client
	miniAppURL string
}

var _ notification.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier. An empty miniAppURL omits the app button.
func NewNotifier(client *Client, miniAppURL string) *Notifier {
	return &Notifier{client: client, miniAppURL: miniAppURL}
}

// NotifyRankUp implements notification.Notifier.
func (n *Notifier) NotifyRankUp(ctx context.Context, userID int64, stage progression.RankStage) error {
	return n.send(ctx, notification.Message{
		Kind:     notification.KindRankUp,
		UserID:   userID,
		Text:     notification.RankUpText(stage),
		Keyboard: n.appKeyboard("Open ASCEND"),
	})
}

// NotifyStreakReminder implements notification.Notifier.
func (n *Notifier) NotifyStreakReminder(ctx context.Context, userID int64, streak int) error {
	keyboard := [][]notification.InlineButton{{notification.NewCallbackButton("📋 Today's quests", CallbackQuests)}}
	keyboard = append(keyboard, n.appKeyboard("Open ASCEND")...)

	return n.send(ctx, notification.Message{
		Kind:     notification.KindStreakReminder,
		UserID:   userID,
		Text:     notification.StreakReminderText(streak),
		Keyboard: keyboard,
	})
}

func (n *Notifier) appKeyboard(text string) [][]notification.InlineButton {
	if n.miniAppURL == "" {
		return nil
	}
	return [][]notification.InlineButton{{notification.NewWebAppButton(text, n.miniAppURL)}}
}

func (n *Notifier) send(ctx context.Context, msg notification.Message) error {
	_, err := n.client.SendWithKeyboard(ctx, msg.UserID, msg.Text, BuildKeyboard(msg.Keyboard))
	if err != nil {
		return fmt.Errorf("notify %s: %w", msg.Kind, err)
	}
	return nil
}

// BuildKeyboard converts domain buttons to Telegram buttons. Invalid buttons are skipped.
func BuildKeyboard(buttons [][]notification.InlineButton) *InlineKeyboardMarkup {
	kb := NewKeyboard()
	for _, row := range buttons {
		out := make([]InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if !btn.IsValid() {
				continue
			}
			b := InlineKeyboardButton{Text: btn.Text, CallbackData: btn.CallbackData, URL: btn.URL}
			if btn.WebAppURL != "" {
				b.WebApp = &WebAppInfo{URL: btn.WebAppURL}
			}
			out = append(out, b)
		}
		kb.Row(out...)
	}
	return kb.Build()
}

// Callback data shared by the bot keyboards.
const (
	CallbackQuests         = "quests"
	CallbackMyStats        = "my_stats"
	CallbackCompletePrefix = "complete:"
)
