// Package presenter formats progression data for Telegram: plain-text cards
// and inline keyboards.
package presenter

import (
	"fmt"

	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/infrastructure/external/telegram"
)

// ══════════════════════════════════════════════════════════════════════════════
// INLINE KEYBOARD TYPES
// Library-agnostic; the bot converts them to Bot API markup.
// ══════════════════════════════════════════════════════════════════════════════

// InlineKeyboard represents an inline keyboard.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// InlineButton represents a single inline button. Exactly one of
// CallbackData, URL and WebAppURL is set.
type InlineButton struct {
	Text         string
	CallbackData string
	URL          string
	WebAppURL    string
}

// NewInlineKeyboard creates a new empty inline keyboard.
func NewInlineKeyboard() *InlineKeyboard {
	return &InlineKeyboard{Rows: make([][]InlineButton, 0)}
}

// AddRow adds a row of buttons. Empty rows are dropped.
func (k *InlineKeyboard) AddRow(buttons ...InlineButton) *InlineKeyboard {
	if len(buttons) > 0 {
		k.Rows = append(k.Rows, buttons)
	}
	return k
}

// CallbackButton creates a callback button.
func CallbackButton(text, callbackData string) InlineButton {
	return InlineButton{Text: text, CallbackData: callbackData}
}

// URLButton creates a URL button.
func URLButton(text, url string) InlineButton {
	return InlineButton{Text: text, URL: url}
}

// WebAppButton opens the mini app.
func WebAppButton(text, url string) InlineButton {
	return InlineButton{Text: text, WebAppURL: url}
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK DATA
// ══════════════════════════════════════════════════════════════════════════════

// Notification buttons sent by the worker use the same values.
const (
	CallbackMyStats        = telegram.CallbackMyStats
	CallbackQuests         = telegram.CallbackQuests
	CallbackHelp           = "help"
	CallbackCompletePrefix = telegram.CallbackCompletePrefix
)

// CompleteCallback returns the callback data that completes questID.
func CompleteCallback(questID int64) string {
	return fmt.Sprintf("%s%d", CallbackCompletePrefix, questID)
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYBOARD BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// KeyboardBuilder builds inline keyboards for the bot handlers.
type KeyboardBuilder struct {
	miniAppURL string
}

// NewKeyboardBuilder creates a KeyboardBuilder. An empty miniAppURL hides
// the "open app" buttons.
func NewKeyboardBuilder(miniAppURL string) *KeyboardBuilder {
	return &KeyboardBuilder{miniAppURL: miniAppURL}
}

func (b *KeyboardBuilder) appRow(text string) []InlineButton {
	if b.miniAppURL == "" {
		return nil
	}
	return []InlineButton{WebAppButton(text, b.miniAppURL)}
}

// WelcomeKeyboard is shown to a user who just created a character.
func (b *KeyboardBuilder) WelcomeKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(b.appRow("⚔ Start leveling up")...).
		AddRow(CallbackButton("📋 Today's quests", CallbackQuests))
}

// MainMenuKeyboard is shown to returning users.
func (b *KeyboardBuilder) MainMenuKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(b.appRow("⚔ Open ASCEND")...).
		AddRow(
			CallbackButton("📊 My stats", CallbackMyStats),
			CallbackButton("📋 Quests", CallbackQuests),
		).
		AddRow(CallbackButton("❓ Help", CallbackHelp))
}

// StatsKeyboard is attached to the stats card.
func (b *KeyboardBuilder) StatsKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("🔄 Refresh", CallbackMyStats),
			CallbackButton("📋 Quests", CallbackQuests),
		).
		AddRow(b.appRow("⚔ Open ASCEND")...)
}

// QuestBoardKeyboard has one button per open quest when withButtons is set.
func (b *KeyboardBuilder) QuestBoardKeyboard(board *query.TodayQuestsDTO, withButtons bool) *InlineKeyboard {
	kb := NewInlineKeyboard()
	if withButtons {
		for _, q := range board.Quests {
			if q.Done {
				continue
			}
			kb.AddRow(CallbackButton(fmt.Sprintf("%s %s", StatIcon(q.Stat), q.Text), CompleteCallback(q.ID)))
		}
	}
	kb.AddRow(CallbackButton("📊 My stats", CallbackMyStats))
	kb.AddRow(b.appRow("⚔ Open ASCEND")...)
	return kb
}

// HelpKeyboard is attached to /help.
func (b *KeyboardBuilder) HelpKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("📋 Quests", CallbackQuests),
			CallbackButton("📊 My stats", CallbackMyStats),
		).
		AddRow(b.appRow("⚔ Open ASCEND")...)
}
