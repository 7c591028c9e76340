package presenter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/domain/progression"
)

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "░░░░░░░░░░", ProgressBar(0))
	assert.Equal(t, "█████░░░░░", ProgressBar(47))
	assert.Equal(t, "██████████", ProgressBar(100))
	assert.Equal(t, "██████████", ProgressBar(140))
	assert.Equal(t, "░░░░░░░░░░", ProgressBar(-3))
}

func TestStatLabels(t *testing.T) {
	for _, k := range progression.AllStats {
		assert.NotEqual(t, string(k), StatLabel(string(k)))
		assert.NotEqual(t, "•", StatIcon(string(k)))
	}
	assert.Equal(t, "charisma", StatLabel("charisma"))
	assert.Equal(t, "•", StatIcon("charisma"))
}

func TestStatsCard(t *testing.T) {
	p := &query.ProfileDTO{
		DisplayName:  "Ada",
		Stats:        progression.DefaultStatVector().With(progression.StatMental, progression.ScoreFromFloat(2.4)),
		Stage:        "Novice",
		Total:        3.9,
		Progress:     6,
		NextStage:    "Apprentice",
		NextStageAt:  12,
		Streak:       1,
		StreakAtRisk: true,
	}

	card := StatsCard(p)
	assert.Contains(t, card, "Rank: Novice")
	assert.Contains(t, card, "Next: Apprentice at 12.0")
	assert.Contains(t, card, "Streak: 1 day")
	assert.Contains(t, card, "keep your streak")
	assert.Contains(t, card, "◉ Mental: 2.4 / 10")
	assert.Contains(t, card, "Total: 3.9 / 60")

	p.NextStage, p.StreakAtRisk, p.Streak = "", false, 3
	card = StatsCard(p)
	assert.NotContains(t, card, "Next:")
	assert.Contains(t, card, "Streak: 3 days")
}

func TestQuestBoard(t *testing.T) {
	board := &query.TodayQuestsDTO{
		Date: "2026-10-15",
		Quests: []query.QuestDTO{
			{ID: 1, Stat: "physical", Text: "Morning workout", XP: 120, Done: true},
			{ID: 2, Stat: "mental", Text: "Read 20 pages", XP: 80},
		},
		DoneCount: 1,
	}

	text := QuestBoardText(board)
	assert.Contains(t, text, "Quests for 2026-10-15 (1/2 done)")
	assert.Contains(t, text, "✅ ◆ Morning workout (+120 XP)")
	assert.Contains(t, text, "▫️ ◉ Read 20 pages (+80 XP)")
	assert.Equal(t, "📋 No quests today.", QuestBoardText(&query.TodayQuestsDTO{}))

	kb := NewKeyboardBuilder("").QuestBoardKeyboard(board, true)
	require.Len(t, kb.Rows, 2)
	assert.Equal(t, "complete:2", kb.Rows[0][0].CallbackData)
	assert.Equal(t, CallbackMyStats, kb.Rows[1][0].CallbackData)

	kb = NewKeyboardBuilder("https://app.example").QuestBoardKeyboard(board, false)
	require.Len(t, kb.Rows, 2)
	assert.Equal(t, CallbackMyStats, kb.Rows[0][0].CallbackData)
	assert.Equal(t, "https://app.example", kb.Rows[1][0].WebAppURL)
}

func TestCompletionToast(t *testing.T) {
	stats := progression.DefaultStatVector().With(progression.StatPhysical, progression.ScoreFromFloat(0.6))
	res := &command.CompletionResult{
		Outcome:   command.OutcomeCredited,
		Stat:      progression.StatPhysical,
		Increment: progression.ScoreFromFloat(0.3),
		Stats:     stats,
	}
	assert.Equal(t, "+0.3 ◆ Physical → 0.6", CompletionToast(res))

	res.LeveledUp = true
	res.NewStage = progression.StageApprentice
	assert.Equal(t, "+0.3 ◆ Physical → 0.6 · 🏆 Apprentice!", CompletionToast(res))

	res.Outcome = command.OutcomeAlreadyCompleted
	assert.Equal(t, "Already done today ✅", CompletionToast(res))
}

func TestKeyboardsHideAppWithoutURL(t *testing.T) {
	for _, kb := range []*InlineKeyboard{
		NewKeyboardBuilder("").WelcomeKeyboard(),
		NewKeyboardBuilder("").MainMenuKeyboard(),
		NewKeyboardBuilder("").StatsKeyboard(),
		NewKeyboardBuilder("").HelpKeyboard(),
	} {
		for _, row := range kb.Rows {
			for _, b := range row {
				assert.Empty(t, b.WebAppURL)
				assert.NotEmpty(t, b.CallbackData)
			}
		}
	}
}
