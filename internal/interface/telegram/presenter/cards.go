package presenter

import (
	"fmt"
	"strings"

	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/domain/progression"
)

var statLabels = map[string]string{
	string(progression.StatAppearance): "Appearance",
	string(progression.StatDiscipline): "Discipline",
	string(progression.StatSocial):     "Social",
	string(progression.StatMental):     "Mental",
	string(progression.StatPhysical):   "Physical",
	string(progression.StatFinancial):  "Financial",
}

var statIcons = map[string]string{
	string(progression.StatAppearance): "✦",
	string(progression.StatDiscipline): "⚔",
	string(progression.StatSocial):     "◈",
	string(progression.StatMental):     "◉",
	string(progression.StatPhysical):   "◆",
	string(progression.StatFinancial):  "◎",
}

// StatLabel returns the display name of a stat key.
func StatLabel(key string) string {
	if l, ok := statLabels[key]; ok {
		return l
	}
	return key
}

// StatIcon returns the glyph of a stat key.
func StatIcon(key string) string {
	if i, ok := statIcons[key]; ok {
		return i
	}
	return "•"
}

// ProgressBar renders pct (0..100) as ten cells.
func ProgressBar(pct int) string {
	pct = max(0, min(100, pct))
	filled := (pct + 5) / 10
	return strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

// ══════════════════════════════════════════════════════════════════════════════
// CARDS
// ══════════════════════════════════════════════════════════════════════════════

// WelcomeText greets a user who just created a character.
func WelcomeText(name string) string {
	lines := []string{
		"⬡ Welcome to ASCEND ⬡",
		"",
		fmt.Sprintf("Hi, %s! 👋", name),
		"",
		"Real actions become your character's growth.",
		"Every quest raises one of six stats:",
		"",
	}
	for _, k := range progression.AllStats {
		lines = append(lines, fmt.Sprintf("%s %s", StatIcon(string(k)), StatLabel(string(k))))
	}
	lines = append(lines,
		"",
		"Complete quests, climb the ranks, keep your streak alive. 🔥",
	)
	return strings.Join(lines, "\n")
}

// WelcomeBackText greets a returning user.
func WelcomeBackText(p *query.ProfileDTO) string {
	return strings.Join([]string{
		fmt.Sprintf("⚔ Welcome back, %s!", p.DisplayName),
		"",
		fmt.Sprintf("Rank: %s", p.Stage),
		fmt.Sprintf("Total: %.1f / 60", p.Total),
		fmt.Sprintf("🔥 Streak: %s", days(p.Streak)),
		"",
		"Your quests are waiting.",
	}, "\n")
}

// StatsCard renders the /stats card.
func StatsCard(p *query.ProfileDTO) string {
	lines := []string{
		fmt.Sprintf("📊 Stats: %s", p.DisplayName),
		"",
		fmt.Sprintf("Rank: %s", p.Stage),
		fmt.Sprintf("Progress: %s %d%%", ProgressBar(p.Progress), p.Progress),
	}
	if p.NextStage != "" {
		lines = append(lines, fmt.Sprintf("Next: %s at %.1f", p.NextStage, p.NextStageAt))
	}
	lines = append(lines, fmt.Sprintf("🔥 Streak: %s", days(p.Streak)))
	if p.StreakAtRisk {
		lines = append(lines, "⚠️ Complete a quest today to keep your streak.")
	}

	lines = append(lines, "", "Skills:")
	for _, k := range progression.AllStats {
		lines = append(lines, fmt.Sprintf("%s %s: %s / 10",
			StatIcon(string(k)), StatLabel(string(k)), p.Stats.Get(k)))
	}
	lines = append(lines, "", fmt.Sprintf("Total: %.1f / 60", p.Total))
	return strings.Join(lines, "\n")
}

// QuestBoardText renders today's quest list.
func QuestBoardText(board *query.TodayQuestsDTO) string {
	if len(board.Quests) == 0 {
		return "📋 No quests today."
	}

	lines := []string{
		fmt.Sprintf("📋 Quests for %s (%d/%d done)", board.Date, board.DoneCount, len(board.Quests)),
		"",
	}
	for _, q := range board.Quests {
		mark := "▫️"
		if q.Done {
			mark = "✅"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s (+%d XP)", mark, StatIcon(q.Stat), q.Text, q.XP))
	}
	return strings.Join(lines, "\n")
}

// CompletionToast is the short callback answer after a completion.
func CompletionToast(res *command.CompletionResult) string {
	if !res.Credited() {
		return "Already done today ✅"
	}
	toast := fmt.Sprintf("+%s %s %s → %s", res.Increment, StatIcon(string(res.Stat)),
		StatLabel(string(res.Stat)), res.Stats.Get(res.Stat))
	if res.LeveledUp {
		toast += fmt.Sprintf(" · 🏆 %s!", res.NewStage)
	}
	return toast
}

// HelpText lists the bot commands.
func HelpText() string {
	return strings.Join([]string{
		"❓ ASCEND help",
		"",
		"/start - create your character or open the menu",
		"/quests - today's quests",
		"/stats - your stats and rank",
		"/help - this message",
		"",
		"Each quest can be completed once per day. Completing at least one",
		"quest a day grows your streak; missing a day resets it.",
	}, "\n")
}
