package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ascend-app/ascend/internal/domain/progression"
)

func TestInlineButton_IsValid(t *testing.T) {
	assert.True(t, NewCallbackButton("Done", "complete:1").IsValid())
	assert.True(t, NewWebAppButton("Open", "https://example.com").IsValid())
	assert.False(t, InlineButton{Text: "nothing"}.IsValid())
	assert.False(t, InlineButton{Text: "two", URL: "a", CallbackData: "b"}.IsValid())
}

func TestTemplates(t *testing.T) {
	assert.Contains(t, RankUpText(progression.StageMaster), "Master")
	assert.Contains(t, StreakReminderText(12), "12 days")
	assert.True(t, KindRankUp.IsValid())
	assert.False(t, Kind("digest").IsValid())
}
