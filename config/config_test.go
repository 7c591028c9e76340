package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/domain/progression"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc"})
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, TelegramPolling, cfg.Telegram.Mode)
	assert.Equal(t, AuthDev, cfg.HTTP.AuthMode)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, progression.DefaultIncrement, cfg.Progression.Increment())
	assert.Equal(t, 15*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, ":9091", cfg.Scheduler.MetricsAddr)
	assert.True(t, cfg.Features.IsEnabled(FeatureNotifyRankUp))
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APP_TIMEZONE":               "Asia/Almaty",
		"STORE_DRIVER":               "postgres",
		"DATABASE_URL":               "postgres://u:p@db:5432/ascend",
		"TELEGRAM_MODE":              "webhook",
		"TELEGRAM_BOT_TOKEN":         "123:abc",
		"TELEGRAM_WEBHOOK_URL":       "https://ascend.example/api/webhook",
		"TELEGRAM_ADMIN_IDS":         "1,2",
		"AUTH_MODE":                  "trusted_header",
		"PROGRESSION_STAT_INCREMENT": "0.5",
		"FEATURES":                   "notify.streak_reminder=off,bot.quest_buttons=25",
	})
	require.NoError(t, err)

	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.Equal(t, progression.Score(50), cfg.Progression.Increment())
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.AdminIDs)
	assert.False(t, cfg.Features.IsEnabled(FeatureNotifyStreakReminder))
	assert.True(t, cfg.Features.IsEnabled(FeatureBotQuestButtons))
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"missing token", map[string]string{}, "TELEGRAM_BOT_TOKEN"},
		{"bad driver", map[string]string{"TELEGRAM_MODE": "disabled", "STORE_DRIVER": "mongo"}, "STORE_DRIVER"},
		{"postgres without url", map[string]string{"TELEGRAM_MODE": "disabled", "STORE_DRIVER": "postgres"}, "DATABASE_URL"},
		{"plain http webhook", map[string]string{"TELEGRAM_MODE": "webhook", "TELEGRAM_BOT_TOKEN": "t", "TELEGRAM_WEBHOOK_URL": "http://x"}, "https"},
		{"dev auth in production", map[string]string{"TELEGRAM_MODE": "disabled", "APP_ENV": "production"}, "AUTH_MODE=dev"},
		{"unknown zone", map[string]string{"TELEGRAM_MODE": "disabled", "APP_TIMEZONE": "Mars/Olympus"}, "APP_TIMEZONE"},
		{"zero increment", map[string]string{"TELEGRAM_MODE": "disabled", "PROGRESSION_STAT_INCREMENT": "0"}, "PROGRESSION_STAT_INCREMENT"},
		{"bad cron", map[string]string{"TELEGRAM_MODE": "disabled", "SCHEDULER_REMINDER_SPEC": "every evening"}, "SCHEDULER_REMINDER_SPEC"},
		{"unknown feature", map[string]string{"TELEGRAM_MODE": "disabled", "FEATURES": "leaderboard=on"}, "unknown feature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFeatureFlags_Rollout(t *testing.T) {
	ff := DefaultFeatureFlags()
	require.NoError(t, ff.Apply("bot.quest_buttons=30"))

	admitted := 0
	for id := int64(1); id <= 1000; id++ {
		if ff.IsEnabledFor(FeatureBotQuestButtons, id) {
			admitted++
		}
		assert.Equal(t, ff.IsEnabledFor(FeatureBotQuestButtons, id), ff.IsEnabledFor(FeatureBotQuestButtons, id))
	}
	assert.InDelta(t, 300, admitted, 80)

	require.NoError(t, ff.Apply("bot.quest_buttons=off"))
	assert.False(t, ff.IsEnabledFor(FeatureBotQuestButtons, 1))

	var nilFlags *FeatureFlags
	assert.True(t, nilFlags.IsEnabled(FeatureNotifyRankUp))
}
