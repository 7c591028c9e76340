package config

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// Predefined feature flag names.
const (
	FeatureNotifyRankUp         = "notify.rank_up"         // rank-up message after a stage increase
	FeatureNotifyStreakReminder = "notify.streak_reminder" // evening reminder for open streaks
	FeatureQuestBoardCache      = "cache.quest_board"      // Redis quest board in front of the store
	FeatureBotQuestButtons      = "bot.quest_buttons"      // complete quests from /quests buttons
)

// Feature is a single toggle with an optional gradual rollout.
type Feature struct {
	Name    string
	Enabled bool

	// RolloutPercent (0-100) admits users by a stable hash of their id.
	RolloutPercent int
}

// FeatureFlags holds feature toggles.
//
// The FEATURES variable overrides defaults as a comma separated list:
//
//	FEATURES="notify.streak_reminder=off,bot.quest_buttons=25"
//
// Values are on, off or a rollout percentage.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// DefaultFeatureFlags returns every feature enabled for everyone.
func DefaultFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	for _, name := range []string{
		FeatureNotifyRankUp,
		FeatureNotifyStreakReminder,
		FeatureQuestBoardCache,
		FeatureBotQuestButtons,
	} {
		ff.features[name] = &Feature{Name: name, Enabled: true, RolloutPercent: 100}
	}
	return ff
}

type featuresEnv struct {
	Spec string `env:"FEATURES"`
}

func parseFeatureFlags(opts env.Options) (*FeatureFlags, error) {
	var raw featuresEnv
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	ff := DefaultFeatureFlags()
	if err := ff.Apply(raw.Spec); err != nil {
		return nil, fmt.Errorf("FEATURES: %w", err)
	}
	return ff, nil
}

// Apply applies an override list. Unknown names are rejected.
func (ff *FeatureFlags) Apply(spec string) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			return fmt.Errorf("%q: expected name=value", item)
		}
		f, known := ff.features[strings.TrimSpace(name)]
		if !known {
			return fmt.Errorf("unknown feature %q", name)
		}

		switch value = strings.ToLower(strings.TrimSpace(value)); value {
		case "on", "true", "1":
			f.Enabled, f.RolloutPercent = true, 100
		case "off", "false", "0":
			f.Enabled, f.RolloutPercent = false, 0
		default:
			pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
			if err != nil || pct < 0 || pct > 100 {
				return fmt.Errorf("%s: invalid value %q", f.Name, value)
			}
			f.Enabled, f.RolloutPercent = pct > 0, pct
		}
	}
	return nil
}

// IsEnabled reports whether a feature is on globally.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	if ff == nil {
		return true
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[name]
	return ok && f.Enabled
}

// IsEnabledFor reports whether a feature is on for a user, honouring the rollout.
func (ff *FeatureFlags) IsEnabledFor(name string, userID int64) bool {
	if ff == nil {
		return true
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[name]
	if !ok || !f.Enabled {
		return false
	}
	if f.RolloutPercent >= 100 {
		return true
	}
	return bucket(name, userID) < f.RolloutPercent
}

// bucket maps (feature, user) to 0-99.
func bucket(name string, userID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32() % 100)
}
