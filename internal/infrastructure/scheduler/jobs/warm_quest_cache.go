package jobs

import (
	"context"
	"fmt"

	"github.com/ascend-app/ascend/pkg/logger"
)

// QuestBoardWarmer refreshes the cached quest board.
type QuestBoardWarmer interface {
	Warm(ctx context.Context) (int, error)
}

// WarmQuestCacheJob keeps the cached quest board fresh so the first
// request after expiry does not hit the store.
type WarmQuestCacheJob struct {
	warmer QuestBoardWarmer
	log    *logger.Logger
}

// NewWarmQuestCacheJob creates a new cache warming job.
func NewWarmQuestCacheJob(warmer QuestBoardWarmer, log *logger.Logger) *WarmQuestCacheJob {
	if log == nil {
		log = logger.Nop()
	}
	return &WarmQuestCacheJob{warmer: warmer, log: log.With(logger.Component("warm_quest_cache"))}
}

// Name returns the job name.
func (j *WarmQuestCacheJob) Name() string {
	return "warm_quest_cache"
}

// Description returns a human-readable description.
func (j *WarmQuestCacheJob) Description() string {
	return "Refreshes the cached quest board"
}

// Run executes the job.
func (j *WarmQuestCacheJob) Run(ctx context.Context) error {
	n, err := j.warmer.Warm(ctx)
	if err != nil {
		return fmt.Errorf("warm quest board: %w", err)
	}
	j.log.Debug("quest board warmed", logger.Int("active_quests", n))
	return nil
}
