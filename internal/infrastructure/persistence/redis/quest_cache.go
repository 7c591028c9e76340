package redis

import (
	"context"
	"errors"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/pkg/logger"
)

type cachedQuest struct {
	ID     int64  `json:"id"`
	Stat   string `json:"stat"`
	Text   string `json:"text"`
	XP     int    `json:"xp"`
	Active bool   `json:"active"`
}

// CachedCatalog serves the quest board from Redis and falls back to the
// wrapped catalog on a miss or a Redis failure.
type CachedCatalog struct {
	inner progression.QuestCatalog
	cache *Cache
	log   *logger.Logger
}

var _ progression.QuestCatalog = (*CachedCatalog)(nil)

// NewCachedCatalog creates a new CachedCatalog.
func NewCachedCatalog(inner progression.QuestCatalog, cache *Cache, log *logger.Logger) *CachedCatalog {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedCatalog{inner: inner, cache: cache, log: log.With(logger.Component("quest_cache"))}
}

func (c *CachedCatalog) key(activeOnly bool) string {
	if activeOnly {
		return c.cache.Key("quests", "active")
	}
	return c.cache.Key("quests", "all")
}

// Get implements progression.QuestCatalog. Lookups by id go to the wrapped
// catalog, so a quest is never missed because the board is stale.
func (c *CachedCatalog) Get(ctx context.Context, id int64) (*progression.QuestDefinition, error) {
	return c.inner.Get(ctx, id)
}

// List implements progression.QuestCatalog.
func (c *CachedCatalog) List(ctx context.Context, activeOnly bool) ([]progression.QuestDefinition, error) {
	var cached []cachedQuest
	err := c.cache.Get(ctx, c.key(activeOnly), &cached)
	switch {
	case err == nil:
		if quests, ok := fromCached(cached); ok {
			return quests, nil
		}
		c.log.Warn("dropping malformed quest board")
	case !errors.Is(err, ErrCacheMiss):
		c.log.Warn("quest board cache read failed", logger.Err(err))
	}

	return c.Refresh(ctx, activeOnly)
}

// Refresh loads the list from the wrapped catalog and rewrites the cache.
func (c *CachedCatalog) Refresh(ctx context.Context, activeOnly bool) ([]progression.QuestDefinition, error) {
	quests, err := c.inner.List(ctx, activeOnly)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, c.key(activeOnly), toCached(quests), TTLQuestBoard); err != nil {
		c.log.Warn("quest board cache write failed", logger.Err(err))
	}
	return quests, nil
}

// Warm refreshes both cached lists.
func (c *CachedCatalog) Warm(ctx context.Context) (int, error) {
	active, err := c.Refresh(ctx, true)
	if err != nil {
		return 0, err
	}
	if _, err := c.Refresh(ctx, false); err != nil {
		return 0, err
	}
	return len(active), nil
}

// Invalidate drops both cached lists.
func (c *CachedCatalog) Invalidate(ctx context.Context) error {
	return c.cache.Delete(ctx, c.key(true), c.key(false))
}

func toCached(quests []progression.QuestDefinition) []cachedQuest {
	out := make([]cachedQuest, len(quests))
	for i, q := range quests {
		out[i] = cachedQuest{ID: q.ID, Stat: string(q.Stat), Text: q.Text, XP: q.XP, Active: q.Active}
	}
	return out
}

func fromCached(cached []cachedQuest) ([]progression.QuestDefinition, bool) {
	out := make([]progression.QuestDefinition, 0, len(cached))
	for _, q := range cached {
		key, err := progression.ParseStatKey(q.Stat)
		if err != nil {
			return nil, false
		}
		out = append(out, progression.QuestDefinition{ID: q.ID, Stat: key, Text: q.Text, XP: q.XP, Active: q.Active})
	}
	return out, true
}
