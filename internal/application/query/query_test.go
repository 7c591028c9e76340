package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/memory"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

var now = time.Date(2026, time.October, 15, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*memory.Store, *timeutil.Calendar) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.UpsertQuests(ctx, []progression.QuestDefinition{
		{ID: 3, Stat: progression.StatDiscipline, Text: "No phone before 10:00", XP: 150, Active: true},
		{ID: 1, Stat: progression.StatPhysical, Text: "Morning workout", XP: 120, Active: true},
		{ID: 2, Stat: progression.StatMental, Text: "Retired", XP: 80, Active: false},
	}))
	u, err := progression.NewUser(7, "hero", "Hero", now)
	require.NoError(t, err)
	_, _, err = store.GetOrCreate(ctx, u)
	require.NoError(t, err)

	today := timeutil.DateOf(now)
	require.NoError(t, store.InTx(ctx, 7, func(ctx context.Context, tx progression.Tx) error {
		_, err := tx.InsertCompletionIfAbsent(ctx, progression.Completion{ID: "x", UserID: 7, QuestID: 3, CreditDate: today})
		if err != nil {
			return err
		}
		stats := progression.DefaultStatVector()
		return tx.UpdateProgress(ctx, 7, progression.ProgressUpdate{Stats: stats, Stage: progression.StageFor(stats), Streak: 2, LastActive: today})
	}))

	return store, timeutil.NewCalendarIn(time.UTC).WithClock(func() time.Time { return now })
}

type fakeDoneCache struct {
	entries  map[string][]int64
	versions map[string]int64
	readErr  error
	reads    int
}

func (c *fakeDoneCache) key(userID int64, date timeutil.Date) string {
	return fmt.Sprintf("%s:%d", date, userID)
}

func (c *fakeDoneCache) DoneQuestIDs(_ context.Context, userID int64, date timeutil.Date) ([]int64, bool, error) {
	c.reads++
	if c.readErr != nil {
		return nil, false, c.readErr
	}
	ids, ok := c.entries[c.key(userID, date)]
	return ids, ok, nil
}

func (c *fakeDoneCache) DoneVersion(_ context.Context, userID int64, date timeutil.Date) (int64, error) {
	return c.versions[c.key(userID, date)], nil
}

func (c *fakeDoneCache) SetDoneQuestIDs(_ context.Context, userID int64, date timeutil.Date, ids []int64, version int64) (bool, error) {
	k := c.key(userID, date)
	if c.versions[k] != version {
		return false, nil
	}
	if c.entries == nil {
		c.entries = map[string][]int64{}
	}
	c.entries[k] = ids
	return true, nil
}

func (c *fakeDoneCache) InvalidateDone(_ context.Context, userID int64, date timeutil.Date) error {
	k := c.key(userID, date)
	if c.versions == nil {
		c.versions = map[string]int64{}
	}
	c.versions[k]++
	delete(c.entries, k)
	return nil
}

// racingUsers runs between the store read and the cache fill.
type racingUsers struct {
	progression.UserRepository
	afterRead func()
}

func (u racingUsers) CompletedQuestIDs(ctx context.Context, userID int64, date timeutil.Date) ([]int64, error) {
	ids, err := u.UserRepository.CompletedQuestIDs(ctx, userID, date)
	if u.afterRead != nil {
		u.afterRead()
	}
	return ids, err
}

func TestGetTodayQuests_ActiveOrderedWithDoneFlag(t *testing.T) {
	store, cal := setup(t)
	h := NewGetTodayQuestsHandler(store, store, cal, nil, nil)

	dto, err := h.Handle(context.Background(), GetTodayQuestsQuery{UserID: 7})
	require.NoError(t, err)

	assert.Equal(t, "2026-10-15", dto.Date)
	require.Len(t, dto.Quests, 2)
	assert.Equal(t, int64(1), dto.Quests[0].ID)
	assert.False(t, dto.Quests[0].Done)
	assert.Equal(t, int64(3), dto.Quests[1].ID)
	assert.True(t, dto.Quests[1].Done)
	assert.Equal(t, 1, dto.DoneCount)
}

func TestGetTodayQuests_UsesCacheAndSurvivesCacheErrors(t *testing.T) {
	store, cal := setup(t)
	cache := &fakeDoneCache{}
	h := NewGetTodayQuestsHandler(store, store, cal, cache, nil)
	ctx := context.Background()

	_, err := h.Handle(ctx, GetTodayQuestsQuery{UserID: 7})
	require.NoError(t, err)
	assert.Len(t, cache.entries, 1, "miss fills the cache")

	// A stale cache entry wins until it is invalidated.
	cache.entries[cache.key(7, timeutil.DateOf(now))] = []int64{1}
	dto, err := h.Handle(ctx, GetTodayQuestsQuery{UserID: 7})
	require.NoError(t, err)
	assert.True(t, dto.Quests[0].Done)

	cache.readErr = errors.New("redis down")
	dto, err = h.Handle(ctx, GetTodayQuestsQuery{UserID: 7})
	require.NoError(t, err)
	assert.True(t, dto.Quests[1].Done)
}

func TestGetTodayQuests_StaleFillAfterInvalidationIsDiscarded(t *testing.T) {
	store, cal := setup(t)
	cache := &fakeDoneCache{}
	ctx := context.Background()
	today := timeutil.DateOf(now)

	once := true
	users := racingUsers{UserRepository: store, afterRead: func() {
		if !once {
			return
		}
		once = false
		// Quest 1 is credited and the cache invalidated after the board read the store.
		require.NoError(t, store.InTx(ctx, 7, func(ctx context.Context, tx progression.Tx) error {
			_, err := tx.InsertCompletionIfAbsent(ctx, progression.Completion{ID: "y", UserID: 7, QuestID: 1, CreditDate: today})
			return err
		}))
		require.NoError(t, cache.InvalidateDone(ctx, 7, today))
	}}
	h := NewGetTodayQuestsHandler(store, users, cal, cache, nil)

	dto, err := h.Handle(ctx, GetTodayQuestsQuery{UserID: 7})
	require.NoError(t, err)
	assert.False(t, dto.Quests[0].Done, "this read started before the completion")
	assert.Empty(t, cache.entries)

	dto, err = h.Handle(ctx, GetTodayQuestsQuery{UserID: 7})
	require.NoError(t, err)
	assert.True(t, dto.Quests[0].Done)
	assert.Equal(t, 2, dto.DoneCount)
	assert.ElementsMatch(t, []int64{1, 3}, cache.entries[cache.key(7, today)])
}

func TestGetTodayQuests_InvalidUser(t *testing.T) {
	store, cal := setup(t)
	h := NewGetTodayQuestsHandler(store, store, cal, nil, nil)
	_, err := h.Handle(context.Background(), GetTodayQuestsQuery{UserID: 0})
	assert.Error(t, err)
}

func TestGetProfile(t *testing.T) {
	store, cal := setup(t)
	h := NewGetProfileHandler(store, cal)

	dto, err := h.Handle(context.Background(), GetProfileQuery{UserID: 7})
	require.NoError(t, err)

	assert.Equal(t, "Hero", dto.DisplayName)
	assert.Equal(t, "Novice", dto.Stage)
	assert.InDelta(t, 1.8, dto.Total, 1e-9)
	assert.Equal(t, 3, dto.Progress)
	assert.Equal(t, "Apprentice", dto.NextStage)
	assert.InDelta(t, 18.0, dto.NextStageAt, 1e-9)
	assert.Equal(t, 2, dto.Streak)
	assert.True(t, dto.CompletedToday)
	assert.False(t, dto.StreakAtRisk)
	assert.Equal(t, "2026-10-15", dto.LastActive)

	_, err = h.Handle(context.Background(), GetProfileQuery{UserID: 8})
	assert.ErrorIs(t, err, progression.ErrUserNotFound)
}
