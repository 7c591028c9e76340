package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"connection exception class", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"closed pool", ErrConnectionClosed, true},
		{"plain error", errors.New("syntax"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassify_WrapsTransientAsUnavailable(t *testing.T) {
	err := classify("UpdateProgress", &pgconn.PgError{Code: "40001"})
	assert.True(t, progression.IsUnavailable(err))

	err = classify("UpdateProgress", &pgconn.PgError{Code: "23502"})
	assert.False(t, progression.IsUnavailable(err))
	assert.Error(t, err)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/ascend", migrateURL("postgres://u:p@db:5432/ascend"))
	assert.Equal(t, "pgx5://db/ascend", migrateURL("postgresql://db/ascend"))
	assert.Equal(t, "pgx5://db/ascend", migrateURL("pgx5://db/ascend"))
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRATION (TEST_DATABASE_URL)
// ══════════════════════════════════════════════════════════════════════════════

func openTestDB(t *testing.T, opts ...func(*Config)) (*Store, *QuestRepository) {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(url, "up"))

	cfg := DefaultConfig()
	cfg.URL = url
	for _, opt := range opts {
		opt(&cfg)
	}
	conn, err := NewConnection(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = conn.Pool().Exec(context.Background(), `TRUNCATE quest_completions, users, quest_templates`)
	require.NoError(t, err)

	return NewStore(conn), NewQuestRepository(conn)
}

func TestStore_CompletionUniquenessAndProgress(t *testing.T) {
	store, quests := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, quests.UpsertQuests(ctx, []progression.QuestDefinition{
		{ID: 1, Stat: progression.StatPhysical, Text: "Walk 8000+ steps", XP: 85, Active: true},
	}))

	u, err := progression.NewUser(42, "neo", "Neo", time.Now())
	require.NoError(t, err)
	_, created, err := store.GetOrCreate(ctx, u)
	require.NoError(t, err)
	require.True(t, created)

	today := timeutil.NewDate(2026, time.October, 15)
	insert := func() bool {
		var inserted bool
		err := store.InTx(ctx, 42, func(ctx context.Context, tx progression.Tx) error {
			if _, err := tx.GetUserForUpdate(ctx, 42); err != nil {
				return err
			}
			ok, err := tx.InsertCompletionIfAbsent(ctx, progression.Completion{
				ID: uuid.NewString(), UserID: 42, QuestID: 1, CreditDate: today, CompletedAt: time.Now(),
			})
			inserted = ok
			if err != nil || !ok {
				return err
			}
			stats := progression.ApplyReward(progression.DefaultStatVector(), progression.StatPhysical, progression.DefaultIncrement)
			return tx.UpdateProgress(ctx, 42, progression.ProgressUpdate{
				Stats: stats, Stage: progression.StageFor(stats), Streak: 1, LastActive: today,
			})
		})
		require.NoError(t, err)
		return inserted
	}

	assert.True(t, insert())
	assert.False(t, insert())

	got, err := store.GetByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, progression.ScoreFromFloat(0.6), got.Stats.Get(progression.StatPhysical))
	assert.Equal(t, 1, got.Streak)
	assert.Equal(t, today, got.LastActive)

	ids, err := store.CompletedQuestIDs(ctx, 42, today)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestStore_ConcurrentTransactionsSerializePerUser(t *testing.T) {
	store, _ := openTestDB(t)
	ctx := context.Background()

	u, err := progression.NewUser(7, "", "", time.Now())
	require.NoError(t, err)
	_, _, err = store.GetOrCreate(ctx, u)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InTx(ctx, 7, func(ctx context.Context, tx progression.Tx) error {
				cur, err := tx.GetUserForUpdate(ctx, 7)
				if err != nil {
					return err
				}
				return tx.UpdateProgress(ctx, 7, progression.ProgressUpdate{
					Stats: cur.Stats, Stage: cur.Stage, Streak: cur.Streak + 1, LastActive: cur.LastActive,
				})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, workers, got.Streak)
}

// smallPool opens the store with fewer connections than the tests run workers.
func smallPool(cfg *Config) {
	cfg.MaxConns = 2
	cfg.MinConns = 1
}

func newTestEngine(t *testing.T, store *Store, quests *QuestRepository, userIDs ...int64) *command.Engine {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, quests.UpsertQuests(ctx, []progression.QuestDefinition{
		{ID: 1, Stat: progression.StatPhysical, Text: "Walk 8000+ steps", XP: 85, Active: true},
		{ID: 2, Stat: progression.StatMental, Text: "Read 20 pages", XP: 80, Active: true},
	}))
	for _, id := range userIDs {
		u, err := progression.NewUser(id, "", "", time.Now())
		require.NoError(t, err)
		_, _, err = store.GetOrCreate(ctx, u)
		require.NoError(t, err)
	}
	calendar := timeutil.NewCalendarIn(time.UTC).WithClock(func() time.Time {
		return time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)
	})
	return command.NewEngine(store, quests, calendar, command.EngineConfig{MaxAttempts: 5})
}

func TestEngine_SameQuestFromManyWorkersCreditsOnce(t *testing.T) {
	store, quests := openTestDB(t, smallPool)
	engine := newTestEngine(t, store, quests, 42)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const workers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.CompleteQuest(ctx, 42, 1)
			if !assert.NoError(t, err) {
				return
			}
			if res.Credited() {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, credited)
	got, err := store.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, progression.ScoreFromFloat(0.6), got.Stats.Get(progression.StatPhysical))
	assert.Equal(t, 1, got.Streak)
}

func TestEngine_ManyUsersBeyondPoolSize(t *testing.T) {
	users := []int64{101, 102, 103, 104, 105, 106, 107, 108}
	store, quests := openTestDB(t, smallPool)
	engine := newTestEngine(t, store, quests, users...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range users {
		for _, quest := range []int64{1, 2} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := engine.CompleteQuest(ctx, id, quest)
				if assert.NoError(t, err) {
					assert.True(t, res.Credited())
				}
			}()
		}
	}
	wg.Wait()
	require.NoError(t, ctx.Err())

	for _, id := range users {
		got, err := store.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, progression.ScoreFromFloat(0.6), got.Stats.Get(progression.StatPhysical))
		assert.Equal(t, progression.ScoreFromFloat(0.6), got.Stats.Get(progression.StatMental))
	}
}

func TestStore_UpdateProfileKeepsUnsetFields(t *testing.T) {
	store, _ := openTestDB(t)
	ctx := context.Background()

	u, err := progression.NewUser(9, "", "Trinity", time.Now())
	require.NoError(t, err)
	_, _, err = store.GetOrCreate(ctx, u)
	require.NoError(t, err)

	got, err := store.UpdateProfile(ctx, 9, progression.ProfileUpdate{
		FocusAreas: []progression.StatKey{progression.StatMental},
	})
	require.NoError(t, err)
	assert.Equal(t, "Trinity", got.DisplayName)
	assert.Equal(t, []progression.StatKey{progression.StatMental}, got.FocusAreas)

	_, err = store.UpdateProfile(ctx, 10, progression.ProfileUpdate{})
	assert.ErrorIs(t, err, progression.ErrUserNotFound)
}
