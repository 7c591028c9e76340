package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/memory"
)

func TestDefault_SeedCatalog(t *testing.T) {
	quests, err := Default()
	require.NoError(t, err)
	require.Len(t, quests, 12)

	perStat := make(map[progression.StatKey]int)
	for i, q := range quests {
		assert.Equal(t, int64(i+1), q.ID)
		assert.True(t, q.Active)
		perStat[q.Stat]++
	}
	assert.Equal(t, 3, perStat[progression.StatMental])
	assert.Equal(t, 1, perStat[progression.StatAppearance])
	assert.Equal(t, "Read 20 pages", quests[1].Text)
	assert.Equal(t, 150, quests[2].XP)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantLen int
		wantErr string
	}{
		{
			name: "inactive flag and ordering",
			doc: `quests:
  - {id: 5, stat: social, text: "Call a friend", xp: 40, active: false}
  - {id: 2, stat: physical, text: "Stretch", xp: 20}`,
			wantLen: 2,
		},
		{name: "empty document", doc: "", wantLen: 0},
		{
			name:    "unknown stat",
			doc:     "quests:\n  - {id: 1, stat: luck, text: x, xp: 1}",
			wantErr: "quest #1",
		},
		{
			name:    "non-positive xp",
			doc:     "quests:\n  - {id: 1, stat: mental, text: x, xp: 0}",
			wantErr: "quest #1",
		},
		{
			name:    "duplicate id",
			doc:     "quests:\n  - {id: 1, stat: mental, text: a, xp: 1}\n  - {id: 1, stat: mental, text: b, xp: 1}",
			wantErr: "duplicate quest id",
		},
		{
			name:    "unknown field",
			doc:     "quests:\n  - {id: 1, stat: mental, text: a, xp: 1, reward: 3}",
			wantErr: "decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quests, err := Load(strings.NewReader(tt.doc))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, quests, tt.wantLen)
		})
	}

	quests, err := Load(strings.NewReader(tests[0].doc))
	require.NoError(t, err)
	assert.Equal(t, int64(2), quests[0].ID)
	assert.True(t, quests[0].Active)
	assert.False(t, quests[1].Active)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quests.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quests:\n  - {id: 9, stat: financial, text: Budget, xp: 30}\n"), 0o600))

	quests, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, quests, 1)
	assert.Equal(t, progression.StatFinancial, quests[0].Stat)

	quests, err = LoadFile("")
	require.NoError(t, err)
	assert.Len(t, quests, 12)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSync_UpsertsIntoStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	quests, err := Default()
	require.NoError(t, err)

	require.NoError(t, Sync(ctx, store, quests, nil))
	require.NoError(t, Sync(ctx, store, quests, nil))

	listed, err := store.List(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, quests, listed)
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic([]progression.QuestDefinition{
		{ID: 3, Stat: progression.StatMental, Text: "c", XP: 1, Active: false},
		{ID: 1, Stat: progression.StatPhysical, Text: "a", XP: 1, Active: true},
	})

	all, err := s.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)

	active, err := s.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	q, err := s.Get(ctx, 3)
	require.NoError(t, err)
	assert.False(t, q.Active)

	_, err = s.Get(ctx, 2)
	assert.ErrorIs(t, err, progression.ErrQuestNotFound)
}
