// Package catalog loads quest definitions from YAML and keeps them in sync
// with the store.
package catalog

import (
	"bytes"
	"cmp"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/pkg/logger"
)

//go:embed quests.yaml
var defaultQuests []byte

// ErrDuplicateQuest is returned when a file defines the same id twice.
var ErrDuplicateQuest = errors.New("catalog: duplicate quest id")

type fileQuest struct {
	ID     int64  `yaml:"id"`
	Stat   string `yaml:"stat"`
	Text   string `yaml:"text"`
	XP     int    `yaml:"xp"`
	Active *bool  `yaml:"active"`
}

type file struct {
	Quests []fileQuest `yaml:"quests"`
}

// Load parses a catalog document. Quests are active unless marked otherwise
// and are returned ordered by id.
func Load(r io.Reader) ([]progression.QuestDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	seen := make(map[int64]struct{}, len(f.Quests))
	quests := make([]progression.QuestDefinition, 0, len(f.Quests))
	for i, fq := range f.Quests {
		stat, err := progression.ParseStatKey(fq.Stat)
		if err != nil {
			return nil, fmt.Errorf("catalog: quest #%d: %w", i+1, err)
		}
		q := progression.QuestDefinition{
			ID:     fq.ID,
			Stat:   stat,
			Text:   fq.Text,
			XP:     fq.XP,
			Active: fq.Active == nil || *fq.Active,
		}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: quest #%d: %w", i+1, err)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateQuest, q.ID)
		}
		seen[q.ID] = struct{}{}
		quests = append(quests, q)
	}

	slices.SortFunc(quests, func(a, b progression.QuestDefinition) int { return cmp.Compare(a.ID, b.ID) })
	return quests, nil
}

// LoadFile reads a catalog from path. An empty path yields the built-in seed.
func LoadFile(path string) ([]progression.QuestDefinition, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the built-in seed catalog.
func Default() ([]progression.QuestDefinition, error) {
	return Load(bytes.NewReader(defaultQuests))
}

// Sync upserts the definitions into the store. Quests missing from the file
// are left untouched.
func Sync(ctx context.Context, repo progression.QuestRepository, quests []progression.QuestDefinition, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	if len(quests) == 0 {
		log.Warn("quest catalog is empty, nothing to sync")
		return nil
	}
	if err := repo.UpsertQuests(ctx, quests); err != nil {
		return fmt.Errorf("catalog: sync: %w", err)
	}

	active := 0
	for _, q := range quests {
		if q.Active {
			active++
		}
	}
	log.Info("quest catalog synced",
		logger.Int("quests", len(quests)),
		logger.Int("active", active),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATIC CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Static is an immutable in-process snapshot of the catalog.
type Static struct {
	byID   map[int64]progression.QuestDefinition
	sorted []progression.QuestDefinition
}

var _ progression.QuestCatalog = (*Static)(nil)

// NewStatic builds a snapshot from already validated definitions.
func NewStatic(quests []progression.QuestDefinition) *Static {
	s := &Static{
		byID:   make(map[int64]progression.QuestDefinition, len(quests)),
		sorted: slices.Clone(quests),
	}
	slices.SortFunc(s.sorted, func(a, b progression.QuestDefinition) int { return cmp.Compare(a.ID, b.ID) })
	for _, q := range s.sorted {
		s.byID[q.ID] = q
	}
	return s
}

// Get implements progression.QuestCatalog.
func (s *Static) Get(_ context.Context, id int64) (*progression.QuestDefinition, error) {
	q, ok := s.byID[id]
	if !ok {
		return nil, progression.ErrQuestNotFound
	}
	return &q, nil
}

// List implements progression.QuestCatalog.
func (s *Static) List(_ context.Context, activeOnly bool) ([]progression.QuestDefinition, error) {
	out := make([]progression.QuestDefinition, 0, len(s.sorted))
	for _, q := range s.sorted {
		if activeOnly && !q.Active {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}
