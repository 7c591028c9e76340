// Package memory implements the progression store in process memory.
// It honours the same transactional contract as the SQL adapters: per-user
// exclusive transactions, all-or-nothing commit, and a uniqueness check on
// (user, quest, credit date). State is lost on restart.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/userlock"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

type completionKey struct {
	userID  int64
	questID int64
	date    timeutil.Date
}

// Store is an in-memory progression store.
type Store struct {
	mu          sync.RWMutex
	users       map[int64]progression.User
	completions map[completionKey]progression.Completion
	quests      map[int64]progression.QuestDefinition
	locks       *userlock.Locks
	now         func() time.Time
}

var (
	_ progression.Store           = (*Store)(nil)
	_ progression.UserRepository  = (*Store)(nil)
	_ progression.QuestRepository = (*Store)(nil)
	_ progression.Pinger          = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[int64]progression.User),
		completions: make(map[completionKey]progression.Completion),
		quests:      make(map[int64]progression.QuestDefinition),
		locks:       userlock.New(),
		now:         time.Now,
	}
}

func cloneUser(u progression.User) *progression.User {
	u.FocusAreas = slices.Clone(u.FocusAreas)
	return &u
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

type tx struct {
	store       *Store
	userID      int64
	completions []progression.Completion
	update      *progression.ProgressUpdate
}

// InTx implements progression.Store.
func (s *Store) InTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx progression.Tx) error) error {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return progression.Unavailable("InTx", err)
	}
	defer unlock()

	t := &tx{store: s, userID: userID}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return progression.Unavailable("Commit", err)
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range t.completions {
		if _, exists := s.completions[completionKey{c.UserID, c.QuestID, c.CreditDate}]; exists {
			return fmt.Errorf("memory: duplicate completion user=%d quest=%d date=%s", c.UserID, c.QuestID, c.CreditDate)
		}
	}
	if t.update != nil {
		u, ok := s.users[t.userID]
		if !ok {
			return progression.ErrUserNotFound
		}
		t.update.Apply(&u)
		u.UpdatedAt = s.now().UTC()
		s.users[t.userID] = u
	}
	for _, c := range t.completions {
		s.completions[completionKey{c.UserID, c.QuestID, c.CreditDate}] = c
	}
	return nil
}

func (t *tx) checkUser(userID int64) error {
	if userID != t.userID {
		return fmt.Errorf("memory: transaction for user %d cannot touch user %d", t.userID, userID)
	}
	return nil
}

// GetUserForUpdate implements progression.Tx.
func (t *tx) GetUserForUpdate(ctx context.Context, userID int64) (*progression.User, error) {
	if err := t.checkUser(userID); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	u, ok := t.store.users[userID]
	if !ok {
		return nil, progression.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// InsertCompletionIfAbsent implements progression.Tx.
func (t *tx) InsertCompletionIfAbsent(ctx context.Context, c progression.Completion) (bool, error) {
	if err := t.checkUser(c.UserID); err != nil {
		return false, err
	}
	key := completionKey{c.UserID, c.QuestID, c.CreditDate}
	for _, p := range t.completions {
		if (completionKey{p.UserID, p.QuestID, p.CreditDate}) == key {
			return false, nil
		}
	}

	t.store.mu.RLock()
	_, exists := t.store.completions[key]
	t.store.mu.RUnlock()
	if exists {
		return false, nil
	}

	t.completions = append(t.completions, c)
	return true, nil
}

// UpdateProgress implements progression.Tx.
func (t *tx) UpdateProgress(ctx context.Context, userID int64, update progression.ProgressUpdate) error {
	if err := t.checkUser(userID); err != nil {
		return err
	}
	t.update = &update
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

// GetOrCreate implements progression.UserRepository.
func (s *Store) GetOrCreate(ctx context.Context, u *progression.User) (*progression.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[u.ID]; ok {
		return cloneUser(existing), false, nil
	}
	s.users[u.ID] = *cloneUser(*u)
	return cloneUser(*u), true, nil
}

// GetByID implements progression.UserRepository.
func (s *Store) GetByID(ctx context.Context, id int64) (*progression.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, progression.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// UpdateProfile implements progression.UserRepository.
func (s *Store) UpdateProfile(ctx context.Context, id int64, update progression.ProfileUpdate) (*progression.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, progression.ErrUserNotFound
	}
	if update.DisplayName != nil {
		u.DisplayName = *update.DisplayName
	}
	if update.FocusAreas != nil {
		u.FocusAreas = slices.Clone(update.FocusAreas)
	}
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return cloneUser(u), nil
}

// CompletedQuestIDs implements progression.UserRepository.
func (s *Store) CompletedQuestIDs(ctx context.Context, userID int64, date timeutil.Date) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []int64{}
	for k := range s.completions {
		if k.userID == userID && k.date == date {
			ids = append(ids, k.questID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ListByLastActive implements progression.UserRepository.
func (s *Store) ListByLastActive(ctx context.Context, date timeutil.Date) ([]*progression.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*progression.User
	for _, u := range s.users {
		if u.LastActive == date {
			out = append(out, cloneUser(u))
		}
	}
	slices.SortFunc(out, func(a, b *progression.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// CompletionCount returns the number of stored completions for a user.
func (s *Store) CompletionCount(userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for k := range s.completions {
		if k.userID == userID {
			n++
		}
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTS
// ══════════════════════════════════════════════════════════════════════════════

// Get implements progression.QuestCatalog.
func (s *Store) Get(ctx context.Context, id int64) (*progression.QuestDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quests[id]
	if !ok {
		return nil, progression.ErrQuestNotFound
	}
	return &q, nil
}

// List implements progression.QuestCatalog.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]progression.QuestDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]progression.QuestDefinition, 0, len(s.quests))
	for _, q := range s.quests {
		if activeOnly && !q.Active {
			continue
		}
		out = append(out, q)
	}
	slices.SortFunc(out, func(a, b progression.QuestDefinition) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// UpsertQuests implements progression.QuestRepository.
func (s *Store) UpsertQuests(ctx context.Context, quests []progression.QuestDefinition) error {
	for _, q := range quests {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range quests {
		s.quests[q.ID] = q
	}
	return nil
}

// Ping implements progression.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}
