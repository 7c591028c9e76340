// Package sqlite implements the progression store on an embedded SQLite
// database (modernc.org/sqlite, no cgo). It serves single-node deployments
// and tests that need real SQL semantics.
//
// SQLite has no row locks. A transaction for user U first takes U's
// in-process lock, then issues a write before any read so the database
// write lock is held from the start and the read cannot go stale.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/userlock"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store provides SQLite-backed progression persistence.
type Store struct {
	db    *sql.DB
	locks *userlock.Locks
	now   func() time.Time
}

var (
	_ progression.Store           = (*Store)(nil)
	_ progression.UserRepository  = (*Store)(nil)
	_ progression.QuestRepository = (*Store)(nil)
	_ progression.Pinger          = (*Store)(nil)
)

// Open opens the database file at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already migrated database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, locks: userlock.New(), now: time.Now}
}

func applyMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	// m.Close is not called: the driver would close db with it.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: migrate up: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping implements progression.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return classify("Ping", s.db.PingContext(ctx))
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// IsBusy reports lock contention that outlived busy_timeout.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsBusy(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, sql.ErrConnDone):
		return progression.Unavailable(op, err)
	default:
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// InTx implements progression.Store.
func (s *Store) InTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx progression.Tx) error) error {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return progression.Unavailable("InTx", err)
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("Begin", err)
	}

	if err := fn(ctx, &sqliteTx{tx: tx, userID: userID, now: s.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("Commit", err)
	}
	return nil
}

type sqliteTx struct {
	tx     *sql.Tx
	userID int64
	now    func() time.Time
}

func (t *sqliteTx) checkUser(userID int64) error {
	if userID != t.userID {
		return fmt.Errorf("sqlite: transaction for user %d cannot touch user %d", t.userID, userID)
	}
	return nil
}

// GetUserForUpdate implements progression.Tx.
func (t *sqliteTx) GetUserForUpdate(ctx context.Context, userID int64) (*progression.User, error) {
	if err := t.checkUser(userID); err != nil {
		return nil, err
	}

	// Write first: takes the database write lock before the read.
	res, err := t.tx.ExecContext(ctx, `UPDATE users SET updated_at = updated_at WHERE id = ?`, userID)
	if err != nil {
		return nil, classify("LockUser", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, progression.ErrUserNotFound
	}

	u, err := scanUser(t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, progression.ErrUserNotFound
		}
		return nil, classify("GetUserForUpdate", err)
	}
	return u, nil
}

// InsertCompletionIfAbsent implements progression.Tx.
func (t *sqliteTx) InsertCompletionIfAbsent(ctx context.Context, c progression.Completion) (bool, error) {
	if err := t.checkUser(c.UserID); err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO quest_completions (id, user_id, quest_id, credit_date, completed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id, quest_id, credit_date) DO NOTHING
`, c.ID, c.UserID, c.QuestID, c.CreditDate.String(), c.CompletedAt.UTC().UnixMilli())
	if err != nil {
		if isForeignKey(err) {
			return false, progression.ErrQuestNotFound
		}
		return false, classify("InsertCompletion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("InsertCompletion", err)
	}
	return n == 1, nil
}

// UpdateProgress implements progression.Tx.
func (t *sqliteTx) UpdateProgress(ctx context.Context, userID int64, update progression.ProgressUpdate) error {
	if err := t.checkUser(userID); err != nil {
		return err
	}
	stats, err := json.Marshal(update.Stats)
	if err != nil {
		return fmt.Errorf("sqlite: marshal stats: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
UPDATE users SET
	stats = ?,
	current_stage = ?,
	streak_days = ?,
	last_active_date = ?,
	updated_at = ?
WHERE id = ?
`, string(stats), update.Stage.String(), update.Streak, update.LastActive, t.now().UTC().UnixMilli(), userID)
	if err != nil {
		return classify("UpdateProgress", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return progression.ErrUserNotFound
	}
	return nil
}

func isForeignKey(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

const userColumns = `id, username, display_name, focus_areas, stats, current_stage,
	streak_days, last_active_date, created_at, updated_at`

// GetOrCreate implements progression.UserRepository.
func (s *Store) GetOrCreate(ctx context.Context, u *progression.User) (*progression.User, bool, error) {
	stats, err := json.Marshal(u.Stats)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: marshal stats: %w", err)
	}
	focus, err := json.Marshal(focusToStrings(u.FocusAreas))
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: marshal focus areas: %w", err)
	}

	created := u.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, username, display_name, focus_areas, stats, current_stage,
	streak_days, last_active_date, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING
`, u.ID, u.Username, u.DisplayName, string(focus), string(stats), u.Stage.String(),
		u.Streak, u.LastActive, created.UTC().UnixMilli(), created.UTC().UnixMilli())
	if err != nil {
		return nil, false, classify("CreateUser", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, classify("CreateUser", err)
	}

	got, err := s.GetByID(ctx, u.ID)
	if err != nil {
		return nil, false, err
	}
	return got, n == 1, nil
}

// GetByID implements progression.UserRepository.
func (s *Store) GetByID(ctx context.Context, id int64) (*progression.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, progression.ErrUserNotFound
		}
		return nil, classify("GetUser", err)
	}
	return u, nil
}

// UpdateProfile implements progression.UserRepository.
func (s *Store) UpdateProfile(ctx context.Context, id int64, update progression.ProfileUpdate) (*progression.User, error) {
	var focus *string
	if update.FocusAreas != nil {
		raw, err := json.Marshal(focusToStrings(update.FocusAreas))
		if err != nil {
			return nil, fmt.Errorf("sqlite: marshal focus areas: %w", err)
		}
		v := string(raw)
		focus = &v
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE users SET
	display_name = COALESCE(?, display_name),
	focus_areas = COALESCE(?, focus_areas),
	updated_at = ?
WHERE id = ?
`, update.DisplayName, focus, s.now().UTC().UnixMilli(), id)
	if err != nil {
		return nil, classify("UpdateProfile", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, progression.ErrUserNotFound
	}
	return s.GetByID(ctx, id)
}

// CompletedQuestIDs implements progression.UserRepository.
func (s *Store) CompletedQuestIDs(ctx context.Context, userID int64, date timeutil.Date) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT quest_id FROM quest_completions
WHERE user_id = ? AND credit_date = ?
ORDER BY quest_id
`, userID, date.String())
	if err != nil {
		return nil, classify("CompletedQuestIDs", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, classify("CompletedQuestIDs", err)
		}
		ids = append(ids, id)
	}
	return ids, classify("CompletedQuestIDs", rows.Err())
}

// ListByLastActive implements progression.UserRepository.
func (s *Store) ListByLastActive(ctx context.Context, date timeutil.Date) ([]*progression.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE last_active_date = ? ORDER BY id`, date.String())
	if err != nil {
		return nil, classify("ListByLastActive", err)
	}
	defer rows.Close()

	var out []*progression.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify("ListByLastActive", err)
		}
		out = append(out, u)
	}
	return out, classify("ListByLastActive", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*progression.User, error) {
	var (
		u                    progression.User
		focus, stats, stage  string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.DisplayName, &focus, &stats, &stage,
		&u.Streak, &u.LastActive, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stats), &u.Stats); err != nil {
		return nil, fmt.Errorf("decode stats of user %d: %w", u.ID, err)
	}
	if u.Stage, err = progression.ParseStage(stage); err != nil {
		return nil, fmt.Errorf("decode stage of user %d: %w", u.ID, err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(focus), &keys); err != nil {
		return nil, fmt.Errorf("decode focus areas of user %d: %w", u.ID, err)
	}
	u.FocusAreas = make([]progression.StatKey, 0, len(keys))
	for _, k := range keys {
		if key, err := progression.ParseStatKey(k); err == nil {
			u.FocusAreas = append(u.FocusAreas, key)
		}
	}
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	u.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &u, nil
}

func focusToStrings(keys []progression.StatKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTS
// ══════════════════════════════════════════════════════════════════════════════

// Get implements progression.QuestCatalog.
func (s *Store) Get(ctx context.Context, id int64) (*progression.QuestDefinition, error) {
	q, err := scanQuest(s.db.QueryRowContext(ctx, `SELECT id, stat, text, xp, active FROM quest_templates WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, progression.ErrQuestNotFound
		}
		return nil, classify("GetQuest", err)
	}
	return q, nil
}

// List implements progression.QuestCatalog.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]progression.QuestDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, stat, text, xp, active FROM quest_templates
WHERE active = 1 OR ? = 0
ORDER BY id
`, activeOnly)
	if err != nil {
		return nil, classify("ListQuests", err)
	}
	defer rows.Close()

	out := []progression.QuestDefinition{}
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, classify("ListQuests", err)
		}
		out = append(out, *q)
	}
	return out, classify("ListQuests", rows.Err())
}

// UpsertQuests implements progression.QuestRepository.
func (s *Store) UpsertQuests(ctx context.Context, quests []progression.QuestDefinition) error {
	for _, q := range quests {
		if err := q.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("UpsertQuests", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO quest_templates (id, stat, text, xp, active)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	stat = excluded.stat,
	text = excluded.text,
	xp = excluded.xp,
	active = excluded.active
`)
	if err != nil {
		return classify("UpsertQuests", err)
	}
	defer stmt.Close()

	for _, q := range quests {
		if _, err := stmt.ExecContext(ctx, q.ID, string(q.Stat), q.Text, q.XP, q.Active); err != nil {
			return classify("UpsertQuests", fmt.Errorf("quest %d: %w", q.ID, err))
		}
	}
	return classify("UpsertQuests", tx.Commit())
}

func scanQuest(row rowScanner) (*progression.QuestDefinition, error) {
	var (
		q    progression.QuestDefinition
		stat string
	)
	if err := row.Scan(&q.ID, &stat, &q.Text, &q.XP, &q.Active); err != nil {
		return nil, err
	}
	key, err := progression.ParseStatKey(stat)
	if err != nil {
		return nil, fmt.Errorf("quest %d: %w", q.ID, err)
	}
	q.Stat = key
	return &q, nil
}
