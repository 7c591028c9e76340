package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements the progression store and user repository on PostgreSQL.
type Store struct {
	conn *Connection
}

var (
	_ progression.Store          = (*Store)(nil)
	_ progression.UserRepository = (*Store)(nil)
	_ progression.Pinger         = (*Store)(nil)
)

// NewStore creates a new Store.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

const userColumns = `id, username, display_name, focus_areas, stats, current_stage,
	streak_days, last_active_date, created_at, updated_at`

// classify maps driver failures to domain errors.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsTransient(err):
		return progression.Unavailable(op, err)
	default:
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Transactions
// ─────────────────────────────────────────────────────────────────────────────

// InTx implements progression.Store. The row lock is taken by
// GetUserForUpdate, so two transactions for the same user serialize there.
func (s *Store) InTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx progression.Tx) error) error {
	var fnErr error
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		fnErr = fn(ctx, &pgTx{tx: tx, userID: userID})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		// Errors from fn are already classified by the Tx methods or belong to the caller.
		return fnErr
	}
	return classify("InTx", err)
}

type pgTx struct {
	tx     pgx.Tx
	userID int64
}

func (t *pgTx) checkUser(userID int64) error {
	if userID != t.userID {
		return fmt.Errorf("postgres: transaction for user %d cannot touch user %d", t.userID, userID)
	}
	return nil
}

// GetUserForUpdate implements progression.Tx.
func (t *pgTx) GetUserForUpdate(ctx context.Context, userID int64) (*progression.User, error) {
	if err := t.checkUser(userID); err != nil {
		return nil, err
	}
	row := t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	u, err := scanUser(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, progression.ErrUserNotFound
		}
		return nil, classify("GetUserForUpdate", err)
	}
	return u, nil
}

// InsertCompletionIfAbsent implements progression.Tx.
func (t *pgTx) InsertCompletionIfAbsent(ctx context.Context, c progression.Completion) (bool, error) {
	if err := t.checkUser(c.UserID); err != nil {
		return false, err
	}
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO quest_completions (id, user_id, quest_id, credit_date, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, quest_id, credit_date) DO NOTHING
		RETURNING id::text
	`, c.ID, c.UserID, c.QuestID, c.CreditDate, c.CompletedAt).Scan(&id)
	switch {
	case err == nil:
		return true, nil
	case IsNoRows(err):
		return false, nil
	case IsForeignKeyViolation(err):
		return false, progression.ErrQuestNotFound
	default:
		return false, classify("InsertCompletion", err)
	}
}

// UpdateProgress implements progression.Tx.
func (t *pgTx) UpdateProgress(ctx context.Context, userID int64, update progression.ProgressUpdate) error {
	if err := t.checkUser(userID); err != nil {
		return err
	}
	stats, err := json.Marshal(update.Stats)
	if err != nil {
		return fmt.Errorf("postgres: marshal stats: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE users SET
			stats = $2,
			current_stage = $3,
			streak_days = $4,
			last_active_date = $5,
			updated_at = NOW()
		WHERE id = $1
	`, userID, stats, update.Stage.String(), update.Streak, update.LastActive)
	if err != nil {
		return classify("UpdateProgress", err)
	}
	if tag.RowsAffected() == 0 {
		return progression.ErrUserNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// User repository
// ─────────────────────────────────────────────────────────────────────────────

// GetOrCreate implements progression.UserRepository.
func (s *Store) GetOrCreate(ctx context.Context, u *progression.User) (*progression.User, bool, error) {
	stats, err := json.Marshal(u.Stats)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: marshal stats: %w", err)
	}

	row := s.conn.Pool().QueryRow(ctx, `
		INSERT INTO users (id, username, display_name, focus_areas, stats, current_stage,
			streak_days, last_active_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+userColumns,
		u.ID, u.Username, u.DisplayName, focusToStrings(u.FocusAreas), stats,
		u.Stage.String(), u.Streak, u.LastActive, u.CreatedAt,
	)
	created, err := scanUser(row)
	if err == nil {
		return created, true, nil
	}
	if !IsNoRows(err) {
		return nil, false, classify("CreateUser", err)
	}

	existing, err := s.GetByID(ctx, u.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID implements progression.UserRepository.
func (s *Store) GetByID(ctx context.Context, id int64) (*progression.User, error) {
	row := s.conn.Pool().QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, progression.ErrUserNotFound
		}
		return nil, classify("GetUser", err)
	}
	return u, nil
}

// UpdateProfile implements progression.UserRepository. NULL parameters keep
// the stored value.
func (s *Store) UpdateProfile(ctx context.Context, id int64, update progression.ProfileUpdate) (*progression.User, error) {
	var focus []string
	if update.FocusAreas != nil {
		focus = focusToStrings(update.FocusAreas)
	}

	row := s.conn.Pool().QueryRow(ctx, `
		UPDATE users SET
			display_name = COALESCE($2, display_name),
			focus_areas = COALESCE($3, focus_areas),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		id, update.DisplayName, focus,
	)
	u, err := scanUser(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, progression.ErrUserNotFound
		}
		return nil, classify("UpdateProfile", err)
	}
	return u, nil
}

// CompletedQuestIDs implements progression.UserRepository.
func (s *Store) CompletedQuestIDs(ctx context.Context, userID int64, date timeutil.Date) ([]int64, error) {
	rows, err := s.conn.Pool().Query(ctx, `
		SELECT quest_id FROM quest_completions
		WHERE user_id = $1 AND credit_date = $2
		ORDER BY quest_id
	`, userID, date)
	if err != nil {
		return nil, classify("CompletedQuestIDs", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, classify("CompletedQuestIDs", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// ListByLastActive implements progression.UserRepository.
func (s *Store) ListByLastActive(ctx context.Context, date timeutil.Date) ([]*progression.User, error) {
	rows, err := s.conn.Pool().Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE last_active_date = $1 ORDER BY id`, date)
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
	if err := rows.Err(); err != nil {
		return nil, classify("ListByLastActive", err)
	}
	return out, nil
}

// Ping implements progression.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanUser(row pgx.Row) (*progression.User, error) {
	var (
		u          progression.User
		focus      []string
		stats      []byte
		stage      string
		lastActive pgtype.Date
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.DisplayName, &focus, &stats, &stage,
		&u.Streak, &lastActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stats, &u.Stats); err != nil {
		return nil, fmt.Errorf("decode stats of user %d: %w", u.ID, err)
	}
	if u.Stage, err = progression.ParseStage(stage); err != nil {
		return nil, fmt.Errorf("decode stage of user %d: %w", u.ID, err)
	}
	if lastActive.Valid {
		u.LastActive = timeutil.DateOf(lastActive.Time)
	}
	u.FocusAreas = make([]progression.StatKey, 0, len(focus))
	for _, f := range focus {
		k, err := progression.ParseStatKey(f)
		if err != nil {
			// Unknown keys written by older releases are ignored.
			continue
		}
		u.FocusAreas = append(u.FocusAreas, k)
	}
	return &u, nil
}

func focusToStrings(keys []progression.StatKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
