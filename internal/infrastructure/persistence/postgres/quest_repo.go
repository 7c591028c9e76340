package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ascend-app/ascend/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUEST REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// QuestRepository implements progression.QuestRepository on quest_templates.
type QuestRepository struct {
	conn *Connection
}

var _ progression.QuestRepository = (*QuestRepository)(nil)

// NewQuestRepository creates a new QuestRepository.
func NewQuestRepository(conn *Connection) *QuestRepository {
	return &QuestRepository{conn: conn}
}

// Get implements progression.QuestCatalog.
func (r *QuestRepository) Get(ctx context.Context, id int64) (*progression.QuestDefinition, error) {
	row := r.conn.Pool().QueryRow(ctx, `SELECT id, stat, text, xp, active FROM quest_templates WHERE id = $1`, id)
	q, err := scanQuest(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, progression.ErrQuestNotFound
		}
		return nil, classify("GetQuest", err)
	}
	return q, nil
}

// List implements progression.QuestCatalog.
func (r *QuestRepository) List(ctx context.Context, activeOnly bool) ([]progression.QuestDefinition, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT id, stat, text, xp, active FROM quest_templates
		WHERE active OR NOT $1
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
	if err := rows.Err(); err != nil {
		return nil, classify("ListQuests", err)
	}
	return out, nil
}

// UpsertQuests implements progression.QuestRepository. All definitions are
// written in one batch inside a single transaction.
func (r *QuestRepository) UpsertQuests(ctx context.Context, quests []progression.QuestDefinition) error {
	for _, q := range quests {
		if err := q.Validate(); err != nil {
			return err
		}
	}

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, q := range quests {
			batch.Queue(`
				INSERT INTO quest_templates (id, stat, text, xp, active)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET
					stat = EXCLUDED.stat,
					text = EXCLUDED.text,
					xp = EXCLUDED.xp,
					active = EXCLUDED.active
			`, q.ID, string(q.Stat), q.Text, q.XP, q.Active)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return classify("UpsertQuests", fmt.Errorf("upsert %d quests: %w", len(quests), err))
	}
	return nil
}

func scanQuest(row pgx.Row) (*progression.QuestDefinition, error) {
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
