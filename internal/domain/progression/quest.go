package progression

import (
	"context"
	"strings"
	"time"

	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

// QuestDefinition - запись каталога квестов. Создаётся конфигурацией, не пользователями.
type QuestDefinition struct {
	ID     int64
	Stat   StatKey
	Text   string
	XP     int // информационная награда, на прирост характеристики не влияет
	Active bool
}

// Validate проверяет запись каталога.
func (q QuestDefinition) Validate() error {
	switch {
	case q.ID <= 0:
		return shared.WrapError("progression", "ValidateQuest", ErrInvalidQuest, "quest id must be positive", nil)
	case !q.Stat.IsValid():
		return shared.WrapError("progression", "ValidateQuest", ErrInvalidQuest, "unknown stat "+string(q.Stat), nil)
	case strings.TrimSpace(q.Text) == "":
		return shared.WrapError("progression", "ValidateQuest", ErrInvalidQuest, "quest text is empty", nil)
	case q.XP <= 0:
		return shared.WrapError("progression", "ValidateQuest", ErrInvalidQuest, "quest xp must be positive", nil)
	}
	return nil
}

// QuestCatalog - источник определений квестов только для чтения.
type QuestCatalog interface {
	// Get возвращает квест по ID или ErrQuestNotFound.
	// Неактивные квесты тоже возвращаются и остаются засчитываемыми.
	Get(ctx context.Context, id int64) (*QuestDefinition, error)

	// List возвращает квесты, упорядоченные по ID.
	List(ctx context.Context, activeOnly bool) ([]QuestDefinition, error)
}

// Completion - засчитанное выполнение квеста. Не изменяется и не удаляется.
// Тройка (UserID, QuestID, CreditDate) уникальна.
type Completion struct {
	ID          string
	UserID      int64
	QuestID     int64
	CreditDate  timeutil.Date
	CompletedAt time.Time
}
