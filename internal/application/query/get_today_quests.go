// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"slices"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/logger"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET TODAY QUESTS QUERY
// Доска квестов на сегодня: активные квесты по возрастанию ID с флагом done
// для текущего календарного дня пользователя.
// ══════════════════════════════════════════════════════════════════════════════

// GetTodayQuestsQuery содержит параметры запроса.
type GetTodayQuestsQuery struct {
	UserID int64
}

// Validate проверяет корректность параметров.
func (q GetTodayQuestsQuery) Validate() error {
	_, err := shared.NewUserID(q.UserID)
	return err
}

// QuestDTO - квест на доске.
type QuestDTO struct {
	ID   int64  `json:"id"`
	Stat string `json:"stat"`
	Text string `json:"text"`
	XP   int    `json:"xp"`
	Done bool   `json:"done"`
}

// TodayQuestsDTO - доска квестов на день.
type TodayQuestsDTO struct {
	Date      string     `json:"date"`
	Quests    []QuestDTO `json:"quests"`
	DoneCount int        `json:"done_count"`
}

// DoneCache кеширует ID квестов, засчитанных пользователю за день.
type DoneCache interface {
	// DoneQuestIDs возвращает ok=false при промахе кеша.
	DoneQuestIDs(ctx context.Context, userID int64, date timeutil.Date) (ids []int64, ok bool, err error)

	// DoneVersion читается до запроса к хранилищу; каждая инвалидация его увеличивает.
	DoneVersion(ctx context.Context, userID int64, date timeutil.Date) (int64, error)

	// SetDoneQuestIDs записывает набор, только если версия не изменилась.
	SetDoneQuestIDs(ctx context.Context, userID int64, date timeutil.Date, ids []int64, version int64) (bool, error)
}

// GetTodayQuestsHandler обрабатывает запрос доски квестов.
type GetTodayQuestsHandler struct {
	catalog  progression.QuestCatalog
	users    progression.UserRepository
	calendar *timeutil.Calendar
	cache    DoneCache
	log      *logger.Logger
}

// NewGetTodayQuestsHandler создаёт обработчик. cache может быть nil.
func NewGetTodayQuestsHandler(
	catalog progression.QuestCatalog,
	users progression.UserRepository,
	calendar *timeutil.Calendar,
	cache DoneCache,
	log *logger.Logger,
) *GetTodayQuestsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetTodayQuestsHandler{catalog: catalog, users: users, calendar: calendar, cache: cache, log: log}
}

// Handle выполняет запрос.
func (h *GetTodayQuestsHandler) Handle(ctx context.Context, q GetTodayQuestsQuery) (*TodayQuestsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	today := h.calendar.Today()

	quests, err := h.catalog.List(ctx, true)
	if err != nil {
		return nil, err
	}

	done, err := h.doneIDs(ctx, q.UserID, today)
	if err != nil {
		return nil, err
	}

	dto := &TodayQuestsDTO{Date: today.String(), Quests: make([]QuestDTO, 0, len(quests))}
	for _, quest := range quests {
		isDone := slices.Contains(done, quest.ID)
		if isDone {
			dto.DoneCount++
		}
		dto.Quests = append(dto.Quests, QuestDTO{
			ID:   quest.ID,
			Stat: string(quest.Stat),
			Text: quest.Text,
			XP:   quest.XP,
			Done: isDone,
		})
	}
	return dto, nil
}

func (h *GetTodayQuestsHandler) doneIDs(ctx context.Context, userID int64, date timeutil.Date) ([]int64, error) {
	// Набор из хранилища кешируется только с версией, прочитанной до запроса:
	// засчитанное между чтением и записью выполнение не затирается.
	fill := false
	var version int64
	if h.cache != nil {
		ids, ok, err := h.cache.DoneQuestIDs(ctx, userID, date)
		switch {
		case err != nil:
			h.log.Warn("done cache read failed", logger.UserID(userID), logger.Err(err))
		case ok:
			return ids, nil
		default:
			version, err = h.cache.DoneVersion(ctx, userID, date)
			if err != nil {
				h.log.Warn("done cache version read failed", logger.UserID(userID), logger.Err(err))
			}
			fill = err == nil
		}
	}

	ids, err := h.users.CompletedQuestIDs(ctx, userID, date)
	if err != nil {
		return nil, err
	}

	if fill {
		written, err := h.cache.SetDoneQuestIDs(ctx, userID, date, ids, version)
		switch {
		case err != nil:
			h.log.Warn("done cache write failed", logger.UserID(userID), logger.Err(err))
		case !written:
			h.log.Debug("done cache fill skipped, invalidated meanwhile", logger.UserID(userID))
		}
	}
	return ids, nil
}
