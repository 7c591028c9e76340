package eventhandler

import (
	"context"
	"time"

	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/logger"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

// DoneInvalidator сбрасывает закешированный набор засчитанных квестов пользователя за день.
type DoneInvalidator interface {
	InvalidateDone(ctx context.Context, userID int64, date timeutil.Date) error
}

// OnQuestCompletedHandler поддерживает кеш доски квестов в актуальном состоянии.
type OnQuestCompletedHandler struct {
	cache DoneInvalidator
	log   *logger.Logger
}

// NewOnQuestCompletedHandler создаёт новый обработчик.
func NewOnQuestCompletedHandler(cache DoneInvalidator, log *logger.Logger) *OnQuestCompletedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnQuestCompletedHandler{cache: cache, log: log.With(logger.Component("on_quest_completed"))}
}

// Handle реализует shared.EventHandler.
func (h *OnQuestCompletedHandler) Handle(event shared.Event) error {
	ev, ok := event.(shared.QuestCompletedEvent)
	if !ok {
		return nil
	}
	date, err := timeutil.ParseDate(ev.CreditDate)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.cache.InvalidateDone(ctx, ev.UserID, date); err != nil {
		h.log.Warn("failed to invalidate done cache", logger.UserID(ev.UserID), logger.Err(err))
		return err
	}
	return nil
}

// Register подписывает обработчики на шину событий. cache может быть nil.
func Register(bus shared.EventSubscriber, notifier *OnRankChangedHandler, cache *OnQuestCompletedHandler) error {
	if notifier != nil {
		if err := bus.Subscribe(shared.EventRankChanged, notifier.Handle); err != nil {
			return err
		}
	}
	if cache != nil {
		if err := bus.Subscribe(shared.EventQuestCompleted, cache.Handle); err != nil {
			return err
		}
	}
	return nil
}
