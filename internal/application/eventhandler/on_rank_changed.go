// Package eventhandler содержит обработчики доменных событий.
// Обработчики - "реактивная" часть системы: они запускают побочные эффекты
// (уведомления, инвалидация кешей) уже после фиксации транзакции и никогда
// не влияют на состояние прогрессии.
package eventhandler

import (
	"context"
	"time"

	"github.com/ascend-app/ascend/internal/domain/notification"
	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RANK CHANGED HANDLER
// Отправляет пользователю сообщение о новой ступени. Fire-and-forget:
// ошибка доставки (например, пользователь заблокировал бота) только логируется.
// ═══════════════════════════════════════════════════════════════════════════

// RankChangedConfig содержит конфигурацию обработчика.
type RankChangedConfig struct {
	// SendTimeout - максимальное время на доставку одного уведомления.
	SendTimeout time.Duration
}

// DefaultRankChangedConfig возвращает конфигурацию по умолчанию.
func DefaultRankChangedConfig() RankChangedConfig {
	return RankChangedConfig{SendTimeout: 10 * time.Second}
}

// OnRankChangedHandler обрабатывает событие смены ступени.
type OnRankChangedHandler struct {
	notifier notification.Notifier
	log      *logger.Logger
	config   RankChangedConfig
}

// NewOnRankChangedHandler создаёт новый обработчик.
func NewOnRankChangedHandler(notifier notification.Notifier, log *logger.Logger, config RankChangedConfig) *OnRankChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.SendTimeout <= 0 {
		config = DefaultRankChangedConfig()
	}
	return &OnRankChangedHandler{
		notifier: notifier,
		log:      log.With(logger.Component("on_rank_changed")),
		config:   config,
	}
}

// Handle реализует shared.EventHandler. Всегда возвращает nil для доставки.
func (h *OnRankChangedHandler) Handle(event shared.Event) error {
	rankEvent, ok := event.(shared.RankChangedEvent)
	if !ok {
		h.log.Warn("received unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	prev, err := progression.ParseStage(rankEvent.PreviousStage)
	if err != nil {
		return err
	}
	next, err := progression.ParseStage(rankEvent.NewStage)
	if err != nil {
		return err
	}

	// Уведомляем только о подъёме по лестнице.
	if next <= prev {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SendTimeout)
	defer cancel()

	if err := h.notifier.NotifyRankUp(ctx, rankEvent.UserID, next); err != nil {
		h.log.Warn("rank-up notification not delivered",
			logger.UserID(rankEvent.UserID),
			logger.Stage(next.String()),
			logger.Err(err),
		)
		return nil
	}

	h.log.Info("rank-up notification sent", logger.UserID(rankEvent.UserID), logger.Stage(next.String()))
	return nil
}
