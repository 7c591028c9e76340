package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/ascend-app/ascend/config"
	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUESTS HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// QuestsHandler handles /quests and the "quests" button.
type QuestsHandler struct {
	board     *query.GetTodayQuestsHandler
	keyboards *presenter.KeyboardBuilder
	features  FeatureGate
}

// NewQuestsHandler creates a new QuestsHandler. features may be nil, which
// enables the completion buttons for everyone.
func NewQuestsHandler(board *query.GetTodayQuestsHandler, keyboards *presenter.KeyboardBuilder, features FeatureGate) *QuestsHandler {
	return &QuestsHandler{board: board, keyboards: keyboards, features: features}
}

// Handle implements Handler.
func (h *QuestsHandler) Handle(ctx context.Context, req Request) (*Response, error) {
	resp, err := h.render(ctx, req)
	if err != nil {
		return errorResponse(req, err)
	}
	return resp, nil
}

func (h *QuestsHandler) render(ctx context.Context, req Request) (*Response, error) {
	board, err := h.board.Handle(ctx, query.GetTodayQuestsQuery{UserID: req.TelegramID})
	if err != nil {
		return nil, err
	}
	return &Response{
		Text:     presenter.QuestBoardText(board),
		Keyboard: h.keyboards.QuestBoardKeyboard(board, h.buttonsEnabled(req.TelegramID)),
		Edit:     req.IsCallback,
	}, nil
}

func (h *QuestsHandler) buttonsEnabled(userID int64) bool {
	if h.features == nil {
		return true
	}
	return h.features.IsEnabledFor(config.FeatureBotQuestButtons, userID)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE HANDLER
// complete:<id> buttons on the quest board.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteHandler completes a quest from a board button and redraws the board.
type CompleteHandler struct {
	complete *command.CompleteQuestHandler
	quests   *QuestsHandler
}

// NewCompleteHandler creates a new CompleteHandler.
func NewCompleteHandler(complete *command.CompleteQuestHandler, quests *QuestsHandler) *CompleteHandler {
	return &CompleteHandler{complete: complete, quests: quests}
}

// ParseCompleteCallback extracts the quest id from complete:<id>.
func ParseCompleteCallback(data string) (int64, bool) {
	raw, ok := strings.CutPrefix(data, presenter.CallbackCompletePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Handle implements Handler.
func (h *CompleteHandler) Handle(ctx context.Context, req Request) (*Response, error) {
	questID, ok := ParseCompleteCallback(req.Data)
	if !ok {
		return &Response{Toast: QuestNotFoundMessage, Alert: true}, nil
	}

	res, err := h.complete.Handle(ctx, command.CompleteQuestCommand{
		UserID:  req.TelegramID,
		QuestID: questID,
	})
	if err != nil {
		return errorResponse(req, err)
	}

	toast := presenter.CompletionToast(res)

	// The completion is committed; a failed redraw only costs the refresh.
	board, err := h.quests.render(ctx, req)
	if err != nil {
		return &Response{Toast: toast}, nil
	}
	board.Toast = toast
	board.Alert = res.LeveledUp
	board.Edit = true
	return board, nil
}
