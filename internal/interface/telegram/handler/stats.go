package handler

import (
	"context"

	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/interface/telegram/presenter"
)

// StatsHandler handles /stats and the "my stats" button.
type StatsHandler struct {
	profile   *query.GetProfileHandler
	keyboards *presenter.KeyboardBuilder
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(profile *query.GetProfileHandler, keyboards *presenter.KeyboardBuilder) *StatsHandler {
	return &StatsHandler{profile: profile, keyboards: keyboards}
}

// Handle implements Handler.
func (h *StatsHandler) Handle(ctx context.Context, req Request) (*Response, error) {
	profile, err := h.profile.Handle(ctx, query.GetProfileQuery{UserID: req.TelegramID})
	if err != nil {
		return errorResponse(req, err)
	}
	return &Response{
		Text:     presenter.StatsCard(profile),
		Keyboard: h.keyboards.StatsKeyboard(),
		Edit:     req.IsCallback,
	}, nil
}
