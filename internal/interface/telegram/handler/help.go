package handler

import (
	"context"

	"github.com/ascend-app/ascend/internal/interface/telegram/presenter"
)

// HelpHandler handles /help. It works without a profile.
type HelpHandler struct {
	keyboards *presenter.KeyboardBuilder
}

// NewHelpHandler creates a new HelpHandler.
func NewHelpHandler(keyboards *presenter.KeyboardBuilder) *HelpHandler {
	return &HelpHandler{keyboards: keyboards}
}

// Handle implements Handler.
func (h *HelpHandler) Handle(_ context.Context, req Request) (*Response, error) {
	return &Response{
		Text:     presenter.HelpText(),
		Keyboard: h.keyboards.HelpKeyboard(),
		Edit:     req.IsCallback,
	}, nil
}
