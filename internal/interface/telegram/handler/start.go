package handler

import (
	"context"

	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// START HANDLER
// /start creates the character on first contact and shows the menu afterwards.
// ══════════════════════════════════════════════════════════════════════════════

// StartHandler handles the /start command.
type StartHandler struct {
	register  *command.RegisterUserHandler
	profile   *query.GetProfileHandler
	keyboards *presenter.KeyboardBuilder
}

// NewStartHandler creates a new StartHandler.
func NewStartHandler(
	register *command.RegisterUserHandler,
	profile *query.GetProfileHandler,
	keyboards *presenter.KeyboardBuilder,
) *StartHandler {
	return &StartHandler{register: register, profile: profile, keyboards: keyboards}
}

// Handle implements Handler.
func (h *StartHandler) Handle(ctx context.Context, req Request) (*Response, error) {
	res, err := h.register.Handle(ctx, command.RegisterUserCommand{
		UserID:      req.TelegramID,
		Username:    req.Username,
		DisplayName: req.FirstName,
	})
	if err != nil {
		return errorResponse(req, err)
	}

	if res.Created {
		return &Response{
			Text:     presenter.WelcomeText(res.User.DisplayName),
			Keyboard: h.keyboards.WelcomeKeyboard(),
		}, nil
	}

	profile, err := h.profile.Handle(ctx, query.GetProfileQuery{UserID: req.TelegramID})
	if err != nil {
		return errorResponse(req, err)
	}
	return &Response{
		Text:     presenter.WelcomeBackText(profile),
		Keyboard: h.keyboards.MainMenuKeyboard(),
	}, nil
}
