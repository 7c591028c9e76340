package command

import (
	"context"
	"time"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER USER COMMAND
// Creates the user lazily on first contact (bot /start or the first API call).
// An existing user is returned unchanged.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterUserCommand contains the data to register a user.
type RegisterUserCommand struct {
	UserID int64

	// Username is the Telegram @username, optional.
	Username string

	// DisplayName is the Telegram first name; empty means the default name.
	DisplayName string
}

// Validate validates the command.
func (c RegisterUserCommand) Validate() error {
	_, err := shared.NewUserID(c.UserID)
	return err
}

// RegisterUserResult contains the result of registering a user.
type RegisterUserResult struct {
	User    *progression.User
	Created bool
}

// RegisterUserHandler handles the RegisterUserCommand.
type RegisterUserHandler struct {
	users     progression.UserRepository
	publisher shared.EventPublisher
	log       *logger.Logger
	now       func() time.Time
}

// NewRegisterUserHandler creates a new RegisterUserHandler. publisher may be nil.
func NewRegisterUserHandler(users progression.UserRepository, publisher shared.EventPublisher, log *logger.Logger) *RegisterUserHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RegisterUserHandler{users: users, publisher: publisher, log: log, now: time.Now}
}

// Handle executes the register user command.
func (h *RegisterUserHandler) Handle(ctx context.Context, cmd RegisterUserCommand) (*RegisterUserResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	candidate, err := progression.NewUser(cmd.UserID, cmd.Username, cmd.DisplayName, h.now().UTC())
	if err != nil {
		return nil, err
	}

	user, created, err := h.users.GetOrCreate(ctx, candidate)
	if err != nil {
		return nil, err
	}

	if created {
		h.log.Info("user registered", logger.UserID(user.ID), logger.String("display_name", user.DisplayName))
		if h.publisher != nil {
			if pubErr := h.publisher.Publish(shared.NewUserRegisteredEvent(user.ID, user.Username, user.DisplayName)); pubErr != nil {
				h.log.Warn("failed to publish event", logger.Err(pubErr))
			}
		}
	}

	return &RegisterUserResult{User: user, Created: created}, nil
}
