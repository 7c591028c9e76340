package command

import (
	"context"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
)

// UpdateProfileCommand changes a user's display name and/or focus areas.
// Nil fields are left unchanged; an empty command returns the current profile.
type UpdateProfileCommand struct {
	UserID      int64
	DisplayName *string
	FocusAreas  []string
}

// UpdateProfileHandler handles the UpdateProfileCommand.
type UpdateProfileHandler struct {
	users     progression.UserRepository
	publisher shared.EventPublisher
}

// NewUpdateProfileHandler creates a new UpdateProfileHandler. publisher may be nil.
func NewUpdateProfileHandler(users progression.UserRepository, publisher shared.EventPublisher) *UpdateProfileHandler {
	return &UpdateProfileHandler{users: users, publisher: publisher}
}

// Handle executes the update profile command.
func (h *UpdateProfileHandler) Handle(ctx context.Context, cmd UpdateProfileCommand) (*progression.User, error) {
	if _, err := shared.NewUserID(cmd.UserID); err != nil {
		return nil, err
	}

	var update progression.ProfileUpdate
	if cmd.DisplayName != nil {
		name, err := progression.NormalizeDisplayName(*cmd.DisplayName)
		if err != nil {
			return nil, err
		}
		update.DisplayName = &name
	}
	if cmd.FocusAreas != nil {
		keys, err := progression.ParseFocusAreas(cmd.FocusAreas)
		if err != nil {
			return nil, err
		}
		update.FocusAreas = keys
	}

	if update.IsEmpty() {
		return h.users.GetByID(ctx, cmd.UserID)
	}

	user, err := h.users.UpdateProfile(ctx, cmd.UserID, update)
	if err != nil {
		return nil, err
	}
	if h.publisher != nil {
		focus := make([]string, len(user.FocusAreas))
		for i, k := range user.FocusAreas {
			focus[i] = string(k)
		}
		_ = h.publisher.Publish(shared.NewProfileUpdatedEvent(user.ID, user.DisplayName, focus))
	}
	return user, nil
}
