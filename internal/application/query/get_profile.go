package query

import (
	"context"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE QUERY
// Профиль пользователя: характеристики, ступень, серия и прогресс до максимума.
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileQuery содержит параметры запроса профиля.
type GetProfileQuery struct {
	UserID int64
}

// ProfileDTO - профиль пользователя.
type ProfileDTO struct {
	ID          int64                  `json:"id"`
	Username    string                 `json:"username,omitempty"`
	DisplayName string                 `json:"display_name"`
	FocusAreas  []string               `json:"focus_areas"`
	Stats       progression.StatVector `json:"stats"`
	Stage       string                 `json:"stage"`
	StageIndex  int                    `json:"stage_index"`
	Total       float64                `json:"total"`
	Progress    int                    `json:"progress"`

	// NextStage и NextStageAt пустые на высшей ступени.
	NextStage   string  `json:"next_stage,omitempty"`
	NextStageAt float64 `json:"next_stage_at,omitempty"`

	Streak         int    `json:"streak"`
	StreakAtRisk   bool   `json:"streak_at_risk"`
	LastActive     string `json:"last_active,omitempty"`
	CompletedToday bool   `json:"completed_today"`
}

// NewProfileDTO строит DTO профиля на день today.
func NewProfileDTO(u *progression.User, today timeutil.Date) *ProfileDTO {
	focus := make([]string, len(u.FocusAreas))
	for i, k := range u.FocusAreas {
		focus[i] = string(k)
	}

	dto := &ProfileDTO{
		ID:             u.ID,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		FocusAreas:     focus,
		Stats:          u.Stats,
		Stage:          u.Stage.String(),
		StageIndex:     u.Stage.Ordinal(),
		Total:          u.TotalScore().Float64(),
		Progress:       u.ProgressPercent(),
		Streak:         u.Streak,
		StreakAtRisk:   progression.StreakAtRisk(u.LastActive, today),
		LastActive:     u.LastActive.String(),
		CompletedToday: u.CompletedOn(today),
	}
	if next, ok := u.Stage.Next(); ok {
		dto.NextStage = next.String()
		dto.NextStageAt = next.Threshold().Float64()
	}
	return dto
}

// GetProfileHandler обрабатывает запрос профиля.
type GetProfileHandler struct {
	users    progression.UserRepository
	calendar *timeutil.Calendar
}

// NewGetProfileHandler создаёт обработчик.
func NewGetProfileHandler(users progression.UserRepository, calendar *timeutil.Calendar) *GetProfileHandler {
	return &GetProfileHandler{users: users, calendar: calendar}
}

// Handle выполняет запрос.
func (h *GetProfileHandler) Handle(ctx context.Context, q GetProfileQuery) (*ProfileDTO, error) {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return nil, err
	}
	u, err := h.users.GetByID(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	return NewProfileDTO(u, h.calendar.Today()), nil
}
