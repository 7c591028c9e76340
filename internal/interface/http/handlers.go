package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/internal/interface/http/handlers"
	"github.com/ascend-app/ascend/pkg/logger"
)

const maxBodyBytes = 1 << 20

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth is the liveness probe; it never touches dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.config.Version,
	})
}

// handleReady pings the store and Redis.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetUser handles GET /api/user. The first call creates the user.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, _ := handlers.IdentityFromContext(r.Context())

	if _, err := s.deps.RegisterUser.Handle(r.Context(), command.RegisterUserCommand{
		UserID:      id.UserID,
		Username:    id.Username,
		DisplayName: id.FirstName,
	}); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	profile, err := s.deps.GetProfile.Handle(r.Context(), query.GetProfileQuery{UserID: id.UserID})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, profile)
}

// UpdateUserRequest is the body of PATCH /api/user.
type UpdateUserRequest struct {
	DisplayName *string  `json:"display_name"`
	FocusAreas  []string `json:"focus_areas"`
}

// handleUpdateUser handles PATCH /api/user.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, _ := handlers.IdentityFromContext(r.Context())

	var req UpdateUserRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	user, err := s.deps.UpdateProfile.Handle(r.Context(), command.UpdateProfileCommand{
		UserID:      id.UserID,
		DisplayName: req.DisplayName,
		FocusAreas:  req.FocusAreas,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	profile, err := s.deps.GetProfile.Handle(r.Context(), query.GetProfileQuery{UserID: user.ID})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, profile)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUEST HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetQuests handles GET /api/quests.
func (s *Server) handleGetQuests(w http.ResponseWriter, r *http.Request) {
	id, _ := handlers.IdentityFromContext(r.Context())

	board, err := s.deps.GetTodayQuests.Handle(r.Context(), query.GetTodayQuestsQuery{UserID: id.UserID})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, board)
}

// CompletionResponse is the body of a successful POST /api/quests/{id}/complete.
type CompletionResponse struct {
	Status    string  `json:"status"`
	QuestID   int64   `json:"quest_id"`
	Stat      string  `json:"stat"`
	StatValue float64 `json:"stat_value"`
	XP        int     `json:"xp"`
	Total     float64 `json:"total"`
	Stage     string  `json:"stage"`
	LeveledUp bool    `json:"leveled_up"`
	NewStage  string  `json:"new_stage,omitempty"`
	Streak    int     `json:"streak"`
	Date      string  `json:"date"`
}

func newCompletionResponse(res *command.CompletionResult) CompletionResponse {
	out := CompletionResponse{
		Status:    string(res.Outcome),
		QuestID:   res.QuestID,
		Stat:      string(res.Stat),
		StatValue: res.Stats.Get(res.Stat).Float64(),
		XP:        res.RewardXP,
		Total:     res.TotalScore().Float64(),
		Stage:     res.NewStage.String(),
		LeveledUp: res.LeveledUp,
		Streak:    res.Streak,
		Date:      res.CreditDate.String(),
	}
	if res.LeveledUp {
		out.NewStage = res.NewStage.String()
	}
	return out
}

// handleCompleteQuest handles POST /api/quests/{id}/complete.
// A repeated completion on the same day answers 200 with status already_completed.
func (s *Server) handleCompleteQuest(w http.ResponseWriter, r *http.Request) {
	id, _ := handlers.IdentityFromContext(r.Context())

	questID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || questID <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_quest_id", "quest id must be a positive integer")
		return
	}

	res, err := s.deps.CompleteQuest.Handle(r.Context(), command.CompleteQuestCommand{
		UserID:        id.UserID,
		QuestID:       questID,
		CorrelationID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newCompletionResponse(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleTelegramWebhook handles POST /api/webhook.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if !handlers.ValidSecret(r, s.config.WebhookSecret) {
		s.logger.Warn("invalid webhook secret", logger.String("remote", r.RemoteAddr))
		writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	if err := s.deps.WebhookHandler.HandleTelegramUpdate(r.Context(), body); err != nil {
		// Telegram redelivers on non-2xx, which would replay the update.
		s.logger.Error("failed to handle telegram update", logger.Err(err))
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "received"})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, progression.ErrUserNotFound):
		writeJSONError(w, r, http.StatusNotFound, "needs_onboarding", "user not found, open the bot and press /start")
	case errors.Is(err, progression.ErrQuestNotFound):
		writeJSONError(w, r, http.StatusNotFound, "quest_not_found", "quest not found")
	case progression.IsUnavailable(err):
		w.Header().Set("Retry-After", strconv.Itoa(int(s.config.RetryAfter.Seconds()+0.5)))
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "storage is busy, retry shortly")
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err), logger.String("path", r.URL.Path))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
