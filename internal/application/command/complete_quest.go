// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/logger"
	"github.com/ascend-app/ascend/pkg/retry"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION ENGINE
// Credits one quest completion: at most once per user, quest and calendar day.
// Stat, stage and streak change in the same transaction as the completion row.
// Bot and HTTP entry points share this engine.
// ══════════════════════════════════════════════════════════════════════════════

// Outcome describes what a completion request did.
type Outcome string

const (
	// OutcomeCredited - the completion was recorded and progress updated.
	OutcomeCredited Outcome = "credited"

	// OutcomeAlreadyCompleted - the quest was already credited today; nothing changed.
	// This is a normal idempotent result, not an error.
	OutcomeAlreadyCompleted Outcome = "already_completed"
)

// CompletionResult is the result descriptor returned to entry points.
type CompletionResult struct {
	Outcome Outcome

	UserID  int64
	QuestID int64

	// Stat is the stat the quest targets.
	Stat progression.StatKey

	// RewardXP is the informational XP listed on the quest.
	RewardXP int

	// Increment is the stat growth granted (zero when already completed).
	Increment progression.Score

	// Stats is the user's stat vector after the call.
	Stats progression.StatVector

	PreviousStage progression.RankStage
	NewStage      progression.RankStage
	LeveledUp     bool

	Streak         int
	PreviousStreak int

	// CreditDate is the calendar day the completion counts toward.
	CreditDate timeutil.Date

	// CompletionID is the new completion's ID (empty when already completed).
	CompletionID string

	// Events are emitted by the caller after the transaction has committed.
	Events []shared.Event
}

// Credited reports whether the call changed the user's progress.
func (r *CompletionResult) Credited() bool {
	return r.Outcome == OutcomeCredited
}

// TotalScore returns the sum of the user's stats after the call.
func (r *CompletionResult) TotalScore() progression.Score {
	return r.Stats.Total()
}

// EngineObserver receives engine telemetry. Implementations must be safe for concurrent use.
type EngineObserver interface {
	ObserveCompletion(outcome string, duration time.Duration)
	ObserveRetry(attempt int)
	ObserveRankUp(stage string)
}

type nopObserver struct{}

func (nopObserver) ObserveCompletion(string, time.Duration) {}
func (nopObserver) ObserveRetry(int)                        {}
func (nopObserver) ObserveRankUp(string)                    {}

// EngineConfig contains configuration for the engine.
type EngineConfig struct {
	// Increment is the fixed stat growth per credited completion.
	Increment progression.Score

	// MaxAttempts bounds how many times a transaction is tried on transient store failures.
	MaxAttempts int
}

// DefaultEngineConfig returns default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Increment:   progression.DefaultIncrement,
		MaxAttempts: 3,
	}
}

// Engine is the progression engine.
type Engine struct {
	store    progression.Store
	catalog  progression.QuestCatalog
	calendar *timeutil.Calendar
	retrier  *retry.Retrier
	observer EngineObserver
	log      *logger.Logger
	config   EngineConfig
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithObserver attaches telemetry.
func WithObserver(o EngineObserver) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates a new Engine.
func NewEngine(
	store progression.Store,
	catalog progression.QuestCatalog,
	calendar *timeutil.Calendar,
	config EngineConfig,
	opts ...EngineOption,
) *Engine {
	defaults := DefaultEngineConfig()
	if config.Increment <= 0 {
		config.Increment = defaults.Increment
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	e := &Engine{
		store:    store,
		catalog:  catalog,
		calendar: calendar,
		observer: nopObserver{},
		log:      logger.Nop(),
		config:   config,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.retrier = retry.DatabaseRetrier(config.MaxAttempts, progression.IsUnavailable)
	return e
}

// Calendar returns the calendar that decides credit dates.
func (e *Engine) Calendar() *timeutil.Calendar {
	return e.calendar
}

// CompleteQuest credits questID to userID for the current calendar day.
func (e *Engine) CompleteQuest(ctx context.Context, userID, questID int64) (*CompletionResult, error) {
	return e.Complete(ctx, userID, questID, e.calendar.Now())
}

// errAlreadyCompleted aborts the transaction when today's completion already exists.
var errAlreadyCompleted = errors.New("quest already completed today")

// Complete credits questID to userID for the calendar day containing now.
//
// Returns progression.ErrUserNotFound, progression.ErrQuestNotFound or
// progression.ErrStoreUnavailable (after retries). Any error leaves no persisted trace.
// An unknown user is reported before an unknown quest.
func (e *Engine) Complete(ctx context.Context, userID, questID int64, now time.Time) (*CompletionResult, error) {
	start := time.Now()
	if userID <= 0 {
		return nil, progression.ErrUserNotFound
	}

	today := e.calendar.DateOf(now)
	log := e.log.With(logger.UserID(userID), logger.QuestID(questID), logger.String("credit_date", today.String()))

	var result *CompletionResult
	attempt := 0
	err := e.retrier.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			e.observer.ObserveRetry(attempt)
			log.Warn("retrying completion after transient store failure", logger.Int("attempt", attempt))
		}
		result = nil

		// The catalog is read before the transaction takes its connection, so one
		// completion never holds two pool connections at once.
		quest, questErr := e.resolveQuest(ctx, questID)
		if questErr != nil && !shared.IsNotFound(questErr) {
			return questErr
		}
		return e.store.InTx(ctx, userID, func(ctx context.Context, tx progression.Tx) error {
			var txErr error
			result, txErr = e.credit(ctx, tx, userID, quest, questErr, today, now)
			return txErr
		})
	})

	switch {
	case errors.Is(err, errAlreadyCompleted):
		e.observer.ObserveCompletion(string(OutcomeAlreadyCompleted), time.Since(start))
		log.Debug("quest already completed today")
		return result, nil
	case err != nil:
		e.observer.ObserveCompletion("error", time.Since(start))
		if !shared.IsNotFound(err) {
			log.Error("quest completion failed", logger.Err(err), logger.Int("attempts", attempt))
		}
		return nil, err
	}

	e.observer.ObserveCompletion(string(OutcomeCredited), time.Since(start))
	if result.LeveledUp {
		e.observer.ObserveRankUp(result.NewStage.String())
	}
	log.Info("quest credited",
		logger.Stat(string(result.Stat)),
		logger.Stage(result.NewStage.String()),
		logger.Streak(result.Streak),
		logger.Bool("leveled_up", result.LeveledUp),
		logger.Latency(time.Since(start)),
	)
	return result, nil
}

func (e *Engine) resolveQuest(ctx context.Context, questID int64) (*progression.QuestDefinition, error) {
	if questID <= 0 {
		return nil, progression.ErrQuestNotFound
	}
	return e.catalog.Get(ctx, questID)
}

// credit runs inside the store transaction, holding the user's exclusive lock.
// questErr is the catalog lookup result; it is reported only once the user exists.
func (e *Engine) credit(
	ctx context.Context,
	tx progression.Tx,
	userID int64,
	quest *progression.QuestDefinition,
	questErr error,
	today timeutil.Date,
	now time.Time,
) (*CompletionResult, error) {
	user, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if questErr != nil {
		return nil, questErr
	}

	completion := progression.Completion{
		ID:          uuid.NewString(),
		UserID:      userID,
		QuestID:     quest.ID,
		CreditDate:  today,
		CompletedAt: now.UTC(),
	}
	inserted, err := tx.InsertCompletionIfAbsent(ctx, completion)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &CompletionResult{
			Outcome:        OutcomeAlreadyCompleted,
			UserID:         userID,
			QuestID:        quest.ID,
			Stat:           quest.Stat,
			RewardXP:       quest.XP,
			Stats:          user.Stats,
			PreviousStage:  user.Stage,
			NewStage:       user.Stage,
			Streak:         user.Streak,
			PreviousStreak: user.Streak,
			CreditDate:     today,
		}, errAlreadyCompleted
	}

	stats := progression.ApplyReward(user.Stats, quest.Stat, e.config.Increment)
	// The stored stage may be stale; the ladder is checked against the stage the
	// stored stats imply, and the recomputed stage overwrites the row.
	stage := progression.StageFor(stats)
	if implied := progression.StageFor(user.Stats); stage < implied {
		return nil, shared.WrapError("progression", "Complete", progression.ErrInvariantViolation,
			"rank stage would regress", fmt.Errorf("%s -> %s", implied, stage))
	}
	streak := progression.NextStreak(user.LastActive, today, user.Streak)

	update := progression.ProgressUpdate{
		Stats:      stats,
		Stage:      stage,
		Streak:     streak,
		LastActive: today,
	}
	if err := tx.UpdateProgress(ctx, userID, update); err != nil {
		return nil, err
	}

	result := &CompletionResult{
		Outcome:        OutcomeCredited,
		UserID:         userID,
		QuestID:        quest.ID,
		Stat:           quest.Stat,
		RewardXP:       quest.XP,
		Increment:      stats.Get(quest.Stat) - user.Stats.Get(quest.Stat),
		Stats:          stats,
		PreviousStage:  user.Stage,
		NewStage:       stage,
		LeveledUp:      stage != user.Stage,
		Streak:         streak,
		PreviousStreak: user.Streak,
		CreditDate:     today,
		CompletionID:   completion.ID,
	}
	result.Events = completionEvents(result, user.LastActive)
	return result, nil
}

func completionEvents(r *CompletionResult, lastActive timeutil.Date) []shared.Event {
	events := []shared.Event{
		shared.NewQuestCompletedEvent(r.UserID, r.QuestID, string(r.Stat), r.CreditDate.String(), r.Streak),
	}
	if r.LeveledUp {
		events = append(events, shared.NewRankChangedEvent(r.UserID, r.PreviousStage.String(), r.NewStage.String()))
	}
	if progression.StreakBroken(lastActive, r.CreditDate, r.PreviousStreak) {
		events = append(events, shared.NewStreakBrokenEvent(r.UserID, r.PreviousStreak))
	}
	return events
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompleteQuestCommand contains the data to complete a quest.
type CompleteQuestCommand struct {
	UserID  int64
	QuestID int64

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c CompleteQuestCommand) Validate() error {
	if c.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	if c.QuestID <= 0 {
		return shared.WrapError("progression", "Validate", shared.ErrInvalidID, "invalid quest ID", nil)
	}
	return nil
}

// CompleteQuestHandler runs the engine and publishes the resulting events
// once the transaction has committed. Publishing failures are logged only.
type CompleteQuestHandler struct {
	engine    *Engine
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewCompleteQuestHandler creates a new CompleteQuestHandler. publisher may be nil.
func NewCompleteQuestHandler(engine *Engine, publisher shared.EventPublisher, log *logger.Logger) *CompleteQuestHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CompleteQuestHandler{engine: engine, publisher: publisher, log: log}
}

// Handle executes the complete quest command.
func (h *CompleteQuestHandler) Handle(ctx context.Context, cmd CompleteQuestCommand) (*CompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	result, err := h.engine.CompleteQuest(ctx, cmd.UserID, cmd.QuestID)
	if err != nil {
		return nil, err
	}

	if h.publisher != nil {
		for _, ev := range result.Events {
			if cmd.CorrelationID != "" {
				ev = withCorrelation(ev, cmd.CorrelationID)
			}
			if pubErr := h.publisher.Publish(ev); pubErr != nil {
				h.log.Warn("failed to publish event",
					logger.String("event_type", string(ev.EventType())),
					logger.Err(pubErr),
				)
			}
		}
	}
	return result, nil
}

func withCorrelation(ev shared.Event, id string) shared.Event {
	switch e := ev.(type) {
	case shared.QuestCompletedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.RankChangedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.StreakBrokenEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	default:
		return ev
	}
}
