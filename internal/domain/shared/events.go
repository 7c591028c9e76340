// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"strconv"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published by entry points after a transaction
// has committed; handlers never feed back into the transaction.
const (
	// User events
	EventUserRegistered EventType = "user.registered"
	EventProfileUpdated EventType = "user.profile_updated"

	// Progression events
	EventQuestCompleted EventType = "progression.quest_completed"
	EventRankChanged    EventType = "progression.rank_changed"
	EventStreakBroken   EventType = "progression.streak_broken"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// Correlation returns the correlation ID, empty when none was set.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

func userAggregate(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// ═══════════════════════════════════════════════════════════════════════════
// User Events
// ═══════════════════════════════════════════════════════════════════════════

// UserRegisteredEvent is emitted when a user is created on first contact.
type UserRegisteredEvent struct {
	BaseEvent
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Payload implements Event interface.
func (e UserRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"username":     e.Username,
		"display_name": e.DisplayName,
	}
}

// NewUserRegisteredEvent creates a new UserRegisteredEvent.
func NewUserRegisteredEvent(userID int64, username, displayName string) UserRegisteredEvent {
	return UserRegisteredEvent{
		BaseEvent:   NewBaseEvent(EventUserRegistered, userAggregate(userID)),
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
	}
}

// ProfileUpdatedEvent is emitted when a user changes their display name or focus areas.
type ProfileUpdatedEvent struct {
	BaseEvent
	UserID      int64    `json:"user_id"`
	DisplayName string   `json:"display_name"`
	FocusAreas  []string `json:"focus_areas"`
}

// Payload implements Event interface.
func (e ProfileUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"display_name": e.DisplayName,
		"focus_areas":  e.FocusAreas,
	}
}

// NewProfileUpdatedEvent creates a new ProfileUpdatedEvent.
func NewProfileUpdatedEvent(userID int64, displayName string, focusAreas []string) ProfileUpdatedEvent {
	return ProfileUpdatedEvent{
		BaseEvent:   NewBaseEvent(EventProfileUpdated, userAggregate(userID)),
		UserID:      userID,
		DisplayName: displayName,
		FocusAreas:  focusAreas,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// QuestCompletedEvent is emitted after a completion has been credited and committed.
type QuestCompletedEvent struct {
	BaseEvent
	UserID     int64  `json:"user_id"`
	QuestID    int64  `json:"quest_id"`
	Stat       string `json:"stat"`
	CreditDate string `json:"credit_date"`
	Streak     int    `json:"streak"`
}

// Payload implements Event interface.
func (e QuestCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"quest_id":    e.QuestID,
		"stat":        e.Stat,
		"credit_date": e.CreditDate,
		"streak":      e.Streak,
	}
}

// NewQuestCompletedEvent creates a new QuestCompletedEvent.
func NewQuestCompletedEvent(userID, questID int64, stat, creditDate string, streak int) QuestCompletedEvent {
	return QuestCompletedEvent{
		BaseEvent:  NewBaseEvent(EventQuestCompleted, userAggregate(userID)),
		UserID:     userID,
		QuestID:    questID,
		Stat:       stat,
		CreditDate: creditDate,
		Streak:     streak,
	}
}

// RankChangedEvent is emitted when a completion moves a user to another rank stage.
type RankChangedEvent struct {
	BaseEvent
	UserID        int64  `json:"user_id"`
	PreviousStage string `json:"previous_stage"`
	NewStage      string `json:"new_stage"`
}

// Payload implements Event interface.
func (e RankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"previous_stage": e.PreviousStage,
		"new_stage":      e.NewStage,
	}
}

// NewRankChangedEvent creates a new RankChangedEvent.
func NewRankChangedEvent(userID int64, previousStage, newStage string) RankChangedEvent {
	return RankChangedEvent{
		BaseEvent:     NewBaseEvent(EventRankChanged, userAggregate(userID)),
		UserID:        userID,
		PreviousStage: previousStage,
		NewStage:      newStage,
	}
}

// StreakBrokenEvent is emitted when a completion resets a streak longer than one day.
type StreakBrokenEvent struct {
	BaseEvent
	UserID         int64 `json:"user_id"`
	PreviousStreak int   `json:"previous_streak"`
}

// Payload implements Event interface.
func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"previous_streak": e.PreviousStreak,
	}
}

// NewStreakBrokenEvent creates a new StreakBrokenEvent.
func NewStreakBrokenEvent(userID int64, previousStreak int) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, userAggregate(userID)),
		UserID:         userID,
		PreviousStreak: previousStreak,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
