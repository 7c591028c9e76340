package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ascend-app/ascend/internal/domain/shared"
)

// wireEnvelope is the Pub/Sub representation of an event.
type wireEnvelope struct {
	shared.EventEnvelope
	Origin string `json:"origin"`
}

// Encode serializes an event into an envelope tagged with the publishing instance.
func Encode(event shared.Event, origin string) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	env := wireEnvelope{
		EventEnvelope: shared.EventEnvelope{
			ID:          uuid.NewString(),
			Type:        event.EventType(),
			AggregateID: event.AggregateID(),
			Timestamp:   event.OccurredAt(),
			Version:     1,
			Payload:     payload,
		},
		Origin: origin,
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = c.Correlation()
	}

	return json.Marshal(env)
}

// Decode restores a typed event from an envelope. Unknown event types are
// returned as a generic event carrying the raw payload.
func Decode(data []byte) (shared.Event, string, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("unmarshal envelope: %w", err)
	}

	var (
		event shared.Event
		err   error
	)
	switch env.Type {
	case shared.EventQuestCompleted:
		event, err = decodeAs[shared.QuestCompletedEvent](env.Payload)
	case shared.EventRankChanged:
		event, err = decodeAs[shared.RankChangedEvent](env.Payload)
	case shared.EventStreakBroken:
		event, err = decodeAs[shared.StreakBrokenEvent](env.Payload)
	case shared.EventUserRegistered:
		event, err = decodeAs[shared.UserRegisteredEvent](env.Payload)
	case shared.EventProfileUpdated:
		event, err = decodeAs[shared.ProfileUpdatedEvent](env.Payload)
	default:
		var payload map[string]interface{}
		err = json.Unmarshal(env.Payload, &payload)
		event = &genericEvent{
			eventType:   env.Type,
			aggregateID: env.AggregateID,
			occurredAt:  env.Timestamp,
			payload:     payload,
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return event, env.Origin, nil
}

func decodeAs[T shared.Event](raw json.RawMessage) (shared.Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// genericEvent carries events this build does not know the type of.
type genericEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]interface{}
}

func (e *genericEvent) EventType() shared.EventType     { return e.eventType }
func (e *genericEvent) AggregateID() string             { return e.aggregateID }
func (e *genericEvent) OccurredAt() time.Time           { return e.occurredAt }
func (e *genericEvent) Payload() map[string]interface{} { return e.payload }
