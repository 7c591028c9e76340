package messaging

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/domain/shared"
)

type countingObserver struct {
	published atomic.Int64
	failed    atomic.Int64
}

func (o *countingObserver) ObservePublish(string) { o.published.Add(1) }
func (o *countingObserver) ObserveHandler(_ string, _ time.Duration, ok bool) {
	if !ok {
		o.failed.Add(1)
	}
}

func TestInMemoryEventBus_SyncDispatchByType(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})

	var ranks, all int
	require.NoError(t, bus.Subscribe(shared.EventRankChanged, func(shared.Event) error { ranks++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewRankChangedEvent(1, "Novice", "Apprentice")))
	require.NoError(t, bus.Publish(shared.NewQuestCompletedEvent(1, 7, "physical", "2026-10-15", 1)))

	assert.Equal(t, 1, ranks)
	assert.Equal(t, 2, all)
}

func TestInMemoryEventBus_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	obs := &countingObserver{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false, Observer: obs})

	var reached bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("nope") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { reached = true; return nil }))

	assert.NoError(t, bus.Publish(shared.NewStreakBrokenEvent(1, 5)))
	assert.True(t, reached)
	assert.EqualValues(t, 1, obs.published.Load())
	assert.EqualValues(t, 2, obs.failed.Load())
}

func TestInMemoryEventBus_AsyncCloseWaitsForHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled atomic.Int64
	require.NoError(t, bus.Subscribe(shared.EventQuestCompleted, func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewQuestCompletedEvent(1, int64(i), "mental", "2026-10-15", 1)))
	}
	require.NoError(t, bus.Close())

	assert.EqualValues(t, 10, handled.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewStreakBrokenEvent(1, 2)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventRankChanged, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	assert.ErrorIs(t, bus.Subscribe(shared.EventRankChanged, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

func TestCodec_RestoresTypedEvents(t *testing.T) {
	original := shared.RankChangedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventRankChanged, "42").WithCorrelationID("req-1"),
		UserID:        42,
		PreviousStage: "Expert",
		NewStage:      "Master",
	}

	data, err := Encode(original, "api-1")
	require.NoError(t, err)

	decoded, origin, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "api-1", origin)

	ev, ok := decoded.(shared.RankChangedEvent)
	require.True(t, ok, "got %T", decoded)
	assert.Equal(t, int64(42), ev.UserID)
	assert.Equal(t, "Master", ev.NewStage)
	assert.Equal(t, "req-1", ev.Correlation())
	assert.Equal(t, "42", ev.AggregateID())
}

func TestCodec_UnknownTypeIsGeneric(t *testing.T) {
	decoded, _, err := Decode([]byte(`{"type":"future.event","aggregate_id":"9","payload":{"x":1}}`))
	require.NoError(t, err)
	assert.Equal(t, shared.EventType("future.event"), decoded.EventType())
	assert.EqualValues(t, 1, decoded.Payload()["x"])

	_, _, err = Decode([]byte("not json"))
	assert.Error(t, err)
}

// Runs against a real server when TEST_REDIS_ADDR is set.
func TestRedisEventBus_RelaysToSubscribers(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	channel := "ascend:test:" + t.Name()
	publisher, err := NewRedisEventBus(RedisEventBusConfig{Client: client, Channel: channel})
	require.NoError(t, err)
	defer publisher.Close()

	consumer, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		Channel:        channel,
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	defer consumer.Close()

	var (
		mu  sync.Mutex
		got []shared.Event
	)
	done := make(chan struct{})
	require.NoError(t, consumer.Subscribe(shared.EventRankChanged, func(e shared.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		close(done)
		return nil
	}))
	require.NoError(t, consumer.Start(context.Background()))

	require.NoError(t, publisher.Publish(shared.NewRankChangedEvent(7, "Novice", "Apprentice")))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("event not relayed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].(shared.RankChangedEvent).UserID)
}
