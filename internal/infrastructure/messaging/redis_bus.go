package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/logger"
)

// DefaultChannel is the Pub/Sub channel events are relayed on.
const DefaultChannel = "ascend:events"

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBus relays events through Redis Pub/Sub. Publish only writes to
// Redis; handlers registered on this bus run when the event comes back from
// the channel, and only after Start. A process that never calls Start is a
// pure publisher, which is how the API runs while the worker consumes.
type RedisEventBus struct {
	client     redis.UniversalClient
	localBus   *InMemoryEventBus
	channel    string
	instanceID string
	logger     *logger.Logger
	timeout    time.Duration

	mu      sync.Mutex
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
	started bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client redis.UniversalClient

	// Channel defaults to DefaultChannel.
	Channel string

	// InstanceID tags outgoing envelopes; generated when empty.
	InstanceID string

	// PublishTimeout bounds a single PUBLISH call.
	PublishTimeout time.Duration

	LocalBusConfig InMemoryEventBusConfig
	Logger         *logger.Logger
}

// NewRedisEventBus creates a new Redis-based event bus.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	return &RedisEventBus{
		client:     config.Client,
		localBus:   NewInMemoryEventBus(config.LocalBusConfig),
		channel:    config.Channel,
		instanceID: config.InstanceID,
		logger:     config.Logger.With(logger.Component("redis_eventbus")),
		timeout:    config.PublishTimeout,
	}, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish serializes the event and sends it to the channel.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := Encode(event, b.instanceID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}
	return nil
}

// Start subscribes to the channel and dispatches received events to local
// handlers until ctx is cancelled or Close is called.
func (b *RedisEventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	if b.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Receive waits for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.pubsub = pubsub
	b.cancel = cancel
	b.started = true

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.subscriptionLoop(ctx, pubsub.Channel())
	}()

	b.logger.Info("subscribed to event channel", logger.String("channel", b.channel))
	return nil
}

func (b *RedisEventBus) subscriptionLoop(ctx context.Context, messages <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handleMessage(msg)
		}
	}
}

func (b *RedisEventBus) handleMessage(msg *redis.Message) {
	event, origin, err := Decode([]byte(msg.Payload))
	if err != nil {
		b.logger.Error("failed to decode event", logger.Err(err))
		return
	}

	if err := b.localBus.Publish(event); err != nil {
		b.logger.Error("failed to dispatch relayed event",
			logger.String("event_type", string(event.EventType())),
			logger.String("origin", origin),
			logger.Err(err),
		)
	}
}

// Close stops the subscription and waits for running handlers.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel, pubsub := b.cancel, b.pubsub
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	b.wg.Wait()

	if lerr := b.localBus.Close(); lerr != nil {
		err = errors.Join(err, lerr)
	}
	b.logger.Info("redis event bus closed")
	return err
}
