package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the Pub/Sub subset of Redis the bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one message received from Redis Pub/Sub.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "medal-engine:events".
	ChannelName string

	// InstanceID identifies this process so it skips its own messages.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig

	Logger *slog.Logger
}

// RedisEventBus publishes every event on one Redis channel and feeds events
// from other publishers into a local in-memory bus. Check-ins arrive this way
// from the ingestion service; medal events leave this way for the
// notification projector.
type RedisEventBus struct {
	client     RedisClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	logger     *slog.Logger

	stop     context.CancelFunc
	ctx      context.Context
	listener sync.WaitGroup
	closing  sync.Once
}

// NewRedisEventBus subscribes to the channel and starts forwarding remote
// events to local handlers.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = "medal-engine:events"
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	messages, err := config.Client.Subscribe(ctx, config.ChannelName)
	if err != nil {
		stop()
		return nil, fmt.Errorf("subscribe %s: %w", config.ChannelName, err)
	}

	b := &RedisEventBus{
		client:     config.Client,
		local:      NewInMemoryEventBus(config.LocalBusConfig),
		channel:    config.ChannelName,
		instanceID: config.InstanceID,
		logger:     config.Logger.With("component", "redis_event_bus", "channel", config.ChannelName),
		stop:       stop,
		ctx:        ctx,
	}
	b.listener.Add(1)
	go b.listen(messages)
	return b, nil
}

// Subscribe registers a local handler for one event type, fed by both local
// and remote publishers.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// Publish sends the event to Redis and to local handlers. A Redis failure is
// logged and local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if b.ctx.Err() != nil {
		return ErrEventBusClosed
	}

	data, err := encodeEnvelope(b.instanceID, event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.logger.Error("failed to publish to redis", "event_type", event.EventType(), "error", err)
	}
	return b.local.Publish(event)
}

func (b *RedisEventBus) listen(messages <-chan RedisMessage) {
	defer b.listener.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("redis subscription error", "error", msg.Err)
				continue
			}
			b.deliver(msg.Payload)
		}
	}
}

// deliver republishes a remote message locally. Messages this instance sent
// were already delivered by Publish.
func (b *RedisEventBus) deliver(payload string) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		b.logger.Error("dropping undecodable event", "error", err)
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	if err := b.local.Publish(env.event()); err != nil {
		b.logger.Error("failed to process remote event", "event_type", env.EventType, "error", err)
	}
}

// Close stops the listener, drains local handlers and closes the client.
func (b *RedisEventBus) Close() error {
	b.closing.Do(func() {
		b.stop()
		b.listener.Wait()
		if err := b.local.Close(); err != nil {
			b.logger.Error("failed to close local bus", "error", err)
		}
		if err := b.client.Close(); err != nil {
			b.logger.Error("failed to close redis client", "error", err)
		}
		b.logger.Info("redis event bus closed")
	})
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

// envelope is the JSON shape on the channel. Producers outside this module
// (the check-in ingestion service) write the same shape.
type envelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

func encodeEnvelope(instanceID string, event shared.Event) ([]byte, error) {
	data, err := json.Marshal(envelope{
		InstanceID:  instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	return data, nil
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" {
		return envelope{}, errors.New("decode envelope: missing event_type")
	}
	return env, nil
}

func (e envelope) event() *RemoteEvent {
	return &RemoteEvent{
		eventType:   e.EventType,
		aggregateID: e.AggregateID,
		occurredAt:  e.OccurredAt,
		payload:     e.Payload,
	}
}

// RemoteEvent is an event received from another publisher. Only its payload
// map survives the trip; consumers decode typed fields from it.
type RemoteEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]interface{}
}

func (e *RemoteEvent) EventType() shared.EventType     { return e.eventType }
func (e *RemoteEvent) AggregateID() string             { return e.aggregateID }
func (e *RemoteEvent) OccurredAt() time.Time           { return e.occurredAt }
func (e *RemoteEvent) Payload() map[string]interface{} { return e.payload }
