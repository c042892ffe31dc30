package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingObserver struct {
	mu        sync.Mutex
	published map[string]int
	failures  int
}

func (o *countingObserver) EventPublished(eventType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.published == nil {
		o.published = make(map[string]int)
	}
	o.published[eventType]++
}

func (o *countingObserver) HandlerFinished(eventType string, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failures++
	}
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	obs := &countingObserver{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger(), Observer: obs})

	var checkins, results int
	require.NoError(t, bus.Subscribe(shared.EventCheckinRecorded, func(shared.Event) error { checkins++; return nil }))
	require.NoError(t, bus.Subscribe(shared.EventChallengeResultsReady, func(shared.Event) error { results++; return nil }))

	require.NoError(t, bus.Publish(shared.NewCheckinRecordedEvent(1, 10, 100, 7, 4)))
	require.NoError(t, bus.Publish(shared.NewChallengeResultsReadyEvent(1, "winter", time.Now())))

	assert.Equal(t, 1, checkins)
	assert.Equal(t, 1, results)
	assert.Equal(t, 1, obs.published[string(shared.EventCheckinRecorded)])
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	obs := &countingObserver{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger(), Observer: obs})

	reached := false
	require.NoError(t, bus.Subscribe(shared.EventCheckinRecorded, func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.Subscribe(shared.EventCheckinRecorded, func(shared.Event) error { reached = true; return nil }))

	require.NoError(t, bus.Publish(shared.NewCheckinRecordedEvent(1, 10, 100, 7, 4)))
	assert.True(t, reached)
	assert.Equal(t, 1, obs.failures)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: quietLogger()})

	var mu sync.Mutex
	handled := 0
	require.NoError(t, bus.Subscribe(shared.EventCheckinRecorded, func(shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		handled++
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewCheckinRecordedEvent(1, 10, int64(i), 7, 4)))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, 5, handled)
	assert.ErrorIs(t, bus.Publish(shared.NewCheckinRecordedEvent(1, 10, 9, 7, 4)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventMedalAwarded, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

// fakeRedis loops published messages back to subscribers.
type fakeRedis struct {
	mu        sync.Mutex
	published []string
	subs      []chan RedisMessage
	failPub   error
	closed    bool
}

func (r *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPub != nil {
		return r.failPub
	}
	r.published = append(r.published, message.(string))
	return nil
}

func (r *fakeRedis) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan RedisMessage, 8)
	r.subs = append(r.subs, ch)
	return ch, nil
}

func (r *fakeRedis) deliver(payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		s <- RedisMessage{Channel: "medal-engine:events", Payload: payload}
	}
}

func (r *fakeRedis) Close() error {
	r.closed = true
	return nil
}

func TestRedisEventBus_PublishesEnvelope(t *testing.T) {
	client := &fakeRedis{}
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: client, InstanceID: "me", Logger: quietLogger()})
	require.NoError(t, err)
	defer bus.Close()

	local := 0
	require.NoError(t, bus.Subscribe(shared.EventCheckinRecorded, func(shared.Event) error { local++; return nil }))
	require.NoError(t, bus.Publish(shared.NewCheckinRecordedEvent(1, 10, 100, 7, 4)))

	require.Len(t, client.published, 1)
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(client.published[0]), &env))
	assert.Equal(t, "me", env.InstanceID)
	assert.Equal(t, shared.EventCheckinRecorded, env.EventType)
	assert.Equal(t, "1", env.AggregateID)
	assert.EqualValues(t, 100, env.Payload["checkin_id"])
	assert.Equal(t, 1, local)
}

func TestRedisEventBus_RedisFailureStillDeliversLocally(t *testing.T) {
	client := &fakeRedis{failPub: errors.New("connection refused")}
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: client, Logger: quietLogger()})
	require.NoError(t, err)
	defer bus.Close()

	local := 0
	require.NoError(t, bus.Subscribe(shared.EventMedalAwarded, func(shared.Event) error { local++; return nil }))
	require.NoError(t, bus.Publish(shared.MedalAwardedEvent{BaseEvent: shared.NewBaseEvent(shared.EventMedalAwarded, "1")}))
	assert.Equal(t, 1, local)
}

func TestRedisEventBus_DeliversRemoteEvents(t *testing.T) {
	client := &fakeRedis{}
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: client, InstanceID: "me", Logger: quietLogger()})
	require.NoError(t, err)

	got := make(chan shared.Event, 2)
	require.NoError(t, bus.Subscribe(shared.EventCheckinRecorded, func(e shared.Event) error { got <- e; return nil }))

	own, _ := json.Marshal(envelope{InstanceID: "me", EventType: shared.EventCheckinRecorded, AggregateID: "1"})
	remote, _ := json.Marshal(envelope{
		InstanceID: "ingest", EventType: shared.EventCheckinRecorded, AggregateID: "1",
		Payload: map[string]interface{}{"checkin_id": 55},
	})
	client.deliver(string(own))
	client.deliver(string(remote))

	select {
	case e := <-got:
		assert.Equal(t, "1", e.AggregateID())
		assert.EqualValues(t, 55, e.Payload()["checkin_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("remote event not delivered")
	}

	require.NoError(t, bus.Close())
	assert.Empty(t, got)
	assert.True(t, client.closed)
}

func TestDecodeEnvelope(t *testing.T) {
	_, err := decodeEnvelope("not json")
	assert.Error(t, err)

	_, err = decodeEnvelope(`{"instance_id":"ingest","aggregate_id":"1"}`)
	assert.ErrorContains(t, err, "missing event_type")

	env, err := decodeEnvelope(`{"instance_id":"ingest","event_type":"checkin.recorded","aggregate_id":"3","payload":{"tier":"T7"}}`)
	require.NoError(t, err)
	e := env.event()
	assert.Equal(t, shared.EventCheckinRecorded, e.EventType())
	assert.Equal(t, "3", e.AggregateID())
	assert.Equal(t, "T7", e.Payload()["tier"])
}
