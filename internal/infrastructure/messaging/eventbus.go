// Package messaging implements the event buses of the medal engine.
// The in-memory bus routes events inside one worker; the Redis bus shares
// them with the ingestion service, the notification projector and other
// worker instances.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fitness-challenge/medal-engine/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)

// Observer receives bus activity, e.g. for Prometheus.
type Observer interface {
	EventPublished(eventType string)
	HandlerFinished(eventType string, d time.Duration, err error)
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on background workers instead of the caller.
	AsyncMode bool

	// WorkerPoolSize caps concurrent handler executions in async mode.
	WorkerPoolSize int

	Logger *slog.Logger

	// Observer is optional.
	Observer Observer
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10}
}

// InMemoryEventBus routes events to handlers registered in this process.
// In async mode every accepted event is handled before Close returns: a
// check-in that was published is never silently dropped on shutdown.
type InMemoryEventBus struct {
	config   InMemoryEventBusConfig
	logger   *slog.Logger
	slots    *semaphore.Weighted
	inflight sync.WaitGroup

	mu       sync.RWMutex
	handlers map[shared.EventType][]shared.EventHandler
	closed   bool
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultInMemoryEventBusConfig().WorkerPoolSize
	}
	return &InMemoryEventBus{
		config:   config,
		logger:   config.Logger,
		slots:    semaphore.NewWeighted(int64(config.WorkerPoolSize)),
		handlers: make(map[shared.EventType][]shared.EventHandler),
	}
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)
	return nil
}

// Publish hands the event to every handler of its type. Handler errors are
// logged and reported to the observer, never returned to the publisher.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := append([]shared.EventHandler(nil), b.handlers[event.EventType()]...)
	if b.config.AsyncMode {
		// Registered under the lock so Close cannot miss it.
		b.inflight.Add(len(handlers))
	}
	b.mu.RUnlock()

	if b.config.Observer != nil {
		b.config.Observer.EventPublished(string(event.EventType()))
	}
	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	for _, handler := range handlers {
		if !b.config.AsyncMode {
			b.run(event, handler)
			continue
		}
		go func(handler shared.EventHandler) {
			defer b.inflight.Done()
			// Background context: a queued event still runs during Close.
			_ = b.slots.Acquire(context.Background(), 1)
			defer b.slots.Release(1)
			b.run(event, handler)
		}(handler)
	}
	return nil
}

// run executes one handler, turning a panic into ErrHandlerPanic.
func (b *InMemoryEventBus) run(event shared.Event, handler shared.EventHandler) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				"event_type", event.EventType(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		} else if err != nil {
			b.logger.Error("handler failed", "event_type", event.EventType(), "error", err)
		}
		if b.config.Observer != nil {
			b.config.Observer.HandlerFinished(string(event.EventType()), time.Since(start), err)
		}
	}()
	err = handler(event)
}

// Close rejects further use and waits for queued and running handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()
	b.logger.Info("event bus closed")
	return nil
}
