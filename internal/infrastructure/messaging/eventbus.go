// Package messaging fans committed domain events out to in-process handlers
// and, when Redis is configured, to the other engine instances.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/infrastructure/metrics"
	"github.com/housecup/points-engine/pkg/logger"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("event handler panicked")

	errNilHandler = errors.New("event handler is nil")
	errNilEvent   = errors.New("event is nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode hands deliveries to a worker pool so Publish returns without
	// waiting for handlers. Otherwise handlers run on the publisher's
	// goroutine, in registration order.
	AsyncMode bool

	// WorkerPoolSize is the number of async workers. Default: 10.
	WorkerPoolSize int

	// QueueSize bounds pending async deliveries; Publish blocks while the
	// queue is full. Default: 256.
	QueueSize int

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns the settings used by the server.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		QueueSize:      256,
	}
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// InMemoryEventBus delivers events to handlers registered in this process.
// Handler errors and panics are logged and counted; they never reach the
// publisher, whose transaction has already committed.
type InMemoryEventBus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	catchAll []shared.EventHandler
	closed   bool

	// queue is nil in sync mode.
	queue   chan delivery
	workers sync.WaitGroup
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// NewInMemoryEventBus creates the bus and, in async mode, starts its workers.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	b := &InMemoryEventBus{
		logger: config.Logger.With(logger.Component("event_bus")),
		byType: make(map[shared.EventType][]shared.EventHandler),
	}
	if !config.AsyncMode {
		return b
	}

	workers := config.WorkerPoolSize
	if workers <= 0 {
		workers = 10
	}
	size := config.QueueSize
	if size <= 0 {
		size = 256
	}
	b.queue = make(chan delivery, size)
	b.workers.Add(workers)
	for range workers {
		go b.work()
	}
	return b
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(func() { b.byType[eventType] = append(b.byType[eventType], handler) }, handler)
}

// SubscribeAll registers handler for every event.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(func() { b.catchAll = append(b.catchAll, handler) }, handler)
}

func (b *InMemoryEventBus) register(add func(), handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish delivers event to the handlers of its type, then to the
// catch-all handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	// The read lock is held while enqueueing so Close cannot close the
	// queue under a pending send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrEventBusClosed
	}

	metrics.EventsPublished.WithLabelValues(string(event.EventType())).Inc()

	for _, handlers := range [][]shared.EventHandler{b.byType[event.EventType()], b.catchAll} {
		for _, h := range handlers {
			if b.queue != nil {
				b.queue <- delivery{event: event, handler: h}
				continue
			}
			b.deliver(delivery{event: event, handler: h})
		}
	}
	return nil
}

func (b *InMemoryEventBus) work() {
	defer b.workers.Done()
	for d := range b.queue {
		b.deliver(d)
	}
}

func (b *InMemoryEventBus) deliver(d delivery) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		return d.handler(d.event)
	}()
	if err == nil {
		return
	}
	metrics.EventHandlerErrors.WithLabelValues(string(d.event.EventType())).Inc()
	b.logger.Error("event handler failed",
		slog.String("event_type", string(d.event.EventType())),
		slog.String("aggregate_id", d.event.AggregateID()),
		logger.Err(err),
	)
}

// Close rejects new events and subscriptions, then waits until every queued
// delivery has run.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	b.workers.Wait()
	b.logger.Debug("event bus closed")
	return nil
}
