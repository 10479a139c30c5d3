package messaging

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/infrastructure/metrics"
	"github.com/housecup/points-engine/pkg/circuitbreaker"
	"github.com/housecup/points-engine/pkg/logger"
	"github.com/housecup/points-engine/pkg/uid"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the part of Redis pub/sub the bus uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one pub/sub delivery, or a receive error.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures a RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "housecup:events".
	ChannelName string

	// InstanceID tags outgoing messages so the listener can drop its own
	// echoes. Default: a random id.
	InstanceID string

	// Breaker guards Redis publishes; nil disables it.
	Breaker *circuitbreaker.CircuitBreaker

	// PublishTimeout bounds a single Redis publish. Default: 2s.
	PublishTimeout time.Duration

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers events to local handlers and mirrors them to a
// Redis channel. Events other instances mirror are replayed to the local
// handlers with their aggregate states intact, so subscribers everywhere
// observe the same committed versions.
type RedisEventBus struct {
	local   *InMemoryEventBus
	client  RedisClient
	breaker *circuitbreaker.CircuitBreaker
	channel string
	self    string
	timeout time.Duration
	logger  *slog.Logger

	closed   atomic.Bool
	stop     context.CancelFunc
	stopCtx  context.Context
	listener sync.WaitGroup
}

var _ shared.EventBus = (*RedisEventBus)(nil)

// NewRedisEventBus subscribes to the channel and starts the listener.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis event bus: client is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}
	b := &RedisEventBus{
		local:   NewInMemoryEventBus(config.LocalBusConfig),
		client:  config.Client,
		breaker: config.Breaker,
		channel: cmp.Or(config.ChannelName, "housecup:events"),
		self:    cmp.Or(config.InstanceID, uid.New()),
		timeout: cmp.Or(config.PublishTimeout, 2*time.Second),
		logger:  config.Logger.With(logger.Component("redis_event_bus")),
	}
	b.stopCtx, b.stop = context.WithCancel(context.Background())

	messages, err := b.client.Subscribe(b.stopCtx, b.channel)
	if err != nil {
		b.stop()
		_ = b.local.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.listener.Add(1)
	go b.listen(messages)
	return b, nil
}

// Subscribe registers handler for one event type on this instance.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers handler for every event on this instance.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish mirrors event to Redis, then delivers it locally. Local delivery
// happens even when Redis is down or the breaker is open.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.closed.Load() {
		return ErrEventBusClosed
	}

	if err := b.mirror(event); err != nil {
		b.logger.Warn("event not mirrored to redis",
			slog.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
	return b.local.Publish(event)
}

func (b *RedisEventBus) mirror(event shared.Event) error {
	data, err := json.Marshal(newWireEvent(b.self, event))
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	send := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return b.client.Publish(ctx, b.channel, string(data))
	}
	if b.breaker == nil {
		return send(b.stopCtx)
	}
	return b.breaker.Execute(b.stopCtx, send)
}

func (b *RedisEventBus) listen(messages <-chan RedisMessage) {
	defer b.listener.Done()
	for {
		var msg RedisMessage
		var ok bool
		select {
		case <-b.stopCtx.Done():
			return
		case msg, ok = <-messages:
		}
		if !ok {
			return
		}
		if msg.Err != nil {
			b.logger.Error("redis subscription error", logger.Err(msg.Err))
			continue
		}
		b.replay(msg.Payload)
	}
}

func (b *RedisEventBus) replay(payload string) {
	var wire wireEvent
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		metrics.RemoteEvents.WithLabelValues("malformed").Inc()
		b.logger.Error("malformed remote event", logger.Err(err))
		return
	}
	if wire.InstanceID == b.self {
		return
	}

	metrics.RemoteEvents.WithLabelValues("ok").Inc()
	if err := b.local.Publish(wire.event()); err != nil {
		b.logger.Error("remote event not delivered",
			slog.String("event_type", string(wire.Type)),
			logger.Err(err),
		)
	}
}

// Close stops the listener, drains the local bus and closes the client.
func (b *RedisEventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.stop()
	b.listener.Wait()

	return errors.Join(b.local.Close(), b.client.Close())
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type wireEvent struct {
	InstanceID string `json:"instance_id"`
	shared.EventEnvelope
	Fields map[string]interface{} `json:"fields"`
}

func newWireEvent(instanceID string, event shared.Event) wireEvent {
	w := wireEvent{
		InstanceID: instanceID,
		EventEnvelope: shared.EventEnvelope{
			ID:          uid.New(),
			Type:        event.EventType(),
			AggregateID: event.AggregateID(),
			Timestamp:   event.OccurredAt(),
			Version:     1,
		},
		Fields: event.Payload(),
	}
	if carrier, ok := event.(shared.AggregateCarrier); ok {
		w.Aggregates = carrier.Aggregates()
	}
	return w
}

func (w wireEvent) event() *remoteEvent {
	return &remoteEvent{
		eventType:   w.Type,
		aggregateID: w.AggregateID,
		occurredAt:  w.Timestamp,
		payload:     w.Fields,
		aggregates:  w.Aggregates,
	}
}

// remoteEvent is an event received from another instance.
type remoteEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]interface{}
	aggregates  []shared.AggregateState
}

func (e *remoteEvent) EventType() shared.EventType          { return e.eventType }
func (e *remoteEvent) AggregateID() string                  { return e.aggregateID }
func (e *remoteEvent) OccurredAt() time.Time                { return e.occurredAt }
func (e *remoteEvent) Payload() map[string]interface{}      { return e.payload }
func (e *remoteEvent) Aggregates() []shared.AggregateState { return e.aggregates }
