package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/pkg/logger"
)

func awardEvent(points int64) shared.PointsAwardedEvent {
	state := shared.AggregateState{
		Kind:     shared.AggregateAccount,
		ID:       "s1",
		Version:  2,
		Counters: map[string]int64{shared.CounterPointsEarned: points},
	}
	return shared.NewPointsAwardedEvent("aw1", "s1", "t1", "h1", points, "Other", time.Now(), state)
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: logger.Discard()})
	defer bus.Close()

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error { typed++; return nil }))
	require.NoError(t, bus.Subscribe(shared.EventItemPurchased, func(shared.Event) error { t.Fatal("wrong type"); return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(awardEvent(10)))
	assert.Equal(t, 1, typed)
	assert.Equal(t, 1, all)
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: logger.Discard()})
	defer bus.Close()

	var after int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("nope") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { after++; return nil }))

	assert.NoError(t, bus.Publish(awardEvent(10)))
	assert.Equal(t, 1, after)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: logger.Discard()})

	var handled atomic.Int64
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(awardEvent(int64(i+1))))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int64(5), handled.Load())

	assert.ErrorIs(t, bus.Publish(awardEvent(1)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

// ─────────────────────────────────────────────────────────────────────────────
// Redis bus against an in-process broker
// ─────────────────────────────────────────────────────────────────────────────

type fakeBroker struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

type fakeClient struct {
	broker *fakeBroker
	fail   atomic.Bool
}

func (c *fakeClient) Publish(ctx context.Context, channel string, message interface{}) error {
	if c.fail.Load() {
		return errors.New("connection refused")
	}
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for _, ch := range c.broker.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (c *fakeClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	ch := make(chan RedisMessage, 16)
	c.broker.mu.Lock()
	c.broker.subs = append(c.broker.subs, ch)
	c.broker.mu.Unlock()
	return ch, nil
}

func (c *fakeClient) Close() error { return nil }

func TestRedisEventBus_FansOutWithAggregates(t *testing.T) {
	broker := &fakeBroker{}
	newBus := func(id string) *RedisEventBus {
		bus, err := NewRedisEventBus(RedisEventBusConfig{
			Client:     &fakeClient{broker: broker},
			InstanceID: id,
			Logger:     logger.Discard(),
		})
		require.NoError(t, err)
		return bus
	}
	a, b := newBus("a"), newBus("b")
	defer a.Close()
	defer b.Close()

	var localA atomic.Int64
	require.NoError(t, a.SubscribeAll(func(shared.Event) error { localA.Add(1); return nil }))

	received := make(chan shared.Event, 1)
	require.NoError(t, b.SubscribeAll(func(ev shared.Event) error { received <- ev; return nil }))

	require.NoError(t, a.Publish(awardEvent(10)))

	select {
	case ev := <-received:
		assert.Equal(t, shared.EventPointsAwarded, ev.EventType())
		carrier, ok := ev.(shared.AggregateCarrier)
		require.True(t, ok)
		require.Len(t, carrier.Aggregates(), 1)
		assert.Equal(t, int64(2), carrier.Aggregates()[0].Version)
		assert.Equal(t, int64(10), carrier.Aggregates()[0].Counters[shared.CounterPointsEarned])
	case <-time.After(time.Second):
		t.Fatal("remote instance did not receive the event")
	}

	// The publisher's own echo is skipped.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), localA.Load())
}

func TestRedisEventBus_RedisFailureStillDeliversLocally(t *testing.T) {
	client := &fakeClient{broker: &fakeBroker{}}
	client.fail.Store(true)
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: client, Logger: logger.Discard()})
	require.NoError(t, err)
	defer bus.Close()

	var got int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { got++; return nil }))
	require.NoError(t, bus.Publish(awardEvent(5)))
	assert.Equal(t, 1, got)
}
