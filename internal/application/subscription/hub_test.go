package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecup/points-engine/internal/application/command"
	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/infrastructure/messaging"
	"github.com/housecup/points-engine/internal/infrastructure/persistence/memory"
	"github.com/housecup/points-engine/pkg/logger"
)

type env struct {
	hub   *Hub
	coord *command.Coordinator
}

func newEnv(t *testing.T, buffer int) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateHouse(ctx, house.House{ID: "h1", Name: "Phoenix", Grade: 10}))
	_, err := store.UpsertProfile(ctx, account.Profile{ID: "s1", Role: account.RoleStudent, HouseID: "h1", Grade: 10})
	require.NoError(t, err)

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: logger.Discard()})
	t.Cleanup(func() { _ = bus.Close() })

	hub := NewHub(store, Config{Buffer: buffer, Logger: logger.Discard()})
	require.NoError(t, hub.Attach(bus))
	t.Cleanup(hub.Close)

	coord := command.NewCoordinator(store, store, bus, logger.Discard(), command.DefaultCoordinatorConfig())
	return &env{hub: hub, coord: coord}
}

func (e *env) award(t *testing.T, points int64) {
	t.Helper()
	_, err := e.coord.AwardPoints(context.Background(), command.AwardPointsCommand{
		Caller:    account.Caller{ID: "t1", Role: account.RoleTeacher},
		StudentID: "s1", HouseID: "h1", Points: points, Reason: "test",
	})
	require.NoError(t, err)
}

func next(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("no update")
		return Update{}
	}
}

func TestSubscribe_StartsWithCurrentValue(t *testing.T) {
	e := newEnv(t, 8)
	e.award(t, 15)

	sub, err := e.hub.Subscribe(context.Background(), "account:s1")
	require.NoError(t, err)
	defer sub.Close()

	u := next(t, sub)
	assert.Equal(t, "account:s1", u.Topic)
	assert.Equal(t, int64(15), u.Counters[shared.CounterPointsEarned])
	assert.Equal(t, int64(15), u.Counters[shared.CounterAvailablePoints])
	assert.Empty(t, u.EventType)
}

func TestSubscribe_ReceivesCommittedUpdates(t *testing.T) {
	e := newEnv(t, 8)
	sub, err := e.hub.Subscribe(context.Background(), "account:s1", "house:h1")
	require.NoError(t, err)
	defer sub.Close()

	first := map[string]Update{}
	for i := 0; i < 2; i++ {
		u := next(t, sub)
		first[u.Topic] = u
	}

	e.award(t, 10)

	got := map[string]Update{}
	for i := 0; i < 2; i++ {
		u := next(t, sub)
		got[u.Topic] = u
	}
	assert.Equal(t, int64(10), got["account:s1"].Counters[shared.CounterPointsEarned])
	assert.Equal(t, int64(10), got["house:h1"].Counters[shared.CounterTotalPoints])
	assert.Greater(t, got["account:s1"].Version, first["account:s1"].Version)
	assert.Equal(t, shared.EventPointsAwarded, got["house:h1"].EventType)
}

func TestSubscribe_DropsStaleAndDuplicateVersions(t *testing.T) {
	e := newEnv(t, 8)
	sub, err := e.hub.Subscribe(context.Background(), TopicAll)
	require.NoError(t, err)
	defer sub.Close()

	state := func(v int64) shared.AggregateState {
		return shared.AggregateState{Kind: shared.AggregateHouse, ID: "h1", Version: v, Counters: map[string]int64{}}
	}
	ev := func(v int64) shared.Event {
		return shared.NewPointsAwardedEvent("x", "s1", "t1", "h1", 1, "Other", time.Now(), state(v))
	}
	require.NoError(t, e.hub.Handle(ev(5)))
	require.NoError(t, e.hub.Handle(ev(5)))
	require.NoError(t, e.hub.Handle(ev(3)))
	require.NoError(t, e.hub.Handle(ev(6)))

	assert.Equal(t, int64(5), next(t, sub).Version)
	assert.Equal(t, int64(6), next(t, sub).Version)
	assert.Len(t, sub.Updates(), 0)
}

func TestSubscribe_SlowConsumerKeepsNewest(t *testing.T) {
	e := newEnv(t, 2)
	sub, err := e.hub.Subscribe(context.Background(), "account:s1")
	require.NoError(t, err)
	defer sub.Close()

	// Channel holds the initial value and the first award; the rest wait
	// in the backlog.
	for i := 0; i < 5; i++ {
		e.award(t, 1)
	}

	var last Update
	for last.Counters[shared.CounterPointsEarned] < 5 {
		u := next(t, sub)
		assert.Greater(t, u.Version, last.Version)
		last = u
	}
	assert.Equal(t, int64(5), last.Counters[shared.CounterPointsEarned])
}

func TestSubscribe_FullBufferKeepsEveryTopic(t *testing.T) {
	e := newEnv(t, 2)
	sub, err := e.hub.Subscribe(context.Background(), TopicAll)
	require.NoError(t, err)
	defer sub.Close()

	award := func(student string, studentVersion, houseVersion int64) shared.Event {
		return shared.NewPointsAwardedEvent("aw-"+student, student, "t1", "h9", 1, "Other", time.Now(),
			shared.AggregateState{Kind: shared.AggregateAccount, ID: student, Version: studentVersion, Counters: map[string]int64{}},
			shared.AggregateState{Kind: shared.AggregateHouse, ID: "h9", Version: houseVersion, Counters: map[string]int64{}},
		)
	}
	require.NoError(t, e.hub.Handle(award("sA", 1, 101)))
	require.NoError(t, e.hub.Handle(award("sB", 1, 102)))
	require.NoError(t, e.hub.Handle(award("sC", 1, 103)))

	latest := map[string]int64{}
	for len(latest) < 4 || latest["house:h9"] < 103 {
		u := next(t, sub)
		latest[u.Topic] = u.Version
	}
	assert.Equal(t, map[string]int64{
		"account:sA": 1,
		"account:sB": 1,
		"account:sC": 1,
		"house:h9":   103,
	}, latest)
}

func TestSubscribe_ProfileEditDeliversNewVersion(t *testing.T) {
	e := newEnv(t, 8)
	sub, err := e.hub.Subscribe(context.Background(), "account:s1")
	require.NoError(t, err)
	defer sub.Close()
	initial := next(t, sub)

	updated, err := e.coord.UpsertProfile(context.Background(), account.Caller{ID: "admin", Role: account.RoleAdmin},
		account.Profile{ID: "s1", DisplayName: "Ana", Role: account.RoleStudent, HouseID: "h1", Grade: 10})
	require.NoError(t, err)

	u := next(t, sub)
	assert.Equal(t, shared.EventProfileUpdated, u.EventType)
	assert.Equal(t, updated.Version, u.Version)
	assert.Greater(t, u.Version, initial.Version)
}

func TestSubscribe_ContextCancelCloses(t *testing.T) {
	e := newEnv(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := e.hub.Subscribe(ctx, "house:h1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.hub.Count())

	cancel()
	require.Eventually(t, func() bool { return e.hub.Count() == 0 }, time.Second, 5*time.Millisecond)

	_ = next(t, sub) // initial value still readable
	_, ok := <-sub.Updates()
	assert.False(t, ok)
}

func TestSubscribe_Errors(t *testing.T) {
	e := newEnv(t, 8)
	ctx := context.Background()

	_, err := e.hub.Subscribe(ctx, "planet:x")
	assert.True(t, shared.IsValidation(err))

	_, err = e.hub.Subscribe(ctx, "account:")
	assert.True(t, shared.IsValidation(err))

	_, err = e.hub.Subscribe(ctx, "item:nope")
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, 0, e.hub.Count())
}
