package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecup/points-engine/internal/application/command"
	"github.com/housecup/points-engine/internal/application/query"
	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/infrastructure/persistence/memory"
	"github.com/housecup/points-engine/pkg/logger"
	"github.com/housecup/points-engine/pkg/timeutil"
)

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

var now = time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*memory.Store, *query.Service, *memory.SnapshotStore) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateHouse(ctx, house.House{ID: "h1", Name: "Phoenix", Grade: 9}))
	require.NoError(t, store.CreateHouse(ctx, house.House{ID: "h2", Name: "Dragon", Grade: 10}))
	for _, p := range []account.Profile{
		{ID: "s1", Role: account.RoleStudent, HouseID: "h1", Grade: 9},
		{ID: "s2", Role: account.RoleStudent, HouseID: "h2", Grade: 10},
		{ID: "t1", Role: account.RoleTeacher},
	} {
		_, err := store.UpsertProfile(ctx, p)
		require.NoError(t, err)
	}

	clock := timeutil.Fixed(now)
	coord := command.NewCoordinator(store, store, nil, logger.Discard(),
		command.DefaultCoordinatorConfig(), command.WithClock(clock.Now))
	_, err := coord.AwardPoints(ctx, command.AwardPointsCommand{
		Caller:    account.Caller{ID: "t1", Role: account.RoleTeacher},
		StudentID: "s2", HouseID: "h2", Points: 25, Reason: "lab report",
	})
	require.NoError(t, err)

	snaps := memory.NewSnapshotStore()
	return store, query.NewService(store, snaps, clock, logger.Discard()), snaps
}

func TestSnapshotLeaderboardJob(t *testing.T) {
	_, svc, snaps := setup(t)
	rec := &recorder{}
	job := NewSnapshotLeaderboardJob(svc, snaps, rec, logger.Discard(), time.Minute)
	assert.Equal(t, SnapshotLeaderboardName, job.Name())
	assert.NotEmpty(t, job.Description())

	require.NoError(t, job.Run(context.Background()))

	houses, err := snaps.Latest(context.Background(), leaderboard.ScopeHouses)
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Rank(1), houses.RankOf("h2"))
	assert.Equal(t, leaderboard.Rank(2), houses.RankOf("h1"))
	assert.True(t, now.Equal(houses.TakenAt))

	grade, err := snaps.Latest(context.Background(), leaderboard.GradeScope(10))
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Rank(1), grade.RankOf("s2"))

	// houses, students, two house scopes, two grade scopes
	assert.Len(t, rec.ofType(shared.EventSnapshotTaken), 6)
}

type failingSaves struct {
	*memory.SnapshotStore
	fail leaderboard.Scope
}

func (f failingSaves) Save(ctx context.Context, snap leaderboard.Snapshot) error {
	if snap.Scope == f.fail {
		return shared.ErrStoreUnavailable
	}
	return f.SnapshotStore.Save(ctx, snap)
}

func TestSnapshotLeaderboardJob_PartialFailure(t *testing.T) {
	_, svc, snaps := setup(t)
	job := NewSnapshotLeaderboardJob(svc, failingSaves{snaps, leaderboard.ScopeStudents}, nil, logger.Discard(), 0)

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)

	_, err = snaps.Latest(context.Background(), leaderboard.ScopeHouses)
	assert.NoError(t, err, "other scopes are still stored")
	_, err = snaps.Latest(context.Background(), leaderboard.ScopeStudents)
	assert.ErrorIs(t, err, shared.ErrSnapshotNotFound)
}

func TestAuditLedgerJob_PublishesDrift(t *testing.T) {
	store, svc, _ := setup(t)
	rec := &recorder{}
	job := NewAuditLedgerJob(svc, rec, logger.Discard(), time.Minute)
	assert.Equal(t, AuditLedgerName, job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, rec.ofType(shared.EventLedgerDrift))

	require.NoError(t, store.RunInTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		h, err := tx.GetHouse(ctx, "h2")
		if err != nil {
			return err
		}
		h.TotalPoints += 5
		return tx.SaveHouse(ctx, &h)
	}))

	require.NoError(t, job.Run(context.Background()))
	drifts := rec.ofType(shared.EventLedgerDrift)
	require.Len(t, drifts, 1)
	ev := drifts[0].(shared.LedgerDriftEvent)
	assert.Equal(t, "h2", ev.AggregateID())
	assert.Equal(t, int64(30), ev.Stored)
	assert.Equal(t, int64(25), ev.Expected)
}

type brokenAuditor struct{}

func (brokenAuditor) AuditLedger(context.Context) (*query.AuditReport, error) {
	return nil, shared.ErrStoreUnavailable
}

func TestAuditLedgerJob_Failure(t *testing.T) {
	job := NewAuditLedgerJob(brokenAuditor{}, nil, nil, 0)
	err := job.Run(context.Background())
	assert.True(t, errors.Is(err, shared.ErrStoreUnavailable))
}
