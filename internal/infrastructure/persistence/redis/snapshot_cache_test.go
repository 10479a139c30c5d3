package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/pkg/circuitbreaker"
)

func TestSnapshotCodec(t *testing.T) {
	r := leaderboard.Compute([]leaderboard.Candidate{
		{ID: "a", Score: 50}, {ID: "b", Score: 70},
	}, nil)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	snap := leaderboard.NewSnapshot(leaderboard.ScopeHouses, r, at)

	got := decodeSnapshot(encodeSnapshot(snap))
	assert.Equal(t, snap.Scope, got.Scope)
	assert.True(t, at.Equal(got.TakenAt))
	assert.Equal(t, leaderboard.Rank(1), got.RankOf("b"))
	assert.Equal(t, leaderboard.Rank(2), got.RankOf("a"))
}

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "housecup:snapshot:house:h1", SnapshotKey(string(leaderboard.HouseScope("h1"))))
}

func TestSnapshotCache_UnreachableRedisFailsFast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.MaxRetries = 0
	cfg.DialTimeout = 50 * time.Millisecond
	cache := NewCacheLazy(cfg)
	defer cache.Close()

	breaker := circuitbreaker.New("redis-test",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithTimeout(time.Hour),
	)
	sc := NewSnapshotCache(cache, breaker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := sc.Latest(ctx, leaderboard.ScopeHouses)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	}
	assert.True(t, breaker.IsOpen())

	_, err := sc.Latest(ctx, leaderboard.ScopeHouses)
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestSnapshotCache_RejectsInvalidScope(t *testing.T) {
	sc := NewSnapshotCache(NewCacheLazy(DefaultConfig()), nil)
	_, err := sc.Latest(context.Background(), leaderboard.Scope("bogus"))
	assert.ErrorIs(t, err, shared.ErrInvalidScope)
}
