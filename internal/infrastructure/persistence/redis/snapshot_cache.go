package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/pkg/circuitbreaker"
)

// SnapshotCache stores the latest leaderboard snapshot per scope in Redis so
// every engine instance computes trends against the same baseline.
//
// Calls go through a circuit breaker: while Redis is down, Save and Latest
// fail fast with shared.ErrStoreUnavailable and callers fall back to
// "no previous snapshot".
type SnapshotCache struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
	ttl     time.Duration
}

var _ leaderboard.SnapshotStore = (*SnapshotCache)(nil)

// NewSnapshotCache creates a snapshot cache. A nil breaker disables the
// fail-fast behaviour.
func NewSnapshotCache(cache *Cache, breaker *circuitbreaker.CircuitBreaker) *SnapshotCache {
	return &SnapshotCache{cache: cache, breaker: breaker, ttl: TTLSnapshot}
}

const (
	// PrefixSnapshot namespaces leaderboard snapshots.
	PrefixSnapshot = "housecup:snapshot:"

	// TTLSnapshot bounds how long an unrefreshed snapshot is kept. The
	// snapshot job normally overwrites it long before this.
	TTLSnapshot = 7 * 24 * time.Hour
)

// SnapshotKey returns the key holding the latest snapshot of scope.
func SnapshotKey(scope string) string {
	return PrefixSnapshot + scope
}

// snapshotRecord is the stored JSON layout.
type snapshotRecord struct {
	Scope   string         `json:"scope"`
	TakenAt time.Time      `json:"taken_at"`
	Ranks   map[string]int `json:"ranks"`
}

func encodeSnapshot(s leaderboard.Snapshot) snapshotRecord {
	ranks := make(map[string]int, len(s.Ranks))
	for id, r := range s.Ranks {
		ranks[id] = int(r)
	}
	return snapshotRecord{Scope: string(s.Scope), TakenAt: s.TakenAt.UTC(), Ranks: ranks}
}

func decodeSnapshot(r snapshotRecord) leaderboard.Snapshot {
	ranks := make(map[string]leaderboard.Rank, len(r.Ranks))
	for id, rank := range r.Ranks {
		ranks[id] = leaderboard.Rank(rank)
	}
	return leaderboard.Snapshot{Scope: leaderboard.Scope(r.Scope), TakenAt: r.TakenAt, Ranks: ranks}
}

// Save implements leaderboard.SnapshotStore.
func (s *SnapshotCache) Save(ctx context.Context, snap leaderboard.Snapshot) error {
	if err := snap.Scope.Validate(); err != nil {
		return err
	}
	return s.guard(ctx, func(ctx context.Context) error {
		return s.cache.SetJSON(ctx, SnapshotKey(string(snap.Scope)), encodeSnapshot(snap), s.ttl)
	})
}

// Latest implements leaderboard.SnapshotStore.
func (s *SnapshotCache) Latest(ctx context.Context, scope leaderboard.Scope) (leaderboard.Snapshot, error) {
	if err := scope.Validate(); err != nil {
		return leaderboard.Snapshot{}, err
	}
	var rec snapshotRecord
	var miss bool
	err := s.guard(ctx, func(ctx context.Context) error {
		err := s.cache.GetJSON(ctx, SnapshotKey(string(scope)), &rec)
		if errors.Is(err, ErrCacheMiss) {
			// A miss is an answer, not a Redis failure.
			miss = true
			return nil
		}
		return err
	})
	if err != nil {
		return leaderboard.Snapshot{}, err
	}
	if miss {
		return leaderboard.Snapshot{}, shared.ErrSnapshotNotFound
	}
	return decodeSnapshot(rec), nil
}

func (s *SnapshotCache) guard(ctx context.Context, fn func(context.Context) error) error {
	var err error
	if s.breaker == nil {
		err = fn(ctx)
	} else {
		err = s.breaker.Execute(ctx, fn)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCacheSerialization) {
		return err
	}
	return fmt.Errorf("%w: snapshot cache: %w", shared.ErrStoreUnavailable, err)
}
