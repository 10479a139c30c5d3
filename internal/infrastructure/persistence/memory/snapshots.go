package memory

import (
	"context"
	"sync"

	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/shared"
)

// SnapshotStore keeps the latest leaderboard snapshot per scope in memory.
// It is the fallback when Redis is not configured.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[leaderboard.Scope]leaderboard.Snapshot
}

var _ leaderboard.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[leaderboard.Scope]leaderboard.Snapshot)}
}

// Save implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Save(ctx context.Context, snap leaderboard.Snapshot) error {
	if err := snap.Scope.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.snaps[snap.Scope] = cloneSnapshot(snap)
	s.mu.Unlock()
	return nil
}

// Latest implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Latest(ctx context.Context, scope leaderboard.Scope) (leaderboard.Snapshot, error) {
	s.mu.RLock()
	snap, ok := s.snaps[scope]
	s.mu.RUnlock()
	if !ok {
		return leaderboard.Snapshot{}, shared.ErrSnapshotNotFound
	}
	return cloneSnapshot(snap), nil
}

func cloneSnapshot(snap leaderboard.Snapshot) leaderboard.Snapshot {
	ranks := make(map[string]leaderboard.Rank, len(snap.Ranks))
	for id, r := range snap.Ranks {
		ranks[id] = r
	}
	snap.Ranks = ranks
	return snap
}
