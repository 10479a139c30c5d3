package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/shared"
)

// SnapshotStore keeps the latest leaderboard snapshot per scope in the
// leaderboard_snapshots table.
type SnapshotStore struct {
	conn *Connection
}

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(conn *Connection) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Save implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Save(ctx context.Context, snap leaderboard.Snapshot) error {
	if err := snap.Scope.Validate(); err != nil {
		return err
	}
	ranks, err := json.Marshal(snap.Ranks)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot ranks: %w", err)
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO leaderboard_snapshots (scope, taken_at, ranks)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope) DO UPDATE SET taken_at = EXCLUDED.taken_at, ranks = EXCLUDED.ranks
	`, string(snap.Scope), snap.TakenAt, ranks)
	return mapError("save snapshot", err)
}

// Latest implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Latest(ctx context.Context, scope leaderboard.Scope) (leaderboard.Snapshot, error) {
	if err := scope.Validate(); err != nil {
		return leaderboard.Snapshot{}, err
	}
	var (
		snap  = leaderboard.Snapshot{Scope: scope}
		ranks []byte
	)
	err := s.conn.QueryRow(ctx,
		"SELECT taken_at, ranks FROM leaderboard_snapshots WHERE scope = $1", string(scope),
	).Scan(&snap.TakenAt, &ranks)
	if IsNoRows(err) {
		return leaderboard.Snapshot{}, shared.ErrSnapshotNotFound
	}
	if err != nil {
		return leaderboard.Snapshot{}, mapError("latest snapshot", err)
	}
	if err := json.Unmarshal(ranks, &snap.Ranks); err != nil {
		return leaderboard.Snapshot{}, fmt.Errorf("postgres: decode snapshot ranks: %w", err)
	}
	return snap, nil
}
