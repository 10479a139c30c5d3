package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/shared"
)

// SnapshotStore keeps the latest leaderboard snapshot per scope in the same
// database file as the ledger.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a SnapshotStore sharing the store's handle.
func NewSnapshotStore(s *Store) *SnapshotStore {
	return &SnapshotStore{db: s.db}
}

// Save implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Save(ctx context.Context, snap leaderboard.Snapshot) error {
	if err := snap.Scope.Validate(); err != nil {
		return err
	}
	ranks, err := json.Marshal(snap.Ranks)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot ranks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO leaderboard_snapshots (scope, taken_at, ranks)
		VALUES (?, ?, ?)
		ON CONFLICT (scope) DO UPDATE SET taken_at = excluded.taken_at, ranks = excluded.ranks
	`, string(snap.Scope), formatTime(snap.TakenAt), string(ranks))
	return mapError("save snapshot", err)
}

// Latest implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Latest(ctx context.Context, scope leaderboard.Scope) (leaderboard.Snapshot, error) {
	if err := scope.Validate(); err != nil {
		return leaderboard.Snapshot{}, err
	}
	var takenAt, ranks string
	err := s.db.QueryRowContext(ctx,
		"SELECT taken_at, ranks FROM leaderboard_snapshots WHERE scope = ?", string(scope),
	).Scan(&takenAt, &ranks)
	if errors.Is(err, sql.ErrNoRows) {
		return leaderboard.Snapshot{}, shared.ErrSnapshotNotFound
	}
	if err != nil {
		return leaderboard.Snapshot{}, mapError("latest snapshot", err)
	}

	snap := leaderboard.Snapshot{Scope: scope}
	if snap.TakenAt, err = parseTime(takenAt); err != nil {
		return leaderboard.Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(ranks), &snap.Ranks); err != nil {
		return leaderboard.Snapshot{}, fmt.Errorf("sqlite: decode snapshot ranks: %w", err)
	}
	return snap, nil
}
