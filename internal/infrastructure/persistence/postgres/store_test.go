package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
)

var (
	_ ledger.Store              = (*Store)(nil)
	_ ledger.Catalog            = (*Store)(nil)
	_ ledger.Tx                 = (*tx)(nil)
	_ leaderboard.SnapshotStore = (*SnapshotStore)(nil)
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   error
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, is: shared.ErrConflict},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, is: shared.ErrConflict},
		{name: "connection exception", err: &pgconn.PgError{Code: "08006"}, is: shared.ErrStoreUnavailable},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, is: shared.ErrStoreUnavailable},
		{name: "closed pool", err: ErrConnectionClosed, is: shared.ErrStoreUnavailable},
		{name: "begin failed", err: fmt.Errorf("%w: dial", ErrTransactionFailed), is: shared.ErrStoreUnavailable},
		{name: "commit outcome unknown", err: fmt.Errorf("%w: unexpected EOF", shared.ErrCommitUnknown), is: shared.ErrCommitUnknown},
		{name: "cancelled", err: context.Canceled, is: context.Canceled},
		{name: "domain error", err: shared.ErrOutOfStock, is: shared.ErrOutOfStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("op", tt.err), tt.is)
		})
	}

	assert.NoError(t, mapError("op", nil))

	plain := mapError("op", &pgconn.PgError{Code: "23505"})
	assert.False(t, shared.IsConflict(plain))
	assert.False(t, shared.IsUnavailable(plain))
	assert.True(t, IsUniqueViolation(plain))
}

func TestCommitError(t *testing.T) {
	lost := mapError("award", commitError(io.ErrUnexpectedEOF))
	assert.True(t, shared.IsCommitUnknown(lost))
	assert.True(t, shared.IsUnavailable(lost))
	assert.False(t, shared.IsConflict(lost))
	assert.ErrorIs(t, lost, io.ErrUnexpectedEOF)

	refused := mapError("award", commitError(&pgconn.PgError{Code: "40001"}))
	assert.True(t, shared.IsConflict(refused))
	assert.False(t, shared.IsCommitUnknown(refused))

	rolledBack := commitError(pgx.ErrTxCommitRollback)
	assert.ErrorIs(t, rolledBack, pgx.ErrTxCommitRollback)
	assert.False(t, shared.IsCommitUnknown(rolledBack))
}

func TestWhereBuilder(t *testing.T) {
	var w where
	assert.Empty(t, w.sql())

	w.add("role = ?", "student")
	w.add("grade = ?", 9)
	assert.Equal(t, " WHERE role = $1 AND grade = $2", w.sql())
	assert.Equal(t, []any{"student", 9}, w.args)
}

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Integration (requires HOUSECUP_TEST_DATABASE_URL)
// ─────────────────────────────────────────────────────────────────────────────

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("HOUSECUP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("HOUSECUP_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.URL = url
	conn, err := NewConnection(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = conn.Exec(ctx, `DROP TABLE IF EXISTS leaderboard_snapshots, purchase_events, award_events,
		shop_requests, shop_items, accounts, houses, schema_migrations`)
	require.NoError(t, err)
	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	return NewStore(conn)
}

func TestStore_ConditionalUpdateConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateHouse(ctx, house.House{ID: "h1", Name: "Phoenix", Grade: 9}))
	_, err := s.UpsertProfile(ctx, account.Profile{ID: "s1", Role: account.RoleStudent, HouseID: "h1", Grade: 9})
	require.NoError(t, err)

	stale, err := s.GetHouse(ctx, "h1")
	require.NoError(t, err)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		h, err := tx.GetHouse(ctx, "h1")
		if err != nil {
			return err
		}
		h.TotalPoints = 10
		return tx.SaveHouse(ctx, &h)
	}))

	err = s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		stale.TotalPoints = 99
		return tx.SaveHouse(ctx, &stale)
	})
	assert.ErrorIs(t, err, shared.ErrConflict)

	h, err := s.GetHouse(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), h.TotalPoints)
	assert.Equal(t, int64(2), h.Version)
}

func TestStore_ErrorRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateHouse(ctx, house.House{ID: "h1", Name: "Phoenix", Grade: 9}))
	_, err := s.UpsertProfile(ctx, account.Profile{ID: "s1", Role: account.RoleStudent, HouseID: "h1", Grade: 9})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.AppendAward(ctx, ledger.Award{
			ID: "a1", StudentID: "s1", TeacherID: "t1", HouseID: "h1",
			Points: 5, Reason: "r", Category: ledger.CategoryOther, Timestamp: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	awards, err := s.ListAwards(ctx, ledger.AwardFilter{})
	require.NoError(t, err)
	assert.Empty(t, awards)
}

func TestStore_CatalogAndSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateHouse(ctx, house.House{ID: "h1", Name: "Phoenix", Grade: 9}))
	assert.ErrorIs(t, s.CreateHouse(ctx, house.House{ID: "h1", Name: "Again", Grade: 9}), shared.ErrHouseAlreadyExists)

	_, err := s.UpsertProfile(ctx, account.Profile{ID: "s1", Role: account.RoleStudent, HouseID: "nope", Grade: 9})
	assert.ErrorIs(t, err, shared.ErrHouseNotFound)

	_, err = s.SetItemActive(ctx, "missing", false)
	assert.ErrorIs(t, err, shared.ErrItemNotFound)

	snaps := NewSnapshotStore(s.conn)
	_, err = snaps.Latest(ctx, leaderboard.ScopeHouses)
	assert.ErrorIs(t, err, shared.ErrSnapshotNotFound)

	taken := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, snaps.Save(ctx, leaderboard.Snapshot{
		Scope: leaderboard.ScopeHouses, TakenAt: taken, Ranks: map[string]leaderboard.Rank{"h1": 1},
	}))
	got, err := snaps.Latest(ctx, leaderboard.ScopeHouses)
	require.NoError(t, err)
	assert.True(t, taken.Equal(got.TakenAt))
	assert.Equal(t, leaderboard.Rank(1), got.RankOf("h1"))
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, IsNoRows(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)))
	assert.False(t, IsNoRows(errors.New("other")))
}
