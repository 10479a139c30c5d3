package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

func seed(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateHouse(ctx, house.House{ID: "h1", Name: "Phoenix", Grade: 9}))
	_, err := s.UpsertProfile(ctx, account.Profile{ID: "s1", Role: account.RoleStudent, HouseID: "h1", Grade: 9})
	require.NoError(t, err)
	return s
}

func TestRunInTx_CommitsStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, err := tx.GetAccount(ctx, "s1")
		if err != nil {
			return err
		}
		a.PointsEarned += 10
		if err := tx.SaveAccount(ctx, &a); err != nil {
			return err
		}
		assert.Equal(t, int64(2), a.Version)

		again, err := tx.GetAccount(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), again.PointsEarned, "reads see own writes")

		return tx.AppendAward(ctx, ledger.Award{ID: "aw1", StudentID: "s1", HouseID: "h1", Points: 10, Timestamp: time.Now()})
	})
	require.NoError(t, err)

	a, err := s.GetAccount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.PointsEarned)
	assert.Equal(t, int64(2), a.Version)

	awards, err := s.ListAwards(ctx, ledger.AwardFilter{StudentID: "s1"})
	require.NoError(t, err)
	assert.Len(t, awards, 1)
}

func TestRunInTx_ErrorDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, _ := tx.GetAccount(ctx, "s1")
		a.PointsEarned = 999
		require.NoError(t, tx.SaveAccount(ctx, &a))
		return shared.ErrInsufficientPoints
	})
	assert.ErrorIs(t, err, shared.ErrInsufficientPoints)

	a, _ := s.GetAccount(ctx, "s1")
	assert.Zero(t, a.PointsEarned)
	assert.Equal(t, int64(1), a.Version)
}

func TestRunInTx_DetectsConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, err := tx.GetAccount(ctx, "s1")
		require.NoError(t, err)

		// A competing transaction commits between our read and our commit.
		require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, other ledger.Tx) error {
			b, _ := other.GetAccount(ctx, "s1")
			b.PointsEarned += 5
			return other.SaveAccount(ctx, &b)
		}))

		a.PointsEarned += 10
		return tx.SaveAccount(ctx, &a)
	})
	assert.ErrorIs(t, err, shared.ErrConflict)

	a, _ := s.GetAccount(ctx, "s1")
	assert.Equal(t, int64(5), a.PointsEarned, "only the first commit applied")
}

func TestRunInTx_StaleVersionRejectedOnSave(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a := account.Account{ID: "s1", Version: 7}
		return tx.SaveAccount(ctx, &a)
	})
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestRunInTx_InsertItemTwiceFails(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	item := shop.Item{ID: "i1", Name: "Hoodie", Price: 30, Active: true}

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertItem(ctx, &item)
	}))
	assert.Equal(t, int64(1), item.Version)

	again := shop.Item{ID: "i1", Name: "Hoodie"}
	err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertItem(ctx, &again)
	})
	assert.True(t, shared.IsAlreadyExists(err))
}

func TestRunInTx_CancelledContext(t *testing.T) {
	s := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestReader_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	item := shop.Item{ID: "i1", Name: "Pin", Price: 5, StockQuantity: shop.Stock(3), Active: true}
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertItem(ctx, &item)
	}))

	got, err := s.GetItem(ctx, "i1")
	require.NoError(t, err)
	*got.StockQuantity = 100

	again, _ := s.GetItem(ctx, "i1")
	assert.Equal(t, int64(3), *again.StockQuantity)
}

func TestCatalog_UpsertProfileKeepsCounters(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, _ := tx.GetAccount(ctx, "s1")
		a.PointsEarned = 40
		return tx.SaveAccount(ctx, &a)
	}))

	a, err := s.UpsertProfile(ctx, account.Profile{ID: "s1", DisplayName: "Ada", Role: account.RoleStudent, HouseID: "h1", Grade: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(40), a.PointsEarned)
	assert.Equal(t, "Ada", a.DisplayName)
	assert.Equal(t, int64(3), a.Version)

	_, err = s.UpsertProfile(ctx, account.Profile{ID: "s2", Role: account.RoleStudent, HouseID: "nope", Grade: 9})
	assert.True(t, shared.IsNotFound(err))
}

func TestCatalog_CreateHouseTwice(t *testing.T) {
	s := seed(t)
	err := s.CreateHouse(context.Background(), house.House{ID: "h1", Name: "Again", Grade: 9})
	assert.ErrorIs(t, err, shared.ErrHouseAlreadyExists)
}

func TestListAwards_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for i, id := range []string{"a", "b", "c"} {
			if err := tx.AppendAward(ctx, ledger.Award{ID: id, StudentID: "s1", HouseID: "h1", Points: 1, Timestamp: base.Add(time.Duration(i) * time.Hour)}); err != nil {
				return err
			}
		}
		return nil
	}))

	awards, err := s.ListAwards(ctx, ledger.AwardFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, awards, 2)
	assert.Equal(t, "c", awards[0].ID)
	assert.Equal(t, "b", awards[1].ID)
}

func TestReadAuditView_WaitsForCommit(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	committed := make(chan error, 1)
	go func() {
		committed <- s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			a, err := tx.GetAccount(ctx, "s1")
			if err != nil {
				return err
			}
			a.PointsEarned += 10
			if err := tx.SaveAccount(ctx, &a); err != nil {
				return err
			}
			close(entered)
			<-release
			return tx.AppendAward(ctx, ledger.Award{ID: "late", StudentID: "s1", HouseID: "h1", Points: 10, Timestamp: time.Now()})
		})
	}()

	// Staged writes are invisible to the view.
	<-entered
	view, err := s.ReadAuditView(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Awards)
	for _, a := range view.Accounts {
		if a.ID == "s1" {
			assert.Zero(t, a.PointsEarned)
		}
	}

	close(release)
	require.NoError(t, <-committed)

	view, err = s.ReadAuditView(ctx)
	require.NoError(t, err)
	require.Len(t, view.Awards, 1)
	for _, a := range view.Accounts {
		if a.ID == "s1" {
			assert.Equal(t, int64(10), a.PointsEarned)
		}
	}
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore()

	_, err := store.Latest(ctx, leaderboard.ScopeHouses)
	assert.ErrorIs(t, err, shared.ErrSnapshotNotFound)

	r := leaderboard.Compute([]leaderboard.Candidate{{ID: "a", Score: 2}, {ID: "b", Score: 1}}, nil)
	require.NoError(t, store.Save(ctx, leaderboard.NewSnapshot(leaderboard.ScopeHouses, r, time.Now())))

	snap, err := store.Latest(ctx, leaderboard.ScopeHouses)
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Rank(1), snap.RankOf("a"))
	assert.Equal(t, leaderboard.Rank(2), snap.RankOf("b"))
}
