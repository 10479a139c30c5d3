package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecup/points-engine/internal/application/command"
	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
	"github.com/housecup/points-engine/internal/infrastructure/persistence/memory"
	"github.com/housecup/points-engine/pkg/logger"
	"github.com/housecup/points-engine/pkg/timeutil"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

var (
	admin = account.Caller{ID: "admin", Role: account.RoleAdmin}
	t1    = account.Caller{ID: "t1", Role: account.RoleTeacher}
)

// Wednesday.
var now = time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

type fixture struct {
	store     *memory.Store
	snapshots *memory.SnapshotStore
	clock     *timeutil.Clock
	coord     *command.Coordinator
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateHouse(ctx, house.House{ID: "h1", Name: "Phoenix", Grade: 9, ColorHex: "#FF0000"}))
	require.NoError(t, store.CreateHouse(ctx, house.House{ID: "h2", Name: "Dragon", Grade: 10}))
	for _, p := range []account.Profile{
		{ID: "s1", DisplayName: "Ana", Role: account.RoleStudent, HouseID: "h1", Grade: 9},
		{ID: "s2", DisplayName: "Ben", Role: account.RoleStudent, HouseID: "h1", Grade: 9},
		{ID: "s3", DisplayName: "Cy", Role: account.RoleStudent, HouseID: "h2", Grade: 10},
		{ID: "t1", DisplayName: "Ms. Park", Role: account.RoleTeacher},
		{ID: "t2", DisplayName: "Mr. Lee", Role: account.RoleTeacher},
	} {
		_, err := store.UpsertProfile(ctx, p)
		require.NoError(t, err)
	}

	clock := timeutil.Fixed(now)
	snapshots := memory.NewSnapshotStore()
	return &fixture{
		store:     store,
		snapshots: snapshots,
		clock:     clock,
		coord: command.NewCoordinator(store, store, nopPublisher{}, logger.Discard(),
			command.DefaultCoordinatorConfig(), command.WithClock(clock.Now)),
		svc: NewService(store, snapshots, clock, logger.Discard()),
	}
}

func (f *fixture) award(t *testing.T, by account.Caller, studentID, houseID string, points int64) {
	t.Helper()
	_, err := f.coord.AwardPoints(context.Background(), command.AwardPointsCommand{
		Caller: by, StudentID: studentID, HouseID: houseID, Points: points, Reason: "well done",
	})
	require.NoError(t, err)
}

func (f *fixture) at(ts time.Time) {
	f.clock.Set(func() time.Time { return ts })
}

func (f *fixture) item(t *testing.T, price int64) shop.Item {
	t.Helper()
	ctx := context.Background()
	req, err := f.coord.SubmitShopRequest(ctx, command.SubmitShopRequestCommand{
		Caller: t1, ItemName: "Sticker", SuggestedPrice: price, Category: shop.CategoryApparel,
	})
	require.NoError(t, err)
	it, err := f.coord.ApproveShopRequest(ctx, command.ApproveShopRequestCommand{Caller: admin, RequestID: req.ID})
	require.NoError(t, err)
	return it
}

func (f *fixture) buy(t *testing.T, studentID, itemID string) ledger.Purchase {
	t.Helper()
	p, err := f.coord.PurchaseItem(context.Background(), command.PurchaseItemCommand{
		Caller:    account.Caller{ID: studentID, Role: account.RoleStudent},
		StudentID: studentID,
		ItemID:    itemID,
	})
	require.NoError(t, err)
	return p
}

func ids(entries []leaderboard.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// One-shot reads
// ─────────────────────────────────────────────────────────────────────────────

func TestGetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.award(t, t1, "s1", "h1", 40)
	it := f.item(t, 15)
	p := f.buy(t, "s1", it.ID)

	acc, err := f.svc.GetAccount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), acc.PointsEarned)
	assert.Equal(t, int64(15), acc.PointsSpent)
	assert.Equal(t, int64(25), acc.AvailablePoints)

	h, err := f.svc.GetHouse(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), h.TotalPoints)

	iv, err := f.svc.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), iv.SoldCount)
	assert.Nil(t, iv.Remaining)
	assert.True(t, iv.Available)

	pv, err := f.svc.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PurchasePending, pv.Status)
	assert.Equal(t, int64(15), pv.PriceAtPurchase)

	_, err = f.svc.GetAccount(ctx, "nobody")
	assert.True(t, shared.IsNotFound(err))

	_, err = f.svc.ListShopRequests(ctx, shop.RequestStatus("bogus"))
	assert.True(t, shared.IsValidation(err))

	reqs, err := f.svc.ListShopRequests(ctx, shop.RequestApproved)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

// ─────────────────────────────────────────────────────────────────────────────
// Leaderboards
// ─────────────────────────────────────────────────────────────────────────────

func TestHouseLeaderboard_TiesAndNoSnapshot(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.HouseLeaderboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"h1", "h2"}, ids(res.Entries))
	assert.Equal(t, leaderboard.Rank(1), res.Entries[0].Rank)
	assert.Equal(t, leaderboard.Rank(2), res.Entries[1].Rank)
	for _, e := range res.Entries {
		assert.Equal(t, leaderboard.TrendStable, e.Trend)
	}
	assert.Nil(t, res.ComparedTo)
	assert.Equal(t, "#FF0000", res.Entries[0].ColorHex)
}

func TestHouseLeaderboard_TrendsAgainstSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.award(t, t1, "s3", "h2", 30)
	f.award(t, t1, "s1", "h1", 10)

	snaps, err := f.svc.Snapshots(ctx)
	require.NoError(t, err)
	for _, s := range snaps {
		require.NoError(t, f.snapshots.Save(ctx, s))
	}

	f.award(t, t1, "s1", "h1", 50)

	res, err := f.svc.HouseLeaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "h1", res.Entries[0].ID)
	assert.Equal(t, leaderboard.TrendUp, res.Entries[0].Trend)
	assert.Equal(t, leaderboard.RankChange(1), res.Entries[0].RankChange)
	assert.Equal(t, leaderboard.TrendDown, res.Entries[1].Trend)
	require.NotNil(t, res.ComparedTo)
	assert.Equal(t, now, *res.ComparedTo)
}

type brokenSnapshots struct{}

func (brokenSnapshots) Save(context.Context, leaderboard.Snapshot) error {
	return shared.ErrStoreUnavailable
}

func (brokenSnapshots) Latest(context.Context, leaderboard.Scope) (leaderboard.Snapshot, error) {
	return leaderboard.Snapshot{}, shared.ErrStoreUnavailable
}

func TestHouseLeaderboard_UnavailableSnapshotsDegradeToStable(t *testing.T) {
	f := newFixture(t)
	f.award(t, t1, "s3", "h2", 30)
	svc := NewService(f.store, brokenSnapshots{}, f.clock, logger.Discard())

	res, err := svc.HouseLeaderboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h2", "h1"}, ids(res.Entries))
	assert.Equal(t, leaderboard.TrendStable, res.Entries[0].Trend)
	assert.Nil(t, res.ComparedTo)
}

func TestStudentLeaderboard_Scopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.award(t, t1, "s1", "h1", 10)
	f.award(t, t1, "s2", "h1", 25)
	f.award(t, t1, "s3", "h2", 30)

	all, err := f.svc.StudentLeaderboard(ctx, StudentLeaderboardQuery{})
	require.NoError(t, err)
	assert.Equal(t, leaderboard.ScopeStudents, all.Scope)
	assert.Equal(t, []string{"s3", "s2", "s1"}, ids(all.Entries))

	inHouse, err := f.svc.StudentLeaderboard(ctx, StudentLeaderboardQuery{HouseID: "h1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, leaderboard.HouseScope("h1"), inHouse.Scope)
	assert.Equal(t, []string{"s2"}, ids(inHouse.Entries))
	assert.Equal(t, 2, inHouse.Total)

	inGrade, err := f.svc.StudentLeaderboard(ctx, StudentLeaderboardQuery{Grade: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, ids(inGrade.Entries))

	_, err = f.svc.StudentLeaderboard(ctx, StudentLeaderboardQuery{HouseID: "missing"})
	assert.True(t, shared.IsNotFound(err))
}

func TestStudentLeaderboardQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   StudentLeaderboardQuery
		wantErr bool
		limit   int
	}{
		{name: "defaults", query: StudentLeaderboardQuery{}, limit: defaultLeaderboardLimit},
		{name: "capped", query: StudentLeaderboardQuery{Limit: 1000}, limit: maxLeaderboardLimit},
		{name: "negative limit", query: StudentLeaderboardQuery{Limit: -1}, wantErr: true},
		{name: "house and grade", query: StudentLeaderboardQuery{HouseID: "h1", Grade: 9}, wantErr: true},
		{name: "bad grade", query: StudentLeaderboardQuery{Grade: 13}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query
			err := q.Validate()
			if tt.wantErr {
				assert.True(t, shared.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, q.Limit)
		})
	}
}

func TestStudentRank(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.award(t, t1, "s1", "h1", 10)
	f.award(t, t1, "s2", "h1", 25)
	f.award(t, t1, "s3", "h2", 30)

	r, err := f.svc.StudentRank(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Rank(2), r.HouseRank)
	assert.Equal(t, 2, r.HouseSize)
	assert.Equal(t, leaderboard.Rank(2), r.GradeRank)
	assert.Equal(t, 2, r.GradeSize)
	assert.Equal(t, leaderboard.Rank(3), r.OverallRank)
	assert.Equal(t, 3, r.OverallSize)
	assert.Equal(t, int64(15), r.PointsToNext)

	leader, err := f.svc.StudentRank(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Rank(1), leader.OverallRank)
	assert.Zero(t, leader.PointsToNext)

	_, err = f.svc.StudentRank(ctx, "t1")
	assert.ErrorIs(t, err, shared.ErrNotAStudent)
}

// ─────────────────────────────────────────────────────────────────────────────
// Statistics
// ─────────────────────────────────────────────────────────────────────────────

func TestHouseStats_WeekAndMonthWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.at(time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC))
	f.award(t, t1, "s1", "h1", 5)
	f.at(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	f.award(t, t1, "s1", "h1", 7)
	f.at(now)
	f.award(t, t1, "s2", "h1", 11)
	f.award(t, t1, "s3", "h2", 100)

	stats, err := f.svc.HouseStats(ctx, "h1")
	require.NoError(t, err)

	assert.Equal(t, int64(23), stats.TotalPoints)
	assert.Equal(t, int64(11), stats.WeeklyPoints)
	assert.Equal(t, int64(18), stats.MonthlyPoints)
	assert.Equal(t, leaderboard.Rank(2), stats.Rank)
	assert.Equal(t, 2, stats.HouseCount)
	assert.Equal(t, 2, stats.StudentCount)

	require.Len(t, stats.TopContributors, 2)
	assert.Equal(t, "s2", stats.TopContributors[0].StudentID)
	assert.Equal(t, "Ben", stats.TopContributors[0].DisplayName)
	assert.Equal(t, int64(7), stats.TopContributors[1].Points)

	require.Len(t, stats.RecentAwards, 3)
	assert.Equal(t, "s2", stats.RecentAwards[0].StudentID)
}

func TestTopContributors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.award(t, t1, "s1", "h1", 10)
	f.award(t, t1, "s2", "h1", 10)
	f.award(t, t1, "s1", "h1", 1)

	top, err := f.svc.TopContributors(ctx, "h1", 1, time.Time{})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "s1", top[0].StudentID)
	assert.Equal(t, 2, top[0].Awards)

	_, err = f.svc.TopContributors(ctx, "h1", 0, time.Time{})
	assert.True(t, shared.IsValidation(err))
}

// ─────────────────────────────────────────────────────────────────────────────
// Reports & history
// ─────────────────────────────────────────────────────────────────────────────

func TestReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.award(t, t1, "s1", "h1", 50)
	f.award(t, t1, "s2", "h1", 50)
	f.award(t, admin, "s3", "h2", 5)
	it := f.item(t, 10)
	f.buy(t, "s2", it.ID)
	f.buy(t, "s1", it.ID)
	f.buy(t, "s2", it.ID)

	top, err := f.svc.TopStudents(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids(top))

	buyers, err := f.svc.TopPurchasers(ctx, 5, time.Time{})
	require.NoError(t, err)
	require.Len(t, buyers, 2)
	assert.Equal(t, "s2", buyers[0].StudentID)
	assert.Equal(t, int64(2), buyers[0].Purchases)
	assert.Equal(t, int64(20), buyers[0].PointsSpent)

	teachers, err := f.svc.TeacherActivity(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, teachers, 3)
	assert.Equal(t, "t1", teachers[0].TeacherID)
	assert.Equal(t, int64(100), teachers[0].PointsGiven)
	assert.Equal(t, "admin", teachers[1].TeacherID)
	assert.Equal(t, "t2", teachers[2].TeacherID)
	assert.Zero(t, teachers[2].Awards)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.award(t, t1, "s1", "h1", 30)
	f.award(t, t1, "s2", "h1", 5)
	it := f.item(t, 10)
	first := f.buy(t, "s1", it.ID)
	f.buy(t, "s1", it.ID)
	_, err := f.coord.FulfillPurchase(ctx, command.ResolvePurchaseCommand{Caller: admin, PurchaseID: first.ID})
	require.NoError(t, err)

	awards, err := f.svc.AwardHistory(ctx, AwardHistoryQuery{StudentID: "s1"})
	require.NoError(t, err)
	require.Len(t, awards, 1)
	assert.Equal(t, int64(30), awards[0].Points)

	pending, err := f.svc.PurchaseHistory(ctx, PurchaseHistoryQuery{Status: ledger.PurchasePending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotEqual(t, first.ID, pending[0].ID)

	all, err := f.svc.PurchaseHistory(ctx, PurchaseHistoryQuery{ItemID: it.ID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.svc.PurchaseHistory(ctx, PurchaseHistoryQuery{Status: "lost"})
	assert.True(t, shared.IsValidation(err))

	_, err = f.svc.AwardHistory(ctx, AwardHistoryQuery{Limit: -1})
	assert.True(t, shared.IsValidation(err))

	_, err = f.svc.AwardHistory(ctx, AwardHistoryQuery{Since: now, Until: now.Add(-time.Hour)})
	assert.True(t, shared.IsValidation(err))
}

// ─────────────────────────────────────────────────────────────────────────────
// Snapshots & audit
// ─────────────────────────────────────────────────────────────────────────────

func TestSnapshots_CoverEveryScope(t *testing.T) {
	f := newFixture(t)
	f.award(t, t1, "s2", "h1", 3)

	snaps, err := f.svc.Snapshots(context.Background())
	require.NoError(t, err)

	scopes := make([]leaderboard.Scope, 0, len(snaps))
	for _, s := range snaps {
		scopes = append(scopes, s.Scope)
		assert.NoError(t, s.Scope.Validate())
		assert.Equal(t, now, s.TakenAt)
	}
	assert.Equal(t, []leaderboard.Scope{
		leaderboard.ScopeHouses,
		leaderboard.ScopeStudents,
		leaderboard.HouseScope("h1"),
		leaderboard.HouseScope("h2"),
		leaderboard.GradeScope(9),
		leaderboard.GradeScope(10),
	}, scopes)

	assert.Equal(t, leaderboard.Rank(1), snaps[2].RankOf("s2"))
	assert.Equal(t, leaderboard.Rank(2), snaps[2].RankOf("s1"))
}

func TestAuditLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.award(t, t1, "s1", "h1", 30)
	it := f.item(t, 10)
	f.buy(t, "s1", it.ID)

	report, err := f.svc.AuditLedger(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.Awards)
	assert.Equal(t, 1, report.Purchases)

	// Tamper with a counter behind the ledger's back.
	require.NoError(t, f.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		h, err := tx.GetHouse(ctx, "h1")
		if err != nil {
			return err
		}
		h.TotalPoints += 5
		return tx.SaveHouse(ctx, &h)
	}))

	report, err = f.svc.AuditLedger(ctx)
	require.NoError(t, err)
	require.False(t, report.Clean())
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, ledger.Drift{
		Kind:     shared.AggregateHouse,
		ID:       "h1",
		Counter:  shared.CounterTotalPoints,
		Stored:   35,
		Expected: 30,
	}, report.Drifts[0])
}

type failingReader struct {
	*memory.Store
}

func (failingReader) ListAwards(context.Context, ledger.AwardFilter) ([]ledger.Award, error) {
	return nil, shared.ErrStoreUnavailable
}

func (failingReader) ReadAuditView(context.Context) (ledger.AuditView, error) {
	return ledger.AuditView{}, shared.ErrStoreUnavailable
}

func TestAuditLedger_StoreFailure(t *testing.T) {
	f := newFixture(t)
	svc := NewService(failingReader{f.store}, nil, f.clock, logger.Discard())

	_, err := svc.AuditLedger(context.Background())
	assert.True(t, errors.Is(err, shared.ErrStoreUnavailable))

	// A reader without snapshot reads goes list by list.
	svc = NewService(struct{ ledger.Reader }{failingReader{f.store}}, nil, f.clock, logger.Discard())
	_, err = svc.AuditLedger(context.Background())
	assert.True(t, errors.Is(err, shared.ErrStoreUnavailable))
}

func TestAuditLedger_CleanWhileAwardsCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.item(t, 1)

	const awards = 200
	done := make(chan error, 1)
	go func() {
		for i := 0; i < awards; i++ {
			if _, err := f.coord.AwardPoints(ctx, command.AwardPointsCommand{
				Caller: t1, StudentID: "s1", HouseID: "h1", Points: 2, Reason: "well done",
			}); err != nil {
				done <- err
				return
			}
			if _, err := f.coord.PurchaseItem(ctx, command.PurchaseItemCommand{
				Caller: admin, StudentID: "s1", ItemID: it.ID,
			}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	var writerErr error
	for running := true; running; {
		select {
		case writerErr = <-done:
			running = false
		default:
		}
		report, err := f.svc.AuditLedger(ctx)
		require.NoError(t, err)
		require.True(t, report.Clean(), "drift reported mid-write: %+v", report.Drifts)
	}
	require.NoError(t, writerErr)

	report, err := f.svc.AuditLedger(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, awards, report.Awards)
	assert.Equal(t, awards, report.Purchases)
}
