package query

import (
	"context"
	"sort"
	"time"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/infrastructure/metrics"
	"github.com/housecup/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// Snapshots ranks every scope as of now: all houses, all students, the
// students of each house and the students of each grade. Scopes are returned
// in a stable order.
func (s *Service) Snapshots(ctx context.Context) ([]leaderboard.Snapshot, error) {
	houses, err := s.reader.ListHouses(ctx)
	if err != nil {
		return nil, err
	}
	students, err := s.reader.ListAccounts(ctx, account.Filter{Role: account.RoleStudent})
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	byHouse := make(map[string][]account.Account, len(houses))
	byGrade := make(map[shared.Grade][]account.Account)
	for _, h := range houses {
		byHouse[h.ID] = nil
		if h.Grade.IsValid() {
			byGrade[h.Grade] = byGrade[h.Grade]
		}
	}
	for _, st := range students {
		if st.HouseID != "" {
			byHouse[st.HouseID] = append(byHouse[st.HouseID], st)
		}
		if st.Grade.IsValid() {
			byGrade[st.Grade] = append(byGrade[st.Grade], st)
		}
	}

	snaps := []leaderboard.Snapshot{
		leaderboard.NewSnapshot(leaderboard.ScopeHouses, leaderboard.Compute(houseCandidates(houses), nil), now),
		leaderboard.NewSnapshot(leaderboard.ScopeStudents, leaderboard.Compute(studentCandidates(students), nil), now),
	}

	houseIDs := make([]string, 0, len(byHouse))
	for id := range byHouse {
		houseIDs = append(houseIDs, id)
	}
	sort.Strings(houseIDs)
	for _, id := range houseIDs {
		ranking := leaderboard.Compute(studentCandidates(byHouse[id]), nil)
		snaps = append(snaps, leaderboard.NewSnapshot(leaderboard.HouseScope(id), ranking, now))
	}

	grades := make([]int, 0, len(byGrade))
	for g := range byGrade {
		grades = append(grades, int(g))
	}
	sort.Ints(grades)
	for _, g := range grades {
		ranking := leaderboard.Compute(studentCandidates(byGrade[shared.Grade(g)]), nil)
		snaps = append(snaps, leaderboard.NewSnapshot(leaderboard.GradeScope(shared.Grade(g)), ranking, now))
	}
	return snaps, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER AUDIT
// ══════════════════════════════════════════════════════════════════════════════

// AuditReport is the result of rebuilding the aggregates from the ledger.
type AuditReport struct {
	CheckedAt time.Time      `json:"checked_at"`
	Awards    int            `json:"awards"`
	Purchases int            `json:"purchases"`
	Drifts    []ledger.Drift `json:"drifts"`
}

// Clean reports whether every stored counter matched the ledger.
func (r AuditReport) Clean() bool {
	return len(r.Drifts) == 0
}

// AuditLedger rebuilds every engine-owned counter from the award and purchase
// ledgers and compares it with the stored aggregates. It only reports; it
// never repairs.
func (s *Service) AuditLedger(ctx context.Context) (*AuditReport, error) {
	report, err := s.audit(ctx)
	if err != nil {
		metrics.AuditRuns.WithLabelValues("error").Inc()
		s.logger.Error("ledger audit failed", logger.Err(err))
		return nil, err
	}

	metrics.LedgerDrift.Set(float64(len(report.Drifts)))
	if report.Clean() {
		metrics.AuditRuns.WithLabelValues("clean").Inc()
		s.logger.Info("ledger audit clean", "awards", report.Awards, "purchases", report.Purchases)
	} else {
		metrics.AuditRuns.WithLabelValues("drift").Inc()
		s.logger.Warn("ledger drift detected", "drifts", len(report.Drifts))
	}
	return report, nil
}

func (s *Service) audit(ctx context.Context) (*AuditReport, error) {
	view, err := s.auditView(ctx)
	if err != nil {
		return nil, err
	}

	drifts := ledger.Compare(ledger.Rebuild(view.Awards, view.Purchases), view.Accounts, view.Houses, view.Items)
	if drifts == nil {
		drifts = []ledger.Drift{}
	}
	return &AuditReport{
		CheckedAt: s.clock.Now(),
		Awards:    len(view.Awards),
		Purchases: len(view.Purchases),
		Drifts:    drifts,
	}, nil
}

// auditView reads the ledger and the aggregates from one snapshot when the
// reader supports it. A plain Reader is read list by list and can report
// transient drift while writes are in flight.
func (s *Service) auditView(ctx context.Context) (ledger.AuditView, error) {
	if cr, ok := s.reader.(ledger.ConsistentReader); ok {
		return cr.ReadAuditView(ctx)
	}

	var (
		v   ledger.AuditView
		err error
	)
	if v.Awards, err = s.reader.ListAwards(ctx, ledger.AwardFilter{}); err != nil {
		return v, err
	}
	if v.Purchases, err = s.reader.ListPurchases(ctx, ledger.PurchaseFilter{}); err != nil {
		return v, err
	}
	if v.Accounts, err = s.reader.ListAccounts(ctx, account.Filter{}); err != nil {
		return v, err
	}
	if v.Houses, err = s.reader.ListHouses(ctx); err != nil {
		return v, err
	}
	v.Items, err = s.reader.ListItems(ctx, false)
	return v, err
}
