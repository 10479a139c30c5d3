package query

import (
	"context"
	"time"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORTS
// ══════════════════════════════════════════════════════════════════════════════

// TopStudents returns the n students with the most points earned.
func (s *Service) TopStudents(ctx context.Context, n int) ([]leaderboard.Entry, error) {
	if n <= 0 {
		return nil, shared.NewValidationError("query", "TopStudents", "n must be positive")
	}
	students, err := s.reader.ListAccounts(ctx, account.Filter{Role: account.RoleStudent})
	if err != nil {
		return nil, err
	}
	entries := leaderboard.Compute(studentCandidates(students), nil).Top(n)
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	return entries, nil
}

// PurchaserStat summarises one student's shopping.
type PurchaserStat struct {
	StudentID   string `json:"student_id"`
	DisplayName string `json:"display_name"`
	Purchases   int64  `json:"purchases"`
	PointsSpent int64  `json:"points_spent"`
}

// TopPurchasers returns the n students with the most purchases since the
// given time, ties broken by student id.
func (s *Service) TopPurchasers(ctx context.Context, n int, since time.Time) ([]PurchaserStat, error) {
	if n <= 0 {
		return nil, shared.NewValidationError("query", "TopPurchasers", "n must be positive")
	}
	purchases, err := s.reader.ListPurchases(ctx, ledger.PurchaseFilter{Since: since})
	if err != nil {
		return nil, err
	}
	students, err := s.reader.ListAccounts(ctx, account.Filter{Role: account.RoleStudent})
	if err != nil {
		return nil, err
	}
	displayNames := names(students)

	stats := make(map[string]*PurchaserStat)
	for _, p := range purchases {
		st, ok := stats[p.StudentID]
		if !ok {
			st = &PurchaserStat{StudentID: p.StudentID, DisplayName: displayNames[p.StudentID]}
			if st.DisplayName == "" {
				st.DisplayName = p.StudentID
			}
			stats[p.StudentID] = st
		}
		st.Purchases++
		st.PointsSpent += p.PriceAtPurchase
	}

	candidates := make([]leaderboard.Candidate, 0, len(stats))
	for id, st := range stats {
		candidates = append(candidates, leaderboard.Candidate{ID: id, Score: st.Purchases})
	}
	top := leaderboard.TopN(candidates, n)

	out := make([]PurchaserStat, 0, len(top))
	for _, c := range top {
		out = append(out, *stats[c.ID])
	}
	return out, nil
}

// TeacherStat is what one teacher has handed out.
type TeacherStat struct {
	TeacherID   string `json:"teacher_id"`
	DisplayName string `json:"display_name"`
	Awards      int    `json:"awards"`
	PointsGiven int64  `json:"points_given"`
}

// TeacherActivity lists teachers by points given since the given time, most
// generous first. Teachers who gave nothing are listed last; admins appear
// only if they awarded points.
func (s *Service) TeacherActivity(ctx context.Context, since time.Time) ([]TeacherStat, error) {
	awards, err := s.reader.ListAwards(ctx, ledger.AwardFilter{Since: since})
	if err != nil {
		return nil, err
	}
	teachers, err := s.reader.ListAccounts(ctx, account.Filter{Role: account.RoleTeacher})
	if err != nil {
		return nil, err
	}

	stats := make(map[string]*TeacherStat, len(teachers))
	for _, t := range teachers {
		stats[t.ID] = &TeacherStat{TeacherID: t.ID, DisplayName: t.Name()}
	}
	for _, a := range awards {
		st, ok := stats[a.TeacherID]
		if !ok {
			st = &TeacherStat{TeacherID: a.TeacherID, DisplayName: a.TeacherID}
			stats[a.TeacherID] = st
		}
		st.Awards++
		st.PointsGiven += a.Points
	}

	candidates := make([]leaderboard.Candidate, 0, len(stats))
	for id, st := range stats {
		candidates = append(candidates, leaderboard.Candidate{ID: id, Score: st.PointsGiven})
	}
	leaderboard.Order(candidates)

	out := make([]TeacherStat, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, *stats[c.ID])
	}
	return out, nil
}
