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
// HOUSE STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

const (
	statsTopContributors = 5
	statsRecentAwards    = 10
)

// Contributor is a student ranked by the points they brought in over a period.
type Contributor struct {
	Rank        leaderboard.Rank `json:"rank"`
	StudentID   string           `json:"student_id"`
	DisplayName string           `json:"display_name"`
	Points      int64            `json:"points"`
	Awards      int              `json:"awards"`
}

// HouseStatsView is the dashboard of one house.
type HouseStatsView struct {
	House         HouseView        `json:"house"`
	Rank          leaderboard.Rank `json:"rank"`
	HouseCount    int              `json:"house_count"`
	StudentCount  int              `json:"student_count"`
	TotalPoints   int64            `json:"total_points"`
	WeeklyPoints  int64            `json:"weekly_points"`
	MonthlyPoints int64            `json:"monthly_points"`

	// TopContributors covers the current month.
	TopContributors []Contributor `json:"top_contributors"`
	RecentAwards    []AwardView   `json:"recent_awards"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// HouseStats computes totals for the week and month in the school timezone,
// the house's rank and its best contributors.
func (s *Service) HouseStats(ctx context.Context, houseID string) (*HouseStatsView, error) {
	h, err := s.reader.GetHouse(ctx, houseID)
	if err != nil {
		return nil, err
	}
	houses, err := s.reader.ListHouses(ctx)
	if err != nil {
		return nil, err
	}
	students, err := s.reader.ListAccounts(ctx, account.Filter{Role: account.RoleStudent, HouseID: houseID})
	if err != nil {
		return nil, err
	}

	weekFrom, _ := s.clock.ThisWeek()
	monthFrom, _ := s.clock.ThisMonth()
	since := monthFrom
	if weekFrom.Before(since) {
		since = weekFrom
	}
	awards, err := s.reader.ListAwards(ctx, ledger.AwardFilter{HouseID: houseID, Since: since})
	if err != nil {
		return nil, err
	}

	stats := &HouseStatsView{
		House:        NewHouseView(h),
		Rank:         leaderboard.Compute(houseCandidates(houses), nil).RankOf(h.ID),
		HouseCount:   len(houses),
		StudentCount: len(students),
		TotalPoints:  h.TotalPoints,
		GeneratedAt:  s.clock.Now(),
	}

	var monthly []ledger.Award
	for _, a := range awards {
		if !a.Timestamp.Before(weekFrom) {
			stats.WeeklyPoints += a.Points
		}
		if !a.Timestamp.Before(monthFrom) {
			stats.MonthlyPoints += a.Points
			monthly = append(monthly, a)
		}
	}
	stats.TopContributors = contributors(monthly, names(students), statsTopContributors)

	recent, err := s.reader.ListAwards(ctx, ledger.AwardFilter{HouseID: houseID, Limit: statsRecentAwards})
	if err != nil {
		return nil, err
	}
	stats.RecentAwards = awardViews(recent)
	return stats, nil
}

// TopContributors ranks the students of a house by points awarded since the
// given time. A zero since covers the whole ledger.
func (s *Service) TopContributors(ctx context.Context, houseID string, n int, since time.Time) ([]Contributor, error) {
	if n <= 0 {
		return nil, shared.NewValidationError("query", "TopContributors", "n must be positive")
	}
	if _, err := s.reader.GetHouse(ctx, houseID); err != nil {
		return nil, err
	}
	awards, err := s.reader.ListAwards(ctx, ledger.AwardFilter{HouseID: houseID, Since: since})
	if err != nil {
		return nil, err
	}
	students, err := s.reader.ListAccounts(ctx, account.Filter{Role: account.RoleStudent, HouseID: houseID})
	if err != nil {
		return nil, err
	}
	return contributors(awards, names(students), n), nil
}

func contributors(awards []ledger.Award, displayNames map[string]string, n int) []Contributor {
	points := make(map[string]int64)
	counts := make(map[string]int)
	for _, a := range awards {
		points[a.StudentID] += a.Points
		counts[a.StudentID]++
	}

	candidates := make([]leaderboard.Candidate, 0, len(points))
	for id, p := range points {
		candidates = append(candidates, leaderboard.Candidate{ID: id, Score: p})
	}

	top := leaderboard.TopN(candidates, n)
	out := make([]Contributor, 0, len(top))
	for i, c := range top {
		name := displayNames[c.ID]
		if name == "" {
			name = c.ID
		}
		out = append(out, Contributor{
			Rank:        leaderboard.Rank(i + 1),
			StudentID:   c.ID,
			DisplayName: name,
			Points:      c.Score,
			Awards:      counts[c.ID],
		})
	}
	return out
}

func names(accounts []account.Account) map[string]string {
	out := make(map[string]string, len(accounts))
	for _, a := range accounts {
		out[a.ID] = a.Name()
	}
	return out
}

func awardViews(awards []ledger.Award) []AwardView {
	out := make([]AwardView, 0, len(awards))
	for _, a := range awards {
		out = append(out, NewAwardView(a))
	}
	return out
}
