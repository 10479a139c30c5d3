package query

import (
	"context"
	"time"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARDS
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultLeaderboardLimit = 20
	maxLeaderboardLimit     = 100
)

// LeaderboardResult is one ranking with trends against the last snapshot.
type LeaderboardResult struct {
	Scope       leaderboard.Scope   `json:"scope"`
	Entries     []leaderboard.Entry `json:"entries"`
	Total       int                 `json:"total"`
	GeneratedAt time.Time           `json:"generated_at"`

	// ComparedTo is when the snapshot used for trends was taken. Nil means
	// no snapshot was available and every trend is stable.
	ComparedTo *time.Time `json:"compared_to,omitempty"`
}

// HouseLeaderboard ranks every house by total points.
func (s *Service) HouseLeaderboard(ctx context.Context) (*LeaderboardResult, error) {
	houses, err := s.reader.ListHouses(ctx)
	if err != nil {
		return nil, err
	}
	prev := s.previous(ctx, leaderboard.ScopeHouses)
	ranking := leaderboard.Compute(houseCandidates(houses), prev)
	return s.result(leaderboard.ScopeHouses, ranking, prev, ranking.Len()), nil
}

// StudentLeaderboardQuery selects a student ranking. HouseID and Grade are
// mutually exclusive; with neither set all students are ranked.
type StudentLeaderboardQuery struct {
	HouseID string
	Grade   shared.Grade
	Limit   int
}

// Validate checks the query and applies the limit defaults.
func (q *StudentLeaderboardQuery) Validate() error {
	if q.HouseID != "" && q.Grade.IsSet() {
		return shared.NewValidationError("query", "StudentLeaderboard", "house and grade cannot be combined")
	}
	if q.Grade.IsSet() && !q.Grade.IsValid() {
		return shared.NewValidationError("query", "StudentLeaderboard", "grade must be between 9 and 12")
	}
	if q.Limit < 0 {
		return shared.NewValidationError("query", "StudentLeaderboard", "limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = defaultLeaderboardLimit
	}
	if q.Limit > maxLeaderboardLimit {
		q.Limit = maxLeaderboardLimit
	}
	return nil
}

func (q StudentLeaderboardQuery) scope() leaderboard.Scope {
	switch {
	case q.HouseID != "":
		return leaderboard.HouseScope(q.HouseID)
	case q.Grade.IsSet():
		return leaderboard.GradeScope(q.Grade)
	default:
		return leaderboard.ScopeStudents
	}
}

// StudentLeaderboard ranks students by points earned and returns the top
// entries.
func (s *Service) StudentLeaderboard(ctx context.Context, q StudentLeaderboardQuery) (*LeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.HouseID != "" {
		if _, err := s.reader.GetHouse(ctx, q.HouseID); err != nil {
			return nil, err
		}
	}

	students, err := s.reader.ListAccounts(ctx, account.Filter{Role: account.RoleStudent, HouseID: q.HouseID, Grade: q.Grade})
	if err != nil {
		return nil, err
	}

	scope := q.scope()
	prev := s.previous(ctx, scope)
	ranking := leaderboard.Compute(studentCandidates(students), prev)
	return s.result(scope, ranking, prev, q.Limit), nil
}

// StudentRankView is where one student stands in each of their rankings.
type StudentRankView struct {
	Student AccountView `json:"student"`

	HouseRank   leaderboard.Rank `json:"house_rank"`
	HouseSize   int              `json:"house_size"`
	GradeRank   leaderboard.Rank `json:"grade_rank"`
	GradeSize   int              `json:"grade_size"`
	OverallRank leaderboard.Rank `json:"overall_rank"`
	OverallSize int              `json:"overall_size"`

	// PointsToNext is how many points separate the student from the one
	// directly above in the house ranking. Zero for the leader.
	PointsToNext int64 `json:"points_to_next"`
}

// StudentRank locates a student in the house, grade and overall rankings.
func (s *Service) StudentRank(ctx context.Context, studentID string) (*StudentRankView, error) {
	st, err := s.reader.GetAccount(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !st.IsStudent() {
		return nil, shared.ErrNotAStudent
	}

	all, err := s.reader.ListAccounts(ctx, account.Filter{Role: account.RoleStudent})
	if err != nil {
		return nil, err
	}

	var inHouse, inGrade []account.Account
	for _, a := range all {
		if st.HouseID != "" && a.HouseID == st.HouseID {
			inHouse = append(inHouse, a)
		}
		if st.Grade.IsSet() && a.Grade == st.Grade {
			inGrade = append(inGrade, a)
		}
	}

	overall := leaderboard.Compute(studentCandidates(all), nil)
	house := leaderboard.Compute(studentCandidates(inHouse), nil)
	grade := leaderboard.Compute(studentCandidates(inGrade), nil)

	view := &StudentRankView{
		Student:     NewAccountView(st),
		HouseRank:   house.RankOf(st.ID),
		HouseSize:   house.Len(),
		GradeRank:   grade.RankOf(st.ID),
		GradeSize:   grade.Len(),
		OverallRank: overall.RankOf(st.ID),
		OverallSize: overall.Len(),
	}
	if view.HouseRank > 1 {
		above := house.Entries()[view.HouseRank-2]
		view.PointsToNext = above.Score - st.PointsEarned
	}
	return view, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// previous loads the last snapshot for scope. Trends are best effort: a
// missing or unreachable snapshot degrades to stable trends.
func (s *Service) previous(ctx context.Context, scope leaderboard.Scope) *leaderboard.Snapshot {
	if s.snapshots == nil {
		return nil
	}
	snap, err := s.snapshots.Latest(ctx, scope)
	if err != nil {
		if !shared.IsNotFound(err) {
			s.logger.Warn("previous snapshot unavailable", "scope", string(scope), logger.Err(err))
		}
		return nil
	}
	return &snap
}

func (s *Service) result(scope leaderboard.Scope, r *leaderboard.Ranking, prev *leaderboard.Snapshot, limit int) *LeaderboardResult {
	res := &LeaderboardResult{
		Scope:       scope,
		Entries:     r.Top(limit),
		Total:       r.Len(),
		GeneratedAt: s.clock.Now(),
	}
	if res.Entries == nil {
		res.Entries = []leaderboard.Entry{}
	}
	if prev != nil {
		at := prev.TakenAt
		res.ComparedTo = &at
	}
	return res
}

func houseCandidates(houses []house.House) []leaderboard.Candidate {
	out := make([]leaderboard.Candidate, 0, len(houses))
	for _, h := range houses {
		out = append(out, leaderboard.Candidate{
			ID:       h.ID,
			Name:     h.Name,
			Score:    h.TotalPoints,
			ColorHex: h.ColorHex,
		})
	}
	return out
}

func studentCandidates(accounts []account.Account) []leaderboard.Candidate {
	out := make([]leaderboard.Candidate, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, leaderboard.Candidate{
			ID:    a.ID,
			Name:  a.Name(),
			Score: a.PointsEarned,
		})
	}
	return out
}
