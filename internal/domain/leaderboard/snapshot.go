package leaderboard

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCOPE
// ══════════════════════════════════════════════════════════════════════════════

// Scope identifies which population a ranking covers.
type Scope string

const (
	// ScopeHouses ranks all houses by total points.
	ScopeHouses Scope = "houses"
	// ScopeStudents ranks all students by points earned.
	ScopeStudents Scope = "students"
)

// HouseScope ranks the students of one house.
func HouseScope(houseID string) Scope {
	return Scope("house:" + houseID)
}

// GradeScope ranks the students of one grade.
func GradeScope(grade shared.Grade) Scope {
	return Scope("grade:" + strconv.Itoa(int(grade)))
}

// Validate checks the scope is well-formed.
func (s Scope) Validate() error {
	switch {
	case s == ScopeHouses, s == ScopeStudents:
		return nil
	case strings.HasPrefix(string(s), "house:") && len(s) > len("house:"):
		return nil
	case strings.HasPrefix(string(s), "grade:"):
		n, err := strconv.Atoi(strings.TrimPrefix(string(s), "grade:"))
		if err == nil && shared.Grade(n).IsValid() {
			return nil
		}
	}
	return shared.ErrInvalidScope
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the rank of every entity in a scope at a point in time. It is
// the "previous" input that trend classification compares against.
type Snapshot struct {
	Scope   Scope           `json:"scope"`
	TakenAt time.Time       `json:"taken_at"`
	Ranks   map[string]Rank `json:"ranks"`
}

// NewSnapshot captures the ranks of r.
func NewSnapshot(scope Scope, r *Ranking, at time.Time) Snapshot {
	ranks := make(map[string]Rank, r.Len())
	for _, e := range r.entries {
		ranks[e.ID] = e.Rank
	}
	return Snapshot{Scope: scope, TakenAt: at, Ranks: ranks}
}

// RankOf returns the recorded rank of id, or 0 if absent.
func (s *Snapshot) RankOf(id string) Rank {
	if s == nil {
		return 0
	}
	return s.Ranks[id]
}

// IsEmpty reports whether nothing was ranked.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Ranks) == 0
}

// SnapshotStore keeps the latest snapshot per scope.
type SnapshotStore interface {
	// Save replaces the latest snapshot for its scope.
	Save(ctx context.Context, snap Snapshot) error

	// Latest returns shared.ErrSnapshotNotFound if none was saved.
	Latest(ctx context.Context, scope Scope) (Snapshot, error)
}
