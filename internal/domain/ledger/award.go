// Package ledger contains the append-only record of awards and purchases and
// the transactional store contract that keeps the derived aggregates in step
// with it.
package ledger

import (
	"strings"
	"time"

	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD CATEGORY
// ══════════════════════════════════════════════════════════════════════════════

// AwardCategory classifies why points were given.
type AwardCategory string

const (
	CategoryAcademicExcellence AwardCategory = "Academic Excellence"
	CategoryGoodBehavior       AwardCategory = "Good Behavior"
	CategoryLeadership         AwardCategory = "Leadership"
	CategoryTeamwork           AwardCategory = "Teamwork"
	CategoryCreativity         AwardCategory = "Creativity"
	CategorySports             AwardCategory = "Sports"
	CategoryCommunityService   AwardCategory = "Community Service"
	CategoryOther              AwardCategory = "Other"
)

// AwardCategories lists every category in display order.
func AwardCategories() []AwardCategory {
	return []AwardCategory{
		CategoryAcademicExcellence,
		CategoryGoodBehavior,
		CategoryLeadership,
		CategoryTeamwork,
		CategoryCreativity,
		CategorySports,
		CategoryCommunityService,
		CategoryOther,
	}
}

// ParseAwardCategory accepts the display name case-insensitively.
func ParseAwardCategory(s string) (AwardCategory, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CategoryOther, nil
	}
	for _, c := range AwardCategories() {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", shared.ErrInvalidCategory
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD EVENT
// ══════════════════════════════════════════════════════════════════════════════

// Award is an immutable ledger entry recording points given to a student.
// It carries the house id so house totals can be rebuilt from the ledger alone.
type Award struct {
	ID        string
	StudentID string
	TeacherID string
	HouseID   string
	Points    int64
	Reason    string
	Category  AwardCategory
	Timestamp time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTER
// ══════════════════════════════════════════════════════════════════════════════

// AwardFilter narrows award listings. Zero values match everything.
// Results are ordered newest first.
type AwardFilter struct {
	StudentID string
	TeacherID string
	HouseID   string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Matches reports whether a satisfies the filter (ignoring Limit).
func (f AwardFilter) Matches(a Award) bool {
	if f.StudentID != "" && a.StudentID != f.StudentID {
		return false
	}
	if f.TeacherID != "" && a.TeacherID != f.TeacherID {
		return false
	}
	if f.HouseID != "" && a.HouseID != f.HouseID {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !a.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
