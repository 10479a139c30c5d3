package query

import (
	"context"
	"time"

	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func historyLimit(op string, limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, shared.NewValidationError("query", op, "limit cannot be negative")
	case limit == 0:
		return defaultHistoryLimit, nil
	case limit > maxHistoryLimit:
		return maxHistoryLimit, nil
	default:
		return limit, nil
	}
}

// AwardHistoryQuery filters the award ledger. Zero fields match everything.
type AwardHistoryQuery struct {
	StudentID string
	TeacherID string
	HouseID   string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// AwardHistory returns matching awards, newest first.
func (s *Service) AwardHistory(ctx context.Context, q AwardHistoryQuery) ([]AwardView, error) {
	limit, err := historyLimit("AwardHistory", q.Limit)
	if err != nil {
		return nil, err
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return nil, shared.NewValidationError("query", "AwardHistory", "'until' must not be before 'since'")
	}
	awards, err := s.reader.ListAwards(ctx, ledger.AwardFilter{
		StudentID: q.StudentID,
		TeacherID: q.TeacherID,
		HouseID:   q.HouseID,
		Since:     q.Since,
		Until:     q.Until,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	return awardViews(awards), nil
}

// PurchaseHistoryQuery filters the purchase ledger. Zero fields match
// everything.
type PurchaseHistoryQuery struct {
	StudentID string
	ItemID    string
	Status    ledger.PurchaseStatus
	Since     time.Time
	Limit     int
}

// PurchaseHistory returns matching purchases, newest first.
func (s *Service) PurchaseHistory(ctx context.Context, q PurchaseHistoryQuery) ([]PurchaseView, error) {
	limit, err := historyLimit("PurchaseHistory", q.Limit)
	if err != nil {
		return nil, err
	}
	if q.Status != "" && !q.Status.IsValid() {
		return nil, shared.NewValidationError("query", "PurchaseHistory", "unknown purchase status")
	}
	purchases, err := s.reader.ListPurchases(ctx, ledger.PurchaseFilter{
		StudentID: q.StudentID,
		ItemID:    q.ItemID,
		Status:    q.Status,
		Since:     q.Since,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]PurchaseView, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, NewPurchaseView(p))
	}
	return out, nil
}
