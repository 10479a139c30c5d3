package command

import (
	"context"
	"strings"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD POINTS COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsCommand gives points to a student and their house.
type AwardPointsCommand struct {
	// Caller is the awarding teacher or admin. Its id becomes the award's
	// teacher id.
	Caller account.Caller

	StudentID string
	HouseID   string
	Points    int64
	Reason    string

	// Category is one of the award categories; empty means Other.
	Category string
}

// Validate checks the command before any store access.
func (c AwardPointsCommand) Validate() error {
	if err := shared.ValidateID("ledger", "AwardPoints", "student id", c.StudentID); err != nil {
		return err
	}
	if err := shared.ValidateID("ledger", "AwardPoints", "house id", c.HouseID); err != nil {
		return err
	}
	if _, err := shared.NewAwardPoints(c.Points); err != nil {
		return err
	}
	if strings.TrimSpace(c.Reason) == "" {
		return shared.NewValidationError("ledger", "AwardPoints", "reason is required")
	}
	if _, err := ledger.ParseAwardCategory(c.Category); err != nil {
		return err
	}
	return nil
}

// AwardPoints appends an award event and credits the student and house in
// one transaction.
func (c *Coordinator) AwardPoints(ctx context.Context, cmd AwardPointsCommand) (ledger.Award, error) {
	if err := cmd.Caller.Require("AwardPoints", account.RoleTeacher, account.RoleAdmin); err != nil {
		return ledger.Award{}, err
	}
	if err := cmd.Validate(); err != nil {
		return ledger.Award{}, err
	}
	points, _ := shared.NewAwardPoints(cmd.Points)
	category, _ := ledger.ParseAwardCategory(cmd.Category)

	var award ledger.Award
	err := c.execute(ctx, "award_points", func(ctx context.Context, tx ledger.Tx) ([]shared.Event, error) {
		student, err := tx.GetAccount(ctx, cmd.StudentID)
		if err != nil {
			return nil, err
		}
		if err := student.EnsureStudentOf(cmd.HouseID); err != nil {
			return nil, err
		}
		h, err := tx.GetHouse(ctx, cmd.HouseID)
		if err != nil {
			return nil, err
		}

		award = ledger.Award{
			ID:        c.newID(),
			StudentID: student.ID,
			TeacherID: cmd.Caller.ID,
			HouseID:   h.ID,
			Points:    points.Int64(),
			Reason:    strings.TrimSpace(cmd.Reason),
			Category:  category,
			Timestamp: c.now(),
		}
		if err := tx.AppendAward(ctx, award); err != nil {
			return nil, err
		}

		if err := student.Credit(points); err != nil {
			return nil, err
		}
		student.UpdatedAt = award.Timestamp
		if err := tx.SaveAccount(ctx, &student); err != nil {
			return nil, err
		}
		if err := h.Credit(points); err != nil {
			return nil, err
		}
		if err := tx.SaveHouse(ctx, &h); err != nil {
			return nil, err
		}

		return []shared.Event{
			shared.NewPointsAwardedEvent(award.ID, award.StudentID, award.TeacherID, award.HouseID,
				award.Points, string(award.Category), award.Timestamp, student.State(), h.State()),
		}, nil
	})
	if err != nil {
		return ledger.Award{}, err
	}
	return award, nil
}
