package command

import (
	"context"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPROVE / REJECT SHOP REQUEST
// ══════════════════════════════════════════════════════════════════════════════

// ApproveShopRequestCommand turns a teacher's pending request into an
// active shop item.
type ApproveShopRequestCommand struct {
	Caller    account.Caller
	RequestID string

	// FinalPrice overrides the suggested price when positive.
	FinalPrice int64

	// StockQuantity limits the item; nil means unlimited.
	StockQuantity *int64

	Notes string
}

// Validate checks the command before any store access.
func (c ApproveShopRequestCommand) Validate() error {
	if err := shared.ValidateID("shop", "ApproveRequest", "request id", c.RequestID); err != nil {
		return err
	}
	if c.FinalPrice < 0 {
		return shared.NewValidationError("shop", "ApproveRequest", "final price must be positive")
	}
	if c.StockQuantity != nil && *c.StockQuantity < 0 {
		return shared.NewValidationError("shop", "ApproveRequest", "stock quantity cannot be negative")
	}
	return nil
}

// ApproveShopRequest creates the item and marks the request approved in the
// same commit. A request that is no longer pending fails with
// ErrRequestNotPending.
func (c *Coordinator) ApproveShopRequest(ctx context.Context, cmd ApproveShopRequestCommand) (shop.Item, error) {
	if err := cmd.Caller.Require("ApproveShopRequest", account.RoleAdmin); err != nil {
		return shop.Item{}, err
	}
	if err := cmd.Validate(); err != nil {
		return shop.Item{}, err
	}

	var item shop.Item
	err := c.execute(ctx, "approve_shop_request", func(ctx context.Context, tx ledger.Tx) ([]shared.Event, error) {
		req, err := tx.GetShopRequest(ctx, cmd.RequestID)
		if err != nil {
			return nil, err
		}
		now := c.now()
		if err := req.Approve(cmd.Caller.ID, cmd.Notes, now); err != nil {
			return nil, err
		}

		price := req.SuggestedPrice
		if cmd.FinalPrice > 0 {
			price = cmd.FinalPrice
		}
		item, err = shop.NewItem(shop.NewItemParams{
			ID:            c.newID(),
			Name:          req.ItemName,
			Description:   req.ItemDescription,
			Category:      req.Category,
			Price:         price,
			StockQuantity: cmd.StockQuantity,
			CreatedBy:     req.TeacherID,
			ApprovedBy:    cmd.Caller.ID,
		}, now)
		if err != nil {
			return nil, err
		}
		if err := tx.InsertItem(ctx, &item); err != nil {
			return nil, err
		}
		if err := tx.SaveShopRequest(ctx, &req); err != nil {
			return nil, err
		}

		return []shared.Event{
			shared.NewShopRequestApprovedEvent(req.ID, req.TeacherID, cmd.Caller.ID, item.ID, req.AdminNotes, now, item.State()),
		}, nil
	})
	if err != nil {
		return shop.Item{}, err
	}
	return item, nil
}

// RejectShopRequestCommand closes a pending request without creating an item.
type RejectShopRequestCommand struct {
	Caller    account.Caller
	RequestID string
	Notes     string
}

// RejectShopRequest marks a pending request rejected.
func (c *Coordinator) RejectShopRequest(ctx context.Context, cmd RejectShopRequestCommand) (shop.Request, error) {
	if err := cmd.Caller.Require("RejectShopRequest", account.RoleAdmin); err != nil {
		return shop.Request{}, err
	}
	if err := shared.ValidateID("shop", "RejectRequest", "request id", cmd.RequestID); err != nil {
		return shop.Request{}, err
	}

	var req shop.Request
	err := c.execute(ctx, "reject_shop_request", func(ctx context.Context, tx ledger.Tx) ([]shared.Event, error) {
		var err error
		req, err = tx.GetShopRequest(ctx, cmd.RequestID)
		if err != nil {
			return nil, err
		}
		now := c.now()
		if err := req.Reject(cmd.Caller.ID, cmd.Notes, now); err != nil {
			return nil, err
		}
		if err := tx.SaveShopRequest(ctx, &req); err != nil {
			return nil, err
		}
		return []shared.Event{
			shared.NewShopRequestRejectedEvent(req.ID, req.TeacherID, cmd.Caller.ID, req.AdminNotes, now),
		}, nil
	})
	if err != nil {
		return shop.Request{}, err
	}
	return req, nil
}
