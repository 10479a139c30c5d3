package command

import (
	"context"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
	"github.com/housecup/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG COMMANDS
// These write catalog-owned fields only and never touch an engine counter,
// so they go straight to the catalog without the retry loop. Edits that bump
// an aggregate version publish its state so subscribers see the new version.
// ══════════════════════════════════════════════════════════════════════════════

var errNoCatalog = shared.NewDomainError("catalog", "Init", shared.ErrStoreUnavailable, "catalog is not configured")

// CreateHouse adds a house with a zero total. Admin only.
func (c *Coordinator) CreateHouse(ctx context.Context, caller account.Caller, params house.NewHouseParams) (house.House, error) {
	if err := caller.Require("CreateHouse", account.RoleAdmin); err != nil {
		return house.House{}, err
	}
	if c.catalog == nil {
		return house.House{}, errNoCatalog
	}
	if params.ID == "" {
		params.ID = c.newID()
	}
	h, err := house.NewHouse(params, c.now())
	if err != nil {
		return house.House{}, err
	}
	if err := c.catalog.CreateHouse(ctx, h); err != nil {
		return house.House{}, err
	}
	h.Version = 1
	c.logger.Info("house created", logger.HouseID(h.ID), logger.CallerID(caller.ID))
	return h, nil
}

// UpsertProfile creates or updates an account's catalog fields. Admin only.
func (c *Coordinator) UpsertProfile(ctx context.Context, caller account.Caller, p account.Profile) (account.Account, error) {
	if err := caller.Require("UpsertProfile", account.RoleAdmin); err != nil {
		return account.Account{}, err
	}
	if c.catalog == nil {
		return account.Account{}, errNoCatalog
	}
	if err := p.Validate(); err != nil {
		return account.Account{}, err
	}
	a, err := c.catalog.UpsertProfile(ctx, p)
	if err != nil {
		return account.Account{}, err
	}
	c.publish(c.logger.With(logger.Operation("UpsertProfile")), []shared.Event{
		shared.NewProfileUpdatedEvent(caller.ID, c.now(), a.State()),
	})
	return a, nil
}

// SubmitShopRequestCommand proposes a new shop item.
type SubmitShopRequestCommand struct {
	Caller          account.Caller
	TeacherName     string
	ItemName        string
	ItemDescription string
	SuggestedPrice  int64
	Category        shop.Category
	Justification   string
}

// SubmitShopRequest stores a pending request. Teacher or admin.
func (c *Coordinator) SubmitShopRequest(ctx context.Context, cmd SubmitShopRequestCommand) (shop.Request, error) {
	if err := cmd.Caller.Require("SubmitShopRequest", account.RoleTeacher, account.RoleAdmin); err != nil {
		return shop.Request{}, err
	}
	if c.catalog == nil {
		return shop.Request{}, errNoCatalog
	}
	req, err := shop.NewRequest(shop.NewRequestParams{
		ID:              c.newID(),
		TeacherID:       cmd.Caller.ID,
		TeacherName:     cmd.TeacherName,
		ItemName:        cmd.ItemName,
		ItemDescription: cmd.ItemDescription,
		SuggestedPrice:  cmd.SuggestedPrice,
		Category:        cmd.Category,
		Justification:   cmd.Justification,
	}, c.now())
	if err != nil {
		return shop.Request{}, err
	}
	if err := c.catalog.SubmitShopRequest(ctx, req); err != nil {
		return shop.Request{}, err
	}
	req.Version = 1
	c.logger.Info("shop request submitted", logger.RequestID(req.ID), logger.TeacherID(req.TeacherID))
	return req, nil
}

// SetItemActive enables or disables purchasing of an item. Admin only.
func (c *Coordinator) SetItemActive(ctx context.Context, caller account.Caller, itemID string, active bool) (shop.Item, error) {
	if err := caller.Require("SetItemActive", account.RoleAdmin); err != nil {
		return shop.Item{}, err
	}
	if c.catalog == nil {
		return shop.Item{}, errNoCatalog
	}
	if err := shared.ValidateID("shop", "SetItemActive", "item id", itemID); err != nil {
		return shop.Item{}, err
	}
	item, err := c.catalog.SetItemActive(ctx, itemID, active)
	if err != nil {
		return shop.Item{}, err
	}
	c.publish(c.logger.With(logger.Operation("SetItemActive"), logger.ItemID(item.ID)), []shared.Event{
		shared.NewItemActivityChangedEvent(caller.ID, item.Active, c.now(), item.State()),
	})
	return item, nil
}
