package command

import (
	"context"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURCHASE ITEM COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseItemCommand spends a student's points on one unit of a shop item.
type PurchaseItemCommand struct {
	// Caller must be the student themselves or an admin.
	Caller account.Caller

	StudentID string
	ItemID    string
}

// Validate checks the command before any store access.
func (c PurchaseItemCommand) Validate() error {
	if err := shared.ValidateID("ledger", "PurchaseItem", "student id", c.StudentID); err != nil {
		return err
	}
	return shared.ValidateID("ledger", "PurchaseItem", "item id", c.ItemID)
}

func (c PurchaseItemCommand) authorize() error {
	if err := c.Caller.Validate(); err != nil {
		return err
	}
	if c.Caller.Role == account.RoleAdmin {
		return nil
	}
	if c.Caller.Role == account.RoleStudent && c.Caller.ID == c.StudentID {
		return nil
	}
	return shared.NewDomainError("ledger", "PurchaseItem", shared.ErrForbidden,
		"only the student or an admin may purchase on the student's behalf")
}

// PurchaseItem appends a pending purchase, debits the student and increments
// the item's sold count in one transaction. It fails with
// ErrInsufficientPoints, ErrOutOfStock or ErrItemInactive without changing
// anything.
func (c *Coordinator) PurchaseItem(ctx context.Context, cmd PurchaseItemCommand) (ledger.Purchase, error) {
	if err := cmd.authorize(); err != nil {
		return ledger.Purchase{}, err
	}
	if err := cmd.Validate(); err != nil {
		return ledger.Purchase{}, err
	}

	var purchase ledger.Purchase
	err := c.execute(ctx, "purchase_item", func(ctx context.Context, tx ledger.Tx) ([]shared.Event, error) {
		student, err := tx.GetAccount(ctx, cmd.StudentID)
		if err != nil {
			return nil, err
		}
		if !student.IsStudent() {
			return nil, shared.ErrNotAStudent
		}
		item, err := tx.GetItem(ctx, cmd.ItemID)
		if err != nil {
			return nil, err
		}

		// Sell checks active and stock; Debit checks the balance.
		if err := item.Sell(); err != nil {
			return nil, err
		}
		if err := student.Debit(shared.Points(item.Price)); err != nil {
			return nil, err
		}

		now := c.now()
		purchase = ledger.Purchase{
			ID:              c.newID(),
			StudentID:       student.ID,
			ItemID:          item.ID,
			ItemName:        item.Name,
			PriceAtPurchase: item.Price,
			Timestamp:       now,
			Status:          ledger.PurchasePending,
		}
		if err := tx.AppendPurchase(ctx, &purchase); err != nil {
			return nil, err
		}
		student.UpdatedAt = now
		if err := tx.SaveAccount(ctx, &student); err != nil {
			return nil, err
		}
		if err := tx.SaveItem(ctx, &item); err != nil {
			return nil, err
		}

		return []shared.Event{
			shared.NewItemPurchasedEvent(purchase.ID, student.ID, item.ID, purchase.PriceAtPurchase,
				now, student.State(), item.State()),
		}, nil
	})
	if err != nil {
		return ledger.Purchase{}, err
	}
	return purchase, nil
}
