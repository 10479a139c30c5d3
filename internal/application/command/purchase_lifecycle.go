package command

import (
	"context"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FULFIL / CANCEL PURCHASE
//
//	pending ──► fulfilled
//	   └──────► cancelled
//
// Cancelling does not refund: the points stay spent and the unit stays sold,
// so the counters always equal a replay of the ledger.
// ══════════════════════════════════════════════════════════════════════════════

// ResolvePurchaseCommand moves a pending purchase to a terminal status.
type ResolvePurchaseCommand struct {
	Caller     account.Caller
	PurchaseID string
	Notes      string
}

// FulfillPurchase marks a pending purchase as handed over.
func (c *Coordinator) FulfillPurchase(ctx context.Context, cmd ResolvePurchaseCommand) (ledger.Purchase, error) {
	return c.resolvePurchase(ctx, "fulfill_purchase", cmd, ledger.PurchaseFulfilled)
}

// CancelPurchase marks a pending purchase as cancelled.
func (c *Coordinator) CancelPurchase(ctx context.Context, cmd ResolvePurchaseCommand) (ledger.Purchase, error) {
	return c.resolvePurchase(ctx, "cancel_purchase", cmd, ledger.PurchaseCancelled)
}

func (c *Coordinator) resolvePurchase(ctx context.Context, op string, cmd ResolvePurchaseCommand, to ledger.PurchaseStatus) (ledger.Purchase, error) {
	if err := cmd.Caller.Require(op, account.RoleTeacher, account.RoleAdmin); err != nil {
		return ledger.Purchase{}, err
	}
	if err := shared.ValidateID("ledger", op, "purchase id", cmd.PurchaseID); err != nil {
		return ledger.Purchase{}, err
	}

	var p ledger.Purchase
	err := c.execute(ctx, op, func(ctx context.Context, tx ledger.Tx) ([]shared.Event, error) {
		var err error
		p, err = tx.GetPurchase(ctx, cmd.PurchaseID)
		if err != nil {
			return nil, err
		}
		from := p.Status
		now := c.now()
		if err := p.Transition(to, cmd.Caller.ID, cmd.Notes, now); err != nil {
			return nil, err
		}
		if err := tx.SavePurchase(ctx, &p); err != nil {
			return nil, err
		}
		return []shared.Event{
			shared.NewPurchaseStatusChangedEvent(p.ID, p.StudentID, string(from), string(to), cmd.Caller.ID, now),
		}, nil
	})
	if err != nil {
		return ledger.Purchase{}, err
	}
	return p, nil
}
