package ledger

import (
	"strings"
	"time"

	"github.com/housecup/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURCHASE STATUS
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseStatus is the fulfilment state of a purchase.
//
//	pending ──► fulfilled
//	   │
//	   └──────► cancelled
//
// Both fulfilled and cancelled are terminal.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseFulfilled PurchaseStatus = "fulfilled"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

// IsValid checks the status is known.
func (s PurchaseStatus) IsValid() bool {
	return s == PurchasePending || s == PurchaseFulfilled || s == PurchaseCancelled
}

// IsTerminal reports whether no further transition is possible.
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseFulfilled || s == PurchaseCancelled
}

// CanTransitionTo reports whether s → to is an edge of the state machine.
func (s PurchaseStatus) CanTransitionTo(to PurchaseStatus) bool {
	return s == PurchasePending && to.IsTerminal()
}

// ══════════════════════════════════════════════════════════════════════════════
// PURCHASE EVENT
// ══════════════════════════════════════════════════════════════════════════════

// Purchase is a ledger entry recording a student buying an item. Only the
// status and fulfilment metadata ever change after it is committed.
type Purchase struct {
	ID        string
	StudentID string
	ItemID    string
	ItemName  string

	// PriceAtPurchase is the item price when bought; later price changes do
	// not rewrite it.
	PriceAtPurchase int64

	Timestamp   time.Time
	Status      PurchaseStatus
	FulfilledAt *time.Time
	FulfilledBy string
	Notes       string

	// Version - optimistic concurrency token for status transitions.
	Version int64
}

// Transition moves a pending purchase to a terminal status.
func (p *Purchase) Transition(to PurchaseStatus, by, notes string, at time.Time) error {
	if !to.IsTerminal() {
		return shared.ErrInvalidTransition
	}
	if p.Status != PurchasePending {
		return shared.ErrPurchaseNotPending
	}
	p.Status = to
	p.FulfilledBy = by
	p.FulfilledAt = &at
	if n := strings.TrimSpace(notes); n != "" {
		p.Notes = n
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTER
// ══════════════════════════════════════════════════════════════════════════════

// PurchaseFilter narrows purchase listings. Zero values match everything.
// Results are ordered newest first.
type PurchaseFilter struct {
	StudentID string
	ItemID    string
	Status    PurchaseStatus
	Since     time.Time
	Limit     int
}

// Matches reports whether p satisfies the filter (ignoring Limit).
func (f PurchaseFilter) Matches(p Purchase) bool {
	if f.StudentID != "" && p.StudentID != f.StudentID {
		return false
	}
	if f.ItemID != "" && p.ItemID != f.ItemID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && p.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
