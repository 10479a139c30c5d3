package ledger

import (
	"sort"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

// AccountTotals are the counters of one account derived from the ledger.
type AccountTotals struct {
	PointsEarned int64
	PointsSpent  int64
}

// Totals are every engine-owned counter derived from the ledger alone.
type Totals struct {
	Accounts map[string]AccountTotals
	Houses   map[string]int64
	Items    map[string]int64
}

// Rebuild derives the aggregates from the ledger. Cancelled purchases still
// count: cancellation does not refund.
func Rebuild(awards []Award, purchases []Purchase) Totals {
	t := Totals{
		Accounts: make(map[string]AccountTotals),
		Houses:   make(map[string]int64),
		Items:    make(map[string]int64),
	}
	for _, a := range awards {
		at := t.Accounts[a.StudentID]
		at.PointsEarned += a.Points
		t.Accounts[a.StudentID] = at
		t.Houses[a.HouseID] += a.Points
	}
	for _, p := range purchases {
		at := t.Accounts[p.StudentID]
		at.PointsSpent += p.PriceAtPurchase
		t.Accounts[p.StudentID] = at
		t.Items[p.ItemID]++
	}
	return t
}

// Drift is one stored counter that disagrees with the ledger.
type Drift struct {
	Kind     shared.AggregateKind `json:"kind"`
	ID       string               `json:"id"`
	Counter  string               `json:"counter"`
	Stored   int64                `json:"stored"`
	Expected int64                `json:"expected"`
}

// Compare checks stored aggregates against the rebuilt totals. Entities the
// ledger references but the store lacks are reported with Stored = 0.
// The result is sorted by kind, id and counter.
func Compare(t Totals, accounts []account.Account, houses []house.House, items []shop.Item) []Drift {
	var drifts []Drift
	add := func(kind shared.AggregateKind, id, counter string, stored, expected int64) {
		if stored != expected {
			drifts = append(drifts, Drift{Kind: kind, ID: id, Counter: counter, Stored: stored, Expected: expected})
		}
	}

	seenAccounts := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		seenAccounts[a.ID] = true
		exp := t.Accounts[a.ID]
		add(shared.AggregateAccount, a.ID, shared.CounterPointsEarned, a.PointsEarned, exp.PointsEarned)
		add(shared.AggregateAccount, a.ID, shared.CounterPointsSpent, a.PointsSpent, exp.PointsSpent)
	}
	for id, exp := range t.Accounts {
		if !seenAccounts[id] {
			add(shared.AggregateAccount, id, shared.CounterPointsEarned, 0, exp.PointsEarned)
			add(shared.AggregateAccount, id, shared.CounterPointsSpent, 0, exp.PointsSpent)
		}
	}

	seenHouses := make(map[string]bool, len(houses))
	for _, h := range houses {
		seenHouses[h.ID] = true
		add(shared.AggregateHouse, h.ID, shared.CounterTotalPoints, h.TotalPoints, t.Houses[h.ID])
	}
	for id, exp := range t.Houses {
		if !seenHouses[id] {
			add(shared.AggregateHouse, id, shared.CounterTotalPoints, 0, exp)
		}
	}

	seenItems := make(map[string]bool, len(items))
	for _, it := range items {
		seenItems[it.ID] = true
		add(shared.AggregateItem, it.ID, shared.CounterSoldCount, it.SoldCount, t.Items[it.ID])
	}
	for id, exp := range t.Items {
		if !seenItems[id] {
			add(shared.AggregateItem, id, shared.CounterSoldCount, 0, exp)
		}
	}

	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].Kind != drifts[j].Kind {
			return drifts[i].Kind < drifts[j].Kind
		}
		if drifts[i].ID != drifts[j].ID {
			return drifts[i].ID < drifts[j].ID
		}
		return drifts[i].Counter < drifts[j].Counter
	})
	return drifts
}
