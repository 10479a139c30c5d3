// Package memory implements ledger.Store in process memory. Transactions are
// optimistic: reads record the version they saw, writes are staged, and
// commit re-validates every observed version under one lock before applying
// the staged writes. It backs the test suite and single-node development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store is an in-memory ledger.Store and ledger.Catalog.
type Store struct {
	mu sync.RWMutex

	accounts  map[string]account.Account
	houses    map[string]house.House
	items     map[string]shop.Item
	requests  map[string]shop.Request
	purchases map[string]ledger.Purchase
	awardIDs  map[string]bool
	awards    []ledger.Award

	now    func() time.Time
	closed bool
}

var (
	_ ledger.Store   = (*Store)(nil)
	_ ledger.Catalog = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:  make(map[string]account.Account),
		houses:    make(map[string]house.House),
		items:     make(map[string]shop.Item),
		requests:  make(map[string]shop.Request),
		purchases: make(map[string]ledger.Purchase),
		awardIDs:  make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunInTx implements ledger.Store.
func (s *Store) RunInTx(ctx context.Context, fn ledger.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return shared.ErrStoreUnavailable
	}

	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		return err
	}

	// Last chance to honour cancellation; past this point the commit runs
	// to completion.
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

// Ping implements ledger.Store.
func (s *Store) Ping(ctx context.Context) error {
	if s.isClosed() {
		return shared.ErrStoreUnavailable
	}
	return nil
}

// Close implements ledger.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// ─────────────────────────────────────────────────────────────────────────────
// Commit
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return shared.ErrStoreUnavailable
	}

	for k, seen := range t.observed {
		if s.versionLocked(k) != seen {
			return shared.ErrConflict
		}
	}
	for _, a := range t.awards {
		if s.awardIDs[a.ID] {
			return shared.ErrConflict
		}
	}

	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	for id, h := range t.houses {
		s.houses[id] = h
	}
	for id, it := range t.items {
		s.items[id] = it
	}
	for id, r := range t.requests {
		s.requests[id] = r
	}
	for id, p := range t.purchases {
		s.purchases[id] = p
	}
	for _, a := range t.awards {
		s.awardIDs[a.ID] = true
		s.awards = append(s.awards, a)
	}
	return nil
}

// versionLocked returns the committed version of k, 0 if absent.
func (s *Store) versionLocked(k key) int64 {
	switch k.kind {
	case kindAccount:
		return s.accounts[k.id].Version
	case kindHouse:
		return s.houses[k.id].Version
	case kindItem:
		return s.items[k.id].Version
	case kindRequest:
		return s.requests[k.id].Version
	case kindPurchase:
		return s.purchases[k.id].Version
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// READER
// ══════════════════════════════════════════════════════════════════════════════

// GetAccount implements ledger.Reader.
func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return account.Account{}, shared.ErrAccountNotFound
	}
	return a, nil
}

// GetHouse implements ledger.Reader.
func (s *Store) GetHouse(ctx context.Context, id string) (house.House, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.houses[id]
	if !ok {
		return house.House{}, shared.ErrHouseNotFound
	}
	return h, nil
}

// GetItem implements ledger.Reader.
func (s *Store) GetItem(ctx context.Context, id string) (shop.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return shop.Item{}, shared.ErrItemNotFound
	}
	return cloneItem(it), nil
}

// GetShopRequest implements ledger.Reader.
func (s *Store) GetShopRequest(ctx context.Context, id string) (shop.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return shop.Request{}, shared.ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

// GetPurchase implements ledger.Reader.
func (s *Store) GetPurchase(ctx context.Context, id string) (ledger.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.purchases[id]
	if !ok {
		return ledger.Purchase{}, shared.ErrPurchaseNotFound
	}
	return clonePurchase(p), nil
}

// ListAccounts implements ledger.Reader. Sorted by id.
func (s *Store) ListAccounts(ctx context.Context, filter account.Filter) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListHouses implements ledger.Reader. Sorted by id.
func (s *Store) ListHouses(ctx context.Context) ([]house.House, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]house.House, 0, len(s.houses))
	for _, h := range s.houses {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListItems implements ledger.Reader. Sorted by id.
func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]shop.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]shop.Item, 0, len(s.items))
	for _, it := range s.items {
		if activeOnly && !it.Active {
			continue
		}
		out = append(out, cloneItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListShopRequests implements ledger.Reader. Oldest first.
func (s *Store) ListShopRequests(ctx context.Context, status shop.RequestStatus) ([]shop.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]shop.Request, 0)
	for _, r := range s.requests {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListAwards implements ledger.Reader. Newest first.
func (s *Store) ListAwards(ctx context.Context, filter ledger.AwardFilter) ([]ledger.Award, error) {
	s.mu.RLock()
	out := make([]ledger.Award, 0)
	for _, a := range s.awards {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListPurchases implements ledger.Reader. Newest first.
func (s *Store) ListPurchases(ctx context.Context, filter ledger.PurchaseFilter) ([]ledger.Purchase, error) {
	s.mu.RLock()
	out := make([]ledger.Purchase, 0)
	for _, p := range s.purchases {
		if filter.Matches(p) {
			out = append(out, clonePurchase(p))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ReadAuditView implements ledger.ConsistentReader under one read lock, so no
// commit can land between the ledger rows and the aggregates.
func (s *Store) ReadAuditView(ctx context.Context) (ledger.AuditView, error) {
	if err := ctx.Err(); err != nil {
		return ledger.AuditView{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ledger.AuditView{}, shared.ErrStoreUnavailable
	}

	v := ledger.AuditView{
		Awards:    append([]ledger.Award(nil), s.awards...),
		Purchases: make([]ledger.Purchase, 0, len(s.purchases)),
		Accounts:  make([]account.Account, 0, len(s.accounts)),
		Houses:    make([]house.House, 0, len(s.houses)),
		Items:     make([]shop.Item, 0, len(s.items)),
	}
	for _, p := range s.purchases {
		v.Purchases = append(v.Purchases, clonePurchase(p))
	}
	for _, a := range s.accounts {
		v.Accounts = append(v.Accounts, a)
	}
	for _, h := range s.houses {
		v.Houses = append(v.Houses, h)
	}
	for _, it := range s.items {
		v.Items = append(v.Items, cloneItem(it))
	}
	sort.Slice(v.Accounts, func(i, j int) bool { return v.Accounts[i].ID < v.Accounts[j].ID })
	sort.Slice(v.Houses, func(i, j int) bool { return v.Houses[i].ID < v.Houses[j].ID })
	sort.Slice(v.Items, func(i, j int) bool { return v.Items[i].ID < v.Items[j].ID })
	return v, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// CreateHouse implements ledger.Catalog.
func (s *Store) CreateHouse(ctx context.Context, h house.House) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.houses[h.ID]; exists {
		return shared.ErrHouseAlreadyExists
	}
	h.TotalPoints = 0
	h.Version = 1
	s.houses[h.ID] = h
	return nil
}

// UpsertProfile implements ledger.Catalog.
func (s *Store) UpsertProfile(ctx context.Context, p account.Profile) (account.Account, error) {
	if err := p.Validate(); err != nil {
		return account.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.HouseID != "" {
		if _, ok := s.houses[p.HouseID]; !ok {
			return account.Account{}, shared.ErrHouseNotFound
		}
	}
	current := s.accounts[p.ID]
	updated := p.Apply(current, s.now())
	updated.Version = current.Version + 1
	s.accounts[p.ID] = updated
	return updated, nil
}

// SubmitShopRequest implements ledger.Catalog.
func (s *Store) SubmitShopRequest(ctx context.Context, r shop.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[r.ID]; exists {
		return shared.NewDomainError("shop", "SubmitRequest", shared.ErrAlreadyExists, "shop request already exists")
	}
	r.Status = shop.RequestPending
	r.Version = 1
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

// SetItemActive implements ledger.Catalog.
func (s *Store) SetItemActive(ctx context.Context, itemID string, active bool) (shop.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return shop.Item{}, shared.ErrItemNotFound
	}
	it.Active = active
	it.Version++
	s.items[itemID] = it
	return cloneItem(it), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLONING
// ══════════════════════════════════════════════════════════════════════════════

func cloneItem(it shop.Item) shop.Item {
	if it.StockQuantity != nil {
		q := *it.StockQuantity
		it.StockQuantity = &q
	}
	if it.ApprovedAt != nil {
		at := *it.ApprovedAt
		it.ApprovedAt = &at
	}
	return it
}

func cloneRequest(r shop.Request) shop.Request {
	if r.ReviewedAt != nil {
		at := *r.ReviewedAt
		r.ReviewedAt = &at
	}
	return r
}

func clonePurchase(p ledger.Purchase) ledger.Purchase {
	if p.FulfilledAt != nil {
		at := *p.FulfilledAt
		p.FulfilledAt = &at
	}
	return p
}
