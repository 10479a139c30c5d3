package memory

import (
	"context"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

type entityKind uint8

const (
	kindAccount entityKind = iota + 1
	kindHouse
	kindItem
	kindRequest
	kindPurchase
)

type key struct {
	kind entityKind
	id   string
}

// tx stages writes for one RunInTx attempt. observed holds the committed
// version each touched entity had when this attempt first saw it; 0 means
// the entity must still be absent at commit.
type tx struct {
	s        *Store
	observed map[key]int64

	accounts  map[string]account.Account
	houses    map[string]house.House
	items     map[string]shop.Item
	requests  map[string]shop.Request
	purchases map[string]ledger.Purchase
	awards    []ledger.Award
}

var _ ledger.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:         s,
		observed:  make(map[key]int64),
		accounts:  make(map[string]account.Account),
		houses:    make(map[string]house.House),
		items:     make(map[string]shop.Item),
		requests:  make(map[string]shop.Request),
		purchases: make(map[string]ledger.Purchase),
	}
}

// observe records the committed version of k the first time this attempt
// touches it, and returns the version the attempt currently expects.
func (t *tx) observe(k key) int64 {
	if v, ok := t.observed[k]; ok {
		return t.expected(k, v)
	}
	t.s.mu.RLock()
	v := t.s.versionLocked(k)
	t.s.mu.RUnlock()
	t.observed[k] = v
	return v
}

// expected returns the staged version if the attempt already wrote k.
func (t *tx) expected(k key, committed int64) int64 {
	switch k.kind {
	case kindAccount:
		if a, ok := t.accounts[k.id]; ok {
			return a.Version
		}
	case kindHouse:
		if h, ok := t.houses[k.id]; ok {
			return h.Version
		}
	case kindItem:
		if it, ok := t.items[k.id]; ok {
			return it.Version
		}
	case kindRequest:
		if r, ok := t.requests[k.id]; ok {
			return r.Version
		}
	case kindPurchase:
		if p, ok := t.purchases[k.id]; ok {
			return p.Version
		}
	}
	return committed
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

func (t *tx) GetAccount(ctx context.Context, id string) (account.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a, nil
	}
	a, err := t.s.GetAccount(ctx, id)
	t.record(key{kindAccount, id}, a.Version, err)
	return a, err
}

func (t *tx) GetHouse(ctx context.Context, id string) (house.House, error) {
	if h, ok := t.houses[id]; ok {
		return h, nil
	}
	h, err := t.s.GetHouse(ctx, id)
	t.record(key{kindHouse, id}, h.Version, err)
	return h, err
}

func (t *tx) GetItem(ctx context.Context, id string) (shop.Item, error) {
	if it, ok := t.items[id]; ok {
		return cloneItem(it), nil
	}
	it, err := t.s.GetItem(ctx, id)
	t.record(key{kindItem, id}, it.Version, err)
	return it, err
}

func (t *tx) GetShopRequest(ctx context.Context, id string) (shop.Request, error) {
	if r, ok := t.requests[id]; ok {
		return cloneRequest(r), nil
	}
	r, err := t.s.GetShopRequest(ctx, id)
	t.record(key{kindRequest, id}, r.Version, err)
	return r, err
}

func (t *tx) GetPurchase(ctx context.Context, id string) (ledger.Purchase, error) {
	if p, ok := t.purchases[id]; ok {
		return clonePurchase(p), nil
	}
	p, err := t.s.GetPurchase(ctx, id)
	t.record(key{kindPurchase, id}, p.Version, err)
	return p, err
}

// record keeps the first version seen for k. A miss is recorded as 0 so a
// concurrent insert is detected at commit.
func (t *tx) record(k key, version int64, err error) {
	if _, seen := t.observed[k]; seen {
		return
	}
	if err != nil {
		if !shared.IsNotFound(err) {
			return
		}
		version = 0
	}
	t.observed[k] = version
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

func (t *tx) AppendAward(ctx context.Context, award ledger.Award) error {
	for _, a := range t.awards {
		if a.ID == award.ID {
			return shared.NewDomainError("ledger", "AppendAward", shared.ErrAlreadyExists, "award already recorded")
		}
	}
	t.awards = append(t.awards, award)
	return nil
}

func (t *tx) AppendPurchase(ctx context.Context, p *ledger.Purchase) error {
	k := key{kindPurchase, p.ID}
	if t.observe(k) != 0 {
		return shared.NewDomainError("ledger", "AppendPurchase", shared.ErrAlreadyExists, "purchase already recorded")
	}
	p.Version = 1
	t.purchases[p.ID] = clonePurchase(*p)
	return nil
}

func (t *tx) SaveAccount(ctx context.Context, a *account.Account) error {
	if err := t.check(key{kindAccount, a.ID}, a.Version); err != nil {
		return err
	}
	a.Version++
	t.accounts[a.ID] = *a
	return nil
}

func (t *tx) SaveHouse(ctx context.Context, h *house.House) error {
	if err := t.check(key{kindHouse, h.ID}, h.Version); err != nil {
		return err
	}
	h.Version++
	t.houses[h.ID] = *h
	return nil
}

func (t *tx) SaveItem(ctx context.Context, item *shop.Item) error {
	if err := t.check(key{kindItem, item.ID}, item.Version); err != nil {
		return err
	}
	item.Version++
	t.items[item.ID] = cloneItem(*item)
	return nil
}

func (t *tx) InsertItem(ctx context.Context, item *shop.Item) error {
	if t.observe(key{kindItem, item.ID}) != 0 {
		return shared.NewDomainError("shop", "InsertItem", shared.ErrAlreadyExists, "item already exists")
	}
	item.Version = 1
	t.items[item.ID] = cloneItem(*item)
	return nil
}

func (t *tx) SaveShopRequest(ctx context.Context, r *shop.Request) error {
	if err := t.check(key{kindRequest, r.ID}, r.Version); err != nil {
		return err
	}
	r.Version++
	t.requests[r.ID] = cloneRequest(*r)
	return nil
}

func (t *tx) SavePurchase(ctx context.Context, p *ledger.Purchase) error {
	if err := t.check(key{kindPurchase, p.ID}, p.Version); err != nil {
		return err
	}
	p.Version++
	t.purchases[p.ID] = clonePurchase(*p)
	return nil
}

// check fails with ErrConflict when version is not the one this attempt
// expects for k. Saving an entity that does not exist is a conflict too:
// updates only ever follow a read.
func (t *tx) check(k key, version int64) error {
	current := t.observe(k)
	if current == 0 || current != version {
		return shared.ErrConflict
	}
	return nil
}
