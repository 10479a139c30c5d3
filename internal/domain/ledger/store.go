package ledger

import (
	"context"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/shop"
)

// ══════════════════════════════════════════════════════════════════════════════
// READ SIDE
// ══════════════════════════════════════════════════════════════════════════════

// Reader exposes committed state. Every method returns values, never
// references into the store, so nothing obtained through a Reader can be
// used to mutate an aggregate.
type Reader interface {
	// GetAccount returns shared.ErrAccountNotFound if missing.
	GetAccount(ctx context.Context, id string) (account.Account, error)

	// GetHouse returns shared.ErrHouseNotFound if missing.
	GetHouse(ctx context.Context, id string) (house.House, error)

	// GetItem returns shared.ErrItemNotFound if missing.
	GetItem(ctx context.Context, id string) (shop.Item, error)

	// GetShopRequest returns shared.ErrRequestNotFound if missing.
	GetShopRequest(ctx context.Context, id string) (shop.Request, error)

	// GetPurchase returns shared.ErrPurchaseNotFound if missing.
	GetPurchase(ctx context.Context, id string) (Purchase, error)

	ListAccounts(ctx context.Context, filter account.Filter) ([]account.Account, error)
	ListHouses(ctx context.Context) ([]house.House, error)
	ListItems(ctx context.Context, activeOnly bool) ([]shop.Item, error)
	ListShopRequests(ctx context.Context, status shop.RequestStatus) ([]shop.Request, error)
	ListAwards(ctx context.Context, filter AwardFilter) ([]Award, error)
	ListPurchases(ctx context.Context, filter PurchaseFilter) ([]Purchase, error)
}

// AuditView is the whole ledger and every counter-bearing aggregate as of one
// committed point in time.
type AuditView struct {
	Awards    []Award
	Purchases []Purchase
	Accounts  []account.Account
	Houses    []house.House
	Items     []shop.Item
}

// ConsistentReader is a Reader that can read an AuditView in one snapshot.
// Separate List calls may straddle a commit and see counters that are ahead
// of the ledger rows read before them.
type ConsistentReader interface {
	Reader
	ReadAuditView(ctx context.Context) (AuditView, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE SIDE
// ══════════════════════════════════════════════════════════════════════════════

// Tx is one transaction attempt. Reads return the value together with its
// version. Saves are conditional on that version: if another transaction
// committed a change to the same entity first, either the Save or the final
// commit fails with shared.ErrConflict and nothing is applied.
//
// Save methods bump the Version field of their argument to the version the
// write will carry once committed.
type Tx interface {
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetHouse(ctx context.Context, id string) (house.House, error)
	GetItem(ctx context.Context, id string) (shop.Item, error)
	GetShopRequest(ctx context.Context, id string) (shop.Request, error)
	GetPurchase(ctx context.Context, id string) (Purchase, error)

	AppendAward(ctx context.Context, award Award) error
	AppendPurchase(ctx context.Context, purchase *Purchase) error

	SaveAccount(ctx context.Context, a *account.Account) error
	SaveHouse(ctx context.Context, h *house.House) error
	SaveItem(ctx context.Context, item *shop.Item) error
	InsertItem(ctx context.Context, item *shop.Item) error
	SaveShopRequest(ctx context.Context, r *shop.Request) error
	SavePurchase(ctx context.Context, p *Purchase) error
}

// TxFunc is the body of a transaction attempt.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is a durable transactional store holding the ledger and the
// aggregates derived from it.
type Store interface {
	ConsistentReader

	// RunInTx executes fn as one atomic unit. If fn returns an error nothing
	// is applied and that error is returned. If a conflicting transaction
	// committed first, shared.ErrConflict is returned. Transport failures
	// surface as shared.ErrStoreUnavailable, except a failure while the
	// commit itself was in flight, which is shared.ErrCommitUnknown: the
	// transaction may have been applied and must not be blindly replayed.
	RunInTx(ctx context.Context, fn TxFunc) error

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog is the write surface of the catalog and identity collaborators.
// None of its methods can change an engine-owned counter.
type Catalog interface {
	// CreateHouse inserts a house with a zero total.
	CreateHouse(ctx context.Context, h house.House) error

	// UpsertProfile creates the account or updates its profile fields,
	// leaving the counters untouched.
	UpsertProfile(ctx context.Context, p account.Profile) (account.Account, error)

	// SubmitShopRequest stores a pending request.
	SubmitShopRequest(ctx context.Context, r shop.Request) error

	// SetItemActive toggles whether an item can be bought.
	SetItemActive(ctx context.Context, itemID string, active bool) (shop.Item, error)
}
