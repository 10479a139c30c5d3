package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

// tx implements ledger.Tx on one database transaction. Every Save is an
// UPDATE guarded by the version the caller read; zero affected rows means a
// concurrent commit got there first.
type tx struct {
	q Querier
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

func (t *tx) GetAccount(ctx context.Context, id string) (account.Account, error) {
	a, err := getAccount(ctx, t.q, id)
	return a, mapError("get account", err)
}

func (t *tx) GetHouse(ctx context.Context, id string) (house.House, error) {
	h, err := getHouse(ctx, t.q, id)
	return h, mapError("get house", err)
}

func (t *tx) GetItem(ctx context.Context, id string) (shop.Item, error) {
	it, err := getItem(ctx, t.q, id)
	return it, mapError("get item", err)
}

func (t *tx) GetShopRequest(ctx context.Context, id string) (shop.Request, error) {
	r, err := getShopRequest(ctx, t.q, id)
	return r, mapError("get shop request", err)
}

func (t *tx) GetPurchase(ctx context.Context, id string) (ledger.Purchase, error) {
	p, err := getPurchase(ctx, t.q, id)
	return p, mapError("get purchase", err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Appends
// ─────────────────────────────────────────────────────────────────────────────

func (t *tx) AppendAward(ctx context.Context, a ledger.Award) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO award_events (`+awardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.StudentID, a.TeacherID, a.HouseID, a.Points, a.Reason, string(a.Category), a.Timestamp)
	if IsUniqueViolation(err) {
		return shared.NewDomainError("ledger", "AppendAward", shared.ErrAlreadyExists, "award already recorded")
	}
	return mapError("append award", err)
}

func (t *tx) AppendPurchase(ctx context.Context, p *ledger.Purchase) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO purchase_events (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
	`, p.ID, p.StudentID, p.ItemID, p.ItemName, p.PriceAtPurchase, p.Timestamp,
		string(p.Status), p.FulfilledAt, p.FulfilledBy, p.Notes)
	if IsUniqueViolation(err) {
		return shared.NewDomainError("ledger", "AppendPurchase", shared.ErrAlreadyExists, "purchase already recorded")
	}
	if err != nil {
		return mapError("append purchase", err)
	}
	p.Version = 1
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Conditional updates
// ─────────────────────────────────────────────────────────────────────────────

func (t *tx) SaveAccount(ctx context.Context, a *account.Account) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE accounts SET points_earned = $3, points_spent = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $2
	`, a.ID, a.Version, a.PointsEarned, a.PointsSpent, a.UpdatedAt)
	return bump(tag, err, "save account", &a.Version)
}

func (t *tx) SaveHouse(ctx context.Context, h *house.House) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE houses SET total_points = $3, version = version + 1
		WHERE id = $1 AND version = $2
	`, h.ID, h.Version, h.TotalPoints)
	return bump(tag, err, "save house", &h.Version)
}

func (t *tx) SaveItem(ctx context.Context, it *shop.Item) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE shop_items SET sold_count = $3, active = $4, price = $5, stock_quantity = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`, it.ID, it.Version, it.SoldCount, it.Active, it.Price, it.StockQuantity)
	return bump(tag, err, "save item", &it.Version)
}

func (t *tx) InsertItem(ctx context.Context, it *shop.Item) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO shop_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
	`, it.ID, it.Name, it.Description, string(it.Category), it.ImageURL, it.Price, it.StockQuantity,
		it.SoldCount, it.Active, it.CreatedBy, it.ApprovedBy, it.ApprovedAt, it.CreatedAt)
	if IsUniqueViolation(err) {
		return shared.NewDomainError("shop", "InsertItem", shared.ErrAlreadyExists, "item already exists")
	}
	if err != nil {
		return mapError("insert item", err)
	}
	it.Version = 1
	return nil
}

func (t *tx) SaveShopRequest(ctx context.Context, r *shop.Request) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE shop_requests SET status = $3, admin_notes = $4, reviewed_by = $5, reviewed_at = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`, r.ID, r.Version, string(r.Status), r.AdminNotes, r.ReviewedBy, r.ReviewedAt)
	return bump(tag, err, "save shop request", &r.Version)
}

func (t *tx) SavePurchase(ctx context.Context, p *ledger.Purchase) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE purchase_events SET status = $3, fulfilled_at = $4, fulfilled_by = $5, notes = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`, p.ID, p.Version, string(p.Status), p.FulfilledAt, p.FulfilledBy, p.Notes)
	return bump(tag, err, "save purchase", &p.Version)
}

// bump turns the result of a conditional UPDATE into ErrConflict or a new
// version.
func bump(tag pgconn.CommandTag, err error, op string, version *int64) error {
	if err != nil {
		return mapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConflict
	}
	*version++
	return nil
}
