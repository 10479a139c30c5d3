package sqlite

import (
	"context"
	"database/sql"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

// tx implements ledger.Tx on one *sql.Tx. Saves are UPDATEs guarded by the
// version the caller read.
type tx struct {
	q querier
}

func isDuplicate(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE)
}

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

func (t *tx) AppendAward(ctx context.Context, a ledger.Award) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO award_events (`+awardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.StudentID, a.TeacherID, a.HouseID, a.Points, a.Reason, string(a.Category), formatTime(a.Timestamp))
	if isDuplicate(err) {
		return shared.NewDomainError("ledger", "AppendAward", shared.ErrAlreadyExists, "award already recorded")
	}
	return mapError("append award", err)
}

func (t *tx) AppendPurchase(ctx context.Context, p *ledger.Purchase) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO purchase_events (`+purchaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, p.ID, p.StudentID, p.ItemID, p.ItemName, p.PriceAtPurchase, formatTime(p.Timestamp),
		string(p.Status), nullTime(p.FulfilledAt), p.FulfilledBy, p.Notes)
	if isDuplicate(err) {
		return shared.NewDomainError("ledger", "AppendPurchase", shared.ErrAlreadyExists, "purchase already recorded")
	}
	if err != nil {
		return mapError("append purchase", err)
	}
	p.Version = 1
	return nil
}

func (t *tx) SaveAccount(ctx context.Context, a *account.Account) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE accounts SET points_earned = ?, points_spent = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, a.PointsEarned, a.PointsSpent, formatTime(a.UpdatedAt), a.ID, a.Version)
	return bump(res, err, "save account", &a.Version)
}

func (t *tx) SaveHouse(ctx context.Context, h *house.House) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE houses SET total_points = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, h.TotalPoints, h.ID, h.Version)
	return bump(res, err, "save house", &h.Version)
}

func (t *tx) SaveItem(ctx context.Context, it *shop.Item) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE shop_items SET sold_count = ?, active = ?, price = ?, stock_quantity = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, it.SoldCount, it.Active, it.Price, nullInt(it.StockQuantity), it.ID, it.Version)
	return bump(res, err, "save item", &it.Version)
}

func (t *tx) InsertItem(ctx context.Context, it *shop.Item) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO shop_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, it.ID, it.Name, it.Description, string(it.Category), it.ImageURL, it.Price, nullInt(it.StockQuantity),
		it.SoldCount, it.Active, it.CreatedBy, it.ApprovedBy, nullTime(it.ApprovedAt), formatTime(it.CreatedAt))
	if isDuplicate(err) {
		return shared.NewDomainError("shop", "InsertItem", shared.ErrAlreadyExists, "item already exists")
	}
	if err != nil {
		return mapError("insert item", err)
	}
	it.Version = 1
	return nil
}

func (t *tx) SaveShopRequest(ctx context.Context, r *shop.Request) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE shop_requests SET status = ?, admin_notes = ?, reviewed_by = ?, reviewed_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(r.Status), r.AdminNotes, r.ReviewedBy, nullTime(r.ReviewedAt), r.ID, r.Version)
	return bump(res, err, "save shop request", &r.Version)
}

func (t *tx) SavePurchase(ctx context.Context, p *ledger.Purchase) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE purchase_events SET status = ?, fulfilled_at = ?, fulfilled_by = ?, notes = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(p.Status), nullTime(p.FulfilledAt), p.FulfilledBy, p.Notes, p.ID, p.Version)
	return bump(res, err, "save purchase", &p.Version)
}

// bump turns the result of a conditional UPDATE into ErrConflict or a new
// version.
func bump(res sql.Result, err error, op string, version *int64) error {
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return shared.ErrConflict
	}
	*version++
	return nil
}
