package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLUMNS
// ══════════════════════════════════════════════════════════════════════════════

const (
	accountColumns = `id, email, display_name, role, COALESCE(house_id, ''), grade,
		points_earned, points_spent, version, created_at, updated_at`

	houseColumns = `id, name, grade, color_hex, mascot, motto, total_points, version, created_at`

	itemColumns = `id, name, description, category, image_url, price, stock_quantity,
		sold_count, active, created_by, approved_by, approved_at, created_at, version`

	requestColumns = `id, teacher_id, teacher_name, item_name, item_description, suggested_price,
		category, justification, requested_at, status, admin_notes, reviewed_by, reviewed_at, version`

	awardColumns = `id, student_id, teacher_id, house_id, points, reason, category, occurred_at`

	purchaseColumns = `id, student_id, item_id, item_name, price_at_purchase, occurred_at,
		status, fulfilled_at, fulfilled_by, notes, version`
)

// ══════════════════════════════════════════════════════════════════════════════
// GETTERS
// ══════════════════════════════════════════════════════════════════════════════

// Shared by the pool and by transactions. pgx.ErrNoRows becomes the entity's
// not-found error.

func getAccount(ctx context.Context, q Querier, id string) (account.Account, error) {
	a, err := scanAccount(q.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	if IsNoRows(err) {
		return account.Account{}, shared.ErrAccountNotFound
	}
	return a, err
}

func getHouse(ctx context.Context, q Querier, id string) (house.House, error) {
	h, err := scanHouse(q.QueryRow(ctx, "SELECT "+houseColumns+" FROM houses WHERE id = $1", id))
	if IsNoRows(err) {
		return house.House{}, shared.ErrHouseNotFound
	}
	return h, err
}

func getItem(ctx context.Context, q Querier, id string) (shop.Item, error) {
	it, err := scanItem(q.QueryRow(ctx, "SELECT "+itemColumns+" FROM shop_items WHERE id = $1", id))
	if IsNoRows(err) {
		return shop.Item{}, shared.ErrItemNotFound
	}
	return it, err
}

func getShopRequest(ctx context.Context, q Querier, id string) (shop.Request, error) {
	r, err := scanRequest(q.QueryRow(ctx, "SELECT "+requestColumns+" FROM shop_requests WHERE id = $1", id))
	if IsNoRows(err) {
		return shop.Request{}, shared.ErrRequestNotFound
	}
	return r, err
}

func getPurchase(ctx context.Context, q Querier, id string) (ledger.Purchase, error) {
	p, err := scanPurchase(q.QueryRow(ctx, "SELECT "+purchaseColumns+" FROM purchase_events WHERE id = $1", id))
	if IsNoRows(err) {
		return ledger.Purchase{}, shared.ErrPurchaseNotFound
	}
	return p, err
}

// ══════════════════════════════════════════════════════════════════════════════
// SCANNERS
// ══════════════════════════════════════════════════════════════════════════════

func scanAccount(row pgx.Row) (account.Account, error) {
	var (
		a     account.Account
		role  string
		grade int
	)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &role, &a.HouseID, &grade,
		&a.PointsEarned, &a.PointsSpent, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	a.Role = account.Role(role)
	a.Grade = shared.Grade(grade)
	return a, nil
}

func scanHouse(row pgx.Row) (house.House, error) {
	var (
		h     house.House
		grade int
	)
	err := row.Scan(&h.ID, &h.Name, &grade, &h.ColorHex, &h.Mascot, &h.Motto,
		&h.TotalPoints, &h.Version, &h.CreatedAt)
	if err != nil {
		return house.House{}, err
	}
	h.Grade = shared.Grade(grade)
	return h, nil
}

func scanItem(row pgx.Row) (shop.Item, error) {
	var (
		it       shop.Item
		category string
	)
	err := row.Scan(&it.ID, &it.Name, &it.Description, &category, &it.ImageURL, &it.Price,
		&it.StockQuantity, &it.SoldCount, &it.Active, &it.CreatedBy, &it.ApprovedBy,
		&it.ApprovedAt, &it.CreatedAt, &it.Version)
	if err != nil {
		return shop.Item{}, err
	}
	it.Category = shop.Category(category)
	return it, nil
}

func scanRequest(row pgx.Row) (shop.Request, error) {
	var (
		r                shop.Request
		category, status string
	)
	err := row.Scan(&r.ID, &r.TeacherID, &r.TeacherName, &r.ItemName, &r.ItemDescription,
		&r.SuggestedPrice, &category, &r.Justification, &r.RequestedAt, &status,
		&r.AdminNotes, &r.ReviewedBy, &r.ReviewedAt, &r.Version)
	if err != nil {
		return shop.Request{}, err
	}
	r.Category = shop.Category(category)
	r.Status = shop.RequestStatus(status)
	return r, nil
}

func scanAward(row pgx.Row) (ledger.Award, error) {
	var (
		a        ledger.Award
		category string
	)
	err := row.Scan(&a.ID, &a.StudentID, &a.TeacherID, &a.HouseID, &a.Points, &a.Reason,
		&category, &a.Timestamp)
	if err != nil {
		return ledger.Award{}, err
	}
	a.Category = ledger.AwardCategory(category)
	return a, nil
}

func scanPurchase(row pgx.Row) (ledger.Purchase, error) {
	var (
		p      ledger.Purchase
		status string
	)
	err := row.Scan(&p.ID, &p.StudentID, &p.ItemID, &p.ItemName, &p.PriceAtPurchase,
		&p.Timestamp, &status, &p.FulfilledAt, &p.FulfilledBy, &p.Notes, &p.Version)
	if err != nil {
		return ledger.Purchase{}, err
	}
	p.Status = ledger.PurchaseStatus(status)
	return p, nil
}

// collect drains rows through scan.
func queryAll[T any](ctx context.Context, q Querier, sql string, scan func(pgx.Row) (T, error)) ([]T, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return collect(rows, scan)
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
