package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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
// TIME
// ══════════════════════════════════════════════════════════════════════════════

// timeLayout is fixed width so that text comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GETTERS
// ══════════════════════════════════════════════════════════════════════════════

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// row is satisfied by both *sql.Row and *sql.Rows.
type row interface {
	Scan(dest ...any) error
}

func getAccount(ctx context.Context, q querier, id string) (account.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, shared.ErrAccountNotFound
	}
	return a, err
}

func getHouse(ctx context.Context, q querier, id string) (house.House, error) {
	h, err := scanHouse(q.QueryRowContext(ctx, "SELECT "+houseColumns+" FROM houses WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return house.House{}, shared.ErrHouseNotFound
	}
	return h, err
}

func getItem(ctx context.Context, q querier, id string) (shop.Item, error) {
	it, err := scanItem(q.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM shop_items WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return shop.Item{}, shared.ErrItemNotFound
	}
	return it, err
}

func getShopRequest(ctx context.Context, q querier, id string) (shop.Request, error) {
	r, err := scanRequest(q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM shop_requests WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return shop.Request{}, shared.ErrRequestNotFound
	}
	return r, err
}

func getPurchase(ctx context.Context, q querier, id string) (ledger.Purchase, error) {
	p, err := scanPurchase(q.QueryRowContext(ctx, "SELECT "+purchaseColumns+" FROM purchase_events WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Purchase{}, shared.ErrPurchaseNotFound
	}
	return p, err
}

// list runs query and scans every row.
func list[T any](ctx context.Context, q querier, query string, args []any, scan func(row) (T, error)) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
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

// ══════════════════════════════════════════════════════════════════════════════
// SCANNERS
// ══════════════════════════════════════════════════════════════════════════════

func scanAccount(r row) (account.Account, error) {
	var (
		a                account.Account
		role             string
		grade            int
		created, updated string
	)
	err := r.Scan(&a.ID, &a.Email, &a.DisplayName, &role, &a.HouseID, &grade,
		&a.PointsEarned, &a.PointsSpent, &a.Version, &created, &updated)
	if err != nil {
		return account.Account{}, err
	}
	a.Role = account.Role(role)
	a.Grade = shared.Grade(grade)
	if a.CreatedAt, err = parseTime(created); err != nil {
		return account.Account{}, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return account.Account{}, err
	}
	return a, nil
}

func scanHouse(r row) (house.House, error) {
	var (
		h       house.House
		grade   int
		created string
	)
	err := r.Scan(&h.ID, &h.Name, &grade, &h.ColorHex, &h.Mascot, &h.Motto,
		&h.TotalPoints, &h.Version, &created)
	if err != nil {
		return house.House{}, err
	}
	h.Grade = shared.Grade(grade)
	if h.CreatedAt, err = parseTime(created); err != nil {
		return house.House{}, err
	}
	return h, nil
}

func scanItem(r row) (shop.Item, error) {
	var (
		it       shop.Item
		category string
		stock    sql.NullInt64
		approved sql.NullString
		created  string
	)
	err := r.Scan(&it.ID, &it.Name, &it.Description, &category, &it.ImageURL, &it.Price,
		&stock, &it.SoldCount, &it.Active, &it.CreatedBy, &it.ApprovedBy,
		&approved, &created, &it.Version)
	if err != nil {
		return shop.Item{}, err
	}
	it.Category = shop.Category(category)
	if stock.Valid {
		it.StockQuantity = &stock.Int64
	}
	if it.ApprovedAt, err = parseNullTime(approved); err != nil {
		return shop.Item{}, err
	}
	if it.CreatedAt, err = parseTime(created); err != nil {
		return shop.Item{}, err
	}
	return it, nil
}

func scanRequest(r row) (shop.Request, error) {
	var (
		req              shop.Request
		category, status string
		requested        string
		reviewed         sql.NullString
	)
	err := r.Scan(&req.ID, &req.TeacherID, &req.TeacherName, &req.ItemName, &req.ItemDescription,
		&req.SuggestedPrice, &category, &req.Justification, &requested, &status,
		&req.AdminNotes, &req.ReviewedBy, &reviewed, &req.Version)
	if err != nil {
		return shop.Request{}, err
	}
	req.Category = shop.Category(category)
	req.Status = shop.RequestStatus(status)
	if req.RequestedAt, err = parseTime(requested); err != nil {
		return shop.Request{}, err
	}
	if req.ReviewedAt, err = parseNullTime(reviewed); err != nil {
		return shop.Request{}, err
	}
	return req, nil
}

func scanAward(r row) (ledger.Award, error) {
	var (
		a        ledger.Award
		category string
		at       string
	)
	err := r.Scan(&a.ID, &a.StudentID, &a.TeacherID, &a.HouseID, &a.Points, &a.Reason, &category, &at)
	if err != nil {
		return ledger.Award{}, err
	}
	a.Category = ledger.AwardCategory(category)
	if a.Timestamp, err = parseTime(at); err != nil {
		return ledger.Award{}, err
	}
	return a, nil
}

func scanPurchase(r row) (ledger.Purchase, error) {
	var (
		p         ledger.Purchase
		status    string
		at        string
		fulfilled sql.NullString
	)
	err := r.Scan(&p.ID, &p.StudentID, &p.ItemID, &p.ItemName, &p.PriceAtPurchase,
		&at, &status, &fulfilled, &p.FulfilledBy, &p.Notes, &p.Version)
	if err != nil {
		return ledger.Purchase{}, err
	}
	p.Status = ledger.PurchaseStatus(status)
	if p.Timestamp, err = parseTime(at); err != nil {
		return ledger.Purchase{}, err
	}
	if p.FulfilledAt, err = parseNullTime(fulfilled); err != nil {
		return ledger.Purchase{}, err
	}
	return p, nil
}
