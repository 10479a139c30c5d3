package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements ledger.Store and ledger.Catalog on PostgreSQL.
type Store struct {
	conn *Connection
	now  func() time.Time
}

// NewStore creates a store on an open connection.
func NewStore(conn *Connection) *Store {
	return &Store{
		conn: conn,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// RunInTx implements ledger.Store.
func (s *Store) RunInTx(ctx context.Context, fn ledger.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(ptx pgx.Tx) error {
		return fn(ctx, &tx{q: ptx})
	})
	return mapError("tx", err)
}

// Ping implements ledger.Store.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping", s.conn.Ping(ctx))
}

// Close implements ledger.Store.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READER
// ══════════════════════════════════════════════════════════════════════════════

// GetAccount implements ledger.Reader.
func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	a, err := getAccount(ctx, s.conn, id)
	return a, mapError("get account", err)
}

// GetHouse implements ledger.Reader.
func (s *Store) GetHouse(ctx context.Context, id string) (house.House, error) {
	h, err := getHouse(ctx, s.conn, id)
	return h, mapError("get house", err)
}

// GetItem implements ledger.Reader.
func (s *Store) GetItem(ctx context.Context, id string) (shop.Item, error) {
	it, err := getItem(ctx, s.conn, id)
	return it, mapError("get item", err)
}

// GetShopRequest implements ledger.Reader.
func (s *Store) GetShopRequest(ctx context.Context, id string) (shop.Request, error) {
	r, err := getShopRequest(ctx, s.conn, id)
	return r, mapError("get shop request", err)
}

// GetPurchase implements ledger.Reader.
func (s *Store) GetPurchase(ctx context.Context, id string) (ledger.Purchase, error) {
	p, err := getPurchase(ctx, s.conn, id)
	return p, mapError("get purchase", err)
}

// ListAccounts implements ledger.Reader.
func (s *Store) ListAccounts(ctx context.Context, filter account.Filter) ([]account.Account, error) {
	var w where
	if filter.Role != "" {
		w.add("role = ?", string(filter.Role))
	}
	if filter.HouseID != "" {
		w.add("house_id = ?", filter.HouseID)
	}
	if filter.Grade.IsSet() {
		w.add("grade = ?", int(filter.Grade))
	}

	rows, err := s.conn.Query(ctx, "SELECT "+accountColumns+" FROM accounts"+w.sql()+" ORDER BY id", w.args...)
	if err != nil {
		return nil, mapError("list accounts", err)
	}
	out, err := collect(rows, scanAccount)
	return out, mapError("list accounts", err)
}

// ListHouses implements ledger.Reader.
func (s *Store) ListHouses(ctx context.Context) ([]house.House, error) {
	rows, err := s.conn.Query(ctx, "SELECT "+houseColumns+" FROM houses ORDER BY id")
	if err != nil {
		return nil, mapError("list houses", err)
	}
	out, err := collect(rows, scanHouse)
	return out, mapError("list houses", err)
}

// ListItems implements ledger.Reader.
func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]shop.Item, error) {
	query := "SELECT " + itemColumns + " FROM shop_items"
	if activeOnly {
		query += " WHERE active"
	}
	rows, err := s.conn.Query(ctx, query+" ORDER BY id")
	if err != nil {
		return nil, mapError("list items", err)
	}
	out, err := collect(rows, scanItem)
	return out, mapError("list items", err)
}

// ListShopRequests implements ledger.Reader.
func (s *Store) ListShopRequests(ctx context.Context, status shop.RequestStatus) ([]shop.Request, error) {
	var w where
	if status != "" {
		w.add("status = ?", string(status))
	}
	rows, err := s.conn.Query(ctx, "SELECT "+requestColumns+" FROM shop_requests"+w.sql()+" ORDER BY requested_at, id", w.args...)
	if err != nil {
		return nil, mapError("list shop requests", err)
	}
	out, err := collect(rows, scanRequest)
	return out, mapError("list shop requests", err)
}

// ListAwards implements ledger.Reader.
func (s *Store) ListAwards(ctx context.Context, filter ledger.AwardFilter) ([]ledger.Award, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id = ?", filter.StudentID)
	}
	if filter.TeacherID != "" {
		w.add("teacher_id = ?", filter.TeacherID)
	}
	if filter.HouseID != "" {
		w.add("house_id = ?", filter.HouseID)
	}
	if !filter.Since.IsZero() {
		w.add("occurred_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		w.add("occurred_at < ?", filter.Until)
	}

	query := "SELECT " + awardColumns + " FROM award_events" + w.sql() + " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := s.conn.Query(ctx, query, w.args...)
	if err != nil {
		return nil, mapError("list awards", err)
	}
	out, err := collect(rows, scanAward)
	return out, mapError("list awards", err)
}

// ListPurchases implements ledger.Reader.
func (s *Store) ListPurchases(ctx context.Context, filter ledger.PurchaseFilter) ([]ledger.Purchase, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id = ?", filter.StudentID)
	}
	if filter.ItemID != "" {
		w.add("item_id = ?", filter.ItemID)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		w.add("occurred_at >= ?", filter.Since)
	}

	query := "SELECT " + purchaseColumns + " FROM purchase_events" + w.sql() + " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := s.conn.Query(ctx, query, w.args...)
	if err != nil {
		return nil, mapError("list purchases", err)
	}
	out, err := collect(rows, scanPurchase)
	return out, mapError("list purchases", err)
}

// ReadAuditView implements ledger.ConsistentReader. Every query runs in one
// REPEATABLE READ, READ ONLY transaction and so sees the same snapshot.
func (s *Store) ReadAuditView(ctx context.Context) (ledger.AuditView, error) {
	var v ledger.AuditView
	opts := TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := s.conn.WithTx(ctx, opts, func(ptx pgx.Tx) error {
		var err error
		if v.Awards, err = queryAll(ctx, ptx, "SELECT "+awardColumns+" FROM award_events ORDER BY occurred_at DESC, id DESC", scanAward); err != nil {
			return err
		}
		if v.Purchases, err = queryAll(ctx, ptx, "SELECT "+purchaseColumns+" FROM purchase_events ORDER BY occurred_at DESC, id DESC", scanPurchase); err != nil {
			return err
		}
		if v.Accounts, err = queryAll(ctx, ptx, "SELECT "+accountColumns+" FROM accounts ORDER BY id", scanAccount); err != nil {
			return err
		}
		if v.Houses, err = queryAll(ctx, ptx, "SELECT "+houseColumns+" FROM houses ORDER BY id", scanHouse); err != nil {
			return err
		}
		v.Items, err = queryAll(ctx, ptx, "SELECT "+itemColumns+" FROM shop_items ORDER BY id", scanItem)
		return err
	})
	if err != nil {
		return ledger.AuditView{}, mapError("read audit view", err)
	}
	return v, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// CreateHouse implements ledger.Catalog.
func (s *Store) CreateHouse(ctx context.Context, h house.House) error {
	createdAt := h.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO houses (id, name, grade, color_hex, mascot, motto, total_points, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 1, $7)
	`, h.ID, h.Name, int(h.Grade), h.ColorHex, h.Mascot, h.Motto, createdAt)
	if IsUniqueViolation(err) {
		return shared.ErrHouseAlreadyExists
	}
	return mapError("create house", err)
}

// UpsertProfile implements ledger.Catalog. Counters are never part of the
// statement, so a profile update cannot move points.
func (s *Store) UpsertProfile(ctx context.Context, p account.Profile) (account.Account, error) {
	if err := p.Validate(); err != nil {
		return account.Account{}, err
	}
	a := p.Apply(account.Account{}, s.now())

	row := s.conn.QueryRow(ctx, `
		INSERT INTO accounts (id, email, display_name, role, house_id, grade, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, 1, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			house_id = EXCLUDED.house_id,
			grade = EXCLUDED.grade,
			updated_at = EXCLUDED.updated_at,
			version = accounts.version + 1
		RETURNING `+accountColumns,
		a.ID, a.Email, a.DisplayName, string(a.Role), a.HouseID, int(a.Grade), a.UpdatedAt,
	)
	out, err := scanAccount(row)
	if IsForeignKeyViolation(err) {
		return account.Account{}, shared.ErrHouseNotFound
	}
	return out, mapError("upsert profile", err)
}

// SubmitShopRequest implements ledger.Catalog.
func (s *Store) SubmitShopRequest(ctx context.Context, r shop.Request) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO shop_requests (
			id, teacher_id, teacher_name, item_name, item_description, suggested_price,
			category, justification, requested_at, status, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', 1)
	`, r.ID, r.TeacherID, r.TeacherName, r.ItemName, r.ItemDescription, r.SuggestedPrice,
		string(r.Category), r.Justification, r.RequestedAt)
	if IsUniqueViolation(err) {
		return shared.NewDomainError("shop", "SubmitRequest", shared.ErrAlreadyExists, "shop request already exists")
	}
	return mapError("submit shop request", err)
}

// SetItemActive implements ledger.Catalog.
func (s *Store) SetItemActive(ctx context.Context, itemID string, active bool) (shop.Item, error) {
	row := s.conn.QueryRow(ctx, `
		UPDATE shop_items SET active = $2, version = version + 1
		WHERE id = $1
		RETURNING `+itemColumns, itemID, active)
	it, err := scanItem(row)
	if IsNoRows(err) {
		return shop.Item{}, shared.ErrItemNotFound
	}
	return it, mapError("set item active", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY BUILDING
// ══════════════════════════════════════════════════════════════════════════════

// where accumulates AND-ed conditions, numbering "?" placeholders as $n.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
