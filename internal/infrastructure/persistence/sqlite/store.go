// Package sqlite is a single-file ledger store on modernc.org/sqlite, for
// single-node deployments and tooling that should not need a database
// server. The schema mirrors the postgres store; aggregates carry a version
// column and every write is conditional on it.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements ledger.Store and ledger.Catalog on one SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", shared.ErrStoreUnavailable, err)
	}

	// SQLite has one writer; a single connection serializes transactions
	// instead of failing them with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create tables: %w", shared.ErrStoreUnavailable, err)
	}

	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunInTx implements ledger.Store. The transaction is begun detached from
// ctx so that cancellation cannot abort a commit already under way; ctx is
// still checked before the commit and honoured by every statement.
func (s *Store) RunInTx(ctx context.Context, fn ledger.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return mapError("begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = stx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &tx{q: stx}); err != nil {
		if rbErr := stx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", mapError("tx", err), rbErr)
		}
		return mapError("tx", err)
	}
	if err := ctx.Err(); err != nil {
		_ = stx.Rollback()
		return err
	}
	return mapError("commit", stx.Commit())
}

// Ping implements ledger.Store.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping", s.db.PingContext(ctx))
}

// Close implements ledger.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// READER
// ══════════════════════════════════════════════════════════════════════════════

// GetAccount implements ledger.Reader.
func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	a, err := getAccount(ctx, s.db, id)
	return a, mapError("get account", err)
}

// GetHouse implements ledger.Reader.
func (s *Store) GetHouse(ctx context.Context, id string) (house.House, error) {
	h, err := getHouse(ctx, s.db, id)
	return h, mapError("get house", err)
}

// GetItem implements ledger.Reader.
func (s *Store) GetItem(ctx context.Context, id string) (shop.Item, error) {
	it, err := getItem(ctx, s.db, id)
	return it, mapError("get item", err)
}

// GetShopRequest implements ledger.Reader.
func (s *Store) GetShopRequest(ctx context.Context, id string) (shop.Request, error) {
	r, err := getShopRequest(ctx, s.db, id)
	return r, mapError("get shop request", err)
}

// GetPurchase implements ledger.Reader.
func (s *Store) GetPurchase(ctx context.Context, id string) (ledger.Purchase, error) {
	p, err := getPurchase(ctx, s.db, id)
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
	out, err := list(ctx, s.db, "SELECT "+accountColumns+" FROM accounts"+w.sql()+" ORDER BY id", w.args, scanAccount)
	return out, mapError("list accounts", err)
}

// ListHouses implements ledger.Reader.
func (s *Store) ListHouses(ctx context.Context) ([]house.House, error) {
	out, err := list(ctx, s.db, "SELECT "+houseColumns+" FROM houses ORDER BY id", nil, scanHouse)
	return out, mapError("list houses", err)
}

// ListItems implements ledger.Reader.
func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]shop.Item, error) {
	query := "SELECT " + itemColumns + " FROM shop_items"
	if activeOnly {
		query += " WHERE active = 1"
	}
	out, err := list(ctx, s.db, query+" ORDER BY id", nil, scanItem)
	return out, mapError("list items", err)
}

// ListShopRequests implements ledger.Reader.
func (s *Store) ListShopRequests(ctx context.Context, status shop.RequestStatus) ([]shop.Request, error) {
	var w where
	if status != "" {
		w.add("status = ?", string(status))
	}
	out, err := list(ctx, s.db, "SELECT "+requestColumns+" FROM shop_requests"+w.sql()+" ORDER BY requested_at, id", w.args, scanRequest)
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
		w.add("occurred_at >= ?", formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		w.add("occurred_at < ?", formatTime(filter.Until))
	}

	query := "SELECT " + awardColumns + " FROM award_events" + w.sql() + " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	out, err := list(ctx, s.db, query, w.args, scanAward)
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
		w.add("occurred_at >= ?", formatTime(filter.Since))
	}

	query := "SELECT " + purchaseColumns + " FROM purchase_events" + w.sql() + " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	out, err := list(ctx, s.db, query, w.args, scanPurchase)
	return out, mapError("list purchases", err)
}

// ReadAuditView implements ledger.ConsistentReader. The store has a single
// connection, so while the transaction is open no writer can commit.
func (s *Store) ReadAuditView(ctx context.Context) (ledger.AuditView, error) {
	stx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.AuditView{}, mapError("begin", err)
	}
	defer func() { _ = stx.Rollback() }()

	var v ledger.AuditView
	if v.Awards, err = list(ctx, stx, "SELECT "+awardColumns+" FROM award_events ORDER BY occurred_at DESC, id DESC", nil, scanAward); err != nil {
		return ledger.AuditView{}, mapError("read audit view", err)
	}
	if v.Purchases, err = list(ctx, stx, "SELECT "+purchaseColumns+" FROM purchase_events ORDER BY occurred_at DESC, id DESC", nil, scanPurchase); err != nil {
		return ledger.AuditView{}, mapError("read audit view", err)
	}
	if v.Accounts, err = list(ctx, stx, "SELECT "+accountColumns+" FROM accounts ORDER BY id", nil, scanAccount); err != nil {
		return ledger.AuditView{}, mapError("read audit view", err)
	}
	if v.Houses, err = list(ctx, stx, "SELECT "+houseColumns+" FROM houses ORDER BY id", nil, scanHouse); err != nil {
		return ledger.AuditView{}, mapError("read audit view", err)
	}
	if v.Items, err = list(ctx, stx, "SELECT "+itemColumns+" FROM shop_items ORDER BY id", nil, scanItem); err != nil {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO houses (id, name, grade, color_hex, mascot, motto, total_points, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?)
	`, h.ID, h.Name, int(h.Grade), h.ColorHex, h.Mascot, h.Motto, formatTime(createdAt))
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
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
	at := formatTime(a.UpdatedAt)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, email, display_name, role, house_id, grade, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, 1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			role = excluded.role,
			house_id = excluded.house_id,
			grade = excluded.grade,
			updated_at = excluded.updated_at,
			version = accounts.version + 1
		RETURNING `+accountColumns,
		a.ID, a.Email, a.DisplayName, string(a.Role), a.HouseID, int(a.Grade), at, at,
	)
	out, err := scanAccount(row)
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
		return account.Account{}, shared.ErrHouseNotFound
	}
	return out, mapError("upsert profile", err)
}

// SubmitShopRequest implements ledger.Catalog.
func (s *Store) SubmitShopRequest(ctx context.Context, r shop.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shop_requests (
			id, teacher_id, teacher_name, item_name, item_description, suggested_price,
			category, justification, requested_at, status, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 1)
	`, r.ID, r.TeacherID, r.TeacherName, r.ItemName, r.ItemDescription, r.SuggestedPrice,
		string(r.Category), r.Justification, formatTime(r.RequestedAt))
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
		return shared.NewDomainError("shop", "SubmitRequest", shared.ErrAlreadyExists, "shop request already exists")
	}
	return mapError("submit shop request", err)
}

// SetItemActive implements ledger.Catalog.
func (s *Store) SetItemActive(ctx context.Context, itemID string, active bool) (shop.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE shop_items SET active = ?, version = version + 1
		WHERE id = ?
		RETURNING `+itemColumns, active, itemID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return shop.Item{}, shared.ErrItemNotFound
	}
	return it, mapError("set item active", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// where accumulates AND-ed conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

// isConstraint reports whether err is one of the given extended constraint
// codes.
func isConstraint(err error, codes ...int) bool {
	code := sqliteCode(err)
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// mapError converts a driver error into the engine's taxonomy. A busy or
// locked database means another writer holds the file and the attempt can be
// retried.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *shared.DomainError
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrStoreUnavailable):
		return err
	case errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %s: %w", shared.ErrStoreUnavailable, op, err)
	}

	switch sqliteCode(err) & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %s: %w", shared.ErrConflict, op, err)
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_READONLY:
		return fmt.Errorf("%w: %s: %w", shared.ErrStoreUnavailable, op, err)
	}
	if strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %s: %w", shared.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}
