package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one embedded schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return NewMigratorWithMigrations(conn, GetMigrations())
}

// NewMigratorWithMigrations creates a migrator with custom migrations.
func NewMigratorWithMigrations(conn *Connection, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{
		conn:       conn,
		migrations: sorted,
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns the applied versions and when they ran.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations in version order and returns how
// many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}
		if mig.UpSQL == "" {
			return count, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %w", ErrMigrationFailed, mig.Version, err)
		}
		count++
	}
	return count, nil
}

// Rollback reverts the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName)
		_, err := tx.Exec(ctx, deleteQuery, lastVersion)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if appliedAt, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = appliedAt
		}
	}
	return result, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_houses_and_accounts", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_shop", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_ledger", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_leaderboard_snapshots", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: HOUSES & ACCOUNTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS houses (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    grade SMALLINT NOT NULL,
    color_hex VARCHAR(7) NOT NULL DEFAULT '',
    mascot VARCHAR(100) NOT NULL DEFAULT '',
    motto TEXT NOT NULL DEFAULT '',
    total_points BIGINT NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_house_grade CHECK (grade BETWEEN 9 AND 12),
    CONSTRAINT valid_total_points CHECK (total_points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_houses_total_points ON houses(total_points DESC, id);

CREATE TABLE IF NOT EXISTS accounts (
    id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(255) NOT NULL DEFAULT '',
    display_name VARCHAR(100) NOT NULL DEFAULT '',
    role VARCHAR(20) NOT NULL DEFAULT 'unapproved',
    house_id VARCHAR(64) REFERENCES houses(id),
    grade SMALLINT NOT NULL DEFAULT 0,
    points_earned BIGINT NOT NULL DEFAULT 0,
    points_spent BIGINT NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_role CHECK (role IN ('admin', 'teacher', 'student', 'unapproved')),
    CONSTRAINT valid_account_grade CHECK (grade = 0 OR grade BETWEEN 9 AND 12),
    CONSTRAINT valid_points CHECK (points_earned >= 0 AND points_spent >= 0),
    CONSTRAINT non_negative_balance CHECK (points_spent <= points_earned)
);

CREATE INDEX IF NOT EXISTS idx_accounts_role ON accounts(role);
CREATE INDEX IF NOT EXISTS idx_accounts_house ON accounts(house_id) WHERE house_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_accounts_points ON accounts(points_earned DESC, id);
`

const migration001Down = `
DROP TABLE IF EXISTS accounts;
DROP TABLE IF EXISTS houses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: SHOP
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS shop_items (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category VARCHAR(50) NOT NULL,
    image_url TEXT NOT NULL DEFAULT '',
    price BIGINT NOT NULL,
    stock_quantity BIGINT,
    sold_count BIGINT NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_by VARCHAR(64) NOT NULL DEFAULT '',
    approved_by VARCHAR(64) NOT NULL DEFAULT '',
    approved_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    version BIGINT NOT NULL DEFAULT 1,

    CONSTRAINT valid_price CHECK (price > 0),
    CONSTRAINT valid_stock CHECK (stock_quantity IS NULL OR stock_quantity >= 0),
    CONSTRAINT valid_sold_count CHECK (sold_count >= 0 AND (stock_quantity IS NULL OR sold_count <= stock_quantity))
);

CREATE INDEX IF NOT EXISTS idx_shop_items_active ON shop_items(active) WHERE active;

CREATE TABLE IF NOT EXISTS shop_requests (
    id VARCHAR(64) PRIMARY KEY,
    teacher_id VARCHAR(64) NOT NULL,
    teacher_name VARCHAR(100) NOT NULL DEFAULT '',
    item_name VARCHAR(100) NOT NULL,
    item_description TEXT NOT NULL DEFAULT '',
    suggested_price BIGINT NOT NULL,
    category VARCHAR(50) NOT NULL,
    justification TEXT NOT NULL DEFAULT '',
    requested_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    admin_notes TEXT NOT NULL DEFAULT '',
    reviewed_by VARCHAR(64) NOT NULL DEFAULT '',
    reviewed_at TIMESTAMP WITH TIME ZONE,
    version BIGINT NOT NULL DEFAULT 1,

    CONSTRAINT valid_request_status CHECK (status IN ('pending', 'approved', 'rejected')),
    CONSTRAINT valid_suggested_price CHECK (suggested_price > 0)
);

CREATE INDEX IF NOT EXISTS idx_shop_requests_status ON shop_requests(status, requested_at);
`

const migration002Down = `
DROP TABLE IF EXISTS shop_requests;
DROP TABLE IF EXISTS shop_items;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS award_events (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES accounts(id),
    teacher_id VARCHAR(64) NOT NULL,
    house_id VARCHAR(64) NOT NULL REFERENCES houses(id),
    points BIGINT NOT NULL,
    reason TEXT NOT NULL,
    category VARCHAR(50) NOT NULL,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_award_points CHECK (points > 0)
);

CREATE INDEX IF NOT EXISTS idx_award_events_student ON award_events(student_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_award_events_house ON award_events(house_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_award_events_teacher ON award_events(teacher_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_award_events_at ON award_events(occurred_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS purchase_events (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES accounts(id),
    item_id VARCHAR(64) NOT NULL REFERENCES shop_items(id),
    item_name VARCHAR(100) NOT NULL,
    price_at_purchase BIGINT NOT NULL,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    fulfilled_at TIMESTAMP WITH TIME ZONE,
    fulfilled_by VARCHAR(64) NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    version BIGINT NOT NULL DEFAULT 1,

    CONSTRAINT valid_purchase_price CHECK (price_at_purchase > 0),
    CONSTRAINT valid_purchase_status CHECK (status IN ('pending', 'fulfilled', 'cancelled'))
);

CREATE INDEX IF NOT EXISTS idx_purchase_events_student ON purchase_events(student_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_purchase_events_item ON purchase_events(item_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_purchase_events_pending ON purchase_events(occurred_at DESC) WHERE status = 'pending';
`

const migration003Down = `
DROP TABLE IF EXISTS purchase_events;
DROP TABLE IF EXISTS award_events;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: LEADERBOARD SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS leaderboard_snapshots (
    scope VARCHAR(80) PRIMARY KEY,
    taken_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ranks JSONB NOT NULL DEFAULT '{}'::jsonb
);
`

const migration004Down = `
DROP TABLE IF EXISTS leaderboard_snapshots;
`
