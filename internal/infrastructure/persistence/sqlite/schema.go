package sqlite

// Timestamps are stored as fixed-width UTC text so lexical order is time
// order.
const schema = `
CREATE TABLE IF NOT EXISTS houses (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	grade INTEGER NOT NULL CHECK (grade BETWEEN 9 AND 12),
	color_hex TEXT NOT NULL DEFAULT '',
	mascot TEXT NOT NULL DEFAULT '',
	motto TEXT NOT NULL DEFAULT '',
	total_points INTEGER NOT NULL DEFAULT 0 CHECK (total_points >= 0),
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'unapproved' CHECK (role IN ('admin', 'teacher', 'student', 'unapproved')),
	house_id TEXT REFERENCES houses(id),
	grade INTEGER NOT NULL DEFAULT 0,
	points_earned INTEGER NOT NULL DEFAULT 0,
	points_spent INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	CHECK (points_spent <= points_earned)
);
CREATE INDEX IF NOT EXISTS idx_accounts_house ON accounts(house_id);

CREATE TABLE IF NOT EXISTS shop_items (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	image_url TEXT NOT NULL DEFAULT '',
	price INTEGER NOT NULL CHECK (price > 0),
	stock_quantity INTEGER,
	sold_count INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	created_by TEXT NOT NULL DEFAULT '',
	approved_by TEXT NOT NULL DEFAULT '',
	approved_at TEXT,
	created_at TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	CHECK (stock_quantity IS NULL OR sold_count <= stock_quantity)
);

CREATE TABLE IF NOT EXISTS shop_requests (
	id TEXT PRIMARY KEY,
	teacher_id TEXT NOT NULL,
	teacher_name TEXT NOT NULL DEFAULT '',
	item_name TEXT NOT NULL,
	item_description TEXT NOT NULL DEFAULT '',
	suggested_price INTEGER NOT NULL,
	category TEXT NOT NULL,
	justification TEXT NOT NULL DEFAULT '',
	requested_at TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
	admin_notes TEXT NOT NULL DEFAULT '',
	reviewed_by TEXT NOT NULL DEFAULT '',
	reviewed_at TEXT,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS award_events (
	id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL REFERENCES accounts(id),
	teacher_id TEXT NOT NULL,
	house_id TEXT NOT NULL REFERENCES houses(id),
	points INTEGER NOT NULL CHECK (points > 0),
	reason TEXT NOT NULL,
	category TEXT NOT NULL,
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_award_events_at ON award_events(occurred_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS purchase_events (
	id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL REFERENCES accounts(id),
	item_id TEXT NOT NULL REFERENCES shop_items(id),
	item_name TEXT NOT NULL,
	price_at_purchase INTEGER NOT NULL,
	occurred_at TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'fulfilled', 'cancelled')),
	fulfilled_at TEXT,
	fulfilled_by TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_purchase_events_at ON purchase_events(occurred_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS leaderboard_snapshots (
	scope TEXT PRIMARY KEY,
	taken_at TEXT NOT NULL,
	ranks TEXT NOT NULL
);
`
