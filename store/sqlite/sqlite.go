/*
Package sqlite provides the SQLite backend of the storage interfaces.

PURPOSE:
  Opens a SQLite database and hands it to sqlstore.Store with the SQLite
  schema and dialect. All queries live in store/sqlstore; this package only
  owns what is specific to SQLite.

KEY TABLES:
  piece_models, production_groups, production_orders: master data
  group_versions:     optimistic-lock counter per group
  order_versions:     optimistic-lock counter per order
  distributions:      one row per (order, group)
  distribution_days:  carried balance, relocation flag, approval state
  slots:              planned/actual per time range
  approval_requests:  overtime approvals (one pending per day, enforced)
  audit_log:          append-only record of engine mutations

INDEXES:
  - idx_slots_group_date: commitment lookup (hot path of distribute)
  - idx_slots_order:      order totals
  - idx_unique_pending_request: at most one pending request per day

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

CONNECTIONS:
  The pool is capped at one connection. ":memory:" databases are private
  to a connection, and SQLite serializes writers anyway.

USAGE:
  store, err := sqlite.New(ctx, "./data/pcp.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore/sqlstore.go: shared queries
  - store/mysql/mysql.go:       the other backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/pcp-engine/store/sqlstore"
)

// New opens (and migrates) the SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := sqlstore.New(db, Dialect())
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Dialect returns the SQLite schema and statement builders.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "sqlite",
		Schema:            schema,
		Upsert:            sqlstore.SQLiteUpsert,
		IsUniqueViolation: isUniqueConstraintError,
	}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS piece_models (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		hourly_rate INTEGER NOT NULL,
		company_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS production_groups (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS production_orders (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		model_id TEXT NOT NULL,
		total_quantity INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		deadline TEXT,
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_code ON production_orders(code)`,

	// Optimistic lock per group.
	`CREATE TABLE IF NOT EXISTS group_versions (
		group_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	)`,

	// Optimistic lock per order for writes that consume its remaining quantity.
	`CREATE TABLE IF NOT EXISTS order_versions (
		order_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS distributions (
		order_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		closed INTEGER NOT NULL DEFAULT 0,
		closed_at TEXT,
		PRIMARY KEY (order_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS distribution_days (
		order_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
		carried INTEGER NOT NULL DEFAULT 0,
		relocated INTEGER NOT NULL DEFAULT 0,
		approval TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (order_id, group_id, work_date),
		FOREIGN KEY (order_id, group_id) REFERENCES distributions(order_id, group_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_days_approval ON distribution_days(approval)`,

	`CREATE TABLE IF NOT EXISTS slots (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		planned INTEGER NOT NULL DEFAULT 0,
		actual INTEGER NOT NULL DEFAULT 0,
		loss INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		recorded INTEGER NOT NULL DEFAULT 0,
		needs_approval INTEGER NOT NULL DEFAULT 0,
		catch_all INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (order_id, group_id, work_date)
			REFERENCES distribution_days(order_id, group_id, work_date) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_group_date ON slots(group_id, work_date)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_order ON slots(order_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_slot_span
		ON slots(order_id, group_id, work_date, start_min, end_min)`,

	`CREATE TABLE IF NOT EXISTS approvers (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		policy TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS approval_requests (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
		reason TEXT NOT NULL,
		worked_minutes INTEGER NOT NULL DEFAULT 0,
		requested_by TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		resolved_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_day ON approval_requests(order_id, group_id, work_date)`,
	// A day can have only one open request.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_pending_request
		ON approval_requests(order_id, group_id, work_date)
		WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS approval_decisions (
		request_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		approve INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		decided_at TEXT NOT NULL,
		PRIMARY KEY (request_id, user_id),
		FOREIGN KEY (request_id) REFERENCES approval_requests(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		group_id TEXT NOT NULL DEFAULT '',
		payload_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_order ON audit_log(order_id, created_at)`,
}
