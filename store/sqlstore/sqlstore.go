/*
Package sqlstore implements the engine's storage interfaces on database/sql.

PURPOSE:
  One implementation of planning.Store, planning.MasterDataStore,
  planning.AuditLog, approval.Store and report.Source shared by the SQLite
  and MySQL backends. The backends only contribute the driver, the schema
  and the few statements whose syntax differs (see Dialect).

INTERFACES IMPLEMENTED:
  planning.Store:           distributions, commitments, group versions
  planning.MasterDataStore: piece models, groups, orders
  planning.AuditLog:        audit_log table
  approval.Store:           approvers, requests, decisions
  report.Source:            calendar rows

KEY TABLES:
  group_versions:      optimistic-lock counter per production group
  order_versions:      optimistic-lock counter per order, bumped by commits
                       that allocate new quantity
  distributions:       one row per (order, group), closure flag
  distribution_days:   carried balance, relocation flag, approval state
  slots:               one row per planned time range
  approval_requests:   overtime approvals, one pending per (order, group, day)
  audit_log:           append-only record of engine mutations

OPTIMISTIC CONCURRENCY:
  Save bumps group_versions with a conditional UPDATE inside the same
  transaction that rewrites the distributions:

    UPDATE group_versions SET version = version + 1
    WHERE group_id = ? AND version = ?

  Zero affected rows means another writer got there first and the whole
  commit rolls back with planning.ErrConcurrentModification.

DATES:
  Dates are stored as "2006-01-02" text and clock times as minutes since
  midnight, so both backends compare them the same way.

CONCURRENCY:
  Uses sync.RWMutex for in-process serialization. Cross-process safety
  comes from the version check.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite dialect and schema
  - store/mysql/mysql.go:   MySQL dialect and schema
  - planning/store.go:      interface definitions
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/warp/pcp-engine/calendar"
)

// Dialect holds what differs between SQL backends.
type Dialect struct {
	Name string
	// Schema statements are executed in order by Migrate.
	Schema []string
	// Upsert builds an insert-or-update statement for table.
	Upsert func(table string, cols, keys []string) string
	// IsUniqueViolation reports a duplicate key error.
	IsUniqueViolation func(err error) bool
}

// Store implements all storage interfaces on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
}

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Migrate creates the schema if missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for backend-specific queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// tables in dependency order, children first.
var tables = []string{
	"approval_decisions",
	"approval_requests",
	"approvers",
	"audit_log",
	"slots",
	"distribution_days",
	"distributions",
	"group_versions",
	"order_versions",
	"production_orders",
	"production_groups",
	"piece_models",
}

// Reset deletes every row (dev and demo scenarios only).
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset %s: %w", t, err)
			}
		}
		return nil
	})
}

// withTx runs fn in a transaction under the write lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, db execer, table string, cols, keys []string, args ...any) error {
	_, err := db.ExecContext(ctx, s.dialect.Upsert(table, cols, keys), args...)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// =============================================================================
// UPSERT BUILDERS
// =============================================================================

// SQLiteUpsert builds INSERT ... ON CONFLICT(keys) DO UPDATE.
func SQLiteUpsert(table string, cols, keys []string) string {
	sets := updateSets(cols, keys, "excluded.%s")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(keys, ", "), sets)
}

// MySQLUpsert builds INSERT ... ON DUPLICATE KEY UPDATE.
func MySQLUpsert(table string, cols, keys []string) string {
	sets := updateSets(cols, keys, "VALUES(%s)")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(cols, ", "), placeholders(len(cols)), sets)
}

func updateSets(cols, keys []string, valueFmt string) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var sets []string
	for _, c := range cols {
		if !isKey[c] {
			sets = append(sets, c+" = "+fmt.Sprintf(valueFmt, c))
		}
	}
	return strings.Join(sets, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// =============================================================================
// HELPERS
// =============================================================================

// Fixed width so text order is time order. time.Parse accepts it back
// since the fraction is all digits.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatDate(d calendar.Date) string {
	return d.String()
}

func parseDate(s string) (calendar.Date, error) {
	d, err := calendar.ParseDate(s)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("stored date %q: %w", s, err)
	}
	return d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullDate(d *calendar.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(ns sql.NullString) *calendar.Date {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d, err := calendar.ParseDate(ns.String)
	if err != nil {
		return nil
	}
	return &d
}
