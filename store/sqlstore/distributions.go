package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

// =============================================================================
// DISTRIBUTIONS (planning.Store)
// =============================================================================

func (s *Store) GroupVersion(ctx context.Context, id planning.GroupID) (int64, error) {
	return s.readVersion(ctx, "group_versions", "group_id", string(id))
}

func (s *Store) OrderVersion(ctx context.Context, id planning.OrderID) (int64, error) {
	return s.readVersion(ctx, "order_versions", "order_id", string(id))
}

func (s *Store) readVersion(ctx context.Context, table, keyCol, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v int64
	err := s.db.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE "+keyCol+" = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return v, nil
}

func (s *Store) LoadDistribution(ctx context.Context, orderID planning.OrderID, groupID planning.GroupID) (*planning.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dist := planning.NewDistribution(orderID, groupID)

	var (
		closed   bool
		closedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT closed, closed_at FROM distributions WHERE order_id = ? AND group_id = ?",
		orderID, groupID,
	).Scan(&closed, &closedAt)
	switch {
	case err == sql.ErrNoRows:
		return dist, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load distribution: %w", err)
	}
	dist.Closed = closed
	dist.ClosedAt = parseNullTime(closedAt)

	days, err := s.loadDays(ctx, orderID, groupID)
	if err != nil {
		return nil, err
	}
	slots, err := s.loadSlots(ctx, orderID, groupID)
	if err != nil {
		return nil, err
	}

	for i := range days {
		days[i].Slots = slots[days[i].Date.String()]
		days[i].Recalculate()
	}
	dist.Days = days
	return dist, nil
}

func (s *Store) loadDays(ctx context.Context, orderID planning.OrderID, groupID planning.GroupID) ([]planning.Day, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT work_date, carried, relocated, approval, note
		FROM distribution_days
		WHERE order_id = ? AND group_id = ?
		ORDER BY work_date`, orderID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load days: %w", err)
	}
	defer rows.Close()

	var days []planning.Day
	for rows.Next() {
		var (
			day      planning.Day
			date     string
			approval string
		)
		if err := rows.Scan(&date, &day.Carried, &day.Relocated, &approval, &day.Note); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		if day.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		day.Approval = planning.ApprovalState(approval)
		days = append(days, day)
	}
	return days, rows.Err()
}

// loadSlots returns the slots of a distribution keyed by date.
func (s *Store) loadSlots(ctx context.Context, orderID planning.OrderID, groupID planning.GroupID) (map[string][]planning.Slot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_date, start_min, end_min, planned, actual, loss, status,
		       recorded, needs_approval, catch_all
		FROM slots
		WHERE order_id = ? AND group_id = ?
		ORDER BY work_date, start_min, end_min`, orderID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load slots: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]planning.Slot)
	for rows.Next() {
		var (
			sl         planning.Slot
			date       string
			start, end int
			status     string
		)
		if err := rows.Scan(&sl.ID, &date, &start, &end, &sl.Planned, &sl.Actual, &sl.Loss, &status,
			&sl.Recorded, &sl.NeedsApproval, &sl.CatchAll); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		sl.Span = calendar.Span{Start: calendar.Clock(start), End: calendar.Clock(end)}
		sl.Status = planning.SlotStatus(status)
		out[date] = append(out[date], sl)
	}
	return out, rows.Err()
}

func (s *Store) LoadCommitments(ctx context.Context, groupID planning.GroupID, from, to calendar.Date, exclude planning.OrderID) ([]planning.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, work_date, start_min, end_min, planned, actual
		FROM slots
		WHERE group_id = ? AND work_date >= ? AND work_date <= ? AND order_id <> ?
		ORDER BY work_date, start_min`,
		groupID, formatDate(from), formatDate(to), exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to load commitments: %w", err)
	}
	defer rows.Close()

	var out []planning.Commitment
	for rows.Next() {
		var (
			c          planning.Commitment
			date       string
			start, end int
		)
		if err := rows.Scan(&c.OrderID, &date, &start, &end, &c.Planned, &c.Actual); err != nil {
			return nil, fmt.Errorf("failed to scan commitment: %w", err)
		}
		if c.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		c.Span = calendar.Span{Start: calendar.Clock(start), End: calendar.Clock(end)}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) OrderTotals(ctx context.Context, orderID planning.OrderID) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var planned, actual, carried int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(planned), 0), COALESCE(SUM(actual), 0) FROM slots WHERE order_id = ?", orderID,
	).Scan(&planned, &actual)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum order slots: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(carried), 0) FROM distribution_days WHERE order_id = ?", orderID,
	).Scan(&carried)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum carried balance: %w", err)
	}
	return planned + carried, actual, nil
}

func (s *Store) GroupPlanned(ctx context.Context, groupID planning.GroupID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(planned), 0) FROM slots WHERE group_id = ?", groupID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum group load: %w", err)
	}
	return total, nil
}

// Save writes a commit in one transaction.
func (s *Store) Save(ctx context.Context, c planning.Commit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for groupID, expected := range c.Versions {
			if err := s.bumpVersion(ctx, tx, "group_versions", "group_id", string(groupID), expected); err != nil {
				return err
			}
		}
		for orderID, expected := range c.OrderVersions {
			if err := s.bumpVersion(ctx, tx, "order_versions", "order_id", string(orderID), expected); err != nil {
				return err
			}
		}
		for _, d := range c.Distributions {
			if err := s.writeDistribution(ctx, tx, d); err != nil {
				return err
			}
		}
		for _, e := range c.Audit {
			if err := s.appendAudit(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// bumpVersion increments the version row of key when it still holds
// expected. A missing row counts as version 0.
func (s *Store) bumpVersion(ctx context.Context, tx *sql.Tx, table, keyCol, key string, expected int64) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE "+table+" SET version = version + 1 WHERE "+keyCol+" = ? AND version = ?",
		key, expected)
	if err != nil {
		return fmt.Errorf("failed to bump %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to bump %s: %w", table, err)
	}
	if n == 1 {
		return nil
	}
	if expected != 0 {
		return planning.ErrConcurrentModification
	}

	_, err = tx.ExecContext(ctx, "INSERT INTO "+table+" ("+keyCol+", version) VALUES (?, 1)", key)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return planning.ErrConcurrentModification
		}
		return fmt.Errorf("failed to create %s row: %w", table, err)
	}
	return nil
}

// writeDistribution replaces the stored days and slots of d.
func (s *Store) writeDistribution(ctx context.Context, tx *sql.Tx, d *planning.Distribution) error {
	for _, table := range []string{"slots", "distribution_days"} {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE order_id = ? AND group_id = ?", d.OrderID, d.GroupID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if d.IsEmpty() && !d.Closed {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM distributions WHERE order_id = ? AND group_id = ?", d.OrderID, d.GroupID)
		if err != nil {
			return fmt.Errorf("failed to delete distribution: %w", err)
		}
		return nil
	}

	err := s.upsert(ctx, tx, "distributions",
		[]string{"order_id", "group_id", "closed", "closed_at"}, []string{"order_id", "group_id"},
		d.OrderID, d.GroupID, d.Closed, nullTime(d.ClosedAt))
	if err != nil {
		return err
	}

	for _, day := range d.Days {
		date := formatDate(day.Date)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO distribution_days (order_id, group_id, work_date, carried, relocated, approval, note)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.OrderID, d.GroupID, date, day.Carried, day.Relocated, string(day.Approval), day.Note)
		if err != nil {
			return fmt.Errorf("failed to insert day %s: %w", date, err)
		}
		for _, sl := range day.Slots {
			if sl.ID == "" {
				return fmt.Errorf("slot %s on %s has no id", sl.Span, date)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO slots (id, order_id, group_id, work_date, start_min, end_min, planned, actual,
				                   loss, status, recorded, needs_approval, catch_all)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sl.ID, d.OrderID, d.GroupID, date, int(sl.Span.Start), int(sl.Span.End),
				sl.Planned, sl.Actual, sl.Loss, string(sl.Status), sl.Recorded, sl.NeedsApproval, sl.CatchAll)
			if err != nil {
				return fmt.Errorf("failed to insert slot %s on %s: %w", sl.Span, date, err)
			}
		}
	}
	return nil
}

// =============================================================================
// AUDIT LOG (planning.AuditLog)
// =============================================================================

func (s *Store) appendAudit(ctx context.Context, tx *sql.Tx, e planning.AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, created_at, actor, action, order_id, group_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.At), e.Actor, string(e.Action), e.OrderID, e.GroupID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, orderID planning.OrderID) ([]planning.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, actor, action, order_id, group_id, payload_json
		FROM audit_log
		WHERE ? = '' OR order_id = ?
		ORDER BY created_at, id`, orderID, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit: %w", err)
	}
	defer rows.Close()

	var out []planning.AuditEntry
	for rows.Next() {
		var (
			e       planning.AuditEntry
			at      sql.NullString
			action  string
			payload string
		)
		if err := rows.Scan(&e.ID, &at, &e.Actor, &action, &e.OrderID, &e.GroupID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if t := parseNullTime(at); t != nil {
			e.At = *t
		}
		e.Action = planning.AuditAction(action)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit entry %s payload: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// APPROVAL BACKLOG (planning.ApprovalBacklog)
// =============================================================================

func (s *Store) PendingApprovalDays(ctx context.Context) ([]planning.ApprovalTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.order_id, d.group_id, d.work_date,
		       COALESCE(MAX(CASE WHEN sl.needs_approval THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sl.catch_all THEN 0 ELSE sl.end_min - sl.start_min + 1 END), 0)
		FROM distribution_days d
		LEFT JOIN slots sl
		       ON sl.order_id = d.order_id AND sl.group_id = d.group_id AND sl.work_date = d.work_date
		WHERE d.approval = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM approval_requests r
		      WHERE r.order_id = d.order_id AND r.group_id = d.group_id
		        AND r.work_date = d.work_date AND r.status = 'pending')
		GROUP BY d.order_id, d.group_id, d.work_date
		ORDER BY d.work_date`, string(planning.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list approval backlog: %w", err)
	}
	defer rows.Close()

	var out []planning.ApprovalTrigger
	for rows.Next() {
		var (
			t       planning.ApprovalTrigger
			date    string
			flagged int
		)
		if err := rows.Scan(&t.OrderID, &t.GroupID, &date, &flagged, &t.WorkedMinutes); err != nil {
			return nil, fmt.Errorf("failed to scan approval backlog: %w", err)
		}
		if t.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		t.Reason = planning.BacklogReason(t.Date, flagged == 1)
		out = append(out, t)
	}
	return out, rows.Err()
}
