package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

// =============================================================================
// APPROVERS (approval.Store)
// =============================================================================

func (s *Store) SaveApprover(ctx context.Context, a approval.Approver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(ctx, s.db, "approvers",
		[]string{"user_id", "name", "policy", "active"}, []string{"user_id"},
		a.UserID, a.Name, string(a.Policy), a.Active)
}

func (s *Store) GetApprover(ctx context.Context, userID string) (*approval.Approver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a      approval.Approver
		policy string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, name, policy, active FROM approvers WHERE user_id = ?", userID,
	).Scan(&a.UserID, &a.Name, &policy, &a.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.ErrApproverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approver: %w", err)
	}
	a.Policy = approval.Policy(policy)
	return &a, nil
}

func (s *Store) ListApprovers(ctx context.Context) ([]approval.Approver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT user_id, name, policy, active FROM approvers ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list approvers: %w", err)
	}
	defer rows.Close()

	var out []approval.Approver
	for rows.Next() {
		var (
			a      approval.Approver
			policy string
		)
		if err := rows.Scan(&a.UserID, &a.Name, &policy, &a.Active); err != nil {
			return nil, err
		}
		a.Policy = approval.Policy(policy)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = "id, order_id, group_id, work_date, reason, worked_minutes, requested_by, status, created_at, resolved_at"

func (s *Store) CreateRequest(ctx context.Context, r approval.Request) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO approval_requests (`+requestColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.OrderID, r.GroupID, formatDate(r.Date), string(r.Reason), r.WorkedMinutes,
			r.RequestedBy, string(r.Status), formatTime(r.CreatedAt), nullTime(r.ResolvedAt))
		if err != nil {
			return fmt.Errorf("failed to create approval request: %w", err)
		}
		return insertDecisions(ctx, tx, r.ID, r.Decisions)
	})
}

func (s *Store) GetRequest(ctx context.Context, id string) (*approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM approval_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	if r.Decisions, err = s.loadDecisions(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) FindPending(ctx context.Context, orderID planning.OrderID, groupID planning.GroupID, date calendar.Date) (*approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM approval_requests
		WHERE order_id = ? AND group_id = ? AND work_date = ? AND status = ?
		ORDER BY created_at LIMIT 1`,
		orderID, groupID, formatDate(date), string(approval.StatusPending))
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending request: %w", err)
	}
	if r.Decisions, err = s.loadDecisions(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) ListPending(ctx context.Context) ([]approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM approval_requests WHERE status = ? ORDER BY created_at, id",
		string(approval.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	var out []approval.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before the decision queries: SQLite runs on a single connection.
	rows.Close()

	for i := range out {
		if out[i].Decisions, err = s.loadDecisions(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateRequest writes the status of a pending request and adds decisions
// not stored yet. Stored decisions are never removed, and a request that is
// already resolved is left untouched.
func (s *Store) UpdateRequest(ctx context.Context, r approval.Request) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE approval_requests SET status = ?, resolved_at = ? WHERE id = ? AND status = ?",
			string(r.Status), nullTime(r.ResolvedAt), r.ID, string(approval.StatusPending))
		if err != nil {
			return fmt.Errorf("failed to update approval request: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			var status string
			err := tx.QueryRowContext(ctx, "SELECT status FROM approval_requests WHERE id = ?", r.ID).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return approval.ErrRequestNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to read approval request: %w", err)
			}
			return approval.ErrApprovalResolved
		}

		stored, err := decidedUsers(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		fresh := make([]approval.Decision, 0, len(r.Decisions))
		for _, d := range r.Decisions {
			if !stored[d.UserID] {
				fresh = append(fresh, d)
			}
		}
		return insertDecisions(ctx, tx, r.ID, fresh)
	})
}

func decidedUsers(ctx context.Context, tx *sql.Tx, requestID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT user_id FROM approval_decisions WHERE request_id = ?", requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load decided users: %w", err)
	}
	defer rows.Close()

	users := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan decided user: %w", err)
		}
		users[id] = true
	}
	return users, rows.Err()
}

func insertDecisions(ctx context.Context, tx *sql.Tx, requestID string, decisions []approval.Decision) error {
	for _, d := range decisions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO approval_decisions (request_id, user_id, approve, comment, decided_at)
			VALUES (?, ?, ?, ?, ?)`,
			requestID, d.UserID, d.Approve, d.Comment, formatTime(d.At))
		if err != nil {
			return fmt.Errorf("failed to insert decision: %w", err)
		}
	}
	return nil
}

func (s *Store) loadDecisions(ctx context.Context, requestID string) ([]approval.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, approve, comment, decided_at
		FROM approval_decisions WHERE request_id = ?
		ORDER BY decided_at, user_id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load decisions: %w", err)
	}
	defer rows.Close()

	var out []approval.Decision
	for rows.Next() {
		var (
			d  approval.Decision
			at sql.NullString
		)
		if err := rows.Scan(&d.UserID, &d.Approve, &d.Comment, &at); err != nil {
			return nil, err
		}
		if t := parseNullTime(at); t != nil {
			d.At = *t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanRequest(row scanner) (*approval.Request, error) {
	var (
		r                  approval.Request
		date, reason       string
		status             string
		createdAt, resolve sql.NullString
	)
	err := row.Scan(&r.ID, &r.OrderID, &r.GroupID, &date, &reason, &r.WorkedMinutes,
		&r.RequestedBy, &status, &createdAt, &resolve)
	if err != nil {
		return nil, err
	}
	if r.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	r.Reason = planning.TriggerReason(reason)
	r.Status = approval.Status(status)
	if t := parseNullTime(createdAt); t != nil {
		r.CreatedAt = *t
	}
	r.ResolvedAt = parseNullTime(resolve)
	return &r, nil
}
