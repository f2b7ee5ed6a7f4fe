package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
	"github.com/warp/pcp-engine/report"
)

// CalendarRows implements report.Source.
func (s *Store) CalendarRows(ctx context.Context, f report.Filter) ([]report.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"sl.work_date >= ?", "sl.work_date <= ?"}
	args := []any{formatDate(f.From), formatDate(f.To)}
	if f.GroupID != "" {
		where = append(where, "sl.group_id = ?")
		args = append(args, f.GroupID)
	}
	if f.OrderCode != "" {
		where = append(where, "o.code = ?")
		args = append(args, f.OrderCode)
	}
	if f.ModelCode != "" {
		where = append(where, "m.code = ?")
		args = append(args, f.ModelCode)
	}

	query := `
		SELECT sl.work_date, sl.group_id, COALESCE(g.description, ''), sl.order_id,
		       COALESCE(o.code, ''), COALESCE(m.code, ''),
		       sl.start_min, sl.end_min, sl.planned, sl.actual, sl.loss, sl.status,
		       sl.needs_approval, sl.catch_all
		FROM slots sl
		LEFT JOIN production_orders o ON o.id = sl.order_id
		LEFT JOIN piece_models m ON m.id = o.model_id
		LEFT JOIN production_groups g ON g.id = sl.group_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY sl.work_date, sl.group_id, sl.start_min, sl.end_min`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar rows: %w", err)
	}
	defer rows.Close()

	var out []report.Row
	for rows.Next() {
		var (
			r          report.Row
			date       string
			start, end int
			status     string
		)
		err := rows.Scan(&date, &r.GroupID, &r.GroupDescription, &r.OrderID, &r.OrderCode, &r.ModelCode,
			&start, &end, &r.Planned, &r.Actual, &r.Loss, &status, &r.NeedsApproval, &r.CatchAll)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar row: %w", err)
		}
		if r.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		r.Span = calendar.Span{Start: calendar.Clock(start), End: calendar.Clock(end)}
		r.Status = planning.SlotStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
