package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/pcp-engine/planning"
)

// =============================================================================
// MASTER DATA (planning.MasterDataStore)
// =============================================================================

func (s *Store) SaveModel(ctx context.Context, m planning.PieceModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(ctx, s.db, "piece_models",
		[]string{"id", "code", "hourly_rate", "company_id"}, []string{"id"},
		m.ID, m.Code, m.HourlyRate, m.CompanyID)
}

func (s *Store) SaveGroup(ctx context.Context, g planning.ProductionGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(ctx, s.db, "production_groups",
		[]string{"id", "description", "active"}, []string{"id"},
		g.ID, g.Description, g.Active)
}

func (s *Store) SaveOrder(ctx context.Context, o planning.ProductionOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(ctx, s.db, "production_orders",
		[]string{"id", "code", "model_id", "total_quantity", "start_date", "deadline", "active"}, []string{"id"},
		o.ID, o.Code, o.ModelID, o.TotalQuantity, formatDate(o.StartDate), nullDate(o.Deadline), o.Active)
}

func (s *Store) GetModel(ctx context.Context, id planning.ModelID) (*planning.PieceModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m planning.PieceModel
	err := s.db.QueryRowContext(ctx,
		"SELECT id, code, hourly_rate, company_id FROM piece_models WHERE id = ?", id,
	).Scan(&m.ID, &m.Code, &m.HourlyRate, &m.CompanyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planning.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &m, nil
}

func (s *Store) GetGroup(ctx context.Context, id planning.GroupID) (*planning.ProductionGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var g planning.ProductionGroup
	err := s.db.QueryRowContext(ctx,
		"SELECT id, description, active FROM production_groups WHERE id = ?", id,
	).Scan(&g.ID, &g.Description, &g.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planning.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &g, nil
}

const orderColumns = "id, code, model_id, total_quantity, start_date, deadline, active"

func (s *Store) GetOrder(ctx context.Context, id planning.OrderID) (*planning.ProductionOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM production_orders WHERE id = ?", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planning.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

func (s *Store) ListModels(ctx context.Context) ([]planning.PieceModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, code, hourly_rate, company_id FROM piece_models ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var out []planning.PieceModel
	for rows.Next() {
		var m planning.PieceModel
		if err := rows.Scan(&m.ID, &m.Code, &m.HourlyRate, &m.CompanyID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListGroups(ctx context.Context) ([]planning.ProductionGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, description, active FROM production_groups ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var out []planning.ProductionGroup
	for rows.Next() {
		var g planning.ProductionGroup
		if err := rows.Scan(&g.ID, &g.Description, &g.Active); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) ListOrders(ctx context.Context) ([]planning.ProductionOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+orderColumns+" FROM production_orders ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var out []planning.ProductionOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*planning.ProductionOrder, error) {
	var (
		o         planning.ProductionOrder
		startDate string
		deadline  sql.NullString
	)
	if err := row.Scan(&o.ID, &o.Code, &o.ModelID, &o.TotalQuantity, &startDate, &deadline, &o.Active); err != nil {
		return nil, err
	}
	d, err := parseDate(startDate)
	if err != nil {
		return nil, err
	}
	o.StartDate = d
	o.Deadline = parseNullDate(deadline)
	return &o, nil
}
