// Package store provides an in-memory planning.Store and approval.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
	"github.com/warp/pcp-engine/report"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	models        map[planning.ModelID]planning.PieceModel
	groups        map[planning.GroupID]planning.ProductionGroup
	orders        map[planning.OrderID]planning.ProductionOrder
	versions      map[planning.GroupID]int64
	orderVersions map[planning.OrderID]int64
	distributions map[key]*planning.Distribution
	audit         []planning.AuditEntry
	approvers     map[string]approval.Approver
	requests      map[string]approval.Request

	// BeforeSave runs inside Save before the version check. Tests use it
	// to simulate a concurrent writer.
	BeforeSave func()
}

type key struct {
	OrderID planning.OrderID
	GroupID planning.GroupID
}

func NewMemory() *Memory {
	return &Memory{
		models:        make(map[planning.ModelID]planning.PieceModel),
		groups:        make(map[planning.GroupID]planning.ProductionGroup),
		orders:        make(map[planning.OrderID]planning.ProductionOrder),
		versions:      make(map[planning.GroupID]int64),
		orderVersions: make(map[planning.OrderID]int64),
		distributions: make(map[key]*planning.Distribution),
		approvers:     make(map[string]approval.Approver),
		requests:      make(map[string]approval.Request),
	}
}

// =============================================================================
// MASTER DATA
// =============================================================================

func (m *Memory) SaveModel(_ context.Context, model planning.PieceModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[model.ID] = model
	return nil
}

func (m *Memory) SaveGroup(_ context.Context, g planning.ProductionGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g
	return nil
}

func (m *Memory) SaveOrder(_ context.Context, o planning.ProductionOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id planning.OrderID) (*planning.ProductionOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, planning.ErrOrderNotFound
	}
	return &o, nil
}

func (m *Memory) GetGroup(_ context.Context, id planning.GroupID) (*planning.ProductionGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, planning.ErrGroupNotFound
	}
	return &g, nil
}

func (m *Memory) GetModel(_ context.Context, id planning.ModelID) (*planning.PieceModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[id]
	if !ok {
		return nil, planning.ErrModelNotFound
	}
	return &model, nil
}

// =============================================================================
// DISTRIBUTIONS
// =============================================================================

func (m *Memory) GroupVersion(_ context.Context, id planning.GroupID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[id], nil
}

func (m *Memory) OrderVersion(_ context.Context, id planning.OrderID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orderVersions[id], nil
}

func (m *Memory) LoadDistribution(_ context.Context, orderID planning.OrderID, groupID planning.GroupID) (*planning.Distribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.distributions[key{orderID, groupID}]
	if !ok {
		return planning.NewDistribution(orderID, groupID), nil
	}
	return clone(d), nil
}

func (m *Memory) LoadCommitments(_ context.Context, groupID planning.GroupID, from, to calendar.Date, exclude planning.OrderID) ([]planning.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []planning.Commitment
	for k, d := range m.distributions {
		if k.GroupID != groupID || (exclude != "" && k.OrderID == exclude) {
			continue
		}
		for _, day := range d.Days {
			if day.Date.Before(from) || day.Date.After(to) {
				continue
			}
			for _, s := range day.Slots {
				out = append(out, planning.Commitment{
					OrderID: k.OrderID, Date: day.Date, Span: s.Span,
					Planned: s.Planned, Actual: s.Actual,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Span.Less(out[j].Span)
	})
	return out, nil
}

func (m *Memory) OrderTotals(_ context.Context, orderID planning.OrderID) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	allocated, actual := 0, 0
	for k, d := range m.distributions {
		if k.OrderID == orderID {
			allocated += d.Allocated()
			actual += d.TotalActual()
		}
	}
	return allocated, actual, nil
}

func (m *Memory) GroupPlanned(_ context.Context, groupID planning.GroupID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for k, d := range m.distributions {
		if k.GroupID == groupID {
			total += d.TotalPlanned()
		}
	}
	return total, nil
}

// Save applies a commit atomically under the write lock.
func (m *Memory) Save(_ context.Context, c planning.Commit) error {
	if m.BeforeSave != nil {
		m.BeforeSave()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for g, expected := range c.Versions {
		if m.versions[g] != expected {
			return planning.ErrConcurrentModification
		}
	}
	for o, expected := range c.OrderVersions {
		if m.orderVersions[o] != expected {
			return planning.ErrConcurrentModification
		}
	}
	for g := range c.Versions {
		m.versions[g]++
	}
	for o := range c.OrderVersions {
		m.orderVersions[o]++
	}
	for _, d := range c.Distributions {
		k := key{d.OrderID, d.GroupID}
		if d.IsEmpty() && !d.Closed {
			delete(m.distributions, k)
			continue
		}
		m.distributions[k] = clone(d)
	}
	m.audit = append(m.audit, c.Audit...)
	return nil
}

// BumpVersion simulates a concurrent write on a group.
func (m *Memory) BumpVersion(groupID planning.GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[groupID]++
}

func (m *Memory) ListAudit(_ context.Context, orderID planning.OrderID) ([]planning.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []planning.AuditEntry
	for _, e := range m.audit {
		if orderID == "" || e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func clone(d *planning.Distribution) *planning.Distribution {
	c := *d
	c.Days = make([]planning.Day, len(d.Days))
	for i, day := range d.Days {
		day.Slots = append([]planning.Slot(nil), day.Slots...)
		c.Days[i] = day
	}
	if d.ClosedAt != nil {
		at := *d.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}

// =============================================================================
// LISTINGS, BACKLOG, REPORT
// =============================================================================

func (m *Memory) ListModels(_ context.Context) ([]planning.PieceModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]planning.PieceModel, 0, len(m.models))
	for _, v := range m.models {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListGroups(_ context.Context) ([]planning.ProductionGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]planning.ProductionGroup, 0, len(m.groups))
	for _, v := range m.groups {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListOrders(_ context.Context) ([]planning.ProductionOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]planning.ProductionOrder, 0, len(m.orders))
	for _, v := range m.orders {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PendingApprovalDays(_ context.Context) ([]planning.ApprovalTrigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	open := make(map[string]bool)
	for _, r := range m.requests {
		if r.Status == approval.StatusPending {
			open[string(r.OrderID)+"|"+string(r.GroupID)+"|"+r.Date.String()] = true
		}
	}

	var out []planning.ApprovalTrigger
	for k, d := range m.distributions {
		for i := range d.Days {
			day := &d.Days[i]
			if day.Approval != planning.ApprovalPending || open[string(k.OrderID)+"|"+string(k.GroupID)+"|"+day.Date.String()] {
				continue
			}
			out = append(out, planning.ApprovalTrigger{
				OrderID:       k.OrderID,
				GroupID:       k.GroupID,
				Date:          day.Date,
				Reason:        planning.BacklogReason(day.Date, day.NeedsApproval()),
				WorkedMinutes: day.WorkedMinutes(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) CalendarRows(_ context.Context, f report.Filter) ([]report.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []report.Row
	for k, d := range m.distributions {
		order := m.orders[k.OrderID]
		model := m.models[order.ModelID]
		group := m.groups[k.GroupID]
		for _, day := range d.Days {
			for _, s := range day.Slots {
				row := report.Row{
					Date: day.Date, GroupID: k.GroupID, GroupDescription: group.Description,
					OrderID: k.OrderID, OrderCode: order.Code, ModelCode: model.Code,
					Span: s.Span, Planned: s.Planned, Actual: s.Actual, Loss: s.Loss,
					Status: s.Status, NeedsApproval: s.NeedsApproval, CatchAll: s.CatchAll,
				}
				if f.MatchRow(row) {
					out = append(out, row)
				}
			}
		}
	}
	return out, nil
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	fresh := NewMemory()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models, m.groups, m.orders = fresh.models, fresh.groups, fresh.orders
	m.versions, m.orderVersions, m.distributions = fresh.versions, fresh.orderVersions, fresh.distributions
	m.approvers, m.requests = fresh.approvers, fresh.requests
	m.audit = nil
	return nil
}
