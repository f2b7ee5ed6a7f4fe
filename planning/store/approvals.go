package store

import (
	"context"
	"sort"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

// =============================================================================
// APPROVALS - approval.Store on the same Memory
// =============================================================================

func (m *Memory) SaveApprover(_ context.Context, a approval.Approver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvers[a.UserID] = a
	return nil
}

func (m *Memory) GetApprover(_ context.Context, userID string) (*approval.Approver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.approvers[userID]
	if !ok {
		return nil, approval.ErrApproverNotFound
	}
	return &a, nil
}

func (m *Memory) ListApprovers(_ context.Context) ([]approval.Approver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]approval.Approver, 0, len(m.approvers))
	for _, a := range m.approvers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) CreateRequest(_ context.Context, r approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = cloneRequest(r)
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id string) (*approval.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, approval.ErrRequestNotFound
	}
	c := cloneRequest(r)
	return &c, nil
}

func (m *Memory) FindPending(_ context.Context, orderID planning.OrderID, groupID planning.GroupID, date calendar.Date) (*approval.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.Status == approval.StatusPending && r.OrderID == orderID && r.GroupID == groupID && r.Date.Equal(date) {
			c := cloneRequest(r)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListPending(_ context.Context) ([]approval.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []approval.Request
	for _, r := range m.requests {
		if r.Status == approval.StatusPending {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateRequest(_ context.Context, r approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[r.ID]
	if !ok {
		return approval.ErrRequestNotFound
	}
	if stored.IsResolved() {
		return approval.ErrApprovalResolved
	}

	decided := make(map[string]bool, len(stored.Decisions))
	for _, d := range stored.Decisions {
		decided[d.UserID] = true
	}
	merged := cloneRequest(r)
	merged.Decisions = append([]approval.Decision(nil), stored.Decisions...)
	for _, d := range r.Decisions {
		if !decided[d.UserID] {
			merged.Decisions = append(merged.Decisions, d)
		}
	}
	m.requests[r.ID] = merged
	return nil
}

func cloneRequest(r approval.Request) approval.Request {
	r.Decisions = append([]approval.Decision(nil), r.Decisions...)
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		r.ResolvedAt = &at
	}
	return r
}
