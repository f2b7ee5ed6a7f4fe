// Package storetest is a conformance suite run against every storage backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
	"github.com/warp/pcp-engine/report"
)

// Store is everything a backend must provide.
type Store interface {
	planning.Store
	planning.MasterDataStore
	planning.AuditLog
	approval.Store
	report.Source
	Reset(ctx context.Context) error
}

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("MasterData", func(t *testing.T) { testMasterData(t, newStore(t)) })
	t.Run("VersionCheck", func(t *testing.T) { testVersionCheck(t, newStore(t)) })
	t.Run("OrderVersionCheck", func(t *testing.T) { testOrderVersionCheck(t, newStore(t)) })
	t.Run("DistributionRoundTrip", func(t *testing.T) { testDistributionRoundTrip(t, newStore(t)) })
	t.Run("EmptyDistributionIsRemoved", func(t *testing.T) { testEmptyDistribution(t, newStore(t)) })
	t.Run("Commitments", func(t *testing.T) { testCommitments(t, newStore(t)) })
	t.Run("OrderTotals", func(t *testing.T) { testOrderTotals(t, newStore(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("Approvals", func(t *testing.T) { testApprovals(t, newStore(t)) })
	t.Run("ApprovalUpdatesAreAdditive", func(t *testing.T) { testApprovalUpdates(t, newStore(t)) })
	t.Run("ApprovalBacklog", func(t *testing.T) { testApprovalBacklog(t, newStore(t)) })
	t.Run("CalendarRows", func(t *testing.T) { testCalendarRows(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

var monday = calendar.NewDate(2025, time.March, 3)

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	deadline := monday.AddDays(10)
	require.NoError(t, s.SaveModel(ctx, planning.PieceModel{ID: "model-1", Code: "CAM-01", HourlyRate: 10}))
	require.NoError(t, s.SaveGroup(ctx, planning.ProductionGroup{ID: "group-1", Description: "Costura 1", Active: true}))
	require.NoError(t, s.SaveGroup(ctx, planning.ProductionGroup{ID: "group-2", Description: "Costura 2", Active: true}))
	require.NoError(t, s.SaveOrder(ctx, planning.ProductionOrder{
		ID: "order-1", Code: "OP-1", ModelID: "model-1", TotalQuantity: 300,
		StartDate: monday, Deadline: &deadline, Active: true,
	}))
	require.NoError(t, s.SaveOrder(ctx, planning.ProductionOrder{
		ID: "order-2", Code: "OP-2", ModelID: "model-1", TotalQuantity: 100,
		StartDate: monday, Active: true,
	}))
}

// distribution builds a persisted-ready distribution with one slot per
// (date, planned) pair starting at 07:30.
func distribution(t *testing.T, orderID planning.OrderID, groupID planning.GroupID, date calendar.Date, planned ...int) *planning.Distribution {
	t.Helper()
	d := planning.NewDistribution(orderID, groupID)
	slots := calendar.WindowSlots(date)
	var placements []planning.Placement
	for i, p := range planned {
		placements = append(placements, planning.Placement{Date: date, Span: slots[i], Planned: p})
	}
	d.Apply(placements)
	d.AssignIDs()
	return d
}

func save(t *testing.T, s Store, d ...*planning.Distribution) {
	t.Helper()
	ctx := context.Background()
	versions := make(map[planning.GroupID]int64)
	for _, dist := range d {
		v, err := s.GroupVersion(ctx, dist.GroupID)
		require.NoError(t, err)
		versions[dist.GroupID] = v
	}
	require.NoError(t, s.Save(ctx, planning.Commit{Distributions: d, Versions: versions}))
}

func testMasterData(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	order, err := s.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "OP-1", order.Code)
	assert.Equal(t, 300, order.TotalQuantity)
	assert.True(t, order.StartDate.Equal(monday))
	require.NotNil(t, order.Deadline)
	assert.True(t, order.Deadline.Equal(monday.AddDays(10)))

	other, err := s.GetOrder(ctx, "order-2")
	require.NoError(t, err)
	assert.Nil(t, other.Deadline)

	model, err := s.GetModel(ctx, "model-1")
	require.NoError(t, err)
	assert.Equal(t, 10, model.HourlyRate)

	// Saving again updates in place.
	require.NoError(t, s.SaveGroup(ctx, planning.ProductionGroup{ID: "group-2", Description: "Corte", Active: false}))
	group, err := s.GetGroup(ctx, "group-2")
	require.NoError(t, err)
	assert.Equal(t, "Corte", group.Description)
	assert.False(t, group.Active)

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
	orders, err := s.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	models, err := s.ListModels(ctx)
	require.NoError(t, err)
	assert.Len(t, models, 1)

	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, planning.ErrOrderNotFound)
	_, err = s.GetGroup(ctx, "missing")
	assert.ErrorIs(t, err, planning.ErrGroupNotFound)
	_, err = s.GetModel(ctx, "missing")
	assert.ErrorIs(t, err, planning.ErrModelNotFound)
}

func testVersionCheck(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	v, err := s.GroupVersion(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	d := distribution(t, "order-1", "group-1", monday, 10)
	require.NoError(t, s.Save(ctx, planning.Commit{
		Distributions: []*planning.Distribution{d},
		Versions:      map[planning.GroupID]int64{"group-1": 0},
	}))

	v, err = s.GroupVersion(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// A writer still holding version 0 loses, and nothing it wrote lands.
	stale := distribution(t, "order-2", "group-1", monday, 10)
	err = s.Save(ctx, planning.Commit{
		Distributions: []*planning.Distribution{stale},
		Versions:      map[planning.GroupID]int64{"group-1": 0},
	})
	assert.ErrorIs(t, err, planning.ErrConcurrentModification)

	lost, err := s.LoadDistribution(ctx, "order-2", "group-1")
	require.NoError(t, err)
	assert.True(t, lost.IsEmpty())

	require.NoError(t, s.Save(ctx, planning.Commit{
		Distributions: []*planning.Distribution{stale},
		Versions:      map[planning.GroupID]int64{"group-1": 1},
	}))
	v, err = s.GroupVersion(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func testOrderVersionCheck(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	v, err := s.OrderVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	require.NoError(t, s.Save(ctx, planning.Commit{
		Distributions: []*planning.Distribution{distribution(t, "order-1", "group-1", monday, 10)},
		Versions:      map[planning.GroupID]int64{"group-1": 0},
		OrderVersions: map[planning.OrderID]int64{"order-1": 0},
	}))
	v, err = s.OrderVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Another group, same order: the stale order version loses even though
	// the group version is current.
	err = s.Save(ctx, planning.Commit{
		Distributions: []*planning.Distribution{distribution(t, "order-1", "group-2", monday, 10)},
		Versions:      map[planning.GroupID]int64{"group-2": 0},
		OrderVersions: map[planning.OrderID]int64{"order-1": 0},
	})
	assert.ErrorIs(t, err, planning.ErrConcurrentModification)

	lost, err := s.LoadDistribution(ctx, "order-1", "group-2")
	require.NoError(t, err)
	assert.True(t, lost.IsEmpty())
	gv, err := s.GroupVersion(ctx, "group-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gv, "the failed commit rolls back its group bump")
}

func testDistributionRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	d := distribution(t, "order-1", "group-1", monday, 10, 10, 10)
	tuesday := monday.AddDays(1)
	d.Apply([]planning.Placement{{Date: tuesday, Span: calendar.StandardSlots()[10], Planned: 5, NeedsApproval: true}})
	d.AssignIDs()

	day := d.Day(monday)
	day.Slots[0].Actual = 8
	day.Slots[0].Recorded = true
	day.Slots[0].Status = planning.SlotInProgress
	day.Slots[1].Recorded = true
	day.Carried = -2
	day.Relocated = true
	day.Note = "falta de linha"
	day.Recalculate()
	d.Day(tuesday).Approval = planning.ApprovalPending
	save(t, s, d)

	got, err := s.LoadDistribution(ctx, "order-1", "group-1")
	require.NoError(t, err)
	require.Len(t, got.Days, 2)
	assert.False(t, got.Closed)

	gm := got.Day(monday)
	require.NotNil(t, gm)
	require.Len(t, gm.Slots, 3)
	assert.Equal(t, d.Day(monday).Slots[0].ID, gm.Slots[0].ID)
	assert.Equal(t, 8, gm.Slots[0].Actual)
	assert.True(t, gm.Slots[0].Recorded)
	assert.True(t, gm.Slots[1].Recorded)
	assert.False(t, gm.Slots[2].Recorded)
	assert.Equal(t, planning.SlotInProgress, gm.Slots[0].Status)
	assert.Equal(t, 30, gm.TotalPlanned)
	assert.Equal(t, 8, gm.TotalActual)
	assert.Equal(t, -22, gm.Balance)
	assert.Equal(t, -2, gm.Carried)
	assert.Equal(t, -20, gm.Outstanding())
	assert.True(t, gm.Relocated)
	assert.Equal(t, "falta de linha", gm.Note)

	gt := got.Day(tuesday)
	require.NotNil(t, gt)
	require.Len(t, gt.Slots, 1)
	assert.True(t, gt.Slots[0].NeedsApproval)
	assert.Equal(t, calendar.StandardSlots()[10], gt.Slots[0].Span)
	assert.Equal(t, planning.ApprovalPending, gt.Approval)

	// Closing is persisted.
	closedAt := time.Date(2025, time.March, 5, 18, 0, 0, 0, time.UTC)
	got.Closed = true
	got.ClosedAt = &closedAt
	save(t, s, got)

	again, err := s.LoadDistribution(ctx, "order-1", "group-1")
	require.NoError(t, err)
	assert.True(t, again.Closed)
	require.NotNil(t, again.ClosedAt)
	assert.True(t, again.ClosedAt.Equal(closedAt))
	assert.Equal(t, 35, again.TotalPlanned())

	planned, err := s.GroupPlanned(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, 35, planned)
}

func testEmptyDistribution(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	d := distribution(t, "order-1", "group-1", monday, 10)
	save(t, s, d)

	d.Days = nil
	save(t, s, d)

	got, err := s.LoadDistribution(ctx, "order-1", "group-1")
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
	assert.False(t, got.Closed)

	commitments, err := s.LoadCommitments(ctx, "group-1", monday, monday, "")
	require.NoError(t, err)
	assert.Empty(t, commitments)
}

func testCommitments(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	save(t, s, distribution(t, "order-1", "group-1", monday, 10, 10))
	save(t, s, distribution(t, "order-2", "group-1", monday.AddDays(1), 10))
	save(t, s, distribution(t, "order-2", "group-2", monday, 10))

	all, err := s.LoadCommitments(ctx, "group-1", monday, monday.AddDays(5), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	others, err := s.LoadCommitments(ctx, "group-1", monday, monday.AddDays(5), "order-1")
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, planning.OrderID("order-2"), others[0].OrderID)
	assert.True(t, others[0].Date.Equal(monday.AddDays(1)))
	assert.True(t, others[0].Occupies())

	firstDay, err := s.LoadCommitments(ctx, "group-1", monday, monday, "")
	require.NoError(t, err)
	require.Len(t, firstDay, 2)
	assert.True(t, firstDay[0].Span.Less(firstDay[1].Span))
}

func testOrderTotals(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	a := distribution(t, "order-1", "group-1", monday, 10, 10)
	day := a.Day(monday)
	day.Slots[0].Actual = 4
	day.Slots[0].Recorded = true
	day.Carried = -6
	day.Recalculate()
	save(t, s, a)
	save(t, s, distribution(t, "order-1", "group-2", monday, 10))

	allocated, actual, err := s.OrderTotals(ctx, "order-1")
	require.NoError(t, err)
	// Planned 30 plus the -6 carried on the first day.
	assert.Equal(t, 24, allocated)
	assert.Equal(t, 4, actual)
}

func testAudit(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	at := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, planning.Commit{
		Audit: []planning.AuditEntry{
			{ID: "a-1", At: at, Actor: "ana", Action: planning.AuditDistribute, OrderID: "order-1", GroupID: "group-1",
				Payload: map[string]any{"startDate": "2025-03-03"}},
			{ID: "a-2", At: at.Add(time.Minute), Actor: "ana", Action: planning.AuditClose, OrderID: "order-2", GroupID: "group-1"},
		},
	}))

	entries, err := s.ListAudit(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a-1", entries[0].ID)
	assert.Equal(t, planning.AuditDistribute, entries[0].Action)
	assert.Equal(t, "2025-03-03", entries[0].Payload["startDate"])
	assert.True(t, entries[0].At.Equal(at))

	all, err := s.ListAudit(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testApprovals(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	require.NoError(t, s.SaveApprover(ctx, approval.Approver{UserID: "bia", Name: "Bia", Policy: approval.PolicyAny, Active: true}))
	require.NoError(t, s.SaveApprover(ctx, approval.Approver{UserID: "ana", Name: "Ana", Policy: approval.PolicyAll, Active: true}))
	require.NoError(t, s.SaveApprover(ctx, approval.Approver{UserID: "bia", Name: "Bia", Policy: approval.PolicyAny, Active: false}))

	approvers, err := s.ListApprovers(ctx)
	require.NoError(t, err)
	require.Len(t, approvers, 2)
	assert.Equal(t, "ana", approvers[0].UserID)
	assert.False(t, approvers[1].Active)

	_, err = s.GetApprover(ctx, "nobody")
	assert.ErrorIs(t, err, approval.ErrApproverNotFound)

	created := time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)
	req := approval.Request{
		ID: "req-1", OrderID: "order-1", GroupID: "group-1", Date: monday,
		Reason: planning.ReasonOutsideWindow, WorkedMinutes: 600, RequestedBy: "ana",
		Status: approval.StatusPending, CreatedAt: created,
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	found, err := s.FindPending(ctx, "order-1", "group-1", monday)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "req-1", found.ID)
	assert.Equal(t, planning.ReasonOutsideWindow, found.Reason)
	assert.Equal(t, 600, found.WorkedMinutes)

	none, err := s.FindPending(ctx, "order-1", "group-1", monday.AddDays(1))
	require.NoError(t, err)
	assert.Nil(t, none)

	resolved := created.Add(time.Hour)
	req.Decisions = []approval.Decision{{UserID: "ana", Approve: true, Comment: "ok", At: resolved}}
	req.Status = approval.StatusApproved
	req.ResolvedAt = &resolved
	require.NoError(t, s.UpdateRequest(ctx, req))

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(resolved))
	require.Len(t, got.Decisions, 1)
	assert.Equal(t, "ok", got.Decisions[0].Comment)
	assert.True(t, got.Decisions[0].Approve)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A stale copy cannot reopen a resolved request.
	stale := req
	stale.Status, stale.ResolvedAt, stale.Decisions = approval.StatusPending, nil, nil
	assert.ErrorIs(t, s.UpdateRequest(ctx, stale), approval.ErrApprovalResolved)
	got, err = s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, got.Status)
	assert.Len(t, got.Decisions, 1)

	_, err = s.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, approval.ErrRequestNotFound)
	assert.ErrorIs(t, s.UpdateRequest(ctx, approval.Request{ID: "missing", Status: approval.StatusRejected}), approval.ErrRequestNotFound)
}

func testApprovalUpdates(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	at := time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)
	req := approval.Request{
		ID: "req-1", OrderID: "order-1", GroupID: "group-1", Date: monday,
		Reason: planning.ReasonOvertime, WorkedMinutes: 540,
		Status: approval.StatusPending, CreatedAt: at,
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	// GIVEN two writers that both read the request before either voted
	first, second := req, req
	first.Decisions = []approval.Decision{{UserID: "ana", Approve: true, At: at.Add(time.Minute)}}
	second.Decisions = []approval.Decision{{UserID: "bia", Approve: true, At: at.Add(2 * time.Minute)}}

	// WHEN both write back
	require.NoError(t, s.UpdateRequest(ctx, first))
	require.NoError(t, s.UpdateRequest(ctx, second))

	// THEN neither vote is lost
	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, got.Status)
	require.Len(t, got.Decisions, 2)
	assert.Equal(t, "ana", got.Decisions[0].UserID)
	assert.Equal(t, "bia", got.Decisions[1].UserID)
}

func testApprovalBacklog(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	saturday := monday.AddDays(5)
	d := distribution(t, "order-1", "group-1", monday, 10, 10)
	d.Apply([]planning.Placement{{Date: saturday, Span: calendar.WindowSlots(saturday)[0], Planned: 10}})
	d.Apply([]planning.Placement{{Date: monday, Span: calendar.StandardSlots()[10], Planned: 10, NeedsApproval: true}})
	d.AssignIDs()
	d.Day(monday).Approval = planning.ApprovalPending
	d.Day(saturday).Approval = planning.ApprovalPending
	save(t, s, d)

	require.NoError(t, s.CreateRequest(ctx, approval.Request{
		ID: "req-sat", OrderID: "order-1", GroupID: "group-1", Date: saturday,
		Reason: planning.ReasonOvertime, Status: approval.StatusPending, CreatedAt: time.Now().UTC(),
	}))

	backlog, err := s.PendingApprovalDays(ctx)
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	assert.True(t, backlog[0].Date.Equal(monday))
	assert.Equal(t, planning.OrderID("order-1"), backlog[0].OrderID)
	assert.Equal(t, planning.ReasonOutsideWindow, backlog[0].Reason)
	assert.Equal(t, 180, backlog[0].WorkedMinutes)
}

func testCalendarRows(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)

	save(t, s, distribution(t, "order-1", "group-1", monday, 10, 10))
	save(t, s, distribution(t, "order-2", "group-2", monday.AddDays(1), 7))

	f := report.Filter{From: monday, To: monday.AddDays(6)}
	rows, err := s.CalendarRows(ctx, f)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	f.OrderCode = "OP-2"
	rows, err = s.CalendarRows(ctx, f)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Costura 2", rows[0].GroupDescription)
	assert.Equal(t, "CAM-01", rows[0].ModelCode)
	assert.Equal(t, 7, rows[0].Planned)

	rows, err = s.CalendarRows(ctx, report.Filter{From: monday, To: monday, GroupID: "group-2"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testReset(t *testing.T, s Store) {
	ctx := context.Background()
	seed(t, s)
	save(t, s, distribution(t, "order-1", "group-1", monday, 10))

	require.NoError(t, s.Reset(ctx))

	orders, err := s.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
	planned, err := s.GroupPlanned(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, 0, planned)
}
