package api_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/api"
	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
	"github.com/warp/pcp-engine/planning/store"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func saturdayTrigger() planning.ApprovalTrigger {
	return planning.ApprovalTrigger{
		OrderID:       "op-1",
		GroupID:       "g1",
		Date:          calendar.NewDate(2025, time.March, 8),
		Reason:        planning.ReasonOutsideWindow,
		WorkedMinutes: 120,
		RequestedBy:   "ana",
	}
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	wf := approval.NewWorkflow(mem, nil, quietLog())

	d := api.NewApprovalDispatcher(wf, quietLog(), 4, time.Hour)
	d.RequestApproval(ctx, saturdayTrigger())
	d.RequestApproval(ctx, saturdayTrigger())
	assert.Equal(t, 2, d.Pending())

	d.Start()
	d.Stop()
	assert.Zero(t, d.Pending())

	pending, err := wf.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1, "a second trigger for the same day reuses the request")
	assert.Equal(t, "2025-03-08", pending[0].Date.String())
	assert.Equal(t, planning.ReasonOutsideWindow, pending[0].Reason)
	assert.Equal(t, "ana", pending[0].RequestedBy)
}

func TestDispatcher_RestartsAfterStop(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	wf := approval.NewWorkflow(mem, nil, quietLog())

	d := api.NewApprovalDispatcher(wf, quietLog(), 4, time.Hour)
	d.Start()
	d.Stop()

	require.NotPanics(t, d.Start)
	d.RequestApproval(ctx, saturdayTrigger())
	d.Stop()
	assert.Zero(t, d.Pending())

	pending, err := wf.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1, "the second run drains the trigger")
	assert.Equal(t, "2025-03-08", pending[0].Date.String())
}

func TestDispatcher_FullQueueDoesNotBlock(t *testing.T) {
	d := api.NewApprovalDispatcher(approval.NewWorkflow(store.NewMemory(), nil, quietLog()), quietLog(), 1, time.Hour)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.RequestApproval(context.Background(), saturdayTrigger())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RequestApproval blocked on a full queue")
	}
	assert.Equal(t, 1, d.Pending())
}

func TestDispatcher_SweepRecoversDroppedTrigger(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveModel(ctx, planning.PieceModel{ID: "m1", Code: "CAM-01", HourlyRate: 10}))
	require.NoError(t, mem.SaveGroup(ctx, planning.ProductionGroup{ID: "g1", Description: "Costura 1", Active: true}))
	require.NoError(t, mem.SaveOrder(ctx, planning.ProductionOrder{
		ID: "op-1", Code: "OP-1", ModelID: "m1", TotalQuantity: 100,
		StartDate: calendar.NewDate(2025, time.March, 3), Active: true,
	}))

	// No notifier: the trigger is lost and only the stored day remains.
	svc := planning.NewService(mem, nil, quietLog(), planning.ServiceConfig{LookaheadDays: 60, RetryAttempts: 3})
	wf := approval.NewWorkflow(mem, svc, quietLog())

	early, err := calendar.ParseSpan("07:30", "08:29")
	require.NoError(t, err)
	late, err := calendar.ParseSpan("12:30", "13:29")
	require.NoError(t, err)
	_, err = svc.ScheduleDay(ctx, planning.ScheduleDayCommand{
		OrderID: "op-1", GroupID: "g1",
		Date:  calendar.NewDate(2025, time.March, 8),
		Spans: []calendar.Span{early, late},
		Actor: "ana",
	})
	require.NoError(t, err)

	d := api.NewApprovalDispatcher(wf, quietLog(), 4, time.Hour)
	assert.Zero(t, d.RunNow(), "nothing resolves without approvers")

	pending, err := wf.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, planning.ReasonOutsideWindow, pending[0].Reason)

	require.NoError(t, wf.SaveApprover(ctx, approval.Approver{UserID: "ana", Policy: approval.PolicyAny, Active: true}))
	_, err = wf.Decide(ctx, pending[0].ID, "ana", true, "")
	require.NoError(t, err)

	view, err := svc.View(ctx, "op-1", "g1", calendar.NewDate(2025, time.March, 8), 1)
	require.NoError(t, err)
	day := view.Distribution.Day(calendar.NewDate(2025, time.March, 8))
	require.NotNil(t, day)
	assert.Equal(t, planning.ApprovalApproved, day.Approval)
}

func TestDispatcher_DisabledDoesNotStart(t *testing.T) {
	d := api.NewApprovalDispatcher(approval.NewWorkflow(store.NewMemory(), nil, quietLog()), quietLog(), 0, 0)
	assert.Equal(t, api.DefaultSweepInterval, d.SweepInterval)

	d.Enabled = false
	d.Start()
	d.RequestApproval(context.Background(), saturdayTrigger())
	d.Stop()
	assert.Equal(t, 1, d.Pending(), "nothing drains a dispatcher that never started")
}
