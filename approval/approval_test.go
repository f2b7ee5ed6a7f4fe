package approval_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
	"github.com/warp/pcp-engine/planning/store"
)

var monday = calendar.NewDate(2025, time.March, 3)

type mockOutcomes struct {
	mock.Mock
}

func (m *mockOutcomes) ApplyApprovalOutcome(ctx context.Context, orderID planning.OrderID, groupID planning.GroupID, date calendar.Date, approved bool, actor string) error {
	args := m.Called(ctx, orderID, groupID, date, approved, actor)
	return args.Error(0)
}

func approvers(policies ...approval.Policy) []approval.Approver {
	out := make([]approval.Approver, 0, len(policies))
	for i, p := range policies {
		out = append(out, approval.Approver{UserID: string(rune('a' + i)), Policy: p, Active: true})
	}
	return out
}

func vote(user string, approve bool) approval.Decision {
	return approval.Decision{UserID: user, Approve: approve}
}

func TestEvaluate_PolicyTable(t *testing.T) {
	E, OU := approval.PolicyAll, approval.PolicyAny

	tests := []struct {
		name      string
		approvers []approval.Approver
		decisions []approval.Decision
		want      approval.Status
	}{
		{"E waits for everyone", approvers(E, E), []approval.Decision{vote("a", true)}, approval.StatusPending},
		{"E all approve", approvers(E, E), []approval.Decision{vote("a", true), vote("b", true)}, approval.StatusApproved},
		{"E one reject", approvers(E, E), []approval.Decision{vote("b", false)}, approval.StatusRejected},
		{"OU one approve", approvers(OU, OU), []approval.Decision{vote("b", true)}, approval.StatusApproved},
		{"OU one reject waits", approvers(OU, OU), []approval.Decision{vote("a", false)}, approval.StatusPending},
		{"OU all reject", approvers(OU, OU), []approval.Decision{vote("a", false), vote("b", false)}, approval.StatusRejected},
		{"mixed set uses E", approvers(OU, E), []approval.Decision{vote("a", true)}, approval.StatusPending},
		{"stranger ignored", approvers(OU), []approval.Decision{vote("z", true)}, approval.StatusPending},
		{"no approvers", nil, []approval.Decision{vote("a", true)}, approval.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, approval.Evaluate(tt.approvers, tt.decisions))
		})
	}
}

func TestEffectivePolicy_IgnoresInactive(t *testing.T) {
	set := approvers(approval.PolicyAny, approval.PolicyAll)
	assert.Equal(t, approval.PolicyAll, approval.EffectivePolicy(set))

	set[1].Active = false
	assert.Equal(t, approval.PolicyAny, approval.EffectivePolicy(set))
}

func TestParsePolicy(t *testing.T) {
	p, err := approval.ParsePolicy("OU")
	require.NoError(t, err)
	assert.Equal(t, approval.PolicyAny, p)

	_, err = approval.ParsePolicy("XOR")
	assert.ErrorIs(t, err, approval.ErrInvalidPolicy)
}

// =============================================================================
// WORKFLOW
// =============================================================================

func newWorkflow(t *testing.T, outcomes approval.OutcomeApplier, set ...approval.Approver) (*approval.Workflow, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	w := approval.NewWorkflow(mem, outcomes, nil)
	for _, a := range set {
		require.NoError(t, w.SaveApprover(context.Background(), a))
	}
	return w, mem
}

func trigger() planning.ApprovalTrigger {
	return planning.ApprovalTrigger{
		OrderID: "order-1", GroupID: "group-1", Date: monday,
		Reason: planning.ReasonOutsideWindow, WorkedMinutes: 660, RequestedBy: "planner",
	}
}

func TestWorkflow_OpenIsIdempotentPerDay(t *testing.T) {
	w, _ := newWorkflow(t, nil, approvers(approval.PolicyAny)...)
	ctx := context.Background()

	first, err := w.Open(ctx, trigger())
	require.NoError(t, err)
	second, err := w.Open(ctx, trigger())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	pending, err := w.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestWorkflow_AnyApproverResolves(t *testing.T) {
	outcomes := &mockOutcomes{}
	outcomes.On("ApplyApprovalOutcome", mock.Anything, planning.OrderID("order-1"), planning.GroupID("group-1"), monday, true, "b").
		Return(nil).Once()
	w, _ := newWorkflow(t, outcomes, approvers(approval.PolicyAny, approval.PolicyAny)...)
	ctx := context.Background()

	req, err := w.Open(ctx, trigger())
	require.NoError(t, err)

	got, err := w.Decide(ctx, req.ID, "b", true, "ok")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	outcomes.AssertExpectations(t)

	_, err = w.Decide(ctx, req.ID, "a", false, "")
	assert.ErrorIs(t, err, approval.ErrApprovalResolved)
}

func TestWorkflow_AllPolicyNeedsEveryVote(t *testing.T) {
	outcomes := &mockOutcomes{}
	w, _ := newWorkflow(t, outcomes, approvers(approval.PolicyAll, approval.PolicyAll)...)
	ctx := context.Background()

	req, err := w.Open(ctx, trigger())
	require.NoError(t, err)

	got, err := w.Decide(ctx, req.ID, "a", true, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, got.Status)
	assert.Empty(t, outcomes.Calls)

	_, err = w.Decide(ctx, req.ID, "a", true, "")
	assert.ErrorIs(t, err, approval.ErrAlreadyDecided)

	outcomes.On("ApplyApprovalOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything, false, "b").
		Return(nil).Once()
	got, err = w.Decide(ctx, req.ID, "b", false, "too late")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, got.Status)
	assert.Len(t, got.Decisions, 2)
	outcomes.AssertExpectations(t)
}

func TestWorkflow_ConcurrentVotesAreAllCounted(t *testing.T) {
	outcomes := &mockOutcomes{}
	outcomes.On("ApplyApprovalOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything, true, mock.Anything).
		Return(nil).Once()
	w, mem := newWorkflow(t, outcomes, approvers(approval.PolicyAll, approval.PolicyAll)...)
	ctx := context.Background()

	req, err := w.Open(ctx, trigger())
	require.NoError(t, err)

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, user := range []string{"a", "b"} {
		i, user := i, user
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = w.Decide(ctx, req.ID, user, true, "")
		}()
	}
	// A sweep racing the votes must not apply the outcome a second time.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		_, _ = w.Sweep(ctx)
	}()
	close(start)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, err := mem.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, stored.Status)
	assert.Len(t, stored.Decisions, 2)

	got, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, got)

	pending, err := w.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	outcomes.AssertExpectations(t)
	outcomes.AssertNumberOfCalls(t, "ApplyApprovalOutcome", 1)
}

func TestWorkflow_RejectsNonApprovers(t *testing.T) {
	set := approvers(approval.PolicyAny, approval.PolicyAny)
	set[1].Active = false
	w, _ := newWorkflow(t, nil, set...)
	ctx := context.Background()

	req, err := w.Open(ctx, trigger())
	require.NoError(t, err)

	_, err = w.Decide(ctx, req.ID, "b", true, "")
	assert.ErrorIs(t, err, approval.ErrNotApprover)
	_, err = w.Decide(ctx, req.ID, "nobody", true, "")
	assert.ErrorIs(t, err, approval.ErrNotApprover)
	_, err = w.Decide(ctx, "missing", "a", true, "")
	assert.ErrorIs(t, err, approval.ErrRequestNotFound)
}

func TestWorkflow_SweepResolvesAfterApproverLeaves(t *testing.T) {
	outcomes := &mockOutcomes{}
	outcomes.On("ApplyApprovalOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything, true, "system").
		Return(nil).Once()
	set := approvers(approval.PolicyAll, approval.PolicyAll)
	w, _ := newWorkflow(t, outcomes, set...)
	ctx := context.Background()

	req, err := w.Open(ctx, trigger())
	require.NoError(t, err)
	_, err = w.Decide(ctx, req.ID, "a", true, "")
	require.NoError(t, err)

	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	set[1].Active = false
	require.NoError(t, w.SaveApprover(ctx, set[1]))

	n, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	outcomes.AssertExpectations(t)
}

func TestWorkflow_SaveApproverValidates(t *testing.T) {
	w, _ := newWorkflow(t, nil)
	ctx := context.Background()

	err := w.SaveApprover(ctx, approval.Approver{UserID: "a", Policy: "X"})
	assert.ErrorIs(t, err, approval.ErrInvalidPolicy)
	err = w.SaveApprover(ctx, approval.Approver{Policy: approval.PolicyAll})
	assert.ErrorIs(t, err, approval.ErrInvalidApprover)
}

func TestWorkflow_RejectionRemovesFlaggedSlots(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveModel(ctx, planning.PieceModel{ID: "model-1", HourlyRate: 10}))
	require.NoError(t, mem.SaveGroup(ctx, planning.ProductionGroup{ID: "group-1", Active: true}))
	require.NoError(t, mem.SaveOrder(ctx, planning.ProductionOrder{
		ID: "order-1", ModelID: "model-1", TotalQuantity: 200, StartDate: monday, Active: true,
	}))

	svc := planning.NewService(mem, nil, nil, planning.ServiceConfig{})
	w := approval.NewWorkflow(mem, svc, nil)
	require.NoError(t, w.SaveApprover(ctx, approval.Approver{UserID: "boss", Policy: approval.PolicyAny, Active: true}))

	out, err := svc.Distribute(ctx, planning.DistributeCommand{
		OrderID: "order-1", GroupID: "group-1", StartDate: monday, Quantity: 110, ExtraHours: 1,
	})
	require.NoError(t, err)
	require.Len(t, out.Approvals, 1)

	req, err := w.Open(ctx, out.Approvals[0])
	require.NoError(t, err)
	_, err = w.Decide(ctx, req.ID, "boss", false, "no overtime this week")
	require.NoError(t, err)

	dist, err := mem.LoadDistribution(ctx, "order-1", "group-1")
	require.NoError(t, err)
	day := dist.Day(monday)
	assert.Equal(t, planning.ApprovalRejected, day.Approval)
	assert.Equal(t, 100, day.TotalPlanned)
}

func TestWorkflow_SweepReopensLostTriggers(t *testing.T) {
	// GIVEN: a distribution with overtime saved while the notifier was down
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveModel(ctx, planning.PieceModel{ID: "model-1", HourlyRate: 10}))
	require.NoError(t, mem.SaveGroup(ctx, planning.ProductionGroup{ID: "group-1", Active: true}))
	require.NoError(t, mem.SaveOrder(ctx, planning.ProductionOrder{
		ID: "order-1", ModelID: "model-1", TotalQuantity: 200, StartDate: monday, Active: true,
	}))
	svc := planning.NewService(mem, nil, nil, planning.ServiceConfig{})
	_, err := svc.Distribute(ctx, planning.DistributeCommand{
		OrderID: "order-1", GroupID: "group-1", StartDate: monday, Quantity: 110, ExtraHours: 1,
	})
	require.NoError(t, err)

	w := approval.NewWorkflow(mem, svc, nil)
	require.NoError(t, w.SaveApprover(ctx, approval.Approver{UserID: "boss", Policy: approval.PolicyAny, Active: true}))

	// WHEN: the sweep runs twice
	resolved, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
	_, err = w.Sweep(ctx)
	require.NoError(t, err)

	// THEN: exactly one request exists for the flagged day
	pending, err := w.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Date.Equal(monday))
	assert.Equal(t, planning.ReasonOutsideWindow, pending[0].Reason)
	assert.Equal(t, 660, pending[0].WorkedMinutes)
}
