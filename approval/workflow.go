package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

// OutcomeApplier writes a resolved decision back onto the planned day.
// planning.Service implements it.
type OutcomeApplier interface {
	ApplyApprovalOutcome(ctx context.Context, orderID planning.OrderID, groupID planning.GroupID, date calendar.Date, approved bool, actor string) error
}

// Workflow opens approval requests and resolves them.
type Workflow struct {
	store    Store
	outcomes OutcomeApplier
	log      *slog.Logger

	// openMu serializes Open so the dispatcher worker and the sweep never
	// both create a request for the same day.
	openMu sync.Mutex
	// decideMu serializes the read-evaluate-write of a request between
	// Decide and Sweep.
	decideMu sync.Mutex

	Now func() time.Time
}

func NewWorkflow(store Store, outcomes OutcomeApplier, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{store: store, outcomes: outcomes, log: log, Now: time.Now}
}

// Open creates a pending request for the trigger's day. A day that already
// has a pending request gets that request back.
func (w *Workflow) Open(ctx context.Context, t planning.ApprovalTrigger) (*Request, error) {
	const op = "approval.Workflow.Open"

	w.openMu.Lock()
	defer w.openMu.Unlock()

	existing, err := w.store.FindPending(ctx, t.OrderID, t.GroupID, t.Date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil {
		return existing, nil
	}

	req := Request{
		ID:            uuid.NewString(),
		OrderID:       t.OrderID,
		GroupID:       t.GroupID,
		Date:          t.Date,
		Reason:        t.Reason,
		WorkedMinutes: t.WorkedMinutes,
		RequestedBy:   t.RequestedBy,
		Status:        StatusPending,
		CreatedAt:     w.Now().UTC(),
	}
	if err := w.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	w.log.Info("approval requested",
		slog.String("op", op),
		slog.String("request_id", req.ID),
		slog.String("order_id", string(req.OrderID)),
		slog.String("date", req.Date.String()),
		slog.String("reason", string(req.Reason)),
	)
	return &req, nil
}

// Decide records userID's vote and resolves the request when the policy
// allows it.
func (w *Workflow) Decide(ctx context.Context, requestID, userID string, approve bool, comment string) (*Request, error) {
	const op = "approval.Workflow.Decide"

	w.decideMu.Lock()
	defer w.decideMu.Unlock()

	req, err := w.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.IsResolved() {
		return nil, ErrApprovalResolved
	}

	approver, err := w.store.GetApprover(ctx, userID)
	if err != nil || !approver.Active {
		return nil, ErrNotApprover
	}
	if req.DecisionBy(userID) != nil {
		return nil, ErrAlreadyDecided
	}

	req.Decisions = append(req.Decisions, Decision{
		UserID: userID, Approve: approve, Comment: comment, At: w.Now().UTC(),
	})
	if err := w.resolve(ctx, req, userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

// Sweep opens requests for pending days that lost their trigger, then
// re-evaluates every pending request against the current approver set.
// Deactivating an approver can resolve requests that were waiting on them.
// It returns how many requests were resolved.
func (w *Workflow) Sweep(ctx context.Context) (int, error) {
	const op = "approval.Workflow.Sweep"

	backlog, err := w.store.PendingApprovalDays(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	for _, t := range backlog {
		if _, err := w.Open(ctx, t); err != nil {
			return 0, err
		}
	}

	pending, err := w.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	resolved := 0
	for _, p := range pending {
		done, err := w.settle(ctx, p.ID)
		if err != nil {
			w.log.Error("sweep failed",
				slog.String("op", op),
				slog.String("request_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if done {
			resolved++
		}
	}
	return resolved, nil
}

// settle re-reads a request under decideMu and resolves it when the current
// approver set already decides it.
func (w *Workflow) settle(ctx context.Context, requestID string) (bool, error) {
	w.decideMu.Lock()
	defer w.decideMu.Unlock()

	req, err := w.store.GetRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	if req.IsResolved() {
		return false, nil
	}
	approvers, err := w.store.ListApprovers(ctx)
	if err != nil {
		return false, err
	}
	if Evaluate(approvers, req.Decisions) == StatusPending {
		return false, nil
	}
	if err := w.resolve(ctx, req, "system"); err != nil {
		return false, err
	}
	return true, nil
}

// resolve evaluates req, persists it and applies a final outcome.
func (w *Workflow) resolve(ctx context.Context, req *Request, actor string) error {
	approvers, err := w.store.ListApprovers(ctx)
	if err != nil {
		return err
	}

	status := Evaluate(approvers, req.Decisions)
	if status != StatusPending {
		at := w.Now().UTC()
		req.Status = status
		req.ResolvedAt = &at
	}
	if err := w.store.UpdateRequest(ctx, *req); err != nil {
		return err
	}
	if !req.IsResolved() {
		return nil
	}

	w.log.Info("approval resolved",
		slog.String("request_id", req.ID),
		slog.String("status", string(req.Status)),
		slog.String("policy", string(EffectivePolicy(approvers))),
	)
	if w.outcomes == nil {
		return nil
	}
	return w.outcomes.ApplyApprovalOutcome(ctx, req.OrderID, req.GroupID, req.Date, req.Status == StatusApproved, actor)
}

// ListPending returns the open requests.
func (w *Workflow) ListPending(ctx context.Context) ([]Request, error) {
	return w.store.ListPending(ctx)
}

// SaveApprover registers or updates an approver.
func (w *Workflow) SaveApprover(ctx context.Context, a Approver) error {
	if a.UserID == "" {
		return fmt.Errorf("user id is required: %w", ErrInvalidApprover)
	}
	if _, err := ParsePolicy(string(a.Policy)); err != nil {
		return err
	}
	return w.store.SaveApprover(ctx, a)
}

func (w *Workflow) ListApprovers(ctx context.Context) ([]Approver, error) {
	return w.store.ListApprovers(ctx)
}
