/*
service.go - Orchestrates load -> compute -> save for every engine operation

PURPOSE:
  The engine components are pure. The Service is the boundary that loads
  the records they need, runs them, and writes the outcome as one Commit
  under optimistic concurrency.

RETRY DISCIPLINE:
  Each write runs inside withRetry:

    for attempt := 1..RetryAttempts:
        v := GroupVersion(group)            // read version first
        o := OrderVersion(order)            // Distribute and ScheduleDay only
        load order/model/group/distribution/commitments (errgroup)
        compute
        Save(commit expecting v, o)         // ErrConcurrentModification -> retry

  When the budget is spent the caller gets ConcurrentAllocationConflict.
  Non-retryable errors (validation, capacity, closed) return immediately.

APPROVALS:
  Days that need overtime approval are marked ApprovalPending in the same
  commit. After the commit succeeds the notifier is called for each of them
  (fire-and-forget; it never fails the operation).

SEE ALSO:
  - store.go: Store and Commit
  - approval/workflow.go: the notifier and ApplyApprovalOutcome caller
*/
package planning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/pcp-engine/calendar"
)

// DefaultRetryAttempts bounds optimistic retries.
const DefaultRetryAttempts = 3

// DefaultRelocationExtraHours is granted when a relocation allows overtime.
const DefaultRelocationExtraHours = 2

// =============================================================================
// APPROVAL COLLABORATOR
// =============================================================================

// ApprovalTrigger asks for an overtime approval of one day.
type ApprovalTrigger struct {
	OrderID       OrderID
	GroupID       GroupID
	Date          calendar.Date
	Reason        TriggerReason
	WorkedMinutes int
	RequestedBy   string
}

// ApprovalNotifier receives approval triggers. Implementations must not block.
type ApprovalNotifier interface {
	RequestApproval(ctx context.Context, t ApprovalTrigger)
}

type noopNotifier struct{}

func (noopNotifier) RequestApproval(context.Context, ApprovalTrigger) {}

// =============================================================================
// SERVICE
// =============================================================================

type ServiceConfig struct {
	LookaheadDays int
	RetryAttempts int
}

type Service struct {
	store      Store
	notifier   ApprovalNotifier
	log        *slog.Logger
	allocator  *Allocator
	reconciler BalanceReconciler
	closing    ClosingSettlement
	attempts   int

	// Now is the clock used for audit and closure timestamps.
	Now func() time.Time
}

func NewService(store Store, notifier ApprovalNotifier, log *slog.Logger, cfg ServiceConfig) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	return &Service{
		store:     store,
		notifier:  notifier,
		log:       log,
		allocator: NewAllocator(cfg.LookaheadDays),
		attempts:  attempts,
		Now:       time.Now,
	}
}

// SetNotifier replaces the approval collaborator.
func (s *Service) SetNotifier(n ApprovalNotifier) {
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
}

func (s *Service) LookaheadDays() int {
	return s.allocator.LookaheadDays
}

// =============================================================================
// DISTRIBUTE
// =============================================================================

type DistributeCommand struct {
	OrderID         OrderID
	GroupID         GroupID
	StartDate       calendar.Date
	Quantity        int
	ExtraHours      int
	MaxGroupPercent decimal.Decimal
	Actor           string
}

type DistributeOutcome struct {
	Result       *AllocationResult
	Distribution *Distribution
	Approvals    []ApprovalTrigger
}

// Distribute lays down a plan for cmd.Quantity and persists it.
func (s *Service) Distribute(ctx context.Context, cmd DistributeCommand) (*DistributeOutcome, error) {
	const op = "planning.Service.Distribute"

	var out *DistributeOutcome
	err := s.withRetry(ctx, op, cmd.GroupID, func() error {
		version, err := s.store.GroupVersion(ctx, cmd.GroupID)
		if err != nil {
			return err
		}
		orderVersion, err := s.store.OrderVersion(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		st, err := s.load(ctx, cmd.OrderID, cmd.GroupID, &dateRange{
			from: cmd.StartDate,
			to:   cmd.StartDate.AddDays(s.allocator.LookaheadDays),
		})
		if err != nil {
			return err
		}
		if st.dist.Closed {
			return ErrDistributionClosed
		}

		res, err := s.allocator.Distribute(AllocationRequest{
			Order:            *st.order,
			Model:            *st.model,
			Group:            *st.group,
			StartDate:        cmd.StartDate,
			Quantity:         cmd.Quantity,
			ExtraHours:       cmd.ExtraHours,
			MaxGroupPercent:  cmd.MaxGroupPercent,
			AlreadyAllocated: st.allocated,
			Existing:         st.dist,
			Commitments:      st.commitments,
		})
		if err != nil {
			return err
		}

		st.dist.Apply(res.Placements)
		triggers := s.flagApprovals(st.dist, flaggedDates(res.Placements), false, cmd.Actor)
		st.dist.AssignIDs()

		commit := Commit{
			Distributions: []*Distribution{st.dist},
			Versions:      map[GroupID]int64{cmd.GroupID: version},
			OrderVersions: map[OrderID]int64{cmd.OrderID: orderVersion},
			Audit: []AuditEntry{s.auditEntry(cmd.Actor, AuditDistribute, cmd.OrderID, cmd.GroupID, map[string]any{
				"start_date":        cmd.StartDate.String(),
				"quantity":          cmd.Quantity,
				"extra_hours":       cmd.ExtraHours,
				"max_group_percent": cmd.MaxGroupPercent.String(),
				"days_used":         res.DaysUsed,
			})},
		}
		if err := s.store.Save(ctx, commit); err != nil {
			return err
		}
		out = &DistributeOutcome{Result: res, Distribution: st.dist, Approvals: triggers}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, out.Approvals)
	s.log.Info("distribution created",
		slog.String("op", op),
		slog.String("order_id", string(cmd.OrderID)),
		slog.String("group_id", string(cmd.GroupID)),
		slog.Int("total_distributed", out.Result.TotalDistributed),
		slog.Int("days_used", out.Result.DaysUsed),
	)
	return out, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel removes every not-yet-executed slot of the order on the group.
func (s *Service) Cancel(ctx context.Context, orderID OrderID, groupID GroupID, actor string) (*CancelResult, error) {
	const op = "planning.Service.Cancel"

	var out *CancelResult
	err := s.withRetry(ctx, op, groupID, func() error {
		version, err := s.store.GroupVersion(ctx, groupID)
		if err != nil {
			return err
		}
		dist, err := s.loadDistribution(ctx, orderID, groupID)
		if err != nil {
			return err
		}
		res, err := CancelDistribution(dist)
		if err != nil {
			return err
		}
		commit := Commit{
			Distributions: []*Distribution{dist},
			Versions:      map[GroupID]int64{groupID: version},
			Audit: []AuditEntry{s.auditEntry(actor, AuditCancel, orderID, groupID, map[string]any{
				"removed_slots":    res.RemovedSlots,
				"removed_quantity": res.RemovedQuantity,
				"kept_slots":       survivorsCount(res.Warning),
			})},
		}
		if err := s.store.Save(ctx, commit); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Warning != nil {
		s.log.Warn("partial cancellation",
			slog.String("op", op),
			slog.String("order_id", string(orderID)),
			slog.Int("kept_slots", len(out.Warning.Survivors)),
		)
	}
	return out, nil
}

func survivorsCount(w *PartialCancellationWarning) int {
	if w == nil {
		return 0
	}
	return len(w.Survivors)
}

// =============================================================================
// RECONCILE / REPLICATE
// =============================================================================

type ReconcileCommand struct {
	OrderID   OrderID
	GroupID   GroupID
	DayDate   calendar.Date
	Updates   []SlotUpdate
	Propagate bool
	Actor     string
}

type ReplicateCommand struct {
	OrderID   OrderID
	GroupID   GroupID
	DayDate   calendar.Date
	Quantity  int
	Propagate bool
	Actor     string
}

// ReconcileOutcome reports the reconciled day and the days propagation touched.
type ReconcileOutcome struct {
	Day          Day
	Propagated   []Day
	Unresolved   []UnresolvedBalance
	Distribution *Distribution
}

// Err returns an *UnresolvedBalanceError when propagation left a remainder.
func (o *ReconcileOutcome) Err() error {
	return (&PropagationResult{Unresolved: o.Unresolved}).Err()
}

// Reconcile records slot actuals for one day and optionally propagates.
func (s *Service) Reconcile(ctx context.Context, cmd ReconcileCommand) (*ReconcileOutcome, error) {
	const op = "planning.Service.Reconcile"
	if len(cmd.Updates) == 0 {
		return nil, invalid("slotUpdates", "at least one update is required")
	}

	return s.reconcileWith(ctx, op, cmd.OrderID, cmd.GroupID, cmd.DayDate, cmd.Actor, AuditReconcile,
		map[string]any{"day": cmd.DayDate.String(), "updates": len(cmd.Updates), "propagate": cmd.Propagate},
		func(dist *Distribution) (*PropagationResult, error) {
			day, err := s.reconciler.RecordActuals(dist, cmd.DayDate, cmd.Updates)
			if err != nil {
				return nil, err
			}
			res := &PropagationResult{Changed: []calendar.Date{day.Date}}
			if cmd.Propagate {
				prop := s.reconciler.ApplyBalancePropagation(dist.Days)
				for _, d := range prop.Changed {
					res.markChanged(d)
				}
				res.Unresolved = prop.Unresolved
			}
			return res, nil
		})
}

// Replicate sets every slot's actual on a day to one value.
func (s *Service) Replicate(ctx context.Context, cmd ReplicateCommand) (*ReconcileOutcome, error) {
	const op = "planning.Service.Replicate"

	return s.reconcileWith(ctx, op, cmd.OrderID, cmd.GroupID, cmd.DayDate, cmd.Actor, AuditReplicate,
		map[string]any{"day": cmd.DayDate.String(), "quantity": cmd.Quantity, "propagate": cmd.Propagate},
		func(dist *Distribution) (*PropagationResult, error) {
			return s.reconciler.ReplicateQuantityAcrossDay(dist, cmd.DayDate, cmd.Quantity, cmd.Propagate)
		})
}

func (s *Service) reconcileWith(
	ctx context.Context,
	op string,
	orderID OrderID,
	groupID GroupID,
	date calendar.Date,
	actor string,
	action AuditAction,
	payload map[string]any,
	apply func(*Distribution) (*PropagationResult, error),
) (*ReconcileOutcome, error) {
	var out *ReconcileOutcome
	err := s.withRetry(ctx, op, groupID, func() error {
		version, err := s.store.GroupVersion(ctx, groupID)
		if err != nil {
			return err
		}
		dist, err := s.loadDistribution(ctx, orderID, groupID)
		if err != nil {
			return err
		}
		res, err := apply(dist)
		if err != nil {
			return err
		}

		commit := Commit{
			Distributions: []*Distribution{dist},
			Versions:      map[GroupID]int64{groupID: version},
			Audit:         []AuditEntry{s.auditEntry(actor, action, orderID, groupID, payload)},
		}
		if err := s.store.Save(ctx, commit); err != nil {
			return err
		}

		out = &ReconcileOutcome{Day: *dist.Day(date), Unresolved: res.Unresolved, Distribution: dist}
		for _, d := range res.Changed {
			if d.Equal(date) {
				continue
			}
			out.Propagated = append(out.Propagated, *dist.Day(d))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out.Unresolved) > 0 {
		s.log.Warn("balance left unresolved",
			slog.String("op", op),
			slog.String("order_id", string(orderID)),
			slog.String("error", out.Err().Error()),
		)
	}
	return out, nil
}

// =============================================================================
// SCHEDULE DAY
// =============================================================================

type ScheduleDayCommand struct {
	OrderID OrderID
	GroupID GroupID
	Date    calendar.Date
	Spans   []calendar.Span
	Note    string
	Actor   string
}

type ScheduleDayOutcome struct {
	Result *ScheduleResult
	Day    Day
}

// ScheduleDay plans explicit spans on one day (the edit-hours flow).
func (s *Service) ScheduleDay(ctx context.Context, cmd ScheduleDayCommand) (*ScheduleDayOutcome, error) {
	const op = "planning.Service.ScheduleDay"

	var (
		out      *ScheduleDayOutcome
		triggers []ApprovalTrigger
	)
	err := s.withRetry(ctx, op, cmd.GroupID, func() error {
		version, err := s.store.GroupVersion(ctx, cmd.GroupID)
		if err != nil {
			return err
		}
		orderVersion, err := s.store.OrderVersion(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		st, err := s.load(ctx, cmd.OrderID, cmd.GroupID, &dateRange{from: cmd.Date, to: cmd.Date})
		if err != nil {
			return err
		}
		if !st.order.Active {
			return invalid("orderId", "order %s is not active", st.order.ID)
		}

		unallocated := st.order.TotalQuantity - st.allocated
		res, err := ScheduleDay(st.dist, st.commitments, cmd.Date, cmd.Spans, st.model.HourlyRate, unallocated)
		if err != nil {
			return err
		}
		day := st.dist.Day(cmd.Date)
		if cmd.Note != "" {
			day.Note = cmd.Note
		}
		triggers = nil
		if res.NeedsApproval && day.Approval != ApprovalPending {
			day.Approval = ApprovalPending
			triggers = append(triggers, ApprovalTrigger{
				OrderID: cmd.OrderID, GroupID: cmd.GroupID, Date: cmd.Date,
				Reason: res.Reason, WorkedMinutes: res.WorkedMinutes, RequestedBy: cmd.Actor,
			})
		}
		st.dist.AssignIDs()

		commit := Commit{
			Distributions: []*Distribution{st.dist},
			Versions:      map[GroupID]int64{cmd.GroupID: version},
			OrderVersions: map[OrderID]int64{cmd.OrderID: orderVersion},
			Audit: []AuditEntry{s.auditEntry(cmd.Actor, AuditScheduleDay, cmd.OrderID, cmd.GroupID, map[string]any{
				"day":            cmd.Date.String(),
				"spans":          len(cmd.Spans),
				"worked_minutes": res.WorkedMinutes,
				"needs_approval": res.NeedsApproval,
			})},
		}
		if err := s.store.Save(ctx, commit); err != nil {
			return err
		}
		out = &ScheduleDayOutcome{Result: res, Day: *st.dist.Day(cmd.Date)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, triggers)
	return out, nil
}

// =============================================================================
// CLOSE
// =============================================================================

// Close settles and concludes the distribution. Closing an empty
// distribution succeeds without writing anything.
func (s *Service) Close(ctx context.Context, orderID OrderID, groupID GroupID, actor string) (*CloseResult, error) {
	const op = "planning.Service.Close"

	var out *CloseResult
	err := s.withRetry(ctx, op, groupID, func() error {
		version, err := s.store.GroupVersion(ctx, groupID)
		if err != nil {
			return err
		}
		dist, err := s.loadDistribution(ctx, orderID, groupID)
		if err != nil {
			return err
		}
		if dist.IsEmpty() && !dist.Closed {
			out = &CloseResult{}
			return nil
		}
		res, err := s.closing.CloseProduction(dist, s.Now())
		if err != nil {
			return err
		}
		dist.AssignIDs()

		commit := Commit{
			Distributions: []*Distribution{dist},
			Versions:      map[GroupID]int64{groupID: version},
			Audit: []AuditEntry{s.auditEntry(actor, AuditClose, orderID, groupID, map[string]any{
				"residual_shortfall": res.ResidualShortfallApplied,
				"final_day":          res.FinalDayDate.String(),
			})},
		}
		if err := s.store.Save(ctx, commit); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("production closed",
		slog.String("op", op),
		slog.String("order_id", string(orderID)),
		slog.String("group_id", string(groupID)),
		slog.Int("residual_shortfall", out.ResidualShortfallApplied),
	)
	return out, nil
}

// =============================================================================
// RELOCATE (remanejar saldo)
// =============================================================================

type RelocateCommand struct {
	OrderID       OrderID
	GroupID       GroupID
	DayDate       calendar.Date
	TargetGroupID GroupID
	TargetDate    calendar.Date
	AllowOvertime bool
	ExtraHours    int
	Actor         string
}

type RelocateOutcome struct {
	Relocated int
	Result    *AllocationResult
	Origin    *Distribution
	Target    *Distribution
}

// Relocate re-plans a day's outstanding shortfall on a target group.
func (s *Service) Relocate(ctx context.Context, cmd RelocateCommand) (*RelocateOutcome, error) {
	const op = "planning.Service.Relocate"

	if !cmd.TargetDate.After(cmd.DayDate) {
		return nil, invalid("targetDate", "must be after %s", cmd.DayDate)
	}
	if cmd.TargetGroupID == "" {
		cmd.TargetGroupID = cmd.GroupID
	}
	extra := cmd.ExtraHours
	if cmd.AllowOvertime && extra == 0 {
		extra = DefaultRelocationExtraHours
	}
	if !cmd.AllowOvertime {
		extra = 0
	}

	var (
		out      *RelocateOutcome
		triggers []ApprovalTrigger
	)
	err := s.withRetry(ctx, op, cmd.TargetGroupID, func() error {
		versions := make(map[GroupID]int64, 2)
		for _, g := range []GroupID{cmd.GroupID, cmd.TargetGroupID} {
			v, err := s.store.GroupVersion(ctx, g)
			if err != nil {
				return err
			}
			versions[g] = v
		}

		origin, err := s.loadDistribution(ctx, cmd.OrderID, cmd.GroupID)
		if err != nil {
			return err
		}
		shortfall, err := RelocatableShortfall(origin, cmd.DayDate)
		if err != nil {
			return err
		}

		st, err := s.load(ctx, cmd.OrderID, cmd.TargetGroupID, &dateRange{
			from: cmd.TargetDate,
			to:   cmd.TargetDate.AddDays(s.allocator.LookaheadDays),
		})
		if err != nil {
			return err
		}
		target := st.dist
		if cmd.TargetGroupID == cmd.GroupID {
			target = origin
		}
		if target.Closed {
			return ErrDistributionClosed
		}

		res, err := s.allocator.Distribute(AllocationRequest{
			Order:            *st.order,
			Model:            *st.model,
			Group:            *st.group,
			StartDate:        cmd.TargetDate,
			Quantity:         shortfall,
			ExtraHours:       extra,
			AlreadyAllocated: st.allocated - shortfall,
			Existing:         target,
			Commitments:      st.commitments,
		})
		if err != nil {
			return err
		}

		SettleRelocation(origin, cmd.DayDate, shortfall)
		target.Apply(res.Placements)
		triggers = s.flagApprovals(target, flaggedDates(res.Placements), false, cmd.Actor)
		origin.AssignIDs()
		target.AssignIDs()

		dists := []*Distribution{origin}
		if target != origin {
			dists = append(dists, target)
		}
		commit := Commit{
			Distributions: dists,
			Versions:      versions,
			Audit: []AuditEntry{s.auditEntry(cmd.Actor, AuditRelocate, cmd.OrderID, cmd.GroupID, map[string]any{
				"day":          cmd.DayDate.String(),
				"target_group": string(cmd.TargetGroupID),
				"target_date":  cmd.TargetDate.String(),
				"quantity":     shortfall,
				"extra_hours":  extra,
			})},
		}
		if err := s.store.Save(ctx, commit); err != nil {
			return err
		}
		out = &RelocateOutcome{Relocated: shortfall, Result: res, Origin: origin, Target: target}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, triggers)
	return out, nil
}

// =============================================================================
// APPROVAL OUTCOME
// =============================================================================

// ApplyApprovalOutcome records an approval decision on a day. A rejection
// removes the day's flagged slots that have no recorded output.
func (s *Service) ApplyApprovalOutcome(ctx context.Context, orderID OrderID, groupID GroupID, date calendar.Date, approved bool, actor string) error {
	const op = "planning.Service.ApplyApprovalOutcome"

	return s.withRetry(ctx, op, groupID, func() error {
		version, err := s.store.GroupVersion(ctx, groupID)
		if err != nil {
			return err
		}
		dist, err := s.loadDistribution(ctx, orderID, groupID)
		if err != nil {
			return err
		}
		if dist.Closed {
			s.log.Info("approval outcome on closed distribution ignored",
				slog.String("op", op), slog.String("order_id", string(orderID)))
			return nil
		}
		day := dist.Day(date)
		if day == nil {
			return ErrDayNotFound
		}

		removed := 0
		if approved {
			day.Approval = ApprovalApproved
		} else {
			day.Approval = ApprovalRejected
			kept := day.Slots[:0]
			for _, sl := range day.Slots {
				if sl.NeedsApproval && !sl.Recorded && sl.Actual == 0 {
					removed += sl.Planned
					continue
				}
				kept = append(kept, sl)
			}
			day.Slots = kept
			day.Recalculate()
			dist.prune()
		}

		commit := Commit{
			Distributions: []*Distribution{dist},
			Versions:      map[GroupID]int64{groupID: version},
			Audit: []AuditEntry{s.auditEntry(actor, AuditApprovalResult, orderID, groupID, map[string]any{
				"day":              date.String(),
				"approved":         approved,
				"removed_quantity": removed,
			})},
		}
		return s.store.Save(ctx, commit)
	})
}

// =============================================================================
// READ MODELS
// =============================================================================

// DistributionView is a read of one order/group distribution.
type DistributionView struct {
	Order        ProductionOrder
	Model        PieceModel
	Group        ProductionGroup
	GroupPlanned int
	Distribution *Distribution
}

// View loads the distribution, limited to [from, from+days) when from is set.
func (s *Service) View(ctx context.Context, orderID OrderID, groupID GroupID, from calendar.Date, days int) (*DistributionView, error) {
	st, err := s.load(ctx, orderID, groupID, nil)
	if err != nil {
		return nil, err
	}
	groupPlanned, err := s.store.GroupPlanned(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group load %s: %w", groupID, err)
	}

	dist := st.dist
	if !from.IsZero() && days > 0 {
		to := from.AddDays(days - 1)
		filtered := *dist
		filtered.Days = nil
		for _, d := range dist.Days {
			if !d.Date.Before(from) && !d.Date.After(to) {
				filtered.Days = append(filtered.Days, d)
			}
		}
		dist = &filtered
	}
	return &DistributionView{
		Order:        *st.order,
		Model:        *st.model,
		Group:        *st.group,
		GroupPlanned: groupPlanned,
		Distribution: dist,
	}, nil
}

// OrderQuantities summarizes an order across all groups.
type OrderQuantities struct {
	OrderID    OrderID
	Total      int
	Allocated  int
	Produced   int
	Remaining  int
	HourlyRate int
}

func (s *Service) Quantities(ctx context.Context, orderID OrderID) (*OrderQuantities, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	model, err := s.store.GetModel(ctx, order.ModelID)
	if err != nil {
		return nil, err
	}
	allocated, produced, err := s.store.OrderTotals(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderQuantities{
		OrderID:    orderID,
		Total:      order.TotalQuantity,
		Allocated:  allocated,
		Produced:   produced,
		Remaining:  max(order.TotalQuantity-allocated, 0),
		HourlyRate: model.HourlyRate,
	}, nil
}

// DayAvailability is the slot occupancy of a group on one day.
type DayAvailability struct {
	Date        calendar.Date
	TotalSlots  int
	Occupied    int
	Free        int
	Utilization decimal.Decimal
}

// Availability reports window-slot occupancy of a group for n days.
func (s *Service) Availability(ctx context.Context, groupID GroupID, from calendar.Date, n int) ([]DayAvailability, error) {
	if n <= 0 || n > s.allocator.LookaheadDays {
		return nil, invalid("days", "must be in [1, %d]", s.allocator.LookaheadDays)
	}
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	commitments, err := s.store.LoadCommitments(ctx, groupID, from, from.AddDays(n-1), "")
	if err != nil {
		return nil, err
	}
	occupied := newOccupancy(commitments)

	out := make([]DayAvailability, 0, n)
	for _, date := range calendar.Days(from, n) {
		window := calendar.WindowSlots(date)
		av := DayAvailability{Date: date, TotalSlots: len(window), Utilization: decimal.Zero}
		for _, span := range window {
			if occupied.blocks(date, span) {
				av.Occupied++
			}
		}
		av.Free = av.TotalSlots - av.Occupied
		if av.TotalSlots > 0 {
			av.Utilization = decimal.NewFromInt(int64(av.Occupied * 100)).
				Div(decimal.NewFromInt(int64(av.TotalSlots))).Round(2)
		}
		out = append(out, av)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type dateRange struct {
	from, to calendar.Date
}

type loaded struct {
	order       *ProductionOrder
	model       *PieceModel
	group       *ProductionGroup
	dist        *Distribution
	commitments []Commitment
	allocated   int
}

// load reads everything an operation needs concurrently. Commitments are
// only loaded when window is set.
func (s *Service) load(ctx context.Context, orderID OrderID, groupID GroupID, window *dateRange) (*loaded, error) {
	st := &loaded{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		order, err := s.store.GetOrder(gctx, orderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderID, err)
		}
		model, err := s.store.GetModel(gctx, order.ModelID)
		if err != nil {
			return fmt.Errorf("load model %s: %w", order.ModelID, err)
		}
		st.order, st.model = order, model
		return nil
	})
	g.Go(func() error {
		group, err := s.store.GetGroup(gctx, groupID)
		if err != nil {
			return fmt.Errorf("load group %s: %w", groupID, err)
		}
		st.group = group
		return nil
	})
	g.Go(func() error {
		dist, err := s.store.LoadDistribution(gctx, orderID, groupID)
		if err != nil {
			return fmt.Errorf("load distribution %s/%s: %w", orderID, groupID, err)
		}
		st.dist = dist
		return nil
	})
	g.Go(func() error {
		allocated, _, err := s.store.OrderTotals(gctx, orderID)
		if err != nil {
			return fmt.Errorf("load order totals %s: %w", orderID, err)
		}
		st.allocated = allocated
		return nil
	})
	if window != nil {
		g.Go(func() error {
			c, err := s.store.LoadCommitments(gctx, groupID, window.from, window.to, orderID)
			if err != nil {
				return fmt.Errorf("load commitments %s: %w", groupID, err)
			}
			st.commitments = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	st.dist.Recalculate()
	return st, nil
}

func (s *Service) loadDistribution(ctx context.Context, orderID OrderID, groupID GroupID) (*Distribution, error) {
	dist, err := s.store.LoadDistribution(ctx, orderID, groupID)
	if err != nil {
		return nil, fmt.Errorf("load distribution %s/%s: %w", orderID, groupID, err)
	}
	dist.Recalculate()
	return dist, nil
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent.
func (s *Service) withRetry(ctx context.Context, op string, groupID GroupID, fn func() error) error {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		s.log.Debug("optimistic conflict, retrying",
			slog.String("op", op),
			slog.String("group_id", string(groupID)),
			slog.Int("attempt", attempt),
		)
	}
	return &ConcurrentAllocationConflict{GroupID: groupID, Attempts: s.attempts}
}

// flagApprovals marks the given days pending approval when they need it and
// are not already pending, returning one trigger per newly flagged day.
func (s *Service) flagApprovals(dist *Distribution, dates []calendar.Date, checkHours bool, actor string) []ApprovalTrigger {
	var triggers []ApprovalTrigger
	for _, date := range dates {
		day := dist.Day(date)
		if day == nil || day.Approval == ApprovalPending {
			continue
		}
		reason, ok := ApprovalNeeded(day, checkHours)
		if !ok {
			continue
		}
		day.Approval = ApprovalPending
		triggers = append(triggers, ApprovalTrigger{
			OrderID:       dist.OrderID,
			GroupID:       dist.GroupID,
			Date:          date,
			Reason:        reason,
			WorkedMinutes: day.WorkedMinutes(),
			RequestedBy:   actor,
		})
	}
	return triggers
}

func (s *Service) notify(ctx context.Context, triggers []ApprovalTrigger) {
	for _, t := range triggers {
		s.notifier.RequestApproval(ctx, t)
	}
}

func (s *Service) auditEntry(actor string, action AuditAction, orderID OrderID, groupID GroupID, payload map[string]any) AuditEntry {
	return AuditEntry{
		ID:      uuid.NewString(),
		At:      s.Now().UTC(),
		Actor:   actor,
		Action:  action,
		OrderID: orderID,
		GroupID: groupID,
		Payload: payload,
	}
}

// flaggedDates returns the distinct dates of placements needing approval.
func flaggedDates(placements []Placement) []calendar.Date {
	var dates []calendar.Date
	seen := make(map[string]bool)
	for _, p := range placements {
		if !p.NeedsApproval || seen[p.Date.String()] {
			continue
		}
		seen[p.Date.String()] = true
		dates = append(dates, p.Date)
	}
	return dates
}
