/*
balance.go - Balance (saldo) reconciliation between days

PURPOSE:
  Keeps day totals consistent with slot actuals and hands each day's
  outstanding balance on to later days.

PROPAGATION RULES:
  Days are processed strictly in date order and never revisited.

  Origin days:  days with recorded output and not concluded
  Target days:  later days with no recorded output

  Shortfall (outstanding < 0):
      add to target slots, each up to (planned - actual), earliest first
  Overage (outstanding > 0):
      remove from target slots, each down to its actual, earliest first

  Whatever was moved is recorded in the origin's Carried, which drives its
  Outstanding to zero. Whatever could not be moved stays outstanding on the
  origin and is reported in PropagationResult.Unresolved.

EXAMPLE:
  day 1: planned 50, actual 30        -> outstanding -20
  day 2: three slots planned 10 each  -> become 20, 20, 10
  day 1: carried -20                  -> outstanding 0

SEE ALSO:
  - types.go: Day.Recalculate, Day.Outstanding
  - closing.go: absorbs what is still outstanding at the end
*/
package planning

import (
	"github.com/warp/pcp-engine/calendar"
)

// SlotUpdate records an actual reading for one slot. Loss is optional.
type SlotUpdate struct {
	SlotID SlotID
	Actual int
	Loss   *int
}

// PropagationResult lists the days a propagation touched and what it left.
type PropagationResult struct {
	Changed    []calendar.Date
	Unresolved []UnresolvedBalance
}

// Err returns an *UnresolvedBalanceError when something was left over.
func (r *PropagationResult) Err() error {
	if r == nil || len(r.Unresolved) == 0 {
		return nil
	}
	return &UnresolvedBalanceError{Balances: r.Unresolved}
}

func (r *PropagationResult) markChanged(date calendar.Date) {
	for _, d := range r.Changed {
		if d.Equal(date) {
			return
		}
	}
	r.Changed = append(r.Changed, date)
}

// BalanceReconciler applies actual readings and propagates balances.
// It holds no state.
type BalanceReconciler struct{}

// RecalculateDayTotals recomputes planned, actual and balance for a day.
func (BalanceReconciler) RecalculateDayTotals(day *Day) {
	day.Recalculate()
}

// RecordActuals applies slot readings to the day at date.
func (r BalanceReconciler) RecordActuals(dist *Distribution, date calendar.Date, updates []SlotUpdate) (*Day, error) {
	if dist.Closed {
		return nil, ErrDistributionClosed
	}
	day := dist.Day(date)
	if day == nil {
		return nil, ErrDayNotFound
	}
	for _, u := range updates {
		if u.Actual < 0 {
			return nil, invalid("actual", "must not be negative, got %d", u.Actual)
		}
		if u.Loss != nil && *u.Loss < 0 {
			return nil, invalid("loss", "must not be negative, got %d", *u.Loss)
		}
		if day.SlotByID(u.SlotID) == nil {
			return nil, ErrSlotNotFound
		}
	}
	for _, u := range updates {
		slot := day.SlotByID(u.SlotID)
		slot.Actual = u.Actual
		if u.Loss != nil {
			slot.Loss = *u.Loss
		}
		markRecorded(slot)
	}
	r.RecalculateDayTotals(day)
	return day, nil
}

// ReplicateQuantityAcrossDay sets every slot's actual on the day to qty,
// recalculates it and, when propagate is set, runs balance propagation.
func (r BalanceReconciler) ReplicateQuantityAcrossDay(dist *Distribution, date calendar.Date, qty int, propagate bool) (*PropagationResult, error) {
	if dist.Closed {
		return nil, ErrDistributionClosed
	}
	if qty < 0 {
		return nil, invalid("quantity", "must not be negative, got %d", qty)
	}
	day := dist.Day(date)
	if day == nil {
		return nil, ErrDayNotFound
	}
	for i := range day.Slots {
		day.Slots[i].Actual = qty
		markRecorded(&day.Slots[i])
	}
	r.RecalculateDayTotals(day)

	result := &PropagationResult{Changed: []calendar.Date{day.Date}}
	if propagate {
		prop := r.ApplyBalancePropagation(dist.Days)
		for _, d := range prop.Changed {
			result.markChanged(d)
		}
		result.Unresolved = prop.Unresolved
	}
	return result, nil
}

// ApplyBalancePropagation hands each origin day's outstanding balance on to
// later days. days must be in date order.
func (r BalanceReconciler) ApplyBalancePropagation(days []Day) *PropagationResult {
	result := &PropagationResult{}

	for i := range days {
		origin := &days[i]
		r.RecalculateDayTotals(origin)
		if !origin.HasRecordedOutput() || origin.IsConcluded() {
			continue
		}
		outstanding := origin.Outstanding()
		if outstanding == 0 {
			continue
		}

		var moved int
		if outstanding < 0 {
			moved = r.absorbShortfall(days[i+1:], -outstanding, result)
			origin.Carried -= moved
		} else {
			moved = r.reduceOverage(days[i+1:], outstanding, result)
			origin.Carried += moved
		}
		if moved > 0 {
			result.markChanged(origin.Date)
		}

		if left := origin.Outstanding(); left != 0 {
			result.Unresolved = append(result.Unresolved, UnresolvedBalance{Date: origin.Date, Amount: left})
		}
	}
	return result
}

// absorbShortfall raises target slots' planned and returns how much it placed.
func (r BalanceReconciler) absorbShortfall(targets []Day, need int, result *PropagationResult) int {
	placed := 0
	for j := range targets {
		if need == placed {
			break
		}
		day := &targets[j]
		if day.HasRecordedOutput() {
			continue
		}
		changed := false
		for k := range day.Slots {
			slot := &day.Slots[k]
			if slot.Status == SlotConcluded {
				continue
			}
			add := min(need-placed, slot.Headroom())
			if add <= 0 {
				continue
			}
			slot.Planned += add
			placed += add
			changed = true
			if placed == need {
				break
			}
		}
		if changed {
			r.RecalculateDayTotals(day)
			result.markChanged(day.Date)
		}
	}
	return placed
}

// reduceOverage lowers target slots' planned and returns how much it removed.
func (r BalanceReconciler) reduceOverage(targets []Day, excess int, result *PropagationResult) int {
	removed := 0
	for j := range targets {
		if removed == excess {
			break
		}
		day := &targets[j]
		if day.HasRecordedOutput() {
			continue
		}
		changed := false
		for k := range day.Slots {
			slot := &day.Slots[k]
			if slot.Status == SlotConcluded {
				continue
			}
			cut := min(excess-removed, slot.Headroom())
			if cut <= 0 {
				continue
			}
			slot.Planned -= cut
			removed += cut
			changed = true
			if removed == excess {
				break
			}
		}
		if changed {
			r.RecalculateDayTotals(day)
			result.markChanged(day.Date)
		}
	}
	return removed
}

func markRecorded(slot *Slot) {
	slot.Recorded = true
	if slot.Status != SlotConcluded {
		slot.Status = SlotInProgress
	}
}
