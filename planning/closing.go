/*
closing.go - Production closure (fechar produção) and cancellation

PURPOSE:
  ClosingSettlement turns every outstanding shortfall of days that produced
  something into one catch-all slot on the last day, then concludes every
  slot. A closed distribution is terminal: the Service rejects any further
  mutation with ErrDistributionClosed.

CLOSURE STEPS:
  1. residual = Σ |outstanding| over days with actual > 0 and outstanding < 0;
     each of those days is settled (outstanding driven to zero)
  2. days with actual == 0 are skipped even with a negative balance
  3. residual > 0: append a catch-all slot (calendar.ClosingSpan) to the
     last day with planned = residual, then recompute that day
  4. every slot becomes Concluded

  Σ planned after closure = Σ planned before + residual.

  Closing an empty distribution is a successful no-op.

CANCELLATION:
  CancelDistribution removes every slot without actual output. Slots with
  output survive and are listed in a PartialCancellationWarning.

SEE ALSO:
  - balance.go: Outstanding and Carried
*/
package planning

import (
	"time"

	"github.com/warp/pcp-engine/calendar"
)

// CloseResult reports the settlement.
type CloseResult struct {
	ResidualShortfallApplied int
	FinalDayDate             *calendar.Date
	SettledDays              []calendar.Date
}

// ClosingSettlement finalizes distributions.
type ClosingSettlement struct{}

// CloseProduction settles and concludes dist in place.
func (ClosingSettlement) CloseProduction(dist *Distribution, at time.Time) (*CloseResult, error) {
	if dist.Closed {
		return nil, ErrDistributionClosed
	}
	result := &CloseResult{}
	if dist.IsEmpty() {
		return result, nil
	}

	dist.Recalculate()

	residual := 0
	for i := range dist.Days {
		day := &dist.Days[i]
		if day.TotalActual == 0 {
			continue
		}
		if out := day.Outstanding(); out < 0 {
			residual += -out
			day.Carried += out
			result.SettledDays = append(result.SettledDays, day.Date)
		}
	}

	last := dist.LastDay()
	if residual > 0 {
		last.Slots = append(last.Slots, Slot{
			Span:     calendar.ClosingSpan(),
			Planned:  residual,
			Status:   SlotPlanned,
			CatchAll: true,
		})
		last.sortSlots()
		last.Recalculate()
	}

	for i := range dist.Days {
		for j := range dist.Days[i].Slots {
			dist.Days[i].Slots[j].Status = SlotConcluded
		}
	}

	closedAt := at
	dist.Closed = true
	dist.ClosedAt = &closedAt

	finalDate := last.Date
	result.ResidualShortfallApplied = residual
	result.FinalDayDate = &finalDate
	return result, nil
}

// CancelResult reports what cancellation removed.
type CancelResult struct {
	RemovedSlots    int
	RemovedQuantity int
	Warning         *PartialCancellationWarning
}

// CancelDistribution removes all slots without actual output.
func CancelDistribution(dist *Distribution) (*CancelResult, error) {
	if dist.Closed {
		return nil, ErrDistributionClosed
	}
	result := &CancelResult{}
	var survivors []SurvivingSlot

	for i := range dist.Days {
		day := &dist.Days[i]
		kept := day.Slots[:0]
		for _, s := range day.Slots {
			if s.Actual == 0 {
				result.RemovedSlots++
				result.RemovedQuantity += s.Planned
				continue
			}
			survivors = append(survivors, SurvivingSlot{
				Date: day.Date, Span: s.Span, SlotID: s.ID, Actual: s.Actual,
			})
			kept = append(kept, s)
		}
		day.Slots = kept
		day.Recalculate()
	}
	dist.prune()

	if len(survivors) > 0 {
		result.Warning = &PartialCancellationWarning{Survivors: survivors}
	}
	return result, nil
}
