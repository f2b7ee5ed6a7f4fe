package planning

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/pcp-engine/calendar"
)

// TriggerReason says why a day needs overtime approval.
type TriggerReason string

const (
	ReasonOutsideWindow TriggerReason = "outside_window"
	ReasonOvertime      TriggerReason = "overtime"
	ReasonSunday        TriggerReason = "sunday"
)

// ApprovalNeeded reports whether day requires overtime approval. Worked
// hours are only checked when checkHours is set (manually scheduled days).
func ApprovalNeeded(day *Day, checkHours bool) (TriggerReason, bool) {
	if len(day.Slots) == 0 {
		return "", false
	}
	if day.Date.IsSunday() {
		return ReasonSunday, true
	}
	if day.NeedsApproval() {
		return ReasonOutsideWindow, true
	}
	if checkHours && day.WorkedMinutes() > calendar.OvertimeLimit(day.Date) {
		return ReasonOvertime, true
	}
	return "", false
}

// BacklogReason rebuilds the trigger reason of a day already marked pending:
// a flagged slot or a Sunday explains it, otherwise it was the hour limit.
func BacklogReason(date calendar.Date, flagged bool) TriggerReason {
	switch {
	case date.IsSunday():
		return ReasonSunday
	case flagged:
		return ReasonOutsideWindow
	default:
		return ReasonOvertime
	}
}

// SlotCapacity is hourlyRate × span duration in hours, rounded down.
func SlotCapacity(hourlyRate int, span calendar.Span) int {
	minutes := decimal.NewFromInt(int64(span.Minutes()))
	return int(decimal.NewFromInt(int64(hourlyRate)).Mul(minutes).Div(decimal.NewFromInt(60)).Floor().IntPart())
}

func overlaps(a, b calendar.Span) bool {
	return a.Start <= b.End && b.Start <= a.End
}

// =============================================================================
// SCHEDULE DAY - explicit span selection for one day
// =============================================================================

// ScheduleResult is the outcome of ScheduleDay.
type ScheduleResult struct {
	Placements    []Placement
	WorkedMinutes int
	Reason        TriggerReason
	NeedsApproval bool
}

// ScheduleDay plans the given spans on date. Each new span receives up to
// its capacity, bounded by the order quantity still unallocated. Spans
// outside the window are flagged. Existing spans are left as they are; a
// span that only partly overlaps one of them is rejected.
func ScheduleDay(dist *Distribution, commitments []Commitment, date calendar.Date, spans []calendar.Span, hourlyRate, unallocated int) (*ScheduleResult, error) {
	if dist.Closed {
		return nil, ErrDistributionClosed
	}
	if len(spans) == 0 {
		return nil, invalid("spans", "at least one span is required")
	}
	for i, s := range spans {
		for _, other := range spans[i+1:] {
			if overlaps(s, other) {
				return nil, invalid("spans", "%s overlaps %s", s, other)
			}
		}
		for _, c := range commitments {
			if c.Occupies() && c.Date.Equal(date) && overlaps(s, c.Span) {
				return nil, invalid("spans", "%s is held by order %s", s, c.OrderID)
			}
		}
	}

	existing := dist.Day(date)
	if existing != nil {
		for _, span := range spans {
			for _, own := range existing.Slots {
				if own.Span != span && overlaps(own.Span, span) {
					return nil, invalid("spans", "%s overlaps planned slot %s", span, own.Span)
				}
			}
		}
	}

	result := &ScheduleResult{}
	left := unallocated
	for _, span := range spans {
		if existing != nil && existing.FindSlot(span) != nil {
			continue
		}
		if left <= 0 {
			return nil, invalid("spans", "order has no unallocated quantity left for %s", span)
		}
		qty := min(SlotCapacity(hourlyRate, span), left)
		result.Placements = append(result.Placements, Placement{
			Date:          date,
			Span:          span,
			Planned:       qty,
			NeedsApproval: !calendar.IsWithinWindow(date, span),
		})
		left -= qty
	}

	dist.Apply(result.Placements)
	day := dist.Day(date)
	if day == nil {
		return nil, fmt.Errorf("schedule %s: %w", date, ErrDayNotFound)
	}
	result.WorkedMinutes = day.WorkedMinutes()
	result.Reason, result.NeedsApproval = ApprovalNeeded(day, true)
	return result, nil
}

// =============================================================================
// RELOCATION (remanejamento) - move a day's shortfall elsewhere
// =============================================================================

// RelocatableShortfall returns the outstanding shortfall of the day at date,
// or a ValidationError when the day cannot be relocated.
func RelocatableShortfall(dist *Distribution, date calendar.Date) (int, error) {
	if dist.Closed {
		return 0, ErrDistributionClosed
	}
	day := dist.Day(date)
	if day == nil {
		return 0, ErrDayNotFound
	}
	day.Recalculate()
	switch {
	case day.Relocated:
		return 0, invalid("dayDate", "%s was already relocated", date)
	case day.TotalActual == 0:
		return 0, invalid("dayDate", "%s has no recorded output", date)
	case day.Outstanding() >= 0:
		return 0, invalid("dayDate", "%s has no outstanding shortfall", date)
	}
	return -day.Outstanding(), nil
}

// SettleRelocation marks amount of the day's shortfall as handed on.
func SettleRelocation(dist *Distribution, date calendar.Date, amount int) {
	day := dist.Day(date)
	day.Carried -= amount
	day.Relocated = true
}
