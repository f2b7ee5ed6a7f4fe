/*
allocator.go - Greedy slot allocation across the calendar grid

PURPOSE:
  Lays down the initial plan for an order on a group: walks days from the
  start date and, per day, the standard slot grid, filling each free slot up
  to the model's hourly rate until the requested quantity is placed.

ALGORITHM:
  for each day in [start, start+lookahead):
      skip days without a working window (Sunday)
      for each window slot in time order:
          skip slots held by another order on this group
          place min(remaining, rate - alreadyPlannedHere, dayCap - usedToday)
      while extra-hour budget remains:
          use the day's out-of-window slots, flagged NeedsApproval

  dayCap = floor(windowSlots × rate × maxGroupPercent / 100)

  Extra-hour slots do not count against dayCap. A rate of 0 places nothing
  and ends in InsufficientCapacityError.

OUTPUT:
  Placements only. Persisting them (upsert on date+span) is the caller's job
  via Distribution.Apply.

SEE ALSO:
  - calendar/calendar.go: WindowSlots, ExtraSlots
  - service.go: loads commitments and retries on conflicts
*/
package planning

import (
	"github.com/shopspring/decimal"

	"github.com/warp/pcp-engine/calendar"
)

// DefaultLookaheadDays bounds how far ahead the allocator searches.
const DefaultLookaheadDays = 60

var hundred = decimal.NewFromInt(100)

// Placement is one slot produced by the allocator.
type Placement struct {
	Date          calendar.Date
	Span          calendar.Span
	Planned       int
	NeedsApproval bool
}

// AllocationRequest carries everything the allocator reads.
type AllocationRequest struct {
	Order ProductionOrder
	Model PieceModel
	Group ProductionGroup

	StartDate       calendar.Date
	Quantity        int
	ExtraHours      int
	MaxGroupPercent decimal.Decimal // zero means 100

	// AlreadyAllocated is the order's planned total across all groups.
	AlreadyAllocated int
	// Existing is this order's current distribution on the group, if any.
	Existing *Distribution
	// Commitments are slots held on the group by other orders.
	Commitments []Commitment
}

// AllocationResult is the outcome of a successful distribute.
type AllocationResult struct {
	Placements       []Placement
	DaysUsed         int
	TotalDistributed int
	ExtraHoursUsed   int
	ExceedsDeadline  bool
}

// Allocator places quantities on the calendar grid.
type Allocator struct {
	LookaheadDays int
}

func NewAllocator(lookaheadDays int) *Allocator {
	if lookaheadDays <= 0 {
		lookaheadDays = DefaultLookaheadDays
	}
	return &Allocator{LookaheadDays: lookaheadDays}
}

// Validate checks a request before any computation.
func (a *Allocator) Validate(req AllocationRequest) error {
	if req.Quantity <= 0 {
		return invalid("quantity", "must be greater than zero, got %d", req.Quantity)
	}
	remaining := req.Order.TotalQuantity - req.AlreadyAllocated
	if req.Quantity > remaining {
		return invalid("quantity", "%d exceeds remaining order quantity %d", req.Quantity, remaining)
	}
	if req.ExtraHours < 0 {
		return invalid("extraHours", "must not be negative")
	}
	pct := req.MaxGroupPercent
	if !pct.IsZero() && (pct.IsNegative() || pct.GreaterThan(hundred)) {
		return invalid("maxGroupPercent", "must be in (0, 100], got %s", pct)
	}
	if req.StartDate.IsZero() {
		return invalid("startDate", "is required")
	}
	if req.Model.HourlyRate < 0 {
		return invalid("hourlyRate", "must not be negative")
	}
	if !req.Order.Active {
		return invalid("orderId", "order %s is not active", req.Order.ID)
	}
	if !req.Group.Active {
		return invalid("groupId", "group %s is not active", req.Group.ID)
	}
	return nil
}

// Distribute computes placements for req. On InsufficientCapacityError the
// partial result is attached to the error and nothing should be persisted.
func (a *Allocator) Distribute(req AllocationRequest) (*AllocationResult, error) {
	if err := a.Validate(req); err != nil {
		return nil, err
	}

	occupied := newOccupancy(req.Commitments)
	rate := req.Model.HourlyRate
	pct := req.MaxGroupPercent
	if pct.IsZero() {
		pct = hundred
	}

	remaining := req.Quantity
	budget := req.ExtraHours
	result := &AllocationResult{}
	daysUsed := make(map[string]bool)

	place := func(date calendar.Date, span calendar.Span, qty int, extra bool) {
		result.Placements = append(result.Placements, Placement{
			Date: date, Span: span, Planned: qty, NeedsApproval: extra,
		})
		result.TotalDistributed += qty
		daysUsed[date.String()] = true
		remaining -= qty
	}

	for i := 0; i < a.LookaheadDays && remaining > 0; i++ {
		date := req.StartDate.AddDays(i)
		window := calendar.WindowSlots(date)
		if len(window) == 0 {
			continue
		}

		dayCap := dailyCap(len(window), rate, pct)
		used := ownPlanned(req.Existing, date, window)

		for _, span := range window {
			if remaining == 0 || used >= dayCap {
				break
			}
			if occupied.blocks(date, span) {
				continue
			}
			free := rate - ownSlotPlanned(req.Existing, date, span)
			if free <= 0 {
				continue
			}
			qty := min(remaining, free, dayCap-used)
			place(date, span, qty, false)
			used += qty
		}

		for _, span := range calendar.ExtraSlots(date) {
			if remaining == 0 || budget == 0 {
				break
			}
			if occupied.blocks(date, span) {
				continue
			}
			held := ownSlotPlanned(req.Existing, date, span)
			free := rate - held
			if free <= 0 {
				continue
			}
			place(date, span, min(remaining, free), true)
			if held == 0 {
				budget--
				result.ExtraHoursUsed++
			}
		}
	}

	result.DaysUsed = len(daysUsed)
	if d := req.Order.Deadline; d != nil && len(result.Placements) > 0 {
		last := result.Placements[len(result.Placements)-1].Date
		result.ExceedsDeadline = last.After(*d)
	}

	if remaining > 0 {
		return nil, &InsufficientCapacityError{
			Requested:     req.Quantity,
			Placed:        result.TotalDistributed,
			LookaheadDays: a.LookaheadDays,
			Partial:       result,
		}
	}
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// occupancy holds the spans other orders occupy, per date.
type occupancy map[string][]calendar.Span

func newOccupancy(commitments []Commitment) occupancy {
	occ := make(occupancy)
	for _, c := range commitments {
		if c.Occupies() {
			occ[c.Date.String()] = append(occ[c.Date.String()], c.Span)
		}
	}
	return occ
}

// blocks reports whether span overlaps any occupied span on date. A custom
// span such as 08:00-08:59 blocks both grid slots it touches.
func (o occupancy) blocks(date calendar.Date, span calendar.Span) bool {
	for _, held := range o[date.String()] {
		if overlaps(held, span) {
			return true
		}
	}
	return false
}

func dailyCap(windowSlots, rate int, pct decimal.Decimal) int {
	capacity := decimal.NewFromInt(int64(windowSlots * rate))
	return int(capacity.Mul(pct).Div(hundred).Floor().IntPart())
}

func ownSlotPlanned(existing *Distribution, date calendar.Date, span calendar.Span) int {
	if existing == nil {
		return 0
	}
	day := existing.Day(date)
	if day == nil {
		return 0
	}
	if s := day.FindSlot(span); s != nil {
		return s.Planned
	}
	return 0
}

func ownPlanned(existing *Distribution, date calendar.Date, window []calendar.Span) int {
	total := 0
	for _, span := range window {
		total += ownSlotPlanned(existing, date, span)
	}
	return total
}
