/*
types.go - Core types for the production planning engine

PURPOSE:
  Defines the data model shared by the Allocator, the BalanceReconciler and
  ClosingSettlement. The engine works on one in-memory Distribution per
  (order, group) pair; persistence happens at the Service boundary.

KEY CONCEPTS:
  ProductionOrder:  the job being produced (total quantity, model)
  PieceModel:       defines the hourly rate (meta por hora) that sizes slots
  ProductionGroup:  the work cell the order is scheduled on
  Distribution:     ordered days of slots for one order on one group
  Day:              one calendar date with derived totals
  Slot:             atomic allocation unit (span, planned, actual)

DERIVED VALUES:
  Day totals and the balance are always recomputed from the slots:

    TotalPlanned = Σ slot.Planned
    TotalActual  = Σ slot.Actual
    Balance      = TotalActual - TotalPlanned

  Carried is the signed part of the balance already handed on (by
  propagation, relocation or closure). Outstanding = Balance - Carried is
  what the reconciler acts on.

SEE ALSO:
  - allocator.go: lays down the initial plan
  - balance.go: keeps totals consistent and propagates balances
  - closing.go: terminal settlement
*/
package planning

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/warp/pcp-engine/calendar"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type GroupID string
type ModelID string
type SlotID string

// =============================================================================
// MASTER DATA - Read-only to the engine
// =============================================================================

// PieceModel defines the hourly production rate used to size slot capacity.
type PieceModel struct {
	ID         ModelID
	Code       string
	HourlyRate int
	CompanyID  string
}

// ProductionOrder is a manufacturing job.
type ProductionOrder struct {
	ID            OrderID
	Code          string
	ModelID       ModelID
	TotalQuantity int
	StartDate     calendar.Date
	Deadline      *calendar.Date
	Active        bool
}

// ProductionGroup is a work cell capable of producing units.
type ProductionGroup struct {
	ID          GroupID
	Description string
	Active      bool
}

// =============================================================================
// STATUSES
// =============================================================================

type SlotStatus string

const (
	SlotPlanned    SlotStatus = "planned"
	SlotInProgress SlotStatus = "in_progress"
	SlotConcluded  SlotStatus = "concluded"
)

type DayStatus string

const (
	DayPlanned         DayStatus = "planned"
	DayInProgress      DayStatus = "in_progress"
	DayConcluded       DayStatus = "concluded"
	DayPendingApproval DayStatus = "pending_approval"
)

// ApprovalState tracks the overtime approval of a day.
type ApprovalState string

const (
	ApprovalNone     ApprovalState = ""
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// =============================================================================
// SLOT
// =============================================================================

// Slot is one time range of a day. ID is empty until the slot is persisted.
type Slot struct {
	ID            SlotID
	Span          calendar.Span
	Planned       int
	Actual        int
	Loss          int
	Status        SlotStatus
	Recorded      bool // an actual reading was entered, even if zero
	NeedsApproval bool // outside the standard working window
	CatchAll      bool // created at closure
}

// Headroom is how much more a shortfall can add to this slot. It is not
// bounded by the hourly rate.
func (s Slot) Headroom() int {
	return max(s.Planned-s.Actual, 0)
}

// =============================================================================
// DAY
// =============================================================================

// Day is one calendar date of a distribution.
type Day struct {
	Date  calendar.Date
	Slots []Slot

	TotalPlanned int
	TotalActual  int
	Balance      int

	Carried   int
	Relocated bool
	Approval  ApprovalState
	Note      string
}

// Recalculate recomputes the derived totals from the slots.
func (d *Day) Recalculate() {
	d.TotalPlanned, d.TotalActual = 0, 0
	for _, s := range d.Slots {
		d.TotalPlanned += s.Planned
		d.TotalActual += s.Actual
	}
	d.Balance = d.TotalActual - d.TotalPlanned
}

// Outstanding is the part of the balance not yet handed on.
func (d *Day) Outstanding() int {
	return d.Balance - d.Carried
}

// HasRecordedOutput reports whether production was reported for the day.
func (d *Day) HasRecordedOutput() bool {
	if d.TotalActual > 0 {
		return true
	}
	for _, s := range d.Slots {
		if s.Recorded {
			return true
		}
	}
	return false
}

func (d *Day) IsConcluded() bool {
	if len(d.Slots) == 0 {
		return false
	}
	for _, s := range d.Slots {
		if s.Status != SlotConcluded {
			return false
		}
	}
	return true
}

// Status derives the day status. Precedence:
// concluded > pending approval > in progress > planned.
func (d *Day) Status() DayStatus {
	switch {
	case d.IsConcluded():
		return DayConcluded
	case d.Approval == ApprovalPending:
		return DayPendingApproval
	case d.HasRecordedOutput():
		return DayInProgress
	default:
		return DayPlanned
	}
}

// WorkedMinutes sums slot durations, excluding the closure catch-all.
func (d *Day) WorkedMinutes() int {
	total := 0
	for _, s := range d.Slots {
		if !s.CatchAll {
			total += s.Span.Minutes()
		}
	}
	return total
}

// NeedsApproval reports whether any slot of the day is flagged.
func (d *Day) NeedsApproval() bool {
	for _, s := range d.Slots {
		if s.NeedsApproval {
			return true
		}
	}
	return false
}

// FindSlot returns the slot with the given span.
func (d *Day) FindSlot(span calendar.Span) *Slot {
	for i := range d.Slots {
		if d.Slots[i].Span == span {
			return &d.Slots[i]
		}
	}
	return nil
}

// SlotByID returns the slot with the given id.
func (d *Day) SlotByID(id SlotID) *Slot {
	for i := range d.Slots {
		if d.Slots[i].ID == id {
			return &d.Slots[i]
		}
	}
	return nil
}

func (d *Day) sortSlots() {
	sort.SliceStable(d.Slots, func(i, j int) bool {
		return d.Slots[i].Span.Less(d.Slots[j].Span)
	})
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// Distribution is the plan of one order on one group, days in date order.
type Distribution struct {
	OrderID  OrderID
	GroupID  GroupID
	Days     []Day
	Closed   bool
	ClosedAt *time.Time
}

func NewDistribution(orderID OrderID, groupID GroupID) *Distribution {
	return &Distribution{OrderID: orderID, GroupID: groupID}
}

func (d *Distribution) IsEmpty() bool {
	return len(d.Days) == 0
}

// Day returns the day for date, or nil.
func (d *Distribution) Day(date calendar.Date) *Day {
	for i := range d.Days {
		if d.Days[i].Date.Equal(date) {
			return &d.Days[i]
		}
	}
	return nil
}

// ensureDay returns the day for date, inserting it in date order if missing.
func (d *Distribution) ensureDay(date calendar.Date) *Day {
	i := sort.Search(len(d.Days), func(i int) bool {
		return !d.Days[i].Date.Before(date)
	})
	if i < len(d.Days) && d.Days[i].Date.Equal(date) {
		return &d.Days[i]
	}
	d.Days = append(d.Days, Day{})
	copy(d.Days[i+1:], d.Days[i:])
	d.Days[i] = Day{Date: date}
	return &d.Days[i]
}

// LastDay returns the latest day, or nil for an empty distribution.
func (d *Distribution) LastDay() *Day {
	if len(d.Days) == 0 {
		return nil
	}
	return &d.Days[len(d.Days)-1]
}

// FindSlot locates a slot by id across all days.
func (d *Distribution) FindSlot(id SlotID) (*Day, *Slot) {
	for i := range d.Days {
		if s := d.Days[i].SlotByID(id); s != nil {
			return &d.Days[i], s
		}
	}
	return nil, nil
}

// Apply merges placements into the distribution. A placement on an existing
// (date, span) updates that slot instead of creating a duplicate.
func (d *Distribution) Apply(placements []Placement) {
	touched := make(map[string]calendar.Date)
	for _, p := range placements {
		day := d.ensureDay(p.Date)
		if slot := day.FindSlot(p.Span); slot != nil {
			slot.Planned += p.Planned
			slot.NeedsApproval = slot.NeedsApproval || p.NeedsApproval
		} else {
			day.Slots = append(day.Slots, Slot{
				Span:          p.Span,
				Planned:       p.Planned,
				Status:        SlotPlanned,
				NeedsApproval: p.NeedsApproval,
			})
		}
		touched[p.Date.String()] = p.Date
	}
	// ensureDay may have moved days; re-resolve before sorting.
	for _, date := range touched {
		day := d.Day(date)
		day.sortSlots()
		day.Recalculate()
	}
}

// Recalculate recomputes every day's totals.
func (d *Distribution) Recalculate() {
	for i := range d.Days {
		d.Days[i].Recalculate()
	}
}

// TotalPlanned sums planned quantity over all days.
func (d *Distribution) TotalPlanned() int {
	total := 0
	for i := range d.Days {
		total += d.Days[i].TotalPlanned
	}
	return total
}

// TotalActual sums actual quantity over all days.
func (d *Distribution) TotalActual() int {
	total := 0
	for i := range d.Days {
		total += d.Days[i].TotalActual
	}
	return total
}

// Allocated is the order quantity this distribution accounts for: planned
// plus whatever balance was handed on. Balance moves leave it unchanged.
func (d *Distribution) Allocated() int {
	total := 0
	for i := range d.Days {
		total += d.Days[i].TotalPlanned + d.Days[i].Carried
	}
	return total
}

// prune drops days left without slots.
func (d *Distribution) prune() {
	kept := d.Days[:0]
	for _, day := range d.Days {
		if len(day.Slots) > 0 {
			kept = append(kept, day)
		}
	}
	d.Days = kept
}

// AssignIDs gives every virtual slot a persistent id.
func (d *Distribution) AssignIDs() {
	for i := range d.Days {
		for j := range d.Days[i].Slots {
			if d.Days[i].Slots[j].ID == "" {
				d.Days[i].Slots[j].ID = SlotID(uuid.NewString())
			}
		}
	}
}

// =============================================================================
// GROUP COMMITMENTS
// =============================================================================

// Commitment is a slot held on the group by some order.
type Commitment struct {
	OrderID OrderID
	Date    calendar.Date
	Span    calendar.Span
	Planned int
	Actual  int
}

// Occupies reports whether the commitment blocks the slot for other orders.
func (c Commitment) Occupies() bool {
	return c.Planned > 0 || c.Actual > 0
}
