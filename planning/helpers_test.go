package planning_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// 2025-03-03 is a Monday.
var monday = calendar.NewDate(2025, time.March, 3)

func testModel(rate int) planning.PieceModel {
	return planning.PieceModel{ID: "model-1", Code: "CAMISA-01", HourlyRate: rate}
}

func testOrder(total int) planning.ProductionOrder {
	return planning.ProductionOrder{
		ID: "order-1", Code: "OP-001", ModelID: "model-1",
		TotalQuantity: total, StartDate: monday, Active: true,
	}
}

func testGroup() planning.ProductionGroup {
	return planning.ProductionGroup{ID: "group-1", Description: "Costura A", Active: true}
}

func span(t *testing.T, start, end string) calendar.Span {
	t.Helper()
	s, err := calendar.ParseSpan(start, end)
	require.NoError(t, err)
	return s
}

// planDay builds placements of the given sizes on consecutive window slots.
func planDay(date calendar.Date, planned ...int) []planning.Placement {
	window := calendar.WindowSlots(date)
	out := make([]planning.Placement, 0, len(planned))
	for i, p := range planned {
		out = append(out, planning.Placement{Date: date, Span: window[i], Planned: p})
	}
	return out
}

// newDist builds a persisted-looking distribution from placements.
func newDist(placements ...[]planning.Placement) *planning.Distribution {
	d := planning.NewDistribution("order-1", "group-1")
	for _, p := range placements {
		d.Apply(p)
	}
	d.AssignIDs()
	return d
}

// record sets the actual of every slot of a day, in slot order.
func record(t *testing.T, d *planning.Distribution, date calendar.Date, actuals ...int) {
	t.Helper()
	day := d.Day(date)
	require.NotNil(t, day)
	require.Len(t, day.Slots, len(actuals))

	updates := make([]planning.SlotUpdate, 0, len(actuals))
	for i, a := range actuals {
		updates = append(updates, planning.SlotUpdate{SlotID: day.Slots[i].ID, Actual: a})
	}
	_, err := planning.BalanceReconciler{}.RecordActuals(d, date, updates)
	require.NoError(t, err)
}

func plannedOf(day *planning.Day) []int {
	out := make([]int, 0, len(day.Slots))
	for _, s := range day.Slots {
		out = append(out, s.Planned)
	}
	return out
}

func sumPlaced(placements []planning.Placement) int {
	total := 0
	for _, p := range placements {
		total += p.Planned
	}
	return total
}
