package planning_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

func baseRequest(total, qty, rate int) planning.AllocationRequest {
	return planning.AllocationRequest{
		Order:     testOrder(total),
		Model:     testModel(rate),
		Group:     testGroup(),
		StartDate: monday,
		Quantity:  qty,
	}
}

func TestDistribute_FullDayOnEmptyGroup(t *testing.T) {
	res, err := planning.NewAllocator(0).Distribute(baseRequest(100, 100, 10))
	require.NoError(t, err)

	require.Len(t, res.Placements, 10)
	assert.Equal(t, 1, res.DaysUsed)
	assert.Equal(t, 100, res.TotalDistributed)
	for i, p := range res.Placements {
		assert.True(t, p.Date.Equal(monday), "placement %d", i)
		assert.Equal(t, 10, p.Planned)
		assert.False(t, p.NeedsApproval)
	}
	assert.Equal(t, "07:30-08:29", res.Placements[0].Span.String())
	assert.Equal(t, "16:30-17:29", res.Placements[9].Span.String())
}

func TestDistribute_SpillsWhenGroupIsBusy(t *testing.T) {
	req := baseRequest(100, 100, 10)
	for _, s := range calendar.WindowSlots(monday)[:8] {
		req.Commitments = append(req.Commitments, planning.Commitment{
			OrderID: "other", Date: monday, Span: s, Planned: 10,
		})
	}

	res, err := planning.NewAllocator(0).Distribute(req)
	require.NoError(t, err)

	assert.Equal(t, 2, res.DaysUsed)
	assert.Equal(t, 100, res.TotalDistributed)

	var day1, day2 int
	for _, p := range res.Placements {
		switch {
		case p.Date.Equal(monday):
			day1 += p.Planned
			assert.GreaterOrEqual(t, p.Span.Start, calendar.NewClock(15, 30), "busy slot reused")
		case p.Date.Equal(monday.AddDays(1)):
			day2 += p.Planned
		default:
			t.Fatalf("unexpected day %s", p.Date)
		}
	}
	assert.Equal(t, 20, day1)
	assert.Equal(t, 80, day2)
}

func TestDistribute_ZeroPlannedCommitmentDoesNotBlock(t *testing.T) {
	req := baseRequest(100, 10, 10)
	req.Commitments = []planning.Commitment{{
		OrderID: "other", Date: monday, Span: calendar.WindowSlots(monday)[0],
	}}

	res, err := planning.NewAllocator(0).Distribute(req)
	require.NoError(t, err)
	require.Len(t, res.Placements, 1)
	assert.Equal(t, "07:30-08:29", res.Placements[0].Span.String())
}

func TestDistribute_CustomSpanBlocksEveryGridSlotItTouches(t *testing.T) {
	req := baseRequest(100, 20, 10)
	req.Commitments = []planning.Commitment{{
		OrderID: "other", Date: monday, Span: span(t, "08:00", "08:59"), Planned: 10,
	}}

	res, err := planning.NewAllocator(0).Distribute(req)
	require.NoError(t, err)
	require.Len(t, res.Placements, 2)
	assert.Equal(t, "09:30-10:29", res.Placements[0].Span.String())
	assert.Equal(t, "10:30-11:29", res.Placements[1].Span.String())
}

func TestDistribute_ConservesQuantity(t *testing.T) {
	for _, qty := range []int{1, 7, 99, 250, 1234} {
		res, err := planning.NewAllocator(0).Distribute(baseRequest(5000, qty, 13))
		require.NoError(t, err, "qty %d", qty)
		assert.Equal(t, qty, res.TotalDistributed)
		assert.Equal(t, qty, sumPlaced(res.Placements))
		for _, p := range res.Placements {
			assert.LessOrEqual(t, p.Planned, 13)
			assert.Positive(t, p.Planned)
		}
	}
}

func TestDistribute_SkipsSunday(t *testing.T) {
	req := baseRequest(100, 100, 10)
	req.StartDate = monday.AddDays(5) // saturday

	res, err := planning.NewAllocator(0).Distribute(req)
	require.NoError(t, err)

	var sat, mon int
	for _, p := range res.Placements {
		require.False(t, p.Date.IsSunday())
		if p.Date.IsSaturday() {
			sat += p.Planned
		} else {
			mon += p.Planned
		}
	}
	assert.Equal(t, 50, sat)
	assert.Equal(t, 50, mon)
}

func TestDistribute_GroupPercentCapsDay(t *testing.T) {
	req := baseRequest(100, 100, 10)
	req.MaxGroupPercent = decimal.NewFromInt(50)

	res, err := planning.NewAllocator(0).Distribute(req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DaysUsed)
	assert.Len(t, res.Placements, 10)
}

func TestDistribute_ExtraHoursAreFlagged(t *testing.T) {
	req := baseRequest(200, 120, 10)
	req.ExtraHours = 2

	res, err := planning.NewAllocator(0).Distribute(req)
	require.NoError(t, err)

	var flagged []planning.Placement
	for _, p := range res.Placements {
		if p.NeedsApproval {
			flagged = append(flagged, p)
		}
	}
	require.Len(t, flagged, 1)
	assert.True(t, flagged[0].Date.Equal(monday))
	assert.Equal(t, "17:30-18:29", flagged[0].Span.String())
	assert.Equal(t, 1, res.ExtraHoursUsed)
	assert.Equal(t, 120, res.TotalDistributed)
}

func TestDistribute_TopsUpExistingSlot(t *testing.T) {
	existing := newDist(planDay(monday, 4))
	req := baseRequest(100, 6, 10)
	req.AlreadyAllocated = 4
	req.Existing = existing

	res, err := planning.NewAllocator(0).Distribute(req)
	require.NoError(t, err)
	require.Len(t, res.Placements, 1)
	assert.Equal(t, 6, res.Placements[0].Planned)

	existing.Apply(res.Placements)
	day := existing.Day(monday)
	require.Len(t, day.Slots, 1)
	assert.Equal(t, 10, day.Slots[0].Planned)
	assert.Equal(t, 10, day.TotalPlanned)
}

func TestDistribute_DeadlineFlag(t *testing.T) {
	req := baseRequest(200, 200, 10)
	deadline := monday
	req.Order.Deadline = &deadline

	res, err := planning.NewAllocator(0).Distribute(req)
	require.NoError(t, err)
	assert.True(t, res.ExceedsDeadline)
}

func TestDistribute_ZeroRateIsInsufficientCapacity(t *testing.T) {
	_, err := planning.NewAllocator(5).Distribute(baseRequest(100, 10, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, planning.ErrInsufficientCapacity))

	var ice *planning.InsufficientCapacityError
	require.True(t, errors.As(err, &ice))
	assert.Equal(t, 0, ice.Placed)
	assert.Equal(t, 10, ice.Requested)
	assert.Contains(t, err.Error(), "could only distribute 0 of 10")
}

func TestDistribute_PartialResultOnShortLookahead(t *testing.T) {
	_, err := planning.NewAllocator(1).Distribute(baseRequest(500, 150, 10))

	var ice *planning.InsufficientCapacityError
	require.True(t, errors.As(err, &ice))
	assert.Equal(t, 100, ice.Placed)
	require.NotNil(t, ice.Partial)
	assert.Len(t, ice.Partial.Placements, 10)
}

func TestValidate_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name  string
		field string
		edit  func(*planning.AllocationRequest)
	}{
		{"zero quantity", "quantity", func(r *planning.AllocationRequest) { r.Quantity = 0 }},
		{"beyond remaining", "quantity", func(r *planning.AllocationRequest) { r.AlreadyAllocated = 95 }},
		{"negative extra hours", "extraHours", func(r *planning.AllocationRequest) { r.ExtraHours = -1 }},
		{"percent over 100", "maxGroupPercent", func(r *planning.AllocationRequest) { r.MaxGroupPercent = decimal.NewFromInt(150) }},
		{"negative percent", "maxGroupPercent", func(r *planning.AllocationRequest) { r.MaxGroupPercent = decimal.NewFromInt(-5) }},
		{"inactive order", "orderId", func(r *planning.AllocationRequest) { r.Order.Active = false }},
		{"inactive group", "groupId", func(r *planning.AllocationRequest) { r.Group.Active = false }},
		{"missing start", "startDate", func(r *planning.AllocationRequest) { r.StartDate = calendar.Date{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(100, 10, 10)
			tt.edit(&req)

			_, err := planning.NewAllocator(0).Distribute(req)
			require.Error(t, err)
			assert.True(t, planning.IsClientError(err))

			var ve *planning.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
