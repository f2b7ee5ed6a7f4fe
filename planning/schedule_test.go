package planning_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

func TestSlotCapacity(t *testing.T) {
	assert.Equal(t, 10, planning.SlotCapacity(10, span(t, "07:30", "08:29")))
	assert.Equal(t, 5, planning.SlotCapacity(10, span(t, "07:30", "07:59")))
	assert.Equal(t, 3, planning.SlotCapacity(7, span(t, "07:30", "07:59")), "rounds down")
	assert.Equal(t, 0, planning.SlotCapacity(0, span(t, "07:30", "08:29")))
}

func TestApprovalNeeded(t *testing.T) {
	sunday := monday.AddDays(6)
	saturday := monday.AddDays(5)

	tests := []struct {
		name       string
		date       calendar.Date
		slots      int
		flagged    bool
		checkHours bool
		reason     planning.TriggerReason
		needed     bool
	}{
		{"empty day", sunday, 0, false, true, "", false},
		{"any sunday work", sunday, 1, false, false, planning.ReasonSunday, true},
		{"outside window", monday, 2, true, false, planning.ReasonOutsideWindow, true},
		{"weekday at limit", monday, 8, false, true, "", false},
		{"weekday over limit", monday, 9, false, true, planning.ReasonOvertime, true},
		{"hours not checked", monday, 10, false, false, "", false},
		{"saturday over limit", saturday, 5, false, true, planning.ReasonOvertime, true},
		{"saturday at limit", saturday, 4, false, true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day := &planning.Day{Date: tt.date}
			for _, s := range calendar.StandardSlots()[:tt.slots] {
				day.Slots = append(day.Slots, planning.Slot{Span: s, Planned: 1})
			}
			if tt.flagged {
				day.Slots[len(day.Slots)-1].NeedsApproval = true
			}

			reason, needed := planning.ApprovalNeeded(day, tt.checkHours)
			assert.Equal(t, tt.needed, needed)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestScheduleDay_PlansSpansUpToCapacity(t *testing.T) {
	dist := planning.NewDistribution("order-1", "group-1")
	spans := []calendar.Span{span(t, "07:30", "08:29"), span(t, "08:30", "08:59")}

	res, err := planning.ScheduleDay(dist, nil, monday, spans, 10, 100)
	require.NoError(t, err)

	require.Len(t, res.Placements, 2)
	assert.Equal(t, 10, res.Placements[0].Planned)
	assert.Equal(t, 5, res.Placements[1].Planned)
	assert.Equal(t, 90, res.WorkedMinutes)
	assert.False(t, res.NeedsApproval)
	assert.Equal(t, 15, dist.Day(monday).TotalPlanned)
}

func TestScheduleDay_BoundedByUnallocated(t *testing.T) {
	dist := planning.NewDistribution("order-1", "group-1")
	spans := []calendar.Span{span(t, "07:30", "08:29"), span(t, "08:30", "09:29")}

	res, err := planning.ScheduleDay(dist, nil, monday, spans[:1], 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Placements[0].Planned)

	_, err = planning.ScheduleDay(dist, nil, monday, spans[1:], 10, 0)
	assert.True(t, planning.IsClientError(err))
}

func TestScheduleDay_FlagsSpansOutsideWindow(t *testing.T) {
	dist := planning.NewDistribution("order-1", "group-1")

	res, err := planning.ScheduleDay(dist, nil, monday, []calendar.Span{span(t, "17:30", "18:29")}, 10, 100)
	require.NoError(t, err)

	assert.True(t, res.NeedsApproval)
	assert.Equal(t, planning.ReasonOutsideWindow, res.Reason)
	assert.True(t, dist.Day(monday).Slots[0].NeedsApproval)
}

func TestScheduleDay_KeepsExistingSpans(t *testing.T) {
	dist := newDist(planDay(monday, 3))
	existing := dist.Day(monday).Slots[0].Span

	res, err := planning.ScheduleDay(dist, nil, monday, []calendar.Span{existing, span(t, "08:30", "09:29")}, 10, 100)
	require.NoError(t, err)

	require.Len(t, res.Placements, 1)
	assert.Equal(t, []int{3, 10}, plannedOf(dist.Day(monday)))
}

func TestScheduleDay_RejectsPartialOverlapWithOwnSlot(t *testing.T) {
	dist := newDist(planDay(monday, 10))

	_, err := planning.ScheduleDay(dist, nil, monday, []calendar.Span{span(t, "08:00", "08:59")}, 10, 100)
	assert.True(t, planning.IsClientError(err))
	assert.Equal(t, []int{10}, plannedOf(dist.Day(monday)))
	assert.Equal(t, 60, dist.Day(monday).WorkedMinutes())
}

func TestScheduleDay_Rejects(t *testing.T) {
	busy := []planning.Commitment{{OrderID: "other", Date: monday, Span: span(t, "09:30", "10:29"), Planned: 10}}

	tests := []struct {
		name  string
		spans []calendar.Span
	}{
		{"no spans", nil},
		{"overlapping", []calendar.Span{span(t, "07:30", "08:29"), span(t, "08:00", "08:59")}},
		{"held by another order", []calendar.Span{span(t, "10:00", "10:29")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist := planning.NewDistribution("order-1", "group-1")
			_, err := planning.ScheduleDay(dist, busy, monday, tt.spans, 10, 100)
			assert.True(t, planning.IsClientError(err))
			assert.True(t, dist.IsEmpty())
		})
	}
}

func TestRelocatableShortfall(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10, 10), planDay(tuesday, 10))

	_, err := planning.RelocatableShortfall(dist, monday)
	assert.True(t, planning.IsClientError(err), "no output recorded yet")

	record(t, dist, monday, 6, 6)
	got, err := planning.RelocatableShortfall(dist, monday)
	require.NoError(t, err)
	assert.Equal(t, 8, got)

	planning.SettleRelocation(dist, monday, got)
	day := dist.Day(monday)
	assert.True(t, day.Relocated)
	assert.Equal(t, 0, day.Outstanding())

	_, err = planning.RelocatableShortfall(dist, monday)
	assert.True(t, planning.IsClientError(err), "already relocated")

	_, err = planning.RelocatableShortfall(dist, monday.AddDays(3))
	assert.ErrorIs(t, err, planning.ErrDayNotFound)
}
