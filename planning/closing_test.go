package planning_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

var closedAt = time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC)

func TestCloseProduction_ResidualOnLastDay(t *testing.T) {
	dist := newDist(planDay(monday, 10, 10))
	record(t, dist, monday, 5, 0)
	require.Equal(t, -15, dist.Day(monday).Balance)
	before := dist.TotalPlanned()

	res, err := planning.ClosingSettlement{}.CloseProduction(dist, closedAt)
	require.NoError(t, err)

	assert.Equal(t, 15, res.ResidualShortfallApplied)
	require.NotNil(t, res.FinalDayDate)
	assert.True(t, res.FinalDayDate.Equal(monday))

	day := dist.Day(monday)
	require.Len(t, day.Slots, 3)
	last := day.Slots[2]
	assert.True(t, last.CatchAll)
	assert.Equal(t, 15, last.Planned)
	assert.Equal(t, calendar.ClosingSpan(), last.Span)

	assert.Equal(t, before+15, dist.TotalPlanned())
	assert.True(t, dist.Closed)
	require.NotNil(t, dist.ClosedAt)
	assert.Equal(t, closedAt, *dist.ClosedAt)
	for _, s := range day.Slots {
		assert.Equal(t, planning.SlotConcluded, s.Status)
	}
	assert.Equal(t, planning.DayConcluded, day.Status())
}

func TestCloseProduction_SkipsDaysWithoutOutput(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10), planDay(tuesday, 10))
	record(t, dist, monday, 4)

	res, err := planning.ClosingSettlement{}.CloseProduction(dist, closedAt)
	require.NoError(t, err)

	assert.Equal(t, 6, res.ResidualShortfallApplied)
	assert.True(t, res.FinalDayDate.Equal(tuesday))
	assert.Len(t, dist.Day(monday).Slots, 1)
	assert.Len(t, dist.Day(tuesday).Slots, 2)
	require.Len(t, res.SettledDays, 1)
	assert.True(t, res.SettledDays[0].Equal(monday))
}

func TestCloseProduction_IgnoresShortfallAlreadyHandedOn(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10, 10), planDay(tuesday, 10))
	record(t, dist, monday, 5, 5)
	reconciler.ApplyBalancePropagation(dist.Days)

	res, err := planning.ClosingSettlement{}.CloseProduction(dist, closedAt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ResidualShortfallApplied)
	assert.Len(t, dist.Day(tuesday).Slots, 1)
}

func TestCloseProduction_PlannedNeverDecreases(t *testing.T) {
	tuesday, wednesday := monday.AddDays(1), monday.AddDays(2)
	dist := newDist(planDay(monday, 10, 10), planDay(tuesday, 10, 10), planDay(wednesday, 10))
	record(t, dist, monday, 12, 3)
	record(t, dist, tuesday, 20, 0)

	before := dist.TotalPlanned()
	res, err := planning.ClosingSettlement{}.CloseProduction(dist, closedAt)
	require.NoError(t, err)

	assert.Equal(t, 5, res.ResidualShortfallApplied)
	assert.Equal(t, before+res.ResidualShortfallApplied, dist.TotalPlanned())
	assert.GreaterOrEqual(t, dist.TotalPlanned(), before)
}

func TestCloseProduction_EmptyIsNoOp(t *testing.T) {
	dist := planning.NewDistribution("order-1", "group-1")

	res, err := planning.ClosingSettlement{}.CloseProduction(dist, closedAt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ResidualShortfallApplied)
	assert.Nil(t, res.FinalDayDate)
	assert.False(t, dist.Closed)
}

func TestCloseProduction_ClosedIsTerminal(t *testing.T) {
	dist := newDist(planDay(monday, 10))
	_, err := planning.ClosingSettlement{}.CloseProduction(dist, closedAt)
	require.NoError(t, err)

	_, err = planning.ClosingSettlement{}.CloseProduction(dist, closedAt)
	assert.ErrorIs(t, err, planning.ErrDistributionClosed)

	_, err = planning.CancelDistribution(dist)
	assert.ErrorIs(t, err, planning.ErrDistributionClosed)
}

func TestCancelDistribution_RemovesUnexecutedSlots(t *testing.T) {
	dist := newDist(planDay(monday, 10, 10), planDay(monday.AddDays(1), 10))

	res, err := planning.CancelDistribution(dist)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RemovedSlots)
	assert.Equal(t, 30, res.RemovedQuantity)
	assert.Nil(t, res.Warning)
	assert.True(t, dist.IsEmpty())
}

func TestCancelDistribution_KeepsSlotsWithOutput(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10, 10), planDay(tuesday, 10))
	record(t, dist, monday, 8, 0)

	res, err := planning.CancelDistribution(dist)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RemovedSlots)
	require.NotNil(t, res.Warning)
	require.Len(t, res.Warning.Survivors, 1)
	assert.Equal(t, 8, res.Warning.Survivors[0].Actual)
	assert.Contains(t, res.Warning.Error(), "kept 1 slot")

	require.Len(t, dist.Days, 1)
	assert.Nil(t, dist.Day(tuesday))
	assert.Equal(t, 8, dist.Day(monday).TotalActual)
}
