package planning_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/planning"
)

var reconciler planning.BalanceReconciler

func TestPropagation_ShortfallFillsNextDayInSlotOrder(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10, 10, 10, 10, 10), planDay(tuesday, 10, 10, 10))
	record(t, dist, monday, 6, 6, 6, 6, 6)

	day1 := dist.Day(monday)
	assert.Equal(t, -20, day1.Balance)

	res := reconciler.ApplyBalancePropagation(dist.Days)
	require.NoError(t, res.Err())

	assert.Equal(t, []int{20, 20, 10}, plannedOf(dist.Day(tuesday)), "headroom is planned minus actual, above the rate of 10")
	assert.Equal(t, 50, dist.Day(tuesday).TotalPlanned)
	assert.Equal(t, 0, dist.Day(monday).Outstanding())
	assert.Len(t, res.Changed, 2)
}

func TestPropagation_IsIdempotent(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10, 10, 10, 10, 10), planDay(tuesday, 10, 10, 10))
	record(t, dist, monday, 6, 6, 6, 6, 6)

	reconciler.ApplyBalancePropagation(dist.Days)
	before := plannedOf(dist.Day(tuesday))

	res := reconciler.ApplyBalancePropagation(dist.Days)
	assert.Empty(t, res.Changed)
	assert.Empty(t, res.Unresolved)
	assert.Equal(t, before, plannedOf(dist.Day(tuesday)))
}

func TestPropagation_OverageReducesLaterDays(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10, 10), planDay(tuesday, 10, 10))
	record(t, dist, monday, 15, 15)

	res := reconciler.ApplyBalancePropagation(dist.Days)
	require.NoError(t, res.Err())

	assert.Equal(t, []int{0, 10}, plannedOf(dist.Day(tuesday)))
	assert.Equal(t, 0, dist.Day(monday).Outstanding())
	assert.Equal(t, 40, dist.Allocated())
}

func TestPropagation_SkipsDaysWithRecordedOutput(t *testing.T) {
	tuesday, wednesday := monday.AddDays(1), monday.AddDays(2)
	dist := newDist(planDay(monday, 10), planDay(tuesday, 10), planDay(wednesday, 10))
	record(t, dist, monday, 5)
	record(t, dist, tuesday, 10)

	res := reconciler.ApplyBalancePropagation(dist.Days)
	require.NoError(t, res.Err())

	assert.Equal(t, []int{10}, plannedOf(dist.Day(tuesday)))
	assert.Equal(t, []int{15}, plannedOf(dist.Day(wednesday)))
}

func TestPropagation_ZeroReadingCountsAsRecorded(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10), planDay(tuesday, 10))
	record(t, dist, monday, 0)

	reconciler.ApplyBalancePropagation(dist.Days)
	assert.Equal(t, []int{20}, plannedOf(dist.Day(tuesday)))
}

func TestPropagation_UnabsorbedShortfallIsReported(t *testing.T) {
	dist := newDist(planDay(monday, 10, 10))
	record(t, dist, monday, 5, 5)

	res := reconciler.ApplyBalancePropagation(dist.Days)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, -10, res.Unresolved[0].Amount)
	assert.True(t, res.Unresolved[0].Date.Equal(monday))

	err := res.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, planning.ErrUnresolvedBalance))
	assert.Equal(t, -10, dist.Day(monday).Outstanding())
}

func TestPropagation_AllocatedIsPreserved(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10, 10, 10, 10, 10), planDay(tuesday, 10, 10, 10))
	before := dist.Allocated()
	record(t, dist, monday, 6, 6, 6, 6, 6)

	reconciler.ApplyBalancePropagation(dist.Days)
	assert.Equal(t, before, dist.Allocated())
	assert.Equal(t, before+20, dist.TotalPlanned())
}

func TestRecordActuals_Validation(t *testing.T) {
	dist := newDist(planDay(monday, 10))
	slotID := dist.Day(monday).Slots[0].ID

	_, err := reconciler.RecordActuals(dist, monday, []planning.SlotUpdate{{SlotID: slotID, Actual: -1}})
	assert.True(t, planning.IsClientError(err))

	loss := -2
	_, err = reconciler.RecordActuals(dist, monday, []planning.SlotUpdate{{SlotID: slotID, Actual: 1, Loss: &loss}})
	assert.True(t, planning.IsClientError(err))

	_, err = reconciler.RecordActuals(dist, monday, []planning.SlotUpdate{{SlotID: "missing", Actual: 1}})
	assert.ErrorIs(t, err, planning.ErrSlotNotFound)

	_, err = reconciler.RecordActuals(dist, monday.AddDays(1), []planning.SlotUpdate{{SlotID: slotID, Actual: 1}})
	assert.ErrorIs(t, err, planning.ErrDayNotFound)

	assert.Equal(t, 0, dist.Day(monday).Slots[0].Actual, "rejected update must not mutate")
}

func TestRecordActuals_SetsStatusAndLoss(t *testing.T) {
	dist := newDist(planDay(monday, 10, 10))
	day := dist.Day(monday)
	loss := 3

	got, err := reconciler.RecordActuals(dist, monday, []planning.SlotUpdate{{SlotID: day.Slots[0].ID, Actual: 7, Loss: &loss}})
	require.NoError(t, err)

	assert.Equal(t, 7, got.TotalActual)
	assert.Equal(t, -13, got.Balance)
	assert.Equal(t, 3, got.Slots[0].Loss)
	assert.Equal(t, planning.SlotInProgress, got.Slots[0].Status)
	assert.Equal(t, planning.SlotPlanned, got.Slots[1].Status)
	assert.Equal(t, planning.DayInProgress, got.Status())
}

func TestReplicateQuantityAcrossDay(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10, 10, 10, 10, 10), planDay(tuesday, 10, 10))

	res, err := reconciler.ReplicateQuantityAcrossDay(dist, monday, 8, true)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	day := dist.Day(monday)
	assert.Equal(t, 40, day.TotalActual)
	for _, s := range day.Slots {
		assert.Equal(t, 8, s.Actual)
	}
	assert.Equal(t, []int{20, 10}, plannedOf(dist.Day(tuesday)))
	assert.Len(t, res.Changed, 2)
}

func TestReplicateQuantityAcrossDay_WithoutPropagation(t *testing.T) {
	tuesday := monday.AddDays(1)
	dist := newDist(planDay(monday, 10), planDay(tuesday, 10))

	res, err := reconciler.ReplicateQuantityAcrossDay(dist, monday, 4, false)
	require.NoError(t, err)
	assert.Len(t, res.Changed, 1)
	assert.Equal(t, []int{10}, plannedOf(dist.Day(tuesday)))
	assert.Equal(t, -6, dist.Day(monday).Outstanding())
}

func TestReplicateQuantityAcrossDay_Rejects(t *testing.T) {
	dist := newDist(planDay(monday, 10))

	_, err := reconciler.ReplicateQuantityAcrossDay(dist, monday, -1, false)
	assert.True(t, planning.IsClientError(err))

	dist.Closed = true
	_, err = reconciler.ReplicateQuantityAcrossDay(dist, monday, 1, false)
	assert.ErrorIs(t, err, planning.ErrDistributionClosed)
}
