package factory_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/factory"
	"github.com/warp/pcp-engine/planning"
)

var monday = calendar.NewDate(2025, time.March, 3)

func TestPresets_AllParse(t *testing.T) {
	f := factory.NewScenarioFactory()
	seen := make(map[string]bool)
	for _, js := range factory.Presets() {
		sc, err := f.Parse(js, monday)
		require.NoError(t, err)
		assert.False(t, seen[sc.ID], "duplicate scenario id %s", sc.ID)
		seen[sc.ID] = true
		assert.NotEmpty(t, sc.Steps, sc.ID)
	}
	assert.Len(t, seen, 6)
}

func TestParse_ResolvesDayOffsets(t *testing.T) {
	sc, err := factory.NewScenarioFactory().Parse(factory.OvertimeJSON, monday)
	require.NoError(t, err)

	require.Len(t, sc.Orders, 1)
	order := sc.Orders[0]
	assert.Equal(t, planning.OrderID("op-ot"), order.ID)
	assert.True(t, order.StartDate.Equal(monday))
	require.NotNil(t, order.Deadline)
	assert.True(t, order.Deadline.IsSaturday())

	require.Len(t, sc.Approvers, 2)
	assert.Equal(t, approval.PolicyAny, sc.Approvers[0].Policy)
	assert.True(t, sc.Approvers[0].Active)

	require.Len(t, sc.Steps, 2)
	assert.Equal(t, factory.ActionDistribute, sc.Steps[0].Action)
	assert.Equal(t, 1, sc.Steps[0].ExtraHours)
	assert.Equal(t, factory.ActionScheduleDay, sc.Steps[1].Action)
	assert.True(t, sc.Steps[1].Date.IsSaturday())
	require.Len(t, sc.Steps[1].Spans, 2)
	assert.Equal(t, "12:30-13:29", sc.Steps[1].Spans[1].String())
}

func TestParse_MaxGroupPercentAndRelocateDefaults(t *testing.T) {
	f := factory.NewScenarioFactory()

	c, err := f.Parse(factory.ScenarioCJSON, monday)
	require.NoError(t, err)
	assert.Equal(t, "50", c.Steps[0].MaxGroupPercent.String())
	assert.Equal(t, []int{10, 10, 10, 0, 0}, c.Steps[1].Actuals)
	assert.True(t, c.Steps[1].Propagate)

	r, err := f.Parse(factory.RelocationJSON, monday)
	require.NoError(t, err)
	reloc := r.Steps[2]
	assert.Equal(t, factory.ActionRelocate, reloc.Action)
	assert.Equal(t, planning.GroupID("group-2"), reloc.TargetGroupID)
	assert.True(t, reloc.TargetDate.Equal(monday.AddDays(1)))
	assert.False(t, reloc.AllowOvertime)
}

func TestParse_Rejects(t *testing.T) {
	base := `{"id": "x",
	  "models": [{"id": "m", "hourly_rate": 10}],
	  "groups": [{"id": "g"}],
	  "orders": [{"id": "o", "model_id": "m", "total_quantity": 10}],
	  "steps": [%s]}`

	tests := []struct {
		name string
		json string
	}{
		{"bad json", `{`},
		{"missing id", `{"models": []}`},
		{"unknown model", `{"id": "x", "orders": [{"id": "o", "model_id": "m", "total_quantity": 1}]}`},
		{"unknown action", fmt.Sprintf(base, `{"action": "explode", "order_id": "o", "group_id": "g"}`)},
		{"unknown order", fmt.Sprintf(base, `{"action": "close", "order_id": "nope", "group_id": "g"}`)},
		{"unknown group", fmt.Sprintf(base, `{"action": "close", "order_id": "o", "group_id": "nope"}`)},
		{"zero quantity", fmt.Sprintf(base, `{"action": "distribute", "order_id": "o", "group_id": "g"}`)},
		{"bad percent", fmt.Sprintf(base, `{"action": "distribute", "order_id": "o", "group_id": "g", "quantity": 5, "max_group_percent": "lots"}`)},
		{"bad span", fmt.Sprintf(base, `{"action": "schedule_day", "order_id": "o", "group_id": "g", "spans": [["09:00", "08:00"]]}`)},
		{"record without actuals", fmt.Sprintf(base, `{"action": "record", "order_id": "o", "group_id": "g"}`)},
		{"bad policy", `{"id": "x", "approvers": [{"user_id": "a", "policy": "XOR"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewScenarioFactory().Parse(tt.json, monday)
			assert.Error(t, err)
		})
	}
}

func TestParse_RequiresBaseDate(t *testing.T) {
	_, err := factory.NewScenarioFactory().Parse(factory.ScenarioAJSON, calendar.Date{})
	assert.Error(t, err)
}
