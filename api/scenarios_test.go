package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/api"
	"github.com/warp/pcp-engine/factory"
)

func (s *testServer) load(id string) api.LoadScenarioResponse {
	s.t.Helper()
	var res api.LoadScenarioResponse
	require.Equal(s.t, http.StatusOK, s.do("POST", "/api/scenarios/load", api.LoadScenarioRequest{ScenarioID: id}, &res))
	return res
}

func (s *testServer) viewOf(order, group string) api.DistributionDTO {
	s.t.Helper()
	var v api.DistributionViewDTO
	require.Equal(s.t, http.StatusOK, s.do("GET", "/api/distributions?orderId="+order+"&groupId="+group, nil, &v))
	return v.Distribution
}

func TestListScenarios(t *testing.T) {
	s := newTestServer(t, 60)

	var list []api.ScenarioDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/scenarios", nil, &list))
	require.Len(t, list, len(factory.Presets()))
	assert.Equal(t, "scenario-a", list[0].ID)
	for _, sc := range list {
		assert.NotEmpty(t, sc.Name, sc.ID)
		assert.NotEmpty(t, sc.Category, sc.ID)
	}
}

func TestLoadScenario_A_SingleDay(t *testing.T) {
	s := newTestServer(t, 60)
	res := s.load("scenario-a")

	assert.Equal(t, "loaded", res.Status)
	assert.Equal(t, monday, res.BaseDate)
	require.Len(t, res.Steps, 1)

	d := s.viewOf("op-a", "group-1")
	require.Len(t, d.Days, 1)
	assert.Equal(t, monday, d.Days[0].Date)
	assert.Equal(t, 100, d.Days[0].TotalPlanned)
	assert.Len(t, d.Days[0].Slots, 10)
}

func TestLoadScenario_B_BusyGroupSpillsOver(t *testing.T) {
	s := newTestServer(t, 60)
	s.load("scenario-b")

	d := s.viewOf("op-b", "group-1")
	require.Len(t, d.Days, 2)
	assert.Equal(t, 20, d.Days[0].TotalPlanned, "two window slots left on Monday")
	assert.Equal(t, "15:30", d.Days[0].Slots[0].Start)
	assert.Equal(t, tuesday, d.Days[1].Date)
	assert.Equal(t, 80, d.Days[1].TotalPlanned)
}

func TestLoadScenario_C_ShortfallPropagates(t *testing.T) {
	s := newTestServer(t, 60)
	res := s.load("scenario-c")
	for _, step := range res.Steps {
		assert.Empty(t, step.Warning)
	}

	d := s.viewOf("op-c", "group-1")
	require.Len(t, d.Days, 2)
	mon, tue := d.Days[0], d.Days[1]
	assert.Equal(t, 30, mon.TotalActual)
	assert.Equal(t, -20, mon.Balance)
	assert.Equal(t, 0, mon.Outstanding)
	assert.Equal(t, 50, tue.TotalPlanned)
	assert.Equal(t, 80, d.Allocated)
}

func TestLoadScenario_D_ClosingSettlement(t *testing.T) {
	s := newTestServer(t, 60)
	s.load("scenario-d")

	d := s.viewOf("op-d", "group-1")
	assert.True(t, d.Closed)
	require.Len(t, d.Days, 1)
	day := d.Days[0]
	assert.Equal(t, 45, day.TotalPlanned)
	assert.Equal(t, "concluded", day.Status)
	catchAll := day.Slots[len(day.Slots)-1]
	assert.True(t, catchAll.CatchAll)
	assert.Equal(t, 15, catchAll.Planned)
}

func TestLoadScenario_Overtime_OpensRequests(t *testing.T) {
	s := newTestServer(t, 60)
	s.load("overtime")

	var pending []api.ApprovalRequestDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/approvals/pending", nil, &pending))
	require.Len(t, pending, 2)

	byDate := map[string]api.ApprovalRequestDTO{}
	for _, p := range pending {
		byDate[p.Date] = p
	}
	require.Contains(t, byDate, monday)
	require.Contains(t, byDate, saturday)
	assert.Equal(t, "outside_window", byDate[monday].Reason)
	assert.Equal(t, 660, byDate[monday].WorkedMinutes)
	assert.Equal(t, 120, byDate[saturday].WorkedMinutes)

	// OU: one approval is enough.
	var decided api.ApprovalRequestDTO
	require.Equal(t, http.StatusOK, s.do("POST", "/api/approvals/"+byDate[monday].ID+"/approve", api.DecideRequest{UserID: "gerente"}, &decided))
	assert.Equal(t, "approved", decided.Status)

	d := s.viewOf("op-ot", "group-1")
	require.NotEmpty(t, d.Days)
	assert.Equal(t, "approved", d.Days[0].Approval)
	assert.Len(t, d.Days[0].Slots, 11, "approval keeps the extra hour")
}

func TestLoadScenario_Relocation(t *testing.T) {
	s := newTestServer(t, 60)
	s.load("relocation")

	origin := s.viewOf("op-r", "group-1")
	require.Len(t, origin.Days, 1)
	assert.True(t, origin.Days[0].Relocated)
	assert.Equal(t, 0, origin.Days[0].Outstanding)

	target := s.viewOf("op-r", "group-2")
	require.Len(t, target.Days, 1)
	assert.Equal(t, tuesday, target.Days[0].Date)
	assert.Equal(t, 15, target.Days[0].TotalPlanned)

	var q api.QuantitiesDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/orders/op-r/quantities", nil, &q))
	assert.Equal(t, 30, q.Allocated, "relocation moves the shortfall without adding to the order")
}

func TestLoadScenario_ResetsPreviousData(t *testing.T) {
	s := newTestServer(t, 60)
	s.load("scenario-a")
	s.load("scenario-d")

	var orders []api.OrderDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/orders", nil, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "op-d", orders[0].ID)
}

func TestLoadScenario_Custom(t *testing.T) {
	s := newTestServer(t, 60)

	custom := &factory.ScenarioJSON{
		ID:     "custom-1",
		Models: []factory.ModelJSON{{ID: "m", Code: "M", HourlyRate: 20}},
		Groups: []factory.GroupJSON{{ID: "g"}},
		Orders: []factory.OrderJSON{{ID: "o", Code: "O", ModelID: "m", TotalQuantity: 40}},
		Steps: []factory.StepJSON{
			{Action: "distribute", OrderID: "o", GroupID: "g", Day: 1, Quantity: 40},
		},
	}
	var res api.LoadScenarioResponse
	require.Equal(t, http.StatusOK, s.do("POST", "/api/scenarios/load", api.LoadScenarioRequest{
		Scenario: custom, BaseDate: "2025-04-07",
	}, &res))
	assert.Equal(t, "custom-1", res.Scenario)

	d := s.viewOf("o", "g")
	require.Len(t, d.Days, 1)
	assert.Equal(t, "2025-04-08", d.Days[0].Date)
	assert.Len(t, d.Days[0].Slots, 2)

	var current api.ScenarioDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/scenarios/current", nil, &current))
	assert.Equal(t, "custom-1", current.ID)
	assert.Equal(t, "custom", current.Category)
}

func TestLoadScenario_Rejects(t *testing.T) {
	s := newTestServer(t, 60)

	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/scenarios/load", api.LoadScenarioRequest{ScenarioID: "nope"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/scenarios/load", api.LoadScenarioRequest{ScenarioID: "scenario-a", BaseDate: "soon"}, nil))

	// A step that fails aborts the load and leaves no current scenario.
	bad := &factory.ScenarioJSON{
		ID:     "too-much",
		Models: []factory.ModelJSON{{ID: "m", HourlyRate: 10}},
		Groups: []factory.GroupJSON{{ID: "g"}},
		Orders: []factory.OrderJSON{{ID: "o", ModelID: "m", TotalQuantity: 10}},
		Steps:  []factory.StepJSON{{Action: "distribute", OrderID: "o", GroupID: "g", Quantity: 11}},
	}
	var errResp api.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/scenarios/load", api.LoadScenarioRequest{Scenario: bad}, &errResp))
	assert.Contains(t, errResp.Details, "step 1")

	var current *api.ScenarioDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/scenarios/current", nil, &current))
	assert.Nil(t, current)
}

func TestScenarioCurrentAndReset(t *testing.T) {
	s := newTestServer(t, 60)

	var current *api.ScenarioDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/scenarios/current", nil, &current))
	assert.Nil(t, current)

	s.load("scenario-c")
	require.Equal(t, http.StatusOK, s.do("GET", "/api/scenarios/current", nil, &current))
	require.NotNil(t, current)
	assert.Equal(t, "scenario-c", current.ID)

	require.Equal(t, http.StatusOK, s.do("POST", "/api/scenarios/reset", nil, nil))
	current = nil
	require.Equal(t, http.StatusOK, s.do("GET", "/api/scenarios/current", nil, &current))
	assert.Nil(t, current)

	var orders []api.OrderDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/orders", nil, &orders))
	assert.Empty(t, orders)
}
