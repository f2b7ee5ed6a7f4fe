package factory

// Built-in scenarios. Day 0 is the base Monday.

const ScenarioAJSON = `{
  "id": "scenario-a",
  "name": "Single day",
  "description": "100 units at 10/h from an empty Monday fill the ten window slots",
  "category": "allocation",
  "models": [{"id": "model-cam", "code": "CAM-01", "hourly_rate": 10}],
  "groups": [{"id": "group-1", "description": "Costura 1"}],
  "orders": [{"id": "op-a", "code": "OP-A", "model_id": "model-cam", "total_quantity": 100}],
  "steps": [
    {"action": "distribute", "order_id": "op-a", "group_id": "group-1", "day": 0, "quantity": 100}
  ]
}`

const ScenarioBJSON = `{
  "id": "scenario-b",
  "name": "Busy group",
  "description": "Another order holds 8 slots on Monday, so the run spills into Tuesday",
  "category": "allocation",
  "models": [{"id": "model-cam", "code": "CAM-01", "hourly_rate": 10}],
  "groups": [{"id": "group-1", "description": "Costura 1"}],
  "orders": [
    {"id": "op-busy", "code": "OP-BUSY", "model_id": "model-cam", "total_quantity": 80},
    {"id": "op-b", "code": "OP-B", "model_id": "model-cam", "total_quantity": 100}
  ],
  "steps": [
    {"action": "distribute", "order_id": "op-busy", "group_id": "group-1", "day": 0, "quantity": 80},
    {"action": "distribute", "order_id": "op-b", "group_id": "group-1", "day": 0, "quantity": 100, "max_group_percent": "100"}
  ]
}`

const ScenarioCJSON = `{
  "id": "scenario-c",
  "name": "Shortfall propagation",
  "description": "Monday plans 50 and makes 30; the 20 missing units move onto Tuesday's slots",
  "category": "balance",
  "models": [{"id": "model-cam", "code": "CAM-01", "hourly_rate": 10}],
  "groups": [{"id": "group-1", "description": "Costura 1"}],
  "orders": [{"id": "op-c", "code": "OP-C", "model_id": "model-cam", "total_quantity": 80}],
  "steps": [
    {"action": "distribute", "order_id": "op-c", "group_id": "group-1", "day": 0, "quantity": 80, "max_group_percent": "50"},
    {"action": "record", "order_id": "op-c", "group_id": "group-1", "day": 0, "actuals": [10, 10, 10, 0, 0], "propagate": true}
  ]
}`

const ScenarioDJSON = `{
  "id": "scenario-d",
  "name": "Closing settlement",
  "description": "The only produced day is 15 short; closing adds a catch-all slot of 15",
  "category": "closing",
  "models": [{"id": "model-cam", "code": "CAM-01", "hourly_rate": 10}],
  "groups": [{"id": "group-1", "description": "Costura 1"}],
  "orders": [{"id": "op-d", "code": "OP-D", "model_id": "model-cam", "total_quantity": 30}],
  "steps": [
    {"action": "distribute", "order_id": "op-d", "group_id": "group-1", "day": 0, "quantity": 30},
    {"action": "record", "order_id": "op-d", "group_id": "group-1", "day": 0, "actuals": [5, 5, 5]},
    {"action": "close", "order_id": "op-d", "group_id": "group-1"}
  ]
}`

const OvertimeJSON = `{
  "id": "overtime",
  "name": "Overtime approval",
  "description": "An extra hour on Monday and a long Saturday both wait for approval",
  "category": "approval",
  "models": [{"id": "model-cam", "code": "CAM-01", "hourly_rate": 10}],
  "groups": [{"id": "group-1", "description": "Costura 1"}],
  "orders": [{"id": "op-ot", "code": "OP-OT", "model_id": "model-cam", "total_quantity": 150, "deadline_day": 5}],
  "approvers": [
    {"user_id": "supervisor", "name": "Supervisor", "policy": "OU"},
    {"user_id": "gerente", "name": "Gerente", "policy": "OU"}
  ],
  "steps": [
    {"action": "distribute", "order_id": "op-ot", "group_id": "group-1", "day": 0, "quantity": 110, "extra_hours": 1},
    {"action": "schedule_day", "order_id": "op-ot", "group_id": "group-1", "day": 5,
     "spans": [["07:30", "08:29"], ["12:30", "13:29"]]}
  ]
}`

const RelocationJSON = `{
  "id": "relocation",
  "name": "Relocate a shortfall",
  "description": "Monday's 15 missing units are re-planned on a second group from Tuesday",
  "category": "balance",
  "models": [{"id": "model-cam", "code": "CAM-01", "hourly_rate": 10}],
  "groups": [
    {"id": "group-1", "description": "Costura 1"},
    {"id": "group-2", "description": "Costura 2"}
  ],
  "orders": [{"id": "op-r", "code": "OP-R", "model_id": "model-cam", "total_quantity": 60}],
  "steps": [
    {"action": "distribute", "order_id": "op-r", "group_id": "group-1", "day": 0, "quantity": 30},
    {"action": "record", "order_id": "op-r", "group_id": "group-1", "day": 0, "actuals": [5, 5, 5]},
    {"action": "relocate", "order_id": "op-r", "group_id": "group-1", "day": 0,
     "target_group_id": "group-2", "target_day": 1}
  ]
}`

// Presets lists the built-in scenarios in display order.
func Presets() []string {
	return []string{ScenarioAJSON, ScenarioBJSON, ScenarioCJSON, ScenarioDJSON, OvertimeJSON, RelocationJSON}
}
