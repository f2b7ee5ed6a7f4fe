/*
Package factory provides JSON to Go scenario conversion.

PURPOSE:
  Converts JSON scenario definitions into master data records and a list
  of engine steps. Planners and QA can describe a production week in JSON
  and replay it against the engine without code changes.

WHY JSON?
  - Non-developers can write demo and acceptance cases
  - Scenarios can be posted to the API as-is
  - Version control for reference cases

DATES:
  Scenario dates are day offsets from a base date chosen at load time
  (normally the next Monday), so a scenario stays valid whenever it runs.

JSON SCHEMA:
  {
    "id": "scenario-a",
    "name": "Single day",
    "models": [{"id": "m1", "code": "CAM-01", "hourly_rate": 10}],
    "groups": [{"id": "g1", "description": "Costura 1"}],
    "orders": [{"id": "o1", "code": "OP-1", "model_id": "m1", "total_quantity": 100}],
    "approvers": [{"user_id": "ana", "policy": "OU"}],
    "steps": [
      {"action": "distribute", "order_id": "o1", "group_id": "g1", "day": 0, "quantity": 100},
      {"action": "record", "order_id": "o1", "group_id": "g1", "day": 0, "actuals": [10, 8], "propagate": true},
      {"action": "close", "order_id": "o1", "group_id": "g1"}
    ]
  }

USAGE:
  f := factory.NewScenarioFactory()
  sc, err := f.Parse(factory.ScenarioAJSON, calendar.NextMonday(calendar.Today()))

SEE ALSO:
  - presets.go: built-in scenarios A-D and overtime
  - api/scenarios.go: runs the steps against planning.Service
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScenarioJSON is the JSON representation of a scenario.
type ScenarioJSON struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Models      []ModelJSON    `json:"models"`
	Groups      []GroupJSON    `json:"groups"`
	Orders      []OrderJSON    `json:"orders"`
	Approvers   []ApproverJSON `json:"approvers,omitempty"`
	Steps       []StepJSON     `json:"steps"`
}

type ModelJSON struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	HourlyRate int    `json:"hourly_rate"`
}

type GroupJSON struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Inactive    bool   `json:"inactive,omitempty"`
}

type OrderJSON struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	ModelID       string `json:"model_id"`
	TotalQuantity int    `json:"total_quantity"`
	StartDay      int    `json:"start_day,omitempty"`
	DeadlineDay   *int   `json:"deadline_day,omitempty"`
}

type ApproverJSON struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Policy string `json:"policy"`
}

// StepJSON is one engine call. Which fields apply depends on Action.
type StepJSON struct {
	Action          string      `json:"action"`
	OrderID         string      `json:"order_id"`
	GroupID         string      `json:"group_id"`
	Day             int         `json:"day,omitempty"`
	Quantity        int         `json:"quantity,omitempty"`
	ExtraHours      int         `json:"extra_hours,omitempty"`
	MaxGroupPercent string      `json:"max_group_percent,omitempty"`
	Actuals         []int       `json:"actuals,omitempty"`
	Propagate       bool        `json:"propagate,omitempty"`
	Spans           [][2]string `json:"spans,omitempty"`
	TargetGroupID   string      `json:"target_group_id,omitempty"`
	TargetDay       int         `json:"target_day,omitempty"`
	AllowOvertime   bool        `json:"allow_overtime,omitempty"`
}

// =============================================================================
// PARSED SCENARIO
// =============================================================================

type Action string

const (
	ActionDistribute  Action = "distribute"
	ActionRecord      Action = "record"
	ActionReplicate   Action = "replicate"
	ActionScheduleDay Action = "schedule_day"
	ActionRelocate    Action = "relocate"
	ActionCancel      Action = "cancel"
	ActionClose       Action = "close"
)

type Scenario struct {
	ID          string
	Name        string
	Description string
	Category    string
	Base        calendar.Date

	Models    []planning.PieceModel
	Groups    []planning.ProductionGroup
	Orders    []planning.ProductionOrder
	Approvers []approval.Approver
	Steps     []Step
}

// Step is a resolved engine call.
type Step struct {
	Action          Action
	OrderID         planning.OrderID
	GroupID         planning.GroupID
	Date            calendar.Date
	Quantity        int
	ExtraHours      int
	MaxGroupPercent decimal.Decimal
	// Actuals are applied to the day's slots in time order.
	Actuals       []int
	Propagate     bool
	Spans         []calendar.Span
	TargetGroupID planning.GroupID
	TargetDate    calendar.Date
	AllowOvertime bool
}

// =============================================================================
// FACTORY
// =============================================================================

type ScenarioFactory struct{}

func NewScenarioFactory() *ScenarioFactory {
	return &ScenarioFactory{}
}

// Parse converts a JSON scenario, resolving day offsets against base.
func (f *ScenarioFactory) Parse(jsonStr string, base calendar.Date) (*Scenario, error) {
	var sj ScenarioJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.Build(sj, base)
}

// Build converts an already decoded scenario.
func (f *ScenarioFactory) Build(sj ScenarioJSON, base calendar.Date) (*Scenario, error) {
	if sj.ID == "" {
		return nil, fmt.Errorf("scenario id is required")
	}
	if base.IsZero() {
		return nil, fmt.Errorf("scenario %s: base date is required", sj.ID)
	}

	sc := &Scenario{
		ID:          sj.ID,
		Name:        sj.Name,
		Description: sj.Description,
		Category:    sj.Category,
		Base:        base,
	}

	models := make(map[string]bool)
	for _, m := range sj.Models {
		if m.ID == "" || m.HourlyRate < 0 {
			return nil, fmt.Errorf("scenario %s: invalid model %q", sj.ID, m.ID)
		}
		models[m.ID] = true
		sc.Models = append(sc.Models, planning.PieceModel{
			ID: planning.ModelID(m.ID), Code: m.Code, HourlyRate: m.HourlyRate,
		})
	}

	groups := make(map[string]bool)
	for _, g := range sj.Groups {
		if g.ID == "" {
			return nil, fmt.Errorf("scenario %s: group id is required", sj.ID)
		}
		groups[g.ID] = true
		sc.Groups = append(sc.Groups, planning.ProductionGroup{
			ID: planning.GroupID(g.ID), Description: g.Description, Active: !g.Inactive,
		})
	}

	orders := make(map[string]bool)
	for _, o := range sj.Orders {
		if o.ID == "" || !models[o.ModelID] {
			return nil, fmt.Errorf("scenario %s: order %q references unknown model %q", sj.ID, o.ID, o.ModelID)
		}
		if o.TotalQuantity <= 0 {
			return nil, fmt.Errorf("scenario %s: order %q needs a positive total_quantity", sj.ID, o.ID)
		}
		orders[o.ID] = true
		order := planning.ProductionOrder{
			ID:            planning.OrderID(o.ID),
			Code:          o.Code,
			ModelID:       planning.ModelID(o.ModelID),
			TotalQuantity: o.TotalQuantity,
			StartDate:     base.AddDays(o.StartDay),
			Active:        true,
		}
		if o.DeadlineDay != nil {
			d := base.AddDays(*o.DeadlineDay)
			order.Deadline = &d
		}
		sc.Orders = append(sc.Orders, order)
	}

	for _, a := range sj.Approvers {
		policy, err := approval.ParsePolicy(a.Policy)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: approver %q: %w", sj.ID, a.UserID, err)
		}
		sc.Approvers = append(sc.Approvers, approval.Approver{
			UserID: a.UserID, Name: a.Name, Policy: policy, Active: true,
		})
	}

	for i, s := range sj.Steps {
		step, err := parseStep(s, base)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: step %d: %w", sj.ID, i+1, err)
		}
		if !orders[s.OrderID] {
			return nil, fmt.Errorf("scenario %s: step %d: unknown order %q", sj.ID, i+1, s.OrderID)
		}
		if !groups[s.GroupID] || (step.Action == ActionRelocate && !groups[string(step.TargetGroupID)]) {
			return nil, fmt.Errorf("scenario %s: step %d: unknown group", sj.ID, i+1)
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

func parseStep(s StepJSON, base calendar.Date) (Step, error) {
	step := Step{
		Action:     Action(s.Action),
		OrderID:    planning.OrderID(s.OrderID),
		GroupID:    planning.GroupID(s.GroupID),
		Date:       base.AddDays(s.Day),
		Quantity:   s.Quantity,
		ExtraHours: s.ExtraHours,
		Actuals:    s.Actuals,
		Propagate:  s.Propagate,
	}

	switch step.Action {
	case ActionDistribute:
		if s.Quantity <= 0 {
			return step, fmt.Errorf("distribute needs a positive quantity")
		}
		if s.MaxGroupPercent != "" {
			pct, err := decimal.NewFromString(s.MaxGroupPercent)
			if err != nil {
				return step, fmt.Errorf("invalid max_group_percent %q: %w", s.MaxGroupPercent, err)
			}
			step.MaxGroupPercent = pct
		}
	case ActionRecord:
		if len(s.Actuals) == 0 {
			return step, fmt.Errorf("record needs actuals")
		}
	case ActionReplicate:
		if s.Quantity < 0 {
			return step, fmt.Errorf("replicate needs a non-negative quantity")
		}
	case ActionScheduleDay:
		if len(s.Spans) == 0 {
			return step, fmt.Errorf("schedule_day needs spans")
		}
		for _, pair := range s.Spans {
			span, err := calendar.ParseSpan(pair[0], pair[1])
			if err != nil {
				return step, err
			}
			step.Spans = append(step.Spans, span)
		}
	case ActionRelocate:
		step.TargetGroupID = planning.GroupID(s.TargetGroupID)
		if step.TargetGroupID == "" {
			step.TargetGroupID = step.GroupID
		}
		step.TargetDate = base.AddDays(s.TargetDay)
		step.AllowOvertime = s.AllowOvertime
	case ActionCancel, ActionClose:
	default:
		return step, fmt.Errorf("unknown action %q", s.Action)
	}
	return step, nil
}
