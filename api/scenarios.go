/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Replays JSON scenarios against the engine so a fresh database shows a
	realistic production week. Each scenario creates master data and
	approvers, then runs its steps through planning.Service exactly as the
	API would.

AVAILABLE SCENARIOS:

	scenario-a:  100 units on an empty Monday
	scenario-b:  a busy group pushes the run into Tuesday
	scenario-c:  a Monday shortfall propagates onto Tuesday
	scenario-d:  closing adds a catch-all slot for the last shortfall
	overtime:    extra hours and a long Saturday wait for approval
	relocation:  a shortfall is re-planned on another group

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Parse the scenario against a base date (next Monday by default)
 3. Save models, groups, orders and approvers
 4. Run each step; "record" steps fill the day's slots in time order
 5. Sweep approvals so overtime requests exist when the call returns

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "scenario-c"}

	A custom definition can be posted in "scenario" instead.

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - factory/scenario.go: JSON schema and parsing
  - factory/presets.go: built-in definitions
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/factory"
	"github.com/warp/pcp-engine/planning"
)

const scenarioActor = "scenario"

// ListScenarios returns the built-in scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := h.presets(calendar.NextMonday(h.today()))
	if err != nil {
		writeServiceError(w, r, h.logger(r, "api.ListScenarios"), err)
		return
	}
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, sc := range scenarios {
		dtos = append(dtos, toScenarioDTO(sc))
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, r, http.StatusOK, nil)
		return
	}

	scenarios, err := h.presets(calendar.NextMonday(h.today()))
	if err == nil {
		for _, sc := range scenarios {
			if sc.ID == current {
				writeJSON(w, r, http.StatusOK, toScenarioDTO(sc))
				return
			}
		}
	}

	// Custom scenario
	writeJSON(w, r, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
		Category:    "custom",
	})
}

// LoadScenario resets the database and replays a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	const op = "api.LoadScenario"
	log := h.logger(r, op)

	var req LoadScenarioRequest
	if !decode(w, r, log, &req) {
		return
	}

	base := calendar.NextMonday(h.today())
	if req.BaseDate != "" {
		d, err := parseDate("baseDate", req.BaseDate)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		base = d
	}

	sc, err := h.resolveScenario(req, base)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "Unknown or invalid scenario", Details: err.Error()})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "Failed to reset database", Details: err.Error()})
		return
	}
	h.currentScenario = ""

	steps, err := h.loadScenario(ctx, sc)
	if err != nil {
		log.Error("scenario load failed", slog.String("scenario", sc.ID), slog.String("error", err.Error()))
		writeServiceError(w, r, log, err)
		return
	}
	h.currentScenario = sc.ID

	log.Info("scenario loaded", slog.String("scenario", sc.ID), slog.String("base", base.String()), slog.Int("steps", len(steps)))
	writeJSON(w, r, http.StatusOK, LoadScenarioResponse{
		Status:   "loaded",
		Scenario: sc.ID,
		BaseDate: base.String(),
		Steps:    steps,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "Failed to reset database", Details: err.Error()})
		return
	}
	h.currentScenario = ""
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADING
// =============================================================================

func (h *Handler) presets(base calendar.Date) ([]*factory.Scenario, error) {
	out := make([]*factory.Scenario, 0, len(factory.Presets()))
	for _, js := range factory.Presets() {
		sc, err := h.Factory.Parse(js, base)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

func (h *Handler) resolveScenario(req LoadScenarioRequest, base calendar.Date) (*factory.Scenario, error) {
	if req.Scenario != nil {
		return h.Factory.Build(*req.Scenario, base)
	}
	scenarios, err := h.presets(base)
	if err != nil {
		return nil, err
	}
	for _, sc := range scenarios {
		if sc.ID == req.ScenarioID {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("scenario %q not found", req.ScenarioID)
}

// loadScenario writes the master data and runs every step. The store must
// already be empty.
func (h *Handler) loadScenario(ctx context.Context, sc *factory.Scenario) ([]StepResultDTO, error) {
	for _, m := range sc.Models {
		if err := h.Store.SaveModel(ctx, m); err != nil {
			return nil, err
		}
	}
	for _, g := range sc.Groups {
		if err := h.Store.SaveGroup(ctx, g); err != nil {
			return nil, err
		}
	}
	for _, o := range sc.Orders {
		if err := h.Store.SaveOrder(ctx, o); err != nil {
			return nil, err
		}
	}
	for _, a := range sc.Approvers {
		if err := h.Workflow.SaveApprover(ctx, a); err != nil {
			return nil, err
		}
	}

	results := make([]StepResultDTO, 0, len(sc.Steps))
	for i, step := range sc.Steps {
		warning, err := h.runStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		results = append(results, StepResultDTO{
			Action:  string(step.Action),
			OrderID: string(step.OrderID),
			GroupID: string(step.GroupID),
			Date:    step.Date.String(),
			Warning: warning,
		})
	}

	if len(sc.Approvers) > 0 {
		if _, err := h.Workflow.Sweep(ctx); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// runStep executes one step. A non-empty warning reports a partial
// outcome that did not fail the step.
func (h *Handler) runStep(ctx context.Context, step factory.Step) (string, error) {
	switch step.Action {
	case factory.ActionDistribute:
		_, err := h.Service.Distribute(ctx, planning.DistributeCommand{
			OrderID:         step.OrderID,
			GroupID:         step.GroupID,
			StartDate:       step.Date,
			Quantity:        step.Quantity,
			ExtraHours:      step.ExtraHours,
			MaxGroupPercent: step.MaxGroupPercent,
			Actor:           scenarioActor,
		})
		return "", err

	case factory.ActionRecord:
		updates, err := h.positionalUpdates(ctx, step)
		if err != nil {
			return "", err
		}
		out, err := h.Service.Reconcile(ctx, planning.ReconcileCommand{
			OrderID:   step.OrderID,
			GroupID:   step.GroupID,
			DayDate:   step.Date,
			Updates:   updates,
			Propagate: step.Propagate,
			Actor:     scenarioActor,
		})
		if err != nil {
			return "", err
		}
		return warningOf(out.Err()), nil

	case factory.ActionReplicate:
		out, err := h.Service.Replicate(ctx, planning.ReplicateCommand{
			OrderID:   step.OrderID,
			GroupID:   step.GroupID,
			DayDate:   step.Date,
			Quantity:  step.Quantity,
			Propagate: step.Propagate,
			Actor:     scenarioActor,
		})
		if err != nil {
			return "", err
		}
		return warningOf(out.Err()), nil

	case factory.ActionScheduleDay:
		_, err := h.Service.ScheduleDay(ctx, planning.ScheduleDayCommand{
			OrderID: step.OrderID,
			GroupID: step.GroupID,
			Date:    step.Date,
			Spans:   step.Spans,
			Actor:   scenarioActor,
		})
		return "", err

	case factory.ActionRelocate:
		_, err := h.Service.Relocate(ctx, planning.RelocateCommand{
			OrderID:       step.OrderID,
			GroupID:       step.GroupID,
			DayDate:       step.Date,
			TargetGroupID: step.TargetGroupID,
			TargetDate:    step.TargetDate,
			AllowOvertime: step.AllowOvertime,
			Actor:         scenarioActor,
		})
		return "", err

	case factory.ActionCancel:
		res, err := h.Service.Cancel(ctx, step.OrderID, step.GroupID, scenarioActor)
		if err != nil {
			return "", err
		}
		if res.Warning != nil {
			return res.Warning.Error(), nil
		}
		return "", nil

	case factory.ActionClose:
		_, err := h.Service.Close(ctx, step.OrderID, step.GroupID, scenarioActor)
		return "", err
	}
	return "", fmt.Errorf("unknown action %q", step.Action)
}

// positionalUpdates maps step.Actuals onto the day's slots in time order.
func (h *Handler) positionalUpdates(ctx context.Context, step factory.Step) ([]planning.SlotUpdate, error) {
	view, err := h.Service.View(ctx, step.OrderID, step.GroupID, step.Date, 1)
	if err != nil {
		return nil, err
	}
	day := view.Distribution.Day(step.Date)
	if day == nil {
		return nil, fmt.Errorf("%w: %s", planning.ErrDayNotFound, step.Date)
	}
	if len(step.Actuals) > len(day.Slots) {
		return nil, &planning.ValidationError{
			Field:   "actuals",
			Message: fmt.Sprintf("%d readings for %d slots on %s", len(step.Actuals), len(day.Slots), step.Date),
		}
	}

	updates := make([]planning.SlotUpdate, 0, len(step.Actuals))
	for i, actual := range step.Actuals {
		updates = append(updates, planning.SlotUpdate{SlotID: day.Slots[i].ID, Actual: actual})
	}
	return updates, nil
}

func warningOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func toScenarioDTO(sc *factory.Scenario) ScenarioDTO {
	return ScenarioDTO{ID: sc.ID, Name: sc.Name, Description: sc.Description, Category: sc.Category}
}
