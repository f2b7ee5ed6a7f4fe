/*
handlers.go - HTTP API handlers for the production planning engine

PURPOSE:
  Exposes the planning engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to planning.Service and
  approval.Workflow. No balance or capacity math happens here.

ENDPOINTS:
  Distributions:
    POST   /api/distributions/distribute    Plan a quantity on a group
    POST   /api/distributions/cancel        Remove unexecuted slots
    GET    /api/distributions               View an order/group distribution
    POST   /api/distributions/reconcile     Record slot actuals
    POST   /api/distributions/replicate     Spread one reading over a day
    POST   /api/distributions/schedule-day  Plan explicit spans on a day
    POST   /api/distributions/relocate      Re-plan a shortfall elsewhere
    POST   /api/distributions/close         Settle and close

  Queries:
    GET    /api/calendar?date=              Window and grid of a date
    GET    /api/orders/{id}/quantities      Order totals across groups
    GET    /api/groups/{id}/availability    Slot occupancy per day

  Master data:
    GET|POST /api/models, /api/groups, /api/orders

  Approvals:
    GET    /api/approvals/pending
    POST   /api/approvals/{id}/approve|reject
    GET|POST /api/approvers, PUT /api/approvers/{userId}
    POST   /api/admin/approvals/sweep       Run the approval sweep now

  Reports:
    GET    /api/reports/calendar            JSON, or XLSX with format=xlsx
    GET    /api/audit?orderId=

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Decision by a user who is not an active approver
  - 404: Resource not found
  - 409: Closed distribution, resolved request, concurrent modification
  - 422: Insufficient capacity (body carries the partial placement)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The acting user is taken from the request body
  "actor" field or the X-User-ID header.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/factory"
	"github.com/warp/pcp-engine/planning"
	"github.com/warp/pcp-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the storage the handlers read directly. Engine writes go
// through planning.Service.
type Store interface {
	planning.Store
	planning.MasterDataStore
	planning.AuditLog
	report.Source
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *planning.Service
	Workflow *approval.Workflow
	Store    Store
	Factory  *factory.ScenarioFactory
	Log      *slog.Logger

	// Now is the clock used for report timestamps and default dates.
	Now func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over an already wired service and workflow.
func NewHandler(svc *planning.Service, wf *approval.Workflow, store Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Service:  svc,
		Workflow: wf,
		Store:    store,
		Factory:  factory.NewScenarioFactory(),
		Log:      log,
		Now:      time.Now,
	}
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.Log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (h *Handler) today() calendar.Date {
	return calendar.FromTime(h.Now())
}

// =============================================================================
// DISTRIBUTION HANDLERS
// =============================================================================

// Distribute plans a quantity on a group from a start date.
func (h *Handler) Distribute(w http.ResponseWriter, r *http.Request) {
	const op = "api.Distribute"
	log := h.logger(r, op)

	var req DistributeRequest
	if !decode(w, r, log, &req) {
		return
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	pct := decimal.Zero
	if req.MaxGroupPercent != nil {
		pct = *req.MaxGroupPercent
	}

	out, err := h.Service.Distribute(r.Context(), planning.DistributeCommand{
		OrderID:         planning.OrderID(req.OrderID),
		GroupID:         planning.GroupID(req.GroupID),
		StartDate:       start,
		Quantity:        req.Quantity,
		ExtraHours:      req.ExtraHours,
		MaxGroupPercent: pct,
		Actor:           actor(r, req.Actor),
	})
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}

	log.Info("distributed",
		slog.String("order_id", req.OrderID),
		slog.Int("quantity", out.Result.TotalDistributed),
		slog.Int("days_used", out.Result.DaysUsed),
	)
	writeJSON(w, r, http.StatusOK, DistributeResult{
		DaysUsed:           out.Result.DaysUsed,
		TotalDistributed:   out.Result.TotalDistributed,
		ExtraHoursUsed:     out.Result.ExtraHoursUsed,
		ExceedsDeadline:    out.Result.ExceedsDeadline,
		ApprovalsRequested: len(out.Approvals),
		Placements:         toPlacementDTOs(out.Result.Placements),
		Distribution:       toDistributionDTO(out.Distribution),
	})
}

// Cancel removes every slot of the order on the group that has no output.
// Slots with output are kept and listed in the warning.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	const op = "api.Cancel"
	log := h.logger(r, op)

	var req CancelRequest
	if !decode(w, r, log, &req) {
		return
	}
	res, err := h.Service.Cancel(r.Context(), planning.OrderID(req.OrderID), planning.GroupID(req.GroupID), actor(r, req.Actor))
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}

	dto := CancelResult{RemovedSlots: res.RemovedSlots, RemovedQuantity: res.RemovedQuantity}
	if res.Warning != nil {
		dto.Warning = &CancelWarningDTO{Message: res.Warning.Error()}
		for _, s := range res.Warning.Survivors {
			dto.Warning.Survivors = append(dto.Warning.Survivors, SurvivorDTO{
				Date:   s.Date.String(),
				Start:  s.Span.Start.String(),
				End:    s.Span.End.String(),
				SlotID: string(s.SlotID),
				Actual: s.Actual,
			})
		}
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// GetDistribution returns the distribution of orderId on groupId, limited
// to [from, from+days) when from is given.
func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	const op = "api.GetDistribution"
	log := h.logger(r, op)

	q := r.URL.Query()
	var (
		from calendar.Date
		days int
		err  error
	)
	if v := q.Get("from"); v != "" {
		if from, err = parseDate("from", v); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		days = h.Service.LookaheadDays()
	}
	if v := q.Get("days"); v != "" {
		if days, err = parseInt("days", v); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
	}

	view, err := h.Service.View(r.Context(), planning.OrderID(q.Get("orderId")), planning.GroupID(q.Get("groupId")), from, days)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, DistributionViewDTO{
		Order:        toOrderDTO(view.Order),
		Model:        toModelDTO(view.Model),
		Group:        toGroupDTO(view.Group),
		GroupPlanned: view.GroupPlanned,
		Distribution: toDistributionDTO(view.Distribution),
	})
}

// Reconcile records slot actuals for a day.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	const op = "api.Reconcile"
	log := h.logger(r, op)

	var req ReconcileRequest
	if !decode(w, r, log, &req) {
		return
	}
	day, err := parseDate("dayDate", req.DayDate)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	updates := make([]planning.SlotUpdate, 0, len(req.SlotUpdates))
	for _, u := range req.SlotUpdates {
		updates = append(updates, planning.SlotUpdate{SlotID: planning.SlotID(u.SlotID), Actual: u.Actual, Loss: u.Loss})
	}

	out, err := h.Service.Reconcile(r.Context(), planning.ReconcileCommand{
		OrderID:   planning.OrderID(req.OrderID),
		GroupID:   planning.GroupID(req.GroupID),
		DayDate:   day,
		Updates:   updates,
		Propagate: req.Propagate,
		Actor:     actor(r, req.Actor),
	})
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toReconcileResult(out))
}

// Replicate spreads one quantity over the slots of a day.
func (h *Handler) Replicate(w http.ResponseWriter, r *http.Request) {
	const op = "api.Replicate"
	log := h.logger(r, op)

	var req ReplicateRequest
	if !decode(w, r, log, &req) {
		return
	}
	day, err := parseDate("dayDate", req.DayDate)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}

	out, err := h.Service.Replicate(r.Context(), planning.ReplicateCommand{
		OrderID:   planning.OrderID(req.OrderID),
		GroupID:   planning.GroupID(req.GroupID),
		DayDate:   day,
		Quantity:  req.Quantity,
		Propagate: req.Propagate,
		Actor:     actor(r, req.Actor),
	})
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toReconcileResult(out))
}

func toReconcileResult(out *planning.ReconcileOutcome) ReconcileResult {
	res := ReconcileResult{
		Day:            toDayDTO(out.Day),
		PropagatedDays: toDayDTOs(out.Propagated),
	}
	for _, u := range out.Unresolved {
		res.Unresolved = append(res.Unresolved, UnresolvedDTO{Date: u.Date.String(), Amount: u.Amount})
	}
	if err := out.Err(); err != nil {
		res.Warning = err.Error()
	}
	return res
}

// ScheduleDay plans explicit spans on one day.
func (h *Handler) ScheduleDay(w http.ResponseWriter, r *http.Request) {
	const op = "api.ScheduleDay"
	log := h.logger(r, op)

	var req ScheduleDayRequest
	if !decode(w, r, log, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	spans := make([]calendar.Span, 0, len(req.Spans))
	for _, s := range req.Spans {
		span, err := calendar.ParseSpan(s.Start, s.End)
		if err != nil {
			writeServiceError(w, r, log, &planning.ValidationError{Field: "spans", Message: err.Error()})
			return
		}
		spans = append(spans, span)
	}

	out, err := h.Service.ScheduleDay(r.Context(), planning.ScheduleDayCommand{
		OrderID: planning.OrderID(req.OrderID),
		GroupID: planning.GroupID(req.GroupID),
		Date:    date,
		Spans:   spans,
		Note:    req.Note,
		Actor:   actor(r, req.Actor),
	})
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ScheduleDayResult{
		Day:           toDayDTO(out.Day),
		Placements:    toPlacementDTOs(out.Result.Placements),
		WorkedMinutes: out.Result.WorkedMinutes,
		NeedsApproval: out.Result.NeedsApproval,
		Reason:        string(out.Result.Reason),
	})
}

// Relocate re-plans a day's outstanding shortfall on a target group.
func (h *Handler) Relocate(w http.ResponseWriter, r *http.Request) {
	const op = "api.Relocate"
	log := h.logger(r, op)

	var req RelocateRequest
	if !decode(w, r, log, &req) {
		return
	}
	day, err := parseDate("dayDate", req.DayDate)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	target, err := parseDate("targetDate", req.TargetDate)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}

	out, err := h.Service.Relocate(r.Context(), planning.RelocateCommand{
		OrderID:       planning.OrderID(req.OrderID),
		GroupID:       planning.GroupID(req.GroupID),
		DayDate:       day,
		TargetGroupID: planning.GroupID(req.TargetGroupID),
		TargetDate:    target,
		AllowOvertime: req.AllowOvertime,
		ExtraHours:    req.ExtraHours,
		Actor:         actor(r, req.Actor),
	})
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, RelocateResult{
		Relocated:        out.Relocated,
		DaysUsed:         out.Result.DaysUsed,
		TotalDistributed: out.Result.TotalDistributed,
		ExceedsDeadline:  out.Result.ExceedsDeadline,
		Origin:           toDistributionDTO(out.Origin),
		Target:           toDistributionDTO(out.Target),
	})
}

// Close settles the remaining shortfall and closes the distribution.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	const op = "api.Close"
	log := h.logger(r, op)

	var req CloseRequest
	if !decode(w, r, log, &req) {
		return
	}
	res, err := h.Service.Close(r.Context(), planning.OrderID(req.OrderID), planning.GroupID(req.GroupID), actor(r, req.Actor))
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}

	dto := CloseResult{ResidualShortfallApplied: res.ResidualShortfallApplied, SettledDays: []string{}}
	if res.FinalDayDate != nil {
		d := res.FinalDayDate.String()
		dto.FinalDayDate = &d
	}
	for _, d := range res.SettledDays {
		dto.SettledDays = append(dto.SettledDays, d.String())
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// =============================================================================
// QUERY HANDLERS
// =============================================================================

// GetCalendar describes the working window and slot grid of a date.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	date := h.today()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := parseDate("date", v)
		if err != nil {
			writeServiceError(w, r, h.logger(r, "api.GetCalendar"), err)
			return
		}
		date = d
	}

	dto := CalendarDTO{
		Date:                 date.String(),
		Weekday:              date.Weekday().String(),
		OvertimeLimitMinutes: calendar.OvertimeLimit(date),
		StandardSlots:        spanDTOs(calendar.StandardSlots()),
		WindowSlots:          spanDTOs(calendar.WindowSlots(date)),
		ExtraSlots:           spanDTOs(calendar.ExtraSlots(date)),
	}
	if win, ok := calendar.AllowedWindow(date); ok {
		dto.Working = true
		dto.WindowStart = win.Start.String()
		dto.WindowEnd = win.End.String()
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (h *Handler) GetQuantities(w http.ResponseWriter, r *http.Request) {
	q, err := h.Service.Quantities(r.Context(), planning.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, r, h.logger(r, "api.GetQuantities"), err)
		return
	}
	writeJSON(w, r, http.StatusOK, QuantitiesDTO{
		OrderID:    string(q.OrderID),
		Total:      q.Total,
		Allocated:  q.Allocated,
		Produced:   q.Produced,
		Remaining:  q.Remaining,
		HourlyRate: q.HourlyRate,
	})
}

// GetAvailability reports slot occupancy of a group. Defaults: from today,
// seven days.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	const op = "api.GetAvailability"
	log := h.logger(r, op)

	q := r.URL.Query()
	from := h.today()
	days := 7
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = parseDate("from", v); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
	}
	if v := q.Get("days"); v != "" {
		if days, err = parseInt("days", v); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
	}

	avail, err := h.Service.Availability(r.Context(), planning.GroupID(chi.URLParam(r, "id")), from, days)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	dtos := make([]AvailabilityDTO, 0, len(avail))
	for _, a := range avail {
		dtos = append(dtos, AvailabilityDTO{
			Date:        a.Date.String(),
			TotalSlots:  a.TotalSlots,
			Occupied:    a.Occupied,
			Free:        a.Free,
			Utilization: a.Utilization,
		})
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// =============================================================================
// MASTER DATA HANDLERS
// =============================================================================

func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.Store.ListModels(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger(r, "api.ListModels"), err)
		return
	}
	dtos := make([]ModelDTO, 0, len(models))
	for _, m := range models {
		dtos = append(dtos, toModelDTO(m))
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

func (h *Handler) CreateModel(w http.ResponseWriter, r *http.Request) {
	const op = "api.CreateModel"
	log := h.logger(r, op)

	var req ModelDTO
	if !decode(w, r, log, &req) {
		return
	}
	if req.ID == "" {
		writeServiceError(w, r, log, &planning.ValidationError{Field: "id", Message: "is required"})
		return
	}
	if req.HourlyRate < 0 {
		writeServiceError(w, r, log, &planning.ValidationError{Field: "hourlyRate", Message: "must not be negative"})
		return
	}
	m := planning.PieceModel{ID: planning.ModelID(req.ID), Code: req.Code, HourlyRate: req.HourlyRate, CompanyID: req.CompanyID}
	if err := h.Store.SaveModel(r.Context(), m); err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toModelDTO(m))
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListGroups(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger(r, "api.ListGroups"), err)
		return
	}
	dtos := make([]GroupDTO, 0, len(groups))
	for _, g := range groups {
		dtos = append(dtos, toGroupDTO(g))
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	const op = "api.CreateGroup"
	log := h.logger(r, op)

	var req GroupDTO
	if !decode(w, r, log, &req) {
		return
	}
	if req.ID == "" {
		writeServiceError(w, r, log, &planning.ValidationError{Field: "id", Message: "is required"})
		return
	}
	g := planning.ProductionGroup{ID: planning.GroupID(req.ID), Description: req.Description, Active: req.Active}
	if err := h.Store.SaveGroup(r.Context(), g); err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toGroupDTO(g))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Store.ListOrders(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger(r, "api.ListOrders"), err)
		return
	}
	dtos := make([]OrderDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, toOrderDTO(o))
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// CreateOrder registers an order. The model must exist.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	const op = "api.CreateOrder"
	log := h.logger(r, op)

	var req OrderDTO
	if !decode(w, r, log, &req) {
		return
	}
	if req.ID == "" {
		writeServiceError(w, r, log, &planning.ValidationError{Field: "id", Message: "is required"})
		return
	}
	if req.TotalQuantity <= 0 {
		writeServiceError(w, r, log, &planning.ValidationError{Field: "totalQuantity", Message: "must be positive"})
		return
	}
	start := h.today()
	if req.StartDate != "" {
		d, err := parseDate("startDate", req.StartDate)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		start = d
	}
	o := planning.ProductionOrder{
		ID:            planning.OrderID(req.ID),
		Code:          req.Code,
		ModelID:       planning.ModelID(req.ModelID),
		TotalQuantity: req.TotalQuantity,
		StartDate:     start,
		Active:        true,
	}
	if req.Deadline != nil {
		d, err := parseDate("deadline", *req.Deadline)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		o.Deadline = &d
	}
	if _, err := h.Store.GetModel(r.Context(), o.ModelID); err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	if err := h.Store.SaveOrder(r.Context(), o); err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toOrderDTO(o))
}

// =============================================================================
// APPROVAL HANDLERS
// =============================================================================

func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Workflow.ListPending(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger(r, "api.ListPendingApprovals"), err)
		return
	}
	dtos := make([]ApprovalRequestDTO, 0, len(reqs))
	for _, req := range reqs {
		dtos = append(dtos, toApprovalRequestDTO(req))
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	const op = "api.Decide"
	log := h.logger(r, op)

	var req DecideRequest
	if !decode(w, r, log, &req) {
		return
	}
	userID := actor(r, req.UserID)
	if userID == defaultActor {
		writeServiceError(w, r, log, &planning.ValidationError{Field: "userId", Message: "is required"})
		return
	}

	res, err := h.Workflow.Decide(r.Context(), chi.URLParam(r, "id"), userID, approve, req.Comment)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	log.Info("approval decision",
		slog.String("request_id", res.ID),
		slog.String("user_id", userID),
		slog.Bool("approve", approve),
		slog.String("status", string(res.Status)),
	)
	writeJSON(w, r, http.StatusOK, toApprovalRequestDTO(*res))
}

func (h *Handler) ListApprovers(w http.ResponseWriter, r *http.Request) {
	approvers, err := h.Workflow.ListApprovers(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger(r, "api.ListApprovers"), err)
		return
	}
	dtos := make([]ApproverDTO, 0, len(approvers))
	for _, a := range approvers {
		dtos = append(dtos, toApproverDTO(a))
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// SaveApprover handles both POST /approvers and PUT /approvers/{userId}.
// On PUT the path wins over the body.
func (h *Handler) SaveApprover(w http.ResponseWriter, r *http.Request) {
	const op = "api.SaveApprover"
	log := h.logger(r, op)

	var req ApproverDTO
	if !decode(w, r, log, &req) {
		return
	}
	if id := chi.URLParam(r, "userId"); id != "" {
		req.UserID = id
	}
	a := approval.Approver{UserID: req.UserID, Name: req.Name, Policy: approval.Policy(req.Policy), Active: req.Active}
	if err := h.Workflow.SaveApprover(r.Context(), a); err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	status := http.StatusCreated
	if r.Method == http.MethodPut {
		status = http.StatusOK
	}
	writeJSON(w, r, status, toApproverDTO(a))
}

// SweepApprovals re-raises lost triggers and resolves decided requests now.
func (h *Handler) SweepApprovals(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.Workflow.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger(r, "api.SweepApprovals"), err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"resolved": resolved})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// CalendarReport lists slot rows for a date range. format=xlsx streams a
// workbook instead of JSON.
func (h *Handler) CalendarReport(w http.ResponseWriter, r *http.Request) {
	const op = "api.CalendarReport"
	log := h.logger(r, op)

	q := r.URL.Query()
	f := report.Filter{
		OrderCode: q.Get("orderCode"),
		ModelCode: q.Get("modelCode"),
		GroupID:   planning.GroupID(q.Get("group")),
	}
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = parseDate("from", v); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = parseDate("to", v); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
	}

	rep, err := report.Build(r.Context(), h.Store, f, h.Now())
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}

	if q.Get("format") == "xlsx" {
		name := fmt.Sprintf("calendario_%s_%s.xlsx", f.From, f.To)
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if err := report.WriteXLSX(w, rep); err != nil {
			// Headers may already be out; log only.
			log.Error("write xlsx failed", slog.String("error", err.Error()))
		}
		return
	}
	writeJSON(w, r, http.StatusOK, toReportDTO(rep))
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListAudit(r.Context(), planning.OrderID(r.URL.Query().Get("orderId")))
	if err != nil {
		writeServiceError(w, r, h.logger(r, "api.ListAudit"), err)
		return
	}
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditEntryDTO(e))
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

const defaultActor = "api"

// actor picks the acting user: explicit value, then X-User-ID, then "api".
func actor(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if h := r.Header.Get("X-User-ID"); h != "" {
		return h
	}
	return defaultActor
}

func decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		log.Warn("invalid request body", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return false
	}
	return true
}

func parseDate(field, s string) (calendar.Date, error) {
	if s == "" {
		return calendar.Date{}, &planning.ValidationError{Field: field, Message: "is required"}
	}
	d, err := calendar.ParseDate(s)
	if err != nil {
		return calendar.Date{}, &planning.ValidationError{Field: field, Message: err.Error()}
	}
	return d, nil
}

func parseInt(field, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &planning.ValidationError{Field: field, Message: "must be an integer"}
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse) {
	writeJSON(w, r, status, body)
}

// statusFor maps engine and workflow errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case planning.IsClientError(err),
		errors.Is(err, approval.ErrInvalidPolicy),
		errors.Is(err, approval.ErrInvalidApprover):
		return http.StatusBadRequest
	case errors.Is(err, approval.ErrNotApprover):
		return http.StatusForbidden
	case planning.IsNotFound(err),
		errors.Is(err, approval.ErrRequestNotFound),
		errors.Is(err, approval.ErrApproverNotFound):
		return http.StatusNotFound
	case errors.Is(err, planning.ErrDistributionClosed),
		errors.Is(err, planning.ErrConcurrentModification),
		errors.Is(err, approval.ErrApprovalResolved),
		errors.Is(err, approval.ErrAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, planning.ErrInsufficientCapacity),
		errors.Is(err, planning.ErrUnresolvedBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := statusFor(err)
	body := ErrorResponse{Error: http.StatusText(status), Details: err.Error()}

	var ve *planning.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	var ice *planning.InsufficientCapacityError
	if errors.As(err, &ice) {
		body.Partial = &PartialDTO{
			Requested:     ice.Requested,
			Placed:        ice.Placed,
			LookaheadDays: ice.LookaheadDays,
			Placements:    []PlacementDTO{},
		}
		if ice.Partial != nil {
			body.Partial.Placements = toPlacementDTOs(ice.Partial.Placements)
		}
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("error", err.Error()))
	} else {
		log.Info("request rejected", slog.Int("status", status), slog.String("error", err.Error()))
	}
	writeError(w, r, status, body)
}
