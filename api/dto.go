/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the planning model from the external API contract, allowing:
  - Field renaming without breaking clients
  - One explicit result shape per operation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Result: Outcome of an engine operation

JSON fields are camelCase. Dates are "2006-01-02", clock times "15:04".

TYPES:
  Distribution:
    DistributeRequest/Result, CancelRequest/Result, ReconcileRequest/Result,
    ReplicateRequest, ScheduleDayRequest/Result, RelocateRequest/Result,
    CloseRequest/Result, DistributionViewDTO, DayDTO, SlotDTO

  Queries:
    QuantitiesDTO, AvailabilityDTO, CalendarDTO

  Master data:
    ModelDTO, GroupDTO, OrderDTO

  Approvals:
    ApproverDTO, ApprovalRequestDTO, DecideRequest

  Reports:
    ReportDTO, AuditEntryDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest, LoadScenarioResponse

VALIDATION:
  Field parsing is done in handlers; range checks belong to the engine.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/scenario.go: ScenarioJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pcp-engine/approval"
	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/factory"
	"github.com/warp/pcp-engine/planning"
	"github.com/warp/pcp-engine/report"
)

// =============================================================================
// DISTRIBUTION TYPES
// =============================================================================

type SpanDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type SlotDTO struct {
	ID            string `json:"id"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Planned       int    `json:"planned"`
	Actual        int    `json:"actual"`
	Loss          int    `json:"loss"`
	Status        string `json:"status"`
	Recorded      bool   `json:"recorded"`
	NeedsApproval bool   `json:"needsApproval"`
	CatchAll      bool   `json:"catchAll,omitempty"`
}

type DayDTO struct {
	Date          string    `json:"date"`
	TotalPlanned  int       `json:"totalPlanned"`
	TotalActual   int       `json:"totalActual"`
	Balance       int       `json:"balance"`
	Carried       int       `json:"carried"`
	Outstanding   int       `json:"outstanding"`
	Status        string    `json:"status"`
	WorkedMinutes int       `json:"workedMinutes"`
	Relocated     bool      `json:"relocated,omitempty"`
	Approval      string    `json:"approval,omitempty"`
	Note          string    `json:"note,omitempty"`
	Slots         []SlotDTO `json:"slots"`
}

type DistributionDTO struct {
	OrderID   string   `json:"orderId"`
	GroupID   string   `json:"groupId"`
	Allocated int      `json:"allocated"`
	Closed    bool     `json:"closed"`
	ClosedAt  *string  `json:"closedAt,omitempty"`
	Days      []DayDTO `json:"days"`
}

type PlacementDTO struct {
	Date          string `json:"date"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Planned       int    `json:"planned"`
	NeedsApproval bool   `json:"needsApproval"`
}

// DistributeRequest asks the allocator to plan a quantity.
// MaxGroupPercent accepts a JSON number or string; omitted means 100.
type DistributeRequest struct {
	OrderID         string           `json:"orderId"`
	GroupID         string           `json:"groupId"`
	StartDate       string           `json:"startDate"`
	Quantity        int              `json:"quantity"`
	ExtraHours      int              `json:"extraHours,omitempty"`
	MaxGroupPercent *decimal.Decimal `json:"maxGroupPercent,omitempty"`
	Actor           string           `json:"actor,omitempty"`
}

type DistributeResult struct {
	DaysUsed           int             `json:"daysUsed"`
	TotalDistributed   int             `json:"totalDistributed"`
	ExtraHoursUsed     int             `json:"extraHoursUsed"`
	ExceedsDeadline    bool            `json:"exceedsDeadline"`
	ApprovalsRequested int             `json:"approvalsRequested"`
	Placements         []PlacementDTO  `json:"placements"`
	Distribution       DistributionDTO `json:"distribution"`
}

// PartialDTO is attached to an insufficient capacity error.
type PartialDTO struct {
	Requested     int            `json:"requested"`
	Placed        int            `json:"placed"`
	LookaheadDays int            `json:"lookaheadDays"`
	Placements    []PlacementDTO `json:"placements"`
}

type CancelRequest struct {
	OrderID string `json:"orderId"`
	GroupID string `json:"groupId"`
	Actor   string `json:"actor,omitempty"`
}

type SurvivorDTO struct {
	Date   string `json:"date"`
	Start  string `json:"start"`
	End    string `json:"end"`
	SlotID string `json:"slotId"`
	Actual int    `json:"actual"`
}

type CancelWarningDTO struct {
	Message   string        `json:"message"`
	Survivors []SurvivorDTO `json:"survivors"`
}

type CancelResult struct {
	RemovedSlots    int               `json:"removedSlots"`
	RemovedQuantity int               `json:"removedQuantity"`
	Warning         *CancelWarningDTO `json:"warning,omitempty"`
}

type SlotUpdateDTO struct {
	SlotID string `json:"slotId"`
	Actual int    `json:"actual"`
	Loss   *int   `json:"loss,omitempty"`
}

type ReconcileRequest struct {
	OrderID     string          `json:"orderId"`
	GroupID     string          `json:"groupId"`
	DayDate     string          `json:"dayDate"`
	SlotUpdates []SlotUpdateDTO `json:"slotUpdates"`
	Propagate   bool            `json:"propagate"`
	Actor       string          `json:"actor,omitempty"`
}

type ReplicateRequest struct {
	OrderID   string `json:"orderId"`
	GroupID   string `json:"groupId"`
	DayDate   string `json:"dayDate"`
	Quantity  int    `json:"quantity"`
	Propagate bool   `json:"propagate"`
	Actor     string `json:"actor,omitempty"`
}

type UnresolvedDTO struct {
	Date   string `json:"date"`
	Amount int    `json:"amount"`
}

// ReconcileResult is returned by reconcile and replicate. Unresolved is
// non-empty when propagation could not absorb the whole balance; the
// readings are saved regardless.
type ReconcileResult struct {
	Day            DayDTO          `json:"day"`
	PropagatedDays []DayDTO        `json:"propagatedDays"`
	Unresolved     []UnresolvedDTO `json:"unresolved,omitempty"`
	Warning        string          `json:"warning,omitempty"`
}

type ScheduleDayRequest struct {
	OrderID string    `json:"orderId"`
	GroupID string    `json:"groupId"`
	Date    string    `json:"date"`
	Spans   []SpanDTO `json:"spans"`
	Note    string    `json:"note,omitempty"`
	Actor   string    `json:"actor,omitempty"`
}

type ScheduleDayResult struct {
	Day           DayDTO         `json:"day"`
	Placements    []PlacementDTO `json:"placements"`
	WorkedMinutes int            `json:"workedMinutes"`
	NeedsApproval bool           `json:"needsApproval"`
	Reason        string         `json:"reason,omitempty"`
}

type RelocateRequest struct {
	OrderID       string `json:"orderId"`
	GroupID       string `json:"groupId"`
	DayDate       string `json:"dayDate"`
	TargetGroupID string `json:"targetGroupId"`
	TargetDate    string `json:"targetDate"`
	AllowOvertime bool   `json:"allowOvertime"`
	ExtraHours    int    `json:"extraHours,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

type RelocateResult struct {
	Relocated        int             `json:"relocated"`
	DaysUsed         int             `json:"daysUsed"`
	TotalDistributed int             `json:"totalDistributed"`
	ExceedsDeadline  bool            `json:"exceedsDeadline"`
	Origin           DistributionDTO `json:"origin"`
	Target           DistributionDTO `json:"target"`
}

type CloseRequest struct {
	OrderID string `json:"orderId"`
	GroupID string `json:"groupId"`
	Actor   string `json:"actor,omitempty"`
}

type CloseResult struct {
	ResidualShortfallApplied int      `json:"residualShortfallApplied"`
	FinalDayDate             *string  `json:"finalDayDate"`
	SettledDays              []string `json:"settledDays"`
}

type DistributionViewDTO struct {
	Order        OrderDTO        `json:"order"`
	Model        ModelDTO        `json:"model"`
	Group        GroupDTO        `json:"group"`
	GroupPlanned int             `json:"groupPlanned"`
	Distribution DistributionDTO `json:"distribution"`
}

// =============================================================================
// QUERY TYPES
// =============================================================================

type QuantitiesDTO struct {
	OrderID    string `json:"orderId"`
	Total      int    `json:"total"`
	Allocated  int    `json:"allocated"`
	Produced   int    `json:"produced"`
	Remaining  int    `json:"remaining"`
	HourlyRate int    `json:"hourlyRate"`
}

type AvailabilityDTO struct {
	Date        string          `json:"date"`
	TotalSlots  int             `json:"totalSlots"`
	Occupied    int             `json:"occupied"`
	Free        int             `json:"free"`
	Utilization decimal.Decimal `json:"utilization"`
}

// CalendarDTO describes the grid of one date.
type CalendarDTO struct {
	Date                 string    `json:"date"`
	Weekday              string    `json:"weekday"`
	Working              bool      `json:"working"`
	WindowStart          string    `json:"windowStart,omitempty"`
	WindowEnd            string    `json:"windowEnd,omitempty"`
	OvertimeLimitMinutes int       `json:"overtimeLimitMinutes"`
	StandardSlots        []SpanDTO `json:"standardSlots"`
	WindowSlots          []SpanDTO `json:"windowSlots"`
	ExtraSlots           []SpanDTO `json:"extraSlots"`
}

// =============================================================================
// MASTER DATA TYPES
// =============================================================================

type ModelDTO struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	HourlyRate int    `json:"hourlyRate"`
	CompanyID  string `json:"companyId,omitempty"`
}

type GroupDTO struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

type OrderDTO struct {
	ID            string  `json:"id"`
	Code          string  `json:"code"`
	ModelID       string  `json:"modelId"`
	TotalQuantity int     `json:"totalQuantity"`
	StartDate     string  `json:"startDate"`
	Deadline      *string `json:"deadline,omitempty"`
	Active        bool    `json:"active"`
}

// =============================================================================
// APPROVAL TYPES
// =============================================================================

type ApproverDTO struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Policy string `json:"policy"`
	Active bool   `json:"active"`
}

type DecisionDTO struct {
	UserID  string `json:"userId"`
	Approve bool   `json:"approve"`
	Comment string `json:"comment,omitempty"`
	At      string `json:"at"`
}

type ApprovalRequestDTO struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"orderId"`
	GroupID       string        `json:"groupId"`
	Date          string        `json:"date"`
	Reason        string        `json:"reason"`
	WorkedMinutes int           `json:"workedMinutes"`
	RequestedBy   string        `json:"requestedBy,omitempty"`
	Status        string        `json:"status"`
	CreatedAt     string        `json:"createdAt"`
	ResolvedAt    *string       `json:"resolvedAt,omitempty"`
	Decisions     []DecisionDTO `json:"decisions"`
}

type DecideRequest struct {
	UserID  string `json:"userId"`
	Comment string `json:"comment,omitempty"`
}

// =============================================================================
// REPORT AND AUDIT TYPES
// =============================================================================

type ReportRowDTO struct {
	Date             string `json:"date"`
	GroupID          string `json:"groupId"`
	GroupDescription string `json:"groupDescription"`
	OrderID          string `json:"orderId"`
	OrderCode        string `json:"orderCode"`
	ModelCode        string `json:"modelCode"`
	Start            string `json:"start"`
	End              string `json:"end"`
	Planned          int    `json:"planned"`
	Actual           int    `json:"actual"`
	Loss             int    `json:"loss"`
	Status           string `json:"status"`
	NeedsApproval    bool   `json:"needsApproval"`
	CatchAll         bool   `json:"catchAll,omitempty"`
}

type GroupSummaryDTO struct {
	GroupID     string          `json:"groupId"`
	Description string          `json:"description"`
	Planned     int             `json:"planned"`
	Actual      int             `json:"actual"`
	Loss        int             `json:"loss"`
	Hours       decimal.Decimal `json:"hours"`
	Efficiency  decimal.Decimal `json:"efficiency"`
}

type ReportDTO struct {
	From        string            `json:"from"`
	To          string            `json:"to"`
	GeneratedAt string            `json:"generatedAt"`
	Rows        []ReportRowDTO    `json:"rows"`
	Groups      []GroupSummaryDTO `json:"groups"`
}

type AuditEntryDTO struct {
	ID      string         `json:"id"`
	At      string         `json:"at"`
	Actor   string         `json:"actor"`
	Action  string         `json:"action"`
	OrderID string         `json:"orderId"`
	GroupID string         `json:"groupId"`
	Payload map[string]any `json:"payload,omitempty"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest names a built-in scenario or carries a custom one.
type LoadScenarioRequest struct {
	ScenarioID string                `json:"scenarioId"`
	Scenario   *factory.ScenarioJSON `json:"scenario,omitempty"`
	// BaseDate defaults to the next Monday.
	BaseDate string `json:"baseDate,omitempty"`
}

type StepResultDTO struct {
	Action  string `json:"action"`
	OrderID string `json:"orderId"`
	GroupID string `json:"groupId"`
	Date    string `json:"date"`
	Warning string `json:"warning,omitempty"`
}

type LoadScenarioResponse struct {
	Status   string          `json:"status"`
	Scenario string          `json:"scenario"`
	BaseDate string          `json:"baseDate"`
	Steps    []StepResultDTO `json:"steps"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details string      `json:"details,omitempty"`
	Field   string      `json:"field,omitempty"`
	Partial *PartialDTO `json:"partial,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

const timeLayout = time.RFC3339

func spanDTO(s calendar.Span) SpanDTO {
	return SpanDTO{Start: s.Start.String(), End: s.End.String()}
}

func spanDTOs(spans []calendar.Span) []SpanDTO {
	out := make([]SpanDTO, 0, len(spans))
	for _, s := range spans {
		out = append(out, spanDTO(s))
	}
	return out
}

func toSlotDTO(s planning.Slot) SlotDTO {
	return SlotDTO{
		ID:            string(s.ID),
		Start:         s.Span.Start.String(),
		End:           s.Span.End.String(),
		Planned:       s.Planned,
		Actual:        s.Actual,
		Loss:          s.Loss,
		Status:        string(s.Status),
		Recorded:      s.Recorded,
		NeedsApproval: s.NeedsApproval,
		CatchAll:      s.CatchAll,
	}
}

func toDayDTO(d planning.Day) DayDTO {
	slots := make([]SlotDTO, 0, len(d.Slots))
	for _, s := range d.Slots {
		slots = append(slots, toSlotDTO(s))
	}
	return DayDTO{
		Date:          d.Date.String(),
		TotalPlanned:  d.TotalPlanned,
		TotalActual:   d.TotalActual,
		Balance:       d.Balance,
		Carried:       d.Carried,
		Outstanding:   d.Outstanding(),
		Status:        string(d.Status()),
		WorkedMinutes: d.WorkedMinutes(),
		Relocated:     d.Relocated,
		Approval:      string(d.Approval),
		Note:          d.Note,
		Slots:         slots,
	}
}

func toDayDTOs(days []planning.Day) []DayDTO {
	out := make([]DayDTO, 0, len(days))
	for _, d := range days {
		out = append(out, toDayDTO(d))
	}
	return out
}

func toDistributionDTO(d *planning.Distribution) DistributionDTO {
	if d == nil {
		return DistributionDTO{Days: []DayDTO{}}
	}
	dto := DistributionDTO{
		OrderID:   string(d.OrderID),
		GroupID:   string(d.GroupID),
		Allocated: d.Allocated(),
		Closed:    d.Closed,
		Days:      toDayDTOs(d.Days),
	}
	if d.ClosedAt != nil {
		at := d.ClosedAt.UTC().Format(timeLayout)
		dto.ClosedAt = &at
	}
	return dto
}

func toPlacementDTOs(ps []planning.Placement) []PlacementDTO {
	out := make([]PlacementDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, PlacementDTO{
			Date:          p.Date.String(),
			Start:         p.Span.Start.String(),
			End:           p.Span.End.String(),
			Planned:       p.Planned,
			NeedsApproval: p.NeedsApproval,
		})
	}
	return out
}

func toModelDTO(m planning.PieceModel) ModelDTO {
	return ModelDTO{ID: string(m.ID), Code: m.Code, HourlyRate: m.HourlyRate, CompanyID: m.CompanyID}
}

func toGroupDTO(g planning.ProductionGroup) GroupDTO {
	return GroupDTO{ID: string(g.ID), Description: g.Description, Active: g.Active}
}

func toOrderDTO(o planning.ProductionOrder) OrderDTO {
	dto := OrderDTO{
		ID:            string(o.ID),
		Code:          o.Code,
		ModelID:       string(o.ModelID),
		TotalQuantity: o.TotalQuantity,
		StartDate:     o.StartDate.String(),
		Active:        o.Active,
	}
	if o.Deadline != nil {
		d := o.Deadline.String()
		dto.Deadline = &d
	}
	return dto
}

func toApproverDTO(a approval.Approver) ApproverDTO {
	return ApproverDTO{UserID: a.UserID, Name: a.Name, Policy: string(a.Policy), Active: a.Active}
}

func toApprovalRequestDTO(r approval.Request) ApprovalRequestDTO {
	dto := ApprovalRequestDTO{
		ID:            r.ID,
		OrderID:       string(r.OrderID),
		GroupID:       string(r.GroupID),
		Date:          r.Date.String(),
		Reason:        string(r.Reason),
		WorkedMinutes: r.WorkedMinutes,
		RequestedBy:   r.RequestedBy,
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt.UTC().Format(timeLayout),
		Decisions:     make([]DecisionDTO, 0, len(r.Decisions)),
	}
	if r.ResolvedAt != nil {
		at := r.ResolvedAt.UTC().Format(timeLayout)
		dto.ResolvedAt = &at
	}
	for _, d := range r.Decisions {
		dto.Decisions = append(dto.Decisions, DecisionDTO{
			UserID:  d.UserID,
			Approve: d.Approve,
			Comment: d.Comment,
			At:      d.At.UTC().Format(timeLayout),
		})
	}
	return dto
}

func toReportDTO(r *report.Report) ReportDTO {
	dto := ReportDTO{
		From:        r.Filter.From.String(),
		To:          r.Filter.To.String(),
		GeneratedAt: r.GeneratedAt.UTC().Format(timeLayout),
		Rows:        make([]ReportRowDTO, 0, len(r.Rows)),
		Groups:      make([]GroupSummaryDTO, 0, len(r.Groups)),
	}
	for _, row := range r.Rows {
		dto.Rows = append(dto.Rows, ReportRowDTO{
			Date:             row.Date.String(),
			GroupID:          string(row.GroupID),
			GroupDescription: row.GroupDescription,
			OrderID:          string(row.OrderID),
			OrderCode:        row.OrderCode,
			ModelCode:        row.ModelCode,
			Start:            row.Span.Start.String(),
			End:              row.Span.End.String(),
			Planned:          row.Planned,
			Actual:           row.Actual,
			Loss:             row.Loss,
			Status:           string(row.Status),
			NeedsApproval:    row.NeedsApproval,
			CatchAll:         row.CatchAll,
		})
	}
	for _, g := range r.Groups {
		dto.Groups = append(dto.Groups, GroupSummaryDTO{
			GroupID:     string(g.GroupID),
			Description: g.Description,
			Planned:     g.Planned,
			Actual:      g.Actual,
			Loss:        g.Loss,
			Hours:       g.Hours,
			Efficiency:  g.Efficiency,
		})
	}
	return dto
}

func toAuditEntryDTO(e planning.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:      e.ID,
		At:      e.At.UTC().Format(timeLayout),
		Actor:   e.Actor,
		Action:  string(e.Action),
		OrderID: string(e.OrderID),
		GroupID: string(e.GroupID),
		Payload: e.Payload,
	}
}
