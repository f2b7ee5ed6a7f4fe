/*
report.go - Calendar report: planned vs. actual per slot over a date range

PURPOSE:
  Flattens every slot in a date range into rows for the planners' calendar
  view and export, with a per-group summary. Filters narrow by order code,
  model code and group.

SOURCES:
  Rows and the group list come from the store (Source). Build fetches both
  concurrently and adds groups without rows so the summary lists every
  active group.

SEE ALSO:
  - xlsx.go: spreadsheet export of a Report
  - api/handlers.go: GET /api/reports/calendar
*/
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/pcp-engine/calendar"
	"github.com/warp/pcp-engine/planning"
)

// MaxRangeDays bounds a single report.
const MaxRangeDays = 366

type Filter struct {
	From      calendar.Date
	To        calendar.Date
	OrderCode string
	ModelCode string
	GroupID   planning.GroupID
}

func (f Filter) Validate() error {
	if f.From.IsZero() || f.To.IsZero() {
		return &planning.ValidationError{Field: "from/to", Message: "both dates are required"}
	}
	if f.To.Before(f.From) {
		return &planning.ValidationError{Field: "to", Message: fmt.Sprintf("%s is before %s", f.To, f.From)}
	}
	if calendar.DaysBetween(f.From, f.To) > MaxRangeDays {
		return &planning.ValidationError{Field: "to", Message: fmt.Sprintf("range exceeds %d days", MaxRangeDays)}
	}
	return nil
}

// Row is one slot of the calendar.
type Row struct {
	Date             calendar.Date
	GroupID          planning.GroupID
	GroupDescription string
	OrderID          planning.OrderID
	OrderCode        string
	ModelCode        string
	Span             calendar.Span
	Planned          int
	Actual           int
	Loss             int
	Status           planning.SlotStatus
	NeedsApproval    bool
	CatchAll         bool
}

// GroupSummary totals the rows of one group.
type GroupSummary struct {
	GroupID     planning.GroupID
	Description string
	Planned     int
	Actual      int
	Loss        int
	Hours       decimal.Decimal
	// Efficiency is actual/planned in percent, zero without plan.
	Efficiency decimal.Decimal
}

type Report struct {
	Filter      Filter
	Rows        []Row
	Groups      []GroupSummary
	GeneratedAt time.Time
}

// Source reads report data.
type Source interface {
	CalendarRows(ctx context.Context, f Filter) ([]Row, error)
	ListGroups(ctx context.Context) ([]planning.ProductionGroup, error)
}

// Build assembles the report for f.
func Build(ctx context.Context, src Source, f Filter, now time.Time) (*Report, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var (
		rows   []Row
		groups []planning.ProductionGroup
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = src.CalendarRows(gctx, f)
		if err != nil {
			return fmt.Errorf("load calendar rows: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		groups, err = src.ListGroups(gctx)
		if err != nil {
			return fmt.Errorf("load groups: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return a.Span.Less(b.Span)
	})

	return &Report{
		Filter:      f,
		Rows:        rows,
		Groups:      summarize(rows, groups, f),
		GeneratedAt: now,
	}, nil
}

func summarize(rows []Row, groups []planning.ProductionGroup, f Filter) []GroupSummary {
	byID := make(map[planning.GroupID]*GroupSummary)
	var order []planning.GroupID

	add := func(id planning.GroupID, desc string) *GroupSummary {
		if s, ok := byID[id]; ok {
			return s
		}
		s := &GroupSummary{GroupID: id, Description: desc, Hours: decimal.Zero, Efficiency: decimal.Zero}
		byID[id] = s
		order = append(order, id)
		return s
	}

	for _, g := range groups {
		if !g.Active || (f.GroupID != "" && g.ID != f.GroupID) {
			continue
		}
		add(g.ID, g.Description)
	}

	sixty := decimal.NewFromInt(60)
	for _, r := range rows {
		s := add(r.GroupID, r.GroupDescription)
		s.Planned += r.Planned
		s.Actual += r.Actual
		s.Loss += r.Loss
		if !r.CatchAll {
			s.Hours = s.Hours.Add(decimal.NewFromInt(int64(r.Span.Minutes())).Div(sixty))
		}
	}

	out := make([]GroupSummary, 0, len(order))
	for _, id := range order {
		s := byID[id]
		s.Hours = s.Hours.Round(2)
		if s.Planned > 0 {
			s.Efficiency = decimal.NewFromInt(int64(s.Actual * 100)).
				Div(decimal.NewFromInt(int64(s.Planned))).Round(2)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// MatchRow applies the code and group filters. Stores that cannot filter in
// their query use it.
func (f Filter) MatchRow(r Row) bool {
	if r.Date.Before(f.From) || r.Date.After(f.To) {
		return false
	}
	if f.GroupID != "" && r.GroupID != f.GroupID {
		return false
	}
	if f.OrderCode != "" && r.OrderCode != f.OrderCode {
		return false
	}
	if f.ModelCode != "" && r.ModelCode != f.ModelCode {
		return false
	}
	return true
}
