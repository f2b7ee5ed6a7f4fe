/*
calendar.go - Working calendar grid for shop-floor scheduling

PURPOSE:
  Pure calendar arithmetic used by the planning engine. Enumerates the
  eligible days and the fixed hourly slot grid, and answers whether a
  slot falls inside the allowed working window of a date.

KEY CONCEPTS:
  Date:   a calendar day (UTC, day granularity)
  Clock:  minutes since midnight, the only time-of-day unit in the engine
  Span:   a slot's start/end pair; the end is inclusive to the minute
  Window: the allowed range for slot START times on a given weekday

WORKING WINDOWS (fixed policy table):
  Monday..Friday   07:30 - 16:30
  Saturday         07:30 - 11:30
  Sunday           none

STANDARD GRID:
  12 boundary marks 07:30, 08:30, ... 18:30 give 11 one-hour slots:
    07:30-08:29, 08:30-09:29, ... 17:30-18:29
  A slot is inside the window when its start lies within [start, end].
  That gives 10 window slots on weekdays and 5 on Saturdays.

SEE ALSO:
  - planning/allocator.go: walks Days() and StandardSlots()
  - approval/approval.go: overtime thresholds use OvertimeLimit()
*/
package calendar

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE - Day-granularity calendar date
// =============================================================================

const dateLayout = "2006-01-02"

// Date is a calendar day. All arithmetic is absolute (AddDate on UTC midnight),
// so month and year boundaries need no special handling.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime truncates t to its calendar day.
func FromTime(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return FromTime(time.Now())
}

// ParseDate accepts "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return FromTime(t), nil
}

func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

func (d Date) AddDays(n int) Date        { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) Weekday() time.Weekday     { return d.Time.Weekday() }
func (d Date) IsZero() bool              { return d.Time.IsZero() }
func (d Date) IsSunday() bool            { return d.Weekday() == time.Sunday }
func (d Date) IsSaturday() bool          { return d.Weekday() == time.Saturday }
func (d Date) String() string            { return d.Time.Format(dateLayout) }

// DaysBetween returns the number of days from a to b (negative if b is before a).
func DaysBetween(a, b Date) int {
	return int(b.Time.Sub(a.Time).Hours() / 24)
}

// NextMonday returns d when it is a Monday, otherwise the following Monday.
func NextMonday(d Date) Date {
	offset := (int(time.Monday) - int(d.Weekday()) + 7) % 7
	return d.AddDays(offset)
}

// Days returns n consecutive dates starting at from.
func Days(from Date, n int) []Date {
	days := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, from.AddDays(i))
	}
	return days
}

// =============================================================================
// CLOCK - Minutes since midnight
// =============================================================================

// Clock is a time of day in minutes since midnight. Integer minutes keep
// slot boundary comparisons exact.
type Clock int

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts "HH:MM" and "HH:MM:SS" (seconds are ignored).
func ParseClock(s string) (Clock, error) {
	var h, m, sec int
	n, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	if n < 2 {
		if _, err = fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			return 0, fmt.Errorf("invalid time %q: %w", s, err)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return NewClock(h, m), nil
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Hours returns the clock as decimal hours (07:30 -> 7.5).
func (c Clock) Hours() decimal.Decimal {
	return decimal.NewFromInt(int64(c)).Div(decimal.NewFromInt(60))
}

// =============================================================================
// SPAN - A slot's time range
// =============================================================================

// Span is a slot time range with an inclusive end minute.
type Span struct {
	Start Clock
	End   Clock
}

// ParseSpan parses a start/end pair.
func ParseSpan(start, end string) (Span, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Span{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Span{}, err
	}
	if e < s {
		return Span{}, fmt.Errorf("invalid span %s-%s: end before start", start, end)
	}
	return Span{Start: s, End: e}, nil
}

// Minutes is the worked duration of the span.
func (s Span) Minutes() int {
	return int(s.End-s.Start) + 1
}

func (s Span) String() string {
	return s.Start.String() + "-" + s.End.String()
}

// Less orders spans by start, then end.
func (s Span) Less(other Span) bool {
	if s.Start != other.Start {
		return s.Start < other.Start
	}
	return s.End < other.End
}

// =============================================================================
// WINDOWS AND THE STANDARD GRID
// =============================================================================

// Window bounds the start times of slots allowed on a day.
type Window struct {
	Start Clock
	End   Clock
}

var (
	gridStart      = NewClock(7, 30)
	gridBoundaries = 12

	weekdayWindow  = Window{Start: NewClock(7, 30), End: NewClock(16, 30)}
	saturdayWindow = Window{Start: NewClock(7, 30), End: NewClock(11, 30)}

	// Placed right after the last standard boundary so it never collides
	// with a grid slot of the same day.
	closingSpan = Span{Start: NewClock(18, 30), End: NewClock(19, 29)}
)

// AllowedWindow returns the working window for a date; ok is false on Sundays.
func AllowedWindow(d Date) (Window, bool) {
	switch d.Weekday() {
	case time.Sunday:
		return Window{}, false
	case time.Saturday:
		return saturdayWindow, true
	default:
		return weekdayWindow, true
	}
}

// StandardSlots returns the fixed 11-slot grid in time order.
func StandardSlots() []Span {
	slots := make([]Span, 0, gridBoundaries-1)
	for i := 0; i < gridBoundaries-1; i++ {
		start := gridStart + Clock(i*60)
		next := start + 60
		slots = append(slots, Span{Start: start, End: next - 1})
	}
	return slots
}

// IsWithinWindow reports whether the slot's start falls inside the date's window.
func IsWithinWindow(d Date, s Span) bool {
	w, ok := AllowedWindow(d)
	if !ok {
		return false
	}
	return s.Start >= w.Start && s.Start <= w.End
}

// WindowSlots returns the standard slots inside the date's window.
func WindowSlots(d Date) []Span {
	var out []Span
	for _, s := range StandardSlots() {
		if IsWithinWindow(d, s) {
			out = append(out, s)
		}
	}
	return out
}

// ExtraSlots returns the standard slots outside the date's window, or nil
// on days without a window.
func ExtraSlots(d Date) []Span {
	if _, ok := AllowedWindow(d); !ok {
		return nil
	}
	var out []Span
	for _, s := range StandardSlots() {
		if !IsWithinWindow(d, s) {
			out = append(out, s)
		}
	}
	return out
}

// ClosingSpan is the placeholder range used for the catch-all slot at closure.
func ClosingSpan() Span {
	return closingSpan
}

// =============================================================================
// OVERTIME LIMITS
// =============================================================================

const (
	weekdayLimitMinutes  = 8 * 60
	saturdayLimitMinutes = 4 * 60
)

// OvertimeLimit returns the worked minutes a day may reach without approval.
// Sunday has no allowance: any work requires approval.
func OvertimeLimit(d Date) int {
	switch d.Weekday() {
	case time.Sunday:
		return 0
	case time.Saturday:
		return saturdayLimitMinutes
	default:
		return weekdayLimitMinutes
	}
}
