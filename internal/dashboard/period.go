package dashboard

import (
	"strings"

	"fintrack/internal/core"
)

// Filter names a display period.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterToday     Filter = "today"
	Filter7Days     Filter = "7days"
	Filter30Days    Filter = "30days"
	FilterThisMonth Filter = "thismonth"
	FilterLastMonth Filter = "lastmonth"
)

// RecentWindowDays is the trailing window used for the summary totals.
const RecentWindowDays = 30

// ParseFilter maps a request value to a Filter. Unknown or empty names are FilterAll.
func ParseFilter(name string) Filter {
	switch f := Filter(strings.ToLower(strings.TrimSpace(name))); f {
	case FilterToday, Filter7Days, Filter30Days, FilterThisMonth, FilterLastMonth:
		return f
	}
	return FilterAll
}

// Range is an inclusive date interval. A nil bound is unbounded.
type Range struct {
	Start *core.Date
	End   *core.Date
}

// Unbounded reports whether r admits every date.
func (r Range) Unbounded() bool { return r.Start == nil && r.End == nil }

// Contains reports whether d falls inside r.
func (r Range) Contains(d core.Date) bool {
	if r.Start != nil && d.Before(*r.Start) {
		return false
	}
	if r.End != nil && d.After(*r.End) {
		return false
	}
	return true
}

// Resolve turns f into a concrete range relative to today.
//
//	today      [today, today]
//	7days      [today-7, +inf)
//	30days     [today-30, +inf)
//	thismonth  [first of month, +inf)
//	lastmonth  [first of previous month, last of previous month]
//	all        (-inf, +inf)
func Resolve(f Filter, today core.Date) Range {
	switch f {
	case FilterToday:
		return Range{Start: ptr(today), End: ptr(today)}
	case Filter7Days:
		return Range{Start: ptr(today.AddDays(-7))}
	case Filter30Days:
		return Range{Start: ptr(today.AddDays(-RecentWindowDays))}
	case FilterThisMonth:
		return Range{Start: ptr(today.FirstOfMonth())}
	case FilterLastMonth:
		first := today.FirstOfMonth()
		last := first.AddDays(-1)
		return Range{Start: ptr(last.FirstOfMonth()), End: ptr(last)}
	}
	return Range{}
}

func ptr(d core.Date) *core.Date { return &d }
