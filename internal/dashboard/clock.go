package dashboard

import (
	"time"

	"fintrack/internal/core"
)

// Clock supplies the current calendar date. Every date-relative rule reads
// "today" through a Clock so results are reproducible in tests.
type Clock interface {
	Today() core.Date
}

// SystemClock reads the wall clock in Location (UTC when nil).
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Today() core.Date {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return core.DateOf(time.Now().In(loc))
}

// FixedClock always returns the same date.
type FixedClock core.Date

func (c FixedClock) Today() core.Date { return core.Date(c) }
