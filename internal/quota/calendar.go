package quota

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Period is the calendar position used for counter rollover.
type Period struct {
	Date      string // YYYY-MM-DD
	WeekStart string // Monday of the ISO week, YYYY-MM-DD
	MonthKey  string // YYYY-M
	NextWeek  string // Monday after WeekStart
}

// Clock supplies the current calendar period.
type Clock interface {
	Now() Period
}

// PeriodOf computes the period containing t in t's location.
func PeriodOf(t time.Time) Period {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	// Weekday is 0 for Sunday; Sunday closes the previous ISO week.
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDate(0, 0, -offset)

	return Period{
		Date:      day.Format(dateLayout),
		WeekStart: monday.Format(dateLayout),
		MonthKey:  fmt.Sprintf("%d-%d", day.Year(), int(day.Month())),
		NextWeek:  monday.AddDate(0, 0, 7).Format(dateLayout),
	}
}

// SystemClock reads wall-clock time in a fixed location.
type SystemClock struct {
	loc *time.Location
	now func() time.Time
}

// NewSystemClock returns a clock in loc, or UTC when loc is nil.
func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return &SystemClock{loc: loc, now: time.Now}
}

// Now returns the current period.
func (c *SystemClock) Now() Period {
	return PeriodOf(c.now().In(c.loc))
}

// Time returns the current instant in the clock's location.
func (c *SystemClock) Time() time.Time {
	return c.now().In(c.loc)
}
