// Package window provides the time windows used as query bounds for activity fetches.
//
// A window is closed on both ends at millisecond resolution: a one-hour window
// starting at 10:00:00.000 ends at 10:59:59.999. Hour windows of a day and minute
// windows of an hour tile their parent range without overlap.
package window

import (
	"fmt"
	"time"
)

// TimeWindow is an inclusive [Start, End] range with millisecond resolution.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// New returns the window starting at start and spanning d.
// End is start + d - 1ms.
func New(start time.Time, d time.Duration) TimeWindow {
	start = start.Truncate(time.Millisecond)
	return TimeWindow{
		Start: start,
		End:   start.Add(d - time.Millisecond),
	}
}

// Hour returns the one-hour window starting at start.
func Hour(start time.Time) TimeWindow {
	return New(start, time.Hour)
}

// Minute returns the one-minute window starting at start.
func Minute(start time.Time) TimeWindow {
	return New(start, time.Minute)
}

// Duration returns the span covered by the window.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start) + time.Millisecond
}

// FromMillis returns the start bound in epoch milliseconds.
func (w TimeWindow) FromMillis() int64 {
	return w.Start.UnixMilli()
}

// ToMillis returns the end bound in epoch milliseconds.
func (w TimeWindow) ToMillis() int64 {
	return w.End.UnixMilli()
}

// Contains reports whether t lies inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Minutes splits the window into consecutive one-minute windows in chronological order.
// A partial trailing minute is not produced.
func (w TimeWindow) Minutes() []TimeWindow {
	n := int(w.Duration() / time.Minute)
	out := make([]TimeWindow, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Minute(w.Start.Add(time.Duration(i)*time.Minute)))
	}
	return out
}

// String renders the window in local wall-clock form.
func (w TimeWindow) String() string {
	return fmt.Sprintf("%s to %s", w.Start.Format("2006-01-02 15:04:05"), w.End.Format("2006-01-02 15:04:05"))
}

// DayHours returns the hour windows of the given calendar day in loc, from
// local midnight to the next local midnight in absolute one-hour steps. A day
// that springs forward yields 23 windows and one that falls back yields 25,
// so the windows always tile the day exactly once.
func DayHours(year int, month time.Month, day int, loc *time.Location) []TimeWindow {
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	end := time.Date(year, month, day+1, 0, 0, 0, 0, loc)

	out := make([]TimeWindow, 0, 25)
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		out = append(out, Hour(t))
	}
	return out
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthDays resolves a day selector: 0 selects every day of the month,
// otherwise the single day is returned. Out-of-range days are an error.
func MonthDays(year int, month time.Month, day int) ([]int, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("invalid month %d", month)
	}
	last := DaysInMonth(year, month)
	if day < 0 || day > last {
		return nil, fmt.Errorf("day %d out of range for %d-%02d (1-%d, or 0 for all)", day, year, month, last)
	}
	if day != 0 {
		return []int{day}, nil
	}
	days := make([]int, 0, last)
	for d := 1; d <= last; d++ {
		days = append(days, d)
	}
	return days, nil
}
