package ratelimit

import "time"

// Window is the start of the current hour and day in the scheduler's timezone.
type Window struct {
	HourStart time.Time
	DayStart  time.Time
}

func WindowAt(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	return Window{
		HourStart: time.Date(y, m, d, local.Hour(), 0, 0, 0, loc).UTC(),
		DayStart:  time.Date(y, m, d, 0, 0, 0, 0, loc).UTC(),
	}
}
