package jobs

import (
	"fmt"
	"time"
)

// weekday converts Go's Sunday=0 convention to the stored Monday=0 one.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Due reports whether a job's schedule condition matches the given tick time.
//
// Daily jobs get a one-minute grace window (minute or minute+1) so a tick
// that lands late still fires; duplicate firing within the window is handled
// by the day tracker and the execution ledger, not here.
// Weekly jobs match on (day, hour) only; the configured minute is used for
// the stored scheduled time.
func (c Config) Due(now time.Time) bool {
	if !c.Enabled {
		return false
	}
	switch c.Type {
	case TypeHourly:
		return now.Minute() == c.Minute
	case TypeDaily:
		return now.Hour() == c.Hour && (now.Minute() == c.Minute || now.Minute() == c.Minute+1)
	case TypeWeekly:
		return weekday(now) == c.DayOfWeek && now.Hour() == c.Hour
	}
	return false
}

// Priority orders due jobs within one scheduling pass; lower runs first.
// Earlier scheduled slots get smaller values, so a pass drains jobs in
// schedule order (not a real-time guarantee).
func (c Config) Priority() int {
	switch c.Type {
	case TypeHourly:
		return c.Minute
	case TypeDaily:
		return c.Hour*60 + c.Minute
	case TypeWeekly:
		return c.DayOfWeek*24 + c.Hour
	}
	return 0
}

// ScheduledTime resolves the wall-clock instant of the slot this job
// occupies on the day of now (seconds zeroed).
func (c Config) ScheduledTime(now time.Time) time.Time {
	base := now.Truncate(time.Minute)
	switch c.Type {
	case TypeHourly:
		return time.Date(base.Year(), base.Month(), base.Day(), base.Hour(), c.Minute, 0, 0, base.Location())
	default:
		return time.Date(base.Year(), base.Month(), base.Day(), c.Hour, c.Minute, 0, 0, base.Location())
	}
}

// NextHourlyTime is the following hour's slot for an hourly job; used to
// pre-create the next pending execution record after a run completes.
func (c Config) NextHourlyTime(now time.Time) time.Time {
	cur := c.ScheduledTime(now)
	return cur.Add(time.Hour)
}

// SlotsOn lists the wall-clock slots this job occupies on the given day:
// one for daily, one for weekly when the weekday matches (none otherwise),
// and one per hour for hourly. Used by day initialization.
func (c Config) SlotsOn(day time.Time) []time.Time {
	at := func(hour int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), hour, c.Minute, 0, 0, day.Location())
	}
	switch c.Type {
	case TypeHourly:
		slots := make([]time.Time, 0, 24)
		for h := 0; h < 24; h++ {
			slots = append(slots, at(h))
		}
		return slots
	case TypeDaily:
		return []time.Time{at(c.Hour)}
	case TypeWeekly:
		if weekday(day) != c.DayOfWeek {
			return nil
		}
		return []time.Time{at(c.Hour)}
	}
	return nil
}

// ExecutionID identifies one scheduled occurrence of one job, unique per
// scheduled instant: <job_id>_<YYYY-MM-DD>_<HH:MM:SS>.
func ExecutionID(jobID string, scheduled time.Time) string {
	return fmt.Sprintf("%s_%s_%s", jobID, scheduled.Format("2006-01-02"), scheduled.Format("15:04:05"))
}

// DayKey is the per-day dedup key for daily/weekly jobs.
func DayKey(username, jobID string, now time.Time) string {
	return username + "|" + jobID + "|" + now.Format("2006-01-02")
}
