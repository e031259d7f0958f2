// Package interval decides whether a cron-style schedule is due, as pure
// functions over timestamps with no hidden state.
//
// Schedule parsing is delegated to github.com/robfig/cron/v3's standard
// 5-field parser (minute hour day-of-month month day-of-week).
package interval

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule expression %q: %w", expr, err)
	}
	return sched, nil
}

// Matches reports whether the schedule fires at exactly t's minute.
// Schedules are minute-granular, so t is truncated to the minute before
// comparison.
func Matches(sched cron.Schedule, t time.Time) bool {
	minute := t.Truncate(time.Minute)
	next := sched.Next(minute.Add(-time.Second))
	return next.Equal(minute)
}

// NextFire returns the next time the schedule matches strictly after
// `after`.
func NextFire(sched cron.Schedule, after time.Time) time.Time {
	return sched.Next(after)
}

// IsDue reports whether a class is due at t: the schedule must match t's
// minute, and no existing snapshot timestamp in that class may fall in
// the same window. Only timestamps carrying the exact interval tag being
// checked may be passed in; snapshots from other classes never suppress a
// class's firing.
func IsDue(sched cron.Schedule, t time.Time, existingForClass []time.Time) bool {
	if !Matches(sched, t) {
		return false
	}
	minute := t.Truncate(time.Minute)
	for _, ts := range existingForClass {
		if ts.Truncate(time.Minute).Equal(minute) {
			return false
		}
	}
	return true
}
