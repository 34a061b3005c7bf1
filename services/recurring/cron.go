package recurring

import (
	"time"

	"opsdesk/pkg/errutil"

	"github.com/robfig/cron/v3"
)

// Schedules use the classic five-field cron form: minute, hour, day of
// month, month, day of week.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ParseSchedule validates a five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errutil.ValidationFailed("invalid cron expression", errutil.WithErr(err))
	}
	return sched, nil
}

// NextRun returns the first firing time strictly after the given instant.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// matchesMinute reports whether the schedule fires during the minute that
// contains now. Used for configs that have never been evaluated and so carry
// no precomputed next-generation time.
func matchesMinute(sched cron.Schedule, now time.Time) bool {
	minute := now.Truncate(time.Minute)
	next := sched.Next(minute.Add(-time.Second))
	return next.Equal(minute)
}
