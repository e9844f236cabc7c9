package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type CronError struct {
	Expression string
	Timezone   string
	Err        error
}

func (e CronError) Error() string {
	if e.Timezone != "" {
		return fmt.Sprintf("invalid schedule %q in %s: %v", e.Expression, e.Timezone, e.Err)
	}
	return fmt.Sprintf("invalid schedule %q: %v", e.Expression, e.Err)
}

func (e CronError) Unwrap() error {
	return e.Err
}

// NextRun evaluates a five-field cron expression, or a descriptor such as
// @daily, in the IANA timezone tz (UTC when empty) and returns the first
// activation strictly after after, in UTC.
func NextRun(expression string, tz string, after time.Time) (time.Time, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, CronError{Expression: expression, Timezone: tz, Err: err}
		}
		loc = l
	}
	sched, err := cronParser.Parse(expression)
	if err != nil {
		return time.Time{}, CronError{Expression: expression, Timezone: tz, Err: err}
	}
	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, CronError{Expression: expression, Timezone: tz, Err: fmt.Errorf("no activation after %s", after)}
	}
	return next.UTC(), nil
}
