package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule reads a schedule from its text form. "@every <duration>"
// gives an interval schedule, anything else is a cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, fmt.Errorf("schedule is empty")
	}

	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		every, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid interval: %w", err)
		}
		schedule := Schedule{Kind: ScheduleKindEvery, Every: every}
		return schedule, validate(schedule)
	}

	schedule := Schedule{Kind: ScheduleKindCron, Expr: spec}
	return schedule, validate(schedule)
}

func validate(schedule Schedule) error {
	_, err := CalculateNextRun(schedule, time.Now())
	return err
}

// CalculateNextRun calculates the first run time after from
func CalculateNextRun(schedule Schedule, from time.Time) (time.Time, error) {
	switch schedule.Kind {
	case ScheduleKindEvery:
		return calculateEverySchedule(schedule, from)
	case ScheduleKindCron:
		return calculateCronSchedule(schedule, from)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

func calculateEverySchedule(schedule Schedule, from time.Time) (time.Time, error) {
	if schedule.Every <= 0 {
		return time.Time{}, fmt.Errorf("'every' schedule requires a positive interval")
	}
	return from.Add(schedule.Every), nil
}

func calculateCronSchedule(schedule Schedule, from time.Time) (time.Time, error) {
	if schedule.Expr == "" {
		return time.Time{}, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	sched, err := parser.Parse(schedule.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		from = from.In(loc)
	}

	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", schedule.Expr)
	}
	return next, nil
}
