package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ScheduleType identifies how a schedule_value is interpreted.
type ScheduleType string

const (
	ScheduleCron  ScheduleType = "cron"
	ScheduleEvery ScheduleType = "every"
	ScheduleAt    ScheduleType = "at"
)

// Schedule is a parsed cron_jobs.schedule_type/schedule_value pair.
type Schedule struct {
	Type     ScheduleType
	Expr     string        // raw schedule_value for "cron"
	Every    time.Duration // parsed schedule_value for "every"
	At       time.Time     // parsed schedule_value for "at"
	Timezone string
}

// ParseSchedule validates and parses a schedule_type/schedule_value pair
// from a cron_jobs row into a Schedule usable to compute run times.
func ParseSchedule(scheduleType, scheduleValue, timezone string) (Schedule, error) {
	value := strings.TrimSpace(scheduleValue)
	if value == "" {
		return Schedule{}, fmt.Errorf("schedule_value is required")
	}
	sched := Schedule{Type: ScheduleType(strings.ToLower(strings.TrimSpace(scheduleType))), Timezone: strings.TrimSpace(timezone)}

	switch sched.Type {
	case ScheduleAt:
		at, err := parseAt(value, sched.Timezone)
		if err != nil {
			return Schedule{}, err
		}
		sched.At = at
		return sched, nil
	case ScheduleEvery:
		every, err := time.ParseDuration(value)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid every duration %q: %w", value, err)
		}
		if every <= 0 {
			return Schedule{}, fmt.Errorf("every duration must be positive")
		}
		sched.Every = every
		return sched, nil
	case ScheduleCron:
		if _, err := cronParser.Parse(value); err != nil {
			return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		sched.Expr = value
		return sched, nil
	default:
		return Schedule{}, fmt.Errorf("unknown schedule_type %q", scheduleType)
	}
}

// Next returns the next run time strictly after now, or false if the
// schedule will never fire again (e.g. a past "at" schedule).
func (s Schedule) Next(now time.Time) (time.Time, bool, error) {
	switch s.Type {
	case ScheduleAt:
		if s.At.IsZero() {
			return time.Time{}, false, fmt.Errorf("at schedule missing timestamp")
		}
		if !now.Before(s.At) {
			return time.Time{}, false, nil
		}
		return s.At, true, nil
	case ScheduleEvery:
		if s.Every <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule missing duration")
		}
		return now.Add(s.Every), true, nil
	case ScheduleCron:
		if s.Expr == "" {
			return time.Time{}, false, fmt.Errorf("cron schedule missing expression")
		}
		loc := now.Location()
		if s.Timezone != "" {
			if tz, err := time.LoadLocation(s.Timezone); err == nil {
				loc = tz
			}
		}
		schedule, err := cronParser.Parse(s.Expr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		next := schedule.Next(now.In(loc))
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

func parseAt(value, tz string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("at schedule value required")
	}
	loc := time.UTC
	if tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}
	if parsed, err := time.ParseInLocation(time.RFC3339, value, loc); err == nil {
		return parsed, nil
	}
	if parsed, err := time.ParseInLocation("2006-01-02 15:04", value, loc); err == nil {
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("invalid at schedule value: %s", value)
}
