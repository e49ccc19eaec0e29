package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// schedule abstracts over cron.Schedule and a fixed interval so
// dispatch.go can compute the next fire time identically for both
// trigger kinds.
type schedule interface {
	Next(t time.Time) time.Time
}

type intervalSchedule struct {
	period time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.period)
}

// buildSchedule parses trig into a schedule, resolving cron expressions
// against their IANA timezone.
func buildSchedule(trig Trigger) (schedule, error) {
	switch trig.Kind {
	case TriggerInterval:
		if trig.Interval <= 0 {
			return nil, fmt.Errorf("interval trigger requires a positive interval")
		}
		return intervalSchedule{period: trig.Interval}, nil
	case TriggerCron:
		loc, err := resolveLocation(trig.Timezone)
		if err != nil {
			return nil, fmt.Errorf("resolve timezone %q: %w", trig.Timezone, err)
		}
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err := parser.Parse(trig.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron expression %q: %w", trig.Cron, err)
		}
		return tzSchedule{sched: sched, loc: loc}, nil
	default:
		return nil, fmt.Errorf("unknown trigger kind %d", trig.Kind)
	}
}

// tzSchedule evaluates a cron.Schedule in its configured location
// regardless of what timezone t arrives in.
type tzSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s tzSchedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}

func resolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}
