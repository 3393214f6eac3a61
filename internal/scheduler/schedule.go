// Package scheduler implements the four schedule variants — Immediate,
// Once, Interval, Cron — and the tick loop that drives them against a
// bounded worker pool.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Kind tags a Schedule's variant.
type Kind string

const (
	KindImmediate Kind = "immediate"
	KindOnce      Kind = "once"
	KindInterval  Kind = "interval"
	KindCron      Kind = "cron"
)

// Schedule answers check(last_run) -> {should_run, next_run} and
// next_execution(after) -> timestamp, per variant semantics:
//
//   - Immediate fires once when LastRun is absent, then defers 24h.
//   - Once fires when now >= At and LastRun is absent; otherwise never again.
//   - Interval fires when now >= (LastRun ?? epoch) + every.
//   - Cron fires when the expression's next instant after (LastRun ?? now)
//     is <= now; an invalid expression is rejected at construction time.
type Schedule struct {
	Kind     Kind
	At       time.Time
	Every    time.Duration
	CronExpr string

	cronSchedule cron.Schedule
}

// NewCronSchedule validates expr immediately, per the spec's "invalid
// expressions ... are surfaced at config-load time" requirement.
func NewCronSchedule(expr string) (Schedule, error) {
	parsed, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Schedule{Kind: KindCron, CronExpr: expr, cronSchedule: parsed}, nil
}

func NewImmediateSchedule() Schedule { return Schedule{Kind: KindImmediate} }

func NewOnceSchedule(at time.Time) Schedule { return Schedule{Kind: KindOnce, At: at} }

func NewIntervalSchedule(every time.Duration) Schedule {
	return Schedule{Kind: KindInterval, Every: every}
}

// Check reports whether the schedule should fire now, given the last run
// time (zero value means never run), and when it should next be considered.
func (s Schedule) Check(now time.Time, lastRun *time.Time) (shouldRun bool, nextRun *time.Time) {
	switch s.Kind {
	case KindImmediate:
		if lastRun == nil {
			return true, deferred(now, 24*time.Hour)
		}
		return false, deferred(*lastRun, 24*time.Hour)

	case KindOnce:
		if lastRun != nil {
			return false, nil
		}
		if !now.Before(s.At) {
			return true, nil
		}
		return false, &s.At

	case KindInterval:
		base := time.Unix(0, 0).UTC()
		if lastRun != nil {
			base = *lastRun
		}
		due := base.Add(s.Every)
		if !now.Before(due) {
			next := now.Add(s.Every)
			return true, &next
		}
		return false, &due

	case KindCron:
		if s.cronSchedule == nil {
			return false, nil
		}
		after := now
		if lastRun != nil {
			after = *lastRun
		}
		next := s.cronSchedule.Next(after)
		if next.IsZero() {
			return false, nil
		}
		if !next.After(now) {
			following := s.cronSchedule.Next(now)
			return true, &following
		}
		return false, &next

	default:
		return false, nil
	}
}

// NextExecution reports the next instant the schedule would fire after the
// given time, without regard to LastRun. For Immediate it is the given time
// itself; the other variants return an instant strictly after it.
func (s Schedule) NextExecution(after time.Time) (time.Time, bool) {
	switch s.Kind {
	case KindImmediate:
		return after, true
	case KindOnce:
		if after.Before(s.At) {
			return s.At, true
		}
		return time.Time{}, false
	case KindInterval:
		return after.Add(s.Every), true
	case KindCron:
		if s.cronSchedule == nil {
			return time.Time{}, false
		}
		next := s.cronSchedule.Next(after)
		return next, !next.IsZero()
	default:
		return time.Time{}, false
	}
}

func deferred(base time.Time, window time.Duration) *time.Time {
	t := base.Add(window)
	return &t
}
