// Package schedule runs a job on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
// Examples: "0 7 * * *" (daily 7am), "30 6 * * 1-5" (weekdays 6:30am).
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ErrNoSchedule is returned when the cron expression is blank.
var ErrNoSchedule = errors.New("schedule not set")

// Job is one scheduled execution. Its error is logged; the loop keeps going.
type Job func(ctx context.Context) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates expr.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrNoSchedule
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule '%s': %w", expr, err)
	}
	return sched, nil
}

type Runner struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
	job   Job
	now   func() time.Time
	wait  func(ctx context.Context, d time.Duration) error
}

func New(expr string, loc *time.Location, job Job) (*Runner, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{
		expr:  strings.TrimSpace(expr),
		sched: sched,
		loc:   loc,
		job:   job,
		now:   time.Now,
		wait:  sleep,
	}, nil
}

// Next returns the first activation after now, in the runner's location.
func (r *Runner) Next(now time.Time) time.Time {
	return r.sched.Next(now.In(r.loc))
}

// Run blocks, executing the job at every activation until ctx is cancelled.
// Executions never overlap.
func (r *Runner) Run(ctx context.Context) error {
	log.Info().Str("cron", r.expr).Str("timezone", r.loc.String()).Msg("schedule started")
	for {
		now := r.now().In(r.loc)
		next := r.Next(now)
		wait := next.Sub(now)
		log.Info().
			Str("next", next.Format("Mon Jan 2 15:04")).
			Dur("in", wait.Round(time.Minute)).
			Msg("schedule waiting for next run")

		if err := r.wait(ctx, wait); err != nil {
			log.Info().Msg("schedule stopped")
			return nil
		}

		started := r.now()
		if err := r.job(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled run failed")
		} else {
			log.Info().Dur("took", r.now().Sub(started)).Msg("scheduled run complete")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
