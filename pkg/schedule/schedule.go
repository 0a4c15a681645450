// Package schedule wakes the dispatcher once a day at the configured start
// time. It is deliberately dumb plumbing: the cron expression is derived from
// an HH:MM config value, and all the interesting control (cut-offs, batch
// loops, failure isolation) lives downstream of the run callback.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/redgreat/orderhisclean/pkg/config"
)

// ErrInvalidStartTime is returned when the daily start time cannot be turned
// into a cron schedule.
var ErrInvalidStartTime = errors.New("schedule: invalid daily start time")

// Scheduler triggers a callback once per day.
type Scheduler struct {
	run  func(context.Context)
	log  *slog.Logger
	spec string
}

// New validates the HH:MM start time and builds a scheduler around run.
func New(startTime string, run func(context.Context), log *slog.Logger) (*Scheduler, error) {
	hour, minute, err := config.ParseStartTime(startTime)
	if err != nil {
		return nil, errors.Join(ErrInvalidStartTime, err)
	}

	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, errors.Join(ErrInvalidStartTime, err)
	}

	return &Scheduler{run: run, log: log, spec: spec}, nil
}

// Spec returns the derived cron expression.
func (s *Scheduler) Spec() string { return s.spec }

// Start blocks, firing the callback daily, until ctx is cancelled. A run in
// progress at shutdown is allowed to reach its next between-batch checkpoint:
// the callback receives ctx and the loops stop at the first check after
// cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.run(ctx) }); err != nil {
		return errors.Join(ErrInvalidStartTime, err)
	}

	s.log.InfoContext(ctx, "scheduler started, waiting for daily start time",
		slog.String("cron", s.spec))
	c.Start()

	<-ctx.Done()
	s.log.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}
