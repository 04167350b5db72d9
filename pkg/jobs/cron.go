package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
)

// Cron triggers the scheduler once a day at runAt (UTC) and the processor
// every minute.
type Cron struct {
	scheduler *gocron.Scheduler
	runner    *Runner
	schedule  func(context.Context) error
	process   func(context.Context) error
	runAt     string
}

func NewCron(runner *Runner, runAt string, schedule, process func(context.Context) error) (*Cron, error) {
	if runner == nil || schedule == nil || process == nil {
		return nil, errors.New("cron needs a runner and both jobs")
	}
	if _, err := time.Parse("15:04", runAt); err != nil {
		return nil, fmt.Errorf("invalid run_at %q: %w", runAt, err)
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Cron{scheduler: s, runner: runner, schedule: schedule, process: process, runAt: runAt}, nil
}

// Start registers both jobs and runs them in the background until Stop.
func (c *Cron) Start(ctx context.Context) error {
	if _, err := c.scheduler.Every(1).Day().At(c.runAt).Tag(JobSchedule).Do(c.run, ctx, JobSchedule, c.schedule); err != nil {
		return fmt.Errorf("register %s job: %w", JobSchedule, err)
	}
	if _, err := c.scheduler.Every(1).Minute().Tag(JobProcess).Do(c.run, ctx, JobProcess, c.process); err != nil {
		return fmt.Errorf("register %s job: %w", JobProcess, err)
	}
	c.scheduler.StartAsync()
	logger.Info("cron started", "schedule_at", c.runAt)
	for name, next := range c.NextRuns() {
		logger.Info("cron job registered", "job", name, "next_run", next)
	}
	return nil
}

func (c *Cron) Stop() {
	c.scheduler.Stop()
	logger.Info("cron stopped")
}

// NextRuns reports when each job fires next, keyed by job name.
func (c *Cron) NextRuns() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, job := range c.scheduler.Jobs() {
		tags := job.Tags()
		if len(tags) == 0 {
			continue
		}
		out[tags[0]] = job.NextRun()
	}
	return out
}

func (c *Cron) run(ctx context.Context, name string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	err := c.runner.Run(ctx, name, fn)
	if err != nil && !errors.Is(err, ErrAlreadyRunning) {
		logger.Warn("cron job run failed", "job", name, "error", err)
	}
}
