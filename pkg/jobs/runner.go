package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"github.com/smith3v/wa-word-reminder/pkg/metrics"
)

const (
	JobSchedule = "schedule"
	JobProcess  = "process"

	DefaultLockTTL = 15 * time.Minute
)

var ErrAlreadyRunning = errors.New("job already running")

// Runner executes jobs one at a time per name and records their metrics.
type Runner struct {
	lock Lock
	ttl  time.Duration
}

func NewRunner(lock Lock, ttl time.Duration) *Runner {
	if lock == nil {
		lock = NewLocalLock()
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Runner{lock: lock, ttl: ttl}
}

// Run calls fn while holding the job's lock. It returns ErrAlreadyRunning
// without calling fn when another run holds it.
func (r *Runner) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	release, ok, err := r.lock.Acquire(ctx, name, r.ttl)
	if err != nil {
		metrics.RecordJob(name, 0, err)
		return err
	}
	if !ok {
		metrics.RecordJobLocked(name)
		logger.Info("job already running, skipping", "job", name)
		return ErrAlreadyRunning
	}
	defer release()

	start := time.Now()
	err = fn(ctx)
	elapsed := time.Since(start)
	metrics.RecordJob(name, elapsed, err)
	if err != nil {
		logger.Error("job failed", "job", name, "duration", elapsed, "error", err)
		return err
	}
	logger.Debug("job finished", "job", name, "duration", elapsed)
	return nil
}
