package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockExcludesSameName(t *testing.T) {
	lock := NewLocalLock()
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, JobProcess, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, JobProcess, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	otherRelease, ok, err := lock.Acquire(ctx, JobSchedule, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different job names do not block each other")
	otherRelease()

	release()
	release2, ok, err := lock.Acquire(ctx, JobProcess, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestRunnerSkipsOverlappingRuns(t *testing.T) {
	runner := NewRunner(nil, 0)
	ctx := context.Background()

	var innerErr error
	calls := 0
	err := runner.Run(ctx, JobProcess, func(ctx context.Context) error {
		calls++
		innerErr = runner.Run(ctx, JobProcess, func(context.Context) error {
			calls++
			return nil
		})
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, innerErr, ErrAlreadyRunning)
	assert.Equal(t, 1, calls)

	require.NoError(t, runner.Run(ctx, JobProcess, func(context.Context) error { return nil }), "lock is released after a run")
}

func TestRunnerReturnsJobError(t *testing.T) {
	runner := NewRunner(NewLocalLock(), time.Minute)
	boom := errors.New("database unreachable")

	err := runner.Run(context.Background(), JobSchedule, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, runner.Run(context.Background(), JobSchedule, func(context.Context) error { return nil }))
}

func TestRedisLockReportsConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	runner := NewRunner(NewRedisLock(client), time.Minute)
	called := false
	err := runner.Run(context.Background(), JobSchedule, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called, "jobs must not run without the lock")
}

func TestConnectRedisRejectsBadURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestCronRegistersJobs(t *testing.T) {
	processed := make(chan struct{}, 1)
	process := func(context.Context) error {
		select {
		case processed <- struct{}{}:
		default:
		}
		return nil
	}
	schedule := func(context.Context) error { return nil }

	cron, err := NewCron(NewRunner(nil, 0), "00:05", schedule, process)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cron.Start(ctx))
	defer cron.Stop()

	select {
	case <-processed:
	case <-time.After(5 * time.Second):
		t.Fatal("process job did not fire on start")
	}

	next := cron.NextRuns()
	require.Contains(t, next, JobSchedule)
	require.Contains(t, next, JobProcess)
	scheduleAt := next[JobSchedule].UTC()
	assert.Equal(t, 0, scheduleAt.Hour())
	assert.Equal(t, 5, scheduleAt.Minute())
}

func TestNewCronValidates(t *testing.T) {
	noop := func(context.Context) error { return nil }
	_, err := NewCron(NewRunner(nil, 0), "25:00", noop, noop)
	assert.Error(t, err)
	_, err = NewCron(nil, "00:05", noop, noop)
	assert.Error(t, err)
}
