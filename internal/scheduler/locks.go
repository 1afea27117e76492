package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	lockKeyPrefix   = "scheduler:"
	lockGrace       = 30 * time.Second
	lockReleaseWait = 5 * time.Second
)

// Locker is the cross-replica lock a task takes before running.
type Locker interface {
	Enabled() bool
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// acquire returns a release func and whether the run may proceed. A failed
// lock backend does not block the run; tasks are safe to repeat.
func (s *Scheduler) acquire(ctx context.Context, task *Task, ttl time.Duration) (func(), bool) {
	noop := func() {}
	if !task.Lock || !s.cfg.LockEnabled || s.locker == nil || !s.locker.Enabled() {
		return noop, true
	}

	key := lockKeyPrefix + task.Name
	start := time.Now()
	token, ok, err := s.locker.TryLock(ctx, key, ttl+lockGrace)
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceSchedulerRunLock, time.Since(start))
	if err != nil {
		s.logger(ctx).Warn("scheduler.lock.unavailable", zap.String("job", task.Name), zap.Error(err))
		return noop, true
	}
	if !ok {
		return noop, false
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseWait)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.logger(ctx).Warn("scheduler.lock.release_failed", zap.String("job", task.Name), zap.Error(err))
		}
	}, true
}
