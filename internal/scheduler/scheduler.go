package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/vpnledger/internal/clock"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	"go.uber.org/zap"
)

type entry struct {
	task     Task
	schedule cron.Schedule
	enabled  bool
	cronID   cron.EntryID
	status   TaskStatus
}

type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	genID  *snowflake.Node
	clock  clock.Clock
	locker Locker

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	started bool
}

func newScheduler(log *zap.Logger, cfg Config, genID *snowflake.Node, clk clock.Clock, locker Locker) *Scheduler {
	cfg = cfg.withDefaults()
	log = log.Named("scheduler").With(zap.String("component", "scheduler"))
	return &Scheduler{
		log:    log,
		cfg:    cfg,
		genID:  genID,
		clock:  clk,
		locker: locker,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLogger{log: log.Sugar()}),
			cron.WithChain(cron.Recover(cronLogger{log: log.Sugar()})),
		),
		entries: make(map[string]*entry),
	}
}

// Register adds a task to the registry. Tasks outside EnabledJobs are kept
// for Status but never triggered.
func (s *Scheduler) Register(task Task) error {
	if strings.TrimSpace(task.Name) == "" || task.Run == nil {
		return ErrInvalidTask
	}
	schedule, err := cron.ParseStandard(task.Schedule)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTask, task.Name, err)
	}
	if task.BatchSize <= 0 {
		task.BatchSize = s.cfg.BatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[task.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskDuplicate, task.Name)
	}
	e := &entry{
		task:     task,
		schedule: schedule,
		enabled:  s.isJobEnabled(task.Name),
		status: TaskStatus{
			Name:     task.Name,
			Schedule: task.Schedule,
		},
	}
	e.status.Enabled = e.enabled
	if e.enabled {
		name := task.Name
		job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: s.log.Sugar()})).
			Then(cron.FuncJob(func() { s.trigger(name) }))
		e.cronID = s.cron.Schedule(schedule, job)
	}
	s.entries[task.Name] = e
	s.order = append(s.order, task.Name)
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("scheduler.started", zap.Strings("tasks", s.enabledNamesLocked()))
}

// Stop halts triggering and waits for in-flight runs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a registered, enabled task immediately and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) (TaskStatus, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return TaskStatus{}, ErrTaskNotFound
	}
	if !e.enabled {
		return s.statusOf(name), ErrTaskDisabled
	}
	err := s.runTask(ctx, e, "manual")
	return s.statusOf(name), err
}

// Status reports every registered task in registration order.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.snapshotLocked(s.entries[name]))
	}
	return out
}

func (s *Scheduler) statusOf(name string) TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.entries[name])
}

func (s *Scheduler) snapshotLocked(e *entry) TaskStatus {
	status := e.status
	if e.enabled {
		next := e.schedule.Next(s.clock.Now().In(s.cfg.Location))
		status.NextRun = &next
	}
	return status
}

func (s *Scheduler) trigger(name string) {
	s.mu.Lock()
	e := s.entries[name]
	cronID := e.cronID
	s.mu.Unlock()

	if prev := s.cron.Entry(cronID).Prev; !prev.IsZero() {
		obsmetrics.Scheduler().ObserveRunLoopLag(time.Since(prev))
	}
	if err := s.runTask(context.Background(), e, "cron"); err != nil {
		s.log.Warn("scheduler.task.failed", zap.String("job", name), zap.Error(err))
	}
}

// timeout is the explicit task timeout or the gap to the following trigger.
func (s *Scheduler) timeout(e *entry, now time.Time) time.Duration {
	if e.task.Timeout > 0 {
		return e.task.Timeout
	}
	next := e.schedule.Next(now.In(s.cfg.Location))
	gap := e.schedule.Next(next).Sub(next)
	if gap < s.cfg.MinTimeout {
		gap = s.cfg.MinTimeout
	}
	return gap
}

func (s *Scheduler) runTask(parent context.Context, e *entry, trigger string) error {
	name := e.task.Name
	schedMetrics := obsmetrics.Scheduler()

	s.mu.Lock()
	if e.status.Running {
		s.mu.Unlock()
		schedMetrics.IncJobSkipped(name, obsmetrics.SchedulerRunSkippedRunning)
		return ErrTaskRunning
	}
	e.status.Running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		e.status.Running = false
		s.mu.Unlock()
	}()

	start := s.clock.Now()
	timeout := s.timeout(e, start)
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, &e.task, trigger)
	release, ok := s.acquire(ctx, &e.task, timeout)
	if !ok {
		schedMetrics.IncJobSkipped(name, obsmetrics.SchedulerRunSkippedLockHeld)
		s.logger(ctx).Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", obsmetrics.SchedulerRunSkippedLockHeld))
		return nil
	}
	defer release()

	s.logJobStart(ctx, run)
	schedMetrics.IncJobRun(name)

	processed, err := e.task.Run(ctx, e.task.BatchSize)
	run.processedCount = processed
	finished := s.clock.Now()
	schedMetrics.ObserveJobDuration(name, finished.Sub(start))
	schedMetrics.AddBatchProcessed(name, e.task.Resource, processed)
	s.logJobFinish(ctx, run, err)

	s.mu.Lock()
	e.status.Runs++
	e.status.LastRun = &start
	e.status.LastDuration = finished.Sub(start).String()
	e.status.LastProcessed = processed
	if err == nil {
		e.status.LastSuccess = &finished
	} else {
		e.status.Failures++
		e.status.LastError = err.Error()
		e.status.LastErrorAt = &finished
	}
	s.mu.Unlock()

	if err == nil {
		return nil
	}
	schedMetrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// A slow pass gives up; the next trigger picks up the remainder.
		schedMetrics.IncJobTimeout(name)
		s.logger(ctx).Warn("scheduler.job.timeout",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default (monolith mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) enabledNamesLocked() []string {
	names := make([]string, 0, len(s.entries))
	for name, e := range s.entries {
		if e.enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
