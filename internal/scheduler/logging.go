package scheduler

import (
	"context"
	"fmt"
	"time"

	obscontext "github.com/smallbiznis/vpnledger/internal/observability/context"
	obslogger "github.com/smallbiznis/vpnledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	trigger        string
	batchSize      int
	startedAt      time.Time
	processedCount int
}

func (s *Scheduler) newJobRun(ctx context.Context, task *Task, trigger string) (context.Context, *jobRun) {
	run := &jobRun{
		job:       task.Name,
		runID:     s.genID.Generate().String(),
		trigger:   trigger,
		batchSize: task.BatchSize,
		startedAt: s.clock.Now(),
	}
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx = obscontext.WithRequestID(ctx, run.runID)
	return ctx, run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("trigger", run.trigger),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun, err error) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
	}
	log := s.logger(ctx)
	if err != nil {
		fields = append(fields,
			zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
			zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
			zap.Error(err),
		)
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

// cronLogger routes robfig/cron diagnostics through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("scheduler.cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(fmt.Sprintf("scheduler.cron.%s", msg), append(keysAndValues, "error", err)...)
}
