package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "pull_failed",
			err:  fmt.Errorf("server srv-1: %w", ErrPullFailed),
			want: SchedulerJobReasonPullFailed,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if IsSchedulerErrorRetryable(nil) {
		t.Fatalf("nil error must not be retryable")
	}
	if !IsSchedulerErrorRetryable(fmt.Errorf("pull: %w", ErrPullFailed)) {
		t.Fatalf("expected pull failure to be retryable")
	}
	if IsSchedulerErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("record not found must not be retryable")
	}
	if !IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected pg error to be retryable")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "vpnledger",
		Environment: "test",
	})

	metrics.AddBatchProcessed("stats_hourly", "usage_aggregates", 3)
	metrics.AddBatchProcessed("stats_hourly", "usage_aggregates", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("stats_hourly", "usage_aggregates"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestJobCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{})

	metrics.IncJobRun("quota_reset")
	metrics.IncJobTimeout("quota_reset")
	metrics.IncJobSkipped("quota_reset", SchedulerRunSkippedLockHeld)
	metrics.IncJobError("quota_reset", context.DeadlineExceeded)
	metrics.ObserveJobDuration("quota_reset", 2*time.Second)
	metrics.ObserveRunLoopLag(-time.Second)

	if got := testutil.ToFloat64(metrics.jobRuns.WithLabelValues("quota_reset")); got != 1 {
		t.Fatalf("expected 1 run, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.jobTimeouts.WithLabelValues("quota_reset")); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.jobSkipped.WithLabelValues("quota_reset", SchedulerRunSkippedLockHeld)); got != 1 {
		t.Fatalf("expected 1 skip, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.jobErrors.WithLabelValues("quota_reset", SchedulerJobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 deadline error, got %v", got)
	}
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var metrics *SchedulerMetrics
	metrics.IncJobRun("x")
	metrics.IncJobError("x", errors.New("boom"))
	metrics.AddBatchProcessed("x", "y", 1)
	metrics.ObserveDBLockWait(LockResourceActiveSessions, time.Millisecond)
}
