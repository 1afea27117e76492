package scheduler

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound  = errors.New("scheduler_task_not_found")
	ErrTaskDisabled  = errors.New("scheduler_task_disabled")
	ErrTaskRunning   = errors.New("scheduler_task_running")
	ErrTaskDuplicate = errors.New("scheduler_task_duplicate")
	ErrInvalidTask   = errors.New("scheduler_invalid_task")
)

// Task is one independently scheduled unit of background work. Run reports
// how many records it processed.
type Task struct {
	Name     string
	Schedule string
	// Timeout bounds one run. Zero derives it from the gap to the next trigger.
	Timeout   time.Duration
	BatchSize int
	// Lock takes a cross-replica lock before running.
	Lock bool
	// Resource labels the processed-count metric.
	Resource string
	Run      func(ctx context.Context, batchSize int) (int, error)
}

type TaskStatus struct {
	Name          string     `json:"name"`
	Schedule      string     `json:"schedule"`
	Enabled       bool       `json:"enabled"`
	Running       bool       `json:"running"`
	Runs          int64      `json:"runs"`
	Failures      int64      `json:"failures"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	LastDuration  string     `json:"last_duration,omitempty"`
	LastProcessed int        `json:"last_processed"`
	NextRun       *time.Time `json:"next_run,omitempty"`
}
