package storage

import (
	"context"

	"github.com/t77yq/taskpet/internal/model"
)

const (
	// MaxDueTasks bounds the work of a single scheduler tick
	MaxDueTasks = 20

	// DefaultExecutionLimit is used when ListExecutions gets no limit
	DefaultExecutionLimit = 50

	// MaxExecutionLimit caps ListExecutions
	MaxExecutionLimit = 200
)

// TaskStore defines task persistence operations
type TaskStore interface {
	// CreateTask inserts a task and returns its generated ID
	CreateTask(ctx context.Context, task model.NewTask) (string, error)

	// GetTask retrieves a task by ID, returning model.ErrNotFound if absent
	GetTask(ctx context.Context, id string) (*model.Task, error)

	// ListTasks returns all tasks, newest-created first
	ListTasks(ctx context.Context) ([]*model.Task, error)

	// UpdateTask applies a partial update and recomputes next_run
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) error

	// DeleteTask removes a task and its executions
	DeleteTask(ctx context.Context, id string) error

	// SetEnabled toggles a task and recomputes next_run
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// ListDueTasks returns at most MaxDueTasks enabled tasks due at nowMs, earliest first
	ListDueTasks(ctx context.Context, nowMs int64) ([]*model.Task, error)

	// UpdateRunInfo records the outcome of a run on the owning task
	UpdateRunInfo(ctx context.Context, id string, lastRun int64, nextRun *int64) error
}

// ExecutionStore defines execution history operations
type ExecutionStore interface {
	// InsertExecution stores a new execution record
	InsertExecution(ctx context.Context, exec *model.TaskExecution) error

	// CompleteExecution writes the terminal state of an execution
	CompleteExecution(ctx context.Context, exec *model.TaskExecution) error

	// ListExecutions returns executions of a task, most recent first. A
	// limit <= 0 uses DefaultExecutionLimit.
	ListExecutions(ctx context.Context, taskID string, limit int) ([]*model.TaskExecution, error)

	// FailStaleExecutions marks running executions started before beforeMs as failed
	FailStaleExecutions(ctx context.Context, beforeMs int64, reason string) (int64, error)

	// PruneExecutions keeps only the newest keep executions of every task
	PruneExecutions(ctx context.Context, keep int) (int64, error)
}

// Storage is the full persistence contract of the scheduler
type Storage interface {
	TaskStore
	ExecutionStore
	Close() error
}

// ClampExecutionLimit bounds an explicit history limit to [1, MaxExecutionLimit]
func ClampExecutionLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxExecutionLimit {
		return MaxExecutionLimit
	}
	return limit
}
