package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/events"
	"github.com/t77yq/taskpet/internal/handler"
	"github.com/t77yq/taskpet/internal/model"
	"github.com/t77yq/taskpet/internal/trigger"
)

// Store is the persistence the executor writes an execution through
type Store interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
	InsertExecution(ctx context.Context, exec *model.TaskExecution) error
	CompleteExecution(ctx context.Context, exec *model.TaskExecution) error
	UpdateRunInfo(ctx context.Context, id string, lastRun int64, nextRun *int64) error
}

// Observer is told about every finished execution
type Observer interface {
	ObserveExecution(task *model.Task, exec *model.TaskExecution)
}

// Option configures an Executor
type Option func(*Executor)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithEvaluator sets the trigger evaluator used to advance next_run
func WithEvaluator(ev trigger.Evaluator) Option {
	return func(e *Executor) {
		e.evaluator = ev
	}
}

// WithObserver registers an execution observer
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observers = append(e.observers, o)
	}
}

// Executor performs one execution attempt per call and records it.
// Executions of the same task are serialized.
type Executor struct {
	logger       *zap.Logger
	store        Store
	notifier     events.Notifier
	evaluator    trigger.Evaluator
	now          func() time.Time
	handlers     map[string]handler.ActionHandler
	observers    []Observer
	locksMu      sync.Mutex
	locks        map[string]*taskLock
	runningTasks sync.Map // task ID -> *model.Task
}

// NewExecutor creates a new executor with the built-in action handlers registered
func NewExecutor(store Store, notifier events.Notifier, logger *zap.Logger, opts ...Option) *Executor {
	logger = logger.Named("executor")
	e := &Executor{
		logger:   logger,
		store:    store,
		notifier: notifier,
		now:      time.Now,
		handlers: handler.Defaults(notifier, logger),
		locks:    make(map[string]*taskLock),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHandler registers (or replaces) the handler of an action type
func (e *Executor) RegisterHandler(actionType string, h handler.ActionHandler) {
	e.handlers[actionType] = h
}

// Execute runs task once, regardless of its schedule or enabled flag. The
// task is re-read under the task lock so the run uses its current trigger;
// a task deleted in the meantime returns model.ErrNotFound.
func (e *Executor) Execute(ctx context.Context, task *model.Task) (*model.TaskExecution, error) {
	unlock := e.lock(task.ID)
	defer unlock()

	current, err := e.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, current)
}

// LockTask holds the task lock until the returned func is called. Writers
// that change a task's trigger or enabled flag take it so they never
// interleave with an execution of the same task.
func (e *Executor) LockTask(taskID string) (unlock func()) {
	return e.lock(taskID)
}

// ExecuteDue runs a task picked by the poll. The task is re-read under the
// task lock and skipped (nil execution, nil error) when it was deleted,
// disabled or already advanced by a concurrent writer.
func (e *Executor) ExecuteDue(ctx context.Context, task *model.Task, nowMs int64) (*model.TaskExecution, error) {
	unlock := e.lock(task.ID)
	defer unlock()

	current, err := e.store.GetTask(ctx, task.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			e.logger.Debug("Skipping deleted task", zap.String("task_id", task.ID))
			return nil, nil
		}
		return nil, err
	}
	if !current.Enabled || current.NextRun == nil || *current.NextRun > nowMs {
		e.logger.Debug("Skipping task no longer due", zap.String("task_id", task.ID))
		return nil, nil
	}

	return e.execute(ctx, current)
}

// RunningTasks returns the tasks currently executing
func (e *Executor) RunningTasks() []*model.Task {
	var tasks []*model.Task
	e.runningTasks.Range(func(key, value any) bool {
		if task, ok := value.(*model.Task); ok {
			tasks = append(tasks, task)
		}
		return true
	})
	return tasks
}

func (e *Executor) execute(ctx context.Context, task *model.Task) (*model.TaskExecution, error) {
	e.runningTasks.Store(task.ID, task)
	defer e.runningTasks.Delete(task.ID)

	exec := &model.TaskExecution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Status:    model.ExecutionRunning,
		StartedAt: e.now().UnixMilli(),
	}
	if err := e.store.InsertExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to record execution start: %w", err)
	}

	e.notifier.Notify(ctx, events.TaskStarted, task.ID)

	result, runErr := e.dispatch(ctx, task)

	completedAt := e.now().UnixMilli()
	if runErr != nil {
		msg := runErr.Error()
		exec.Complete(model.ExecutionFailed, completedAt, nil, &msg)
	} else {
		var resultStr *string
		if len(result) > 0 {
			s := string(result)
			resultStr = &s
		}
		exec.Complete(model.ExecutionSuccess, completedAt, resultStr, nil)
	}

	// The three writes are not atomic; a crash in between leaves a running
	// row behind, which FailStaleExecutions recovers on the next start.
	var firstErr error
	if err := e.store.CompleteExecution(ctx, exec); err != nil {
		e.logger.Error("Failed to complete execution",
			zap.String("task_id", task.ID),
			zap.String("execution_id", exec.ID),
			zap.Error(err))
		firstErr = fmt.Errorf("failed to record execution outcome: %w", err)
	}

	var nextRun *int64
	if task.Enabled {
		nextRun = e.evaluator.NextRun(task.Trigger.Type, task.Trigger.Config, completedAt)
	}
	if err := e.store.UpdateRunInfo(ctx, task.ID, completedAt, nextRun); err != nil {
		e.logger.Error("Failed to update task run info",
			zap.String("task_id", task.ID),
			zap.Error(err))
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to update task run info: %w", err)
		}
	}

	if exec.Status == model.ExecutionSuccess {
		e.notifier.Notify(ctx, events.TaskCompleted, task.ID)
		e.logger.Info("Task executed",
			zap.String("task_id", task.ID),
			zap.String("action_type", task.Action.Type),
			zap.Int64("duration_ms", *exec.Duration))
	} else {
		e.notifier.Notify(ctx, events.TaskFailed, events.TaskFailure{ID: task.ID, Error: *exec.Error})
		e.logger.Warn("Task execution failed",
			zap.String("task_id", task.ID),
			zap.String("action_type", task.Action.Type),
			zap.Bool("config_error", handler.IsDecodeError(runErr)),
			zap.String("error", *exec.Error))
	}

	for _, o := range e.observers {
		o.ObserveExecution(task, exec)
	}

	return exec, firstErr
}

func (e *Executor) dispatch(ctx context.Context, task *model.Task) ([]byte, error) {
	h, ok := e.handlers[task.Action.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownActionType, task.Action.Type)
	}
	return h.Handle(ctx, task)
}

// taskLock serializes executions of one task. refs counts holders and
// waiters; the entry is dropped when it reaches zero.
type taskLock struct {
	mu   sync.Mutex
	refs int
}

func (e *Executor) lock(taskID string) func() {
	e.locksMu.Lock()
	l, ok := e.locks[taskID]
	if !ok {
		l = &taskLock{}
		e.locks[taskID] = l
	}
	l.refs++
	e.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		e.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, taskID)
		}
		e.locksMu.Unlock()
	}
}
