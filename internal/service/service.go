// Package service exposes the command surface used by the host application
// to manage tasks and inspect their history.
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/model"
	"github.com/t77yq/taskpet/internal/storage"
	"github.com/t77yq/taskpet/internal/trigger"
)

// Executor runs a task immediately. LockTask serializes task writes with
// executions of the same task.
type Executor interface {
	Execute(ctx context.Context, task *model.Task) (*model.TaskExecution, error)
	LockTask(taskID string) (unlock func())
}

// Option configures a TaskService
type Option func(*TaskService)

// WithStrictTriggers rejects trigger configs that could never schedule
func WithStrictTriggers() Option {
	return func(s *TaskService) {
		s.strict = true
	}
}

// TaskService implements the task commands. Errors are returned as
// produced by the store or executor.
type TaskService struct {
	logger   *zap.Logger
	store    storage.Storage
	executor Executor
	strict   bool
}

// NewTaskService creates a new task service
func NewTaskService(store storage.Storage, executor Executor, logger *zap.Logger, opts ...Option) *TaskService {
	s := &TaskService{
		logger:   logger.Named("service"),
		store:    store,
		executor: executor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new task and returns its id
func (s *TaskService) Create(ctx context.Context, task model.NewTask) (string, error) {
	if err := s.validateNew(task); err != nil {
		return "", err
	}

	id, err := s.store.CreateTask(ctx, task)
	if err != nil {
		return "", err
	}

	s.logger.Info("Task created",
		zap.String("task_id", id),
		zap.String("name", task.Name),
		zap.String("trigger_type", task.Trigger.Type),
		zap.String("action_type", task.Action.Type))
	return id, nil
}

// Get returns a single task
func (s *TaskService) Get(ctx context.Context, id string) (*model.Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns every task, newest first
func (s *TaskService) List(ctx context.Context) ([]*model.Task, error) {
	return s.store.ListTasks(ctx)
}

// Update applies a partial update
func (s *TaskService) Update(ctx context.Context, id string, patch model.TaskPatch) error {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", model.ErrInvalidInput)
	}

	unlock := s.executor.LockTask(id)
	defer unlock()

	if s.strict && (patch.TriggerType != nil || patch.TriggerConfig != nil) {
		current, err := s.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		effective := patch.Apply(*current)
		if err := trigger.Validate(effective.Trigger.Type, effective.Trigger.Config); err != nil {
			return err
		}
	}

	if err := s.store.UpdateTask(ctx, id, patch); err != nil {
		return err
	}

	s.logger.Info("Task updated", zap.String("task_id", id))
	return nil
}

// Delete removes a task and its history. Missing ids are not an error.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	unlock := s.executor.LockTask(id)
	defer unlock()

	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Task deleted", zap.String("task_id", id))
	return nil
}

// SetEnabled toggles a task and recomputes its next run
func (s *TaskService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	unlock := s.executor.LockTask(id)
	defer unlock()

	if err := s.store.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}

	s.logger.Info("Task enabled state changed",
		zap.String("task_id", id),
		zap.Bool("enabled", enabled))
	return nil
}

// ExecuteNow runs a task immediately regardless of its trigger or enabled
// flag. A missing id returns model.ErrNotFound and records nothing. A
// disabled task keeps a null next run.
func (s *TaskService) ExecuteNow(ctx context.Context, id string) (*model.TaskExecution, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Executing task on demand", zap.String("task_id", id))
	return s.executor.Execute(ctx, task)
}

// ListExecutions returns the history of a task, newest first. A nil limit
// uses the default page size; an explicit one is clamped to [1, 200].
func (s *TaskService) ListExecutions(ctx context.Context, id string, limit *int) ([]*model.TaskExecution, error) {
	n := storage.DefaultExecutionLimit
	if limit != nil {
		n = storage.ClampExecutionLimit(*limit)
	}
	return s.store.ListExecutions(ctx, id, n)
}

func (s *TaskService) validateNew(task model.NewTask) error {
	switch {
	case strings.TrimSpace(task.Name) == "":
		return fmt.Errorf("%w: name is required", model.ErrInvalidInput)
	case task.Trigger.Type == "":
		return fmt.Errorf("%w: trigger type is required", model.ErrInvalidInput)
	case task.Action.Type == "":
		return fmt.Errorf("%w: action type is required", model.ErrInvalidInput)
	}
	if s.strict {
		return trigger.Validate(task.Trigger.Type, task.Trigger.Config)
	}
	return nil
}
