package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/model"
)

const taskColumns = `
	id, name, description,
	trigger_type, trigger_config,
	action_type, action_config,
	enabled, last_run, next_run, metadata,
	created_at, updated_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateTask implements TaskStore.CreateTask
func (s *SQLiteStore) CreateTask(ctx context.Context, task model.NewTask) (string, error) {
	now := s.nowMs()
	id := uuid.New().String()

	var nextRun *int64
	if task.Enabled {
		nextRun = s.evaluator.NextRun(task.Trigger.Type, task.Trigger.Config, now)
	}

	err := s.withConn(ctx, "create task", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, NULL)`,
			id,
			task.Name,
			nullableString(task.Description),
			task.Trigger.Type,
			task.Trigger.Config,
			task.Action.Type,
			task.Action.Config,
			boolToInt(task.Enabled),
			nullableInt64(nextRun),
			nullableJSON(task.Metadata),
			now,
		)
		return err
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("Created task",
		zap.String("task_id", id),
		zap.String("trigger_type", task.Trigger.Type),
		zap.String("action_type", task.Action.Type))
	return id, nil
}

// GetTask implements TaskStore.GetTask
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var task *model.Task
	err := s.withConn(ctx, "get task", func(conn *sql.Conn) error {
		var err error
		task, err = getTask(ctx, conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks implements TaskStore.ListTasks
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*model.Task, error) {
	var tasks []*model.Task
	err := s.withConn(ctx, "list tasks", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			ORDER BY created_at DESC, rowid DESC`)
		if err != nil {
			return err
		}
		tasks, err = scanTasks(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask implements TaskStore.UpdateTask
func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) error {
	return s.withTx(ctx, "update task", func(tx *sql.Tx) error {
		existing, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}

		now := s.nowMs()
		updated := patch.Apply(*existing)
		var nextRun *int64
		if updated.Enabled {
			nextRun = s.evaluator.NextRun(updated.Trigger.Type, updated.Trigger.Config, now)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET
				name = ?,
				description = ?,
				trigger_type = ?,
				trigger_config = ?,
				action_type = ?,
				action_config = ?,
				enabled = ?,
				metadata = ?,
				next_run = ?,
				updated_at = ?
			WHERE id = ?`,
			updated.Name,
			nullableString(updated.Description),
			updated.Trigger.Type,
			updated.Trigger.Config,
			updated.Action.Type,
			updated.Action.Config,
			boolToInt(updated.Enabled),
			nullableJSON(updated.Metadata),
			nullableInt64(nextRun),
			now,
			id,
		)
		return err
	})
}

// DeleteTask implements TaskStore.DeleteTask. Deleting a missing task is not an error.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	return s.withConn(ctx, "delete task", func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			s.logger.Debug("Deleted task", zap.String("task_id", id))
		}
		return nil
	})
}

// SetEnabled implements TaskStore.SetEnabled
func (s *SQLiteStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.withTx(ctx, "set enabled", func(tx *sql.Tx) error {
		existing, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}

		now := s.nowMs()
		var nextRun *int64
		if enabled {
			nextRun = s.evaluator.NextRun(existing.Trigger.Type, existing.Trigger.Config, now)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET enabled = ?, next_run = ?, updated_at = ? WHERE id = ?`,
			boolToInt(enabled), nullableInt64(nextRun), now, id)
		return err
	})
}

// ListDueTasks implements TaskStore.ListDueTasks
func (s *SQLiteStore) ListDueTasks(ctx context.Context, nowMs int64) ([]*model.Task, error) {
	var tasks []*model.Task
	err := s.withConn(ctx, "list due tasks", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ?
			ORDER BY next_run ASC, rowid ASC
			LIMIT ?`, nowMs, MaxDueTasks)
		if err != nil {
			return err
		}
		tasks, err = scanTasks(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateRunInfo implements TaskStore.UpdateRunInfo. updated_at is set to lastRun.
func (s *SQLiteStore) UpdateRunInfo(ctx context.Context, id string, lastRun int64, nextRun *int64) error {
	return s.withConn(ctx, "update run info", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`UPDATE tasks SET last_run = ?, next_run = ?, updated_at = ? WHERE id = ?`,
			lastRun, nullableInt64(nextRun), lastRun, id)
		return err
	})
}

func getTask(ctx context.Context, q queryer, id string) (*model.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

func scanTasks(rows *sql.Rows) ([]*model.Task, error) {
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*model.Task, error) {
	var (
		task        model.Task
		description sql.NullString
		enabled     int64
		lastRun     sql.NullInt64
		nextRun     sql.NullInt64
		metadata    sql.NullString
		updatedAt   sql.NullInt64
	)
	err := scanner.Scan(
		&task.ID,
		&task.Name,
		&description,
		&task.Trigger.Type,
		&task.Trigger.Config,
		&task.Action.Type,
		&task.Action.Config,
		&enabled,
		&lastRun,
		&nextRun,
		&metadata,
		&task.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Enabled = enabled == 1
	if description.Valid {
		task.Description = &description.String
	}
	if lastRun.Valid {
		task.LastRun = &lastRun.Int64
	}
	if nextRun.Valid {
		task.NextRun = &nextRun.Int64
	}
	// metadata is opaque; rows holding invalid JSON are surfaced without it
	if metadata.Valid && json.Valid([]byte(metadata.String)) {
		task.Metadata = json.RawMessage(metadata.String)
	}
	if updatedAt.Valid {
		task.UpdatedAt = &updatedAt.Int64
	}
	return &task, nil
}
