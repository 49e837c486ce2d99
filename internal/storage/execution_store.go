package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/model"
)

// InsertExecution implements ExecutionStore.InsertExecution
func (s *SQLiteStore) InsertExecution(ctx context.Context, exec *model.TaskExecution) error {
	return s.withConn(ctx, "insert execution", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO task_executions (id, task_id, status, started_at)
			VALUES (?, ?, ?, ?)`,
			exec.ID,
			exec.TaskID,
			string(exec.Status),
			exec.StartedAt,
		)
		return err
	})
}

// CompleteExecution implements ExecutionStore.CompleteExecution
func (s *SQLiteStore) CompleteExecution(ctx context.Context, exec *model.TaskExecution) error {
	return s.withConn(ctx, "complete execution", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			UPDATE task_executions SET
				status = ?,
				completed_at = ?,
				result = ?,
				error = ?,
				duration = ?
			WHERE id = ?`,
			string(exec.Status),
			nullableInt64(exec.CompletedAt),
			nullableString(exec.Result),
			nullableString(exec.Error),
			nullableInt64(exec.Duration),
			exec.ID,
		)
		return err
	})
}

// ListExecutions implements ExecutionStore.ListExecutions
func (s *SQLiteStore) ListExecutions(ctx context.Context, taskID string, limit int) ([]*model.TaskExecution, error) {
	if limit <= 0 {
		limit = DefaultExecutionLimit
	}
	limit = ClampExecutionLimit(limit)

	var executions []*model.TaskExecution
	err := s.withConn(ctx, "list executions", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, task_id, status, started_at, completed_at, result, error, duration
			FROM task_executions
			WHERE task_id = ?
			ORDER BY started_at DESC, rowid DESC
			LIMIT ?`, taskID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		executions = make([]*model.TaskExecution, 0)
		for rows.Next() {
			exec, err := scanExecution(rows)
			if err != nil {
				return err
			}
			executions = append(executions, exec)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error during row iteration: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return executions, nil
}

// FailStaleExecutions implements ExecutionStore.FailStaleExecutions
func (s *SQLiteStore) FailStaleExecutions(ctx context.Context, beforeMs int64, reason string) (int64, error) {
	var affected int64
	err := s.withConn(ctx, "fail stale executions", func(conn *sql.Conn) error {
		now := s.nowMs()
		result, err := conn.ExecContext(ctx, `
			UPDATE task_executions SET
				status = ?,
				completed_at = ?,
				error = ?,
				duration = MAX(? - started_at, 0)
			WHERE status = ? AND started_at < ?`,
			string(model.ExecutionFailed), now, reason, now,
			string(model.ExecutionRunning), beforeMs)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		s.logger.Warn("Marked stale executions as failed",
			zap.Int64("before", beforeMs),
			zap.Int64("count", affected))
	}
	return affected, nil
}

// PruneExecutions implements ExecutionStore.PruneExecutions
func (s *SQLiteStore) PruneExecutions(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	var affected int64
	err := s.withConn(ctx, "prune executions", func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			DELETE FROM task_executions
			WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (
						PARTITION BY task_id ORDER BY started_at DESC, rowid DESC
					) AS rn
					FROM task_executions
				)
				WHERE rn > ?
			)`, keep)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Pruned old task executions",
		zap.Int("keep", keep),
		zap.Int64("deleted", affected))
	return affected, nil
}

func scanExecution(rows *sql.Rows) (*model.TaskExecution, error) {
	var (
		exec        model.TaskExecution
		status      string
		completedAt sql.NullInt64
		result      sql.NullString
		errorStr    sql.NullString
		duration    sql.NullInt64
	)
	err := rows.Scan(
		&exec.ID,
		&exec.TaskID,
		&status,
		&exec.StartedAt,
		&completedAt,
		&result,
		&errorStr,
		&duration,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task execution: %w", err)
	}

	exec.Status = model.ExecutionStatus(status)
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Int64
	}
	if result.Valid {
		exec.Result = &result.String
	}
	if errorStr.Valid {
		exec.Error = &errorStr.String
	}
	if duration.Valid {
		exec.Duration = &duration.Int64
	}
	return &exec, nil
}
