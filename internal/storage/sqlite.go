package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/model"
	"github.com/t77yq/taskpet/internal/trigger"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	trigger_type TEXT NOT NULL,
	trigger_config TEXT NOT NULL,
	action_type TEXT NOT NULL,
	action_config TEXT NOT NULL,
	enabled INTEGER DEFAULT 1,
	last_run INTEGER,
	next_run INTEGER,
	metadata TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER
);

CREATE TABLE IF NOT EXISTS task_executions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	result TEXT,
	error TEXT,
	duration INTEGER,
	FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tasks_next_run ON tasks(next_run, enabled);
CREATE INDEX IF NOT EXISTS idx_tasks_enabled ON tasks(enabled);
CREATE INDEX IF NOT EXISTS idx_executions_task ON task_executions(task_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON task_executions(status);
`

// Option configures a SQLiteStore
type Option func(*SQLiteStore)

// WithClock overrides the time source used for created_at, updated_at and next_run seeding
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// WithEvaluator sets the trigger evaluator used to compute next_run
func WithEvaluator(e trigger.Evaluator) Option {
	return func(s *SQLiteStore) {
		s.evaluator = e
	}
}

// SQLiteStore implements Storage on top of SQLite. Every operation acquires
// its own connection from the pool and releases it before returning.
type SQLiteStore struct {
	logger    *zap.Logger
	db        *sql.DB
	evaluator trigger.Evaluator
	now       func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// ensures the schema exists.
func NewSQLiteStore(logger *zap.Logger, dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{
		logger: logger.Named("storage"),
		db:     db,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("Opened task store", zap.String("path", dbPath))
	return s, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &model.StoreError{Op: "initialize", Err: err}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) nowMs() int64 {
	return s.now().UnixMilli()
}

// withConn runs fn on a dedicated connection. Errors other than
// model.ErrNotFound are wrapped in a model.StoreError tagged with op.
func (s *SQLiteStore) withConn(ctx context.Context, op string, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return &model.StoreError{Op: op, Err: err}
	}
	defer conn.Close()

	if err := fn(conn); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		return &model.StoreError{Op: op, Err: err}
	}
	return nil
}

// withTx runs fn inside a transaction on a dedicated connection
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.withConn(ctx, op, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableJSON(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
