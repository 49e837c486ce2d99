// Package scheduler drives the polling loop that discovers due tasks and
// hands them to the executor.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/model"
)

// Store is the subset of the task store used by the loop
type Store interface {
	ListDueTasks(ctx context.Context, nowMs int64) ([]*model.Task, error)
	FailStaleExecutions(ctx context.Context, beforeMs int64, reason string) (int64, error)
	PruneExecutions(ctx context.Context, keep int) (int64, error)
}

// TaskExecutor runs a task picked by the loop
type TaskExecutor interface {
	ExecuteDue(ctx context.Context, task *model.Task, nowMs int64) (*model.TaskExecution, error)
}

// Option configures a Runner
type Option func(*Runner)

// WithTickInterval sets the pause between ticks
func WithTickInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.tickInterval = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithStaleRecovery fails running executions older than d when the loop
// starts. Zero disables recovery.
func WithStaleRecovery(d time.Duration) Option {
	return func(r *Runner) {
		r.recoverStaleAfter = d
	}
}

// WithRetention keeps only the newest keep executions per task, trimming
// every interval. keep <= 0 disables pruning.
func WithRetention(keep int, interval time.Duration) Option {
	return func(r *Runner) {
		r.retentionKeep = keep
		r.pruneInterval = interval
	}
}

// Runner owns the scheduler loop. It is either idle or running one worker
// goroutine; Start and Stop move it between the two.
type Runner struct {
	logger            *zap.Logger
	store             Store
	executor          TaskExecutor
	now               func() time.Time
	tickInterval      time.Duration
	recoverStaleAfter time.Duration
	retentionKeep     int
	pruneInterval     time.Duration

	running atomic.Bool
	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}

	lastPrune time.Time
}

// NewRunner creates an idle runner
func NewRunner(store Store, executor TaskExecutor, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger:            logger.Named("scheduler"),
		store:             store,
		executor:          executor,
		now:               time.Now,
		tickInterval:      DefaultTickInterval,
		recoverStaleAfter: DefaultRecoverStaleAfter,
		pruneInterval:     DefaultPruneInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the loop on its own goroutine. Start on a running loop is
// a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("Scheduler already running")
		return
	}

	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(ctx, r.stop, r.done)

	r.logger.Info("Scheduler started", zap.Duration("tick_interval", r.tickInterval))
}

// Stop asks the loop to exit and waits for it. A tick in progress runs to
// completion first. Stop on an idle runner is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Load() {
		return
	}

	close(r.stop)
	<-r.done
	r.running.Store(false)

	r.logger.Info("Scheduler stopped")
}

// Running reports whether the loop is active
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Wait blocks until the current loop exits, either through Stop or because
// ctx passed to Start was cancelled
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (r *Runner) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer r.running.Store(false)

	// Work inside a tick is never interrupted; cancellation is observed
	// between ticks only.
	workCtx := context.WithoutCancel(ctx)

	r.recoverStale(workCtx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		r.tick(workCtx)
		r.maybePrune(workCtx)

		timer := time.NewTimer(r.tickInterval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick executes every task due at the time the tick began, oldest next_run
// first, and returns how many executions were recorded
func (r *Runner) tick(ctx context.Context) int {
	nowMs := r.now().UnixMilli()

	tasks, err := r.store.ListDueTasks(ctx, nowMs)
	if err != nil {
		r.logger.Error("Failed to list due tasks", zap.Error(err))
		return 0
	}
	if len(tasks) == 0 {
		return 0
	}

	r.logger.Debug("Executing due tasks", zap.Int("count", len(tasks)))

	executed := 0
	for _, task := range tasks {
		exec, err := r.executor.ExecuteDue(ctx, task, nowMs)
		if err != nil {
			r.logger.Error("Failed to execute task",
				zap.String("task_id", task.ID),
				zap.String("task_name", task.Name),
				zap.Error(err))
		}
		if exec != nil {
			executed++
		}
	}
	return executed
}

func (r *Runner) recoverStale(ctx context.Context) {
	if r.recoverStaleAfter <= 0 {
		return
	}

	before := r.now().Add(-r.recoverStaleAfter).UnixMilli()
	n, err := r.store.FailStaleExecutions(ctx, before, staleExecutionReason)
	if err != nil {
		r.logger.Error("Failed to recover stale executions", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Warn("Marked stale executions as failed", zap.Int64("count", n))
	}
}

func (r *Runner) maybePrune(ctx context.Context) {
	if r.retentionKeep <= 0 {
		return
	}

	now := r.now()
	if !r.lastPrune.IsZero() && now.Sub(r.lastPrune) < r.pruneInterval {
		return
	}
	r.lastPrune = now

	n, err := r.store.PruneExecutions(ctx, r.retentionKeep)
	if err != nil {
		r.logger.Error("Failed to prune executions", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("Pruned execution history",
			zap.Int64("deleted", n),
			zap.Int("keep", r.retentionKeep))
	}
}
