package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/taskpet/internal/events"
	"github.com/t77yq/taskpet/internal/executor"
	"github.com/t77yq/taskpet/internal/model"
	"github.com/t77yq/taskpet/internal/storage"
	"github.com/t77yq/taskpet/internal/testutil"
)

type fixture struct {
	store    *storage.SQLiteStore
	clock    *testutil.Clock
	recorder *events.Recorder
	executor *executor.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := testutil.NewStore(t, storage.WithClock(clock.Now))
	recorder := &events.Recorder{}
	exec := executor.NewExecutor(store, recorder, zaptest.NewLogger(t), executor.WithClock(clock.Now))
	return &fixture{store: store, clock: clock, recorder: recorder, executor: exec}
}

func (f *fixture) runner(t *testing.T, opts ...Option) *Runner {
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	return NewRunner(f.store, f.executor, zaptest.NewLogger(t), opts...)
}

func (f *fixture) createIntervalTask(t *testing.T, name string, seconds int) string {
	t.Helper()

	id, err := f.store.CreateTask(context.Background(), model.NewTask{
		Name:    name,
		Trigger: model.Trigger{Type: model.TriggerInterval, Config: fmt.Sprintf(`{"type":"interval","seconds":%d}`, seconds)},
		Action:  model.Action{Type: model.ActionNotification, Config: `{"title":"Hydrate","body":"Drink some water"}`},
		Enabled: true,
	})
	require.NoError(t, err)
	return id
}

func TestTickIntervalNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.runner(t)
	id := f.createIntervalTask(t, "hydrate", 1)

	assert.Equal(t, 0, r.tick(ctx))
	assert.Empty(t, f.recorder.Names())

	f.clock.Advance(time.Second)
	assert.Equal(t, 1, r.tick(ctx))
	assert.Equal(t, []string{events.TaskStarted, events.TaskNotification, events.TaskCompleted}, f.recorder.Names())

	task, err := f.store.GetTask(ctx, id)
	require.NoError(t, err)
	now := f.clock.Now().UnixMilli()
	assert.Equal(t, now, *task.LastRun)
	assert.Equal(t, now+1000, *task.NextRun)

	// same instant: nothing is due until the next second
	assert.Equal(t, 0, r.tick(ctx))

	f.clock.Advance(time.Second)
	assert.Equal(t, 1, r.tick(ctx))

	execs, err := f.store.ListExecutions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	for _, e := range execs {
		assert.Equal(t, model.ExecutionSuccess, e.Status)
	}
}

func TestTickBatchLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.runner(t)
	for i := 0; i < storage.MaxDueTasks+5; i++ {
		f.createIntervalTask(t, fmt.Sprintf("task-%d", i), 1)
	}

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, storage.MaxDueTasks, r.tick(ctx))
	assert.Equal(t, 5, r.tick(ctx))
	assert.Equal(t, 0, r.tick(ctx))
}

func TestTickSkipsDisabledAndManual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.runner(t)

	disabled := f.createIntervalTask(t, "disabled", 1)
	require.NoError(t, f.store.SetEnabled(ctx, disabled, false))
	_, err := f.store.CreateTask(ctx, model.NewTask{
		Name:    "manual",
		Trigger: model.Trigger{Type: model.TriggerManual, Config: `{}`},
		Action:  model.Action{Type: model.ActionNotification, Config: `{"title":"t","body":"b"}`},
		Enabled: true,
	})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	assert.Equal(t, 0, r.tick(ctx))
}

func TestTickContinuesAfterTaskFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.runner(t)

	_, err := f.store.CreateTask(ctx, model.NewTask{
		Name:    "script",
		Trigger: model.Trigger{Type: model.TriggerInterval, Config: `{"seconds":1}`},
		Action:  model.Action{Type: model.ActionScript, Config: `{}`},
		Enabled: true,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Millisecond)
	f.createIntervalTask(t, "ok", 1)

	f.clock.Advance(2 * time.Second)
	assert.Equal(t, 2, r.tick(ctx))
	assert.Equal(t, []string{
		events.TaskStarted, events.TaskFailed,
		events.TaskStarted, events.TaskNotification, events.TaskCompleted,
	}, f.recorder.Names())
}

type brokenStore struct {
	calls atomic.Int32
}

func (s *brokenStore) ListDueTasks(context.Context, int64) ([]*model.Task, error) {
	s.calls.Add(1)
	return nil, &model.StoreError{Op: "list due tasks", Err: errors.New("database is locked")}
}

func (s *brokenStore) FailStaleExecutions(context.Context, int64, string) (int64, error) {
	return 0, errors.New("database is locked")
}

func (s *brokenStore) PruneExecutions(context.Context, int) (int64, error) {
	return 0, nil
}

func TestLoopSurvivesStoreErrors(t *testing.T) {
	store := &brokenStore{}
	r := NewRunner(store, nil, zaptest.NewLogger(t), WithTickInterval(5*time.Millisecond))

	r.Start(context.Background())
	require.Eventually(t, func() bool { return store.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, r.Running())

	r.Stop()
	assert.False(t, r.Running())
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, WithTickInterval(10*time.Millisecond))
	id := f.createIntervalTask(t, "loop", 1)
	f.clock.Advance(time.Second)

	r.Start(context.Background())
	firstDone := r.done
	r.Start(context.Background())
	assert.True(t, r.Running())
	assert.Equal(t, firstDone, r.done)

	require.Eventually(t, func() bool {
		execs, err := f.store.ListExecutions(context.Background(), id, 0)
		return err == nil && len(execs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	assert.False(t, r.Running())
	r.Stop()

	// restartable after a stop
	r.Start(context.Background())
	assert.True(t, r.Running())
	r.Stop()
}

func TestContextCancelStopsLoop(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, WithTickInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	waited := make(chan struct{})
	go func() {
		r.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after context cancellation")
	}
	assert.False(t, r.Running())
}

func TestStartRecoversStaleExecutions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntervalTask(t, "crashed", 7200)

	stale := &model.TaskExecution{
		ID:        "stale-exec",
		TaskID:    id,
		Status:    model.ExecutionRunning,
		StartedAt: f.clock.Now().UnixMilli(),
	}
	require.NoError(t, f.store.InsertExecution(ctx, stale))
	f.clock.Advance(time.Hour)

	r := f.runner(t, WithTickInterval(10*time.Millisecond), WithStaleRecovery(10*time.Minute))
	r.Start(ctx)
	defer r.Stop()

	require.Eventually(t, func() bool {
		execs, err := f.store.ListExecutions(ctx, id, 0)
		return err == nil && len(execs) == 1 && execs[0].Status == model.ExecutionFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPruneCadence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntervalTask(t, "chatty", 1)
	r := f.runner(t, WithRetention(2, time.Hour))

	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		require.Equal(t, 1, r.tick(ctx))
	}

	r.maybePrune(ctx)
	execs, err := f.store.ListExecutions(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, execs, 2)

	// within the interval nothing is pruned
	f.clock.Advance(time.Second)
	require.Equal(t, 1, r.tick(ctx))
	r.maybePrune(ctx)
	execs, err = f.store.ListExecutions(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, execs, 3)
}
