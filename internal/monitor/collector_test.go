package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/taskpet/internal/events"
	"github.com/t77yq/taskpet/internal/model"
	"github.com/t77yq/taskpet/internal/testutil"
)

type fixedRunning []*model.Task

func (r fixedRunning) RunningTasks() []*model.Task { return r }

func finished(status model.ExecutionStatus, at int64) *model.TaskExecution {
	return &model.TaskExecution{ID: "e", TaskID: "t", Status: status, StartedAt: at, CompletedAt: &at}
}

func TestCollectorCounts(t *testing.T) {
	recorder := &events.Recorder{}
	running := fixedRunning{{ID: "busy"}}
	collector := NewCollector(recorder, running, time.Minute, zaptest.NewLogger(t))

	notification := &model.Task{ID: "a", Action: model.Action{Type: model.ActionNotification}}
	script := &model.Task{ID: "b", Action: model.Action{Type: model.ActionScript}}

	collector.ObserveExecution(notification, finished(model.ExecutionSuccess, 100))
	collector.ObserveExecution(notification, finished(model.ExecutionSuccess, 200))
	collector.ObserveExecution(script, finished(model.ExecutionFailed, 300))

	stats := collector.Publish(context.Background())
	assert.Equal(t, ExecutionCounts{Total: 3, Succeeded: 2, Failed: 1}, stats.Executions)
	assert.Equal(t, ExecutionCounts{Total: 2, Succeeded: 2}, stats.ByAction[model.ActionNotification])
	assert.Equal(t, ExecutionCounts{Total: 1, Failed: 1}, stats.ByAction[model.ActionScript])
	assert.Equal(t, 1, stats.RunningTasks)
	require.NotNil(t, stats.LastExecution)
	assert.Equal(t, int64(300), *stats.LastExecution)
	assert.GreaterOrEqual(t, stats.MemoryUsage, 0.0)

	require.Equal(t, []string{events.SchedulerStats}, recorder.Names())
	var published Stats
	require.NoError(t, json.Unmarshal(recorder.Events()[0].Payload, &published))
	assert.Equal(t, stats.Executions, published.Executions)
}

func TestCollectorPublishesOverNATS(t *testing.T) {
	_, nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	notifier := events.NewNATSNotifier(nc, "", zaptest.NewLogger(t))
	collector := NewCollector(notifier, nil, 100*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	collector.Start(ctx)
	defer collector.Stop()

	msgs, err := testutil.ConsumeMessages(nc, notifier.Subject(events.SchedulerStats), time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	var event events.Event
	require.NoError(t, json.Unmarshal(msgs[0], &event))
	assert.Equal(t, events.SchedulerStats, event.Name)

	var stats Stats
	require.NoError(t, json.Unmarshal(event.Payload, &stats))
	assert.NotZero(t, stats.Timestamp)
	assert.Zero(t, stats.RunningTasks)
	assert.GreaterOrEqual(t, stats.CPUUsage, 0.0)
}
