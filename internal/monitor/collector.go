// Package monitor keeps execution counters and periodically reports them,
// together with a host resource snapshot, as a scheduler_stats event.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/events"
	"github.com/t77yq/taskpet/internal/model"
)

// DefaultInterval is how often stats are published
const DefaultInterval = time.Minute

// RunningSource reports the tasks currently executing
type RunningSource interface {
	RunningTasks() []*model.Task
}

// ExecutionCounts tallies finished executions
type ExecutionCounts struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

func (c *ExecutionCounts) add(status model.ExecutionStatus) {
	c.Total++
	switch status {
	case model.ExecutionSuccess:
		c.Succeeded++
	case model.ExecutionFailed:
		c.Failed++
	}
}

// Stats is the payload of a scheduler_stats event
type Stats struct {
	Timestamp     int64                      `json:"timestamp"`
	CPUUsage      float64                    `json:"cpuUsage"`
	MemoryUsage   float64                    `json:"memoryUsage"`
	RunningTasks  int                        `json:"runningTasks"`
	Executions    ExecutionCounts            `json:"executions"`
	ByAction      map[string]ExecutionCounts `json:"byAction"`
	LastExecution *int64                     `json:"lastExecution,omitempty"`
}

// Collector observes executions and publishes periodic stats
type Collector struct {
	logger   *zap.Logger
	notifier events.Notifier
	running  RunningSource
	interval time.Duration

	mu            sync.RWMutex
	totals        ExecutionCounts
	byAction      map[string]ExecutionCounts
	lastExecution *int64

	stop chan struct{}
	done chan struct{}
}

// NewCollector creates a new collector. running may be nil.
func NewCollector(notifier events.Notifier, running RunningSource, interval time.Duration, logger *zap.Logger) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		logger:   logger.Named("monitor"),
		notifier: notifier,
		running:  running,
		interval: interval,
		byAction: make(map[string]ExecutionCounts),
	}
}

// ObserveExecution records a finished execution
func (c *Collector) ObserveExecution(task *model.Task, exec *model.TaskExecution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totals.add(exec.Status)
	counts := c.byAction[task.Action.Type]
	counts.add(exec.Status)
	c.byAction[task.Action.Type] = counts

	if exec.CompletedAt != nil {
		at := *exec.CompletedAt
		c.lastExecution = &at
	}
}

// Start begins periodic publishing
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("Starting stats collector", zap.Duration("interval", c.interval))

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.collectLoop(ctx)
}

// Stop ends periodic publishing and waits for the loop to exit
func (c *Collector) Stop() {
	if c.stop == nil {
		return
	}
	c.logger.Info("Stopping stats collector")
	close(c.stop)
	<-c.done
	c.stop = nil
}

func (c *Collector) collectLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Publish(ctx)
		}
	}
}

// Publish takes a snapshot and sends it to the notifier
func (c *Collector) Publish(ctx context.Context) Stats {
	stats := c.Snapshot()
	c.notifier.Notify(ctx, events.SchedulerStats, stats)

	c.logger.Debug("Stats published",
		zap.Float64("cpu_usage", stats.CPUUsage),
		zap.Float64("memory_usage", stats.MemoryUsage),
		zap.Int("running_tasks", stats.RunningTasks),
		zap.Int64("executions", stats.Executions.Total))
	return stats
}

// Snapshot returns the current counters and host usage. Host metrics that
// cannot be read are reported as zero.
func (c *Collector) Snapshot() Stats {
	stats := Stats{
		Timestamp: time.Now().UnixMilli(),
		ByAction:  make(map[string]ExecutionCounts),
	}

	if percent, err := cpu.Percent(0, false); err != nil {
		c.logger.Warn("Failed to get CPU usage", zap.Error(err))
	} else if len(percent) > 0 {
		stats.CPUUsage = percent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		c.logger.Warn("Failed to get memory usage", zap.Error(err))
	} else {
		stats.MemoryUsage = memInfo.UsedPercent
	}

	if c.running != nil {
		stats.RunningTasks = len(c.running.RunningTasks())
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats.Executions = c.totals
	for action, counts := range c.byAction {
		stats.ByAction[action] = counts
	}
	if c.lastExecution != nil {
		at := *c.lastExecution
		stats.LastExecution = &at
	}
	return stats
}

// RunningFunc adapts a function to RunningSource
type RunningFunc func() []*model.Task

// RunningTasks implements RunningSource
func (f RunningFunc) RunningTasks() []*model.Task {
	return f()
}
