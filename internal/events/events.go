// Package events delivers scheduler notifications to the host application.
// Delivery is fire-and-forget: notifiers never report failures to callers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Outbound event names
const (
	TaskStarted         = "task_started"
	TaskCompleted       = "task_completed"
	TaskFailed          = "task_failed"
	TaskNotification    = "task_notification"
	TaskAgentExecute    = "task_agent_execute"
	TaskWorkflowExecute = "task_workflow_execute"
	SchedulerStats      = "scheduler_stats"
)

// Event is a single notification for the host
type Event struct {
	Name      string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Notifier pushes events outward to the host
type Notifier interface {
	Notify(ctx context.Context, name string, payload any)
}

// TaskFailure is the payload of a TaskFailed event
type TaskFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func newEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Payload: data, Timestamp: time.Now().UnixMilli()}, nil
}

// Nop discards every event
type Nop struct{}

// Notify implements Notifier
func (Nop) Notify(context.Context, string, any) {}

// Multi fans an event out to several notifiers
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(ctx context.Context, name string, payload any) {
	for _, n := range m {
		n.Notify(ctx, name, payload)
	}
}

// ChannelNotifier delivers events on a buffered channel for an in-process
// host. Events are dropped when the buffer is full.
type ChannelNotifier struct {
	logger *zap.Logger
	ch     chan Event
}

// NewChannelNotifier creates a channel notifier with the given buffer size
func NewChannelNotifier(logger *zap.Logger, buffer int) *ChannelNotifier {
	return &ChannelNotifier{
		logger: logger.Named("events"),
		ch:     make(chan Event, buffer),
	}
}

// Events returns the receive side of the channel
func (n *ChannelNotifier) Events() <-chan Event {
	return n.ch
}

// Notify implements Notifier
func (n *ChannelNotifier) Notify(ctx context.Context, name string, payload any) {
	event, err := newEvent(name, payload)
	if err != nil {
		n.logger.Error("Failed to marshal event", zap.String("event", name), zap.Error(err))
		return
	}

	select {
	case n.ch <- event:
	default:
		n.logger.Warn("Event buffer full, dropping event", zap.String("event", name))
	}
}

// Recorder keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify implements Notifier
func (r *Recorder) Notify(ctx context.Context, name string, payload any) {
	event, err := newEvent(name, payload)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, e := range r.events {
		names = append(names, e.Name)
	}
	return names
}
