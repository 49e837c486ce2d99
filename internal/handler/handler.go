// Package handler implements the action kinds a task can perform. Handlers
// only decode configuration and hand the work to the host through an event;
// they never perform long-running work themselves.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/events"
	"github.com/t77yq/taskpet/internal/model"
)

// ActionHandler executes one action kind. The returned payload is recorded
// as the execution result.
type ActionHandler interface {
	Handle(ctx context.Context, task *model.Task) (json.RawMessage, error)
}

// HandlerFunc adapts a function to ActionHandler
type HandlerFunc func(ctx context.Context, task *model.Task) (json.RawMessage, error)

// Handle implements ActionHandler
func (f HandlerFunc) Handle(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	return f(ctx, task)
}

// Defaults returns the built-in handlers keyed by action type
func Defaults(notifier events.Notifier, logger *zap.Logger) map[string]ActionHandler {
	return map[string]ActionHandler{
		model.ActionNotification: NewNotificationHandler(notifier, logger),
		model.ActionAgentTask:    NewAgentTaskHandler(notifier, logger),
		model.ActionWorkflow:     NewWorkflowHandler(notifier, logger),
		model.ActionScript:       ScriptHandler{},
	}
}

// decodeConfig unmarshals raw into dst, wrapping failures as config decode errors
func decodeConfig(subject, raw string, dst any) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return &model.ConfigDecodeError{Subject: subject, Err: err}
	}
	return nil
}

func missingField(subject, field string) error {
	return &model.ConfigDecodeError{Subject: subject, Err: fmt.Errorf("missing field `%s`", field)}
}

// emit sends payload to the host and returns it encoded for the execution record
func emit(ctx context.Context, notifier events.Notifier, event string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	notifier.Notify(ctx, event, json.RawMessage(data))
	return data, nil
}

// ScriptHandler reserves the script action kind. It always fails.
type ScriptHandler struct{}

// Handle implements ActionHandler
func (ScriptHandler) Handle(context.Context, *model.Task) (json.RawMessage, error) {
	return nil, model.ErrUnsupportedAction
}

// IsDecodeError reports whether err came from a malformed action config
func IsDecodeError(err error) bool {
	return errors.Is(err, model.ErrConfigDecode)
}
