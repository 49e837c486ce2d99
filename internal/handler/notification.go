package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/events"
	"github.com/t77yq/taskpet/internal/model"
)

// NotificationPayload is the decoded config of a notification action
type NotificationPayload struct {
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	ActionButton   *string `json:"actionButton"`
	ActionCallback *string `json:"actionCallback"`
}

// NotificationHandler asks the host to show a notification
type NotificationHandler struct {
	notifier events.Notifier
	logger   *zap.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifier events.Notifier, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifier: notifier,
		logger:   logger,
	}
}

// Handle implements ActionHandler
func (h *NotificationHandler) Handle(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	payload, err := DecodeNotification(task.Action.Config)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("Sending notification",
		zap.String("task_id", task.ID),
		zap.String("title", payload.Title))

	return emit(ctx, h.notifier, events.TaskNotification, payload)
}

// DecodeNotification decodes and validates a notification action config
func DecodeNotification(raw string) (*NotificationPayload, error) {
	const subject = "notification action"
	var cfg struct {
		Title          *string `json:"title"`
		Body           *string `json:"body"`
		ActionButton   *string `json:"actionButton"`
		ActionCallback *string `json:"actionCallback"`
	}
	if err := decodeConfig(subject, raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Title == nil {
		return nil, missingField(subject, "title")
	}
	if cfg.Body == nil {
		return nil, missingField(subject, "body")
	}
	return &NotificationPayload{
		Title:          *cfg.Title,
		Body:           *cfg.Body,
		ActionButton:   cfg.ActionButton,
		ActionCallback: cfg.ActionCallback,
	}, nil
}
