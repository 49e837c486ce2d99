package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/events"
	"github.com/t77yq/taskpet/internal/model"
)

// WorkflowPayload is the decoded config of a workflow action
type WorkflowPayload struct {
	WorkflowID string          `json:"workflowId"`
	Input      json.RawMessage `json:"input"`
}

// WorkflowHandler asks the host to start a workflow
type WorkflowHandler struct {
	notifier events.Notifier
	logger   *zap.Logger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(notifier events.Notifier, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		notifier: notifier,
		logger:   logger,
	}
}

// Handle implements ActionHandler
func (h *WorkflowHandler) Handle(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	const subject = "workflow action"
	var cfg struct {
		WorkflowID *string         `json:"workflowId"`
		Input      json.RawMessage `json:"input"`
	}
	if err := decodeConfig(subject, task.Action.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.WorkflowID == nil {
		return nil, missingField(subject, "workflowId")
	}

	payload := WorkflowPayload{WorkflowID: *cfg.WorkflowID, Input: cfg.Input}
	if len(payload.Input) == 0 {
		payload.Input = json.RawMessage("null")
	}

	h.logger.Debug("Dispatching workflow",
		zap.String("task_id", task.ID),
		zap.String("workflow_id", payload.WorkflowID))

	return emit(ctx, h.notifier, events.TaskWorkflowExecute, payload)
}
