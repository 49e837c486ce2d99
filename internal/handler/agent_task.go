package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/events"
	"github.com/t77yq/taskpet/internal/model"
)

// AgentTaskPayload is the decoded config of an agent_task action
type AgentTaskPayload struct {
	Prompt       string   `json:"prompt"`
	ToolsAllowed []string `json:"toolsAllowed"`
	MaxSteps     *int64   `json:"maxSteps"`
}

// AgentTaskHandler hands a prompt to the host's agent runtime
type AgentTaskHandler struct {
	notifier events.Notifier
	logger   *zap.Logger
}

// NewAgentTaskHandler creates a new agent task handler
func NewAgentTaskHandler(notifier events.Notifier, logger *zap.Logger) *AgentTaskHandler {
	return &AgentTaskHandler{
		notifier: notifier,
		logger:   logger,
	}
}

// Handle implements ActionHandler
func (h *AgentTaskHandler) Handle(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	const subject = "agent_task action"
	var cfg struct {
		Prompt       *string  `json:"prompt"`
		ToolsAllowed []string `json:"toolsAllowed"`
		MaxSteps     *int64   `json:"maxSteps"`
	}
	if err := decodeConfig(subject, task.Action.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Prompt == nil {
		return nil, missingField(subject, "prompt")
	}

	payload := AgentTaskPayload{
		Prompt:       *cfg.Prompt,
		ToolsAllowed: cfg.ToolsAllowed,
		MaxSteps:     cfg.MaxSteps,
	}

	h.logger.Debug("Dispatching agent task",
		zap.String("task_id", task.ID),
		zap.Int("tools", len(payload.ToolsAllowed)))

	return emit(ctx, h.notifier, events.TaskAgentExecute, payload)
}
