package model

import (
	"encoding/json"
)

// TriggerType identifies how a task decides when to fire
type TriggerType = string

const (
	TriggerInterval TriggerType = "interval"
	TriggerCron     TriggerType = "cron"
	TriggerManual   TriggerType = "manual"
	TriggerEvent    TriggerType = "event"
)

// ActionType identifies what a task does when it fires
type ActionType = string

const (
	ActionNotification ActionType = "notification"
	ActionAgentTask    ActionType = "agent_task"
	ActionWorkflow     ActionType = "workflow"
	ActionScript       ActionType = "script"
)

// Trigger is a tagged schedule definition. Config is kept as the raw JSON
// text supplied by the host and only decoded by the trigger evaluator.
type Trigger struct {
	Type   string `json:"type"`
	Config string `json:"config"`
}

// Action is a tagged work payload. Config is decoded by the action handler
// registered for Type.
type Action struct {
	Type   string `json:"type"`
	Config string `json:"config"`
}

// Task represents a persisted schedulable unit.
// Timestamps are milliseconds since the Unix epoch.
type Task struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Trigger     Trigger         `json:"trigger"`
	Action      Action          `json:"action"`
	Enabled     bool            `json:"enabled"`
	LastRun     *int64          `json:"lastRun,omitempty"`
	NextRun     *int64          `json:"nextRun,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
	UpdatedAt   *int64          `json:"updatedAt,omitempty"`
}

// NewTask carries the fields accepted when creating a task
type NewTask struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Trigger     Trigger         `json:"trigger"`
	Action      Action          `json:"action"`
	Enabled     bool            `json:"enabled"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// TaskPatch describes a partial update. A nil field keeps the stored value.
type TaskPatch struct {
	Name          *string         `json:"name,omitempty"`
	Description   *string         `json:"description,omitempty"`
	TriggerType   *string         `json:"triggerType,omitempty"`
	TriggerConfig *string         `json:"triggerConfig,omitempty"`
	ActionType    *string         `json:"actionType,omitempty"`
	ActionConfig  *string         `json:"actionConfig,omitempty"`
	Enabled       *bool           `json:"enabled,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// Apply returns a copy of task with the patch applied. Run state is left
// untouched; callers recompute NextRun from the effective trigger.
func (p TaskPatch) Apply(task Task) Task {
	if p.Name != nil {
		task.Name = *p.Name
	}
	if p.Description != nil {
		desc := *p.Description
		task.Description = &desc
	}
	if p.TriggerType != nil {
		task.Trigger.Type = *p.TriggerType
	}
	if p.TriggerConfig != nil {
		task.Trigger.Config = *p.TriggerConfig
	}
	if p.ActionType != nil {
		task.Action.Type = *p.ActionType
	}
	if p.ActionConfig != nil {
		task.Action.Config = *p.ActionConfig
	}
	if p.Enabled != nil {
		task.Enabled = *p.Enabled
	}
	if len(p.Metadata) > 0 {
		task.Metadata = p.Metadata
	}
	return task
}
