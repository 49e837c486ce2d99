package model

// ExecutionStatus represents the state of a single execution attempt
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Terminal reports whether the status is a final outcome
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed
}

// TaskExecution is an append-only record of one run attempt.
// Result holds JSON text captured on success paths that produce one.
type TaskExecution struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"taskId"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   int64           `json:"startedAt"`
	CompletedAt *int64          `json:"completedAt,omitempty"`
	Result      *string         `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Duration    *int64          `json:"duration,omitempty"`
}

// Complete moves the execution into a terminal state at completedAt
func (e *TaskExecution) Complete(status ExecutionStatus, completedAt int64, result, errMsg *string) {
	duration := completedAt - e.StartedAt
	if duration < 0 {
		duration = 0
	}
	e.Status = status
	e.CompletedAt = &completedAt
	e.Duration = &duration
	e.Result = result
	e.Error = errMsg
}
