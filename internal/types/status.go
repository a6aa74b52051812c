package types

import (
	"encoding/json"
	"fmt"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusQueued           WorkflowStatus = "queued"
	WorkflowStatusRunning          WorkflowStatus = "running"
	WorkflowStatusAwaitingApproval WorkflowStatus = "awaiting_approval"
	WorkflowStatusCompleted        WorkflowStatus = "completed"
	WorkflowStatusFailed           WorkflowStatus = "failed"
	WorkflowStatusCancelled        WorkflowStatus = "cancelled"
)

// String returns the string representation of WorkflowStatus
func (s WorkflowStatus) String() string {
	return string(s)
}

// IsValid checks if the WorkflowStatus is a valid value
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusQueued, WorkflowStatusRunning, WorkflowStatusAwaitingApproval,
		WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once a workflow can no longer change state.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal edge in the
// workflow state graph. Status is monotonic except for the single
// awaiting_approval -> running/cancelled resumption.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	switch s {
	case WorkflowStatusQueued:
		return next == WorkflowStatusRunning || next == WorkflowStatusCancelled || next == WorkflowStatusFailed
	case WorkflowStatusRunning:
		return next == WorkflowStatusAwaitingApproval || next == WorkflowStatusCompleted ||
			next == WorkflowStatusFailed || next == WorkflowStatusCancelled
	case WorkflowStatusAwaitingApproval:
		return next == WorkflowStatusRunning || next == WorkflowStatusCancelled
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler
func (s WorkflowStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler
func (s *WorkflowStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status := WorkflowStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid workflow status: %s", str)
	}

	*s = status
	return nil
}

// TaskStatus represents the lifecycle state of a schedulable task.
type TaskStatus string

const (
	TaskStatusCreated           TaskStatus = "created"
	TaskStatusQueued            TaskStatus = "queued"
	TaskStatusRunning           TaskStatus = "running"
	TaskStatusSucceeded         TaskStatus = "succeeded"
	TaskStatusFailed            TaskStatus = "failed"
	TaskStatusFallbackExhausted TaskStatus = "fallback_exhausted"
	TaskStatusCancelled         TaskStatus = "cancelled"
)

// String returns the string representation of TaskStatus
func (s TaskStatus) String() string {
	return string(s)
}

// IsValid checks if the TaskStatus is a valid value
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusCreated, TaskStatusQueued, TaskStatusRunning, TaskStatusSucceeded,
		TaskStatusFailed, TaskStatusFallbackExhausted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the task has finished executing.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusFallbackExhausted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler
func (s TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status := TaskStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid task status: %s", str)
	}

	*s = status
	return nil
}

// Phase identifies a stage of the assessment workflow. Phase values are
// immutable configuration tags; runtime state lives on the workflow itself.
type Phase string

const (
	PhaseRecon   Phase = "recon"
	PhaseAnalyze Phase = "analyze"
	PhaseExploit Phase = "exploit"
	PhaseReport  Phase = "report"
)

// String returns the string representation of Phase
func (p Phase) String() string {
	return string(p)
}

// IsValid checks if the Phase is a valid value
func (p Phase) IsValid() bool {
	switch p {
	case PhaseRecon, PhaseAnalyze, PhaseExploit, PhaseReport:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Phase) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	phase := Phase(str)
	if !phase.IsValid() {
		return fmt.Errorf("invalid phase: %s", str)
	}

	*p = phase
	return nil
}
