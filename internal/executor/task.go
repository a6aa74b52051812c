package executor

import (
	"time"

	"github.com/zero-day-ai/aegis/internal/types"
)

// Task is a validated, schedulable unit of work derived from a planner
// recommendation plus any asset expansion. Every task traces to exactly one
// recommendation and one workflow.
type Task struct {
	// ID uniquely identifies the task.
	ID types.ID `json:"id"`

	// WorkflowID is the owning workflow.
	WorkflowID types.ID `json:"workflow_id"`

	// RecommendationIndex is the position of the originating recommendation
	// within its strategy.
	RecommendationIndex int `json:"recommendation_index"`

	// Capability names the action to run.
	Capability string `json:"capability"`

	// Parameters feed the capability's argument template.
	Parameters map[string]string `json:"parameters,omitempty"`

	// Asset is the discovered asset this task covers, if any.
	Asset string `json:"asset,omitempty"`

	// Status is the task lifecycle state.
	Status types.TaskStatus `json:"status"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewTask creates a task in the created state.
func NewTask(workflowID types.ID, recIndex int, capabilityName string, params map[string]string) Task {
	return Task{
		ID:                  types.NewID(),
		WorkflowID:          workflowID,
		RecommendationIndex: recIndex,
		Capability:          capabilityName,
		Parameters:          params,
		Status:              types.TaskStatusCreated,
		CreatedAt:           time.Now(),
	}
}

// WithAsset returns a copy of the task scoped to a discovered asset.
func (t Task) WithAsset(asset string) Task {
	t.Asset = asset
	return t
}

// ExecutionResult is the immutable outcome of executing one task. The
// capability actually run may differ from the requested one when a fallback
// fired.
type ExecutionResult struct {
	// TaskID is the task this result belongs to.
	TaskID types.ID `json:"task_id"`

	// WorkflowID is the owning workflow.
	WorkflowID types.ID `json:"workflow_id"`

	// Status is the task's terminal state.
	Status types.TaskStatus `json:"status"`

	// CapabilityRequested is the capability the task asked for.
	CapabilityRequested string `json:"capability_requested"`

	// CapabilityRun is the capability that actually executed. Differs from
	// CapabilityRequested when a fallback fired.
	CapabilityRun string `json:"capability_run,omitempty"`

	// Output is the raw sandbox output.
	Output string `json:"output,omitempty"`

	// Error is the retained error message, empty on success. After fallback
	// exhaustion this is the original (first) error, not the last.
	Error string `json:"error,omitempty"`

	// AttemptedChain lists every capability tried, in order.
	AttemptedChain []string `json:"attempted_chain,omitempty"`

	// Duration is the wall-clock time across all attempts.
	Duration time.Duration `json:"duration"`
}

// Succeeded returns true if the task reached the succeeded state.
func (r ExecutionResult) Succeeded() bool {
	return r.Status == types.TaskStatusSucceeded
}

// FallbackFired returns true if a substitute capability executed.
func (r ExecutionResult) FallbackFired() bool {
	return r.CapabilityRun != "" && r.CapabilityRun != r.CapabilityRequested
}
