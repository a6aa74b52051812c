package events

import (
	"time"

	"github.com/zero-day-ai/aegis/internal/types"
)

// EventType identifies the category and nature of an event.
type EventType string

// Workflow lifecycle events
const (
	EventWorkflowQueued    EventType = "workflow.queued"
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowPhase     EventType = "workflow.phase"
	EventWorkflowProgress  EventType = "workflow.progress"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventWorkflowCancelled EventType = "workflow.cancelled"
)

// Task lifecycle events
const (
	EventTaskQueued    EventType = "task.queued"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
)

// Safety and approval events
const (
	EventRestraint EventType = "restraint"
	EventHITL      EventType = "hitl"
)

// Finding events
const (
	EventFindingDiscovered EventType = "finding.discovered"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is a workflow lifecycle notification fanned out to subscribers.
// Events for a single workflow are delivered to each subscriber in publish
// order; there is no cross-workflow ordering guarantee.
type Event struct {
	// Type identifies the category and nature of the event
	Type EventType `json:"type"`

	// Timestamp records when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// WorkflowID associates the event with a workflow
	WorkflowID types.ID `json:"workflow_id,omitempty"`

	// Phase is the workflow phase active when the event fired
	Phase types.Phase `json:"phase,omitempty"`

	// Payload contains event-specific typed data
	Payload any `json:"payload,omitempty"`

	// Attrs contains additional key-value attributes
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Filter defines criteria for filtering events in subscriptions.
// All fields use AND logic; empty fields act as wildcards.
type Filter struct {
	// Types filters by event types (empty = all types)
	Types []EventType `json:"types,omitempty"`

	// WorkflowID filters by workflow (empty = all workflows)
	WorkflowID types.ID `json:"workflow_id,omitempty"`
}

// Matches determines if the given event matches this filter's criteria.
func (f *Filter) Matches(event Event) bool {
	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.WorkflowID != "" && event.WorkflowID != f.WorkflowID {
		return false
	}

	return true
}

// RestraintPayload carries the gating detail on restraint events.
type RestraintPayload struct {
	Capability   string `json:"capability"`
	Rule         string `json:"rule"`
	Reason       string `json:"reason,omitempty"`
	RequiresAuth bool   `json:"requiresAuth"`
	RequiresHITL bool   `json:"requiresHITL"`
	Blocked      bool   `json:"blocked"`
}

// TaskPayload carries task lifecycle detail.
type TaskPayload struct {
	TaskID        types.ID         `json:"task_id"`
	Capability    string           `json:"capability"`
	CapabilityRun string           `json:"capability_run,omitempty"`
	Asset         string           `json:"asset,omitempty"`
	Status        types.TaskStatus `json:"status"`
	Error         string           `json:"error,omitempty"`
}

// ProgressPayload carries workflow progress detail.
type ProgressPayload struct {
	Phase          types.Phase `json:"phase"`
	CompletedTasks int         `json:"completed_tasks"`
	TotalTasks     int         `json:"total_tasks"`
	Percent        float64     `json:"percent"`
}
