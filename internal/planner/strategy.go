package planner

import (
	"fmt"
	"strings"

	"github.com/zero-day-ai/aegis/internal/types"
)

// Recommendation is a single proposed action from the strategic planner.
// Recommendations are produced once per phase invocation, consumed by the
// restraint validator and execution engine, and never mutated.
type Recommendation struct {
	// Capability names the action to run (must exist in the registry).
	Capability string `json:"capability"`

	// Purpose explains why the planner proposed this action.
	Purpose string `json:"purpose"`

	// Parameters feed the capability's argument template.
	Parameters map[string]string `json:"parameters,omitempty"`

	// Priority orders execution; lower runs earlier.
	Priority int `json:"priority"`

	// RequiresAuth indicates this action needs workflow credentials.
	RequiresAuth bool `json:"requires_auth"`

	// SafetyChecks lists the safety controls the planner claims to have
	// considered for this action.
	SafetyChecks []string `json:"safety_checks,omitempty"`

	// Confidence is the planner's certainty in this recommendation, in [0,1].
	Confidence float64 `json:"confidence"`
}

// Validate checks the recommendation is structurally sound.
func (r Recommendation) Validate() error {
	if strings.TrimSpace(r.Capability) == "" {
		return fmt.Errorf("capability is required")
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got: %f", r.Confidence)
	}
	return nil
}

// Strategy is the planner's typed output for a single phase.
type Strategy struct {
	// Phase is the workflow phase this strategy targets.
	Phase types.Phase `json:"phase"`

	// Reasoning is the planner's chain-of-thought summary.
	Reasoning string `json:"reasoning"`

	// Recommendations are the proposed actions, in priority order.
	Recommendations []Recommendation `json:"recommendations"`

	// ConfidenceLevel is the planner's overall certainty, in [0,1].
	ConfidenceLevel float64 `json:"confidence_level"`

	// NextPhaseConditions describe what must hold before advancing.
	NextPhaseConditions []string `json:"next_phase_conditions,omitempty"`
}

// Validate checks the strategy conforms to the required shape. Any violation
// is treated as malformed planner output by the adapter.
func (s Strategy) Validate() error {
	if !s.Phase.IsValid() {
		return fmt.Errorf("invalid phase: %q", s.Phase)
	}
	if strings.TrimSpace(s.Reasoning) == "" {
		return fmt.Errorf("reasoning is required")
	}
	if len(s.Recommendations) == 0 {
		return fmt.Errorf("at least one recommendation is required")
	}
	if s.ConfidenceLevel < 0.0 || s.ConfidenceLevel > 1.0 {
		return fmt.Errorf("confidence_level must be between 0.0 and 1.0, got: %f", s.ConfidenceLevel)
	}
	for i, rec := range s.Recommendations {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("recommendation %d: %w", i, err)
		}
	}
	return nil
}

// PlanningContext carries everything the planner needs to reason about a
// phase: the target, where the workflow is, and what has been found so far.
type PlanningContext struct {
	WorkflowID     types.ID        `json:"workflow_id"`
	Target         types.Target    `json:"target"`
	Phase          types.Phase     `json:"phase"`
	Findings       []types.Finding `json:"findings,omitempty"`
	Constraints    []string        `json:"constraints,omitempty"`
	HasCredentials bool            `json:"has_credentials"`
	Capabilities   []string        `json:"capabilities,omitempty"`
}
