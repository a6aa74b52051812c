package audit

import (
	"encoding/json"
	"time"

	"github.com/zero-day-ai/aegis/internal/types"
)

// DecisionType categorizes a planning decision for audit aggregation.
type DecisionType string

const (
	DecisionStrategy          DecisionType = "strategy"
	DecisionTaskSelection     DecisionType = "task_selection"
	DecisionFindingAnalysis   DecisionType = "finding_analysis"
	DecisionPhaseTransition   DecisionType = "phase_transition"
	DecisionCoverageExpansion DecisionType = "coverage_expansion"
	DecisionRestraint         DecisionType = "restraint"
	DecisionRestraintOverride DecisionType = "restraint_override"
)

// String returns the string representation of DecisionType
func (d DecisionType) String() string {
	return string(d)
}

// IsValid checks if the DecisionType is a valid value
func (d DecisionType) IsValid() bool {
	switch d {
	case DecisionStrategy, DecisionTaskSelection, DecisionFindingAnalysis,
		DecisionPhaseTransition, DecisionCoverageExpansion,
		DecisionRestraint, DecisionRestraintOverride:
		return true
	default:
		return false
	}
}

// OutcomeStatus classifies how a decision played out.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// DecisionOutput is the decision itself plus the reasoning behind it.
type DecisionOutput struct {
	// Decision is a short statement of what was decided.
	Decision string `json:"decision"`

	// Reasoning explains why.
	Reasoning string `json:"reasoning,omitempty"`

	// Confidence is the decision confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// Outcome records what happened after a decision executed. Attached to a
// record once known; the only permitted mutation of a DecisionRecord.
type Outcome struct {
	// Executed is true if the decided action actually ran.
	Executed bool `json:"executed"`

	// Status classifies the result.
	Status OutcomeStatus `json:"status"`

	// Result holds a short result description.
	Result string `json:"result,omitempty"`

	// Impact describes the observed effect on the assessment.
	Impact string `json:"impact,omitempty"`
}

// Flags mark a decision for compliance attention.
type Flags struct {
	ManualReview       bool `json:"manual_review"`
	ComplianceRelevant bool `json:"compliance_relevant"`
	SecurityCritical   bool `json:"security_critical"`
	Unexpected         bool `json:"unexpected"`
}

// Any returns true if at least one flag is set.
func (f Flags) Any() bool {
	return f.ManualReview || f.ComplianceRelevant || f.SecurityCritical || f.Unexpected
}

// DecisionContext snapshots the inputs the decision was made against.
type DecisionContext struct {
	Target       string   `json:"target,omitempty"`
	Environment  string   `json:"environment,omitempty"`
	Capability   string   `json:"capability,omitempty"`
	ControlCodes []string `json:"control_codes,omitempty"`

	// FindingSeverity is set for finding_analysis decisions.
	FindingSeverity types.FindingSeverity `json:"finding_severity,omitempty"`

	// Extra carries decision-specific context not covered above.
	Extra map[string]any `json:"extra,omitempty"`
}

// DecisionRecord is one append-only entry in a workflow's audit trail.
// Records are never mutated except to attach an Outcome once known.
type DecisionRecord struct {
	ID         types.ID        `json:"id"`
	WorkflowID types.ID        `json:"workflow_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Phase      types.Phase     `json:"phase"`
	Type       DecisionType    `json:"type"`
	Context    DecisionContext `json:"context"`
	Output     DecisionOutput  `json:"output"`
	Outcome    *Outcome        `json:"outcome,omitempty"`
	Flags      Flags           `json:"flags"`
}

// Impact classifies a decision's weight in the audit timeline. High for
// security-critical or override decisions, medium for strategy and phase
// transitions, low otherwise.
func (r DecisionRecord) Impact() string {
	if r.Flags.SecurityCritical || r.Type == DecisionRestraintOverride {
		return "high"
	}
	if r.Type == DecisionStrategy || r.Type == DecisionPhaseTransition {
		return "medium"
	}
	return "low"
}

// Overridden reports whether the decision was declared but never executed
// despite high confidence, which audit reports surface separately.
func (r DecisionRecord) Overridden() bool {
	return r.Outcome != nil && !r.Outcome.Executed && r.Output.Confidence > 0.7
}

// MarshalIndent renders the record as the per-decision JSON audit artifact.
func (r DecisionRecord) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
