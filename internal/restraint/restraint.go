package restraint

import (
	"context"

	"github.com/zero-day-ai/aegis/internal/planner"
	"github.com/zero-day-ai/aegis/internal/types"
)

// Verdict is the outcome of validating a proposed action.
type Verdict string

const (
	VerdictAllow           Verdict = "allow"
	VerdictRequireApproval Verdict = "require_approval"
	VerdictBlock           Verdict = "block"
)

// String returns the string representation of Verdict
func (v Verdict) String() string {
	return string(v)
}

// Decision records the verdict for one recommendation, the rule that produced
// it, and a human-readable reason. Decisions are derived values, embedded into
// the audit trail rather than persisted independently.
type Decision struct {
	Verdict             Verdict `json:"verdict"`
	Rule                string  `json:"rule"`
	Reason              string  `json:"reason,omitempty"`
	RecommendationIndex int     `json:"recommendation_index"`
}

// Allows returns true if execution may proceed without gating.
func (d Decision) Allows() bool {
	return d.Verdict == VerdictAllow
}

// WorkflowContext carries the workflow state the rules need: where the target
// runs, whether credentials are attached, and which controls need sign-off.
type WorkflowContext struct {
	WorkflowID types.ID
	Target     types.Target

	// HasCredentials is true when authentication material is attached.
	HasCredentials bool

	// ReadOnlyCapabilities names capabilities known not to mutate the target.
	ReadOnlyCapabilities map[string]bool

	// SignoffControls lists compliance control codes that require manual
	// sign-off before any capability exercising them may run.
	SignoffControls map[string]bool

	// CapabilityControls maps capability name to the control codes it
	// exercises, used by the sign-off rule.
	CapabilityControls map[string][]string
}

// Rule classifies a single recommendation. Rules are evaluated in declared
// order; the first non-allow verdict wins.
type Rule interface {
	// Name identifies the rule in decisions and audit records.
	Name() string

	// Evaluate classifies the recommendation in the given workflow context.
	Evaluate(ctx context.Context, rec planner.Recommendation, wctx WorkflowContext) Decision
}

func allow(rule string) Decision {
	return Decision{Verdict: VerdictAllow, Rule: rule}
}

func block(rule, reason string) Decision {
	return Decision{Verdict: VerdictBlock, Rule: rule, Reason: reason}
}

func requireApproval(rule, reason string) Decision {
	return Decision{Verdict: VerdictRequireApproval, Rule: rule, Reason: reason}
}
