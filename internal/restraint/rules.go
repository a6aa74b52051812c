package restraint

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/zero-day-ai/aegis/internal/planner"
)

// Rule names, in evaluation order.
const (
	RuleProhibitedAction = "prohibited_action"
	RuleAuthRequirement  = "auth_requirement"
	RuleProductionGate   = "production_gate"
	RuleControlSignoff   = "control_signoff"
)

// defaultProhibitedPatterns match destructive filesystem/network operations,
// production-data mutation, and denial-of-service primitives. Matching is
// case-insensitive against the capability name and every parameter value.
var defaultProhibitedPatterns = []string{
	`(?i)\brm(-tool)?\b`,
	`(?i)\brm\s+-rf\b`,
	`(?i)\bmkfs\b`,
	`(?i)\bdd\s+if=`,
	`(?i)\bshred\b`,
	`(?i)\bdrop\s+(table|database)\b`,
	`(?i)\btruncate\s+table\b`,
	`(?i)\bdelete\s+from\b`,
	`(?i)\bflood\b`,
	`(?i)\bsynflood\b`,
	`(?i)\bslowloris\b`,
	`(?i)\bhping3?\b`,
	`(?i)denial.of.service`,
	`(?i)\bfork\s*bomb\b`,
}

// ProhibitedActionRule blocks recommendations whose capability name or
// parameters match a configured prohibited-action pattern.
type ProhibitedActionRule struct {
	patterns []*regexp.Regexp
}

// NewProhibitedActionRule compiles the given patterns, falling back to the
// built-in destructive-action set when none are provided.
func NewProhibitedActionRule(patterns ...string) (*ProhibitedActionRule, error) {
	if len(patterns) == 0 {
		patterns = defaultProhibitedPatterns
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid prohibited-action pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &ProhibitedActionRule{patterns: compiled}, nil
}

// Name identifies the rule.
func (r *ProhibitedActionRule) Name() string {
	return RuleProhibitedAction
}

// Evaluate blocks when the capability or any parameter value matches a
// prohibited pattern.
func (r *ProhibitedActionRule) Evaluate(ctx context.Context, rec planner.Recommendation, wctx WorkflowContext) Decision {
	for _, re := range r.patterns {
		if re.MatchString(rec.Capability) {
			return block(RuleProhibitedAction,
				fmt.Sprintf("capability %q matches prohibited pattern %q", rec.Capability, re.String()))
		}
		for key, val := range rec.Parameters {
			if re.MatchString(val) {
				return block(RuleProhibitedAction,
					fmt.Sprintf("parameter %q matches prohibited pattern %q", key, re.String()))
			}
		}
	}
	return allow(RuleProhibitedAction)
}

// AuthRequirementRule blocks recommendations that require credentials when
// none are attached to the workflow. Such recommendations are queued for
// approval rather than silently dropped; the validator logs them.
type AuthRequirementRule struct{}

// NewAuthRequirementRule creates the auth requirement rule.
func NewAuthRequirementRule() *AuthRequirementRule {
	return &AuthRequirementRule{}
}

// Name identifies the rule.
func (r *AuthRequirementRule) Name() string {
	return RuleAuthRequirement
}

// Evaluate blocks requiresAuth recommendations on credential-less workflows.
func (r *AuthRequirementRule) Evaluate(ctx context.Context, rec planner.Recommendation, wctx WorkflowContext) Decision {
	if rec.RequiresAuth && !wctx.HasCredentials {
		return block(RuleAuthRequirement,
			fmt.Sprintf("capability %q requires credentials that are not attached; queued for approval", rec.Capability))
	}
	return allow(RuleAuthRequirement)
}

// ProductionGateRule requires approval for non-read-only actions against a
// declared production environment.
type ProductionGateRule struct{}

// NewProductionGateRule creates the production gate rule.
func NewProductionGateRule() *ProductionGateRule {
	return &ProductionGateRule{}
}

// Name identifies the rule.
func (r *ProductionGateRule) Name() string {
	return RuleProductionGate
}

// Evaluate requires approval when the target is production and the
// recommendation is not known to be read-only.
func (r *ProductionGateRule) Evaluate(ctx context.Context, rec planner.Recommendation, wctx WorkflowContext) Decision {
	if !wctx.Target.Environment.IsProduction() {
		return allow(RuleProductionGate)
	}
	if wctx.ReadOnlyCapabilities[rec.Capability] {
		return allow(RuleProductionGate)
	}
	return requireApproval(RuleProductionGate,
		fmt.Sprintf("capability %q is not read-only and the target is a declared production environment", rec.Capability))
}

// ControlSignoffRule requires approval for recommendations that exercise a
// compliance control needing manual sign-off. These would carry the
// security-critical audit flag if executed.
type ControlSignoffRule struct{}

// NewControlSignoffRule creates the control sign-off rule.
func NewControlSignoffRule() *ControlSignoffRule {
	return &ControlSignoffRule{}
}

// Name identifies the rule.
func (r *ControlSignoffRule) Name() string {
	return RuleControlSignoff
}

// Evaluate requires approval when any control code exercised by the
// capability is in the sign-off set.
func (r *ControlSignoffRule) Evaluate(ctx context.Context, rec planner.Recommendation, wctx WorkflowContext) Decision {
	if len(wctx.SignoffControls) == 0 {
		return allow(RuleControlSignoff)
	}
	for _, code := range wctx.CapabilityControls[rec.Capability] {
		if wctx.SignoffControls[strings.ToUpper(code)] {
			return requireApproval(RuleControlSignoff,
				fmt.Sprintf("capability %q exercises control %s which needs manual sign-off", rec.Capability, code))
		}
	}
	return allow(RuleControlSignoff)
}
