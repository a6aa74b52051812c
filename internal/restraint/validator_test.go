package restraint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/aegis/internal/planner"
	"github.com/zero-day-ai/aegis/internal/types"
)

func devContext() WorkflowContext {
	return WorkflowContext{
		WorkflowID: types.NewID(),
		Target: types.Target{
			Identifier:  "app.example.com",
			Environment: types.EnvironmentDevelopment,
		},
		HasCredentials:       false,
		ReadOnlyCapabilities: map[string]bool{"http-discovery": true, "port-scan": true},
	}
}

func prodContext() WorkflowContext {
	wctx := devContext()
	wctx.Target.Environment = types.EnvironmentProduction
	return wctx
}

func rec(capabilityName string) planner.Recommendation {
	return planner.Recommendation{
		Capability: capabilityName,
		Purpose:    "test",
		Confidence: 0.8,
	}
}

func TestProhibitedActionRule(t *testing.T) {
	rule, err := NewProhibitedActionRule()
	require.NoError(t, err)

	tests := []struct {
		name    string
		rec     planner.Recommendation
		blocked bool
	}{
		{"destructive capability name", rec("rm-tool"), true},
		{"drop table in parameter", planner.Recommendation{
			Capability: "sql-exec",
			Parameters: map[string]string{"query": "DROP TABLE users"},
			Confidence: 0.8,
		}, true},
		{"dos primitive", rec("slowloris"), true},
		{"benign scanner", rec("port-scan"), false},
		{"name containing rm as substring", rec("form-fuzzer"), false},
		{"sqlmap is not a deletion", rec("sqlmap-auth"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := rule.Evaluate(context.Background(), tc.rec, devContext())
			if tc.blocked {
				assert.Equal(t, VerdictBlock, d.Verdict)
				assert.Equal(t, RuleProhibitedAction, d.Rule)
				assert.NotEmpty(t, d.Reason)
			} else {
				assert.Equal(t, VerdictAllow, d.Verdict)
			}
		})
	}
}

func TestProhibitedActionRuleCustomPatterns(t *testing.T) {
	rule, err := NewProhibitedActionRule(`(?i)\bcurl\b`)
	require.NoError(t, err)

	assert.Equal(t, VerdictBlock, rule.Evaluate(context.Background(), rec("curl"), devContext()).Verdict)
	// Custom patterns replace the defaults entirely.
	assert.Equal(t, VerdictAllow, rule.Evaluate(context.Background(), rec("rm-tool"), devContext()).Verdict)

	_, err = NewProhibitedActionRule(`[unclosed`)
	assert.Error(t, err)
}

// A requires-auth action on a credential-less workflow is never allowed,
// regardless of environment or read-only status.
func TestAuthRequirementRuleNeverAllowsWithoutCredentials(t *testing.T) {
	rule := NewAuthRequirementRule()

	authRec := rec("sqlmap-auth")
	authRec.RequiresAuth = true

	for _, env := range []types.Environment{
		types.EnvironmentDevelopment,
		types.EnvironmentStaging,
		types.EnvironmentProduction,
	} {
		wctx := devContext()
		wctx.Target.Environment = env
		wctx.ReadOnlyCapabilities["sqlmap-auth"] = true

		d := rule.Evaluate(context.Background(), authRec, wctx)
		assert.Equal(t, VerdictBlock, d.Verdict, "environment %s", env)
		assert.Equal(t, RuleAuthRequirement, d.Rule)
	}

	// With credentials attached the rule steps aside.
	wctx := devContext()
	wctx.HasCredentials = true
	d := rule.Evaluate(context.Background(), authRec, wctx)
	assert.Equal(t, VerdictAllow, d.Verdict)
}

func TestProductionGateRule(t *testing.T) {
	rule := NewProductionGateRule()

	// Non-production environments pass untouched.
	d := rule.Evaluate(context.Background(), rec("sqlmap-auth"), devContext())
	assert.Equal(t, VerdictAllow, d.Verdict)

	// Production plus a mutating capability requires approval.
	d = rule.Evaluate(context.Background(), rec("sqlmap-auth"), prodContext())
	assert.Equal(t, VerdictRequireApproval, d.Verdict)
	assert.Equal(t, RuleProductionGate, d.Rule)

	// Read-only capabilities are exempt even in production.
	d = rule.Evaluate(context.Background(), rec("http-discovery"), prodContext())
	assert.Equal(t, VerdictAllow, d.Verdict)
}

func TestControlSignoffRule(t *testing.T) {
	rule := NewControlSignoffRule()

	wctx := devContext()
	wctx.SignoffControls = map[string]bool{"AC-6": true}
	wctx.CapabilityControls = map[string][]string{
		"priv-esc-check": {"ac-6", "AC-2"},
		"port-scan":      {"CM-8"},
	}

	d := rule.Evaluate(context.Background(), rec("priv-esc-check"), wctx)
	assert.Equal(t, VerdictRequireApproval, d.Verdict)
	assert.Contains(t, d.Reason, "ac-6")

	d = rule.Evaluate(context.Background(), rec("port-scan"), wctx)
	assert.Equal(t, VerdictAllow, d.Verdict)

	// No sign-off set configured means the rule never fires.
	d = rule.Evaluate(context.Background(), rec("priv-esc-check"), devContext())
	assert.Equal(t, VerdictAllow, d.Verdict)
}

// countingRule records whether it was evaluated, to observe short-circuiting.
type countingRule struct {
	name     string
	decision Decision
	calls    int
}

func (r *countingRule) Name() string { return r.name }

func (r *countingRule) Evaluate(context.Context, planner.Recommendation, WorkflowContext) Decision {
	r.calls++
	return r.decision
}

func TestValidateShortCircuitsOnFirstNonAllow(t *testing.T) {
	first := &countingRule{name: "first", decision: allow("first")}
	second := &countingRule{name: "second", decision: block("second", "vetoed")}
	third := &countingRule{name: "third", decision: allow("third")}

	v := NewValidator(first, second, third)
	d := v.Validate(context.Background(), rec("anything"), devContext())

	assert.Equal(t, VerdictBlock, d.Verdict)
	assert.Equal(t, "second", d.Rule)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls)
}

func TestDefaultValidatorRuleOrder(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	// A recommendation that is both prohibited and requires auth reports the
	// prohibited-action rule: it is evaluated first.
	r := rec("rm-tool")
	r.RequiresAuth = true
	d := v.Validate(context.Background(), r, devContext())
	assert.Equal(t, VerdictBlock, d.Verdict)
	assert.Equal(t, RuleProhibitedAction, d.Rule)

	// Auth requirement fires before the production gate.
	r = rec("sqlmap-auth")
	r.RequiresAuth = true
	d = v.Validate(context.Background(), r, prodContext())
	assert.Equal(t, VerdictBlock, d.Verdict)
	assert.Equal(t, RuleAuthRequirement, d.Rule)
}

func TestFilterStrategyPartitions(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	authRec := rec("sqlmap-auth")
	authRec.RequiresAuth = true

	strategy := planner.Strategy{
		Phase:           types.PhaseRecon,
		Reasoning:       "mixed bag",
		ConfidenceLevel: 0.8,
		Recommendations: []planner.Recommendation{
			rec("http-discovery"), // allowed
			authRec,               // blocked: no credentials
			rec("port-scan"),      // allowed
		},
	}

	result := v.FilterStrategy(context.Background(), strategy, devContext())

	require.Len(t, result.Allowed, 2)
	assert.Equal(t, []int{0, 2}, result.AllowedIndexes)
	require.Len(t, result.Blocked, 1)
	assert.Equal(t, 1, result.Blocked[0].RecommendationIndex)
	assert.Equal(t, RuleAuthRequirement, result.Blocked[0].Rule)
	assert.Empty(t, result.Held)

	// An auth block filters the single recommendation, not the strategy.
	assert.False(t, result.StrategyBlocked())
	assert.False(t, result.NeedsApproval())
}

func TestFilterStrategyProhibitedVoidsStrategy(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	strategy := planner.Strategy{
		Phase:           types.PhaseRecon,
		Reasoning:       "one bad apple",
		ConfidenceLevel: 0.8,
		Recommendations: []planner.Recommendation{
			rec("http-discovery"),
			rec("rm-tool"),
		},
	}

	result := v.FilterStrategy(context.Background(), strategy, devContext())
	assert.True(t, result.StrategyBlocked())
}

func TestFilterStrategyHeldForApproval(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	strategy := planner.Strategy{
		Phase:           types.PhaseExploit,
		Reasoning:       "production gating",
		ConfidenceLevel: 0.9,
		Recommendations: []planner.Recommendation{
			rec("http-discovery"), // read-only, exempt
			rec("zap-active"),     // mutating in production
		},
	}

	result := v.FilterStrategy(context.Background(), strategy, prodContext())

	require.Len(t, result.Allowed, 1)
	require.Len(t, result.Held, 1)
	assert.Equal(t, RuleProductionGate, result.Held[0].Rule)
	assert.Equal(t, 1, result.Held[0].RecommendationIndex)
	assert.True(t, result.NeedsApproval())
	assert.False(t, result.StrategyBlocked())
}

func TestDecisionAllows(t *testing.T) {
	assert.True(t, allow("x").Allows())
	assert.False(t, block("x", "reason").Allows())
	assert.False(t, requireApproval("x", "reason").Allows())
}
