package restraint

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/aegis/internal/planner"
)

// Validator classifies proposed actions against an ordered rule set.
// Rules run in declared order and the first non-allow verdict wins.
type Validator struct {
	rules  []Rule
	tracer trace.Tracer
	logger *slog.Logger
}

// NewValidator creates a validator with the given rules.
func NewValidator(rules ...Rule) *Validator {
	return &Validator{
		rules:  rules,
		logger: slog.Default(),
	}
}

// NewDefaultValidator creates a validator with the built-in rules in their
// evaluation order: prohibited actions, then auth requirements, production
// gating, and control sign-off.
func NewDefaultValidator() (*Validator, error) {
	prohibited, err := NewProhibitedActionRule()
	if err != nil {
		return nil, err
	}
	return NewValidator(
		prohibited,
		NewAuthRequirementRule(),
		NewProductionGateRule(),
		NewControlSignoffRule(),
	), nil
}

// WithTracer sets the OpenTelemetry tracer for the validator.
func (v *Validator) WithTracer(tracer trace.Tracer) *Validator {
	v.tracer = tracer
	return v
}

// WithLogger sets the logger for the validator.
func (v *Validator) WithLogger(logger *slog.Logger) *Validator {
	v.logger = logger
	return v
}

// Validate classifies a single recommendation. The first rule returning a
// non-allow verdict short-circuits evaluation.
func (v *Validator) Validate(ctx context.Context, rec planner.Recommendation, wctx WorkflowContext) Decision {
	for _, rule := range v.rules {
		var span trace.Span
		if v.tracer != nil {
			ctx, span = v.tracer.Start(ctx, "restraint.evaluate",
				trace.WithAttributes(
					attribute.String("restraint.rule", rule.Name()),
					attribute.String("restraint.capability", rec.Capability),
				),
			)
		}

		decision := rule.Evaluate(ctx, rec, wctx)

		if span != nil {
			span.SetAttributes(
				attribute.String("restraint.verdict", string(decision.Verdict)),
				attribute.String("restraint.reason", decision.Reason),
			)
			span.End()
		}

		if decision.Verdict != VerdictAllow {
			return decision
		}
	}

	return allow("")
}

// FilterResult partitions a strategy's recommendations by verdict.
type FilterResult struct {
	// Allowed recommendations proceed to task creation.
	Allowed []planner.Recommendation

	// AllowedIndexes maps positions in Allowed back to the strategy's
	// recommendation indexes.
	AllowedIndexes []int

	// Held recommendations require external approval before execution.
	Held []Decision

	// Blocked recommendations were vetoed outright.
	Blocked []Decision
}

// StrategyBlocked reports whether any recommendation was vetoed by the
// prohibited-action rule. The orchestrator responds by substituting the fixed
// safe fallback strategy for the phase; auth-requirement blocks only filter
// the individual recommendation.
func (r FilterResult) StrategyBlocked() bool {
	for _, d := range r.Blocked {
		if d.Rule == RuleProhibitedAction {
			return true
		}
	}
	return false
}

// NeedsApproval reports whether any recommendation is held for approval.
func (r FilterResult) NeedsApproval() bool {
	return len(r.Held) > 0
}

// FilterStrategy validates every recommendation of a strategy and partitions
// the results. Auth-requirement blocks are logged as "queued for approval"
// rather than silently dropped.
func (v *Validator) FilterStrategy(ctx context.Context, strategy planner.Strategy, wctx WorkflowContext) FilterResult {
	var result FilterResult

	for i, rec := range strategy.Recommendations {
		decision := v.Validate(ctx, rec, wctx)
		decision.RecommendationIndex = i

		switch decision.Verdict {
		case VerdictAllow:
			result.Allowed = append(result.Allowed, rec)
			result.AllowedIndexes = append(result.AllowedIndexes, i)

		case VerdictRequireApproval:
			result.Held = append(result.Held, decision)
			v.logger.InfoContext(ctx, "recommendation held for approval",
				"workflow_id", wctx.WorkflowID,
				"capability", rec.Capability,
				"rule", decision.Rule,
				"reason", decision.Reason,
			)

		case VerdictBlock:
			result.Blocked = append(result.Blocked, decision)
			if decision.Rule == RuleAuthRequirement {
				v.logger.InfoContext(ctx, "recommendation queued for approval",
					"workflow_id", wctx.WorkflowID,
					"capability", rec.Capability,
					"reason", decision.Reason,
				)
			} else {
				v.logger.WarnContext(ctx, "recommendation blocked",
					"workflow_id", wctx.WorkflowID,
					"capability", rec.Capability,
					"rule", decision.Rule,
					"reason", decision.Reason,
				)
			}
		}
	}

	return result
}
