package planner

import (
	"github.com/zero-day-ai/aegis/internal/types"
)

// DefaultDiscoveryCapability is the low-risk capability used by the fixed safe
// fallback strategy and by progressive discovery when synthesizing coverage.
const DefaultDiscoveryCapability = "http-discovery"

// SafeFallbackStrategy returns the fixed, minimal safe strategy for a phase:
// a single low-risk discovery recommendation. The orchestrator substitutes it
// when planner output is malformed or a proposed strategy is blocked outright.
func SafeFallbackStrategy(phase types.Phase, target types.Target) Strategy {
	return Strategy{
		Phase:     phase,
		Reasoning: "fallback: substituted fixed safe strategy after planner output was rejected",
		Recommendations: []Recommendation{
			{
				Capability: DefaultDiscoveryCapability,
				Purpose:    "baseline non-intrusive discovery of the target surface",
				Parameters: map[string]string{
					"target": target.Identifier,
				},
				Priority:     1,
				RequiresAuth: false,
				SafetyChecks: []string{"read-only", "scope-limited"},
				Confidence:   1.0,
			},
		},
		ConfidenceLevel:     1.0,
		NextPhaseConditions: []string{"baseline discovery completed"},
	}
}
