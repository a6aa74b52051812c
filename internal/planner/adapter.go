package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zero-day-ai/aegis/internal/types"
)

// DefaultConfidenceThreshold is the level below which a strategy is logged as
// low-confidence. Low confidence warns but never blocks execution.
const DefaultConfidenceThreshold = 0.6

// Adapter wraps a call to the external reasoning service and parses its
// structured output into a typed Strategy. Malformed output is rejected with
// PLANNER_OUTPUT_MALFORMED; the orchestrator recovers with the fixed safe
// fallback strategy.
type Adapter struct {
	client              ReasoningClient
	logger              *slog.Logger
	confidenceThreshold float64
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the structured logger for the adapter.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithConfidenceThreshold overrides the low-confidence warning threshold.
func WithConfidenceThreshold(t float64) AdapterOption {
	return func(a *Adapter) {
		if t > 0 {
			a.confidenceThreshold = t
		}
	}
}

// NewAdapter creates a planner adapter over the given reasoning client.
func NewAdapter(client ReasoningClient, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		client:              client,
		logger:              slog.Default(),
		confidenceThreshold: DefaultConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PlanStrategy requests a strategy for the current phase from the reasoning
// service and parses the response into a typed Strategy.
//
// Returns PLANNER_OUTPUT_MALFORMED if the response cannot be parsed into the
// required shape. Confidence below the configured threshold is logged as a
// warning but does not block execution.
func (a *Adapter) PlanStrategy(ctx context.Context, workflowID types.ID, pctx PlanningContext) (Strategy, error) {
	prompt, err := a.buildPlanningPrompt(pctx)
	if err != nil {
		return Strategy{}, types.WrapError(types.PLANNER_UNAVAILABLE,
			"failed to build planning prompt", err)
	}

	raw, err := a.client.Reason(ctx, a.buildSystemPrompt(), prompt)
	if err != nil {
		return Strategy{}, types.WrapError(types.PLANNER_UNAVAILABLE,
			"reasoning service call failed", err)
	}

	strategy, err := ParseStrategy(raw)
	if err != nil {
		return Strategy{}, types.WrapError(types.PLANNER_OUTPUT_MALFORMED,
			fmt.Sprintf("planner output for workflow %s could not be parsed", workflowID), err)
	}

	if strategy.Phase != pctx.Phase {
		return Strategy{}, types.NewError(types.PLANNER_OUTPUT_MALFORMED,
			fmt.Sprintf("planner returned phase %q for a %q planning request", strategy.Phase, pctx.Phase))
	}

	if strategy.ConfidenceLevel < a.confidenceThreshold {
		a.logger.WarnContext(ctx, "low-confidence strategy",
			"workflow_id", workflowID,
			"phase", strategy.Phase,
			"confidence", strategy.ConfidenceLevel,
			"threshold", a.confidenceThreshold,
		)
	}

	return strategy, nil
}

// ParseStrategy parses raw reasoning-service output into a validated Strategy.
// The response may be wrapped in markdown code fences.
func ParseStrategy(raw string) (Strategy, error) {
	jsonContent := extractJSON(raw)
	if jsonContent == "" {
		return Strategy{}, fmt.Errorf("response contains no JSON object")
	}

	var strategy Strategy
	decoder := json.NewDecoder(strings.NewReader(jsonContent))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&strategy); err != nil {
		// Retry without strict field checking; extra fields are tolerated,
		// shape violations are not.
		if err = json.Unmarshal([]byte(jsonContent), &strategy); err != nil {
			return Strategy{}, fmt.Errorf("failed to parse JSON response: %w", err)
		}
	}

	if err := strategy.Validate(); err != nil {
		return Strategy{}, fmt.Errorf("response shape invalid: %w", err)
	}

	return strategy, nil
}

// buildSystemPrompt defines the reasoning service's role for planning calls.
func (a *Adapter) buildSystemPrompt() string {
	return `You are a strategic security testing planner.

Your role is to analyze a target, the current assessment phase, and accumulated findings to propose the next set of testing actions.

You must:
1. Only propose capabilities from the provided capability list
2. Order recommendations by likelihood of yielding findings
3. Mark every recommendation that needs target credentials with requires_auth
4. Declare the safety checks you considered for each action
5. Report your confidence honestly; uncertain plans are acceptable

Your response must be a single JSON object matching the schema in the user message.`
}

// buildPlanningPrompt constructs the planning prompt with full phase context.
func (a *Adapter) buildPlanningPrompt(pctx PlanningContext) (string, error) {
	var b strings.Builder

	b.WriteString("## Target\n\n")
	b.WriteString(fmt.Sprintf("- Identifier: %s\n", pctx.Target.Identifier))
	if pctx.Target.Scope != "" {
		b.WriteString(fmt.Sprintf("- Scope: %s\n", pctx.Target.Scope))
	}
	if pctx.Target.Environment != "" {
		b.WriteString(fmt.Sprintf("- Environment: %s\n", pctx.Target.Environment))
	}
	if pctx.Target.Description != "" {
		b.WriteString(fmt.Sprintf("- Intent: %s\n", pctx.Target.Description))
	}
	b.WriteString(fmt.Sprintf("- Credentials available: %t\n\n", pctx.HasCredentials))

	b.WriteString(fmt.Sprintf("## Current Phase\n\n%s\n\n", pctx.Phase))

	if len(pctx.Capabilities) > 0 {
		b.WriteString("## Available Capabilities\n\n")
		for _, name := range pctx.Capabilities {
			b.WriteString(fmt.Sprintf("- %s\n", name))
		}
		b.WriteString("\n")
	}

	if len(pctx.Findings) > 0 {
		b.WriteString("## Findings So Far\n\n")
		for _, f := range pctx.Findings {
			b.WriteString(fmt.Sprintf("- [%s] %s: %s", f.Severity, f.Type, f.Title))
			if len(f.Assets) > 0 {
				b.WriteString(fmt.Sprintf(" (assets: %s)", strings.Join(f.Assets, ", ")))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(pctx.Constraints) > 0 {
		b.WriteString("## Constraints\n\n")
		for _, c := range pctx.Constraints {
			b.WriteString(fmt.Sprintf("- %s\n", c))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Required Response Format\n\n")
	b.WriteString("Respond with a single JSON object:\n\n")
	b.WriteString("```json\n")
	b.WriteString(`{
  "phase": "` + pctx.Phase.String() + `",
  "reasoning": "why these actions, in order",
  "recommendations": [
    {
      "capability": "name-from-capability-list",
      "purpose": "what this action establishes",
      "parameters": {"key": "value"},
      "priority": 1,
      "requires_auth": false,
      "safety_checks": ["scope-limited"],
      "confidence": 0.8
    }
  ],
  "confidence_level": 0.8,
  "next_phase_conditions": ["coverage threshold met"]
}
`)
	b.WriteString("```\n")

	return b.String(), nil
}

// extractJSON pulls the first JSON object out of a response that may be
// wrapped in markdown code fences or surrounding prose.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+len("```json"):]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	} else if idx := strings.Index(content, "```"); idx >= 0 {
		content = content[idx+3:]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	}

	// Trim to the outermost braces
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}
