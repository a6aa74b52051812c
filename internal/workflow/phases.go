package workflow

import (
	"github.com/zero-day-ai/aegis/internal/types"
)

// PhasePlan is the immutable ordered phase configuration for a workflow.
// Successors and exit conditions are fixed at construction; runtime state
// lives on the workflow, never here.
type PhasePlan struct {
	order []types.Phase

	// maxReplans bounds how many times a single phase may re-enter planning
	// after discovery expands its asset set.
	maxReplans int
}

// DefaultMaxReplans bounds per-phase replanning when progressive discovery
// keeps surfacing new assets.
const DefaultMaxReplans = 3

// NewPhasePlan builds a plan from an explicit phase order and replan bound.
// An empty order or negative bound falls back to the defaults.
func NewPhasePlan(order []types.Phase, maxReplans int) PhasePlan {
	if len(order) == 0 {
		order = DefaultPhasePlan().order
	}
	if maxReplans < 0 {
		maxReplans = DefaultMaxReplans
	}
	copied := make([]types.Phase, len(order))
	copy(copied, order)
	return PhasePlan{order: copied, maxReplans: maxReplans}
}

// DefaultPhasePlan returns the standard assessment progression.
func DefaultPhasePlan() PhasePlan {
	return PhasePlan{
		order:      []types.Phase{types.PhaseRecon, types.PhaseAnalyze, types.PhaseExploit, types.PhaseReport},
		maxReplans: DefaultMaxReplans,
	}
}

// Phases returns a copy of the ordered phase list.
func (p PhasePlan) Phases() []types.Phase {
	out := make([]types.Phase, len(p.order))
	copy(out, p.order)
	return out
}

// First returns the entry phase.
func (p PhasePlan) First() types.Phase {
	if len(p.order) == 0 {
		return types.PhaseRecon
	}
	return p.order[0]
}

// Successor returns the phase following the given one, or false when the
// given phase is last (or unknown).
func (p PhasePlan) Successor(phase types.Phase) (types.Phase, bool) {
	for i, ph := range p.order {
		if ph == phase && i+1 < len(p.order) {
			return p.order[i+1], true
		}
	}
	return "", false
}

// MaxReplans returns the per-phase replan bound.
func (p PhasePlan) MaxReplans() int {
	return p.maxReplans
}
