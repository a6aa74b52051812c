package capability

import (
	"fmt"

	"github.com/zero-day-ai/aegis/internal/types"
)

// FallbackRegistry is a static mapping from a capability name to an ordered
// list of substitute capabilities, consulted when the primary fails or is
// unavailable. The mapping is validated acyclic at construction so the
// execution engine can walk chains without cycle bookkeeping.
type FallbackRegistry struct {
	chains map[string][]string
}

// NewFallbackRegistry builds a fallback registry from the given chains.
// Returns an error if any chain entry would introduce a cycle, directly or
// transitively.
func NewFallbackRegistry(chains map[string][]string) (*FallbackRegistry, error) {
	copied := make(map[string][]string, len(chains))
	for name, subs := range chains {
		copied[name] = append([]string(nil), subs...)
	}

	r := &FallbackRegistry{chains: copied}
	if err := r.checkAcyclic(); err != nil {
		return nil, err
	}
	return r, nil
}

// ChainFor returns the ordered substitute list for a capability.
// Returns nil when no fallback is registered.
func (r *FallbackRegistry) ChainFor(name string) []string {
	subs, ok := r.chains[name]
	if !ok {
		return nil
	}
	return append([]string(nil), subs...)
}

// checkAcyclic verifies no capability is reachable from itself through the
// fallback graph, using a recursive depth-first walk with a three-color
// scheme.
func (r *FallbackRegistry) checkAcyclic() error {
	const (
		white = 0 // unvisited
		gray  = 1 // on current path
		black = 2 // fully explored
	)
	color := make(map[string]int)

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			return types.NewError(ErrCapabilityInvalid,
				fmt.Sprintf("fallback chain for %q contains a cycle", name))
		case black:
			return nil
		}
		color[name] = gray
		for _, sub := range r.chains[name] {
			if sub == name {
				return types.NewError(ErrCapabilityInvalid,
					fmt.Sprintf("capability %q lists itself as a fallback", name))
			}
			if err := visit(sub); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for name := range r.chains {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
