package capability

import (
	"fmt"
	"sync"
	"time"

	"github.com/zero-day-ai/aegis/internal/types"
)

// Capability error codes
const (
	ErrCapabilityNotFound      types.ErrorCode = "CAPABILITY_NOT_FOUND"
	ErrCapabilityAlreadyExists types.ErrorCode = "CAPABILITY_ALREADY_EXISTS"
	ErrCapabilityInvalid       types.ErrorCode = "CAPABILITY_INVALID"
)

// Registry manages capability registration and lookup with built-in metrics
// tracking. It is the single source of truth for what actions the execution
// engine can dispatch.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
	metrics      map[string]*Metrics
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]Capability),
		metrics:      make(map[string]*Metrics),
	}
}

// Register adds a capability to the registry.
// Returns ErrCapabilityAlreadyExists if the name is already registered.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return types.NewError(ErrCapabilityInvalid, "capability name cannot be empty")
	}
	if len(c.Args) == 0 {
		return types.NewError(ErrCapabilityInvalid, fmt.Sprintf("capability %q has no argument template", c.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capabilities[c.Name]; exists {
		return types.NewError(ErrCapabilityAlreadyExists, fmt.Sprintf("capability %q already registered", c.Name))
	}

	r.capabilities[c.Name] = c
	r.metrics[c.Name] = &Metrics{}

	return nil
}

// Get retrieves a capability by name.
// Returns ErrCapabilityNotFound if the capability doesn't exist.
func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.capabilities[name]
	if !exists {
		return Capability{}, types.NewError(ErrCapabilityNotFound, fmt.Sprintf("capability %q not found", name))
	}
	return c, nil
}

// Has reports whether a capability is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.capabilities[name]
	return exists
}

// List returns all registered capabilities.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		out = append(out, c)
	}
	return out
}

// ListByTag returns capabilities carrying the given tag.
func (r *Registry) ListByTag(tag string) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Capability
	for _, c := range r.capabilities {
		if c.HasTag(tag) {
			out = append(out, c)
		}
	}
	return out
}

// RecordResult records an execution outcome for a capability's metrics.
func (r *Registry) RecordResult(name string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.metrics[name]
	if !exists {
		return
	}
	if success {
		m.RecordSuccess(duration)
	} else {
		m.RecordFailure(duration)
	}
}

// RecordFallback records a fallback invocation for a capability.
func (r *Registry) RecordFallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, exists := r.metrics[name]; exists {
		m.RecordFallback()
	}
}

// Metrics returns a copy of the execution metrics for a capability.
// Returns ErrCapabilityNotFound if the capability doesn't exist.
func (r *Registry) Metrics(name string) (Metrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.metrics[name]
	if !exists {
		return Metrics{}, types.NewError(ErrCapabilityNotFound, fmt.Sprintf("capability %q not found", name))
	}
	return *m, nil
}

// FallbackCounts returns per-capability fallback-invocation counts for the
// metrics query. Capabilities with zero fallback invocations are included.
func (r *Registry) FallbackCounts() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.metrics))
	for name, m := range r.metrics {
		out[name] = m.FallbackInvocations
	}
	return out
}
