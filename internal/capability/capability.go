package capability

import (
	"time"
)

// Capability describes a named, externally invokable security-testing action.
// The underlying binary and its container image are opaque; Aegis only knows
// the templated argument list and the metadata needed to schedule it safely.
type Capability struct {
	// Name uniquely identifies the capability (e.g. "port-scan").
	Name string `json:"name" yaml:"name"`

	// Description is a short human-readable summary.
	Description string `json:"description" yaml:"description"`

	// Args is the ordered argument template. Tokens of the form {key} are
	// substituted from a task's parameter map at execution time.
	Args []string `json:"args" yaml:"args"`

	// Timeout is the per-invocation deadline. Zero means the engine's
	// global default applies.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RequiresAuth indicates the capability needs workflow credentials.
	RequiresAuth bool `json:"requires_auth,omitempty" yaml:"requires_auth,omitempty"`

	// ReadOnly indicates the capability never mutates the target.
	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`

	// Tags classify the capability for discovery and restraint rules.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// ControlCodes lists the compliance controls this capability exercises.
	ControlCodes []string `json:"control_codes,omitempty" yaml:"control_codes,omitempty"`

	// AssetParams maps an asset kind (e.g. "api", "web") to parameter
	// defaults appropriate for that asset shape.
	AssetParams map[string]map[string]string `json:"asset_params,omitempty" yaml:"asset_params,omitempty"`
}

// HasTag reports whether the capability carries the given tag.
func (c Capability) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ParamsForAsset returns the parameter defaults for an asset kind, merged over
// the provided base parameters. Base values win on key collision so planner
// output is never silently overridden.
func (c Capability) ParamsForAsset(kind string, base map[string]string) map[string]string {
	merged := make(map[string]string)
	if defaults, ok := c.AssetParams[kind]; ok {
		for k, v := range defaults {
			merged[k] = v
		}
	}
	for k, v := range base {
		merged[k] = v
	}
	return merged
}

// Metrics tracks capability execution statistics for the metrics query.
// Metrics are updated by the registry during execution and are thread-safe
// only through the registry's lock.
type Metrics struct {
	TotalCalls          int64         `json:"total_calls"`
	SuccessCalls        int64         `json:"success_calls"`
	FailedCalls         int64         `json:"failed_calls"`
	FallbackInvocations int64         `json:"fallback_invocations"`
	TotalDuration       time.Duration `json:"total_duration"`
	AvgDuration         time.Duration `json:"avg_duration"`
	LastExecutedAt      *time.Time    `json:"last_executed_at,omitempty"`
}

// RecordSuccess records a successful execution with the given duration.
func (m *Metrics) RecordSuccess(duration time.Duration) {
	m.TotalCalls++
	m.SuccessCalls++
	m.TotalDuration += duration
	m.AvgDuration = m.TotalDuration / time.Duration(m.TotalCalls)
	now := time.Now()
	m.LastExecutedAt = &now
}

// RecordFailure records a failed execution with the given duration.
func (m *Metrics) RecordFailure(duration time.Duration) {
	m.TotalCalls++
	m.FailedCalls++
	m.TotalDuration += duration
	m.AvgDuration = m.TotalDuration / time.Duration(m.TotalCalls)
	now := time.Now()
	m.LastExecutedAt = &now
}

// RecordFallback records that a fallback substitute was invoked in place of
// this capability.
func (m *Metrics) RecordFallback() {
	m.FallbackInvocations++
}

// SuccessRate returns the success rate between 0.0 and 1.0.
// Returns 0.0 if no calls have been made.
func (m *Metrics) SuccessRate() float64 {
	if m.TotalCalls == 0 {
		return 0.0
	}
	return float64(m.SuccessCalls) / float64(m.TotalCalls)
}
