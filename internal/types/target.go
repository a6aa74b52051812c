package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Environment classifies where a target system runs. Production environments
// gate non-read-only actions behind approval.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentStaging     Environment = "staging"
	EnvironmentProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the Environment is a valid value
func (e Environment) IsValid() bool {
	switch e {
	case EnvironmentDevelopment, EnvironmentStaging, EnvironmentProduction:
		return true
	default:
		return false
	}
}

// IsProduction returns true for declared production environments.
func (e Environment) IsProduction() bool {
	return e == EnvironmentProduction
}

// Target describes the system under assessment.
type Target struct {
	// Identifier is the target address, typically a URL or hostname.
	Identifier string `json:"identifier"`

	// Scope restricts testing to a path or subdomain pattern (e.g. "/*").
	Scope string `json:"scope,omitempty"`

	// Environment declares where the target runs. Defaults to development.
	Environment Environment `json:"environment,omitempty"`

	// Description is free-form operator intent for this assessment.
	Description string `json:"description,omitempty"`
}

// Validate checks that the target is well-formed enough to assess.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Identifier) == "" {
		return NewError(VALIDATION_FAILED, "target identifier cannot be empty")
	}

	if strings.Contains(t.Identifier, "://") {
		if _, err := url.Parse(t.Identifier); err != nil {
			return WrapError(VALIDATION_FAILED, fmt.Sprintf("invalid target URL %q", t.Identifier), err)
		}
	}

	if t.Environment != "" && !t.Environment.IsValid() {
		return NewError(VALIDATION_FAILED, fmt.Sprintf("invalid environment %q", t.Environment))
	}

	return nil
}

// Host returns the hostname portion of the identifier, stripping any scheme,
// path, and port. Used for asset matching during progressive discovery.
func (t Target) Host() string {
	id := t.Identifier
	if strings.Contains(id, "://") {
		if u, err := url.Parse(id); err == nil && u.Host != "" {
			id = u.Host
		}
	}
	if idx := strings.IndexByte(id, '/'); idx >= 0 {
		id = id[:idx]
	}
	if idx := strings.LastIndexByte(id, ':'); idx >= 0 && !strings.Contains(id[idx:], "]") {
		id = id[:idx]
	}
	return id
}

// Credential is an authentication material attached to a workflow.
// The secret value is never serialized.
type Credential struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"` // e.g. "bearer", "basic", "api_key"
	Secret string `json:"-"`
}

// FindingSeverity represents the severity of a security finding.
type FindingSeverity string

const (
	SeverityInfo     FindingSeverity = "info"
	SeverityLow      FindingSeverity = "low"
	SeverityMedium   FindingSeverity = "medium"
	SeverityHigh     FindingSeverity = "high"
	SeverityCritical FindingSeverity = "critical"
)

// String returns the string representation of FindingSeverity
func (s FindingSeverity) String() string {
	return string(s)
}

// IsValid checks if the FindingSeverity is a valid value
func (s FindingSeverity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Finding is an observation produced during workflow execution. Findings are
// append-only on a workflow; later findings supersede earlier ones but never
// remove them.
type Finding struct {
	ID           ID              `json:"id"`
	WorkflowID   ID              `json:"workflow_id"`
	Severity     FindingSeverity `json:"severity"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	EvidenceRef  string          `json:"evidence_ref,omitempty"`
	ControlCodes []string        `json:"control_codes,omitempty"`
	Assets       []string        `json:"assets,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`
}

// IsCritical returns true if the finding is critical severity.
func (f Finding) IsCritical() bool {
	return f.Severity == SeverityCritical
}
