package workflow

import (
	"strings"
	"time"

	"github.com/zero-day-ai/aegis/internal/types"
)

// SubmitOptions tunes execution of a single workflow.
type SubmitOptions struct {
	// Progressive enables discovery-driven task expansion.
	Progressive bool `json:"progressive"`

	// MaxConcurrent caps parallel task execution for this workflow.
	// Zero means the engine default.
	MaxConcurrent int `json:"maxConcurrent,omitempty"`

	// Timeout bounds the whole workflow. Zero means no workflow-level bound.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// SubmitRequest is an assessment submission.
type SubmitRequest struct {
	Target      types.Target       `json:"target"`
	Intent      string             `json:"intent,omitempty"`
	Credentials []types.Credential `json:"credentials,omitempty"`
	Constraints []string           `json:"constraints,omitempty"`
	Options     SubmitOptions      `json:"options"`
}

// Validate rejects submissions the orchestrator cannot act on.
func (r SubmitRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return err
	}
	if r.Options.MaxConcurrent < 0 {
		return types.NewError(types.VALIDATION_FAILED, "maxConcurrent cannot be negative")
	}
	if r.Options.Timeout < 0 {
		return types.NewError(types.VALIDATION_FAILED, "timeout cannot be negative")
	}
	for _, c := range r.Credentials {
		if strings.TrimSpace(c.Name) == "" {
			return types.NewError(types.VALIDATION_FAILED, "credential name cannot be empty")
		}
	}
	return nil
}

// Workflow is the orchestrator-owned state of one assessment. All mutation
// goes through the orchestrator's transition methods; callers only ever see
// snapshots.
type Workflow struct {
	ID          types.ID             `json:"id"`
	Target      types.Target         `json:"target"`
	Intent      string               `json:"intent,omitempty"`
	Phase       types.Phase          `json:"phase"`
	Status      types.WorkflowStatus `json:"status"`
	Findings    []types.Finding      `json:"findings,omitempty"`
	Progress    float64              `json:"progress"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`

	Options SubmitOptions `json:"options"`

	// credentials are held privately and never serialized.
	credentials []types.Credential
}

// HasCredentials reports whether authentication material is attached.
func (w *Workflow) HasCredentials() bool {
	return len(w.credentials) > 0
}

// snapshot returns a caller-safe copy with findings duplicated.
func (w *Workflow) snapshot() Workflow {
	out := *w
	out.credentials = nil
	if len(w.Findings) > 0 {
		out.Findings = make([]types.Finding, len(w.Findings))
		copy(out.Findings, w.Findings)
	}
	return out
}
