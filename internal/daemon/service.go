package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zero-day-ai/aegis/internal/types"
	"github.com/zero-day-ai/aegis/internal/workflow"
)

// perPhaseEstimate is the coarse duration estimate per configured phase,
// reported to submitters as estimatedDuration.
const perPhaseEstimate = 5 * time.Minute

// SubmitResponse acknowledges an accepted workflow submission.
type SubmitResponse struct {
	WorkflowID        types.ID      `json:"workflowId"`
	Status            string        `json:"status"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	MonitoringURL     string        `json:"monitoringUrl"`
}

// StatusResponse reports the current state of a workflow.
type StatusResponse struct {
	WorkflowID  types.ID             `json:"workflowId"`
	Status      types.WorkflowStatus `json:"status"`
	Phase       types.Phase          `json:"phase"`
	Progress    float64              `json:"progress"`
	Findings    []types.Finding      `json:"findings,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
}

// Service is the external-facing facade over the orchestrator. Transport
// (HTTP, gRPC, or otherwise) lives outside; Service owns the interface
// shapes and idempotency semantics.
type Service struct {
	orch    *workflow.Orchestrator
	logger  *slog.Logger
	baseURL string
	phases  int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMonitoringBaseURL sets the base for the monitoringUrl returned on
// submission, e.g. "http://localhost:8080".
func WithMonitoringBaseURL(url string) ServiceOption {
	return func(s *Service) { s.baseURL = url }
}

// NewService wraps the orchestrator in the external service facade.
func NewService(orch *workflow.Orchestrator, opts ...ServiceOption) *Service {
	s := &Service{
		orch:    orch,
		logger:  slog.Default(),
		baseURL: "http://localhost:8080",
		phases:  len(workflow.DefaultPhasePlan().Phases()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit accepts an assessment request. On success the workflow is queued
// and the response carries a coarse duration estimate and a monitoring URL.
func (s *Service) Submit(ctx context.Context, req workflow.SubmitRequest) (SubmitResponse, error) {
	id, err := s.orch.Submit(ctx, req)
	if err != nil {
		return SubmitResponse{}, err
	}

	return SubmitResponse{
		WorkflowID:        id,
		Status:            "accepted",
		EstimatedDuration: time.Duration(s.phases) * perPhaseEstimate,
		MonitoringURL:     fmt.Sprintf("%s/workflows/%s", s.baseURL, id),
	}, nil
}

// Status returns the workflow's current state, or WORKFLOW_NOT_FOUND.
func (s *Service) Status(_ context.Context, id types.ID) (StatusResponse, error) {
	wf, err := s.orch.Status(id)
	if err != nil {
		return StatusResponse{}, err
	}
	return statusResponse(wf), nil
}

// Cancel requests workflow cancellation. Idempotent on terminal workflows.
func (s *Service) Cancel(_ context.Context, id types.ID) error {
	return s.orch.Cancel(id)
}

// Approve resumes a workflow suspended for approval. No-op otherwise.
func (s *Service) Approve(_ context.Context, id types.ID) error {
	return s.orch.Approve(id)
}

// Deny rejects a suspended workflow's held recommendations, ending the
// workflow as cancelled.
func (s *Service) Deny(_ context.Context, id types.ID) error {
	return s.orch.Deny(id)
}

// Metrics reports orchestrator load and fallback counters.
func (s *Service) Metrics(_ context.Context) workflow.Metrics {
	return s.orch.Metrics()
}

func statusResponse(wf workflow.Workflow) StatusResponse {
	return StatusResponse{
		WorkflowID:  wf.ID,
		Status:      wf.Status,
		Phase:       wf.Phase,
		Progress:    wf.Progress,
		Findings:    wf.Findings,
		Error:       wf.Error,
		CreatedAt:   wf.CreatedAt,
		CompletedAt: wf.CompletedAt,
	}
}
