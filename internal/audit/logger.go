package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/aegis/internal/types"
)

const (
	// lowConfidenceThreshold flags strategy and finding-analysis decisions
	// made with weak conviction for manual review.
	lowConfidenceThreshold = 0.5

	// highConfidenceThreshold marks the bar above which a skipped or
	// overridden decision counts as unexpected.
	highConfidenceThreshold = 0.8
)

// Logger records planning decisions with synchronous compliance-flag
// evaluation. Flags are computed at log time so a crash mid-workflow still
// leaves a correctly flagged trail.
type Logger struct {
	store       Store
	mirror      Store // optional durable mirror, failures are non-fatal
	logger      *slog.Logger
	tracer      trace.Tracer
	artifactDir string
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithMirror adds a durable store mirrored behind the in-memory one.
// Mirror failures are logged and swallowed.
func WithMirror(s Store) LoggerOption {
	return func(l *Logger) { l.mirror = s }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) LoggerOption {
	return func(l *Logger) { l.logger = logger }
}

// WithArtifactDir enables per-decision JSON artifacts under
// dir/<workflow-id>/decisions/.
func WithArtifactDir(dir string) LoggerOption {
	return func(l *Logger) { l.artifactDir = dir }
}

// NewLogger creates a decision audit logger backed by the given store.
func NewLogger(store Store, opts ...LoggerOption) *Logger {
	l := &Logger{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("aegis.audit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogDecision appends a decision record to the workflow's audit trail,
// evaluating compliance flags before the record is stored.
func (l *Logger) LogDecision(ctx context.Context, record DecisionRecord) (DecisionRecord, error) {
	ctx, span := l.tracer.Start(ctx, "audit.log_decision",
		trace.WithAttributes(
			attribute.String("decision.type", record.Type.String()),
			attribute.String("workflow.id", record.WorkflowID.String()),
		))
	defer span.End()

	if record.ID.IsZero() {
		record.ID = types.NewID()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = now()
	}
	if !record.Type.IsValid() {
		return DecisionRecord{}, types.NewError(types.VALIDATION_FAILED,
			"unknown decision type: "+string(record.Type))
	}

	record.Flags = l.evaluateFlags(record)

	if err := l.store.Append(ctx, record); err != nil {
		return DecisionRecord{}, err
	}
	l.persist(ctx, record, false)

	l.logger.InfoContext(ctx, "decision recorded",
		"decision_id", record.ID,
		"workflow_id", record.WorkflowID,
		"type", record.Type,
		"confidence", record.Output.Confidence,
		"flagged", record.Flags.Any())

	return record, nil
}

// UpdateOutcome attaches the observed outcome to an existing decision and
// re-evaluates the unexpected flag against it.
func (l *Logger) UpdateOutcome(ctx context.Context, id types.ID, outcome Outcome) (DecisionRecord, error) {
	record, err := l.store.Get(ctx, id)
	if err != nil {
		return DecisionRecord{}, err
	}

	record.Outcome = &outcome
	if outcome.Status == OutcomeFailure {
		record.Flags.Unexpected = true
	}
	if outcome.Status == OutcomeSkipped && record.Output.Confidence > highConfidenceThreshold {
		record.Flags.Unexpected = true
	}

	if err := l.store.Update(ctx, record); err != nil {
		return DecisionRecord{}, err
	}
	l.persist(ctx, record, true)

	l.logger.InfoContext(ctx, "decision outcome recorded",
		"decision_id", record.ID,
		"workflow_id", record.WorkflowID,
		"executed", outcome.Executed,
		"status", outcome.Status)

	return record, nil
}

// Trail returns the workflow's decision records in append order.
func (l *Logger) Trail(ctx context.Context, workflowID types.ID) ([]DecisionRecord, error) {
	return l.store.ListByWorkflow(ctx, workflowID)
}

func (l *Logger) evaluateFlags(record DecisionRecord) Flags {
	flags := record.Flags

	if record.Type == DecisionFindingAnalysis &&
		record.Context.FindingSeverity == types.SeverityCritical {
		flags.SecurityCritical = true
		flags.ManualReview = true
	}
	if record.Context.Environment == types.EnvironmentProduction.String() {
		flags.ComplianceRelevant = true
	}
	if record.Type == DecisionRestraintOverride {
		flags.ComplianceRelevant = true
		flags.ManualReview = true
	}
	if record.Type == DecisionRestraint {
		flags.ComplianceRelevant = true
	}
	if (record.Type == DecisionStrategy || record.Type == DecisionFindingAnalysis) &&
		record.Output.Confidence < lowConfidenceThreshold {
		flags.ManualReview = true
	}
	return flags
}

// persist mirrors the record into the durable store and artifact dir.
// Both are best-effort.
func (l *Logger) persist(ctx context.Context, record DecisionRecord, update bool) {
	if l.mirror != nil {
		var err error
		if update {
			err = l.mirror.Update(ctx, record)
		} else {
			err = l.mirror.Append(ctx, record)
		}
		if err != nil {
			l.logger.WarnContext(ctx, "audit mirror write failed",
				"decision_id", record.ID, "error", err)
		}
	}
	if l.artifactDir != "" {
		if err := l.writeArtifact(record); err != nil {
			l.logger.WarnContext(ctx, "audit artifact write failed",
				"decision_id", record.ID, "error", err)
		}
	}
}

func (l *Logger) writeArtifact(record DecisionRecord) error {
	dir := filepath.Join(l.artifactDir, record.WorkflowID.String(), "decisions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	blob, err := record.MarshalIndent()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, record.ID.String()+".json")
	return os.WriteFile(path, blob, 0o644)
}
