package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zero-day-ai/aegis/internal/types"
)

// TimelineEntry is one decision in chronological order with its weight.
type TimelineEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Phase     types.Phase  `json:"phase"`
	Type      DecisionType `json:"type"`
	Decision  string       `json:"decision"`
	Impact    string       `json:"impact"` // high, medium, low
}

// ComplianceSummary aggregates the compliance-relevant slice of the trail.
type ComplianceSummary struct {
	// TestsRun counts task-selection decisions whose capability actually
	// executed.
	TestsRun int `json:"tests_run"`

	// ApprovalRequired counts restraint decisions that held a capability
	// for operator approval.
	ApprovalRequired int `json:"approval_required"`

	// RestraintTriggers counts every restraint block or hold in the trail.
	RestraintTriggers int `json:"restraint_triggers"`

	FlaggedTotal       int      `json:"flagged_total"`
	ManualReview       int      `json:"manual_review"`
	ComplianceRelevant int      `json:"compliance_relevant"`
	SecurityCritical   int      `json:"security_critical"`
	Unexpected         int      `json:"unexpected"`
	ControlCodes       []string `json:"control_codes,omitempty"`

	// DataExposureRisk is low, medium, or high: high when any decision was
	// security-critical, medium when restraint fired or production was
	// touched.
	DataExposureRisk string `json:"data_exposure_risk"`

	// ProductionSafety is set when any decision touched a declared
	// production environment, marking the trail for production-safety
	// review.
	ProductionSafety bool `json:"production_safety"`
}

// Report is the full audit report for one workflow.
type Report struct {
	WorkflowID     types.ID         `json:"workflow_id"`
	GeneratedAt    time.Time        `json:"generated_at"`
	TotalDecisions int              `json:"total_decisions"`
	CountsByType   map[string]int   `json:"counts_by_type"`
	MeanConfidence float64          `json:"mean_confidence"`
	LowConfidence  []DecisionRecord `json:"low_confidence,omitempty"`
	Critical       []DecisionRecord `json:"critical,omitempty"`
	Overridden     []DecisionRecord `json:"overridden,omitempty"`
	Timeline       []TimelineEntry  `json:"timeline"`

	Compliance      ComplianceSummary `json:"compliance"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

// lowConfidenceShare is the fraction of low-confidence decisions above which
// the report recommends reviewing planner inputs.
const lowConfidenceShare = 0.2

// minControlCoverage is the control-code count below which the report
// recommends broadening capability selection.
const minControlCoverage = 5

// GenerateReport builds the audit report for a workflow's recorded decisions.
// Returns an AUDIT_NO_DECISIONS error when the trail is empty.
func (l *Logger) GenerateReport(ctx context.Context, workflowID types.ID) (*Report, error) {
	records, err := l.store.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, types.NewError(types.AUDIT_NO_DECISIONS,
			fmt.Sprintf("no decisions recorded for workflow %s", workflowID))
	}

	report := &Report{
		WorkflowID:     workflowID,
		GeneratedAt:    now(),
		TotalDecisions: len(records),
		CountsByType:   make(map[string]int),
	}

	var confidenceSum float64
	controls := make(map[string]struct{})

	for _, r := range records {
		report.CountsByType[r.Type.String()]++
		confidenceSum += r.Output.Confidence

		if r.Type == DecisionTaskSelection && r.Outcome != nil && r.Outcome.Executed {
			report.Compliance.TestsRun++
		}
		if r.Type == DecisionRestraint {
			report.Compliance.RestraintTriggers++
			if v, ok := r.Context.Extra["verdict"].(string); ok && v == "require_approval" {
				report.Compliance.ApprovalRequired++
			}
		}
		if r.Context.Environment == types.EnvironmentProduction.String() {
			report.Compliance.ProductionSafety = true
		}

		if r.Output.Confidence < lowConfidenceThreshold {
			report.LowConfidence = append(report.LowConfidence, r)
		}
		if r.Flags.SecurityCritical {
			report.Critical = append(report.Critical, r)
		}
		if r.Overridden() {
			report.Overridden = append(report.Overridden, r)
		}

		if r.Flags.Any() {
			report.Compliance.FlaggedTotal++
		}
		if r.Flags.ManualReview {
			report.Compliance.ManualReview++
		}
		if r.Flags.ComplianceRelevant {
			report.Compliance.ComplianceRelevant++
		}
		if r.Flags.SecurityCritical {
			report.Compliance.SecurityCritical++
		}
		if r.Flags.Unexpected {
			report.Compliance.Unexpected++
		}
		for _, code := range r.Context.ControlCodes {
			controls[code] = struct{}{}
		}

		report.Timeline = append(report.Timeline, TimelineEntry{
			Timestamp: r.Timestamp,
			Phase:     r.Phase,
			Type:      r.Type,
			Decision:  r.Output.Decision,
			Impact:    r.Impact(),
		})
	}

	report.MeanConfidence = confidenceSum / float64(len(records))

	sort.Slice(report.Timeline, func(i, j int) bool {
		return report.Timeline[i].Timestamp.Before(report.Timeline[j].Timestamp)
	})

	for code := range controls {
		report.Compliance.ControlCodes = append(report.Compliance.ControlCodes, code)
	}
	sort.Strings(report.Compliance.ControlCodes)

	switch {
	case report.Compliance.SecurityCritical > 0:
		report.Compliance.DataExposureRisk = "high"
	case report.Compliance.RestraintTriggers > 0 || report.Compliance.ProductionSafety:
		report.Compliance.DataExposureRisk = "medium"
	default:
		report.Compliance.DataExposureRisk = "low"
	}

	report.Recommendations = recommendations(report, len(controls))

	return report, nil
}

func recommendations(report *Report, controlCount int) []string {
	var recs []string

	if share := float64(len(report.LowConfidence)) / float64(report.TotalDecisions); share > lowConfidenceShare {
		recs = append(recs, fmt.Sprintf(
			"%.0f%% of decisions were made with low confidence; review planner inputs and capability descriptions",
			share*100))
	}
	if controlCount < minControlCoverage {
		recs = append(recs, fmt.Sprintf(
			"only %d control codes were exercised; broaden capability selection to improve control coverage",
			controlCount))
	}
	if len(report.Overridden) > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d high-confidence decisions were declared but not executed; review restraint and approval outcomes",
			len(report.Overridden)))
	}
	return recs
}

// Summary renders the report as a short human-readable text block.
func (r *Report) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Audit report for workflow %s\n", r.WorkflowID)
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Decisions: %d (mean confidence %.2f)\n", r.TotalDecisions, r.MeanConfidence)

	types := make([]string, 0, len(r.CountsByType))
	for t := range r.CountsByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&b, "  %-20s %d\n", t, r.CountsByType[t])
	}

	fmt.Fprintf(&b, "Tests run: %d (%d required approval, %d restraint triggers)\n",
		r.Compliance.TestsRun, r.Compliance.ApprovalRequired, r.Compliance.RestraintTriggers)
	fmt.Fprintf(&b, "Flagged: %d (manual review %d, security critical %d, unexpected %d)\n",
		r.Compliance.FlaggedTotal, r.Compliance.ManualReview,
		r.Compliance.SecurityCritical, r.Compliance.Unexpected)
	fmt.Fprintf(&b, "Data exposure risk: %s\n", r.Compliance.DataExposureRisk)
	if r.Compliance.ProductionSafety {
		b.WriteString("Production environment touched: yes\n")
	}

	if len(r.Recommendations) > 0 {
		b.WriteString("Recommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", rec)
		}
	}
	return b.String()
}

// MarshalIndent renders the report as the JSON audit artifact.
func (r *Report) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FinalizeReport generates the workflow's audit report and, when an artifact
// directory is configured, persists it as report.json plus a report.txt
// summary under the workflow's artifact path. The generated report is
// returned even when persistence fails.
func (l *Logger) FinalizeReport(ctx context.Context, workflowID types.ID) (*Report, error) {
	report, err := l.GenerateReport(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if l.artifactDir == "" {
		return report, nil
	}

	dir := filepath.Join(l.artifactDir, workflowID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return report, err
	}
	blob, err := report.MarshalIndent()
	if err != nil {
		return report, err
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), blob, 0o644); err != nil {
		return report, err
	}
	if err := os.WriteFile(filepath.Join(dir, "report.txt"), []byte(report.Summary()), 0o644); err != nil {
		return report, err
	}
	return report, nil
}
