package workflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/aegis/internal/audit"
	"github.com/zero-day-ai/aegis/internal/capability"
	"github.com/zero-day-ai/aegis/internal/discovery"
	"github.com/zero-day-ai/aegis/internal/events"
	"github.com/zero-day-ai/aegis/internal/executor"
	"github.com/zero-day-ai/aegis/internal/planner"
	"github.com/zero-day-ai/aegis/internal/restraint"
	"github.com/zero-day-ai/aegis/internal/types"
)

// scriptedPlanner returns canned strategies keyed by phase, falling back to
// an empty allow-nothing strategy.
type scriptedPlanner struct {
	mu         sync.Mutex
	strategies map[types.Phase]planner.Strategy
	err        error
	calls      int
}

func (p *scriptedPlanner) PlanStrategy(_ context.Context, _ types.ID, pctx planner.PlanningContext) (planner.Strategy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return planner.Strategy{}, p.err
	}
	if s, ok := p.strategies[pctx.Phase]; ok {
		return s, nil
	}
	return planner.Strategy{
		Phase:           pctx.Phase,
		Reasoning:       "nothing to do",
		ConfidenceLevel: 0.9,
		Recommendations: []planner.Recommendation{{
			Capability: "http-discovery",
			Purpose:    "baseline discovery",
			Priority:   1,
			Confidence: 0.9,
		}},
	}, nil
}

// recordingSandbox records every capability it ran, in order.
type recordingSandbox struct {
	mu     sync.Mutex
	ran    []string
	output string
}

func (s *recordingSandbox) Run(_ context.Context, inv executor.Invocation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = append(s.ran, inv.Capability)
	return s.output, nil
}

func (s *recordingSandbox) capabilities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ran))
	copy(out, s.ran)
	return out
}

type fixture struct {
	orch      *Orchestrator
	planner   *scriptedPlanner
	sandbox   *recordingSandbox
	bus       *events.DefaultBus
	auditor   *audit.Logger
	artifacts string
}

func newFixture(t *testing.T, strategies map[types.Phase]planner.Strategy) *fixture {
	t.Helper()

	registry := capability.NewRegistry()
	for _, c := range []capability.Capability{
		{Name: "http-discovery", Description: "passive http discovery", Args: []string{"http-discovery", "{target}"}, ReadOnly: true},
		{Name: "port-scan", Description: "tcp port scan", Args: []string{"port-scan", "{target}"}, ReadOnly: true},
		{Name: "sqlmap-auth", Description: "authenticated injection test", Args: []string{"sqlmap", "{target}"}, RequiresAuth: true},
		{Name: "rm-tool", Description: "filesystem cleanup", Args: []string{"rm-tool", "{target}"}},
	} {
		require.NoError(t, registry.Register(c))
	}

	fallbacks, err := capability.NewFallbackRegistry(map[string][]string{
		"port-scan": {"http-discovery"},
	})
	require.NoError(t, err)

	sandbox := &recordingSandbox{}
	engine := executor.NewEngine(registry, fallbacks, sandbox)

	validator, err := restraint.NewDefaultValidator()
	require.NoError(t, err)

	disc := discovery.NewController(registry,
		discovery.WithDefaultCapability("http-discovery"))

	artifacts := t.TempDir()
	auditor := audit.NewLogger(audit.NewMemoryStore(), audit.WithArtifactDir(artifacts))
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	p := &scriptedPlanner{strategies: strategies}
	orch := NewOrchestrator(p, validator, engine, registry, disc, auditor, bus,
		WithRetention(time.Minute))
	t.Cleanup(orch.Close)

	return &fixture{orch: orch, planner: p, sandbox: sandbox, bus: bus, auditor: auditor, artifacts: artifacts}
}

func devTarget() types.Target {
	return types.Target{
		Identifier:  "https://test.example.com",
		Scope:       "/*",
		Environment: types.EnvironmentDevelopment,
	}
}

func waitTerminal(t *testing.T, orch *Orchestrator, id types.ID) Workflow {
	t.Helper()
	var wf Workflow
	require.Eventually(t, func() bool {
		var err error
		wf, err = orch.Status(id)
		require.NoError(t, err)
		return wf.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return wf
}

func TestSubmitRejectsInvalidTarget(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.Submit(context.Background(), SubmitRequest{})
	require.Error(t, err)
	assert.Equal(t, types.VALIDATION_FAILED, types.CodeOf(err))
}

func TestWorkflowRunsToCompletion(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.orch.Submit(context.Background(), SubmitRequest{Target: devTarget()})
	require.NoError(t, err)

	wf := waitTerminal(t, f.orch, id)
	assert.Equal(t, types.WorkflowStatusCompleted, wf.Status)
	assert.Equal(t, float64(100), wf.Progress)
	require.NotNil(t, wf.CompletedAt)
	assert.NotEmpty(t, f.sandbox.capabilities())
}

func TestStatusUnknownWorkflow(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.Status(types.NewID())
	require.Error(t, err)
	assert.Equal(t, types.WORKFLOW_NOT_FOUND, types.CodeOf(err))
}

func TestAuthRecommendationsFilteredWithoutCredentials(t *testing.T) {
	strategy := planner.Strategy{
		Phase:           types.PhaseRecon,
		Reasoning:       "mixed strategy",
		ConfidenceLevel: 0.9,
		Recommendations: []planner.Recommendation{
			{Capability: "http-discovery", Purpose: "discover endpoints", Priority: 1, Confidence: 0.9},
			{Capability: "sqlmap-auth", Purpose: "test injection", Priority: 2, RequiresAuth: true, Confidence: 0.8},
			{Capability: "port-scan", Purpose: "map ports", Priority: 3, Confidence: 0.9},
		},
	}
	f := newFixture(t, map[types.Phase]planner.Strategy{types.PhaseRecon: strategy})

	id, err := f.orch.Submit(context.Background(), SubmitRequest{Target: devTarget()})
	require.NoError(t, err)

	wf := waitTerminal(t, f.orch, id)
	assert.Equal(t, types.WorkflowStatusCompleted, wf.Status)
	assert.NotContains(t, f.sandbox.capabilities(), "sqlmap-auth")
	assert.Contains(t, f.sandbox.capabilities(), "port-scan")
}

func TestProhibitedCapabilityVoidsStrategy(t *testing.T) {
	strategy := planner.Strategy{
		Phase:           types.PhaseRecon,
		Reasoning:       "aggressive cleanup",
		ConfidenceLevel: 0.9,
		Recommendations: []planner.Recommendation{
			{Capability: "port-scan", Purpose: "map ports", Priority: 1, Confidence: 0.9},
			{Capability: "rm-tool", Purpose: "remove temp files on target", Priority: 2, Confidence: 0.9},
		},
	}
	f := newFixture(t, map[types.Phase]planner.Strategy{types.PhaseRecon: strategy})

	id, err := f.orch.Submit(context.Background(), SubmitRequest{Target: devTarget()})
	require.NoError(t, err)

	wf := waitTerminal(t, f.orch, id)
	assert.Equal(t, types.WorkflowStatusCompleted, wf.Status)

	ran := f.sandbox.capabilities()
	require.NotEmpty(t, ran)
	// The whole recon strategy is voided: the first executed capability is
	// the safe fallback's discovery capability, never rm-tool or its peers.
	assert.Equal(t, planner.DefaultDiscoveryCapability, ran[0])
	assert.NotContains(t, ran, "rm-tool")
}

func TestPlannerFailureFallsBackToSafeStrategy(t *testing.T) {
	f := newFixture(t, nil)
	f.planner.err = types.NewError(types.PLANNER_OUTPUT_MALFORMED, "not json")

	id, err := f.orch.Submit(context.Background(), SubmitRequest{Target: devTarget()})
	require.NoError(t, err)

	wf := waitTerminal(t, f.orch, id)
	assert.Equal(t, types.WorkflowStatusCompleted, wf.Status)

	ran := f.sandbox.capabilities()
	require.NotEmpty(t, ran)
	assert.Equal(t, planner.DefaultDiscoveryCapability, ran[0])
}

func TestProductionWorkflowAwaitsApproval(t *testing.T) {
	strategy := planner.Strategy{
		Phase:           types.PhaseRecon,
		Reasoning:       "mutating scan in production",
		ConfidenceLevel: 0.9,
		Recommendations: []planner.Recommendation{
			{Capability: "sqlmap-auth", Purpose: "injection test", Priority: 1, RequiresAuth: true, Confidence: 0.9},
		},
	}
	f := newFixture(t, map[types.Phase]planner.Strategy{types.PhaseRecon: strategy})

	target := devTarget()
	target.Environment = types.EnvironmentProduction

	id, err := f.orch.Submit(context.Background(), SubmitRequest{
		Target:      target,
		Credentials: []types.Credential{{Name: "api", Kind: "bearer", Secret: "s3cret"}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wf, err := f.orch.Status(id)
		require.NoError(t, err)
		return wf.Status == types.WorkflowStatusAwaitingApproval
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.orch.Approve(id))

	wf := waitTerminal(t, f.orch, id)
	assert.Equal(t, types.WorkflowStatusCompleted, wf.Status)
	assert.Contains(t, f.sandbox.capabilities(), "sqlmap-auth")
}

func TestDenyCancelsWorkflow(t *testing.T) {
	strategy := planner.Strategy{
		Phase:           types.PhaseRecon,
		Reasoning:       "production sweep",
		ConfidenceLevel: 0.9,
		Recommendations: []planner.Recommendation{
			{Capability: "http-discovery", Purpose: "discover", Priority: 1, Confidence: 0.9},
			{Capability: "sqlmap-auth", Purpose: "injection", Priority: 2, RequiresAuth: true, Confidence: 0.9},
		},
	}
	f := newFixture(t, map[types.Phase]planner.Strategy{types.PhaseRecon: strategy})

	target := devTarget()
	target.Environment = types.EnvironmentProduction

	id, err := f.orch.Submit(context.Background(), SubmitRequest{
		Target:      target,
		Credentials: []types.Credential{{Name: "api", Kind: "bearer", Secret: "s3cret"}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wf, err := f.orch.Status(id)
		require.NoError(t, err)
		return wf.Status == types.WorkflowStatusAwaitingApproval
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.orch.Deny(id))

	// Denial is terminal: nothing from the suspended phase runs, not even
	// the recommendations that were already allowed.
	wf := waitTerminal(t, f.orch, id)
	assert.Equal(t, types.WorkflowStatusCancelled, wf.Status)
	assert.NotContains(t, f.sandbox.capabilities(), "sqlmap-auth")
	assert.NotContains(t, f.sandbox.capabilities(), "http-discovery")

	trail, err := f.auditor.Trail(context.Background(), id)
	require.NoError(t, err)
	denied := false
	for _, r := range trail {
		if r.Type == audit.DecisionRestraintOverride &&
			strings.Contains(r.Output.Decision, "denied") {
			denied = true
		}
	}
	assert.True(t, denied, "denial should be recorded in the audit trail")
}

func TestFinishPersistsAuditReport(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.orch.Submit(context.Background(), SubmitRequest{Target: devTarget()})
	require.NoError(t, err)

	wf := waitTerminal(t, f.orch, id)
	require.Equal(t, types.WorkflowStatusCompleted, wf.Status)

	// The report is written right after the terminal transition.
	reportPath := filepath.Join(f.artifacts, id.String(), "report.json")
	require.Eventually(t, func() bool {
		_, err := os.Stat(reportPath)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	blob, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report audit.Report
	require.NoError(t, json.Unmarshal(blob, &report))
	assert.Equal(t, id, report.WorkflowID)
	assert.Positive(t, report.TotalDecisions)

	summary, err := os.ReadFile(filepath.Join(f.artifacts, id.String(), "report.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), id.String())
}

func TestRestraintTriggersRecordedInTrail(t *testing.T) {
	strategy := planner.Strategy{
		Phase:           types.PhaseRecon,
		Reasoning:       "mixed strategy",
		ConfidenceLevel: 0.9,
		Recommendations: []planner.Recommendation{
			{Capability: "http-discovery", Purpose: "discover", Priority: 1, Confidence: 0.9},
			{Capability: "sqlmap-auth", Purpose: "injection", Priority: 2, RequiresAuth: true, Confidence: 0.9},
		},
	}
	f := newFixture(t, map[types.Phase]planner.Strategy{types.PhaseRecon: strategy})

	// No credentials: the auth rule filters sqlmap-auth out.
	id, err := f.orch.Submit(context.Background(), SubmitRequest{Target: devTarget()})
	require.NoError(t, err)
	waitTerminal(t, f.orch, id)

	trail, err := f.auditor.Trail(context.Background(), id)
	require.NoError(t, err)

	var restraints []audit.DecisionRecord
	for _, r := range trail {
		if r.Type == audit.DecisionRestraint {
			restraints = append(restraints, r)
		}
	}
	require.NotEmpty(t, restraints)
	assert.Equal(t, "sqlmap-auth", restraints[0].Context.Capability)
	assert.Equal(t, "block", restraints[0].Context.Extra["verdict"])

	report, err := f.orch.AuditReport(context.Background(), id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Compliance.RestraintTriggers, 1)
	assert.Positive(t, report.Compliance.TestsRun)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.orch.Submit(context.Background(), SubmitRequest{Target: devTarget()})
	require.NoError(t, err)

	require.NoError(t, f.orch.Cancel(id))
	wf := waitTerminal(t, f.orch, id)
	assert.True(t, wf.Status.IsTerminal())

	// Second cancel on a terminal workflow is a no-op.
	require.NoError(t, f.orch.Cancel(id))

	got, err := f.orch.Status(id)
	require.NoError(t, err)
	assert.Equal(t, wf.Status, got.Status)
}

func TestCancelUnknownWorkflow(t *testing.T) {
	f := newFixture(t, nil)

	err := f.orch.Cancel(types.NewID())
	require.Error(t, err)
	assert.Equal(t, types.WORKFLOW_NOT_FOUND, types.CodeOf(err))
}

func TestApproveNonSuspendedIsNoOp(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.orch.Submit(context.Background(), SubmitRequest{Target: devTarget()})
	require.NoError(t, err)

	// Approving a workflow that is not awaiting approval does nothing.
	require.NoError(t, f.orch.Approve(id))

	wf := waitTerminal(t, f.orch, id)
	assert.Equal(t, types.WorkflowStatusCompleted, wf.Status)
	require.NoError(t, f.orch.Approve(id))
}

func TestWorkflowEventsPublished(t *testing.T) {
	f := newFixture(t, nil)

	ctx := context.Background()
	ch, cleanup := f.bus.Subscribe(ctx, events.Filter{}, 256)
	defer cleanup()

	id, err := f.orch.Submit(ctx, SubmitRequest{Target: devTarget()})
	require.NoError(t, err)
	waitTerminal(t, f.orch, id)

	seen := make(map[events.EventType]bool)
	deadline := time.After(2 * time.Second)
	for !seen[events.EventWorkflowCompleted] {
		select {
		case ev := <-ch:
			if ev.WorkflowID == id {
				seen[ev.Type] = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for completion event")
		}
	}
	assert.True(t, seen[events.EventWorkflowQueued])
	assert.True(t, seen[events.EventWorkflowStarted])
	assert.True(t, seen[events.EventTaskQueued])
	assert.True(t, seen[events.EventWorkflowCompleted])
}

func TestDecisionTrailRecorded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.Submit(ctx, SubmitRequest{Target: devTarget()})
	require.NoError(t, err)
	waitTerminal(t, f.orch, id)

	report, err := f.orch.AuditReport(ctx, id)
	require.NoError(t, err)
	assert.Greater(t, report.TotalDecisions, 0)
	assert.Greater(t, report.CountsByType[audit.DecisionStrategy.String()], 0)
	assert.Greater(t, report.CountsByType[audit.DecisionPhaseTransition.String()], 0)
}

func TestMetricsCountsWorkflows(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.orch.Submit(context.Background(), SubmitRequest{Target: devTarget()})
	require.NoError(t, err)
	waitTerminal(t, f.orch, id)

	m := f.orch.Metrics()
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 0, m.QueueDepth)
}

func TestPhasePlanSuccessor(t *testing.T) {
	plan := DefaultPhasePlan()

	next, ok := plan.Successor(types.PhaseRecon)
	require.True(t, ok)
	assert.Equal(t, types.PhaseAnalyze, next)

	_, ok = plan.Successor(types.PhaseReport)
	assert.False(t, ok)
}

func TestParseFindings(t *testing.T) {
	list := parseFindings(`[{"severity":"high","type":"sqli","title":"injection in /login"}]`)
	require.Len(t, list, 1)
	assert.Equal(t, types.SeverityHigh, list[0].Severity)

	wrapped := parseFindings(`{"findings":[{"severity":"low","type":"header","title":"missing HSTS"}]}`)
	require.Len(t, wrapped, 1)

	single := parseFindings(`{"severity":"medium","type":"xss","title":"reflected xss"}`)
	require.Len(t, single, 1)

	assert.Empty(t, parseFindings("plain text output"))
	assert.Empty(t, parseFindings(""))
	assert.Empty(t, parseFindings(`[{"severity":"bogus","title":"x"}]`))
}
