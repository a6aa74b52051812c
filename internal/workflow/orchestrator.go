package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zero-day-ai/aegis/internal/audit"
	"github.com/zero-day-ai/aegis/internal/capability"
	"github.com/zero-day-ai/aegis/internal/discovery"
	"github.com/zero-day-ai/aegis/internal/events"
	"github.com/zero-day-ai/aegis/internal/executor"
	"github.com/zero-day-ai/aegis/internal/planner"
	"github.com/zero-day-ai/aegis/internal/restraint"
	"github.com/zero-day-ai/aegis/internal/types"
)

// DefaultRetention is how long completed workflows stay queryable before
// eviction.
const DefaultRetention = time.Hour

// Planner produces a phase strategy. Satisfied by *planner.Adapter.
type Planner interface {
	PlanStrategy(ctx context.Context, workflowID types.ID, pctx planner.PlanningContext) (planner.Strategy, error)
}

// Orchestrator owns workflow lifecycles: submission intake, the phase loop,
// approval suspension, cancellation, and retention.
type Orchestrator struct {
	planner   Planner
	validator *restraint.Validator
	engine    *executor.Engine
	registry  *capability.Registry
	discovery *discovery.Controller
	auditor   *audit.Logger
	bus       events.Bus
	logger    *slog.Logger

	plan      PhasePlan
	retention time.Duration
	signoff   map[string]bool

	mu        sync.RWMutex
	workflows map[types.ID]*workflowState
}

type workflowState struct {
	mu       sync.Mutex
	wf       *Workflow
	cancel   context.CancelFunc
	coverage *discovery.Coverage

	// approval is non-nil only while suspended in awaiting_approval.
	approval chan bool

	// evict clears the retention timer on shutdown.
	evict *time.Timer
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithPhasePlan overrides the default phase progression.
func WithPhasePlan(plan PhasePlan) OrchestratorOption {
	return func(o *Orchestrator) { o.plan = plan }
}

// WithSignoffControls marks compliance control codes that require manual
// sign-off before any capability exercising them may run.
func WithSignoffControls(codes []string) OrchestratorOption {
	return func(o *Orchestrator) {
		if len(codes) == 0 {
			return
		}
		o.signoff = make(map[string]bool, len(codes))
		for _, code := range codes {
			o.signoff[strings.ToUpper(code)] = true
		}
	}
}

// WithRetention sets how long completed workflows remain queryable.
func WithRetention(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retention = d
		}
	}
}

// NewOrchestrator wires the planning, restraint, execution, discovery, audit
// and event collaborators into a workflow orchestrator.
func NewOrchestrator(
	p Planner,
	validator *restraint.Validator,
	engine *executor.Engine,
	registry *capability.Registry,
	disc *discovery.Controller,
	auditor *audit.Logger,
	bus events.Bus,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		planner:   p,
		validator: validator,
		engine:    engine,
		registry:  registry,
		discovery: disc,
		auditor:   auditor,
		bus:       bus,
		logger:    slog.Default(),
		plan:      DefaultPhasePlan(),
		retention: DefaultRetention,
		workflows: make(map[types.ID]*workflowState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates the request, registers the workflow as queued, and starts
// the phase loop. The returned ID is immediately queryable via Status.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (types.ID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	wf := &Workflow{
		ID:          types.NewID(),
		Target:      req.Target,
		Intent:      req.Intent,
		Phase:       o.plan.First(),
		Status:      types.WorkflowStatusQueued,
		CreatedAt:   time.Now(),
		Options:     req.Options,
		credentials: req.Credentials,
	}

	base := context.WithoutCancel(ctx)
	var runCtx context.Context
	var cancel context.CancelFunc
	if req.Options.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(base, req.Options.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}

	st := &workflowState{
		wf:       wf,
		cancel:   cancel,
		coverage: discovery.NewCoverage(),
	}

	o.mu.Lock()
	o.workflows[wf.ID] = st
	o.mu.Unlock()

	o.publish(runCtx, events.Event{
		Type:       events.EventWorkflowQueued,
		WorkflowID: wf.ID,
		Phase:      wf.Phase,
	})
	o.logger.InfoContext(ctx, "workflow submitted",
		"workflow_id", wf.ID,
		"target", wf.Target.Identifier,
		"environment", wf.Target.Environment)

	go o.run(runCtx, st, req.Constraints)

	return wf.ID, nil
}

// Status returns a snapshot of the workflow.
func (o *Orchestrator) Status(id types.ID) (Workflow, error) {
	st, err := o.state(id)
	if err != nil {
		return Workflow{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.wf.snapshot(), nil
}

// Cancel requests cooperative cancellation. Idempotent: cancelling a
// terminal or unknown-but-evicted workflow is a no-op; unknown IDs error.
func (o *Orchestrator) Cancel(id types.ID) error {
	st, err := o.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.wf.Status.IsTerminal() {
		st.mu.Unlock()
		return nil
	}
	queued := st.wf.Status == types.WorkflowStatusQueued
	approval := st.approval
	st.mu.Unlock()

	// Cancel the context before nudging the approval channel so a suspended
	// workflow records a cancellation, not an operator denial.
	st.cancel()
	if approval != nil {
		select {
		case approval <- false:
		default:
		}
	}

	// A queued workflow whose goroutine has not started still transitions
	// promptly because run() checks ctx before the first phase.
	_ = queued
	return nil
}

// Approve resumes a workflow suspended for approval, releasing its held
// recommendations for execution. No-op on workflows not awaiting approval.
func (o *Orchestrator) Approve(id types.ID) error {
	return o.resolveApproval(id, true)
}

// Deny rejects a suspended workflow's held recommendations and ends the
// workflow as cancelled. No-op on workflows not awaiting approval.
func (o *Orchestrator) Deny(id types.ID) error {
	return o.resolveApproval(id, false)
}

func (o *Orchestrator) resolveApproval(id types.ID, approved bool) error {
	st, err := o.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	approval := st.approval
	awaiting := st.wf.Status == types.WorkflowStatusAwaitingApproval
	st.mu.Unlock()

	if !awaiting || approval == nil {
		return nil
	}
	select {
	case approval <- approved:
	default:
	}
	return nil
}

// Metrics summarizes orchestrator load.
type Metrics struct {
	QueueDepth     int              `json:"queue_depth"`
	Active         int              `json:"active"`
	Completed      int              `json:"completed"`
	Failed         int              `json:"failed"`
	Cancelled      int              `json:"cancelled"`
	FallbackCounts map[string]int64 `json:"fallback_counts,omitempty"`
}

// Metrics returns current queue depth, active workflow count, and
// per-capability fallback invocation counts.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	m := Metrics{FallbackCounts: o.registry.FallbackCounts()}
	for _, st := range o.workflows {
		st.mu.Lock()
		switch st.wf.Status {
		case types.WorkflowStatusQueued:
			m.QueueDepth++
		case types.WorkflowStatusRunning, types.WorkflowStatusAwaitingApproval:
			m.Active++
		case types.WorkflowStatusCompleted:
			m.Completed++
		case types.WorkflowStatusFailed:
			m.Failed++
		case types.WorkflowStatusCancelled:
			m.Cancelled++
		}
		st.mu.Unlock()
	}
	return m
}

// AuditReport generates the audit report for a workflow's decision trail.
func (o *Orchestrator) AuditReport(ctx context.Context, id types.ID) (*audit.Report, error) {
	if _, err := o.state(id); err != nil {
		return nil, err
	}
	return o.auditor.GenerateReport(ctx, id)
}

// Close cancels every non-terminal workflow and stops retention timers.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	states := make([]*workflowState, 0, len(o.workflows))
	for _, st := range o.workflows {
		states = append(states, st)
	}
	o.mu.Unlock()

	for _, st := range states {
		st.cancel()
		st.mu.Lock()
		if st.evict != nil {
			st.evict.Stop()
		}
		st.mu.Unlock()
	}
}

func (o *Orchestrator) state(id types.ID) (*workflowState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.workflows[id]
	if !ok {
		return nil, types.NewError(types.WORKFLOW_NOT_FOUND,
			fmt.Sprintf("workflow %s not found", id))
	}
	return st, nil
}

// run drives the phase loop for one workflow.
func (o *Orchestrator) run(ctx context.Context, st *workflowState, constraints []string) {
	wf := st.wf

	if ctx.Err() != nil {
		o.finish(ctx, st, types.WorkflowStatusCancelled, "")
		return
	}

	o.transition(ctx, st, types.WorkflowStatusRunning)
	o.publish(ctx, events.Event{
		Type:       events.EventWorkflowStarted,
		WorkflowID: wf.ID,
		Phase:      wf.Phase,
	})

	phase := o.plan.First()
	for {
		done, err := o.runPhase(ctx, st, phase, constraints)
		if err != nil {
			if ctx.Err() != nil || strings.Contains(err.Error(), context.Canceled.Error()) {
				o.finish(ctx, st, types.WorkflowStatusCancelled, "")
			} else {
				o.finish(ctx, st, types.WorkflowStatusFailed, err.Error())
			}
			return
		}
		if done {
			// Cancellation or denial resolved the workflow inside the phase.
			return
		}

		next, ok := o.plan.Successor(phase)
		if !ok {
			break
		}

		o.auditPhaseTransition(ctx, st, phase, next)
		phase = next

		st.mu.Lock()
		wf.Phase = phase
		st.mu.Unlock()

		o.publish(ctx, events.Event{
			Type:       events.EventWorkflowPhase,
			WorkflowID: wf.ID,
			Phase:      phase,
		})
	}

	o.finish(ctx, st, types.WorkflowStatusCompleted, "")
}

// runPhase plans, filters, expands, and executes one phase, replanning up to
// the plan's bound while discovery keeps surfacing uncovered assets. The
// returned bool is true when the workflow reached a terminal state inside
// the phase.
func (o *Orchestrator) runPhase(ctx context.Context, st *workflowState, phase types.Phase, constraints []string) (bool, error) {
	wf := st.wf

	for replan := 0; replan <= o.plan.MaxReplans(); replan++ {
		if ctx.Err() != nil {
			o.finish(ctx, st, types.WorkflowStatusCancelled, "")
			return true, nil
		}

		strategy := o.planPhase(ctx, st, phase, constraints)

		wctx := o.workflowContext(st)
		filtered := o.validator.FilterStrategy(ctx, strategy, wctx)
		o.publishRestraint(ctx, st, phase, strategy, filtered)

		if filtered.StrategyBlocked() {
			// Prohibited action anywhere in the strategy voids it entirely.
			o.recordDecision(ctx, st, phase, audit.DecisionStrategy,
				"strategy blocked by restraint, substituting safe fallback", 1.0, nil)
			strategy = planner.SafeFallbackStrategy(phase, wf.Target)
			filtered = o.validator.FilterStrategy(ctx, strategy, wctx)
		}

		if filtered.NeedsApproval() {
			if !o.awaitApproval(ctx, st, phase, filtered) {
				return true, nil
			}
			for _, d := range filtered.Held {
				rec := strategy.Recommendations[d.RecommendationIndex]
				filtered.Allowed = append(filtered.Allowed, rec)
				filtered.AllowedIndexes = append(filtered.AllowedIndexes, d.RecommendationIndex)
				o.recordDecision(ctx, st, phase, audit.DecisionRestraintOverride,
					fmt.Sprintf("operator approved %s", rec.Capability), 1.0, nil)
			}
		}

		newAssets := o.executeRecommendations(ctx, st, phase, strategy, filtered)
		if ctx.Err() != nil {
			o.finish(ctx, st, types.WorkflowStatusCancelled, "")
			return true, nil
		}

		if !wf.Options.Progressive || !newAssets || replan == o.plan.MaxReplans() {
			return false, nil
		}
		o.logger.InfoContext(ctx, "replanning phase after discovery expansion",
			"workflow_id", wf.ID, "phase", phase, "replan", replan+1)
	}
	return false, nil
}

// planPhase asks the planner for a strategy, substituting the safe fallback
// on any planning failure.
func (o *Orchestrator) planPhase(ctx context.Context, st *workflowState, phase types.Phase, constraints []string) planner.Strategy {
	wf := st.wf

	st.mu.Lock()
	findings := make([]types.Finding, len(wf.Findings))
	copy(findings, wf.Findings)
	st.mu.Unlock()

	pctx := planner.PlanningContext{
		WorkflowID:     wf.ID,
		Target:         wf.Target,
		Phase:          phase,
		Findings:       findings,
		Constraints:    constraints,
		HasCredentials: wf.HasCredentials(),
		Capabilities:   o.capabilityNames(),
	}

	strategy, err := o.planner.PlanStrategy(ctx, wf.ID, pctx)
	if err != nil {
		o.logger.WarnContext(ctx, "planner failed, using safe fallback strategy",
			"workflow_id", wf.ID, "phase", phase, "error", err)
		strategy = planner.SafeFallbackStrategy(phase, wf.Target)
	}

	o.recordDecision(ctx, st, phase, audit.DecisionStrategy,
		strategy.Reasoning, strategy.ConfidenceLevel, nil)
	return strategy
}

// awaitApproval suspends the workflow until Approve, Deny, or Cancel.
// Only approval resumes the phase; denial and cancellation both end the
// workflow as cancelled, so the return is false for either.
func (o *Orchestrator) awaitApproval(ctx context.Context, st *workflowState, phase types.Phase, filtered restraint.FilterResult) bool {
	wf := st.wf

	st.mu.Lock()
	st.approval = make(chan bool, 1)
	approval := st.approval
	st.mu.Unlock()

	o.transition(ctx, st, types.WorkflowStatusAwaitingApproval)
	o.publish(ctx, events.Event{
		Type:       events.EventHITL,
		WorkflowID: wf.ID,
		Phase:      phase,
		Attrs:      map[string]any{"held": len(filtered.Held)},
	})
	o.logger.InfoContext(ctx, "workflow awaiting approval",
		"workflow_id", wf.ID, "phase", phase, "held", len(filtered.Held))

	approved := false
	select {
	case approved = <-approval:
	case <-ctx.Done():
	}

	st.mu.Lock()
	st.approval = nil
	st.mu.Unlock()

	if !approved {
		if ctx.Err() == nil {
			o.recordDecision(ctx, st, phase, audit.DecisionRestraintOverride,
				"operator denied held actions, cancelling workflow", 1.0, nil)
		}
		o.finish(ctx, st, types.WorkflowStatusCancelled, "")
		return false
	}

	o.transition(ctx, st, types.WorkflowStatusRunning)
	return true
}

// executeRecommendations turns the allowed recommendations into tasks,
// expands coverage across known assets, runs them, and folds results back
// into findings. Returns true when execution discovered assets not seen
// before this round.
func (o *Orchestrator) executeRecommendations(ctx context.Context, st *workflowState, phase types.Phase, strategy planner.Strategy, filtered restraint.FilterResult) bool {
	wf := st.wf

	st.mu.Lock()
	assets := append([]discovery.Asset{discovery.ClassifyAsset(wf.Target.Identifier)},
		discovery.AssetsFromFindings(wf.Findings)...)
	knownBefore := len(wf.Findings)
	st.mu.Unlock()

	tasks := o.discovery.Expand(wf.ID, filtered.Allowed, filtered.AllowedIndexes, assets, st.coverage)
	if len(tasks) == 0 {
		return false
	}

	synthesized := 0
	for _, t := range tasks {
		if t.RecommendationIndex < 0 {
			synthesized++
		}
		o.publish(ctx, events.Event{
			Type:       events.EventTaskQueued,
			WorkflowID: wf.ID,
			Phase:      phase,
			Payload: events.TaskPayload{
				TaskID:     t.ID,
				Capability: t.Capability,
				Asset:      t.Asset,
				Status:     types.TaskStatusQueued,
			},
		})
	}
	if synthesized > 0 {
		o.recordDecision(ctx, st, phase, audit.DecisionCoverageExpansion,
			fmt.Sprintf("synthesized %d coverage task(s)", synthesized), 1.0, nil)
	}

	results := o.engine.ExecuteAllWithLimit(ctx, tasks, wf.Options.MaxConcurrent)

	completed := 0
	for i, res := range results {
		completed++
		o.publishTaskResult(ctx, wf.ID, phase, tasks[i], res)
		o.auditTaskResult(ctx, st, phase, tasks[i], res)

		if res.Succeeded() {
			o.ingestFindings(ctx, st, phase, res)
		}

		o.publish(ctx, events.Event{
			Type:       events.EventWorkflowProgress,
			WorkflowID: wf.ID,
			Phase:      phase,
			Payload: events.ProgressPayload{
				Phase:          phase,
				CompletedTasks: completed,
				TotalTasks:     len(results),
				Percent:        100 * float64(completed) / float64(len(results)),
			},
		})
	}

	st.mu.Lock()
	wf.Progress = o.phaseProgress(phase)
	newAssets := len(discovery.AssetsFromFindings(wf.Findings)) >
		len(discovery.AssetsFromFindings(wf.Findings[:knownBefore]))
	st.mu.Unlock()

	return newAssets
}

// phaseProgress maps the current phase position to a coarse percentage.
func (o *Orchestrator) phaseProgress(phase types.Phase) float64 {
	phases := o.plan.Phases()
	for i, p := range phases {
		if p == phase {
			return 100 * float64(i+1) / float64(len(phases))
		}
	}
	return 0
}

// ingestFindings parses structured findings out of a task's output and
// appends them to the workflow. Findings are append-only; non-finding output
// is ignored.
func (o *Orchestrator) ingestFindings(ctx context.Context, st *workflowState, phase types.Phase, res executor.ExecutionResult) {
	found := parseFindings(res.Output)
	if len(found) == 0 {
		return
	}

	wf := st.wf
	st.mu.Lock()
	for i := range found {
		if found[i].ID.IsZero() {
			found[i].ID = types.NewID()
		}
		found[i].WorkflowID = wf.ID
		if found[i].DiscoveredAt.IsZero() {
			found[i].DiscoveredAt = time.Now()
		}
		wf.Findings = append(wf.Findings, found[i])
	}
	st.mu.Unlock()

	for _, f := range found {
		o.publish(ctx, events.Event{
			Type:       events.EventFindingDiscovered,
			WorkflowID: wf.ID,
			Phase:      phase,
			Payload:    f,
		})
		if f.IsCritical() {
			o.recordDecision(ctx, st, phase, audit.DecisionFindingAnalysis,
				fmt.Sprintf("critical finding: %s", f.Title), 1.0, &f.Severity)
		}
	}
}

// parseFindings accepts a JSON array of findings, a single finding object,
// or a wrapper {"findings": [...]}.
func parseFindings(output string) []types.Finding {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil
	}

	var list []types.Finding
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
		return validFindings(list)
	}

	var wrapper struct {
		Findings []types.Finding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err == nil && len(wrapper.Findings) > 0 {
		return validFindings(wrapper.Findings)
	}

	var single types.Finding
	if err := json.Unmarshal([]byte(trimmed), &single); err == nil && single.Title != "" && single.Severity != "" {
		return validFindings([]types.Finding{single})
	}
	return nil
}

func validFindings(in []types.Finding) []types.Finding {
	out := in[:0]
	for _, f := range in {
		if f.Title != "" && f.Severity.IsValid() {
			out = append(out, f)
		}
	}
	return out
}

func (o *Orchestrator) capabilityNames() []string {
	caps := o.registry.List()
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, c.Name)
	}
	return names
}

func (o *Orchestrator) workflowContext(st *workflowState) restraint.WorkflowContext {
	wf := st.wf

	readOnly := make(map[string]bool)
	controls := make(map[string][]string)
	for _, c := range o.registry.List() {
		if c.ReadOnly {
			readOnly[c.Name] = true
		}
		if len(c.ControlCodes) > 0 {
			controls[c.Name] = c.ControlCodes
		}
	}

	return restraint.WorkflowContext{
		WorkflowID:           wf.ID,
		Target:               wf.Target,
		HasCredentials:       wf.HasCredentials(),
		ReadOnlyCapabilities: readOnly,
		SignoffControls:      o.signoff,
		CapabilityControls:   controls,
	}
}

// publishRestraint emits an event and appends an audit decision for every
// restraint block or hold, so trigger counts survive into the report.
func (o *Orchestrator) publishRestraint(ctx context.Context, st *workflowState, phase types.Phase, strategy planner.Strategy, filtered restraint.FilterResult) {
	wf := st.wf

	emit := func(d restraint.Decision, blocked bool) {
		capName := ""
		requiresAuth := false
		if d.RecommendationIndex >= 0 && d.RecommendationIndex < len(strategy.Recommendations) {
			rec := strategy.Recommendations[d.RecommendationIndex]
			capName = rec.Capability
			requiresAuth = rec.RequiresAuth
		}
		o.publish(ctx, events.Event{
			Type:       events.EventRestraint,
			WorkflowID: wf.ID,
			Phase:      phase,
			Payload: events.RestraintPayload{
				Capability:   capName,
				Rule:         d.Rule,
				Reason:       d.Reason,
				RequiresAuth: requiresAuth,
				RequiresHITL: !blocked,
				Blocked:      blocked,
			},
		})

		verdict := "require_approval"
		if blocked {
			verdict = "block"
		}
		_, err := o.auditor.LogDecision(ctx, audit.DecisionRecord{
			WorkflowID: wf.ID,
			Phase:      phase,
			Type:       audit.DecisionRestraint,
			Context: audit.DecisionContext{
				Target:      wf.Target.Identifier,
				Environment: wf.Target.Environment.String(),
				Capability:  capName,
				Extra:       map[string]any{"verdict": verdict, "rule": d.Rule},
			},
			Output: audit.DecisionOutput{
				Decision:   fmt.Sprintf("%s %s", verdict, capName),
				Reasoning:  d.Reason,
				Confidence: 1.0,
			},
		})
		if err != nil {
			o.logger.WarnContext(ctx, "audit restraint record failed",
				"workflow_id", wf.ID, "error", err)
		}
	}
	for _, d := range filtered.Blocked {
		emit(d, true)
	}
	for _, d := range filtered.Held {
		emit(d, false)
	}
}

func (o *Orchestrator) publishTaskResult(ctx context.Context, workflowID types.ID, phase types.Phase, task executor.Task, res executor.ExecutionResult) {
	eventType := events.EventTaskCompleted
	if !res.Succeeded() {
		eventType = events.EventTaskFailed
	}
	o.publish(ctx, events.Event{
		Type:       eventType,
		WorkflowID: workflowID,
		Phase:      phase,
		Payload: events.TaskPayload{
			TaskID:        task.ID,
			Capability:    res.CapabilityRequested,
			CapabilityRun: res.CapabilityRun,
			Asset:         task.Asset,
			Status:        res.Status,
			Error:         res.Error,
		},
	})
}

func (o *Orchestrator) auditTaskResult(ctx context.Context, st *workflowState, phase types.Phase, task executor.Task, res executor.ExecutionResult) {
	record, err := o.auditor.LogDecision(ctx, audit.DecisionRecord{
		WorkflowID: st.wf.ID,
		Phase:      phase,
		Type:       audit.DecisionTaskSelection,
		Context: audit.DecisionContext{
			Target:      st.wf.Target.Identifier,
			Environment: st.wf.Target.Environment.String(),
			Capability:  task.Capability,
		},
		Output: audit.DecisionOutput{
			Decision:   fmt.Sprintf("run %s against %s", task.Capability, task.Asset),
			Confidence: 0.9,
		},
	})
	if err != nil {
		o.logger.WarnContext(ctx, "audit task record failed",
			"workflow_id", st.wf.ID, "error", err)
		return
	}

	status := audit.OutcomeSuccess
	if !res.Succeeded() {
		status = audit.OutcomeFailure
	}
	if res.Status == types.TaskStatusCancelled {
		status = audit.OutcomeSkipped
	}
	_, err = o.auditor.UpdateOutcome(ctx, record.ID, audit.Outcome{
		Executed: res.Status != types.TaskStatusCancelled,
		Status:   status,
		Result:   res.Error,
		Impact:   fmt.Sprintf("capability run: %s", res.CapabilityRun),
	})
	if err != nil {
		o.logger.WarnContext(ctx, "audit outcome update failed",
			"workflow_id", st.wf.ID, "error", err)
	}
}

func (o *Orchestrator) auditPhaseTransition(ctx context.Context, st *workflowState, from, to types.Phase) {
	o.recordDecision(ctx, st, from, audit.DecisionPhaseTransition,
		fmt.Sprintf("advancing %s -> %s", from, to), 1.0, nil)
}

func (o *Orchestrator) recordDecision(ctx context.Context, st *workflowState, phase types.Phase, decisionType audit.DecisionType, decision string, confidence float64, severity *types.FindingSeverity) {
	record := audit.DecisionRecord{
		WorkflowID: st.wf.ID,
		Phase:      phase,
		Type:       decisionType,
		Context: audit.DecisionContext{
			Target:      st.wf.Target.Identifier,
			Environment: st.wf.Target.Environment.String(),
		},
		Output: audit.DecisionOutput{
			Decision:   decision,
			Confidence: confidence,
		},
	}
	if severity != nil {
		record.Context.FindingSeverity = *severity
	}
	if _, err := o.auditor.LogDecision(ctx, record); err != nil {
		o.logger.WarnContext(ctx, "audit decision record failed",
			"workflow_id", st.wf.ID, "type", decisionType, "error", err)
	}
}

// transition moves the workflow along the status graph, refusing illegal
// edges.
func (o *Orchestrator) transition(ctx context.Context, st *workflowState, next types.WorkflowStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.wf.Status.CanTransitionTo(next) {
		o.logger.WarnContext(ctx, "illegal status transition refused",
			"workflow_id", st.wf.ID, "from", st.wf.Status, "to", next)
		return
	}
	st.wf.Status = next
}

// finish drives the workflow to a terminal state, publishes the terminal
// event, and schedules retention eviction.
func (o *Orchestrator) finish(ctx context.Context, st *workflowState, status types.WorkflowStatus, errMsg string) {
	st.mu.Lock()
	if st.wf.Status.IsTerminal() {
		st.mu.Unlock()
		return
	}
	if !st.wf.Status.CanTransitionTo(status) {
		// queued workflows cancelled before start jump straight to cancelled
		if !(st.wf.Status == types.WorkflowStatusQueued && status == types.WorkflowStatusCancelled) {
			st.mu.Unlock()
			return
		}
	}
	st.wf.Status = status
	st.wf.Error = errMsg
	now := time.Now()
	st.wf.CompletedAt = &now
	if status == types.WorkflowStatusCompleted {
		st.wf.Progress = 100
	}
	id := st.wf.ID
	phase := st.wf.Phase
	st.mu.Unlock()

	st.cancel()

	eventType := events.EventWorkflowCompleted
	switch status {
	case types.WorkflowStatusFailed:
		eventType = events.EventWorkflowFailed
	case types.WorkflowStatusCancelled:
		eventType = events.EventWorkflowCancelled
	}
	o.publish(ctx, events.Event{
		Type:       eventType,
		WorkflowID: id,
		Phase:      phase,
		Attrs:      map[string]any{"error": errMsg},
	})
	o.logger.InfoContext(ctx, "workflow finished",
		"workflow_id", id, "status", status, "error", errMsg)

	// Terminal states close the audit trail, so the per-workflow report
	// artifact is written here.
	if _, err := o.auditor.FinalizeReport(context.WithoutCancel(ctx), id); err != nil {
		if types.CodeOf(err) != types.AUDIT_NO_DECISIONS {
			o.logger.WarnContext(ctx, "audit report finalization failed",
				"workflow_id", id, "error", err)
		}
	}

	st.mu.Lock()
	st.evict = time.AfterFunc(o.retention, func() {
		o.mu.Lock()
		delete(o.workflows, id)
		o.mu.Unlock()
	})
	st.mu.Unlock()
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if o.bus == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := o.bus.Publish(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Warn("event publish failed", "type", event.Type, "error", err)
	}
}
