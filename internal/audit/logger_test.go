package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/aegis/internal/types"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	return NewLogger(NewMemoryStore())
}

func TestLogDecisionAssignsIDAndTimestamp(t *testing.T) {
	logger := newTestLogger(t)

	record, err := logger.LogDecision(context.Background(), DecisionRecord{
		WorkflowID: types.NewID(),
		Phase:      types.PhaseRecon,
		Type:       DecisionStrategy,
		Output:     DecisionOutput{Decision: "run discovery", Confidence: 0.9},
	})
	require.NoError(t, err)
	assert.False(t, record.ID.IsZero())
	assert.False(t, record.Timestamp.IsZero())
}

func TestLogDecisionRejectsUnknownType(t *testing.T) {
	logger := newTestLogger(t)

	_, err := logger.LogDecision(context.Background(), DecisionRecord{
		WorkflowID: types.NewID(),
		Type:       DecisionType("guesswork"),
		Output:     DecisionOutput{Decision: "x", Confidence: 0.5},
	})
	require.Error(t, err)
	assert.Equal(t, types.VALIDATION_FAILED, types.CodeOf(err))
}

func TestCriticalFindingFlagsSecurityCritical(t *testing.T) {
	logger := newTestLogger(t)

	record, err := logger.LogDecision(context.Background(), DecisionRecord{
		WorkflowID: types.NewID(),
		Phase:      types.PhaseAnalyze,
		Type:       DecisionFindingAnalysis,
		Context:    DecisionContext{FindingSeverity: types.SeverityCritical},
		Output:     DecisionOutput{Decision: "escalate", Confidence: 0.95},
	})
	require.NoError(t, err)
	assert.True(t, record.Flags.SecurityCritical)
	assert.True(t, record.Flags.ManualReview)
}

func TestProductionDecisionFlagsComplianceRelevant(t *testing.T) {
	logger := newTestLogger(t)

	record, err := logger.LogDecision(context.Background(), DecisionRecord{
		WorkflowID: types.NewID(),
		Type:       DecisionTaskSelection,
		Context:    DecisionContext{Environment: "production"},
		Output:     DecisionOutput{Decision: "probe endpoint", Confidence: 0.8},
	})
	require.NoError(t, err)
	assert.True(t, record.Flags.ComplianceRelevant)
	assert.False(t, record.Flags.SecurityCritical)
}

func TestLowConfidenceStrategyFlagsManualReview(t *testing.T) {
	logger := newTestLogger(t)

	record, err := logger.LogDecision(context.Background(), DecisionRecord{
		WorkflowID: types.NewID(),
		Type:       DecisionStrategy,
		Output:     DecisionOutput{Decision: "broad sweep", Confidence: 0.3},
	})
	require.NoError(t, err)
	assert.True(t, record.Flags.ManualReview)

	// Same confidence on a task selection does not trip the flag.
	record, err = logger.LogDecision(context.Background(), DecisionRecord{
		WorkflowID: types.NewID(),
		Type:       DecisionTaskSelection,
		Output:     DecisionOutput{Decision: "pick tool", Confidence: 0.3},
	})
	require.NoError(t, err)
	assert.False(t, record.Flags.ManualReview)
}

func TestRestraintOverrideFlags(t *testing.T) {
	logger := newTestLogger(t)

	record, err := logger.LogDecision(context.Background(), DecisionRecord{
		WorkflowID: types.NewID(),
		Type:       DecisionRestraintOverride,
		Output:     DecisionOutput{Decision: "operator approved exploit", Confidence: 1.0},
	})
	require.NoError(t, err)
	assert.True(t, record.Flags.ComplianceRelevant)
	assert.True(t, record.Flags.ManualReview)
}

func TestUpdateOutcomeFailureIsUnexpected(t *testing.T) {
	logger := newTestLogger(t)
	ctx := context.Background()

	record, err := logger.LogDecision(ctx, DecisionRecord{
		WorkflowID: types.NewID(),
		Type:       DecisionTaskSelection,
		Output:     DecisionOutput{Decision: "run scan", Confidence: 0.9},
	})
	require.NoError(t, err)
	assert.False(t, record.Flags.Unexpected)

	record, err = logger.UpdateOutcome(ctx, record.ID, Outcome{
		Executed: true,
		Status:   OutcomeFailure,
		Result:   "scanner crashed",
	})
	require.NoError(t, err)
	assert.True(t, record.Flags.Unexpected)
}

func TestUpdateOutcomeSkippedHighConfidenceIsUnexpected(t *testing.T) {
	logger := newTestLogger(t)
	ctx := context.Background()

	record, err := logger.LogDecision(ctx, DecisionRecord{
		WorkflowID: types.NewID(),
		Type:       DecisionTaskSelection,
		Output:     DecisionOutput{Decision: "run scan", Confidence: 0.85},
	})
	require.NoError(t, err)

	record, err = logger.UpdateOutcome(ctx, record.ID, Outcome{
		Executed: false,
		Status:   OutcomeSkipped,
	})
	require.NoError(t, err)
	assert.True(t, record.Flags.Unexpected)
}

func TestUpdateOutcomeSkippedLowConfidenceIsExpected(t *testing.T) {
	logger := newTestLogger(t)
	ctx := context.Background()

	record, err := logger.LogDecision(ctx, DecisionRecord{
		WorkflowID: types.NewID(),
		Type:       DecisionTaskSelection,
		Output:     DecisionOutput{Decision: "maybe scan", Confidence: 0.4},
	})
	require.NoError(t, err)

	record, err = logger.UpdateOutcome(ctx, record.ID, Outcome{
		Executed: false,
		Status:   OutcomeSkipped,
	})
	require.NoError(t, err)
	assert.False(t, record.Flags.Unexpected)
}

func TestUpdateOutcomeUnknownDecision(t *testing.T) {
	logger := newTestLogger(t)

	_, err := logger.UpdateOutcome(context.Background(), types.NewID(), Outcome{Executed: true, Status: OutcomeSuccess})
	require.Error(t, err)
	assert.Equal(t, types.DECISION_NOT_FOUND, types.CodeOf(err))
}

func TestTrailPreservesAppendOrder(t *testing.T) {
	logger := newTestLogger(t)
	ctx := context.Background()
	workflowID := types.NewID()

	for i, decision := range []string{"first", "second", "third"} {
		_, err := logger.LogDecision(ctx, DecisionRecord{
			WorkflowID: workflowID,
			Type:       DecisionTaskSelection,
			Output:     DecisionOutput{Decision: decision, Confidence: float64(i) * 0.1},
		})
		require.NoError(t, err)
	}

	trail, err := logger.Trail(ctx, workflowID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "first", trail[0].Output.Decision)
	assert.Equal(t, "third", trail[2].Output.Decision)
}

func TestMirrorFailureIsNonFatal(t *testing.T) {
	logger := NewLogger(NewMemoryStore(), WithMirror(failingStore{}))

	record, err := logger.LogDecision(context.Background(), DecisionRecord{
		WorkflowID: types.NewID(),
		Type:       DecisionStrategy,
		Output:     DecisionOutput{Decision: "plan", Confidence: 0.9},
	})
	require.NoError(t, err)

	got, err := logger.store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
}

type failingStore struct{}

func (failingStore) Append(context.Context, DecisionRecord) error {
	return types.NewError(types.PERSISTENCE_FAILED, "disk full")
}

func (failingStore) Update(context.Context, DecisionRecord) error {
	return types.NewError(types.PERSISTENCE_FAILED, "disk full")
}

func (failingStore) Get(context.Context, types.ID) (DecisionRecord, error) {
	return DecisionRecord{}, types.NewError(types.PERSISTENCE_FAILED, "disk full")
}

func (failingStore) ListByWorkflow(context.Context, types.ID) ([]DecisionRecord, error) {
	return nil, types.NewError(types.PERSISTENCE_FAILED, "disk full")
}
