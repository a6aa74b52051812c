package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/aegis/internal/database"
	"github.com/zero-day-ai/aegis/internal/types"
)

func sampleRecord(workflowID types.ID, decisionType DecisionType, offset time.Duration) DecisionRecord {
	return DecisionRecord{
		ID:         types.NewID(),
		WorkflowID: workflowID,
		Timestamp:  time.Now().Add(offset).UTC(),
		Phase:      types.PhaseRecon,
		Type:       decisionType,
		Context:    DecisionContext{Target: "app.example.com", Environment: "development"},
		Output: DecisionOutput{
			Decision:   "run http-discovery first",
			Reasoning:  "lowest-risk surface mapping",
			Confidence: 0.9,
		},
	}
}

func TestMemoryStoreAppendGetUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	workflowID := types.NewID()

	record := sampleRecord(workflowID, DecisionStrategy, 0)
	require.NoError(t, store.Append(ctx, record))

	// Duplicate IDs are rejected.
	err := store.Append(ctx, record)
	require.Error(t, err)
	assert.Equal(t, types.PERSISTENCE_FAILED, types.CodeOf(err))

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Output.Decision, got.Output.Decision)

	record.Outcome = &Outcome{Executed: true, Status: OutcomeSuccess}
	require.NoError(t, store.Update(ctx, record))
	got, err = store.Get(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.True(t, got.Outcome.Executed)
}

func TestMemoryStoreUnknownRecord(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, types.NewID())
	assert.Equal(t, types.DECISION_NOT_FOUND, types.CodeOf(err))

	err = store.Update(ctx, sampleRecord(types.NewID(), DecisionStrategy, 0))
	assert.Equal(t, types.DECISION_NOT_FOUND, types.CodeOf(err))
}

func TestMemoryStoreListByWorkflowOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	workflowID := types.NewID()

	first := sampleRecord(workflowID, DecisionStrategy, 0)
	second := sampleRecord(workflowID, DecisionTaskSelection, time.Second)
	other := sampleRecord(types.NewID(), DecisionStrategy, 0)

	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, other))
	require.NoError(t, store.Append(ctx, second))

	records, err := store.ListByWorkflow(ctx, workflowID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
}

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLStore(db.Conn())
	require.NoError(t, err)
	return store
}

func TestSQLStoreRoundTrip(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()
	workflowID := types.NewID()

	record := sampleRecord(workflowID, DecisionFindingAnalysis, 0)
	record.Flags = Flags{SecurityCritical: true, ManualReview: true}
	require.NoError(t, store.Append(ctx, record))

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, DecisionFindingAnalysis, got.Type)
	assert.True(t, got.Flags.SecurityCritical)

	record.Outcome = &Outcome{Executed: false, Status: OutcomeSkipped, Result: "held"}
	require.NoError(t, store.Update(ctx, record))
	got, err = store.Get(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, OutcomeSkipped, got.Outcome.Status)
}

func TestSQLStoreListByWorkflowOrder(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()
	workflowID := types.NewID()

	first := sampleRecord(workflowID, DecisionStrategy, -2*time.Second)
	second := sampleRecord(workflowID, DecisionPhaseTransition, -time.Second)
	third := sampleRecord(workflowID, DecisionTaskSelection, 0)

	// Append out of order; listing sorts by created_at.
	require.NoError(t, store.Append(ctx, third))
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	records, err := store.ListByWorkflow(ctx, workflowID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
	assert.Equal(t, third.ID, records[2].ID)
}

func TestSQLStoreNotFound(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, types.NewID())
	assert.Equal(t, types.DECISION_NOT_FOUND, types.CodeOf(err))

	err = store.Update(ctx, sampleRecord(types.NewID(), DecisionStrategy, 0))
	assert.Equal(t, types.DECISION_NOT_FOUND, types.CodeOf(err))
}
