package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zero-day-ai/aegis/internal/types"
)

// Store persists decision records. The in-memory map is authoritative;
// persistence failures degrade durability, never correctness.
type Store interface {
	Append(ctx context.Context, record DecisionRecord) error
	Update(ctx context.Context, record DecisionRecord) error
	Get(ctx context.Context, id types.ID) (DecisionRecord, error)
	ListByWorkflow(ctx context.Context, workflowID types.ID) ([]DecisionRecord, error)
}

// MemoryStore keeps records in memory, ordered by insertion per workflow.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[types.ID]*DecisionRecord
	ordered map[types.ID][]types.ID // workflow -> record IDs in append order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[types.ID]*DecisionRecord),
		ordered: make(map[types.ID][]types.ID),
	}
}

func (s *MemoryStore) Append(_ context.Context, record DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[record.ID]; exists {
		return types.NewError(types.PERSISTENCE_FAILED,
			fmt.Sprintf("decision record %s already exists", record.ID))
	}
	r := record
	s.byID[record.ID] = &r
	s.ordered[record.WorkflowID] = append(s.ordered[record.WorkflowID], record.ID)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, record DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[record.ID]; !exists {
		return types.NewError(types.DECISION_NOT_FOUND,
			fmt.Sprintf("decision record %s not found", record.ID))
	}
	r := record
	s.byID[record.ID] = &r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.byID[id]
	if !exists {
		return DecisionRecord{}, types.NewError(types.DECISION_NOT_FOUND,
			fmt.Sprintf("decision record %s not found", id))
	}
	return *r, nil
}

func (s *MemoryStore) ListByWorkflow(_ context.Context, workflowID types.ID) ([]DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.ordered[workflowID]
	records := make([]DecisionRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.byID[id]; ok {
			records = append(records, *r)
		}
	}
	return records, nil
}

const decisionSchema = `
CREATE TABLE IF NOT EXISTS audit_decisions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	phase TEXT NOT NULL,
	decision_type TEXT NOT NULL,
	record JSON NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_decisions_workflow ON audit_decisions(workflow_id, created_at);
`

// SQLStore mirrors records into SQLite for durability across restarts.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore prepares the audit schema on the given connection.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if _, err := db.Exec(decisionSchema); err != nil {
		return nil, types.WrapError(types.DB_MIGRATION_FAILED, "create audit schema", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Append(ctx context.Context, record DecisionRecord) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return types.WrapError(types.PERSISTENCE_FAILED, "marshal decision record", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_decisions (id, workflow_id, created_at, phase, decision_type, record)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID.String(), record.WorkflowID.String(), record.Timestamp.UTC(),
		record.Phase.String(), record.Type.String(), string(blob))
	if err != nil {
		return types.WrapError(types.PERSISTENCE_FAILED, "insert decision record", err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, record DecisionRecord) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return types.WrapError(types.PERSISTENCE_FAILED, "marshal decision record", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_decisions SET record = ? WHERE id = ?`,
		string(blob), record.ID.String())
	if err != nil {
		return types.WrapError(types.PERSISTENCE_FAILED, "update decision record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.DECISION_NOT_FOUND,
			fmt.Sprintf("decision record %s not found", record.ID))
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id types.ID) (DecisionRecord, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM audit_decisions WHERE id = ?`, id.String()).Scan(&blob)
	if err == sql.ErrNoRows {
		return DecisionRecord{}, types.NewError(types.DECISION_NOT_FOUND,
			fmt.Sprintf("decision record %s not found", id))
	}
	if err != nil {
		return DecisionRecord{}, types.WrapError(types.DB_QUERY_FAILED, "query decision record", err)
	}
	var record DecisionRecord
	if err := json.Unmarshal([]byte(blob), &record); err != nil {
		return DecisionRecord{}, types.WrapError(types.PERSISTENCE_FAILED, "unmarshal decision record", err)
	}
	return record, nil
}

func (s *SQLStore) ListByWorkflow(ctx context.Context, workflowID types.ID) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM audit_decisions WHERE workflow_id = ? ORDER BY created_at, id`,
		workflowID.String())
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "query decision records", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, types.WrapError(types.DB_QUERY_FAILED, "scan decision record", err)
		}
		var record DecisionRecord
		if err := json.Unmarshal([]byte(blob), &record); err != nil {
			return nil, types.WrapError(types.PERSISTENCE_FAILED, "unmarshal decision record", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// now is swapped in tests.
var now = time.Now
