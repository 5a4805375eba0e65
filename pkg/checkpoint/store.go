// Package checkpoint implements the Checkpoint Store from spec.md §4.6: it
// persists a WorkflowState snapshot at each layer boundary, so an aborted
// or paused run can resume without losing progress or re-running
// completed work.
//
// Grounded on kadirpekel-hector's pkg/memory/session_service_sql.go: a
// single database/sql handle and a dialect string select
// postgres/mysql/sqlite placeholder syntax at the call site, rather than
// building a query-builder abstraction.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	// Database drivers, registered for side effect per dialect.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/dagrunner/pkg/dagmodel"
)

// ErrNotFound is returned by Load when no checkpoint exists for an id.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is one durable snapshot of a workflow run.
type Checkpoint struct {
	ID        string
	DAGID     string
	State     dagmodel.WorkflowState
	CreatedAt time.Time
}

// Store persists and retrieves workflow checkpoints.
type Store interface {
	// Save writes a new checkpoint for state and returns its id.
	Save(ctx context.Context, state dagmodel.WorkflowState) (string, error)
	// Load returns the checkpoint recorded under id, or ErrNotFound.
	Load(ctx context.Context, id string) (Checkpoint, error)
	// Latest returns the most recently saved checkpoint for a DAG id, or
	// ErrNotFound if the DAG has never been checkpointed.
	Latest(ctx context.Context, dagID string) (Checkpoint, error)
}

// table DDL, one statement set shared by every dialect.
const createTableSQL = `
CREATE TABLE IF NOT EXISTS dagrunner_checkpoints (
    id VARCHAR(255) NOT NULL PRIMARY KEY,
    dag_id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dagrunner_checkpoints_dag_id ON dagrunner_checkpoints(dag_id);
CREATE INDEX IF NOT EXISTS idx_dagrunner_checkpoints_created_at ON dagrunner_checkpoints(created_at);
`

// SQLStore is a database/sql-backed Store supporting postgres, mysql, and
// sqlite3 via dialect-switched placeholder syntax.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an already-open *sql.DB. dialect must be one of
// "postgres", "mysql", or "sqlite3" and selects placeholder syntax; it
// does not itself choose the driver (the caller's sql.Open already did).
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	switch dialect {
	case "postgres", "mysql", "sqlite3":
	default:
		return nil, fmt.Errorf("checkpoint: unsupported dialect %q (supported: postgres, mysql, sqlite3)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("checkpoint: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Save stores a new checkpoint row. Checkpoints are append-only: resuming
// from an older checkpoint id always remains possible even after later
// checkpoints are saved (spec.md §4.6).
func (s *SQLStore) Save(ctx context.Context, state dagmodel.WorkflowState) (string, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("checkpoint: failed to marshal state: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()

	query := fmt.Sprintf(
		"INSERT INTO dagrunner_checkpoints (id, dag_id, state_json, created_at) VALUES (%s, %s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
	)

	if _, err := s.db.ExecContext(ctx, query, id, state.DAGID, string(stateJSON), now); err != nil {
		return "", fmt.Errorf("%w: %v", dagmodel.ErrCheckpointIO, err)
	}

	return id, nil
}

// Load retrieves a checkpoint by id.
func (s *SQLStore) Load(ctx context.Context, id string) (Checkpoint, error) {
	query := fmt.Sprintf(
		"SELECT id, dag_id, state_json, created_at FROM dagrunner_checkpoints WHERE id = %s",
		s.placeholder(1),
	)
	return s.scanOne(ctx, query, id)
}

// Latest retrieves the most recently saved checkpoint for a DAG id.
func (s *SQLStore) Latest(ctx context.Context, dagID string) (Checkpoint, error) {
	query := fmt.Sprintf(
		"SELECT id, dag_id, state_json, created_at FROM dagrunner_checkpoints WHERE dag_id = %s ORDER BY created_at DESC LIMIT 1",
		s.placeholder(1),
	)
	return s.scanOne(ctx, query, dagID)
}

func (s *SQLStore) scanOne(ctx context.Context, query string, arg any) (Checkpoint, error) {
	var id, dagID, stateJSON string
	var createdAt time.Time

	err := s.db.QueryRowContext(ctx, query, arg).Scan(&id, &dagID, &stateJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", dagmodel.ErrCheckpointIO, err)
	}

	var state dagmodel.WorkflowState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: failed to unmarshal state: %v", dagmodel.ErrCheckpointIO, err)
	}

	return Checkpoint{ID: id, DAGID: dagID, State: state, CreatedAt: createdAt}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
