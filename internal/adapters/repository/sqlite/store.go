// Package sqlite provides an execution history store on SQLite
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/pkg/serialization"
)

// ExecutionStore implements execution.Store for SQLite. Payloads and
// context snapshots are stored as serializer blobs; times as unix nanoseconds.
type ExecutionStore struct {
	db         *sql.DB
	serializer *serialization.Serializer
	execTable  string
	stepTable  string
}

// NewExecutionStore creates a new SQLite execution store
func NewExecutionStore(db *sql.DB, serializer *serialization.Serializer) *ExecutionStore {
	if serializer == nil {
		serializer = serialization.DefaultSerializer()
	}
	return &ExecutionStore{
		db:         db,
		serializer: serializer,
		execTable:  "executions",
		stepTable:  "execution_steps",
	}
}

// Open opens dsn, creates the tables and returns a ready store. SQLite allows
// one writer, so the pool is held to a single connection; this also keeps
// ":memory:" databases from splitting across connections.
func Open(ctx context.Context, dsn string, serializer *serialization.Serializer) (*ExecutionStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := NewExecutionStore(db, serializer)
	if err := s.CreateTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// WithTablePrefix prefixes both table names. Only alphanumeric and underscore
// are permitted since the names are interpolated into SQL.
func (s *ExecutionStore) WithTablePrefix(prefix string) *ExecutionStore {
	if isSafeIdent(prefix) {
		s.execTable = prefix + "executions"
		s.stepTable = prefix + "execution_steps"
	}
	return s
}

func isSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}

// Create persists a new execution record
func (s *ExecutionStore) Create(ctx context.Context, e *execution.Execution) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("execution validation failed: %w", err)
	}
	payload, err := s.serializer.Serialize(e.TriggerPayload)
	if err != nil {
		return fmt.Errorf("failed to serialize trigger payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, schema_id, graph_version, status, outcome, error, debug_mode, trigger_payload, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.execTable)
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.SchemaID, e.GraphVersion, string(e.Status), string(e.Outcome), e.Error,
		e.DebugMode, payload, e.StartedAt.UnixNano(), nullableTime(e.FinishedAt))
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s", execution.ErrExecutionExists, e.ID)
		}
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of an execution
func (s *ExecutionStore) Update(ctx context.Context, e *execution.Execution) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("execution validation failed: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE %s SET status = ?, outcome = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, s.execTable)
	result, err := s.db.ExecContext(ctx, query,
		string(e.Status), string(e.Outcome), e.Error, nullableTime(e.FinishedAt), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, e.ID)
	}
	return nil
}

// AppendStep adds a step to an execution's trace
func (s *ExecutionStore) AppendStep(ctx context.Context, step *execution.Step) error {
	if err := step.Validate(); err != nil {
		return fmt.Errorf("step validation failed: %w", err)
	}
	snapshot, err := s.serializer.Serialize(step.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize context snapshot: %w", err)
	}

	// the insert only happens when the parent execution exists
	query := fmt.Sprintf(`
		INSERT INTO %s (id, execution_id, seq, node_id, node_type, status, port, started_at, finished_at, context_snapshot, log_message)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM %s WHERE id = ?)
	`, s.stepTable, s.execTable)
	result, err := s.db.ExecContext(ctx, query,
		step.ID, step.ExecutionID, step.Seq, step.NodeID, step.NodeType, string(step.Status), step.Port,
		step.StartedAt.UnixNano(), step.FinishedAt.UnixNano(), snapshot, step.LogMessage,
		step.ExecutionID)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s", execution.ErrStepExists, step.ID)
		}
		return fmt.Errorf("failed to append step: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, step.ExecutionID)
	}
	return nil
}

// Get retrieves an execution by ID
func (s *ExecutionStore) Get(ctx context.Context, id string) (*execution.Execution, error) {
	query := fmt.Sprintf(`
		SELECT id, schema_id, graph_version, status, outcome, error, debug_mode, trigger_payload, started_at, finished_at
		FROM %s
		WHERE id = ?
	`, s.execTable)
	e, err := s.scanExecution(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return e, nil
}

// Steps returns an execution's steps ordered by Seq
func (s *ExecutionStore) Steps(ctx context.Context, executionID string) ([]*execution.Step, error) {
	if _, err := s.Get(ctx, executionID); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, execution_id, seq, node_id, node_type, status, port, started_at, finished_at, context_snapshot, log_message
		FROM %s
		WHERE execution_id = ?
		ORDER BY seq ASC
	`, s.stepTable)
	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]*execution.Step, 0)
	for rows.Next() {
		var (
			step              execution.Step
			status            string
			started, finished int64
			snapshot          []byte
		)
		if err := rows.Scan(&step.ID, &step.ExecutionID, &step.Seq, &step.NodeID, &step.NodeType,
			&status, &step.Port, &started, &finished, &snapshot, &step.LogMessage); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		step.Status = execution.StepStatus(status)
		step.StartedAt = fromNanos(started)
		step.FinishedAt = fromNanos(finished)
		if err := s.serializer.Deserialize(snapshot, &step.ContextSnapshot); err != nil {
			return nil, fmt.Errorf("failed to deserialize context snapshot: %w", err)
		}
		steps = append(steps, &step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	return steps, nil
}

// List returns executions matching the filter, newest first
func (s *ExecutionStore) List(ctx context.Context, filter execution.Filter) ([]*execution.Execution, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter validation failed: %w", err)
	}
	query, args := s.buildListQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	out := make([]*execution.Execution, 0)
	for rows.Next() {
		e, err := s.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return out, nil
}

// DeleteBySchema removes every execution (and step) of a graph
func (s *ExecutionStore) DeleteBySchema(ctx context.Context, schemaID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stepsQuery := fmt.Sprintf(`
		DELETE FROM %s WHERE execution_id IN (SELECT id FROM %s WHERE schema_id = ?)
	`, s.stepTable, s.execTable)
	if _, err := tx.ExecContext(ctx, stepsQuery, schemaID); err != nil {
		return 0, fmt.Errorf("failed to delete steps: %w", err)
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE schema_id = ?", s.execTable), schemaID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return int(rowsAffected), nil
}

// CreateTables creates the necessary database tables
func (s *ExecutionStore) CreateTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			schema_id TEXT NOT NULL,
			graph_version INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			debug_mode INTEGER NOT NULL DEFAULT 0,
			trigger_payload BLOB,
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			status TEXT NOT NULL,
			port TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			context_snapshot BLOB,
			log_message TEXT NOT NULL DEFAULT '',
			UNIQUE (execution_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_schema_id ON %[1]s (schema_id);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_started_at ON %[1]s (started_at);
	`, s.execTable, s.stepTable)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// buildListQuery constructs the SQL query for listing executions
func (s *ExecutionStore) buildListQuery(filter execution.Filter) (string, []any) {
	query := fmt.Sprintf("SELECT id, schema_id, graph_version, status, outcome, error, debug_mode, trigger_payload, started_at, finished_at FROM %s WHERE 1=1", s.execTable)
	args := make([]any, 0)

	if filter.SchemaID != "" {
		query += " AND schema_id = ?"
		args = append(args, filter.SchemaID)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY started_at DESC, id DESC"

	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit == 0 {
			limit = -1
		}
		query += " LIMIT ?"
		args = append(args, limit)
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *ExecutionStore) scanExecution(row rowScanner) (*execution.Execution, error) {
	var (
		e               execution.Execution
		status, outcome string
		payload         []byte
		started         int64
		finished        sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.SchemaID, &e.GraphVersion, &status, &outcome, &e.Error,
		&e.DebugMode, &payload, &started, &finished); err != nil {
		return nil, err
	}
	e.Status = execution.Status(status)
	e.Outcome = execution.Outcome(outcome)
	e.StartedAt = fromNanos(started)
	if finished.Valid {
		t := fromNanos(finished.Int64)
		e.FinishedAt = &t
	}
	if len(payload) > 0 {
		if err := s.serializer.Deserialize(payload, &e.TriggerPayload); err != nil {
			return nil, fmt.Errorf("failed to deserialize trigger payload: %w", err)
		}
	}
	return &e, nil
}

// Close closes the database connection
func (s *ExecutionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
