// Package postgres provides an execution history store on PostgreSQL
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/pkg/serialization"
)

// PostgreSQL error codes
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// ExecutionStore implements execution.Store for PostgreSQL
type ExecutionStore struct {
	pool       *pgxpool.Pool
	serializer *serialization.Serializer
	execTable  string
	stepTable  string
}

// NewExecutionStore creates a new PostgreSQL execution store
func NewExecutionStore(pool *pgxpool.Pool, serializer *serialization.Serializer) *ExecutionStore {
	if serializer == nil {
		serializer = serialization.DefaultSerializer()
	}
	return &ExecutionStore{
		pool:       pool,
		serializer: serializer,
		execTable:  "executions",
		stepTable:  "execution_steps",
	}
}

// Open connects to dsn, creates the tables and returns a ready store.
func Open(ctx context.Context, dsn string, serializer *serialization.Serializer) (*ExecutionStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	s := NewExecutionStore(pool, serializer)
	if err := s.CreateTables(ctx); err != nil {
		pool.Close()
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.execTable)
	_, err = s.pool.Exec(ctx, query,
		e.ID, e.SchemaID, e.GraphVersion, string(e.Status), string(e.Outcome), e.Error,
		e.DebugMode, payload, e.StartedAt, e.FinishedAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
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
		UPDATE %s SET status = $1, outcome = $2, error = $3, finished_at = $4
		WHERE id = $5
	`, s.execTable)
	result, err := s.pool.Exec(ctx, query, string(e.Status), string(e.Outcome), e.Error, e.FinishedAt, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if result.RowsAffected() == 0 {
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

	query := fmt.Sprintf(`
		INSERT INTO %s (id, execution_id, seq, node_id, node_type, status, port, started_at, finished_at, context_snapshot, log_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.stepTable)
	_, err = s.pool.Exec(ctx, query,
		step.ID, step.ExecutionID, step.Seq, step.NodeID, step.NodeType, string(step.Status), step.Port,
		step.StartedAt, step.FinishedAt, snapshot, step.LogMessage)
	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", execution.ErrStepExists, step.ID)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, step.ExecutionID)
		}
		return fmt.Errorf("failed to append step: %w", err)
	}
	return nil
}

// Get retrieves an execution by ID
func (s *ExecutionStore) Get(ctx context.Context, id string) (*execution.Execution, error) {
	query := fmt.Sprintf(`
		SELECT id, schema_id, graph_version, status, outcome, error, debug_mode, trigger_payload, started_at, finished_at
		FROM %s
		WHERE id = $1
	`, s.execTable)
	e, err := s.scanExecution(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
		WHERE execution_id = $1
		ORDER BY seq ASC
	`, s.stepTable)
	rows, err := s.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]*execution.Step, 0)
	for rows.Next() {
		var (
			step     execution.Step
			status   string
			snapshot []byte
		)
		if err := rows.Scan(&step.ID, &step.ExecutionID, &step.Seq, &step.NodeID, &step.NodeType,
			&status, &step.Port, &step.StartedAt, &step.FinishedAt, &snapshot, &step.LogMessage); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		step.Status = execution.StepStatus(status)
		step.StartedAt = step.StartedAt.UTC()
		step.FinishedAt = step.FinishedAt.UTC()
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

	rows, err := s.pool.Query(ctx, query, args...)
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

// DeleteBySchema removes every execution of a graph; steps go with them
// through the foreign key cascade.
func (s *ExecutionStore) DeleteBySchema(ctx context.Context, schemaID string) (int, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE schema_id = $1", s.execTable)
	result, err := s.pool.Exec(ctx, query, schemaID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// CreateTables creates the necessary database tables
func (s *ExecutionStore) CreateTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id VARCHAR(64) PRIMARY KEY,
			schema_id VARCHAR(255) NOT NULL,
			graph_version INTEGER NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			outcome VARCHAR(16) NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			debug_mode BOOLEAN NOT NULL DEFAULT FALSE,
			trigger_payload BYTEA,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id VARCHAR(64) PRIMARY KEY,
			execution_id VARCHAR(64) NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			node_type VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			port VARCHAR(255) NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			context_snapshot BYTEA,
			log_message TEXT NOT NULL DEFAULT '',
			UNIQUE (execution_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_schema_id ON %[1]s (schema_id);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_started_at ON %[1]s (started_at);
	`, s.execTable, s.stepTable)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// buildListQuery constructs the SQL query for listing executions
func (s *ExecutionStore) buildListQuery(filter execution.Filter) (string, []any) {
	query := fmt.Sprintf("SELECT id, schema_id, graph_version, status, outcome, error, debug_mode, trigger_payload, started_at, finished_at FROM %s WHERE 1=1", s.execTable)
	args := make([]any, 0)
	argCount := 0

	if filter.SchemaID != "" {
		argCount++
		query += fmt.Sprintf(" AND schema_id = $%d", argCount)
		args = append(args, filter.SchemaID)
	}

	if filter.Status != "" {
		argCount++
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY started_at DESC, id DESC"

	if filter.Limit > 0 {
		argCount++
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		argCount++
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	return query, args
}

func (s *ExecutionStore) scanExecution(row pgx.Row) (*execution.Execution, error) {
	var (
		e               execution.Execution
		status, outcome string
		payload         []byte
		finished        *time.Time
	)
	if err := row.Scan(&e.ID, &e.SchemaID, &e.GraphVersion, &status, &outcome, &e.Error,
		&e.DebugMode, &payload, &e.StartedAt, &finished); err != nil {
		return nil, err
	}
	e.Status = execution.Status(status)
	e.Outcome = execution.Outcome(outcome)
	e.StartedAt = e.StartedAt.UTC()
	if finished != nil {
		t := finished.UTC()
		e.FinishedAt = &t
	}
	if len(payload) > 0 {
		if err := s.serializer.Deserialize(payload, &e.TriggerPayload); err != nil {
			return nil, fmt.Errorf("failed to deserialize trigger payload: %w", err)
		}
	}
	return &e, nil
}

// Close closes the database connection pool
func (s *ExecutionStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
