package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/Runline/runline/internal/domain"
)

// StepLogRepository implements domain.StepLogRepository on PostgreSQL.
//
// The log is append-only. A partial unique index on (run_id, step_id)
// WHERE status = 'success' mirrors the run-level idempotency pattern:
// concurrent duplicate executions cannot double-log a success, and the
// constraint violation is the signal that another execution got there first.
type StepLogRepository struct {
	db *sql.DB
}

// NewStepLogRepository creates a new StepLogRepository
func NewStepLogRepository(db *sql.DB) domain.StepLogRepository {
	return &StepLogRepository{db: db}
}

// Create inserts one step attempt record. A unique violation surfaces as
// domain.ErrDuplicateStepLog so callers can swallow it.
func (r *StepLogRepository) Create(ctx context.Context, workspaceID string, entry *domain.StepExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := entry.Validate(); err != nil {
		return err
	}

	inputJSON, err := json.Marshal(entry.InputSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal input snapshot: %w", err)
	}

	query, args, err := psql.
		Insert("step_execution_logs").
		Columns(
			"id", "workspace_id", "run_id", "step_id", "action_type",
			"input_snapshot", "status", "retry_count", "duration_ms",
			"error", "skip_reason", "created_at",
		).
		Values(
			entry.ID, workspaceID, entry.RunID, entry.StepID, entry.ActionType,
			inputJSON, entry.Status, entry.RetryCount, entry.DurationMs,
			entry.Error, entry.SkipReason, entry.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateStepLog
		}
		return fmt.Errorf("failed to create step execution log: %w", err)
	}

	return nil
}

// GetByRunID retrieves all step attempt records for a run, oldest first
func (r *StepLogRepository) GetByRunID(ctx context.Context, workspaceID, runID string) ([]*domain.StepExecutionLog, error) {
	query, args, err := psql.
		Select(
			"id", "run_id", "step_id", "action_type", "input_snapshot",
			"status", "retry_count", "duration_ms", "error", "skip_reason", "created_at",
		).
		From("step_execution_logs").
		Where(sq.Eq{"workspace_id": workspaceID, "run_id": runID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get step execution logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.StepExecutionLog
	for rows.Next() {
		var entry domain.StepExecutionLog
		var inputJSON []byte
		var errMsg, skipReason sql.NullString

		err := rows.Scan(
			&entry.ID, &entry.RunID, &entry.StepID, &entry.ActionType, &inputJSON,
			&entry.Status, &entry.RetryCount, &entry.DurationMs, &errMsg, &skipReason, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution log row: %w", err)
		}

		if len(inputJSON) > 0 {
			if err := json.Unmarshal(inputJSON, &entry.InputSnapshot); err != nil {
				return nil, fmt.Errorf("failed to unmarshal input snapshot: %w", err)
			}
		}
		if errMsg.Valid {
			entry.Error = &errMsg.String
		}
		if skipReason.Valid {
			entry.SkipReason = &skipReason.String
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step execution log rows: %w", err)
	}

	return entries, nil
}

// RecordLedgerError captures a failed log write in the fallback error ledger.
// Observability failures must never mask a step's functional outcome, so this
// is the last resort sink, not a correctness path.
func (r *StepLogRepository) RecordLedgerError(ctx context.Context, workspaceID, runID, stepID, message string) error {
	query, args, err := psql.
		Insert("engine_error_ledger").
		Columns("id", "workspace_id", "run_id", "step_id", "message", "created_at").
		Values(uuid.NewString(), workspaceID, runID, stepID, message, time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record ledger error: %w", err)
	}

	return nil
}

// CreateGoalEvent records a goal conversion audit entry
func (r *StepLogRepository) CreateGoalEvent(ctx context.Context, workspaceID string, event *domain.GoalEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query, args, err := psql.
		Insert("goal_events").
		Columns("id", "workspace_id", "run_id", "goal_name", "appointment_id", "deal_id", "created_at").
		Values(event.ID, workspaceID, event.RunID, event.GoalName, event.AppointmentID, event.DealID, event.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create goal event: %w", err)
	}

	return nil
}
