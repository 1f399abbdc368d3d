package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/Runline/runline/internal/domain"
)

// RunRepository implements domain.RunRepository on PostgreSQL.
//
// Idempotency relies on two partial unique indexes over
// (workspace_id, trigger_type, automation_key, event_id):
// one scoped to status = 'success' (a completed logical event never reruns)
// and one scoped to status = 'running' (a concurrent duplicate delivery maps
// onto the in-flight run instead of starting a second one). Error runs never
// block a retry. Correctness holds across processes with no locks because the
// database enforces the constraint at insert time.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository
func NewRunRepository(db *sql.DB) domain.RunRepository {
	return &RunRepository{db: db}
}

// CreateRunning inserts a run with status running. A unique violation means
// the logical event was already handled (or is in flight) and surfaces as
// domain.ErrDuplicateRun.
func (r *RunRepository) CreateRunning(ctx context.Context, run *domain.AutomationRun) error {
	run.Status = domain.RunStatusRunning
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	if err := run.Validate(); err != nil {
		return err
	}

	contextJSON, err := json.Marshal(run.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal context snapshot: %w", err)
	}

	query, args, err := psql.
		Insert("automation_runs").
		Columns(
			"id", "workspace_id", "automation_id", "automation_key", "trigger_type",
			"event_id", "context_snapshot", "status", "current_step_id", "scheduled_at",
			"created_at", "updated_at",
		).
		Values(
			run.ID, run.WorkspaceID, run.AutomationID, run.AutomationKey, run.TriggerType,
			run.EventID, contextJSON, run.Status, run.CurrentStepID, run.ScheduledAt,
			run.CreatedAt, run.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateRun
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetByID retrieves a run by ID
func (r *RunRepository) GetByID(ctx context.Context, workspaceID, id string) (*domain.AutomationRun, error) {
	query, args, err := psql.
		Select(runColumns()...).
		From("automation_runs").
		Where(sq.Eq{"id": id, "workspace_id": workspaceID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	run, err := scanRun(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Entity: "automation run", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List retrieves runs with filtering
func (r *RunRepository) List(ctx context.Context, workspaceID string, filter domain.RunFilter) ([]*domain.AutomationRun, int, error) {
	whereClause := sq.Eq{"workspace_id": workspaceID}
	if filter.AutomationID != "" {
		whereClause["automation_id"] = filter.AutomationID
	}
	if filter.TriggerType != "" {
		whereClause["trigger_type"] = string(filter.TriggerType)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		whereClause["status"] = statuses
	}

	countQuery, countArgs, err := psql.
		Select("COUNT(*)").
		From("automation_runs").
		Where(whereClause).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	dataQuery := psql.
		Select(runColumns()...).
		From("automation_runs").
		Where(whereClause).
		OrderBy("created_at DESC")

	if filter.Limit > 0 {
		dataQuery = dataQuery.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		dataQuery = dataQuery.Offset(uint64(filter.Offset))
	}

	query, args, err := dataQuery.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.AutomationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating run rows: %w", err)
	}

	return runs, count, nil
}

// Finalize moves the run to a terminal status and clears scheduling state.
// No run is left permanently running: cancelled and exhausted runs both land
// here.
func (r *RunRepository) Finalize(ctx context.Context, workspaceID, id string, status domain.RunStatus) error {
	if status == domain.RunStatusRunning {
		return domain.NewValidationError("cannot finalize a run to running status")
	}

	query, args, err := psql.
		Update("automation_runs").
		Set("status", status).
		Set("current_step_id", nil).
		Set("scheduled_at", nil).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id, "workspace_id": workspaceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return &domain.ErrNotFound{Entity: "automation run", ID: id}
	}

	return nil
}

// Suspend parks the run at a step until scheduledAt. The run stays in
// running status; the scheduler resumes it once the delay elapses. The
// context snapshot is rewritten so mutations from earlier steps survive.
func (r *RunRepository) Suspend(ctx context.Context, workspaceID, id, stepID string, scheduledAt time.Time, snapshot *domain.EventContext) error {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal context snapshot: %w", err)
	}

	query, args, err := psql.
		Update("automation_runs").
		Set("current_step_id", stepID).
		Set("scheduled_at", scheduledAt.UTC()).
		Set("context_snapshot", snapshotJSON).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id, "workspace_id": workspaceID, "status": domain.RunStatusRunning}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to suspend run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return &domain.ErrNotFound{Entity: "automation run", ID: id}
	}

	return nil
}

// GetResumable returns suspended runs whose scheduled_at has elapsed
func (r *RunRepository) GetResumable(ctx context.Context, beforeTime time.Time, limit int) ([]*domain.AutomationRun, error) {
	query, args, err := psql.
		Select(runColumns()...).
		From("automation_runs").
		Where(sq.Eq{"status": domain.RunStatusRunning}).
		Where(sq.NotEq{"scheduled_at": nil}).
		Where(sq.LtOrEq{"scheduled_at": beforeTime.UTC()}).
		OrderBy("scheduled_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get resumable runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.AutomationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}

	return runs, nil
}

// ReclassifyStaleRuns flips running runs older than the staleness window to
// error. Suspended runs (scheduled_at set) are exempt: a time_delay is
// supposed to stay running for hours or days.
func (r *RunRepository) ReclassifyStaleRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	query, args, err := psql.
		Update("automation_runs").
		Set("status", domain.RunStatusError).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"status": domain.RunStatusRunning, "scheduled_at": nil}).
		Where(sq.Lt{"updated_at": olderThan.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reclassify stale runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected, nil
}

// IncrementRunStat bumps a per-automation counter atomically at the storage layer
func (r *RunRepository) IncrementRunStat(ctx context.Context, workspaceID, automationID, statName string) error {
	switch statName {
	case "started", "succeeded", "failed":
	default:
		return domain.NewValidationError(fmt.Sprintf("unknown run stat: %s", statName))
	}

	query := fmt.Sprintf(`INSERT INTO automation_run_stats (workspace_id, automation_id, %s, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (workspace_id, automation_id)
		DO UPDATE SET %s = automation_run_stats.%s + 1, updated_at = NOW()`, statName, statName, statName)

	if _, err := r.db.ExecContext(ctx, query, workspaceID, automationID); err != nil {
		return fmt.Errorf("failed to increment run stat: %w", err)
	}

	return nil
}

func runColumns() []string {
	return []string{
		"id", "workspace_id", "automation_id", "automation_key", "trigger_type",
		"event_id", "context_snapshot", "status", "current_step_id", "scheduled_at",
		"created_at", "updated_at",
	}
}

func scanRun(row rowScanner) (*domain.AutomationRun, error) {
	var run domain.AutomationRun
	var contextJSON []byte
	var currentStepID sql.NullString
	var scheduledAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.WorkspaceID, &run.AutomationID, &run.AutomationKey, &run.TriggerType,
		&run.EventID, &contextJSON, &run.Status, &currentStepID, &scheduledAt,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run row: %w", err)
	}

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &run.ContextSnapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context snapshot: %w", err)
		}
	}
	if currentStepID.Valid {
		run.CurrentStepID = &currentStepID.String
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		run.ScheduledAt = &t
	}

	return &run, nil
}
