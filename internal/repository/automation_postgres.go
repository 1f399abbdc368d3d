package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/Runline/runline/internal/domain"
)

// pqUniqueViolation is the Postgres error code raised when an insert hits a
// unique constraint. For runs and step logs that code is a designed signal,
// not a failure.
const pqUniqueViolation = "23505"

// isUniqueViolation reports whether the error is a Postgres unique constraint violation
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

// psql is a Squirrel StatementBuilder configured for PostgreSQL
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// AutomationRepository implements domain.AutomationRepository
type AutomationRepository struct {
	db *sql.DB
}

// NewAutomationRepository creates a new AutomationRepository
func NewAutomationRepository(db *sql.DB) domain.AutomationRepository {
	return &AutomationRepository{db: db}
}

// Create adds a new automation definition
func (r *AutomationRepository) Create(ctx context.Context, workspaceID string, automation *domain.Automation) error {
	triggerJSON, err := json.Marshal(automation.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	stepsJSON, err := json.Marshal(automation.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	now := time.Now().UTC()
	automation.CreatedAt = now
	automation.UpdatedAt = now

	query, args, err := psql.
		Insert("automations").
		Columns(
			"id", "workspace_id", "name", "is_active", "trigger_type",
			"trigger_config", "steps", "created_at", "updated_at",
		).
		Values(
			automation.ID, workspaceID, automation.Name, automation.IsActive,
			automation.Trigger.Type, triggerJSON, stepsJSON,
			automation.CreatedAt, automation.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create automation: %w", err)
	}

	return nil
}

// GetByID retrieves an automation definition by ID
func (r *AutomationRepository) GetByID(ctx context.Context, workspaceID, id string) (*domain.Automation, error) {
	query, args, err := psql.
		Select(
			"id", "workspace_id", "name", "is_active",
			"trigger_config", "steps", "created_at", "updated_at",
		).
		From("automations").
		Where(sq.Eq{"id": id, "workspace_id": workspaceID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	automation, err := scanAutomation(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Entity: "automation", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return automation, nil
}

// List retrieves automation definitions with filtering
func (r *AutomationRepository) List(ctx context.Context, workspaceID string, filter domain.AutomationFilter) ([]*domain.Automation, int, error) {
	whereClause := sq.Eq{"workspace_id": workspaceID}
	if filter.TriggerType != "" {
		whereClause["trigger_type"] = string(filter.TriggerType)
	}
	if filter.ActiveOnly {
		whereClause["is_active"] = true
	}

	countQuery, countArgs, err := psql.
		Select("COUNT(*)").
		From("automations").
		Where(whereClause).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("failed to count automations: %w", err)
	}

	dataQuery := psql.
		Select(
			"id", "workspace_id", "name", "is_active",
			"trigger_config", "steps", "created_at", "updated_at",
		).
		From("automations").
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
		return nil, 0, fmt.Errorf("failed to list automations: %w", err)
	}
	defer rows.Close()

	var automations []*domain.Automation
	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, 0, err
		}
		automations = append(automations, automation)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating automation rows: %w", err)
	}

	return automations, count, nil
}

// Update updates an automation definition
func (r *AutomationRepository) Update(ctx context.Context, workspaceID string, automation *domain.Automation) error {
	triggerJSON, err := json.Marshal(automation.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	stepsJSON, err := json.Marshal(automation.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	automation.UpdatedAt = time.Now().UTC()

	query, args, err := psql.
		Update("automations").
		Set("name", automation.Name).
		Set("is_active", automation.IsActive).
		Set("trigger_type", automation.Trigger.Type).
		Set("trigger_config", triggerJSON).
		Set("steps", stepsJSON).
		Set("updated_at", automation.UpdatedAt).
		Where(sq.Eq{"id": automation.ID, "workspace_id": workspaceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return &domain.ErrNotFound{Entity: "automation", ID: automation.ID}
	}

	return nil
}

// Delete removes an automation definition
func (r *AutomationRepository) Delete(ctx context.Context, workspaceID, id string) error {
	query, args, err := psql.
		Delete("automations").
		Where(sq.Eq{"id": id, "workspace_id": workspaceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete automation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return &domain.ErrNotFound{Entity: "automation", ID: id}
	}

	return nil
}

// SetActive flips the is_active flag. Running orchestrations observe the flip
// as a cooperative cancellation signal.
func (r *AutomationRepository) SetActive(ctx context.Context, workspaceID, id string, active bool) error {
	query, args, err := psql.
		Update("automations").
		Set("is_active", active).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id, "workspace_id": workspaceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set automation active flag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return &domain.ErrNotFound{Entity: "automation", ID: id}
	}

	return nil
}

// IsActive reads just the is_active flag, the cheap cancellation probe polled
// before each step dispatch.
func (r *AutomationRepository) IsActive(ctx context.Context, workspaceID, id string) (bool, error) {
	query, args, err := psql.
		Select("is_active").
		From("automations").
		Where(sq.Eq{"id": id, "workspace_id": workspaceID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	var active bool
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&active)
	if err == sql.ErrNoRows {
		return false, &domain.ErrNotFound{Entity: "automation", ID: id}
	}
	if err != nil {
		return false, fmt.Errorf("failed to read automation active flag: %w", err)
	}

	return active, nil
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAutomation(row rowScanner) (*domain.Automation, error) {
	var automation domain.Automation
	var triggerJSON, stepsJSON []byte

	err := row.Scan(
		&automation.ID, &automation.WorkspaceID, &automation.Name, &automation.IsActive,
		&triggerJSON, &stepsJSON, &automation.CreatedAt, &automation.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan automation row: %w", err)
	}

	if err := json.Unmarshal(triggerJSON, &automation.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
	}
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &automation.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}

	return &automation, nil
}
