package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RateCounterRepository implements ratelimiter.CounterStore on PostgreSQL.
// The check-and-increment is a single upsert, so it stays atomic under
// concurrent workers in separate processes.
type RateCounterRepository struct {
	db *sql.DB
}

// NewRateCounterRepository creates a new RateCounterRepository
func NewRateCounterRepository(db *sql.DB) *RateCounterRepository {
	return &RateCounterRepository{db: db}
}

// Increment bumps the counter for (workspace, channel, window) and reports
// whether the limit held. The WHERE clause on the upsert refuses the bump once
// the limit is reached; zero affected rows means denied.
func (r *RateCounterRepository) Increment(ctx context.Context, workspaceID, channel string, windowStart time.Time, limit int) (bool, error) {
	query := `INSERT INTO rate_counters (workspace_id, channel, window_start, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (workspace_id, channel, window_start)
		DO UPDATE SET count = rate_counters.count + 1
		WHERE rate_counters.count < $4`

	result, err := r.db.ExecContext(ctx, query, workspaceID, channel, windowStart.UTC(), limit)
	if err != nil {
		return false, fmt.Errorf("failed to increment rate counter: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

// DeleteExpired removes counter rows whose window ended before the cutoff.
// Called by the janitor so the table does not grow without bound.
func (r *RateCounterRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_counters WHERE window_start < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rate counters: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected, nil
}
