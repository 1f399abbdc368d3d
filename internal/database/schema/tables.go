// Package schema defines the database schema for development.
//
// DEVELOPMENT USE ONLY
// This file contains the current database schema and is used for development and testing.
// Before deploying to production, these table definitions should be converted to proper migrations.
package schema

// TableDefinitions contains all the SQL statements to create the database tables
// Don't put REFERENCES and don't put CHECK constraints in the CREATE TABLE statements
var TableDefinitions = []string{
	`CREATE TABLE IF NOT EXISTS automations (
		id VARCHAR(36) NOT NULL,
		workspace_id VARCHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		trigger_type VARCHAR(50) NOT NULL,
		trigger_config JSONB NOT NULL,
		steps JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (workspace_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_automations_trigger_type ON automations (workspace_id, trigger_type, is_active)`,

	`CREATE TABLE IF NOT EXISTS automation_runs (
		id UUID PRIMARY KEY,
		workspace_id VARCHAR(36) NOT NULL,
		automation_id VARCHAR(36) NOT NULL,
		automation_key VARCHAR(36) NOT NULL,
		trigger_type VARCHAR(50) NOT NULL,
		event_id VARCHAR(255) NOT NULL DEFAULT '',
		context_snapshot JSONB,
		status VARCHAR(20) NOT NULL,
		current_step_id VARCHAR(36),
		scheduled_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	// Idempotency: the correlation key is unique among successful runs, so a
	// completed logical event can never run twice. A second partial index
	// over running rows maps a concurrent duplicate delivery onto the
	// in-flight run. Error runs never block a retry.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_success_correlation
		ON automation_runs (workspace_id, trigger_type, automation_key, event_id)
		WHERE status = 'success' AND event_id <> ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_running_correlation
		ON automation_runs (workspace_id, trigger_type, automation_key, event_id)
		WHERE status = 'running' AND event_id <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_runs_workspace_automation ON automation_runs (workspace_id, automation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_resumable ON automation_runs (scheduled_at) WHERE status = 'running' AND scheduled_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_runs_stale ON automation_runs (updated_at) WHERE status = 'running' AND scheduled_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS step_execution_logs (
		id UUID PRIMARY KEY,
		workspace_id VARCHAR(36) NOT NULL,
		run_id UUID NOT NULL,
		step_id VARCHAR(36) NOT NULL,
		action_type VARCHAR(50) NOT NULL,
		input_snapshot JSONB,
		status VARCHAR(20) NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error TEXT,
		skip_reason VARCHAR(100),
		created_at TIMESTAMP NOT NULL
	)`,
	// Concurrent duplicate executions cannot double-log a success for the
	// same (run, step); error and skipped attempts are unrestricted.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_step_logs_success
		ON step_execution_logs (run_id, step_id)
		WHERE status = 'success'`,
	`CREATE INDEX IF NOT EXISTS idx_step_logs_run ON step_execution_logs (workspace_id, run_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS goal_events (
		id UUID PRIMARY KEY,
		workspace_id VARCHAR(36) NOT NULL,
		run_id UUID NOT NULL,
		goal_name VARCHAR(255) NOT NULL,
		appointment_id VARCHAR(255),
		deal_id VARCHAR(255),
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_goal_events_workspace ON goal_events (workspace_id, goal_name)`,

	// Fallback ledger for step log writes that failed with a genuine
	// storage error. Best effort, append only.
	`CREATE TABLE IF NOT EXISTS engine_error_ledger (
		id UUID PRIMARY KEY,
		workspace_id VARCHAR(36) NOT NULL,
		run_id UUID,
		step_id VARCHAR(36),
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	// Atomic check-and-increment counters for the per-channel rate limiter
	`CREATE TABLE IF NOT EXISTS rate_counters (
		workspace_id VARCHAR(36) NOT NULL,
		channel VARCHAR(50) NOT NULL,
		window_start TIMESTAMP NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (workspace_id, channel, window_start)
	)`,

	`CREATE TABLE IF NOT EXISTS automation_run_stats (
		workspace_id VARCHAR(36) NOT NULL,
		automation_id VARCHAR(36) NOT NULL,
		started BIGINT NOT NULL DEFAULT 0,
		succeeded BIGINT NOT NULL DEFAULT 0,
		failed BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (workspace_id, automation_id)
	)`,
}
