package domain

import (
	"context"
	"fmt"
	"time"
)

// RunStatus represents the status of an automation run
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// IsValid checks if the run status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuccess, RunStatusError:
		return true
	default:
		return false
	}
}

// StepStatus represents the outcome of one step attempt
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
	StepStatusSkipped StepStatus = "skipped"
)

// IsValid checks if the step status is valid
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusSuccess, StepStatusError, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// EventContext is the working state threaded through one run. It is mutated as
// steps execute (a create_contact step refreshes Lead with the created row) so
// later steps see up-to-date data.
type EventContext struct {
	Lead        map[string]interface{} `json:"lead,omitempty"`
	Appointment map[string]interface{} `json:"appointment,omitempty"`
	Payment     map[string]interface{} `json:"payment,omitempty"`
	Deal        map[string]interface{} `json:"deal,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	Now         time.Time              `json:"now"`
}

// EventID extracts the stable event identifier from the context metadata.
// Returns empty string when the payload carries none.
func (c *EventContext) EventID() string {
	if c.Meta == nil {
		return ""
	}
	if id, ok := c.Meta["event_id"].(string); ok {
		return id
	}
	return ""
}

// AutomationRun is one execution attempt of one definition against one
// trigger occurrence. The composite (workspace, trigger type, automation key,
// event id) is unique only among runs with status = success; running and
// error runs never block a retry of the same logical event.
type AutomationRun struct {
	ID              string        `json:"id"`
	WorkspaceID     string        `json:"workspace_id"`
	AutomationID    string        `json:"automation_id"`
	AutomationKey   string        `json:"automation_key"`
	TriggerType     TriggerType   `json:"trigger_type"`
	EventID         string        `json:"event_id"`
	ContextSnapshot *EventContext `json:"context_snapshot"`
	Status          RunStatus     `json:"status"`
	CurrentStepID   *string       `json:"current_step_id,omitempty"`
	ScheduledAt     *time.Time    `json:"scheduled_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Validate validates the run
func (r *AutomationRun) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if r.AutomationID == "" {
		return fmt.Errorf("automation_id is required")
	}
	if r.AutomationKey == "" {
		return fmt.Errorf("automation_key is required")
	}
	if r.TriggerType == "" {
		return fmt.Errorf("trigger_type is required")
	}
	if r.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid run status: %s", r.Status)
	}
	return nil
}

// StepExecutionLog is one record per step attempt, including retries.
// (run_id, step_id) is unique only among logs with status = success, so
// concurrent duplicate attempts cannot double-log a success.
type StepExecutionLog struct {
	ID            string                 `json:"id"`
	RunID         string                 `json:"run_id"`
	StepID        string                 `json:"step_id"`
	ActionType    ActionType             `json:"action_type"`
	InputSnapshot map[string]interface{} `json:"input_snapshot,omitempty"`
	Status        StepStatus             `json:"status"`
	RetryCount    int                    `json:"retry_count"`
	DurationMs    int64                  `json:"duration_ms"`
	Error         *string                `json:"error,omitempty"`
	SkipReason    *string                `json:"skip_reason,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Validate validates the step execution log entry
func (l *StepExecutionLog) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("id is required")
	}
	if l.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if l.StepID == "" {
		return fmt.Errorf("step_id is required")
	}
	if l.ActionType == "" {
		return fmt.Errorf("action_type is required")
	}
	if !l.Status.IsValid() {
		return fmt.Errorf("invalid step status: %s", l.Status)
	}
	if l.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative")
	}
	return nil
}

// GoalEvent is the audit record written when a goal_achieved step fires.
// It ties the named conversion to the run's appointment or deal when one is
// resolvable; without either id the write is skipped entirely.
type GoalEvent struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspace_id"`
	RunID         string    `json:"run_id"`
	GoalName      string    `json:"goal_name"`
	AppointmentID *string   `json:"appointment_id,omitempty"`
	DealID        *string   `json:"deal_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RunStats holds per-automation run counters
type RunStats struct {
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// RunFilter defines filtering options for listing runs
type RunFilter struct {
	AutomationID string
	TriggerType  TriggerType
	Status       []RunStatus
	Limit        int
	Offset       int
}

// RunRepository is the idempotency store: a durable ledger of runs with
// partial-uniqueness on successful runs only.
type RunRepository interface {
	// CreateRunning inserts a run with status running. Returns
	// ErrDuplicateRun when the correlation key already has a successful run
	// or an in-flight running run inside the staleness window.
	CreateRunning(ctx context.Context, run *AutomationRun) error

	GetByID(ctx context.Context, workspaceID, id string) (*AutomationRun, error)
	List(ctx context.Context, workspaceID string, filter RunFilter) ([]*AutomationRun, int, error)

	// Finalize moves the run to a terminal status and clears scheduling state
	Finalize(ctx context.Context, workspaceID, id string, status RunStatus) error

	// Suspend parks the run at a step until scheduledAt (time_delay). The
	// snapshot replaces the stored context so mutations made by earlier
	// steps survive the suspension.
	Suspend(ctx context.Context, workspaceID, id, stepID string, scheduledAt time.Time, snapshot *EventContext) error

	// GetResumable returns suspended runs whose scheduled_at has elapsed
	GetResumable(ctx context.Context, beforeTime time.Time, limit int) ([]*AutomationRun, error)

	// ReclassifyStaleRuns flips running runs older than the staleness window
	// to error so they stop blocking idempotency checks. Returns the number
	// of rows affected.
	ReclassifyStaleRuns(ctx context.Context, olderThan time.Time) (int64, error)

	// IncrementRunStat bumps a per-automation counter (started, succeeded, failed)
	IncrementRunStat(ctx context.Context, workspaceID, automationID, statName string) error
}

// StepLogRepository is the append-only step execution log
type StepLogRepository interface {
	// Create inserts one attempt record. Returns ErrDuplicateStepLog when a
	// concurrent execution already recorded success for this (run, step).
	Create(ctx context.Context, workspaceID string, entry *StepExecutionLog) error

	GetByRunID(ctx context.Context, workspaceID, runID string) ([]*StepExecutionLog, error)

	// RecordLedgerError captures a failed log write in the fallback error
	// ledger. Best effort: its own failure is only logged.
	RecordLedgerError(ctx context.Context, workspaceID, runID, stepID, message string) error

	// CreateGoalEvent records a goal conversion audit entry
	CreateGoalEvent(ctx context.Context, workspaceID string, event *GoalEvent) error
}

// TriggerRunRequest is the engine's single inbound entry point payload
type TriggerRunRequest struct {
	WorkspaceID  string                 `json:"workspace_id"`
	TriggerType  TriggerType            `json:"trigger_type"`
	EventPayload map[string]interface{} `json:"event_payload"`
}

// Validate validates the trigger run request
func (r *TriggerRunRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if r.TriggerType == "" {
		return fmt.Errorf("trigger_type is required")
	}
	if !r.TriggerType.IsValid() {
		return fmt.Errorf("invalid trigger type: %s", r.TriggerType)
	}
	if r.EventPayload == nil {
		return fmt.Errorf("event_payload is required")
	}
	return nil
}

// BuildEventContext lifts the loosely-typed payload into an EventContext.
// Unrecognized keys are ignored; recognized keys must be objects.
func (r *TriggerRunRequest) BuildEventContext(now time.Time) *EventContext {
	ec := &EventContext{Now: now}
	if m, ok := r.EventPayload["lead"].(map[string]interface{}); ok {
		ec.Lead = m
	}
	if m, ok := r.EventPayload["appointment"].(map[string]interface{}); ok {
		ec.Appointment = m
	}
	if m, ok := r.EventPayload["payment"].(map[string]interface{}); ok {
		ec.Payment = m
	}
	if m, ok := r.EventPayload["deal"].(map[string]interface{}); ok {
		ec.Deal = m
	}
	if m, ok := r.EventPayload["meta"].(map[string]interface{}); ok {
		ec.Meta = m
	}
	return ec
}

// TriggerRunResponse summarizes what the engine did for one trigger event.
// Raw internal errors never leak through this surface.
type TriggerRunResponse struct {
	Status           string              `json:"status"` // "ok" or "error"
	AutomationIDsRun []string            `json:"automation_ids_run"`
	StepLogs         []*StepExecutionLog `json:"step_logs"`
}

// GetRunRequest represents the request to fetch one run
type GetRunRequest struct {
	WorkspaceID string `json:"workspace_id"`
	RunID       string `json:"run_id"`
}

// FromURLParams parses the request from URL parameters
func (r *GetRunRequest) FromURLParams(params map[string][]string) error {
	if v, ok := params["workspace_id"]; ok && len(v) > 0 {
		r.WorkspaceID = v[0]
	}
	if v, ok := params["run_id"]; ok && len(v) > 0 {
		r.RunID = v[0]
	}
	return r.Validate()
}

// Validate validates the get run request
func (r *GetRunRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if r.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	return nil
}
