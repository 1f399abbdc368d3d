package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/internal/repository/testutil"
)

func testStepLog() *domain.StepExecutionLog {
	return &domain.StepExecutionLog{
		RunID:         "run-1",
		StepID:        "step-1",
		ActionType:    domain.ActionSendSMS,
		InputSnapshot: map[string]interface{}{"template": "Hi Jordan"},
		Status:        domain.StepStatusSuccess,
		RetryCount:    0,
		DurationMs:    42,
	}
}

func TestStepLogCreate(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewStepLogRepository(db)

	entry := testStepLog()
	mock.ExpectExec(`INSERT INTO step_execution_logs`).
		WithArgs(
			sqlmock.AnyArg(), "ws-1", "run-1", "step-1", domain.ActionSendSMS,
			sqlmock.AnyArg(), domain.StepStatusSuccess, 0, int64(42),
			nil, nil, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), "ws-1", entry)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStepLogCreateDuplicate(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewStepLogRepository(db)

	// A second success record for the same (run, step) trips the partial
	// unique index and must map to the sentinel
	mock.ExpectExec(`INSERT INTO step_execution_logs`).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	err := repo.Create(context.Background(), "ws-1", testStepLog())
	assert.ErrorIs(t, err, domain.ErrDuplicateStepLog)

	mock.ExpectExec(`INSERT INTO step_execution_logs`).
		WillReturnError(errors.New("connection refused"))

	err = repo.Create(context.Background(), "ws-1", testStepLog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create step execution log")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStepLogCreateValidates(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewStepLogRepository(db)

	entry := testStepLog()
	entry.RunID = ""

	// No SQL expectation: validation must reject before the insert
	err := repo.Create(context.Background(), "ws-1", entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_id is required")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStepLogGetByRunID(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewStepLogRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "run_id", "step_id", "action_type", "input_snapshot",
		"status", "retry_count", "duration_ms", "error", "skip_reason", "created_at",
	}).
		AddRow("log-1", "run-1", "step-1", "send_sms", []byte(`{"template":"Hi Jordan"}`),
			"success", 0, int64(42), nil, nil, now).
		AddRow("log-2", "run-1", "step-2", "condition", nil,
			"skipped", 0, int64(1), nil, "condition not met", now.Add(time.Second)).
		AddRow("log-3", "run-1", "step-3", "webhook", nil,
			"failed", 2, int64(310), "webhook returned 500", nil, now.Add(2*time.Second))

	mock.ExpectQuery(`SELECT .+ FROM step_execution_logs WHERE .+ ORDER BY created_at ASC`).
		WithArgs("run-1", "ws-1").
		WillReturnRows(rows)

	entries, err := repo.GetByRunID(context.Background(), "ws-1", "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "Hi Jordan", entries[0].InputSnapshot["template"])
	assert.Nil(t, entries[0].Error)
	assert.Nil(t, entries[0].SkipReason)

	require.NotNil(t, entries[1].SkipReason)
	assert.Equal(t, "condition not met", *entries[1].SkipReason)

	require.NotNil(t, entries[2].Error)
	assert.Equal(t, "webhook returned 500", *entries[2].Error)
	assert.Equal(t, 2, entries[2].RetryCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStepLogRecordLedgerError(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewStepLogRepository(db)

	mock.ExpectExec(`INSERT INTO engine_error_ledger`).
		WithArgs(sqlmock.AnyArg(), "ws-1", "run-1", "step-1", "log write failed: disk full", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.RecordLedgerError(context.Background(), "ws-1", "run-1", "step-1", "log write failed: disk full")
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStepLogCreateGoalEvent(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewStepLogRepository(db)

	dealID := "deal-7"
	event := &domain.GoalEvent{
		RunID:    "run-1",
		GoalName: "deal_closed",
		DealID:   &dealID,
	}

	mock.ExpectExec(`INSERT INTO goal_events`).
		WithArgs(sqlmock.AnyArg(), "ws-1", "run-1", "deal_closed", nil, "deal-7", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateGoalEvent(context.Background(), "ws-1", event)
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}
