package service

import (
	"context"
	"errors"
	"time"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

// StepFunc performs the step's actual side effect and returns its output
type StepFunc func(ctx context.Context) (map[string]interface{}, error)

// StepResult is the outcome of one step execution including retries
type StepResult struct {
	Output     map[string]interface{}
	RetryCount int
	Err        error
}

// RetryExecutor wraps a single step's dispatch with the retry policy,
// cancellation, idempotent logging, and the fallback error ledger.
type RetryExecutor struct {
	stepLogRepo domain.StepLogRepository
	logger      logger.Logger

	// sleep is swapped out in tests to observe delays without waiting
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates a new RetryExecutor
func NewRetryExecutor(stepLogRepo domain.StepLogRepository, log logger.Logger) *RetryExecutor {
	return &RetryExecutor{
		stepLogRepo: stepLogRepo,
		logger:      log,
		sleep:       sleepCtx,
	}
}

// sleepCtx sleeps interruptibly: cancellation cuts the backoff short
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteWithRetry runs fn with bounded, classified retries.
//
// Guarantees: at most MaxRetries+1 attempts; the backoff doubles from
// InitialDelay; the cancellation signal is checked before each attempt and
// both before and after each sleep; every attempt produces exactly one step
// log insert attempt. A duplicate-success conflict on that insert means a
// concurrent execution already completed this (run, step) - it is swallowed
// and reported as already done, never raised.
func (e *RetryExecutor) ExecuteWithRetry(
	ctx context.Context,
	workspaceID string,
	runID string,
	step *domain.AutomationStep,
	input map[string]interface{},
	fn StepFunc,
	policy RetryPolicy,
) StepResult {
	var lastErr error
	failReason := "retries exhausted"

	for retryCount := 0; retryCount <= policy.MaxRetries; retryCount++ {
		if err := ctx.Err(); err != nil {
			return StepResult{RetryCount: retryCount, Err: domain.ErrRunCancelled}
		}

		start := time.Now()
		output, err := fn(ctx)
		durationMs := time.Since(start).Milliseconds()

		if err == nil {
			e.logAttempt(ctx, workspaceID, &domain.StepExecutionLog{
				RunID:         runID,
				StepID:        step.ID,
				ActionType:    step.ActionType,
				InputSnapshot: input,
				Status:        domain.StepStatusSuccess,
				RetryCount:    retryCount,
				DurationMs:    durationMs,
			})
			return StepResult{Output: output, RetryCount: retryCount}
		}

		lastErr = err
		errStr := err.Error()

		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			e.logAttempt(ctx, workspaceID, &domain.StepExecutionLog{
				RunID:         runID,
				StepID:        step.ID,
				ActionType:    step.ActionType,
				InputSnapshot: input,
				Status:        domain.StepStatusError,
				RetryCount:    retryCount,
				DurationMs:    durationMs,
				Error:         &errStr,
			})
			e.logger.WithFields(map[string]interface{}{
				"run_id":  runID,
				"step_id": step.ID,
				"error":   errStr,
			}).Warn("Step failed with permanent error, not retrying")
			failReason = "permanent error"
			break
		}

		e.logAttempt(ctx, workspaceID, &domain.StepExecutionLog{
			RunID:         runID,
			StepID:        step.ID,
			ActionType:    step.ActionType,
			InputSnapshot: input,
			Status:        domain.StepStatusError,
			RetryCount:    retryCount,
			DurationMs:    durationMs,
			Error:         &errStr,
		})

		if retryCount == policy.MaxRetries {
			e.logger.WithFields(map[string]interface{}{
				"run_id":      runID,
				"step_id":     step.ID,
				"retry_count": retryCount,
				"error":       errStr,
			}).Error("Step failed, retries exhausted")
			break
		}

		// Exponential backoff: initialDelay, 2x, 4x, ...
		delay := policy.InitialDelay << uint(retryCount)

		e.logger.WithFields(map[string]interface{}{
			"run_id":      runID,
			"step_id":     step.ID,
			"retry_count": retryCount,
			"delay_ms":    delay.Milliseconds(),
			"error":       errStr,
		}).Warn("Step failed with transient error, backing off")

		if err := e.sleep(ctx, delay); err != nil {
			return StepResult{RetryCount: retryCount, Err: domain.ErrRunCancelled}
		}
		if err := ctx.Err(); err != nil {
			return StepResult{RetryCount: retryCount, Err: domain.ErrRunCancelled}
		}
	}

	return StepResult{Err: &domain.ErrStepExecution{
		RunID:  runID,
		StepID: step.ID,
		Reason: failReason,
		Err:    lastErr,
	}}
}

// logAttempt inserts one step log record. Duplicate-success conflicts are
// swallowed; genuine storage failures land in the fallback error ledger so
// they never alter the step's functional result.
func (e *RetryExecutor) logAttempt(ctx context.Context, workspaceID string, entry *domain.StepExecutionLog) {
	err := e.stepLogRepo.Create(ctx, workspaceID, entry)
	if err == nil {
		return
	}

	if errors.Is(err, domain.ErrDuplicateStepLog) {
		e.logger.WithFields(map[string]interface{}{
			"run_id":  entry.RunID,
			"step_id": entry.StepID,
		}).Info("Step already logged as success by a concurrent execution")
		return
	}

	e.logger.WithFields(map[string]interface{}{
		"run_id":  entry.RunID,
		"step_id": entry.StepID,
		"error":   err.Error(),
	}).Error("Failed to write step execution log")

	if ledgerErr := e.stepLogRepo.RecordLedgerError(ctx, workspaceID, entry.RunID, entry.StepID, err.Error()); ledgerErr != nil {
		e.logger.WithFields(map[string]interface{}{
			"run_id":  entry.RunID,
			"step_id": entry.StepID,
			"error":   ledgerErr.Error(),
		}).Error("Failed to record step log failure in error ledger")
	}
}
