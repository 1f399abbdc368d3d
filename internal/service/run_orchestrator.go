package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
	"github.com/Runline/runline/pkg/ratelimiter"
)

const (
	// maxStepExecutions bounds one run's step loop so a go_to cycle in a
	// misconfigured definition cannot spin forever.
	maxStepExecutions = 250

	// defaultGoalStopCap bounds how many times the same goal step may
	// execute within one run before goal processing shuts off entirely.
	defaultGoalStopCap = 5

	skipReasonConditionsNotMet = "conditions_not_met"
	skipReasonGoalHandled      = "goal_already_handled"
)

// RunOrchestrator drives one automation run end to end: idempotent run
// creation, the step loop with conditions, branching, flow control and rate
// limiting, cooperative cancellation, and terminal finalization.
type RunOrchestrator struct {
	registry       *TriggerRegistry
	runRepo        domain.RunRepository
	stepLogRepo    domain.StepLogRepository
	automationRepo domain.AutomationRepository
	dispatcher     *ActionDispatcher
	retryExecutor  *RetryExecutor
	policies       *RetryPolicyTable
	evaluator      *ConditionEvaluator
	rateLimiter    *ratelimiter.ChannelRateLimiter
	goalStopCap    int
	logger         logger.Logger
}

// NewRunOrchestrator creates a new run orchestrator
func NewRunOrchestrator(
	registry *TriggerRegistry,
	runRepo domain.RunRepository,
	stepLogRepo domain.StepLogRepository,
	automationRepo domain.AutomationRepository,
	dispatcher *ActionDispatcher,
	retryExecutor *RetryExecutor,
	policies *RetryPolicyTable,
	evaluator *ConditionEvaluator,
	rateLimiter *ratelimiter.ChannelRateLimiter,
	goalStopCap int,
	log logger.Logger,
) *RunOrchestrator {
	if goalStopCap <= 0 {
		goalStopCap = defaultGoalStopCap
	}
	return &RunOrchestrator{
		registry:       registry,
		runRepo:        runRepo,
		stepLogRepo:    stepLogRepo,
		automationRepo: automationRepo,
		dispatcher:     dispatcher,
		retryExecutor:  retryExecutor,
		policies:       policies,
		evaluator:      evaluator,
		rateLimiter:    rateLimiter,
		goalStopCap:    goalStopCap,
		logger:         log,
	}
}

// RunAutomationsForTrigger is the engine's single entry point. Matching
// automations execute sequentially within this call; independent events may
// be processed concurrently by other workers, so run creation relies on the
// storage-level uniqueness constraints rather than locks.
func (o *RunOrchestrator) RunAutomationsForTrigger(ctx context.Context, req *domain.TriggerRunRequest) (*domain.TriggerRunResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	eventCtx := req.BuildEventContext(time.Now().UTC())
	automations := o.registry.Resolve(ctx, req.WorkspaceID, req.TriggerType)

	resp := &domain.TriggerRunResponse{
		Status:           "ok",
		AutomationIDsRun: []string{},
		StepLogs:         []*domain.StepExecutionLog{},
	}

	for _, automation := range automations {
		run, started := o.startRun(ctx, req.WorkspaceID, automation, req.TriggerType, eventCtx)
		if !started {
			continue
		}

		// each automation works on its own copy so mutations from one
		// definition's steps never leak into the next
		runLogs := o.executeRun(ctx, req.WorkspaceID, automation, run, cloneEventContext(eventCtx), "")

		resp.AutomationIDsRun = append(resp.AutomationIDsRun, automation.ID)
		resp.StepLogs = append(resp.StepLogs, runLogs...)
	}

	return resp, nil
}

// startRun attempts to create the running run row. A duplicate is the
// idempotency guarantee doing its job; any other storage failure fails
// closed (skip, assume already ran) because double-sending a message is
// worse than delaying one.
func (o *RunOrchestrator) startRun(ctx context.Context, workspaceID string, automation *domain.Automation, triggerType domain.TriggerType, eventCtx *domain.EventContext) (*domain.AutomationRun, bool) {
	run := &domain.AutomationRun{
		ID:              uuid.New().String(),
		WorkspaceID:     workspaceID,
		AutomationID:    automation.ID,
		AutomationKey:   automation.AutomationKey(),
		TriggerType:     triggerType,
		EventID:         eventCtx.EventID(),
		ContextSnapshot: cloneEventContext(eventCtx),
		Status:          domain.RunStatusRunning,
	}

	if err := o.runRepo.CreateRunning(ctx, run); err != nil {
		fields := map[string]interface{}{
			"workspace_id":  workspaceID,
			"automation_id": automation.ID,
			"event_id":      run.EventID,
		}
		if errors.Is(err, domain.ErrDuplicateRun) {
			o.logger.WithFields(fields).Info("Run already recorded for this event, skipping")
		} else {
			fields["error"] = err.Error()
			o.logger.WithFields(fields).Error("Run creation failed, skipping automation to avoid duplicate side effects")
		}
		return nil, false
	}

	if err := o.runRepo.IncrementRunStat(ctx, workspaceID, automation.ID, "started"); err != nil {
		o.logger.WithField("automation_id", automation.ID).Warn("Failed to increment started stat")
	}

	return run, true
}

// executeRun walks the step loop from startStepID (or the first step) and
// finalizes the run. Returns the run's step logs for the caller's response.
func (o *RunOrchestrator) executeRun(ctx context.Context, workspaceID string, automation *domain.Automation, run *domain.AutomationRun, eventCtx *domain.EventContext, startStepID string) []*domain.StepExecutionLog {
	suspended := o.executeSteps(ctx, workspaceID, automation, run, eventCtx, startStepID)
	if !suspended {
		o.finalizeRun(ctx, workspaceID, run, automation.ID, domain.RunStatusSuccess)
	}

	logs, err := o.stepLogRepo.GetByRunID(ctx, workspaceID, run.ID)
	if err != nil {
		o.logger.WithFields(map[string]interface{}{
			"run_id": run.ID,
			"error":  err.Error(),
		}).Warn("Failed to load step logs for response")
		return nil
	}
	return logs
}

// executeSteps runs the loop. Returns true when the run suspended on a
// time_delay (the scheduler owns it from there); false means the run reached
// a terminal point and must be finalized by the caller.
func (o *RunOrchestrator) executeSteps(ctx context.Context, workspaceID string, automation *domain.Automation, run *domain.AutomationRun, eventCtx *domain.EventContext, startStepID string) bool {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	steps := orderedSteps(automation)
	indexByID := make(map[string]int, len(steps))
	for i, s := range steps {
		indexByID[s.ID] = i
	}

	i := 0
	if startStepID != "" {
		idx, ok := indexByID[startStepID]
		if !ok {
			o.logger.WithFields(map[string]interface{}{
				"run_id":  run.ID,
				"step_id": startStepID,
			}).Error("Resume step no longer exists in definition, finalizing run")
			return false
		}
		i = idx
	}

	goals := &goalTracker{visits: make(map[string]int)}
	executions := 0

	for i >= 0 && i < len(steps) {
		if runCtx.Err() != nil {
			o.logger.WithField("run_id", run.ID).Info("Run cancelled, remaining steps not attempted")
			return false
		}

		executions++
		if executions > maxStepExecutions {
			o.logger.WithFields(map[string]interface{}{
				"run_id":        run.ID,
				"automation_id": automation.ID,
			}).Error("Step execution bound exceeded, likely a go_to cycle, ending run")
			return false
		}

		if !o.definitionStillActive(runCtx, workspaceID, automation.ID) {
			cancel()
			continue
		}

		step := steps[i]

		// a condition step's predicate IS its condition list; everything
		// else treats conditions as a gate and skips on failure
		if step.ActionType == domain.ActionCondition {
			i = o.branchTarget(run, step, eventCtx, indexByID, i)
			continue
		}

		if len(step.Conditions) > 0 && !o.evaluator.EvaluateAll(step.Conditions, eventCtx, step.ConditionLogic) {
			o.logSkipped(runCtx, workspaceID, run.ID, step, skipReasonConditionsNotMet)
			i++
			continue
		}

		switch step.ActionType {
		case domain.ActionStopWorkflow:
			o.logFlowControl(runCtx, workspaceID, run.ID, step, 0)
			return false

		case domain.ActionGoTo:
			i = o.goToTarget(runCtx, workspaceID, run, step, indexByID, i)
			continue

		case domain.ActionGoalAchieved:
			stop := o.handleGoal(runCtx, workspaceID, run, step, eventCtx, goals)
			if stop {
				return false
			}
			i++
			continue

		case domain.ActionTimeDelay:
			return o.suspendForDelay(ctx, workspaceID, run, steps, i, eventCtx)
		}

		if step.ActionType.IsExternallyVisible() {
			check := o.rateLimiter.Check(runCtx, workspaceID, step.ActionType.Channel())
			if !check.Allowed {
				o.logSkipped(runCtx, workspaceID, run.ID, step, check.Reason)
				i++
				continue
			}
		}

		policy := o.policies.PolicyFor(step.ActionType, step.RetryOverride)
		result := o.retryExecutor.ExecuteWithRetry(runCtx, workspaceID, run.ID, step, step.Config, func(c context.Context) (map[string]interface{}, error) {
			return o.dispatcher.Execute(c, workspaceID, step.ActionType, step.Config, eventCtx)
		}, policy)

		if errors.Is(result.Err, domain.ErrRunCancelled) {
			o.logger.WithField("run_id", run.ID).Info("Run cancelled during step execution")
			return false
		}
		if result.Err != nil {
			// already logged with its retry history; the run moves on
			o.logger.WithFields(map[string]interface{}{
				"run_id":  run.ID,
				"step_id": step.ID,
				"error":   result.Err.Error(),
			}).Warn("Step failed after retries, continuing to next step")
		}

		i++
	}

	return false
}

// definitionStillActive is the cooperative cancellation probe, checked before
// each step dispatch. Probe failures assume active: a storage blip must not
// cancel in-flight runs.
func (o *RunOrchestrator) definitionStillActive(ctx context.Context, workspaceID, automationID string) bool {
	active, err := o.automationRepo.IsActive(ctx, workspaceID, automationID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			// starter templates are not persisted; they cannot be paused
			return true
		}
		o.logger.WithFields(map[string]interface{}{
			"automation_id": automationID,
			"error":         err.Error(),
		}).Warn("Active-flag probe failed, assuming still active")
		return true
	}
	return active
}

// branchTarget resolves a condition step's true/false branch. A missing
// branch id falls through to the next sequential step.
func (o *RunOrchestrator) branchTarget(run *domain.AutomationRun, step *domain.AutomationStep, eventCtx *domain.EventContext, indexByID map[string]int, current int) int {
	pass := o.evaluator.EvaluateAll(step.Conditions, eventCtx, step.ConditionLogic)

	branch := step.FalseBranchStepID
	if pass {
		branch = step.TrueBranchStepID
	}
	if branch == nil || *branch == "" {
		return current + 1
	}

	idx, ok := indexByID[*branch]
	if !ok {
		o.logger.WithFields(map[string]interface{}{
			"run_id":  run.ID,
			"step_id": step.ID,
			"target":  *branch,
		}).Error("Condition branch target not found, continuing sequentially")
		return current + 1
	}
	return idx
}

// goToTarget resolves a go_to jump. A missing target logs a step error and
// execution continues sequentially rather than crashing the run.
func (o *RunOrchestrator) goToTarget(ctx context.Context, workspaceID string, run *domain.AutomationRun, step *domain.AutomationStep, indexByID map[string]int, current int) int {
	target, _ := step.Config["target_step_id"].(string)
	idx, ok := indexByID[target]
	if !ok {
		errStr := fmt.Sprintf("go_to target step not found: %q", target)
		o.logStep(ctx, workspaceID, &domain.StepExecutionLog{
			RunID:      run.ID,
			StepID:     step.ID,
			ActionType: step.ActionType,
			Status:     domain.StepStatusError,
			Error:      &errStr,
		})
		o.logger.WithFields(map[string]interface{}{
			"run_id":  run.ID,
			"step_id": step.ID,
			"target":  target,
		}).Error("go_to target not found, continuing sequentially")
		return current + 1
	}

	o.logFlowControl(ctx, workspaceID, run.ID, step, 0)
	return idx
}

// goalTracker bounds goal processing within one run. A go_to cycle can
// revisit the same goal step; the per-goal visit counter caps that, and
// exceeding the cap disables goal processing for the rest of the run.
type goalTracker struct {
	visits   map[string]int
	disabled bool
}

// handleGoal records the conversion audit entry on the goal's first visit
// and applies the stop semantics. Returns true when the run should stop.
func (o *RunOrchestrator) handleGoal(ctx context.Context, workspaceID string, run *domain.AutomationRun, step *domain.AutomationStep, eventCtx *domain.EventContext, goals *goalTracker) bool {
	goalName, _ := step.Config["goal_name"].(string)
	if goalName == "" {
		goalName = step.ID
	}

	if goals.disabled {
		o.logSkipped(ctx, workspaceID, run.ID, step, skipReasonGoalHandled)
		return false
	}

	goals.visits[goalName]++
	if goals.visits[goalName] > o.goalStopCap {
		goals.disabled = true
		o.logger.WithFields(map[string]interface{}{
			"run_id": run.ID,
			"goal":   goalName,
		}).Warn("Goal visit cap exceeded, disabling goal processing for this run")
		o.logSkipped(ctx, workspaceID, run.ID, step, skipReasonGoalHandled)
		return false
	}

	if goals.visits[goalName] == 1 {
		o.recordGoalEvent(ctx, workspaceID, run, goalName, eventCtx)
	}
	o.logFlowControl(ctx, workspaceID, run.ID, step, 0)

	stop, _ := step.Config["stop_on_achievement"].(bool)
	return stop
}

// recordGoalEvent writes the audit entry when an appointment or deal id is
// resolvable; otherwise the write is skipped with a diagnostic instead of
// inserting a dangling reference.
func (o *RunOrchestrator) recordGoalEvent(ctx context.Context, workspaceID string, run *domain.AutomationRun, goalName string, eventCtx *domain.EventContext) {
	appointmentID := recordID(eventCtx.Appointment)
	dealID := recordID(eventCtx.Deal)

	if appointmentID == nil && dealID == nil {
		o.logger.WithFields(map[string]interface{}{
			"run_id": run.ID,
			"goal":   goalName,
		}).Info("No appointment or deal id in context, goal audit entry skipped")
		return
	}

	event := &domain.GoalEvent{
		ID:            uuid.New().String(),
		WorkspaceID:   workspaceID,
		RunID:         run.ID,
		GoalName:      goalName,
		AppointmentID: appointmentID,
		DealID:        dealID,
	}
	if err := o.stepLogRepo.CreateGoalEvent(ctx, workspaceID, event); err != nil {
		o.logger.WithFields(map[string]interface{}{
			"run_id": run.ID,
			"goal":   goalName,
			"error":  err.Error(),
		}).Warn("Failed to record goal event")
	}
}

// suspendForDelay parks the run until the configured delay elapses. The
// scheduler resumes it at the step after the delay; a trailing delay with no
// successor just finalizes.
func (o *RunOrchestrator) suspendForDelay(ctx context.Context, workspaceID string, run *domain.AutomationRun, steps []*domain.AutomationStep, current int, eventCtx *domain.EventContext) bool {
	step := steps[current]
	o.logFlowControl(ctx, workspaceID, run.ID, step, 0)

	if current+1 >= len(steps) {
		return false
	}

	scheduledAt := time.Now().UTC().Add(delayDuration(step.Config))
	nextStepID := steps[current+1].ID

	if err := o.runRepo.Suspend(context.WithoutCancel(ctx), workspaceID, run.ID, nextStepID, scheduledAt, eventCtx); err != nil {
		o.logger.WithFields(map[string]interface{}{
			"run_id": run.ID,
			"error":  err.Error(),
		}).Error("Failed to suspend run for time delay, finalizing instead")
		return false
	}

	o.logger.WithFields(map[string]interface{}{
		"run_id":       run.ID,
		"resume_at":    scheduledAt,
		"next_step_id": nextStepID,
	}).Info("Run suspended for time delay")
	return true
}

// ResumeRun continues a suspended run from its persisted step. Invoked by
// the delay scheduler once scheduled_at elapses.
func (o *RunOrchestrator) ResumeRun(ctx context.Context, run *domain.AutomationRun) {
	if run.CurrentStepID == nil || *run.CurrentStepID == "" || run.ContextSnapshot == nil {
		o.logger.WithField("run_id", run.ID).Error("Suspended run has no resume state, finalizing as error")
		o.finalizeRun(ctx, run.WorkspaceID, run, run.AutomationID, domain.RunStatusError)
		return
	}

	automation, err := o.automationRepo.GetByID(ctx, run.WorkspaceID, run.AutomationID)
	if err != nil {
		// runs started from a starter template have no persisted definition
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			automation = o.registry.StarterTemplate(run.AutomationID)
		}
		if automation == nil {
			o.logger.WithFields(map[string]interface{}{
				"run_id":        run.ID,
				"automation_id": run.AutomationID,
				"error":         err.Error(),
			}).Error("Definition unavailable for suspended run, finalizing as error")
			o.finalizeRun(ctx, run.WorkspaceID, run, run.AutomationID, domain.RunStatusError)
			return
		}
	}

	o.executeRun(ctx, run.WorkspaceID, automation, run, run.ContextSnapshot, *run.CurrentStepID)
}

// finalizeRun moves the run to its terminal status. Cancellation and step
// failures both finalize as success; the step log is the system of record
// for individual outcomes. Runs are never left permanently running, so the
// write is detached from the caller's cancellation.
func (o *RunOrchestrator) finalizeRun(ctx context.Context, workspaceID string, run *domain.AutomationRun, automationID string, status domain.RunStatus) {
	finalizeCtx := context.WithoutCancel(ctx)

	if err := o.runRepo.Finalize(finalizeCtx, workspaceID, run.ID, status); err != nil {
		o.logger.WithFields(map[string]interface{}{
			"run_id": run.ID,
			"status": string(status),
			"error":  err.Error(),
		}).Error("Failed to finalize run")
		return
	}

	stat := "succeeded"
	if status == domain.RunStatusError {
		stat = "failed"
	}
	if err := o.runRepo.IncrementRunStat(finalizeCtx, workspaceID, automationID, stat); err != nil {
		o.logger.WithField("automation_id", automationID).Warn("Failed to increment run stat")
	}
}

func (o *RunOrchestrator) logSkipped(ctx context.Context, workspaceID, runID string, step *domain.AutomationStep, reason string) {
	o.logStep(ctx, workspaceID, &domain.StepExecutionLog{
		RunID:      runID,
		StepID:     step.ID,
		ActionType: step.ActionType,
		Status:     domain.StepStatusSkipped,
		SkipReason: &reason,
	})
}

func (o *RunOrchestrator) logFlowControl(ctx context.Context, workspaceID, runID string, step *domain.AutomationStep, durationMs int64) {
	o.logStep(ctx, workspaceID, &domain.StepExecutionLog{
		RunID:      runID,
		StepID:     step.ID,
		ActionType: step.ActionType,
		Status:     domain.StepStatusSuccess,
		DurationMs: durationMs,
	})
}

// logStep writes one orchestrator-level log entry with the same failure
// policy as the retry executor: duplicates are fine, genuine write failures
// go to the error ledger.
func (o *RunOrchestrator) logStep(ctx context.Context, workspaceID string, entry *domain.StepExecutionLog) {
	err := o.stepLogRepo.Create(context.WithoutCancel(ctx), workspaceID, entry)
	if err == nil || errors.Is(err, domain.ErrDuplicateStepLog) {
		return
	}

	o.logger.WithFields(map[string]interface{}{
		"run_id":  entry.RunID,
		"step_id": entry.StepID,
		"error":   err.Error(),
	}).Error("Failed to write step log, recording in error ledger")

	if ledgerErr := o.stepLogRepo.RecordLedgerError(context.WithoutCancel(ctx), workspaceID, entry.RunID, entry.StepID, err.Error()); ledgerErr != nil {
		o.logger.WithField("run_id", entry.RunID).Error("Error ledger write failed: " + ledgerErr.Error())
	}
}

// orderedSteps returns the definition's steps sorted by their order field
func orderedSteps(automation *domain.Automation) []*domain.AutomationStep {
	steps := make([]*domain.AutomationStep, len(automation.Steps))
	copy(steps, automation.Steps)
	sort.SliceStable(steps, func(a, b int) bool { return steps[a].Order < steps[b].Order })
	return steps
}

// delayDuration reads the time_delay step config. Seconds and minutes are
// both accepted; a missing or invalid value delays one minute.
func delayDuration(config map[string]interface{}) time.Duration {
	if v, ok := toFloat(config["delay_seconds"]); ok && v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	if v, ok := toFloat(config["delay_minutes"]); ok && v > 0 {
		return time.Duration(v * float64(time.Minute))
	}
	return time.Minute
}

// recordID pulls the id field out of a loosely-typed context record
func recordID(record map[string]interface{}) *string {
	if record == nil {
		return nil
	}
	if id, ok := record["id"].(string); ok && id != "" {
		return &id
	}
	return nil
}

// cloneEventContext copies the context so concurrent definitions never share
// mutable record maps. Nested values stay shared; handlers replace whole
// records rather than mutating them in place.
func cloneEventContext(src *domain.EventContext) *domain.EventContext {
	if src == nil {
		return nil
	}
	return &domain.EventContext{
		Lead:        cloneMap(src.Lead),
		Appointment: cloneMap(src.Appointment),
		Payment:     cloneMap(src.Payment),
		Deal:        cloneMap(src.Deal),
		Meta:        cloneMap(src.Meta),
		Now:         src.Now,
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
