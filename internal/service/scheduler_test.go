package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

func TestDelayScheduler_ProcessDueRuns(t *testing.T) {
	t.Run("resumes elapsed runs", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		resumeStep := "step-1"
		due := &domain.AutomationRun{
			ID:            "run-1",
			WorkspaceID:   "ws-1",
			AutomationID:  "auto-1",
			Status:        domain.RunStatusRunning,
			CurrentStepID: &resumeStep,
			ContextSnapshot: &domain.EventContext{
				Lead: map[string]interface{}{"phone": "+15551234567"},
				Now:  time.Now().UTC(),
			},
		}

		f.runRepo.On("GetResumable", mock.Anything, mock.Anything, 100).
			Return([]*domain.AutomationRun{due}, nil).Once()
		f.automationRepo.On("GetByID", mock.Anything, "ws-1", "auto-1").Return(smsAutomation(), nil).Once()
		f.automationRepo.On("IsActive", mock.Anything, "ws-1", "auto-1").Return(true, nil)
		f.stepLogRepo.On("Create", mock.Anything, "ws-1", mock.Anything).Return(nil)
		f.stepLogRepo.On("GetByRunID", mock.Anything, "ws-1", "run-1").Return([]*domain.StepExecutionLog{}, nil)
		f.sender.On("Send", mock.Anything, "ws-1", "sms", "+15551234567", mock.Anything).Return(nil).Once()
		f.runRepo.On("Finalize", mock.Anything, "ws-1", "run-1", domain.RunStatusSuccess).Return(nil).Once()
		f.runRepo.On("IncrementRunStat", mock.Anything, "ws-1", "auto-1", "succeeded").Return(nil)

		s := NewDelayScheduler(f.runRepo, f.orchestrator, time.Minute, 0, logger.NewMockLogger(t))
		s.ProcessDueRuns(context.Background())

		f.sender.AssertExpectations(t)
		f.runRepo.AssertExpectations(t)
	})

	t.Run("fetch failure is logged and the tick ends", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.runRepo.On("GetResumable", mock.Anything, mock.Anything, 100).
			Return(nil, errors.New("db down")).Once()

		s := NewDelayScheduler(f.runRepo, f.orchestrator, time.Minute, 0, logger.NewMockLogger(t))
		s.ProcessDueRuns(context.Background())

		f.runRepo.AssertExpectations(t)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.runRepo.On("GetResumable", mock.Anything, mock.Anything, 100).
			Return([]*domain.AutomationRun{}, nil).Once()

		s := NewDelayScheduler(f.runRepo, f.orchestrator, time.Minute, 0, logger.NewMockLogger(t))
		s.ProcessDueRuns(context.Background())

		f.runRepo.AssertExpectations(t)
	})
}

func TestDelayScheduler_RunStopsOnCancel(t *testing.T) {
	f := newOrchestratorFixture(t)
	s := NewDelayScheduler(f.runRepo, f.orchestrator, time.Hour, 0, logger.NewMockLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
