package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

func validAutomation() *domain.Automation {
	return &domain.Automation{
		ID:       "auto-1",
		Name:     "welcome flow",
		IsActive: true,
		Trigger:  &domain.TriggerConfig{Type: domain.TriggerLeadCreated},
		Steps: []*domain.AutomationStep{
			{ID: "s1", Order: 1, ActionType: domain.ActionSendEmail, Config: map[string]interface{}{"template": "hi"}},
		},
	}
}

func TestAutomationService_Create(t *testing.T) {
	t.Run("assigns an id and persists", func(t *testing.T) {
		repo := new(MockAutomationRepository)
		repo.On("Create", mock.Anything, "ws-1", mock.Anything).Return(nil).Once()

		svc := NewAutomationService(repo, logger.NewMockLogger(t))
		automation := validAutomation()
		automation.ID = ""

		err := svc.Create(context.Background(), "ws-1", automation)

		require.NoError(t, err)
		assert.NotEmpty(t, automation.ID)
		assert.Equal(t, "ws-1", automation.WorkspaceID)
		repo.AssertExpectations(t)
	})

	t.Run("rejects an invalid definition before persisting", func(t *testing.T) {
		repo := new(MockAutomationRepository)
		svc := NewAutomationService(repo, logger.NewMockLogger(t))

		automation := validAutomation()
		automation.Steps = nil

		err := svc.Create(context.Background(), "ws-1", automation)

		assert.Error(t, err)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("wraps repository failures", func(t *testing.T) {
		repo := new(MockAutomationRepository)
		repo.On("Create", mock.Anything, "ws-1", mock.Anything).Return(errors.New("duplicate key")).Once()

		svc := NewAutomationService(repo, logger.NewMockLogger(t))
		err := svc.Create(context.Background(), "ws-1", validAutomation())

		assert.Error(t, err)
	})
}

func TestAutomationService_Update(t *testing.T) {
	repo := new(MockAutomationRepository)
	repo.On("Update", mock.Anything, "ws-1", mock.Anything).Return(nil).Once()

	svc := NewAutomationService(repo, logger.NewMockLogger(t))
	err := svc.Update(context.Background(), "ws-1", validAutomation())

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestAutomationService_ActivateDeactivate(t *testing.T) {
	repo := new(MockAutomationRepository)
	repo.On("SetActive", mock.Anything, "ws-1", "auto-1", true).Return(nil).Once()
	repo.On("SetActive", mock.Anything, "ws-1", "auto-1", false).Return(nil).Once()

	svc := NewAutomationService(repo, logger.NewMockLogger(t))

	require.NoError(t, svc.Activate(context.Background(), "ws-1", "auto-1"))
	require.NoError(t, svc.Deactivate(context.Background(), "ws-1", "auto-1"))
	repo.AssertExpectations(t)
}

func TestAutomationService_GetListDelete(t *testing.T) {
	repo := new(MockAutomationRepository)
	automation := validAutomation()
	repo.On("GetByID", mock.Anything, "ws-1", "auto-1").Return(automation, nil).Once()
	repo.On("List", mock.Anything, "ws-1", mock.Anything).Return([]*domain.Automation{automation}, 1, nil).Once()
	repo.On("Delete", mock.Anything, "ws-1", "auto-1").Return(nil).Once()

	svc := NewAutomationService(repo, logger.NewMockLogger(t))

	got, err := svc.Get(context.Background(), "ws-1", "auto-1")
	require.NoError(t, err)
	assert.Equal(t, automation, got)

	list, total, err := svc.List(context.Background(), "ws-1", domain.AutomationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(context.Background(), "ws-1", "auto-1"))
	repo.AssertExpectations(t)
}
