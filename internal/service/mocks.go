package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Runline/runline/internal/domain"
)

// Hand-written testify mocks for the repository and collaborator interfaces
// the service layer depends on. Shared across the package's tests.

// MockAutomationRepository is a mock of domain.AutomationRepository
type MockAutomationRepository struct {
	mock.Mock
}

func (m *MockAutomationRepository) Create(ctx context.Context, workspaceID string, automation *domain.Automation) error {
	args := m.Called(ctx, workspaceID, automation)
	return args.Error(0)
}

func (m *MockAutomationRepository) GetByID(ctx context.Context, workspaceID, id string) (*domain.Automation, error) {
	args := m.Called(ctx, workspaceID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Automation), args.Error(1)
}

func (m *MockAutomationRepository) List(ctx context.Context, workspaceID string, filter domain.AutomationFilter) ([]*domain.Automation, int, error) {
	args := m.Called(ctx, workspaceID, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.Automation), args.Int(1), args.Error(2)
}

func (m *MockAutomationRepository) Update(ctx context.Context, workspaceID string, automation *domain.Automation) error {
	args := m.Called(ctx, workspaceID, automation)
	return args.Error(0)
}

func (m *MockAutomationRepository) Delete(ctx context.Context, workspaceID, id string) error {
	args := m.Called(ctx, workspaceID, id)
	return args.Error(0)
}

func (m *MockAutomationRepository) SetActive(ctx context.Context, workspaceID, id string, active bool) error {
	args := m.Called(ctx, workspaceID, id, active)
	return args.Error(0)
}

func (m *MockAutomationRepository) IsActive(ctx context.Context, workspaceID, id string) (bool, error) {
	args := m.Called(ctx, workspaceID, id)
	return args.Bool(0), args.Error(1)
}

// MockRunRepository is a mock of domain.RunRepository
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) CreateRunning(ctx context.Context, run *domain.AutomationRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunRepository) GetByID(ctx context.Context, workspaceID, id string) (*domain.AutomationRun, error) {
	args := m.Called(ctx, workspaceID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AutomationRun), args.Error(1)
}

func (m *MockRunRepository) List(ctx context.Context, workspaceID string, filter domain.RunFilter) ([]*domain.AutomationRun, int, error) {
	args := m.Called(ctx, workspaceID, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.AutomationRun), args.Int(1), args.Error(2)
}

func (m *MockRunRepository) Finalize(ctx context.Context, workspaceID, id string, status domain.RunStatus) error {
	args := m.Called(ctx, workspaceID, id, status)
	return args.Error(0)
}

func (m *MockRunRepository) Suspend(ctx context.Context, workspaceID, id, stepID string, scheduledAt time.Time, snapshot *domain.EventContext) error {
	args := m.Called(ctx, workspaceID, id, stepID, scheduledAt, snapshot)
	return args.Error(0)
}

func (m *MockRunRepository) GetResumable(ctx context.Context, beforeTime time.Time, limit int) ([]*domain.AutomationRun, error) {
	args := m.Called(ctx, beforeTime, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AutomationRun), args.Error(1)
}

func (m *MockRunRepository) ReclassifyStaleRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRunRepository) IncrementRunStat(ctx context.Context, workspaceID, automationID, statName string) error {
	args := m.Called(ctx, workspaceID, automationID, statName)
	return args.Error(0)
}

// MockStepLogRepository is a mock of domain.StepLogRepository
type MockStepLogRepository struct {
	mock.Mock
}

func (m *MockStepLogRepository) Create(ctx context.Context, workspaceID string, entry *domain.StepExecutionLog) error {
	args := m.Called(ctx, workspaceID, entry)
	return args.Error(0)
}

func (m *MockStepLogRepository) GetByRunID(ctx context.Context, workspaceID, runID string) ([]*domain.StepExecutionLog, error) {
	args := m.Called(ctx, workspaceID, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.StepExecutionLog), args.Error(1)
}

func (m *MockStepLogRepository) RecordLedgerError(ctx context.Context, workspaceID, runID, stepID, message string) error {
	args := m.Called(ctx, workspaceID, runID, stepID, message)
	return args.Error(0)
}

func (m *MockStepLogRepository) CreateGoalEvent(ctx context.Context, workspaceID string, event *domain.GoalEvent) error {
	args := m.Called(ctx, workspaceID, event)
	return args.Error(0)
}

// MockMessageSender is a mock of domain.MessageSender
type MockMessageSender struct {
	mock.Mock
}

func (m *MockMessageSender) Send(ctx context.Context, workspaceID, channel, to, body string) error {
	args := m.Called(ctx, workspaceID, channel, to, body)
	return args.Error(0)
}

// MockDataAccess is a mock of domain.DataAccess
type MockDataAccess struct {
	mock.Mock
}

func (m *MockDataAccess) GetContact(ctx context.Context, workspaceID, contactID string) (map[string]interface{}, error) {
	args := m.Called(ctx, workspaceID, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockDataAccess) CreateContact(ctx context.Context, workspaceID string, fields map[string]interface{}) (map[string]interface{}, error) {
	args := m.Called(ctx, workspaceID, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockDataAccess) UpdateContact(ctx context.Context, workspaceID, contactID string, fields map[string]interface{}) (map[string]interface{}, error) {
	args := m.Called(ctx, workspaceID, contactID, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockDataAccess) UpdateDeal(ctx context.Context, workspaceID, dealID string, fields map[string]interface{}) (map[string]interface{}, error) {
	args := m.Called(ctx, workspaceID, dealID, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

// MockAIClient is a mock of domain.AIClient
type MockAIClient struct {
	mock.Mock
}

func (m *MockAIClient) Complete(ctx context.Context, workspaceID, prompt string) (string, error) {
	args := m.Called(ctx, workspaceID, prompt)
	return args.String(0), args.Error(1)
}
