package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

// AutomationService implements business logic for automation definitions
type AutomationService struct {
	repo   domain.AutomationRepository
	logger logger.Logger
}

// NewAutomationService creates a new AutomationService
func NewAutomationService(repo domain.AutomationRepository, log logger.Logger) *AutomationService {
	return &AutomationService{
		repo:   repo,
		logger: log,
	}
}

// Create validates and persists a new automation definition
func (s *AutomationService) Create(ctx context.Context, workspaceID string, automation *domain.Automation) error {
	if automation.ID == "" {
		automation.ID = uuid.New().String()
	}
	automation.WorkspaceID = workspaceID

	if err := automation.Validate(); err != nil {
		return fmt.Errorf("invalid automation: %w", err)
	}

	if err := s.repo.Create(ctx, workspaceID, automation); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"workspace_id":  workspaceID,
			"automation_id": automation.ID,
			"error":         err.Error(),
		}).Error("Failed to create automation")
		return fmt.Errorf("failed to create automation: %w", err)
	}

	return nil
}

// Get fetches one automation definition
func (s *AutomationService) Get(ctx context.Context, workspaceID, automationID string) (*domain.Automation, error) {
	automation, err := s.repo.GetByID(ctx, workspaceID, automationID)
	if err != nil {
		return nil, err
	}
	return automation, nil
}

// List returns automations matching the filter plus the total count
func (s *AutomationService) List(ctx context.Context, workspaceID string, filter domain.AutomationFilter) ([]*domain.Automation, int, error) {
	automations, total, err := s.repo.List(ctx, workspaceID, filter)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"workspace_id": workspaceID,
			"error":        err.Error(),
		}).Error("Failed to list automations")
		return nil, 0, fmt.Errorf("failed to list automations: %w", err)
	}
	return automations, total, nil
}

// Update validates and persists changes to an existing definition. In-flight
// runs keep executing the steps they already loaded; only the active flag is
// re-read mid-run.
func (s *AutomationService) Update(ctx context.Context, workspaceID string, automation *domain.Automation) error {
	automation.WorkspaceID = workspaceID

	if err := automation.Validate(); err != nil {
		return fmt.Errorf("invalid automation: %w", err)
	}

	if err := s.repo.Update(ctx, workspaceID, automation); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"workspace_id":  workspaceID,
			"automation_id": automation.ID,
			"error":         err.Error(),
		}).Error("Failed to update automation")
		return err
	}

	return nil
}

// Delete removes an automation definition
func (s *AutomationService) Delete(ctx context.Context, workspaceID, automationID string) error {
	if err := s.repo.Delete(ctx, workspaceID, automationID); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"workspace_id":  workspaceID,
		"automation_id": automationID,
	}).Info("Automation deleted")
	return nil
}

// Activate turns the automation on
func (s *AutomationService) Activate(ctx context.Context, workspaceID, automationID string) error {
	return s.setActive(ctx, workspaceID, automationID, true)
}

// Deactivate turns the automation off. Running runs observe the flip at
// their next cancellation checkpoint.
func (s *AutomationService) Deactivate(ctx context.Context, workspaceID, automationID string) error {
	return s.setActive(ctx, workspaceID, automationID, false)
}

func (s *AutomationService) setActive(ctx context.Context, workspaceID, automationID string, active bool) error {
	if err := s.repo.SetActive(ctx, workspaceID, automationID, active); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"workspace_id":  workspaceID,
		"automation_id": automationID,
		"active":        active,
	}).Info("Automation active flag changed")
	return nil
}
