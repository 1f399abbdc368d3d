package service

import (
	"context"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

// TriggerRegistry resolves which automation definitions fire for a given
// workspace and trigger type. It is an explicit object injected into the
// orchestrator so tests can run with isolated registries.
type TriggerRegistry struct {
	repo             domain.AutomationRepository
	starterTemplates []*domain.Automation
	logger           logger.Logger
}

// NewTriggerRegistry creates a new trigger registry. starterTemplates are
// workspace-agnostic definitions served when a workspace has none of its own,
// so fresh workspaces see automations working out of the box. May be nil.
func NewTriggerRegistry(repo domain.AutomationRepository, starterTemplates []*domain.Automation, log logger.Logger) *TriggerRegistry {
	return &TriggerRegistry{
		repo:             repo,
		starterTemplates: starterTemplates,
		logger:           log,
	}
}

// Resolve returns the active automations matching the trigger type. A
// repository failure degrades to "no automations for this trigger" with a
// warning rather than failing the event pipeline.
//
// The starter fallback is evaluated per trigger type: a workspace with its
// own automations on other triggers still gets the starter templates for
// triggers it has not covered, and only active definitions shadow a starter.
func (r *TriggerRegistry) Resolve(ctx context.Context, workspaceID string, triggerType domain.TriggerType) []*domain.Automation {
	automations, _, err := r.repo.List(ctx, workspaceID, domain.AutomationFilter{
		TriggerType: triggerType,
		ActiveOnly:  true,
	})
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"workspace_id": workspaceID,
			"trigger_type": string(triggerType),
			"error":        err.Error(),
		}).Warn("Failed to list automations for trigger, treating as none")
		return nil
	}

	if len(automations) > 0 {
		return automations
	}

	return r.starterTemplatesFor(triggerType)
}

// StarterTemplate returns the starter template with the given id, or nil.
// Runs started from a template carry its id as their automation id, and since
// templates are never persisted, a suspended template run resolves its
// definition here instead of the repository.
func (r *TriggerRegistry) StarterTemplate(automationID string) *domain.Automation {
	for _, tpl := range r.starterTemplates {
		if tpl.ID == automationID {
			return tpl
		}
	}
	return nil
}

func (r *TriggerRegistry) starterTemplatesFor(triggerType domain.TriggerType) []*domain.Automation {
	var matched []*domain.Automation
	for _, tpl := range r.starterTemplates {
		if tpl.Trigger.Type == triggerType && tpl.IsActive {
			matched = append(matched, tpl)
		}
	}
	return matched
}
