package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TriggerType is the business event kind that can start automation runs
type TriggerType string

const (
	TriggerLeadCreated       TriggerType = "lead_created"
	TriggerLeadUpdated       TriggerType = "lead_updated"
	TriggerAppointmentBooked TriggerType = "appointment_booked"
	TriggerAppointmentStatus TriggerType = "appointment_status_changed"
	TriggerPaymentReceived   TriggerType = "payment_received"
	TriggerDealStageChanged  TriggerType = "deal_stage_changed"
	TriggerFormSubmitted     TriggerType = "form_submitted"
	TriggerManualRun         TriggerType = "manual_run"
)

// ValidTriggerTypes lists all trigger types the engine accepts
var ValidTriggerTypes = []TriggerType{
	TriggerLeadCreated, TriggerLeadUpdated,
	TriggerAppointmentBooked, TriggerAppointmentStatus,
	TriggerPaymentReceived, TriggerDealStageChanged,
	TriggerFormSubmitted, TriggerManualRun,
}

// IsValid checks if the trigger type is valid
func (t TriggerType) IsValid() bool {
	for _, v := range ValidTriggerTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ActionType is the kind of work an automation step performs
type ActionType string

const (
	// Externally-visible actions (rate-limited)
	ActionSendMessage  ActionType = "send_message"
	ActionSendEmail    ActionType = "send_email"
	ActionSendSMS      ActionType = "send_sms"
	ActionWebhook      ActionType = "webhook"
	ActionAdConversion ActionType = "ad_conversion"

	// Internal CRM actions
	ActionCreateContact ActionType = "create_contact"
	ActionUpdateContact ActionType = "update_contact"
	ActionUpdateDeal    ActionType = "update_deal"
	ActionAICompletion  ActionType = "ai_completion"

	// Flow control (handled inline by the orchestrator, never dispatched)
	ActionCondition    ActionType = "condition"
	ActionGoTo         ActionType = "go_to"
	ActionStopWorkflow ActionType = "stop_workflow"
	ActionGoalAchieved ActionType = "goal_achieved"
	ActionTimeDelay    ActionType = "time_delay"
)

// IsFlowControl reports whether the action is handled inline by the
// orchestrator rather than dispatched to a handler.
func (a ActionType) IsFlowControl() bool {
	switch a {
	case ActionCondition, ActionGoTo, ActionStopWorkflow, ActionGoalAchieved, ActionTimeDelay:
		return true
	default:
		return false
	}
}

// IsExternallyVisible reports whether executing the action produces a
// side effect outside the platform. Only these pass the rate limiter gate.
func (a ActionType) IsExternallyVisible() bool {
	switch a {
	case ActionSendMessage, ActionSendEmail, ActionSendSMS, ActionWebhook, ActionAdConversion:
		return true
	default:
		return false
	}
}

// Channel returns the rate-limiter channel for the action type
func (a ActionType) Channel() string {
	switch a {
	case ActionSendSMS, ActionSendMessage:
		return "sms"
	case ActionSendEmail:
		return "email"
	case ActionWebhook:
		return "webhook"
	case ActionAdConversion:
		return "ad_conversion"
	default:
		return string(a)
	}
}

// TriggerConfig defines what events an automation listens for
type TriggerConfig struct {
	Type   TriggerType            `json:"type"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// Validate validates the trigger configuration
func (c *TriggerConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("trigger type is required")
	}
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid trigger type: %s", c.Type)
	}
	return nil
}

// AutomationStep is one action within an automation definition
type AutomationStep struct {
	ID                string                 `json:"id"`
	Order             int                    `json:"order"`
	ActionType        ActionType             `json:"action_type"`
	Config            map[string]interface{} `json:"config"`
	Conditions        []*StepCondition       `json:"conditions,omitempty"`
	ConditionLogic    ConditionLogic         `json:"condition_logic,omitempty"`
	TrueBranchStepID  *string                `json:"true_branch_step_id,omitempty"`
	FalseBranchStepID *string                `json:"false_branch_step_id,omitempty"`
	RetryOverride     *RetryOverride         `json:"retry_override,omitempty"`
}

// RetryOverride lets a step replace the policy table's retry settings
type RetryOverride struct {
	MaxRetries     int `json:"max_retries"`
	InitialDelayMs int `json:"initial_delay_ms"`
}

// Validate validates the automation step
func (s *AutomationStep) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(s.ID) > 36 {
		return fmt.Errorf("id cannot exceed 36 characters")
	}

	if s.ActionType == "" {
		return fmt.Errorf("action_type is required")
	}

	if s.Config == nil {
		return fmt.Errorf("config is required")
	}

	if len(s.Conditions) > 0 {
		if s.ConditionLogic != "" && !s.ConditionLogic.IsValid() {
			return fmt.Errorf("invalid condition logic: %s", s.ConditionLogic)
		}
		for i, cond := range s.Conditions {
			if cond == nil {
				return fmt.Errorf("condition at index %d is nil", i)
			}
			if err := cond.Validate(); err != nil {
				return fmt.Errorf("invalid condition %d: %w", i, err)
			}
		}
	}

	if s.RetryOverride != nil {
		if s.RetryOverride.MaxRetries < 0 {
			return fmt.Errorf("retry override max_retries cannot be negative")
		}
		if s.RetryOverride.InitialDelayMs < 0 {
			return fmt.Errorf("retry override initial_delay_ms cannot be negative")
		}
	}

	return nil
}

// Automation is a tenant-configured rule: on trigger X, run steps Y.
// Definitions are immutable per version to the engine; only IsActive may flip
// while runs are in flight, and it is observed as a cancellation signal.
type Automation struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	Name        string            `json:"name"`
	IsActive    bool              `json:"is_active"`
	Trigger     *TriggerConfig    `json:"trigger"`
	Steps       []*AutomationStep `json:"steps"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// GetStepByID finds a step in the automation's Steps array by ID
func (a *Automation) GetStepByID(stepID string) *AutomationStep {
	for _, s := range a.Steps {
		if s.ID == stepID {
			return s
		}
	}
	return nil
}

// Validate validates the automation
func (a *Automation) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(a.ID) > 36 {
		return fmt.Errorf("id cannot exceed 36 characters")
	}

	if a.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}

	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(a.Name) > 255 {
		return fmt.Errorf("name cannot exceed 255 characters")
	}

	if a.Trigger == nil {
		return fmt.Errorf("trigger configuration is required")
	}
	if err := a.Trigger.Validate(); err != nil {
		return err
	}

	if len(a.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	seen := make(map[string]bool, len(a.Steps))
	for i, step := range a.Steps {
		if step == nil {
			return fmt.Errorf("step at index %d is nil", i)
		}
		if err := step.Validate(); err != nil {
			return fmt.Errorf("invalid step %s: %w", step.ID, err)
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id: %s", step.ID)
		}
		seen[step.ID] = true
	}

	// Branch and go_to targets must reference existing steps. A bad target that
	// slips past this check is handled at execution time (step logged as error,
	// run continues) rather than crashing the run.
	for _, step := range a.Steps {
		for _, target := range []*string{step.TrueBranchStepID, step.FalseBranchStepID} {
			if target != nil && *target != "" && !seen[*target] {
				return fmt.Errorf("step %s references unknown branch target %s", step.ID, *target)
			}
		}
		if step.ActionType == ActionGoTo {
			if target, ok := step.Config["target_step_id"].(string); ok && target != "" && !seen[target] {
				return fmt.Errorf("step %s references unknown go_to target %s", step.ID, target)
			}
		}
	}

	return nil
}

// AutomationKey is a stable identifier for the definition used in correlation
// keys. Kept separate from ID so renames/cloning do not break idempotency.
func (a *Automation) AutomationKey() string {
	return strings.ToLower(a.ID)
}

// AutomationFilter defines filtering options for listing automations
type AutomationFilter struct {
	TriggerType TriggerType
	ActiveOnly  bool
	Limit       int
	Offset      int
}

// AutomationRepository defines the interface for automation definition persistence
type AutomationRepository interface {
	Create(ctx context.Context, workspaceID string, automation *Automation) error
	GetByID(ctx context.Context, workspaceID, id string) (*Automation, error)
	List(ctx context.Context, workspaceID string, filter AutomationFilter) ([]*Automation, int, error)
	Update(ctx context.Context, workspaceID string, automation *Automation) error
	Delete(ctx context.Context, workspaceID, id string) error
	SetActive(ctx context.Context, workspaceID, id string, active bool) error

	// IsActive is the cancellation probe: a cheap flag read the orchestrator
	// polls before dispatching each step.
	IsActive(ctx context.Context, workspaceID, id string) (bool, error)
}

// AutomationService defines the interface for automation definition business logic
type AutomationService interface {
	Create(ctx context.Context, workspaceID string, automation *Automation) error
	Get(ctx context.Context, workspaceID, automationID string) (*Automation, error)
	List(ctx context.Context, workspaceID string, filter AutomationFilter) ([]*Automation, int, error)
	Update(ctx context.Context, workspaceID string, automation *Automation) error
	Delete(ctx context.Context, workspaceID, automationID string) error
	Activate(ctx context.Context, workspaceID, automationID string) error
	Deactivate(ctx context.Context, workspaceID, automationID string) error
}

// HTTP Request/Response types for the automation API

// CreateAutomationRequest represents the request to create an automation
type CreateAutomationRequest struct {
	WorkspaceID string      `json:"workspace_id"`
	Automation  *Automation `json:"automation"`
}

// Validate validates the create automation request
func (r *CreateAutomationRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if r.Automation == nil {
		return fmt.Errorf("automation is required")
	}
	if r.Automation.WorkspaceID == "" {
		r.Automation.WorkspaceID = r.WorkspaceID
	}
	return r.Automation.Validate()
}

// UpdateAutomationRequest represents the request to update an automation
type UpdateAutomationRequest struct {
	WorkspaceID string      `json:"workspace_id"`
	Automation  *Automation `json:"automation"`
}

// Validate validates the update automation request
func (r *UpdateAutomationRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if r.Automation == nil {
		return fmt.Errorf("automation is required")
	}
	if r.Automation.ID == "" {
		return fmt.Errorf("automation id is required")
	}
	if r.Automation.WorkspaceID == "" {
		r.Automation.WorkspaceID = r.WorkspaceID
	}
	return r.Automation.Validate()
}

// GetAutomationRequest represents the request to get an automation
type GetAutomationRequest struct {
	WorkspaceID  string `json:"workspace_id"`
	AutomationID string `json:"automation_id"`
}

// FromURLParams parses the request from URL parameters
func (r *GetAutomationRequest) FromURLParams(params map[string][]string) error {
	if v, ok := params["workspace_id"]; ok && len(v) > 0 {
		r.WorkspaceID = v[0]
	}
	if v, ok := params["automation_id"]; ok && len(v) > 0 {
		r.AutomationID = v[0]
	}
	return r.Validate()
}

// Validate validates the get automation request
func (r *GetAutomationRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if r.AutomationID == "" {
		return fmt.Errorf("automation_id is required")
	}
	return nil
}

// ListAutomationsRequest represents the request to list automations
type ListAutomationsRequest struct {
	WorkspaceID string      `json:"workspace_id"`
	TriggerType TriggerType `json:"trigger_type,omitempty"`
	ActiveOnly  bool        `json:"active_only,omitempty"`
	Limit       int         `json:"limit,omitempty"`
	Offset      int         `json:"offset,omitempty"`
}

// FromURLParams parses the request from URL parameters
func (r *ListAutomationsRequest) FromURLParams(params map[string][]string) error {
	if v, ok := params["workspace_id"]; ok && len(v) > 0 {
		r.WorkspaceID = v[0]
	}
	if v, ok := params["trigger_type"]; ok && len(v) > 0 {
		r.TriggerType = TriggerType(v[0])
	}
	if v, ok := params["active_only"]; ok && len(v) > 0 {
		r.ActiveOnly = v[0] == "true"
	}
	if v, ok := params["limit"]; ok && len(v) > 0 {
		var limit int
		_, _ = fmt.Sscanf(v[0], "%d", &limit)
		r.Limit = limit
	}
	if v, ok := params["offset"]; ok && len(v) > 0 {
		var offset int
		_, _ = fmt.Sscanf(v[0], "%d", &offset)
		r.Offset = offset
	}
	return r.Validate()
}

// Validate validates the list automations request
func (r *ListAutomationsRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	return nil
}

// ToFilter converts the request to an AutomationFilter
func (r *ListAutomationsRequest) ToFilter() AutomationFilter {
	return AutomationFilter{
		TriggerType: r.TriggerType,
		ActiveOnly:  r.ActiveOnly,
		Limit:       r.Limit,
		Offset:      r.Offset,
	}
}

// DeleteAutomationRequest represents the request to delete an automation
type DeleteAutomationRequest struct {
	WorkspaceID  string `json:"workspace_id"`
	AutomationID string `json:"automation_id"`
}

// Validate validates the delete automation request
func (r *DeleteAutomationRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if r.AutomationID == "" {
		return fmt.Errorf("automation_id is required")
	}
	return nil
}

// SetAutomationActiveRequest represents the request to activate or deactivate an automation
type SetAutomationActiveRequest struct {
	WorkspaceID  string `json:"workspace_id"`
	AutomationID string `json:"automation_id"`
}

// Validate validates the request
func (r *SetAutomationActiveRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if r.AutomationID == "" {
		return fmt.Errorf("automation_id is required")
	}
	return nil
}
