package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/osteele/liquid"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

// ActionHandler executes one action family against the event context.
// Handlers may mutate the context (a create_contact refreshes Lead) so later
// steps see up-to-date data.
type ActionHandler interface {
	ActionType() domain.ActionType
	Execute(ctx context.Context, workspaceID string, config map[string]interface{}, eventCtx *domain.EventContext) (map[string]interface{}, error)
}

// ActionDispatcher maps an action type to its concrete handler. New action
// types are added by registering a handler; the orchestrator's loop never
// changes. An unknown action type logs and no-ops instead of crashing the run.
type ActionDispatcher struct {
	handlers map[domain.ActionType]ActionHandler
	logger   logger.Logger
}

// NewActionDispatcher creates a dispatcher with the built-in handlers
func NewActionDispatcher(
	sender domain.MessageSender,
	dataAccess domain.DataAccess,
	aiClient domain.AIClient,
	log logger.Logger,
) *ActionDispatcher {
	d := &ActionDispatcher{
		handlers: make(map[domain.ActionType]ActionHandler),
		logger:   log,
	}

	for _, channel := range []domain.ActionType{domain.ActionSendMessage, domain.ActionSendEmail, domain.ActionSendSMS} {
		d.Register(NewMessageActionHandler(channel, sender, log))
	}
	d.Register(NewWebhookActionHandler(log))
	d.Register(NewContactActionHandler(domain.ActionCreateContact, dataAccess, log))
	d.Register(NewContactActionHandler(domain.ActionUpdateContact, dataAccess, log))
	d.Register(NewDealActionHandler(dataAccess))
	if aiClient != nil {
		d.Register(NewAIActionHandler(aiClient))
	}

	return d
}

// Register adds or replaces the handler for an action type
func (d *ActionDispatcher) Register(handler ActionHandler) {
	d.handlers[handler.ActionType()] = handler
}

// Execute dispatches the action to its handler
func (d *ActionDispatcher) Execute(ctx context.Context, workspaceID string, actionType domain.ActionType, config map[string]interface{}, eventCtx *domain.EventContext) (map[string]interface{}, error) {
	handler, ok := d.handlers[actionType]
	if !ok {
		d.logger.WithField("action_type", string(actionType)).Warn("No handler registered for action type, skipping")
		return map[string]interface{}{"skipped": true, "reason": "unknown_action_type"}, nil
	}
	return handler.Execute(ctx, workspaceID, config, eventCtx)
}

// renderTemplate resolves a liquid template against the event context
func renderTemplate(template string, eventCtx *domain.EventContext) (string, error) {
	if template == "" {
		return "", nil
	}

	bindings := map[string]interface{}{
		"lead":        eventCtx.Lead,
		"appointment": eventCtx.Appointment,
		"payment":     eventCtx.Payment,
		"deal":        eventCtx.Deal,
		"meta":        eventCtx.Meta,
		"now":         eventCtx.Now,
	}

	engine := liquid.NewEngine()
	rendered, err := engine.ParseAndRenderString(template, bindings)
	if err != nil {
		return "", fmt.Errorf("template rendering failed: %w", err)
	}
	return rendered, nil
}

// MessageActionHandler sends a rendered message through the injected sender
type MessageActionHandler struct {
	actionType domain.ActionType
	sender     domain.MessageSender
	logger     logger.Logger
}

// NewMessageActionHandler creates a message handler for one messaging action type
func NewMessageActionHandler(actionType domain.ActionType, sender domain.MessageSender, log logger.Logger) *MessageActionHandler {
	return &MessageActionHandler{actionType: actionType, sender: sender, logger: log}
}

// ActionType returns the action type this handler serves
func (h *MessageActionHandler) ActionType() domain.ActionType {
	return h.actionType
}

// Execute renders the template and sends the message
func (h *MessageActionHandler) Execute(ctx context.Context, workspaceID string, config map[string]interface{}, eventCtx *domain.EventContext) (map[string]interface{}, error) {
	template, _ := config["template"].(string)
	if template == "" {
		return nil, domain.NewValidationError("message template is required")
	}

	body, err := renderTemplate(template, eventCtx)
	if err != nil {
		return nil, err
	}

	to := resolveRecipient(h.actionType, config, eventCtx)
	if to == "" {
		return nil, domain.NewValidationError("no recipient resolvable for message")
	}

	if err := h.sender.Send(ctx, workspaceID, h.actionType.Channel(), to, body); err != nil {
		return nil, err
	}

	return map[string]interface{}{"to": to, "channel": h.actionType.Channel()}, nil
}

// resolveRecipient picks the destination from config or the lead record
func resolveRecipient(actionType domain.ActionType, config map[string]interface{}, eventCtx *domain.EventContext) string {
	if to, ok := config["to"].(string); ok && to != "" {
		return to
	}
	if eventCtx.Lead == nil {
		return ""
	}

	field := "phone"
	if actionType == domain.ActionSendEmail {
		field = "email"
	}
	if v, ok := eventCtx.Lead[field].(string); ok {
		return v
	}
	return ""
}

// WebhookActionHandler POSTs the event context to a configured URL
type WebhookActionHandler struct {
	httpClient *http.Client
	logger     logger.Logger
}

// NewWebhookActionHandler creates a new webhook handler
func NewWebhookActionHandler(log logger.Logger) *WebhookActionHandler {
	return &WebhookActionHandler{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
	}
}

// ActionType returns the action type this handler serves
func (h *WebhookActionHandler) ActionType() domain.ActionType {
	return domain.ActionWebhook
}

// Execute POSTs the event context to the configured URL. 4xx responses are
// permanent failures, 5xx are transient and feed the retry policy.
func (h *WebhookActionHandler) Execute(ctx context.Context, workspaceID string, config map[string]interface{}, eventCtx *domain.EventContext) (map[string]interface{}, error) {
	url, _ := config["url"].(string)
	if !govalidator.IsURL(url) {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid webhook url: %q", url))
	}

	payload := map[string]interface{}{
		"workspace_id": workspaceID,
		"lead":         eventCtx.Lead,
		"appointment":  eventCtx.Appointment,
		"payment":      eventCtx.Payment,
		"deal":         eventCtx.Deal,
		"meta":         eventCtx.Meta,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret, ok := config["secret"].(string); ok && secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	// Limit response bodies so a misbehaving endpoint can't balloon memory
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("webhook returned status code: %d %s", resp.StatusCode, string(bodyBytes))
	}

	var responseData map[string]interface{}
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &responseData); err != nil {
			responseData = map[string]interface{}{"raw": string(bodyBytes)}
		}
	}

	return map[string]interface{}{"status_code": resp.StatusCode, "response": responseData}, nil
}

// ContactActionHandler creates or updates a contact through the data access layer
type ContactActionHandler struct {
	actionType domain.ActionType
	dataAccess domain.DataAccess
	logger     logger.Logger
}

// NewContactActionHandler creates a contact handler for create or update
func NewContactActionHandler(actionType domain.ActionType, dataAccess domain.DataAccess, log logger.Logger) *ContactActionHandler {
	return &ContactActionHandler{actionType: actionType, dataAccess: dataAccess, logger: log}
}

// ActionType returns the action type this handler serves
func (h *ContactActionHandler) ActionType() domain.ActionType {
	return h.actionType
}

// Execute performs the CRM write and refreshes the context's lead with the
// resulting row. A refresh that yields nothing is logged, never fatal.
func (h *ContactActionHandler) Execute(ctx context.Context, workspaceID string, config map[string]interface{}, eventCtx *domain.EventContext) (map[string]interface{}, error) {
	fields, _ := config["fields"].(map[string]interface{})
	if fields == nil {
		fields = map[string]interface{}{}
	}

	var row map[string]interface{}
	var err error

	switch h.actionType {
	case domain.ActionCreateContact:
		row, err = h.dataAccess.CreateContact(ctx, workspaceID, fields)
	case domain.ActionUpdateContact:
		contactID := resolveEntityID(config, eventCtx.Lead, "contact_id")
		if contactID == "" {
			return nil, domain.NewValidationError("no contact id resolvable for update")
		}
		row, err = h.dataAccess.UpdateContact(ctx, workspaceID, contactID, fields)
	}
	if err != nil {
		return nil, err
	}

	if row != nil {
		eventCtx.Lead = row
	} else {
		h.logger.WithField("action_type", string(h.actionType)).Warn("Contact refresh returned no row, context not updated")
	}

	return row, nil
}

// DealActionHandler updates a deal through the data access layer
type DealActionHandler struct {
	dataAccess domain.DataAccess
}

// NewDealActionHandler creates a new deal handler
func NewDealActionHandler(dataAccess domain.DataAccess) *DealActionHandler {
	return &DealActionHandler{dataAccess: dataAccess}
}

// ActionType returns the action type this handler serves
func (h *DealActionHandler) ActionType() domain.ActionType {
	return domain.ActionUpdateDeal
}

// Execute updates the deal and refreshes the context
func (h *DealActionHandler) Execute(ctx context.Context, workspaceID string, config map[string]interface{}, eventCtx *domain.EventContext) (map[string]interface{}, error) {
	dealID := resolveEntityID(config, eventCtx.Deal, "deal_id")
	if dealID == "" {
		return nil, domain.NewValidationError("no deal id resolvable for update")
	}

	fields, _ := config["fields"].(map[string]interface{})
	if fields == nil {
		fields = map[string]interface{}{}
	}

	row, err := h.dataAccess.UpdateDeal(ctx, workspaceID, dealID, fields)
	if err != nil {
		return nil, err
	}

	if row != nil {
		eventCtx.Deal = row
	}
	return row, nil
}

// AIActionHandler runs a completion through the injected AI client
type AIActionHandler struct {
	client domain.AIClient
}

// NewAIActionHandler creates a new AI handler
func NewAIActionHandler(client domain.AIClient) *AIActionHandler {
	return &AIActionHandler{client: client}
}

// ActionType returns the action type this handler serves
func (h *AIActionHandler) ActionType() domain.ActionType {
	return domain.ActionAICompletion
}

// Execute renders the prompt template and runs the completion
func (h *AIActionHandler) Execute(ctx context.Context, workspaceID string, config map[string]interface{}, eventCtx *domain.EventContext) (map[string]interface{}, error) {
	promptTemplate, _ := config["prompt"].(string)
	if promptTemplate == "" {
		return nil, domain.NewValidationError("prompt is required")
	}

	prompt, err := renderTemplate(promptTemplate, eventCtx)
	if err != nil {
		return nil, err
	}

	completion, err := h.client.Complete(ctx, workspaceID, prompt)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"completion": completion}, nil
}

// resolveEntityID picks an entity id from step config, falling back to the
// context record's own id
func resolveEntityID(config map[string]interface{}, record map[string]interface{}, configKey string) string {
	if id, ok := config[configKey].(string); ok && id != "" {
		return id
	}
	if record != nil {
		if id, ok := record["id"].(string); ok {
			return id
		}
	}
	return ""
}
