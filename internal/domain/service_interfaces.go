package domain

import (
	"context"
)

// MessageSender delivers rendered messages over a channel. Implementations
// live outside the engine (SMS/email/voice providers); the engine only knows
// success or failure.
type MessageSender interface {
	Send(ctx context.Context, workspaceID, channel, to, body string) error
}

// DataAccess is the engine's generic read/write view of CRM records.
// Actions and context refreshes go through it; the record schema itself is
// owned elsewhere.
type DataAccess interface {
	GetContact(ctx context.Context, workspaceID, contactID string) (map[string]interface{}, error)
	CreateContact(ctx context.Context, workspaceID string, fields map[string]interface{}) (map[string]interface{}, error)
	UpdateContact(ctx context.Context, workspaceID, contactID string, fields map[string]interface{}) (map[string]interface{}, error)
	UpdateDeal(ctx context.Context, workspaceID, dealID string, fields map[string]interface{}) (map[string]interface{}, error)
}

// AIClient runs a completion against a configured model. Out of engine scope;
// consumed by the ai_completion action handler.
type AIClient interface {
	Complete(ctx context.Context, workspaceID, prompt string) (string, error)
}

// TriggerRunner is the engine's single entry point, invoked by the
// surrounding application whenever a business event occurs.
type TriggerRunner interface {
	RunAutomationsForTrigger(ctx context.Context, req *TriggerRunRequest) (*TriggerRunResponse, error)
}
