package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
	"github.com/Runline/runline/pkg/mailer"
)

const defaultEmailSubject = "You have a new message"

// channelMessageSender routes engine messages to their transports: email goes
// through the mailer, everything else is logged. Real SMS/voice providers are
// injected with WithMessageSender.
type channelMessageSender struct {
	mailer mailer.Mailer
	logger logger.Logger
}

func newChannelMessageSender(m mailer.Mailer, log logger.Logger) *channelMessageSender {
	return &channelMessageSender{mailer: m, logger: log}
}

func (s *channelMessageSender) Send(ctx context.Context, workspaceID, channel, to, body string) error {
	if channel == "email" {
		return s.mailer.SendAutomationEmail(to, defaultEmailSubject, body)
	}

	s.logger.WithField("workspace_id", workspaceID).
		WithField("channel", channel).
		WithField("to", to).
		Info(fmt.Sprintf("Outbound %s message: %s", channel, body))
	return nil
}

// memoryDataAccess is an in-memory CRM record store used when no external CRM
// backend is injected. Suitable for development and demos only; records do not
// survive a restart.
type memoryDataAccess struct {
	mu       sync.RWMutex
	contacts map[string]map[string]map[string]interface{}
	deals    map[string]map[string]map[string]interface{}
}

func newMemoryDataAccess() *memoryDataAccess {
	return &memoryDataAccess{
		contacts: make(map[string]map[string]map[string]interface{}),
		deals:    make(map[string]map[string]map[string]interface{}),
	}
}

func (m *memoryDataAccess) GetContact(ctx context.Context, workspaceID, contactID string) (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.contacts[workspaceID][contactID]
	if !ok {
		return nil, &domain.ErrNotFound{Entity: "contact", ID: contactID}
	}
	return cloneRecord(record), nil
}

func (m *memoryDataAccess) CreateContact(ctx context.Context, workspaceID string, fields map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := cloneRecord(fields)
	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.New().String()
		record["id"] = id
	}

	if m.contacts[workspaceID] == nil {
		m.contacts[workspaceID] = make(map[string]map[string]interface{})
	}
	m.contacts[workspaceID][id] = record
	return cloneRecord(record), nil
}

func (m *memoryDataAccess) UpdateContact(ctx context.Context, workspaceID, contactID string, fields map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.contacts[workspaceID][contactID]
	if !ok {
		return nil, &domain.ErrNotFound{Entity: "contact", ID: contactID}
	}
	for k, v := range fields {
		record[k] = v
	}
	return cloneRecord(record), nil
}

func (m *memoryDataAccess) UpdateDeal(ctx context.Context, workspaceID, dealID string, fields map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deals[workspaceID] == nil {
		m.deals[workspaceID] = make(map[string]map[string]interface{})
	}
	record, ok := m.deals[workspaceID][dealID]
	if !ok {
		record = map[string]interface{}{"id": dealID}
		m.deals[workspaceID][dealID] = record
	}
	for k, v := range fields {
		record[k] = v
	}
	return cloneRecord(record), nil
}

func cloneRecord(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
