package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

type capturingMailer struct {
	to      string
	subject string
	body    string
}

func (m *capturingMailer) SendAutomationEmail(to, subject, body string) error {
	m.to = to
	m.subject = subject
	m.body = body
	return nil
}

func TestChannelMessageSenderRoutesEmailThroughMailer(t *testing.T) {
	m := &capturingMailer{}
	sender := newChannelMessageSender(m, logger.NewTestLogger(t))

	err := sender.Send(context.Background(), "ws-1", "email", "lead@example.com", "Hi Jordan")
	require.NoError(t, err)
	assert.Equal(t, "lead@example.com", m.to)
	assert.Equal(t, "Hi Jordan", m.body)
	assert.NotEmpty(t, m.subject)
}

func TestChannelMessageSenderLogsOtherChannels(t *testing.T) {
	m := &capturingMailer{}
	sender := newChannelMessageSender(m, logger.NewTestLogger(t))

	err := sender.Send(context.Background(), "ws-1", "sms", "+15551234567", "Hi Jordan")
	require.NoError(t, err)
	// SMS never reaches the mailer
	assert.Empty(t, m.to)
}

func TestMemoryDataAccessContactLifecycle(t *testing.T) {
	da := newMemoryDataAccess()
	ctx := context.Background()

	created, err := da.CreateContact(ctx, "ws-1", map[string]interface{}{"name": "Jordan"})
	require.NoError(t, err)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	fetched, err := da.GetContact(ctx, "ws-1", id)
	require.NoError(t, err)
	assert.Equal(t, "Jordan", fetched["name"])

	updated, err := da.UpdateContact(ctx, "ws-1", id, map[string]interface{}{"phone": "+15551234567"})
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", updated["phone"])
	assert.Equal(t, "Jordan", updated["name"])
}

func TestMemoryDataAccessIsolatesWorkspaces(t *testing.T) {
	da := newMemoryDataAccess()
	ctx := context.Background()

	created, err := da.CreateContact(ctx, "ws-1", map[string]interface{}{"name": "Jordan"})
	require.NoError(t, err)
	id, _ := created["id"].(string)

	_, err = da.GetContact(ctx, "ws-2", id)
	require.Error(t, err)
	var notFound *domain.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestMemoryDataAccessUpdateDealUpserts(t *testing.T) {
	da := newMemoryDataAccess()
	ctx := context.Background()

	deal, err := da.UpdateDeal(ctx, "ws-1", "deal-1", map[string]interface{}{"stage": "won"})
	require.NoError(t, err)
	assert.Equal(t, "won", deal["stage"])
	assert.Equal(t, "deal-1", deal["id"])

	deal, err = da.UpdateDeal(ctx, "ws-1", "deal-1", map[string]interface{}{"amount": 500.0})
	require.NoError(t, err)
	assert.Equal(t, "won", deal["stage"])
	assert.Equal(t, 500.0, deal["amount"])
}

func TestMemoryDataAccessUpdateMissingContact(t *testing.T) {
	da := newMemoryDataAccess()

	_, err := da.UpdateContact(context.Background(), "ws-1", "nope", map[string]interface{}{"name": "x"})
	require.Error(t, err)
	var notFound *domain.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}
