package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

func dispatcherEventContext() *domain.EventContext {
	return &domain.EventContext{
		Lead: map[string]interface{}{
			"id":    "lead-1",
			"name":  "Jordan",
			"phone": "+15551234567",
			"email": "jordan@example.com",
		},
		Deal: map[string]interface{}{"id": "deal-1", "stage": "proposal"},
	}
}

func TestActionDispatcher_UnknownTypeNoOps(t *testing.T) {
	d := NewActionDispatcher(new(MockMessageSender), new(MockDataAccess), nil, logger.NewMockLogger(t))

	output, err := d.Execute(context.Background(), "ws-1", domain.ActionType("brand_new_thing"), nil, dispatcherEventContext())

	require.NoError(t, err)
	assert.Equal(t, true, output["skipped"])
}

func TestMessageActionHandler(t *testing.T) {
	t.Run("renders the template and sends to the lead phone", func(t *testing.T) {
		sender := new(MockMessageSender)
		sender.On("Send", mock.Anything, "ws-1", "sms", "+15551234567", "Hi Jordan!").Return(nil).Once()

		h := NewMessageActionHandler(domain.ActionSendSMS, sender, logger.NewMockLogger(t))
		output, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{
			"template": "Hi {{ lead.name }}!",
		}, dispatcherEventContext())

		require.NoError(t, err)
		assert.Equal(t, "+15551234567", output["to"])
		sender.AssertExpectations(t)
	})

	t.Run("email uses the lead email field", func(t *testing.T) {
		sender := new(MockMessageSender)
		sender.On("Send", mock.Anything, "ws-1", "email", "jordan@example.com", "hello").Return(nil).Once()

		h := NewMessageActionHandler(domain.ActionSendEmail, sender, logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{"template": "hello"}, dispatcherEventContext())

		require.NoError(t, err)
		sender.AssertExpectations(t)
	})

	t.Run("explicit recipient wins", func(t *testing.T) {
		sender := new(MockMessageSender)
		sender.On("Send", mock.Anything, "ws-1", "sms", "+15550000000", "hello").Return(nil).Once()

		h := NewMessageActionHandler(domain.ActionSendSMS, sender, logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{
			"template": "hello",
			"to":       "+15550000000",
		}, dispatcherEventContext())

		require.NoError(t, err)
		sender.AssertExpectations(t)
	})

	t.Run("missing template fails", func(t *testing.T) {
		h := NewMessageActionHandler(domain.ActionSendSMS, new(MockMessageSender), logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{}, dispatcherEventContext())
		assert.Error(t, err)
	})

	t.Run("no resolvable recipient fails", func(t *testing.T) {
		h := NewMessageActionHandler(domain.ActionSendSMS, new(MockMessageSender), logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{"template": "x"}, &domain.EventContext{})
		assert.Error(t, err)
	})

	t.Run("broken template fails before sending", func(t *testing.T) {
		sender := new(MockMessageSender)
		h := NewMessageActionHandler(domain.ActionSendSMS, sender, logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{
			"template": "Hi {{ lead.name",
		}, dispatcherEventContext())

		assert.Error(t, err)
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWebhookActionHandler(t *testing.T) {
	t.Run("posts the context and captures the response", func(t *testing.T) {
		var gotAuth string
		var gotPayload map[string]interface{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &gotPayload)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"received": true}`))
		}))
		defer srv.Close()

		h := NewWebhookActionHandler(logger.NewMockLogger(t))
		output, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{
			"url":    srv.URL,
			"secret": "whsec_123",
		}, dispatcherEventContext())

		require.NoError(t, err)
		assert.Equal(t, "Bearer whsec_123", gotAuth)
		assert.Equal(t, "ws-1", gotPayload["workspace_id"])
		assert.Equal(t, 200, output["status_code"])
		assert.Equal(t, map[string]interface{}{"received": true}, output["response"])
	})

	t.Run("non-2xx response is an error carrying the status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream broke", http.StatusBadGateway)
		}))
		defer srv.Close()

		h := NewWebhookActionHandler(logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{"url": srv.URL}, dispatcherEventContext())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("invalid url fails validation", func(t *testing.T) {
		h := NewWebhookActionHandler(logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{"url": "not a url"}, dispatcherEventContext())
		assert.Error(t, err)
	})
}

func TestContactActionHandler(t *testing.T) {
	t.Run("create refreshes the context lead", func(t *testing.T) {
		dataAccess := new(MockDataAccess)
		created := map[string]interface{}{"id": "lead-new", "name": "Sam"}
		dataAccess.On("CreateContact", mock.Anything, "ws-1", map[string]interface{}{"name": "Sam"}).
			Return(created, nil).Once()

		eventCtx := dispatcherEventContext()
		h := NewContactActionHandler(domain.ActionCreateContact, dataAccess, logger.NewMockLogger(t))
		output, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{
			"fields": map[string]interface{}{"name": "Sam"},
		}, eventCtx)

		require.NoError(t, err)
		assert.Equal(t, created, output)
		assert.Equal(t, created, eventCtx.Lead)
		dataAccess.AssertExpectations(t)
	})

	t.Run("update resolves the contact id from the lead", func(t *testing.T) {
		dataAccess := new(MockDataAccess)
		dataAccess.On("UpdateContact", mock.Anything, "ws-1", "lead-1", mock.Anything).
			Return(map[string]interface{}{"id": "lead-1", "status": "customer"}, nil).Once()

		h := NewContactActionHandler(domain.ActionUpdateContact, dataAccess, logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{
			"fields": map[string]interface{}{"status": "customer"},
		}, dispatcherEventContext())

		require.NoError(t, err)
		dataAccess.AssertExpectations(t)
	})

	t.Run("update with no resolvable id fails", func(t *testing.T) {
		h := NewContactActionHandler(domain.ActionUpdateContact, new(MockDataAccess), logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{}, &domain.EventContext{})
		assert.Error(t, err)
	})

	t.Run("write failure propagates", func(t *testing.T) {
		dataAccess := new(MockDataAccess)
		dataAccess.On("CreateContact", mock.Anything, "ws-1", mock.Anything).
			Return(nil, errors.New("constraint violation")).Once()

		eventCtx := dispatcherEventContext()
		originalLead := eventCtx.Lead
		h := NewContactActionHandler(domain.ActionCreateContact, dataAccess, logger.NewMockLogger(t))
		_, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{}, eventCtx)

		assert.Error(t, err)
		assert.Equal(t, originalLead, eventCtx.Lead)
	})
}

func TestDealActionHandler(t *testing.T) {
	dataAccess := new(MockDataAccess)
	updated := map[string]interface{}{"id": "deal-1", "stage": "won"}
	dataAccess.On("UpdateDeal", mock.Anything, "ws-1", "deal-1", map[string]interface{}{"stage": "won"}).
		Return(updated, nil).Once()

	eventCtx := dispatcherEventContext()
	h := NewDealActionHandler(dataAccess)
	output, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{
		"fields": map[string]interface{}{"stage": "won"},
	}, eventCtx)

	require.NoError(t, err)
	assert.Equal(t, updated, output)
	assert.Equal(t, updated, eventCtx.Deal)
	dataAccess.AssertExpectations(t)
}

func TestAIActionHandler(t *testing.T) {
	client := new(MockAIClient)
	client.On("Complete", mock.Anything, "ws-1", "Summarize Jordan").Return("summary text", nil).Once()

	h := NewAIActionHandler(client)
	output, err := h.Execute(context.Background(), "ws-1", map[string]interface{}{
		"prompt": "Summarize {{ lead.name }}",
	}, dispatcherEventContext())

	require.NoError(t, err)
	assert.Equal(t, "summary text", output["completion"])
	client.AssertExpectations(t)
}
