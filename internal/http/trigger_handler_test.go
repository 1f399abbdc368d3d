package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

// MockTriggerRunner is a mock of domain.TriggerRunner
type MockTriggerRunner struct {
	mock.Mock
}

func (m *MockTriggerRunner) RunAutomationsForTrigger(ctx context.Context, req *domain.TriggerRunRequest) (*domain.TriggerRunResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TriggerRunResponse), args.Error(1)
}

func setupTriggerTest(t *testing.T) (*MockTriggerRunner, *http.ServeMux) {
	runner := new(MockTriggerRunner)
	handler := NewTriggerHandler(runner, logger.NewMockLogger(t))

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return runner, mux
}

func triggerBody(t *testing.T) []byte {
	body, err := json.Marshal(domain.TriggerRunRequest{
		WorkspaceID: "ws-1",
		TriggerType: domain.TriggerAppointmentBooked,
		EventPayload: map[string]interface{}{
			"appointment": map[string]interface{}{"id": "a1"},
			"meta":        map[string]interface{}{"event_id": "evt-1"},
		},
	})
	require.NoError(t, err)
	return body
}

func TestTriggerHandler_Run(t *testing.T) {
	t.Run("successful run", func(t *testing.T) {
		runner, mux := setupTriggerTest(t)
		runner.On("RunAutomationsForTrigger", mock.Anything, mock.MatchedBy(func(req *domain.TriggerRunRequest) bool {
			return req.WorkspaceID == "ws-1" && req.TriggerType == domain.TriggerAppointmentBooked
		})).Return(&domain.TriggerRunResponse{
			Status:           "ok",
			AutomationIDsRun: []string{"auto-1"},
			StepLogs:         []*domain.StepExecutionLog{},
		}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/triggers.run", bytes.NewReader(triggerBody(t)))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp domain.TriggerRunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, []string{"auto-1"}, resp.AutomationIDsRun)
		runner.AssertExpectations(t)
	})

	t.Run("invalid trigger type", func(t *testing.T) {
		_, mux := setupTriggerTest(t)

		body, _ := json.Marshal(domain.TriggerRunRequest{
			WorkspaceID:  "ws-1",
			TriggerType:  "no_such_trigger",
			EventPayload: map[string]interface{}{"lead": map[string]interface{}{}},
		})
		req := httptest.NewRequest(http.MethodPost, "/api/triggers.run", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("engine failure", func(t *testing.T) {
		runner, mux := setupTriggerTest(t)
		runner.On("RunAutomationsForTrigger", mock.Anything, mock.Anything).
			Return(nil, errors.New("boom")).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/triggers.run", bytes.NewReader(triggerBody(t)))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		_, mux := setupTriggerTest(t)

		req := httptest.NewRequest(http.MethodGet, "/api/triggers.run", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
