package http

import (
	"encoding/json"
	"net/http"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

// TriggerHandler exposes the engine's single inbound entry point
type TriggerHandler struct {
	runner domain.TriggerRunner
	logger logger.Logger
}

// NewTriggerHandler creates a new TriggerHandler
func NewTriggerHandler(runner domain.TriggerRunner, logger logger.Logger) *TriggerHandler {
	return &TriggerHandler{
		runner: runner,
		logger: logger,
	}
}

// RegisterRoutes registers the trigger routes on the given mux
func (h *TriggerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/triggers.run", http.HandlerFunc(h.handleRun))
}

func (h *TriggerHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req domain.TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to decode request body")
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.runner.RunAutomationsForTrigger(r.Context(), &req)
	if err != nil {
		// the orchestrator contains step failures itself; an error here
		// means the request never made it into the engine
		h.logger.WithFields(map[string]interface{}{
			"workspace_id": req.WorkspaceID,
			"trigger_type": string(req.TriggerType),
			"error":        err.Error(),
		}).Error("Trigger run failed")
		WriteJSONError(w, "Failed to run automations", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
