package http

import (
	"errors"
	"net/http"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/logger"
)

// RunHandler surfaces the run audit trail: the run record itself and its
// step execution logs.
type RunHandler struct {
	runRepo     domain.RunRepository
	stepLogRepo domain.StepLogRepository
	logger      logger.Logger
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(runRepo domain.RunRepository, stepLogRepo domain.StepLogRepository, logger logger.Logger) *RunHandler {
	return &RunHandler{
		runRepo:     runRepo,
		stepLogRepo: stepLogRepo,
		logger:      logger,
	}
}

// RegisterRoutes registers the run routes on the given mux
func (h *RunHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/runs.get", http.HandlerFunc(h.handleGet))
	mux.Handle("/api/runs.logs", http.HandlerFunc(h.handleLogs))
}

func (h *RunHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req domain.GetRunRequest
	if err := req.FromURLParams(r.URL.Query()); err != nil {
		WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), req.WorkspaceID, req.RunID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			WriteJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.WithField("error", err.Error()).Error("Failed to get run")
		WriteJSONError(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run": run,
	})
}

func (h *RunHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req domain.GetRunRequest
	if err := req.FromURLParams(r.URL.Query()); err != nil {
		WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	logs, err := h.stepLogRepo.GetByRunID(r.Context(), req.WorkspaceID, req.RunID)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("Failed to get run logs")
		WriteJSONError(w, "Failed to get run logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs": logs,
	})
}
