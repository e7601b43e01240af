package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/gridscout/gridscout/internal/interfaces"
	"github.com/gridscout/gridscout/internal/models"
	"github.com/gridscout/gridscout/internal/services/picklist"
	"github.com/gridscout/gridscout/internal/services/progress"
)

// PicklistHandler exposes picklist generation, progress polling, and
// stored-picklist retrieval over HTTP
type PicklistHandler struct {
	service   *picklist.Service
	picklists interfaces.PicklistStorage
	teams     interfaces.TeamStorage
	logger    arbor.ILogger
}

func NewPicklistHandler(
	service *picklist.Service,
	picklists interfaces.PicklistStorage,
	teams interfaces.TeamStorage,
	logger arbor.ILogger,
) *PicklistHandler {
	return &PicklistHandler{
		service:   service,
		picklists: picklists,
		teams:     teams,
		logger:    logger,
	}
}

// GenerateHandler starts an asynchronous picklist generation.
// POST /api/picklist/generate
func (h *PicklistHandler) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// A request may name an event instead of carrying team data inline
	if len(req.Teams) == 0 && req.EventKey != "" {
		teams, err := h.teams.ListTeams(r.Context(), req.EventKey)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load teams for event: "+err.Error())
			return
		}
		req.Teams = teams
	}

	operationID, err := h.service.StartGeneration(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteStarted(w, operationID)
}

// RefineHandler starts a refinement pass over a stored picklist's
// fallback entries. POST /api/picklist/refine
func (h *PicklistHandler) RefineHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req models.RefineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	operationID, err := h.service.StartRefinement(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteStarted(w, operationID)
}

// ListOperationsHandler returns all tracked operations.
// GET /api/picklist/operations
func (h *PicklistHandler) ListOperationsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	operations := h.service.ListOperations()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"operations": operations,
		"count":      len(operations),
	})
}

// OperationHandler serves one operation's progress or result.
// GET /api/picklist/operations/{id}
// GET /api/picklist/operations/{id}/result
func (h *PicklistHandler) OperationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/picklist/operations/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "operation id required")
		return
	}

	if id, ok := strings.CutSuffix(path, "/result"); ok {
		h.serveResult(w, id)
		return
	}

	op, err := h.service.GetProgress(path)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, op)
}

func (h *PicklistHandler) serveResult(w http.ResponseWriter, operationID string) {
	result, status, err := h.service.GetResult(operationID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if status != models.OperationCompleted {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":  status,
			"message": "operation has not completed",
		})
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// ListPicklistsHandler returns stored picklists, newest first.
// GET /api/picklists
func (h *PicklistHandler) ListPicklistsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit := GetLimitParam(r, 20, 100)
	picklists, err := h.picklists.ListPicklists(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"picklists": picklists,
		"count":     len(picklists),
	})
}

// PicklistHandler serves or deletes one stored picklist.
// GET/DELETE /api/picklists/{id}
func (h *PicklistHandler) PicklistHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/picklists/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "picklist id required")
		return
	}

	switch r.Method {
	case "GET":
		result, err := h.picklists.GetPicklist(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	case "DELETE":
		if err := h.picklists.DeletePicklist(r.Context(), id); err != nil {
			h.writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PicklistHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, picklist.ErrInvalidRequest):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, progress.ErrOperationExists):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, progress.ErrOperationNotFound), errors.Is(err, interfaces.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Picklist request failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
