package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/gridscout/gridscout/internal/interfaces"
	"github.com/gridscout/gridscout/internal/models"
)

// TeamHandler manages scouting team records over HTTP
type TeamHandler struct {
	teams  interfaces.TeamStorage
	logger arbor.ILogger
}

func NewTeamHandler(teams interfaces.TeamStorage, logger arbor.ILogger) *TeamHandler {
	return &TeamHandler{teams: teams, logger: logger}
}

// TeamsHandler lists or bulk-imports team records.
// GET /api/teams?event_key=...
// POST /api/teams
func (h *TeamHandler) TeamsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		h.listTeams(w, r)
	case "POST":
		h.importTeams(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TeamHandler) listTeams(w http.ResponseWriter, r *http.Request) {
	eventKey := r.URL.Query().Get("event_key")
	teams, err := h.teams.ListTeams(r.Context(), eventKey)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"teams": teams,
		"count": len(teams),
	})
}

func (h *TeamHandler) importTeams(w http.ResponseWriter, r *http.Request) {
	var teams []models.TeamRecord
	if err := json.NewDecoder(r.Body).Decode(&teams); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(teams) == 0 {
		WriteError(w, http.StatusBadRequest, "no teams provided")
		return
	}
	for _, t := range teams {
		if t.TeamNumber <= 0 {
			WriteError(w, http.StatusBadRequest, "team numbers must be positive")
			return
		}
	}

	if err := h.teams.SaveTeams(r.Context(), teams); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info().Int("count", len(teams)).Msg("Imported team records")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "imported",
		"imported": len(teams),
	})
}

// TeamHandler serves, updates, or deletes one team record.
// GET/PUT/DELETE /api/teams/{number}
func (h *TeamHandler) TeamHandler(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/teams/")
	teamNumber, err := strconv.Atoi(raw)
	if err != nil || teamNumber <= 0 {
		WriteError(w, http.StatusBadRequest, "invalid team number")
		return
	}

	switch r.Method {
	case "GET":
		team, err := h.teams.GetTeam(r.Context(), teamNumber)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				WriteError(w, http.StatusNotFound, err.Error())
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, team)

	case "PUT":
		var team models.TeamRecord
		if err := json.NewDecoder(r.Body).Decode(&team); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		team.TeamNumber = teamNumber
		if err := h.teams.SaveTeam(r.Context(), &team); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, team)

	case "DELETE":
		if err := h.teams.DeleteTeam(r.Context(), teamNumber); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				WriteError(w, http.StatusNotFound, err.Error())
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "team_number": teamNumber})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
