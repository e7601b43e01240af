package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (progress push)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Picklist generation
	mux.HandleFunc("/api/picklist/generate", s.app.PicklistHandler.GenerateHandler)          // POST - start generation
	mux.HandleFunc("/api/picklist/refine", s.app.PicklistHandler.RefineHandler)              // POST - refine fallback entries
	mux.HandleFunc("/api/picklist/operations", s.app.PicklistHandler.ListOperationsHandler)  // GET - all operations
	mux.HandleFunc("/api/picklist/operations/", s.app.PicklistHandler.OperationHandler)      // GET /{id} and /{id}/result

	// API routes - Stored picklists
	mux.HandleFunc("/api/picklists", s.app.PicklistHandler.ListPicklistsHandler)
	mux.HandleFunc("/api/picklists/", s.app.PicklistHandler.PicklistHandler)

	// API routes - Scouting team records
	mux.HandleFunc("/api/teams", s.app.TeamHandler.TeamsHandler)
	mux.HandleFunc("/api/teams/", s.app.TeamHandler.TeamHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
