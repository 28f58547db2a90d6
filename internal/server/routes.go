// -----------------------------------------------------------------------
// Last Modified: Wednesday, 15th July 2026 8:42:17 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/renovo/internal/handlers"
	"github.com/ternarybob/renovo/internal/models"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Open endpoints
	mux.HandleFunc("/health", s.app.StatusHandler.HealthHandler)

	// WebSocket route (admin session token via ?token= query param)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Admin session endpoints
	mux.HandleFunc("/api/auth/login", s.app.AuthHandler.LoginHandler)
	mux.HandleFunc("/api/auth/logout", s.app.AuthHandler.LogoutHandler)
	mux.HandleFunc("/api/auth/check", s.app.AuthHandler.CheckHandler)

	// Admin API - profiles
	mux.HandleFunc("/api/profiles", s.admin(s.handleProfilesCollection))
	mux.HandleFunc("/api/profiles/", s.admin(s.handleProfileRoutes)) // Handles /api/profiles/{id} and subpaths

	// Admin API - engine
	mux.HandleFunc("/api/sync-all", s.admin(s.app.ProfileHandler.SyncAllHandler))
	mux.HandleFunc("/api/settings", s.admin(s.handleSettingsRoute))
	mux.HandleFunc("/api/status", s.admin(s.app.StatusHandler.GetStatusHandler))
	mux.HandleFunc("/api/shutdown", s.admin(s.ShutdownHandler)) // Graceful shutdown endpoint (dev mode)

	// External API for downstream automation (X-Api-Key)
	mux.HandleFunc("/v1/profiles", s.external(s.app.ExternalHandler.ListProfilesHandler))
	mux.HandleFunc("/v1/profiles/", s.external(s.handleExternalProfileRoutes))
	mux.HandleFunc("/v1/sync-all", s.external(s.app.ExternalHandler.SyncAllHandler))

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)
	mux.HandleFunc("/v1/", s.notFoundHandler)

	return mux
}

// admin wraps a handler with the bearer session guard
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.app.AuthHandler.RequireSession(w, r) {
			return
		}
		next(w, r)
	}
}

// external wraps a handler with the X-Api-Key guard
func (s *Server) external(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.app.ExternalHandler.RequireAPIKey(w, r) {
			return
		}
		next(w, r)
	}
}

// handleProfilesCollection routes /api/profiles (list and create)
func (s *Server) handleProfilesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.ProfileHandler.ListProfilesHandler(w, r)
	case "POST":
		s.app.ProfileHandler.CreateProfileHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProfileRoutes routes /api/profiles/{id} and its subpaths
func (s *Server) handleProfileRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// PUT /api/profiles/{id}/credentials
	if r.Method == "PUT" && strings.HasSuffix(path, "/credentials") {
		s.app.ProfileHandler.UpdateCredentialsHandler(w, r)
		return
	}

	// POST /api/profiles/{id}/sync
	if r.Method == "POST" && strings.HasSuffix(path, "/sync") {
		s.app.ProfileHandler.SyncProfileHandler(w, r)
		return
	}

	// POST /api/profiles/{id}/enable
	if r.Method == "POST" && strings.HasSuffix(path, "/enable") {
		s.app.ProfileHandler.EnableProfileHandler(w, r)
		return
	}

	// POST /api/profiles/{id}/disable
	if r.Method == "POST" && strings.HasSuffix(path, "/disable") {
		s.app.ProfileHandler.DisableProfileHandler(w, r)
		return
	}

	// POST /api/profiles/{id}/check
	if r.Method == "POST" && strings.HasSuffix(path, "/check") {
		s.app.ProfileHandler.CheckProfileHandler(w, r)
		return
	}

	// GET /api/profiles/{id}/token
	if r.Method == "GET" && strings.HasSuffix(path, "/token") {
		s.app.ProfileHandler.GetTokenHandler(w, r)
		return
	}

	// Plain /api/profiles/{id}
	switch r.Method {
	case "GET":
		s.app.ProfileHandler.GetProfileHandler(w, r)
	case "PUT":
		s.app.ProfileHandler.UpdateProfileHandler(w, r)
	case "DELETE":
		s.app.ProfileHandler.DeleteProfileHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSettingsRoute routes /api/settings (read and patch)
func (s *Server) handleSettingsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.SettingsHandler.GetSettingsHandler(w, r)
	case "PUT":
		s.app.SettingsHandler.UpdateSettingsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleExternalProfileRoutes routes /v1/profiles/{id} subpaths and the
// by-name / by-email token lookups
func (s *Server) handleExternalProfileRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /v1/profiles/by-name/{name}/token
	if r.Method == "GET" && strings.Contains(path, "/by-name/") && strings.HasSuffix(path, "/token") {
		s.app.ExternalHandler.TokenByNameHandler(w, r)
		return
	}

	// GET /v1/profiles/by-email/{email}/token
	if r.Method == "GET" && strings.Contains(path, "/by-email/") && strings.HasSuffix(path, "/token") {
		s.app.ExternalHandler.TokenByEmailHandler(w, r)
		return
	}

	// GET /v1/profiles/{id}/token
	if r.Method == "GET" && strings.HasSuffix(path, "/token") {
		s.app.ExternalHandler.TokenByIDHandler(w, r)
		return
	}

	// POST /v1/profiles/{id}/sync
	if r.Method == "POST" && strings.HasSuffix(path, "/sync") {
		s.app.ExternalHandler.SyncProfileHandler(w, r)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}

// notFoundHandler returns the 404 envelope for unmatched API paths
func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, models.ErrorKindNotFound, "no such endpoint")
}
