// -----------------------------------------------------------------------
// Last Modified: Monday, 13th July 2026 4:48:10 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
)

// ExternalHandler serves the /v1 surface for downstream automation: token
// lookup and sync triggers, authenticated by a static API key instead of
// an admin session. Leaving the key unconfigured disables the surface.
type ExternalHandler struct {
	profiles  interfaces.ProfileService
	scheduler interfaces.SchedulerService
	apiKey    string
	logger    arbor.ILogger
}

// NewExternalHandler creates the /v1 API handler
func NewExternalHandler(profileService interfaces.ProfileService, schedulerService interfaces.SchedulerService, apiKey string, logger arbor.ILogger) *ExternalHandler {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &ExternalHandler{
		profiles:  profileService,
		scheduler: schedulerService,
		apiKey:    apiKey,
		logger:    logger,
	}
}

// RequireAPIKey validates the X-Api-Key header, writing the 401 envelope
// on failure. Returns true when the request may proceed.
func (h *ExternalHandler) RequireAPIKey(w http.ResponseWriter, r *http.Request) bool {
	if h.apiKey == "" {
		WriteErr(w, models.NewError(models.ErrorKindUnauthorized, "external API is not enabled"))
		return false
	}
	key := r.Header.Get("X-Api-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
		h.logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Str("path", r.URL.Path).
			Msg("External API key rejected")
		WriteErr(w, models.NewError(models.ErrorKindUnauthorized, "invalid API key"))
		return false
	}
	return true
}

// ListProfilesHandler returns profile summaries.
// GET /v1/profiles
func (h *ExternalHandler) ListProfilesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	summaries, err := h.profiles.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list profiles for external API")
		WriteErr(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"profiles": summaries,
		"count":    len(summaries),
	})
}

// TokenByIDHandler returns the last token for a profile ID.
// GET /v1/profiles/{id}/token
func (h *ExternalHandler) TokenByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

	h.writeToken(w, r, id)
}

// TokenByNameHandler resolves a profile by display name (case
// insensitive) and returns its last token.
// GET /v1/profiles/by-name/{name}/token
func (h *ExternalHandler) TokenByNameHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	name := PathSegment(r, 3)
	if name == "" {
		WriteErr(w, models.NewValidationError("profile name is required"))
		return
	}

	profile, err := h.profiles.GetByName(r.Context(), name)
	if err != nil {
		WriteErr(w, err)
		return
	}

	h.writeToken(w, r, profile.ID)
}

// TokenByEmailHandler resolves a profile by its captured account email
// and returns its last token.
// GET /v1/profiles/by-email/{email}/token
func (h *ExternalHandler) TokenByEmailHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	email := PathSegment(r, 3)
	if email == "" {
		WriteErr(w, models.NewValidationError("profile email is required"))
		return
	}

	profile, err := h.profiles.GetByEmail(r.Context(), email)
	if err != nil {
		WriteErr(w, err)
		return
	}

	h.writeToken(w, r, profile.ID)
}

// SyncProfileHandler queues one profile for an immediate sync.
// POST /v1/profiles/{id}/sync
func (h *ExternalHandler) SyncProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

	if err := h.scheduler.TriggerSync(r.Context(), id); err != nil {
		WriteErr(w, err)
		return
	}

	h.logger.Info().Str("profile_id", id).Msg("External sync trigger accepted")

	WriteSuccess(w, map[string]interface{}{
		"message":    "sync queued",
		"profile_id": id,
	})
}

// SyncAllHandler queues every eligible profile.
// POST /v1/sync-all
func (h *ExternalHandler) SyncAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	acks, err := h.scheduler.SyncAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("External sync-all failed")
		WriteErr(w, err)
		return
	}

	queued := 0
	for _, ack := range acks {
		if ack.Queued {
			queued++
		}
	}

	WriteSuccess(w, map[string]interface{}{
		"results": acks,
		"queued":  queued,
		"total":   len(acks),
	})
}

// writeToken fetches and writes the token response for a resolved ID
func (h *ExternalHandler) writeToken(w http.ResponseWriter, r *http.Request, id string) {
	token, err := h.profiles.Token(r.Context(), id)
	if err != nil {
		WriteErr(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"profile_id": id,
		"token":      token,
	})
}
