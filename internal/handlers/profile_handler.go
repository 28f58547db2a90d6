// -----------------------------------------------------------------------
// Last Modified: Wednesday, 8th July 2026 9:26:31 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
)

// ProfileHandler serves the admin profile surface: CRUD, credential
// re-import, manual sync triggers and the enable/disable switches.
type ProfileHandler struct {
	profiles  interfaces.ProfileService
	scheduler interfaces.SchedulerService
	session   interfaces.SessionService
	logger    arbor.ILogger
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profileService interfaces.ProfileService, schedulerService interfaces.SchedulerService, sessionService interfaces.SessionService, logger arbor.ILogger) *ProfileHandler {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &ProfileHandler{
		profiles:  profileService,
		scheduler: schedulerService,
		session:   sessionService,
		logger:    logger,
	}
}

// ListProfilesHandler returns summaries of all profiles.
// GET /api/profiles
func (h *ProfileHandler) ListProfilesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	summaries, err := h.profiles.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list profiles")
		WriteErr(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"profiles": summaries,
		"count":    len(summaries),
	})
}

// CreateProfileHandler imports a new profile from a cookie blob.
// POST /api/profiles
func (h *ProfileHandler) CreateProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	// Credentials arrive as the raw cookie export array, not base64
	var req struct {
		Name        string              `json:"name"`
		Credentials json.RawMessage     `json:"credentials"`
		Proxy       *models.ProxyConfig `json:"proxy,omitempty"`
		Remark      string              `json:"remark,omitempty"`
	}
	if err := DecodeBody(r, &req); err != nil {
		WriteErr(w, err)
		return
	}

	profile, err := h.profiles.Create(r.Context(), &interfaces.ProfileCreateRequest{
		Name:        req.Name,
		Credentials: []byte(req.Credentials),
		Proxy:       req.Proxy,
		Remark:      req.Remark,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("name", req.Name).Msg("Profile create rejected")
		WriteErr(w, err)
		return
	}

	h.logger.Info().
		Str("profile_id", profile.ID).
		Str("name", profile.Name).
		Msg("Profile created")

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"profile": profile,
	})
}

// GetProfileHandler returns one profile by ID.
// GET /api/profiles/{id}
func (h *ProfileHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

	profile, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		WriteErr(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"profile": profile,
	})
}

// UpdateProfileHandler changes display fields (name, remark, proxy).
// PUT /api/profiles/{id}
func (h *ProfileHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

	var req interfaces.ProfileUpdateRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteErr(w, err)
		return
	}

	profile, err := h.profiles.Update(r.Context(), id, &req)
	if err != nil {
		WriteErr(w, err)
		return
	}

	h.logger.Info().Str("profile_id", id).Msg("Profile updated")

	WriteSuccess(w, map[string]interface{}{
		"profile": profile,
	})
}

// DeleteProfileHandler removes a profile permanently.
// DELETE /api/profiles/{id}
func (h *ProfileHandler) DeleteProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

	if err := h.profiles.Delete(r.Context(), id); err != nil {
		WriteErr(w, err)
		return
	}

	h.logger.Info().Str("profile_id", id).Msg("Profile deleted")

	WriteSuccess(w, map[string]interface{}{
		"message": "profile deleted",
	})
}

// UpdateCredentialsHandler replaces the cookie blob wholesale. An expired
// session comes back to idle with its failure history cleared.
// PUT /api/profiles/{id}/credentials
func (h *ProfileHandler) UpdateCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

	var req struct {
		Credentials json.RawMessage `json:"credentials"`
	}
	if err := DecodeBody(r, &req); err != nil {
		WriteErr(w, err)
		return
	}

	if err := h.profiles.UpdateCredentials(r.Context(), id, []byte(req.Credentials)); err != nil {
		h.logger.Warn().Err(err).Str("profile_id", id).Msg("Credential re-import rejected")
		WriteErr(w, err)
		return
	}

	h.logger.Info().Str("profile_id", id).Msg("Profile credentials updated")

	WriteSuccess(w, map[string]interface{}{
		"message": "credentials updated",
	})
}

// SyncProfileHandler queues one profile for an immediate sync.
// POST /api/profiles/{id}/sync
func (h *ProfileHandler) SyncProfileHandler(w http.ResponseWriter, r *http.Request) {
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

	WriteSuccess(w, map[string]interface{}{
		"message":    "sync queued",
		"profile_id": id,
	})
}

// SyncAllHandler queues every eligible profile. Profiles that cannot be
// claimed are reported per-entry, never as a batch failure.
// POST /api/sync-all
func (h *ProfileHandler) SyncAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	acks, err := h.scheduler.SyncAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Sync-all failed")
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

// EnableProfileHandler returns a disabled profile to scheduling.
// POST /api/profiles/{id}/enable
func (h *ProfileHandler) EnableProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

	if err := h.profiles.Enable(r.Context(), id); err != nil {
		WriteErr(w, err)
		return
	}

	h.logger.Info().Str("profile_id", id).Msg("Profile enabled")

	WriteSuccess(w, map[string]interface{}{
		"message": "profile enabled",
	})
}

// DisableProfileHandler parks a profile so the scheduler skips it.
// POST /api/profiles/{id}/disable
func (h *ProfileHandler) DisableProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

	if err := h.profiles.Disable(r.Context(), id); err != nil {
		WriteErr(w, err)
		return
	}

	h.logger.Info().Str("profile_id", id).Msg("Profile disabled")

	WriteSuccess(w, map[string]interface{}{
		"message": "profile disabled",
	})
}

// CheckProfileHandler probes whether the stored cookies still
// authenticate, without pushing anything downstream.
// POST /api/profiles/{id}/check
func (h *ProfileHandler) CheckProfileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

	profile, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if len(profile.Credentials) == 0 {
		WriteErr(w, models.NewValidationError("profile %s has no credentials to check", id))
		return
	}

	state, err := h.session.CheckSession(r.Context(), profile.Credentials, profile.Proxy)
	if err != nil {
		h.logger.Warn().Err(err).Str("profile_id", id).Msg("Session check failed")
		WriteErr(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"profile_id": id,
		"session":    state,
	})
}

// GetTokenHandler returns the full last token for a profile.
// GET /api/profiles/{id}/token
func (h *ProfileHandler) GetTokenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := PathSegment(r, 2)
	if id == "" {
		WriteErr(w, models.NewValidationError("profile ID is required"))
		return
	}

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
