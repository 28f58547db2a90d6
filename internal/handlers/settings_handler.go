package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
)

// SettingsHandler exposes the runtime sync settings. Reads always return
// the redacted view; the connection token never leaves the server whole.
type SettingsHandler struct {
	settings interfaces.SettingsService
	logger   arbor.ILogger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settingsService interfaces.SettingsService, logger arbor.ILogger) *SettingsHandler {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &SettingsHandler{
		settings: settingsService,
		logger:   logger,
	}
}

// GetSettingsHandler returns the redacted settings view.
// GET /api/settings
func (h *SettingsHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"settings": h.settings.Preview(),
	})
}

// UpdateSettingsHandler applies a partial settings patch. Fields left out
// of the body keep their current values. A changed interval or
// concurrency takes effect through the scheduler without a restart.
// PUT /api/settings
func (h *SettingsHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	var patch models.SettingsPatch
	if err := DecodeBody(r, &patch); err != nil {
		WriteErr(w, err)
		return
	}

	updated, err := h.settings.Update(r.Context(), &patch)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Settings update rejected")
		WriteErr(w, err)
		return
	}

	h.logger.Info().
		Str("downstream_url", updated.DownstreamURL).
		Str("refresh_interval", updated.RefreshInterval.String()).
		Int("max_concurrency", updated.MaxConcurrency).
		Msg("Sync settings updated")

	WriteSuccess(w, map[string]interface{}{
		"settings": h.settings.Preview(),
	})
}
