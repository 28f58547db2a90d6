package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
)

// StatusHandler reports the engine snapshot and serves the open health
// probe.
type StatusHandler struct {
	scheduler interfaces.SchedulerService
	started   time.Time
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(schedulerService interfaces.SchedulerService, logger arbor.ILogger) *StatusHandler {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &StatusHandler{
		scheduler: schedulerService,
		started:   time.Now(),
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	engine, err := h.scheduler.Status(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build status snapshot")
		WriteErr(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"engine":  engine,
		"version": common.GetVersion(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// HealthHandler handles GET /health. Unauthenticated liveness probe.
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "renovo",
		"version": common.GetVersion(),
	})
}
