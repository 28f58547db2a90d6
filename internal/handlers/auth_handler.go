// -----------------------------------------------------------------------
// Last Modified: Tuesday, 7th July 2026 11:02:49 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/models"
)

// AuthHandler guards the admin API with a shared password exchanged for a
// short-lived bearer token. Sessions live in memory only, so a restart
// logs every operator out. An empty password disables the guard, which is
// only sensible on a loopback deployment.
type AuthHandler struct {
	password string
	ttl      time.Duration
	logger   arbor.ILogger

	mu       sync.Mutex
	sessions map[string]time.Time // token -> expiry
}

// NewAuthHandler creates the admin session guard
func NewAuthHandler(serverConfig *common.ServerConfig, logger arbor.ILogger) *AuthHandler {
	if logger == nil {
		logger = common.GetLogger()
	}
	ttl := serverConfig.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if serverConfig.AdminPassword == "" {
		logger.Warn().Msg("Admin password not configured - admin API accepts unauthenticated requests")
	}
	return &AuthHandler{
		password: serverConfig.AdminPassword,
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]time.Time),
	}
}

// Enabled reports whether the login guard is active
func (h *AuthHandler) Enabled() bool {
	return h.password != ""
}

// LoginHandler exchanges the admin password for a session token.
// POST /api/auth/login
func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if !h.Enabled() {
		WriteSuccess(w, map[string]interface{}{
			"auth_disabled": true,
		})
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := DecodeBody(r, &req); err != nil {
		WriteErr(w, err)
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) != 1 {
		h.logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("Admin login rejected")
		WriteErr(w, models.NewError(models.ErrorKindUnauthorized, "invalid password"))
		return
	}

	token, err := newSessionToken()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to mint session token")
		WriteErr(w, models.NewError(models.ErrorKindInternal, "failed to create session"))
		return
	}

	now := time.Now()
	expires := now.Add(h.ttl)

	h.mu.Lock()
	h.pruneLocked(now)
	h.sessions[token] = expires
	active := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Int("active_sessions", active).
		Msg("Admin login accepted")

	WriteSuccess(w, map[string]interface{}{
		"token":      token,
		"expires_at": expires.Format(time.RFC3339),
	})
}

// LogoutHandler revokes the caller's session token.
// POST /api/auth/logout
func (h *AuthHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	token := BearerToken(r)
	if token != "" {
		h.mu.Lock()
		delete(h.sessions, token)
		h.mu.Unlock()
	}

	WriteSuccess(w, map[string]interface{}{
		"message": "logged out",
	})
}

// CheckHandler reports whether the caller holds a valid session.
// GET /api/auth/check
func (h *AuthHandler) CheckHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"authenticated": h.ValidateToken(BearerToken(r)),
		"auth_disabled": !h.Enabled(),
	})
}

// ValidateToken reports whether token names a live session. Always true
// when the guard is disabled.
func (h *AuthHandler) ValidateToken(token string) bool {
	if !h.Enabled() {
		return true
	}
	if token == "" {
		return false
	}

	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	expires, ok := h.sessions[token]
	if !ok {
		return false
	}
	if expires.Before(now) {
		delete(h.sessions, token)
		return false
	}
	return true
}

// RequireSession validates the bearer token on an admin request, writing
// the 401 envelope on failure. Returns true when the request may proceed.
func (h *AuthHandler) RequireSession(w http.ResponseWriter, r *http.Request) bool {
	if h.ValidateToken(BearerToken(r)) {
		return true
	}
	WriteErr(w, models.NewError(models.ErrorKindUnauthorized, "missing or expired session token"))
	return false
}

// pruneLocked drops expired sessions. Caller holds mu.
func (h *AuthHandler) pruneLocked(now time.Time) {
	for token, expires := range h.sessions {
		if expires.Before(now) {
			delete(h.sessions, token)
		}
	}
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
