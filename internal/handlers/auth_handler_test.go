package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/renovo/internal/common"
)

func newAuthHandler(password string, ttl time.Duration) *AuthHandler {
	return NewAuthHandler(&common.ServerConfig{
		AdminPassword: password,
		SessionTTL:    ttl,
	}, nil)
}

func login(t *testing.T, handler *AuthHandler, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := strings.NewReader(`{"password":"` + password + `"}`)
	req := httptest.NewRequest("POST", "/api/auth/login", body)
	rec := httptest.NewRecorder()
	handler.LoginHandler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

func TestAuthHandler_LoginIssuesToken(t *testing.T) {
	handler := newAuthHandler("hunter2", time.Hour)

	rec := login(t, handler, "hunter2")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("Expected a session token")
	}
	if body["expires_at"] == "" {
		t.Error("Expected an expiry timestamp")
	}
	if !handler.ValidateToken(token) {
		t.Error("Freshly minted token must validate")
	}
}

func TestAuthHandler_LoginWrongPassword(t *testing.T) {
	handler := newAuthHandler("hunter2", time.Hour)

	rec := login(t, handler, "letmein")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Status = %d, want 401", rec.Code)
	}

	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]interface{})
	if errObj["kind"] != "unauthorized" {
		t.Errorf("kind = %v", errObj["kind"])
	}
}

func TestAuthHandler_DisabledGuard(t *testing.T) {
	handler := newAuthHandler("", time.Hour)

	if handler.Enabled() {
		t.Error("Empty password must disable the guard")
	}

	rec := login(t, handler, "anything")
	body := decodeBody(t, rec)
	if body["auth_disabled"] != true {
		t.Errorf("Expected auth_disabled, got %v", body)
	}

	// Everything validates when the guard is off
	if !handler.ValidateToken("") {
		t.Error("Disabled guard must accept empty tokens")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/profiles", nil)
	if !handler.RequireSession(rec, req) {
		t.Error("Disabled guard must let requests through")
	}
}

func TestAuthHandler_LogoutRevokesToken(t *testing.T) {
	handler := newAuthHandler("hunter2", time.Hour)

	body := decodeBody(t, login(t, handler, "hunter2"))
	token := body["token"].(string)

	req := httptest.NewRequest("POST", "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.LogoutHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	if handler.ValidateToken(token) {
		t.Error("Token must be dead after logout")
	}
}

func TestAuthHandler_SessionExpiry(t *testing.T) {
	handler := newAuthHandler("hunter2", time.Millisecond)

	body := decodeBody(t, login(t, handler, "hunter2"))
	token := body["token"].(string)

	time.Sleep(10 * time.Millisecond)
	if handler.ValidateToken(token) {
		t.Error("Token must expire after the TTL")
	}
}

func TestAuthHandler_RequireSession(t *testing.T) {
	handler := newAuthHandler("hunter2", time.Hour)

	// No token
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/profiles", nil)
	if handler.RequireSession(rec, req) {
		t.Error("Missing token must be refused")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", rec.Code)
	}

	// Unknown token
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/profiles", nil)
	req.Header.Set("Authorization", "Bearer forged-token")
	if handler.RequireSession(rec, req) {
		t.Error("Forged token must be refused")
	}

	// Real token
	body := decodeBody(t, login(t, handler, "hunter2"))
	token := body["token"].(string)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/profiles", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if !handler.RequireSession(rec, req) {
		t.Error("Valid token must pass")
	}
	if rec.Body.Len() != 0 {
		t.Error("A passing check must not write a body")
	}
}

func TestAuthHandler_CheckHandler(t *testing.T) {
	handler := newAuthHandler("hunter2", time.Hour)

	req := httptest.NewRequest("GET", "/api/auth/check", nil)
	rec := httptest.NewRecorder()
	handler.CheckHandler(rec, req)

	body := decodeBody(t, rec)
	if body["authenticated"] != false {
		t.Error("Anonymous check must report unauthenticated")
	}
	if body["auth_disabled"] != false {
		t.Error("Guard is configured, auth_disabled must be false")
	}

	token := decodeBody(t, login(t, handler, "hunter2"))["token"].(string)
	req = httptest.NewRequest("GET", "/api/auth/check", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.CheckHandler(rec, req)

	if decodeBody(t, rec)["authenticated"] != true {
		t.Error("Check with a live session must report authenticated")
	}
}
