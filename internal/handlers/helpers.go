package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/renovo/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes the standard success envelope. The extra fields are
// merged in alongside "success": true.
func WriteSuccess(w http.ResponseWriter, fields map[string]interface{}) error {
	body := map[string]interface{}{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	return WriteJSON(w, http.StatusOK, body)
}

// WriteError writes the standard error envelope with an explicit status.
func WriteError(w http.ResponseWriter, statusCode int, kind models.ErrorKind, message string) error {
	return WriteJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"kind":    string(kind),
			"message": message,
		},
	})
}

// WriteErr classifies err and writes the matching error envelope.
// Unclassified errors surface as internal.
func WriteErr(w http.ResponseWriter, err error) error {
	kind := models.KindOf(err)
	return WriteError(w, StatusForKind(kind), kind, err.Error())
}

// StatusForKind maps an error classification to its HTTP status code.
func StatusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrorKindValidation:
		return http.StatusBadRequest
	case models.ErrorKindUnauthorized:
		return http.StatusUnauthorized
	case models.ErrorKindNotFound:
		return http.StatusNotFound
	case models.ErrorKindConflict, models.ErrorKindSessionExpired:
		return http.StatusConflict
	case models.ErrorKindNetwork, models.ErrorKindUnexpectedState, models.ErrorKindDownstreamRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DecodeBody decodes a JSON request body into dst, rejecting unknown
// fields so typos surface as 400s instead of silent no-ops.
func DecodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return models.NewValidationError("invalid request body: %v", err)
	}
	return nil
}

// PathSegment returns the nth segment of the request path, or "" when the
// path is shorter. Segments are 0-indexed: /api/profiles/{id} has the id
// at index 2.
func PathSegment(r *http.Request, n int) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if n < 0 || n >= len(parts) {
		return ""
	}
	return parts[n]
}

// BearerToken extracts the token from an Authorization: Bearer header,
// returning "" when absent or malformed.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}
