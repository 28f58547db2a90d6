// -----------------------------------------------------------------------
// Session Credentials - exported browser cookie blob
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionCookie matches the export format of browser cookie tools: one
// entry per cookie, expiration as a float epoch ("expirationDate") with an
// integer "expires" fallback.
type SessionCookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	Secure         bool    `json:"secure"`
	HTTPOnly       bool    `json:"httpOnly"`
	SameSite       string  `json:"sameSite,omitempty"`
	ExpirationDate float64 `json:"expirationDate,omitempty"`
	Expires        int64   `json:"expires,omitempty"`
}

// ExpiresAt resolves the two export formats into a single timestamp.
// The zero time means a session cookie.
func (c *SessionCookie) ExpiresAt() time.Time {
	if c.ExpirationDate > 0 {
		return time.Unix(int64(c.ExpirationDate), 0)
	}
	if c.Expires > 0 {
		return time.Unix(c.Expires, 0)
	}
	return time.Time{}
}

// DecodeCredentials parses a credential blob into its cookies. The blob is
// opaque everywhere except here and the browser injection path.
func DecodeCredentials(blob []byte) ([]*SessionCookie, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("credential blob is empty")
	}
	var cookies []*SessionCookie
	if err := json.Unmarshal(blob, &cookies); err != nil {
		return nil, fmt.Errorf("credential blob is not a cookie export: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("credential blob contains no cookies")
	}
	for i, c := range cookies {
		if c.Name == "" {
			return nil, fmt.Errorf("cookie %d has no name", i)
		}
	}
	return cookies, nil
}
