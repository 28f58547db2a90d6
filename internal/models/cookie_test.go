package models

import (
	"testing"
	"time"
)

func TestDecodeCredentials(t *testing.T) {
	blob := []byte(`[
		{"name":"__Secure-next-auth.session-token","value":"tok","domain":".labs.google","path":"/","secure":true,"httpOnly":true,"expirationDate":1787000000.123},
		{"name":"NID","value":"nid","domain":".google.com","path":"/"}
	]`)

	cookies, err := DecodeCredentials(blob)
	if err != nil {
		t.Fatalf("failed to decode credentials: %v", err)
	}
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	if cookies[0].Name != "__Secure-next-auth.session-token" || !cookies[0].Secure {
		t.Errorf("first cookie decoded wrong: %+v", cookies[0])
	}
}

func TestDecodeCredentialsRejectsBadBlobs(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"not JSON", []byte("cookie soup")},
		{"wrong shape", []byte(`{"name":"a"}`)},
		{"empty array", []byte(`[]`)},
		{"unnamed cookie", []byte(`[{"value":"v","domain":"example.com"}]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeCredentials(tt.blob); err == nil {
				t.Errorf("expected decode error for %s blob", tt.name)
			}
		})
	}
}

func TestCookieExpiresAt(t *testing.T) {
	// Float export field wins
	c := &SessionCookie{ExpirationDate: 1787000000.75, Expires: 1700000000}
	if got := c.ExpiresAt(); !got.Equal(time.Unix(1787000000, 0)) {
		t.Errorf("expected float expiry to win, got %s", got)
	}

	// Integer fallback
	c = &SessionCookie{Expires: 1700000000}
	if got := c.ExpiresAt(); !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("expected integer expiry, got %s", got)
	}

	// Session cookie has neither
	c = &SessionCookie{}
	if got := c.ExpiresAt(); !got.IsZero() {
		t.Errorf("expected zero time for session cookie, got %s", got)
	}
}
