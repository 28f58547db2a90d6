// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th April 2026 9:12:44 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"strings"
	"time"
)

// ProfileStatus represents the lifecycle state of a session profile
type ProfileStatus string

const (
	ProfileStatusIdle           ProfileStatus = "idle"            // Eligible for scheduling
	ProfileStatusQueued         ProfileStatus = "queued"          // Claimed, waiting for a worker slot
	ProfileStatusRunning        ProfileStatus = "running"         // Sync in flight
	ProfileStatusBackoff        ProfileStatus = "backoff"         // Transient failure, waiting out the delay
	ProfileStatusDisabled       ProfileStatus = "disabled"        // Excluded from scheduling by an operator
	ProfileStatusSessionExpired ProfileStatus = "session_expired" // Credentials rejected, needs re-import
)

// ValidProfileStatus reports whether s is a known status value
func ValidProfileStatus(s ProfileStatus) bool {
	switch s {
	case ProfileStatusIdle, ProfileStatusQueued, ProfileStatusRunning,
		ProfileStatusBackoff, ProfileStatusDisabled, ProfileStatusSessionExpired:
		return true
	}
	return false
}

// Profile represents one managed account: its imported session cookies and
// the bookkeeping for the token sync lifecycle.
//
// Status is never assigned directly outside the storage layer - every
// transition goes through ProfileStorage.CompareAndSetStatus (or the
// explicit admin operations that storage exposes).
type Profile struct {
	ID     string        `json:"id" badgerhold:"key"`
	Name   string        `json:"name"`
	Email  string        `json:"email,omitempty"`
	Status ProfileStatus `json:"status" badgerhold:"index"`

	// NameKey is the lowercased name, kept for the case-insensitive
	// uniqueness check and by-name lookup.
	NameKey string `json:"-" badgerhold:"index"`

	// Credentials is the imported cookie blob (JSON array of exported
	// browser cookies). Replaced wholesale on re-import, never merged.
	Credentials []byte `json:"-"`

	Proxy *ProxyConfig `json:"proxy,omitempty"`

	LastToken   string    `json:"-"`
	LastTokenAt time.Time `json:"last_token_at,omitempty"`

	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`

	// FailureCount counts consecutive transient failures and resets on
	// success. BackoffUntil is computed from it at the running->backoff
	// transition.
	FailureCount int       `json:"failure_count"`
	BackoffUntil time.Time `json:"backoff_until,omitempty"`

	LastError      *SyncError `json:"last_error,omitempty"`
	LastSyncResult string     `json:"last_sync_result,omitempty"`

	SyncCount  int    `json:"sync_count"`
	ErrorCount int    `json:"error_count"`
	Remark     string `json:"remark,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncError is the classified failure recorded on a profile for operator
// visibility.
type SyncError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// NameKey normalizes a display name for case-insensitive lookup
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewProfile creates a profile in the idle state. ID assignment is left to
// the caller (common.NewProfileID) so tests can use fixed IDs.
func NewProfile(id, name string, credentials []byte) *Profile {
	now := time.Now()
	return &Profile{
		ID:          id,
		Name:        name,
		NameKey:     NameKey(name),
		Status:      ProfileStatusIdle,
		Credentials: credentials,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks structural invariants before persistence
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile ID is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Name) > 100 {
		return fmt.Errorf("profile name exceeds 100 characters")
	}
	if !ValidProfileStatus(p.Status) {
		return fmt.Errorf("invalid profile status: %s", p.Status)
	}
	if p.Proxy != nil {
		if err := p.Proxy.Validate(); err != nil {
			return fmt.Errorf("invalid proxy config: %w", err)
		}
	}
	return nil
}

// SetName updates the display name and its lookup key together
func (p *Profile) SetName(name string) {
	p.Name = name
	p.NameKey = NameKey(name)
}

// Eligible reports whether the profile can be claimed for a sync at the
// given instant: idle, or in backoff with the delay elapsed.
func (p *Profile) Eligible(now time.Time) bool {
	switch p.Status {
	case ProfileStatusIdle:
		return true
	case ProfileStatusBackoff:
		return !p.BackoffUntil.After(now)
	}
	return false
}

// RecordSuccess applies the bookkeeping for a completed sync. Called inside
// a storage update; the running->idle transition itself is the caller's CAS.
func (p *Profile) RecordSuccess(token, email string, at time.Time) {
	p.LastToken = token
	p.LastTokenAt = at
	p.LastSuccessAt = at
	p.FailureCount = 0
	p.BackoffUntil = time.Time{}
	p.LastError = nil
	p.SyncCount++
	p.LastSyncResult = "token synchronized"
	if email != "" {
		p.Email = email
		p.LastSyncResult = fmt.Sprintf("token synchronized for %s", email)
	}
}

// RecordFailure applies the bookkeeping for a failed sync attempt. For
// retryable kinds the caller computes backoffUntil from the incremented
// failure count; for terminal kinds backoffUntil is the zero time.
func (p *Profile) RecordFailure(kind ErrorKind, message string, backoffUntil time.Time, at time.Time) {
	p.FailureCount++
	p.BackoffUntil = backoffUntil
	p.ErrorCount++
	p.LastError = &SyncError{Kind: kind, Message: message, At: at}
	p.LastSyncResult = fmt.Sprintf("sync failed: %s", message)
}

// BackoffDelay computes the exponential delay for a consecutive failure
// count: base * 2^failures, capped. failures is the profile's counter after
// the current failure has been recorded, so the first failure waits 2*base.
func BackoffDelay(base, limit time.Duration, failures int) time.Duration {
	if base <= 0 {
		return 0
	}
	// Shift saturates well before overflow territory.
	if failures > 20 {
		failures = 20
	}
	delay := base << uint(failures)
	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

// TokenPreview returns a truncated rendering of the last token, safe for
// list views. Full values are only reachable through the token endpoints.
func (p *Profile) TokenPreview() string {
	return previewSecret(p.LastToken, 50)
}

func previewSecret(s string, keep int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keep {
		return s
	}
	return s[:keep] + "..."
}

// Clone returns a deep copy so callers can hand profiles across goroutine
// boundaries without aliasing the stored record.
func (p *Profile) Clone() *Profile {
	clone := *p
	if p.Credentials != nil {
		clone.Credentials = make([]byte, len(p.Credentials))
		copy(clone.Credentials, p.Credentials)
	}
	if p.Proxy != nil {
		proxyCopy := *p.Proxy
		clone.Proxy = &proxyCopy
	}
	if p.LastError != nil {
		errCopy := *p.LastError
		clone.LastError = &errCopy
	}
	return &clone
}

// Summary is the list-view projection of a profile: no credentials, token
// preview only.
type ProfileSummary struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Email          string        `json:"email,omitempty"`
	Status         ProfileStatus `json:"status"`
	HasCredentials bool          `json:"has_credentials"`
	ProxyEnabled   bool          `json:"proxy_enabled"`
	TokenPreview   string        `json:"token_preview,omitempty"`
	LastTokenAt    time.Time     `json:"last_token_at,omitempty"`
	LastSuccessAt  time.Time     `json:"last_success_at,omitempty"`
	LastAttemptAt  time.Time     `json:"last_attempt_at,omitempty"`
	FailureCount   int           `json:"failure_count"`
	BackoffUntil   *time.Time    `json:"backoff_until,omitempty"`
	LastError      *SyncError    `json:"last_error,omitempty"`
	LastSyncResult string        `json:"last_sync_result,omitempty"`
	SyncCount      int           `json:"sync_count"`
	ErrorCount     int           `json:"error_count"`
	Remark         string        `json:"remark,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Summary builds the list-view projection
func (p *Profile) Summary() *ProfileSummary {
	s := &ProfileSummary{
		ID:             p.ID,
		Name:           p.Name,
		Email:          p.Email,
		Status:         p.Status,
		HasCredentials: len(p.Credentials) > 0,
		ProxyEnabled:   p.Proxy != nil && p.Proxy.Enabled,
		TokenPreview:   p.TokenPreview(),
		LastTokenAt:    p.LastTokenAt,
		LastSuccessAt:  p.LastSuccessAt,
		LastAttemptAt:  p.LastAttemptAt,
		FailureCount:   p.FailureCount,
		LastError:      p.LastError,
		LastSyncResult: p.LastSyncResult,
		SyncCount:      p.SyncCount,
		ErrorCount:     p.ErrorCount,
		Remark:         p.Remark,
		CreatedAt:      p.CreatedAt,
	}
	if p.Status == ProfileStatusBackoff && !p.BackoffUntil.IsZero() {
		until := p.BackoffUntil
		s.BackoffUntil = &until
	}
	return s
}
