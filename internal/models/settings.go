// -----------------------------------------------------------------------
// Last Modified: Monday, 9th March 2026 2:31:08 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SyncSettings is the runtime-tunable part of the configuration: where
// tokens go, how the downstream authenticates us, and how the scheduler
// paces itself. Persisted as a single record and held in memory as an
// immutable snapshot - mutate only by building a new value through Patch.
type SyncSettings struct {
	DownstreamURL   string        `json:"downstream_url"`
	ConnectionToken string        `json:"connection_token"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	MaxConcurrency  int           `json:"max_concurrency"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Validate checks the settings invariants
func (s *SyncSettings) Validate() error {
	if s.RefreshInterval <= 0 {
		return NewValidationError("refresh_interval must be positive, got %s", s.RefreshInterval)
	}
	if s.MaxConcurrency < 1 {
		return NewValidationError("max_concurrency must be at least 1, got %d", s.MaxConcurrency)
	}
	if s.DownstreamURL != "" {
		u, err := url.Parse(s.DownstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return NewValidationError("downstream_url must be an http(s) URL, got %q", s.DownstreamURL)
		}
	}
	return nil
}

// Clone returns a copy safe to mutate
func (s *SyncSettings) Clone() *SyncSettings {
	clone := *s
	return &clone
}

// Preview returns the operator-facing view with the connection token
// redacted to its first 10 characters.
func (s *SyncSettings) Preview() map[string]interface{} {
	return map[string]interface{}{
		"downstream_url":           s.DownstreamURL,
		"connection_token_preview": previewSecret(s.ConnectionToken, 10),
		"connection_token_set":     s.ConnectionToken != "",
		"refresh_interval":         s.RefreshInterval.String(),
		"max_concurrency":          s.MaxConcurrency,
		"updated_at":               s.UpdatedAt,
	}
}

// SettingsPatch is a partial update: nil fields are left unchanged.
// RefreshInterval arrives as a duration string ("30m", "1h").
type SettingsPatch struct {
	DownstreamURL   *string `json:"downstream_url,omitempty"`
	ConnectionToken *string `json:"connection_token,omitempty"`
	RefreshInterval *string `json:"refresh_interval,omitempty"`
	MaxConcurrency  *int    `json:"max_concurrency,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p *SettingsPatch) Empty() bool {
	return p.DownstreamURL == nil && p.ConnectionToken == nil &&
		p.RefreshInterval == nil && p.MaxConcurrency == nil
}

// Apply builds the candidate settings from a snapshot plus this patch.
// The result still needs Validate before it is accepted.
func (p *SettingsPatch) Apply(current *SyncSettings) (*SyncSettings, error) {
	next := current.Clone()
	if p.DownstreamURL != nil {
		next.DownstreamURL = strings.TrimSpace(*p.DownstreamURL)
	}
	if p.ConnectionToken != nil {
		next.ConnectionToken = strings.TrimSpace(*p.ConnectionToken)
	}
	if p.RefreshInterval != nil {
		d, err := time.ParseDuration(*p.RefreshInterval)
		if err != nil {
			return nil, NewValidationError("refresh_interval: %q is not a duration", *p.RefreshInterval)
		}
		next.RefreshInterval = d
	}
	if p.MaxConcurrency != nil {
		next.MaxConcurrency = *p.MaxConcurrency
	}
	next.UpdatedAt = time.Now()
	return next, nil
}

func (s *SyncSettings) String() string {
	return fmt.Sprintf("downstream=%s interval=%s concurrency=%d",
		s.DownstreamURL, s.RefreshInterval, s.MaxConcurrency)
}
