// -----------------------------------------------------------------------
// Last Modified: Thursday, 7th May 2026 10:51:02 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/renovo/internal/models"
)

// ProfileCreateRequest carries the control-surface input for a new profile
type ProfileCreateRequest struct {
	Name        string              `json:"name" validate:"required,min=1,max=100"`
	Credentials []byte              `json:"credentials" validate:"required"`
	Proxy       *models.ProxyConfig `json:"proxy,omitempty"`
	Remark      string              `json:"remark,omitempty" validate:"max=500"`
}

// ProfileUpdateRequest carries mutable display fields; nil leaves a field
// unchanged. Credentials have their own endpoint.
type ProfileUpdateRequest struct {
	Name   *string             `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Remark *string             `json:"remark,omitempty" validate:"omitempty,max=500"`
	Proxy  *models.ProxyConfig `json:"proxy,omitempty"`
}

// ProfileService owns profile CRUD and the admin-only state switches
type ProfileService interface {
	Create(ctx context.Context, req *ProfileCreateRequest) (*models.Profile, error)
	Get(ctx context.Context, id string) (*models.Profile, error)
	GetByName(ctx context.Context, name string) (*models.Profile, error)
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	List(ctx context.Context) ([]*models.ProfileSummary, error)
	Update(ctx context.Context, id string, req *ProfileUpdateRequest) (*models.Profile, error)

	// UpdateCredentials re-imports the cookie blob, clearing an expired
	// session back to idle
	UpdateCredentials(ctx context.Context, id string, blob []byte) error

	Delete(ctx context.Context, id string) error

	// Enable returns a disabled profile to idle; Disable parks it. A
	// running profile cannot be disabled mid-flight.
	Enable(ctx context.Context, id string) error
	Disable(ctx context.Context, id string) error

	// Token returns the full last token. Errors: not_found, validation
	// (no token yet), session_expired.
	Token(ctx context.Context, id string) (string, error)
}

// SettingsService holds the runtime sync settings as an atomic snapshot
type SettingsService interface {
	// Get returns the current snapshot. Callers must treat it as
	// immutable.
	Get() *models.SyncSettings

	// Update validates and applies a partial patch, persists the result,
	// swaps the snapshot and notifies subscribers.
	Update(ctx context.Context, patch *models.SettingsPatch) (*models.SyncSettings, error)

	// Preview returns the redacted operator view
	Preview() map[string]interface{}
}

// SessionService exchanges a profile's cookie blob for a bearer token by
// driving an authenticated browser session. Failures are classified:
// session_expired is terminal, network and unexpected_state are retryable.
// The exchange honors ctx's deadline; exceeding it classifies as network.
type SessionService interface {
	ObtainToken(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionToken, error)

	// CheckSession verifies the cookies still authenticate, without
	// pushing anything downstream
	CheckSession(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionState, error)

	Close() error
}

// DownstreamClient pushes tokens to the consumer service. Transient
// failures are retried inside the call with exponential backoff; a
// downstream_rejected classification is returned without retry.
type DownstreamClient interface {
	Push(ctx context.Context, token, downstreamURL, connectionToken string) (*models.PushResult, error)
}

// SyncService is the single claim-then-execute path shared by scheduled
// ticks and manual triggers.
type SyncService interface {
	// Claim moves an eligible profile from idle to queued. An elapsed
	// backoff is promoted first. Not eligible -> conflict error.
	Claim(ctx context.Context, id string) error

	// Execute runs one full sync for a queued profile: queued->running,
	// token exchange, downstream push, outcome recording.
	Execute(ctx context.Context, id string) error

	// Totals returns lifetime sync/error counters since startup
	Totals() (syncs, errors int64)
}

// SchedulerService drives periodic eligibility scans and the bounded
// worker pool, and exposes the manual trigger path.
type SchedulerService interface {
	// Start recovers interrupted profiles, registers the tick and starts
	// the workers
	Start(ctx context.Context) error

	Stop() error
	IsRunning() bool

	// TriggerSync claims and enqueues one profile; conflict when busy
	TriggerSync(ctx context.Context, id string) error

	// SyncAll claims every eligible profile independently. Per-profile
	// failures never abort the batch.
	SyncAll(ctx context.Context) ([]*models.TriggerAck, error)

	// Reschedule applies a changed refresh interval or concurrency bound
	Reschedule(interval time.Duration, concurrency int) error

	Status(ctx context.Context) (*models.EngineStatus, error)
}
