// -----------------------------------------------------------------------
// Last Modified: Thursday, 7th May 2026 10:44:19 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/renovo/internal/models"
)

// ProfileStorage is the durable, concurrency-safe profile repository.
// Mutations are atomic per profile; operations on different profiles never
// block each other.
type ProfileStorage interface {
	// Create persists a new profile. Names are unique case-insensitively.
	Create(ctx context.Context, profile *models.Profile) error

	// Get returns the profile or a not_found error
	Get(ctx context.Context, id string) (*models.Profile, error)

	// GetByName looks a profile up by its case-insensitive name
	GetByName(ctx context.Context, name string) (*models.Profile, error)

	// GetByEmail looks a profile up by the email learned from sync acks
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)

	// List returns all profiles in creation order
	List(ctx context.Context) ([]*models.Profile, error)

	// ListByStatus returns profiles in any of the given states
	ListByStatus(ctx context.Context, statuses ...models.ProfileStatus) ([]*models.Profile, error)

	// Update applies mutate to the stored record under the profile's lock.
	// Status must not be touched inside mutate - transitions go through
	// CompareAndSetStatus.
	Update(ctx context.Context, id string, mutate func(*models.Profile) error) (*models.Profile, error)

	// UpdateCredentials replaces the cookie blob wholesale. A profile
	// parked in session_expired returns to idle, with its failure
	// bookkeeping cleared.
	UpdateCredentials(ctx context.Context, id string, blob []byte) error

	// Delete removes the profile and its credentials
	Delete(ctx context.Context, id string) error

	// CompareAndSetStatus atomically transitions the profile's status. It
	// returns false (with a nil error) when the current status does not
	// match expected - a plain concurrency conflict, not a failure.
	// This is the only way any component moves a profile between states.
	CompareAndSetStatus(ctx context.Context, id string, expected, next models.ProfileStatus) (bool, error)

	// ResetInterrupted returns profiles stranded in queued or running by a
	// crash back to idle. Runs once at startup before scheduling begins.
	ResetInterrupted(ctx context.Context) (int, error)

	// CountByStatus returns profile counts per state
	CountByStatus(ctx context.Context) (map[models.ProfileStatus]int, error)
}

// SettingsStorage persists the runtime sync settings as a single record
type SettingsStorage interface {
	// Load returns the stored settings or a not_found error on first run
	Load(ctx context.Context) (*models.SyncSettings, error)

	// Save persists the settings
	Save(ctx context.Context, settings *models.SyncSettings) error
}

// StorageManager bundles the storage implementations over one database
type StorageManager interface {
	ProfileStorage() ProfileStorage
	SettingsStorage() SettingsStorage

	// DB returns the underlying database handle
	DB() interface{}

	// Close closes the database connection
	Close() error
}
