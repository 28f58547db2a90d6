package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// settingsKey is the fixed key for the single sync settings record
const settingsKey = "sync_settings"

// SettingsStorage persists the runtime sync settings as a single record
type SettingsStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSettingsStorage creates a new SettingsStorage instance
func NewSettingsStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SettingsStorage {
	return &SettingsStorage{
		db:     db,
		logger: logger,
	}
}

// Load retrieves the persisted settings. Returns a not_found error on a
// fresh database; the caller seeds from file config in that case.
func (s *SettingsStorage) Load(ctx context.Context) (*models.SyncSettings, error) {
	var settings models.SyncSettings
	if err := s.db.Store().Get(settingsKey, &settings); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NewNotFoundError("sync settings not persisted yet")
		}
		return nil, fmt.Errorf("failed to load sync settings: %w", err)
	}
	return &settings, nil
}

// Save persists the settings, stamping UpdatedAt
func (s *SettingsStorage) Save(ctx context.Context, settings *models.SyncSettings) error {
	if settings == nil {
		return models.NewValidationError("settings are required")
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	settings.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(settingsKey, settings); err != nil {
		return fmt.Errorf("failed to save sync settings: %w", err)
	}

	s.logger.Debug().
		Str("downstream_url", settings.DownstreamURL).
		Dur("refresh_interval", settings.RefreshInterval).
		Int("max_concurrency", settings.MaxConcurrency).
		Msg("Sync settings persisted")
	return nil
}
