// -----------------------------------------------------------------------
// Last Modified: Wednesday, 17th June 2026 4:05:31 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package settings

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
)

// Service holds the runtime sync settings as an atomic snapshot. Readers
// (workers mid-sync, the scheduler tick) get a consistent value without
// locking; writers serialize through updateMu and swap the pointer after
// persisting.
type Service struct {
	current  atomic.Pointer[models.SyncSettings]
	updateMu sync.Mutex
	storage  interfaces.SettingsStorage
	events   interfaces.EventService
	logger   arbor.ILogger
}

// NewService loads persisted settings, seeding from file config on a
// fresh database. Persisted values always win over the file so runtime
// edits survive restarts.
func NewService(storage interfaces.SettingsStorage, seed *common.SyncConfig, eventService interfaces.EventService, logger arbor.ILogger) (*Service, error) {
	s := &Service{
		storage: storage,
		events:  eventService,
		logger:  logger,
	}

	loaded, err := storage.Load(context.Background())
	switch {
	case err == nil:
		s.current.Store(loaded)
		logger.Info().
			Str("downstream_url", loaded.DownstreamURL).
			Str("refresh_interval", loaded.RefreshInterval.String()).
			Int("max_concurrency", loaded.MaxConcurrency).
			Msg("Sync settings loaded from storage")

	case models.IsKind(err, models.ErrorKindNotFound):
		seeded := &models.SyncSettings{
			DownstreamURL:   seed.DownstreamURL,
			ConnectionToken: seed.ConnectionToken,
			RefreshInterval: seed.RefreshInterval,
			MaxConcurrency:  seed.MaxConcurrency,
		}
		s.current.Store(seeded)

		if validationErr := seeded.Validate(); validationErr != nil {
			// Incomplete seed (no downstream URL yet) stays in memory only;
			// the first valid update persists it.
			logger.Warn().
				Str("reason", validationErr.Error()).
				Msg("Sync settings incomplete - syncs will fail until settings are updated")
		} else if saveErr := storage.Save(context.Background(), seeded); saveErr != nil {
			return nil, saveErr
		} else {
			logger.Info().
				Str("downstream_url", seeded.DownstreamURL).
				Msg("Sync settings seeded from config file")
		}

	default:
		return nil, err
	}

	return s, nil
}

// Get returns the current settings snapshot. Callers must treat it as
// immutable.
func (s *Service) Get() *models.SyncSettings {
	return s.current.Load()
}

// Update validates and applies a partial patch, persists the result and
// swaps the snapshot. In-flight syncs keep the snapshot they started with.
func (s *Service) Update(ctx context.Context, patch *models.SettingsPatch) (*models.SyncSettings, error) {
	if patch == nil || patch.Empty() {
		return nil, models.NewValidationError("no settings fields provided")
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	next, err := patch.Apply(s.current.Load())
	if err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := s.storage.Save(ctx, next); err != nil {
		return nil, err
	}
	s.current.Store(next)

	s.logger.Info().
		Str("downstream_url", next.DownstreamURL).
		Str("refresh_interval", next.RefreshInterval.String()).
		Int("max_concurrency", next.MaxConcurrency).
		Msg("Sync settings updated")

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventSettingsUpdated,
			Payload: next.Preview(),
		})
	}

	return next.Clone(), nil
}

// Preview returns the redacted operator view of the current settings
func (s *Service) Preview() map[string]interface{} {
	return s.current.Load().Preview()
}
