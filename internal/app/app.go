// -----------------------------------------------------------------------
// Last Modified: Wednesday, 15th July 2026 9:10:28 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/handlers"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/services/downstream"
	"github.com/ternarybob/renovo/internal/services/events"
	"github.com/ternarybob/renovo/internal/services/profiles"
	"github.com/ternarybob/renovo/internal/services/scheduler"
	"github.com/ternarybob/renovo/internal/services/session"
	"github.com/ternarybob/renovo/internal/services/settings"
	"github.com/ternarybob/renovo/internal/services/syncer"
	"github.com/ternarybob/renovo/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService    interfaces.EventService
	SettingsService interfaces.SettingsService

	// Sync pipeline
	SessionService   interfaces.SessionService
	Downstream       interfaces.DownstreamClient
	ProfileService   interfaces.ProfileService
	SyncService      interfaces.SyncService
	SchedulerService interfaces.SchedulerService

	// HTTP handlers
	AuthHandler     *handlers.AuthHandler
	ProfileHandler  *handlers.ProfileHandler
	SettingsHandler *handlers.SettingsHandler
	StatusHandler   *handlers.StatusHandler
	ExternalHandler *handlers.ExternalHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Start the sync engine last so its recovery pass and first tick see
	// a fully wired application
	if err := app.SchedulerService.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start sync engine: %w", err)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Server.Port).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Dir).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	var err error

	a.EventService = events.NewService(a.Logger)

	if err = events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe audit logger: %w", err)
	}

	a.SettingsService, err = settings.NewService(
		a.StorageManager.SettingsStorage(),
		&a.Config.Sync,
		a.EventService,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize settings service: %w", err)
	}
	a.Logger.Debug().Msg("Settings service initialized")

	// The session service probes the Chrome install when startup_check is
	// enabled. Without a working browser no sync can ever succeed, so a
	// failed probe is fatal; set session.startup_check = false to boot on
	// hosts where Chrome arrives later.
	a.SessionService, err = session.NewService(&a.Config.Session, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session service: %w", err)
	}
	a.Logger.Debug().
		Bool("headless", a.Config.Session.Headless).
		Str("target_url", a.Config.Session.TargetURL).
		Msg("Session service initialized")

	a.Downstream = downstream.NewClient(
		downstream.WithLogger(a.Logger),
		downstream.WithRetryPolicy(a.Config.Sync.PushRetries, a.Config.Sync.PushBackoff, a.Config.Sync.PushBackoffCap),
	)

	a.ProfileService = profiles.NewService(
		a.StorageManager.ProfileStorage(),
		a.EventService,
		a.Logger,
	)
	a.Logger.Debug().Msg("Profile service initialized")

	a.SyncService = syncer.NewService(
		a.StorageManager.ProfileStorage(),
		a.SettingsService,
		a.SessionService,
		a.Downstream,
		a.EventService,
		&a.Config.Sync,
		a.Logger,
	)

	a.SchedulerService = scheduler.NewService(
		a.StorageManager.ProfileStorage(),
		a.SyncService,
		a.SettingsService,
		a.EventService,
		&a.Config.Sync,
		a.Logger,
	)
	a.Logger.Debug().Msg("Sync engine constructed")

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.AuthHandler = handlers.NewAuthHandler(&a.Config.Server, a.Logger)

	// WSHandler subscribes itself to the profile lifecycle events
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.AuthHandler, a.Logger)

	a.ProfileHandler = handlers.NewProfileHandler(a.ProfileService, a.SchedulerService, a.SessionService, a.Logger)
	a.SettingsHandler = handlers.NewSettingsHandler(a.SettingsService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.SchedulerService, a.Logger)
	a.ExternalHandler = handlers.NewExternalHandler(a.ProfileService, a.SchedulerService, a.Config.Server.APIKey, a.Logger)

	if a.Config.Server.APIKey == "" {
		a.Logger.Info().Msg("External API key not configured - /v1 endpoints disabled")
	}

	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop the engine first so no sync is mid-flight when the browser
	// and database go away
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop sync engine")
		}
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.SessionService != nil {
		if err := a.SessionService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close session service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
