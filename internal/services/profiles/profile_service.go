// -----------------------------------------------------------------------
// Last Modified: Monday, 11th May 2026 3:47:55 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package profiles

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
)

// switchRetries bounds how often an enable/disable re-reads after losing
// a status race
const switchRetries = 3

// Service owns profile CRUD and the operator-facing state switches.
// Lifecycle transitions driven by syncing live in the syncer; this
// service only flips between the operator states (disabled and back).
type Service struct {
	storage  interfaces.ProfileStorage
	events   interfaces.EventService
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewService creates a new profile service
func NewService(storage interfaces.ProfileStorage, eventService interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		storage:  storage,
		events:   eventService,
		validate: validator.New(),
		logger:   logger,
	}
}

// Create registers a new profile from an imported cookie blob
func (s *Service) Create(ctx context.Context, req *interfaces.ProfileCreateRequest) (*models.Profile, error) {
	if req == nil {
		return nil, models.NewValidationError("request body is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, models.NewValidationError("%s", err.Error())
	}
	if _, err := models.DecodeCredentials(req.Credentials); err != nil {
		return nil, err
	}

	profile := models.NewProfile(common.NewProfileID(), strings.TrimSpace(req.Name), req.Credentials)
	profile.Proxy = req.Proxy
	profile.Remark = strings.TrimSpace(req.Remark)

	if err := s.storage.Create(ctx, profile); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("profile_id", profile.ID).
		Str("name", profile.Name).
		Bool("proxied", profile.Proxy != nil && profile.Proxy.Enabled).
		Msg("Profile created")

	s.publish(ctx, interfaces.EventProfileCreated, &interfaces.ProfileStatusPayload{
		ProfileID: profile.ID,
		Name:      profile.Name,
		To:        string(profile.Status),
	})

	return profile, nil
}

// Get retrieves a profile by ID
func (s *Service) Get(ctx context.Context, id string) (*models.Profile, error) {
	return s.storage.Get(ctx, id)
}

// GetByName retrieves a profile by display name
func (s *Service) GetByName(ctx context.Context, name string) (*models.Profile, error) {
	return s.storage.GetByName(ctx, name)
}

// GetByEmail retrieves a profile by its downstream-acknowledged email
func (s *Service) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	return s.storage.GetByEmail(ctx, email)
}

// List returns summaries of all profiles in creation order
func (s *Service) List(ctx context.Context) ([]*models.ProfileSummary, error) {
	profiles, err := s.storage.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]*models.ProfileSummary, len(profiles))
	for i, profile := range profiles {
		summaries[i] = profile.Summary()
	}
	return summaries, nil
}

// Update applies display-field changes. Credentials and status are not
// touchable here.
func (s *Service) Update(ctx context.Context, id string, req *interfaces.ProfileUpdateRequest) (*models.Profile, error) {
	if req == nil {
		return nil, models.NewValidationError("request body is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, models.NewValidationError("%s", err.Error())
	}
	if req.Name == nil && req.Remark == nil && req.Proxy == nil {
		return nil, models.NewValidationError("no profile fields provided")
	}

	updated, err := s.storage.Update(ctx, id, func(profile *models.Profile) error {
		if req.Name != nil {
			profile.SetName(strings.TrimSpace(*req.Name))
		}
		if req.Remark != nil {
			profile.Remark = strings.TrimSpace(*req.Remark)
		}
		if req.Proxy != nil {
			if err := req.Proxy.Validate(); err != nil {
				return models.NewValidationError("invalid proxy config: %s", err.Error())
			}
			profile.Proxy = req.Proxy
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("profile_id", id).Msg("Profile updated")
	return updated, nil
}

// UpdateCredentials re-imports the cookie blob. A session_expired profile
// returns to idle, which the status event reflects.
func (s *Service) UpdateCredentials(ctx context.Context, id string, blob []byte) error {
	prior, err := s.storage.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.storage.UpdateCredentials(ctx, id, blob); err != nil {
		return err
	}

	s.logger.Info().
		Str("profile_id", id).
		Int("blob_bytes", len(blob)).
		Msg("Profile credentials replaced")

	if prior.Status == models.ProfileStatusSessionExpired {
		s.publish(ctx, interfaces.EventProfileStatusChanged, &interfaces.ProfileStatusPayload{
			ProfileID: prior.ID,
			Name:      prior.Name,
			From:      string(models.ProfileStatusSessionExpired),
			To:        string(models.ProfileStatusIdle),
		})
	}
	return nil
}

// Delete removes a profile and its stored credentials
func (s *Service) Delete(ctx context.Context, id string) error {
	profile, err := s.storage.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info().
		Str("profile_id", id).
		Str("name", profile.Name).
		Msg("Profile deleted")

	s.publish(ctx, interfaces.EventProfileDeleted, &interfaces.ProfileStatusPayload{
		ProfileID: profile.ID,
		Name:      profile.Name,
		From:      string(profile.Status),
	})
	return nil
}

// Enable returns a disabled profile to the idle rotation. Enabling a
// profile that is already active is a no-op; a session_expired profile
// needs fresh credentials instead.
func (s *Service) Enable(ctx context.Context, id string) error {
	for attempt := 0; attempt < switchRetries; attempt++ {
		profile, err := s.storage.Get(ctx, id)
		if err != nil {
			return err
		}

		switch profile.Status {
		case models.ProfileStatusDisabled:
			ok, err := s.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusDisabled, models.ProfileStatusIdle)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			s.logger.Info().Str("profile_id", id).Msg("Profile enabled")
			s.publish(ctx, interfaces.EventProfileStatusChanged, &interfaces.ProfileStatusPayload{
				ProfileID: profile.ID,
				Name:      profile.Name,
				From:      string(models.ProfileStatusDisabled),
				To:        string(models.ProfileStatusIdle),
			})
			return nil

		case models.ProfileStatusSessionExpired:
			return models.NewError(models.ErrorKindSessionExpired,
				"profile %s session expired - re-import credentials to re-enable", id)

		default:
			// Already participating in the rotation
			return nil
		}
	}
	return models.NewConflictError("profile %s status kept changing - try again", id)
}

// Disable parks a profile so the scheduler skips it. A running sync is
// not interrupted; disabling has to wait for it to settle.
func (s *Service) Disable(ctx context.Context, id string) error {
	for attempt := 0; attempt < switchRetries; attempt++ {
		profile, err := s.storage.Get(ctx, id)
		if err != nil {
			return err
		}

		switch profile.Status {
		case models.ProfileStatusDisabled:
			return nil

		case models.ProfileStatusRunning:
			return models.NewConflictError("profile %s is mid-sync - try again when it settles", id)

		default:
			ok, err := s.storage.CompareAndSetStatus(ctx, id, profile.Status, models.ProfileStatusDisabled)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			s.logger.Info().
				Str("profile_id", id).
				Str("from", string(profile.Status)).
				Msg("Profile disabled")
			s.publish(ctx, interfaces.EventProfileStatusChanged, &interfaces.ProfileStatusPayload{
				ProfileID: profile.ID,
				Name:      profile.Name,
				From:      string(profile.Status),
				To:        string(models.ProfileStatusDisabled),
			})
			return nil
		}
	}
	return models.NewConflictError("profile %s status kept changing - try again", id)
}

// Token returns the full last synchronized token
func (s *Service) Token(ctx context.Context, id string) (string, error) {
	profile, err := s.storage.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if profile.Status == models.ProfileStatusSessionExpired {
		return "", models.NewError(models.ErrorKindSessionExpired,
			"profile %s session expired - the last token is stale", id)
	}
	if profile.LastToken == "" {
		return "", models.NewValidationError("profile %s has not synchronized a token yet", id)
	}
	return profile.LastToken, nil
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload *interfaces.ProfileStatusPayload) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload})
}
