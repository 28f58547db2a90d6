// -----------------------------------------------------------------------
// Last Modified: Thursday, 25th June 2026 2:41:17 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package syncer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
)

// Service is the claim-then-execute pipeline shared by scheduled ticks and
// manual triggers. Every status transition goes through the store's
// CompareAndSetStatus, so two callers racing for the same profile resolve
// to exactly one winner.
type Service struct {
	storage    interfaces.ProfileStorage
	settings   interfaces.SettingsService
	session    interfaces.SessionService
	downstream interfaces.DownstreamClient
	events     interfaces.EventService
	logger     arbor.ILogger

	backoffBase time.Duration
	backoffCap  time.Duration
	taskTimeout time.Duration

	totalSyncs  atomic.Int64
	totalErrors atomic.Int64
}

// NewService wires the executor against the store, the browser-backed
// session service and the downstream client. Engine tuning comes from the
// static [sync] config; the downstream target comes from the settings
// snapshot at execution time.
func NewService(
	storage interfaces.ProfileStorage,
	settingsService interfaces.SettingsService,
	sessionService interfaces.SessionService,
	downstreamClient interfaces.DownstreamClient,
	eventService interfaces.EventService,
	syncConfig *common.SyncConfig,
	logger arbor.ILogger,
) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}

	return &Service{
		storage:     storage,
		settings:    settingsService,
		session:     sessionService,
		downstream:  downstreamClient,
		events:      eventService,
		logger:      logger,
		backoffBase: syncConfig.BackoffBase,
		backoffCap:  syncConfig.BackoffCap,
		taskTimeout: syncConfig.TaskTimeout,
	}
}

// Claim moves an eligible profile to queued. A profile sitting in an
// elapsed backoff window is promoted to idle first, so manual triggers
// work the moment the window closes without waiting for a tick. Ineligible
// profiles yield a conflict, never a partial mutation.
func (s *Service) Claim(ctx context.Context, id string) error {
	profile, err := s.storage.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	switch profile.Status {
	case models.ProfileStatusIdle:
		// claimed below

	case models.ProfileStatusBackoff:
		if profile.BackoffUntil.After(now) {
			return models.NewConflictError("profile %s is backing off until %s", id, profile.BackoffUntil.Format(time.RFC3339))
		}
		ok, err := s.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusBackoff, models.ProfileStatusIdle)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewConflictError("profile %s was claimed by another worker", id)
		}
		s.publishStatus(ctx, profile, models.ProfileStatusBackoff, models.ProfileStatusIdle)

	case models.ProfileStatusDisabled:
		return models.NewConflictError("profile %s is disabled", id)

	case models.ProfileStatusSessionExpired:
		return models.NewError(models.ErrorKindSessionExpired, "profile %s needs fresh credentials before it can sync", id)

	default: // queued, running
		return models.NewConflictError("profile %s is already %s", id, profile.Status)
	}

	ok, err := s.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusIdle, models.ProfileStatusQueued)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewConflictError("profile %s was claimed by another worker", id)
	}

	s.logger.Debug().
		Str("profile_id", id).
		Str("name", profile.Name).
		Msg("Profile claimed for sync")

	s.publishStatus(ctx, profile, models.ProfileStatusIdle, models.ProfileStatusQueued)
	return nil
}

// Execute runs one full sync for a queued profile: pick it up with a
// queued->running CAS, exchange the cookie blob for a token, push the token
// downstream, and record the outcome. Sync failures are recorded on the
// profile and do not propagate; only infrastructure failures (storage
// writes) return an error.
func (s *Service) Execute(ctx context.Context, id string) error {
	ok, err := s.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusQueued, models.ProfileStatusRunning)
	if err != nil {
		if models.IsKind(err, models.ErrorKindNotFound) {
			// Deleted while waiting in the queue. Nothing to clean up.
			s.logger.Debug().Str("profile_id", id).Msg("Queued profile vanished before pickup")
			return nil
		}
		return err
	}
	if !ok {
		s.logger.Debug().Str("profile_id", id).Msg("Profile no longer queued, skipping")
		return nil
	}

	profile, err := s.storage.Get(ctx, id)
	if err != nil {
		if models.IsKind(err, models.ErrorKindNotFound) {
			return nil
		}
		return err
	}

	s.publishStatus(ctx, profile, models.ProfileStatusQueued, models.ProfileStatusRunning)

	attempt := &models.SyncAttempt{
		ProfileID: id,
		Attempt:   profile.FailureCount + 1,
		StartedAt: time.Now(),
	}

	s.logger.Info().
		Str("profile_id", id).
		Str("name", profile.Name).
		Int("attempt", attempt.Attempt).
		Msg("Sync started")

	// One deadline spans the token exchange and the downstream push.
	taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	token, err := s.session.ObtainToken(taskCtx, profile.Credentials, profile.Proxy)
	if err != nil {
		return s.recordFailure(ctx, profile, attempt, err)
	}

	cfg := s.settings.Get()
	result, err := s.downstream.Push(taskCtx, token.Value, cfg.DownstreamURL, cfg.ConnectionToken)
	if err != nil {
		return s.recordFailure(ctx, profile, attempt, err)
	}

	return s.recordSuccess(ctx, profile, attempt, token, result)
}

// Totals returns lifetime counters since startup
func (s *Service) Totals() (syncs, errors int64) {
	return s.totalSyncs.Load(), s.totalErrors.Load()
}

func (s *Service) recordSuccess(ctx context.Context, profile *models.Profile, attempt *models.SyncAttempt, token *models.SessionToken, result *models.PushResult) error {
	now := time.Now()
	_, err := s.storage.Update(ctx, profile.ID, func(p *models.Profile) error {
		p.RecordSuccess(token.Value, result.Email, now)
		return nil
	})
	if err != nil {
		if models.IsKind(err, models.ErrorKindNotFound) {
			s.logger.Debug().Str("profile_id", profile.ID).Msg("Profile deleted mid-sync, dropping result")
			return nil
		}
		return err
	}

	ok, err := s.storage.CompareAndSetStatus(ctx, profile.ID, models.ProfileStatusRunning, models.ProfileStatusIdle)
	if err != nil && !models.IsKind(err, models.ErrorKindNotFound) {
		return err
	}
	if err == nil && !ok {
		s.logger.Warn().Str("profile_id", profile.ID).Msg("Profile left running state mid-sync, outcome recorded anyway")
	}

	s.totalSyncs.Add(1)
	attempt.Outcome = "token synchronized"
	if result.Email != "" {
		attempt.Outcome = fmt.Sprintf("token synchronized for %s", result.Email)
	}

	s.logger.Info().
		Str("profile_id", profile.ID).
		Str("name", profile.Name).
		Str("email", result.Email).
		Int("push_attempts", result.Attempts).
		Dur("elapsed", time.Since(attempt.StartedAt)).
		Msg("Sync completed")

	s.publishStatus(ctx, profile, models.ProfileStatusRunning, models.ProfileStatusIdle)
	s.publishCompleted(ctx, profile, true, attempt.Outcome, result.Email)
	return nil
}

func (s *Service) recordFailure(ctx context.Context, profile *models.Profile, attempt *models.SyncAttempt, cause error) error {
	kind := models.KindOf(cause)
	now := time.Now()

	next := models.ProfileStatusBackoff
	if kind == models.ErrorKindSessionExpired {
		next = models.ProfileStatusSessionExpired
	}

	var until time.Time
	_, err := s.storage.Update(ctx, profile.ID, func(p *models.Profile) error {
		if next == models.ProfileStatusBackoff {
			until = now.Add(models.BackoffDelay(s.backoffBase, s.backoffCap, p.FailureCount+1))
		}
		p.RecordFailure(kind, cause.Error(), until, now)
		return nil
	})
	if err != nil {
		if models.IsKind(err, models.ErrorKindNotFound) {
			s.logger.Debug().Str("profile_id", profile.ID).Msg("Profile deleted mid-sync, dropping failure")
			return nil
		}
		return err
	}

	ok, err := s.storage.CompareAndSetStatus(ctx, profile.ID, models.ProfileStatusRunning, next)
	if err != nil && !models.IsKind(err, models.ErrorKindNotFound) {
		return err
	}
	if err == nil && !ok {
		s.logger.Warn().Str("profile_id", profile.ID).Msg("Profile left running state mid-sync, failure recorded anyway")
	}

	s.totalErrors.Add(1)
	attempt.Outcome = fmt.Sprintf("sync failed: %v", cause)

	event := s.logger.Warn()
	switch kind {
	case models.ErrorKindSessionExpired:
		event = event.Str("action", "re-import credentials")
	case models.ErrorKindDownstreamRejected:
		event = event.Str("action", "check downstream connection token")
	}
	event.
		Str("profile_id", profile.ID).
		Str("name", profile.Name).
		Str("kind", string(kind)).
		Str("next_status", string(next)).
		Dur("elapsed", time.Since(attempt.StartedAt)).
		Err(cause).
		Msg("Sync failed")

	if next == models.ProfileStatusBackoff {
		s.logger.Debug().
			Str("profile_id", profile.ID).
			Str("backoff_until", until.Format(time.RFC3339)).
			Msg("Profile backing off")
	}

	s.publishStatus(ctx, profile, models.ProfileStatusRunning, next)
	s.publishCompleted(ctx, profile, false, attempt.Outcome, "")
	return nil
}

func (s *Service) publishStatus(ctx context.Context, profile *models.Profile, from, to models.ProfileStatus) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventProfileStatusChanged,
		Payload: &interfaces.ProfileStatusPayload{
			ProfileID: profile.ID,
			Name:      profile.Name,
			From:      string(from),
			To:        string(to),
		},
	})
}

func (s *Service) publishCompleted(ctx context.Context, profile *models.Profile, success bool, message, email string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventSyncCompleted,
		Payload: &interfaces.SyncCompletedPayload{
			ProfileID: profile.ID,
			Name:      profile.Name,
			Success:   success,
			Message:   message,
			Email:     email,
		},
	})
}
