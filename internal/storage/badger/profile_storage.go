package badger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// lockStripes bounds the per-profile mutex table. Collisions only cost
// unnecessary serialization, never correctness.
const lockStripes = 64

// ProfileStorage implements the ProfileStorage interface for Badger.
//
// Badger gives atomic single-record writes but no read-modify-write
// isolation, so every mutation runs under a striped per-ID mutex. That
// makes CompareAndSetStatus a true test-and-set: two workers racing for
// the same profile serialize on the stripe and the loser sees the
// changed status.
type ProfileStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	locks  [lockStripes]sync.Mutex
}

// NewProfileStorage creates a new ProfileStorage instance
func NewProfileStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProfileStorage {
	return &ProfileStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProfileStorage) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// Create persists a new profile. The name must be unique, compared
// case-insensitively.
func (s *ProfileStorage) Create(ctx context.Context, profile *models.Profile) error {
	if profile == nil {
		return models.NewValidationError("profile is required")
	}
	if err := profile.Validate(); err != nil {
		return models.NewValidationError("%s", err.Error())
	}

	taken, err := s.nameTaken(profile.NameKey, profile.ID)
	if err != nil {
		return err
	}
	if taken {
		return models.NewValidationError("profile name %q is already in use", profile.Name)
	}

	if err := s.db.Store().Insert(profile.ID, profile); err != nil {
		if err == badgerhold.ErrKeyExists {
			return models.NewConflictError("profile %s already exists", profile.ID)
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// Get retrieves a profile by ID
func (s *ProfileStorage) Get(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.Store().Get(id, &profile); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NewNotFoundError("profile not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// GetByName retrieves a profile by display name, case-insensitively
func (s *ProfileStorage) GetByName(ctx context.Context, name string) (*models.Profile, error) {
	key := models.NameKey(name)
	if key == "" {
		return nil, models.NewValidationError("profile name is required")
	}

	var profiles []models.Profile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("NameKey").Eq(key)); err != nil {
		return nil, fmt.Errorf("failed to look up profile by name: %w", err)
	}
	if len(profiles) == 0 {
		return nil, models.NewNotFoundError("profile not found: %s", name)
	}
	return &profiles[0], nil
}

// GetByEmail retrieves the oldest profile recorded against an email
// address. Email is learned from downstream acknowledgements, so a profile
// that has never synced successfully is not reachable this way.
func (s *ProfileStorage) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	if email == "" {
		return nil, models.NewValidationError("email is required")
	}

	var profiles []models.Profile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("Email").Eq(email).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to look up profile by email: %w", err)
	}
	if len(profiles) == 0 {
		return nil, models.NewNotFoundError("no profile found for email: %s", email)
	}
	return &profiles[0], nil
}

// List returns all profiles in creation order
func (s *ProfileStorage) List(ctx context.Context) ([]*models.Profile, error) {
	var profiles []models.Profile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("ID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	result := make([]*models.Profile, len(profiles))
	for i := range profiles {
		result[i] = &profiles[i]
	}
	return result, nil
}

// ListByStatus returns profiles currently in any of the given states
func (s *ProfileStorage) ListByStatus(ctx context.Context, statuses ...models.ProfileStatus) ([]*models.Profile, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	vals := make([]interface{}, len(statuses))
	for i, status := range statuses {
		vals[i] = status
	}

	var profiles []models.Profile
	if err := s.db.Store().Find(&profiles, badgerhold.Where("Status").In(vals...).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list profiles by status: %w", err)
	}

	result := make([]*models.Profile, len(profiles))
	for i := range profiles {
		result[i] = &profiles[i]
	}
	return result, nil
}

// Update applies mutate to the stored record under the profile's lock.
// The callback must leave Status alone - transitions only happen through
// CompareAndSetStatus.
func (s *ProfileStorage) Update(ctx context.Context, id string, mutate func(*models.Profile) error) (*models.Profile, error) {
	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	var profile models.Profile
	if err := s.db.Store().Get(id, &profile); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NewNotFoundError("profile not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	before := profile.Status
	beforeName := profile.NameKey

	if err := mutate(&profile); err != nil {
		return nil, err
	}
	if profile.Status != before {
		return nil, models.NewError(models.ErrorKindInternal, "update callback changed status %s -> %s", before, profile.Status)
	}
	if err := profile.Validate(); err != nil {
		return nil, models.NewValidationError("%s", err.Error())
	}

	if profile.NameKey != beforeName {
		taken, err := s.nameTaken(profile.NameKey, profile.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, models.NewValidationError("profile name %q is already in use", profile.Name)
		}
	}

	profile.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(profile.ID, &profile); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return &profile, nil
}

// UpdateCredentials replaces the cookie blob wholesale. A profile parked in
// session_expired returns to idle with its failure bookkeeping cleared,
// since the new cookies invalidate the old verdict.
func (s *ProfileStorage) UpdateCredentials(ctx context.Context, id string, blob []byte) error {
	if _, err := models.DecodeCredentials(blob); err != nil {
		return err
	}

	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	var profile models.Profile
	if err := s.db.Store().Get(id, &profile); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.NewNotFoundError("profile not found: %s", id)
		}
		return fmt.Errorf("failed to get profile: %w", err)
	}

	profile.Credentials = blob
	if profile.Status == models.ProfileStatusSessionExpired {
		profile.Status = models.ProfileStatusIdle
		profile.FailureCount = 0
		profile.BackoffUntil = time.Time{}
		profile.LastError = nil
	}
	profile.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(profile.ID, &profile); err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}
	return nil
}

// Delete removes a profile in any state. A worker mid-sync on the deleted
// profile discovers the deletion when its next CompareAndSetStatus misses.
func (s *ProfileStorage) Delete(ctx context.Context, id string) error {
	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.db.Store().Delete(id, &models.Profile{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.NewNotFoundError("profile not found: %s", id)
		}
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// CompareAndSetStatus atomically transitions a profile from expected to
// next. Returns false with no error when the stored status is not
// expected; that is how a losing claimant learns someone else got there
// first. Entering running also stamps LastAttemptAt.
func (s *ProfileStorage) CompareAndSetStatus(ctx context.Context, id string, expected, next models.ProfileStatus) (bool, error) {
	if !models.ValidProfileStatus(expected) || !models.ValidProfileStatus(next) {
		return false, models.NewValidationError("invalid status transition %s -> %s", expected, next)
	}

	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	var profile models.Profile
	if err := s.db.Store().Get(id, &profile); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, models.NewNotFoundError("profile not found: %s", id)
		}
		return false, fmt.Errorf("failed to get profile: %w", err)
	}

	if profile.Status != expected {
		return false, nil
	}

	profile.Status = next
	now := time.Now()
	if next == models.ProfileStatusRunning {
		profile.LastAttemptAt = now
	}
	profile.UpdatedAt = now

	if err := s.db.Store().Upsert(profile.ID, &profile); err != nil {
		return false, fmt.Errorf("failed to set status: %w", err)
	}
	return true, nil
}

// ResetInterrupted returns profiles stranded in queued or running back to
// idle. Called once during startup, before the scheduler begins claiming.
func (s *ProfileStorage) ResetInterrupted(ctx context.Context) (int, error) {
	var profiles []models.Profile
	err := s.db.Store().Find(&profiles, badgerhold.Where("Status").In(models.ProfileStatusQueued, models.ProfileStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to find interrupted profiles: %w", err)
	}

	count := 0
	for i := range profiles {
		profiles[i].Status = models.ProfileStatusIdle
		profiles[i].UpdatedAt = time.Now()
		if err := s.db.Store().Upsert(profiles[i].ID, &profiles[i]); err != nil {
			s.logger.Warn().Str("profile_id", profiles[i].ID).Err(err).Msg("Failed to reset interrupted profile")
			continue
		}
		count++
	}
	return count, nil
}

// CountByStatus returns profile counts bucketed by state
func (s *ProfileStorage) CountByStatus(ctx context.Context) (map[models.ProfileStatus]int, error) {
	var profiles []models.Profile
	if err := s.db.Store().Find(&profiles, nil); err != nil {
		return nil, fmt.Errorf("failed to count profiles: %w", err)
	}

	counts := make(map[models.ProfileStatus]int)
	for i := range profiles {
		counts[profiles[i].Status]++
	}
	return counts, nil
}

// nameTaken reports whether another profile already claims the name key
func (s *ProfileStorage) nameTaken(nameKey, selfID string) (bool, error) {
	var existing []models.Profile
	if err := s.db.Store().Find(&existing, badgerhold.Where("NameKey").Eq(nameKey)); err != nil {
		return false, fmt.Errorf("failed to check name uniqueness: %w", err)
	}
	for i := range existing {
		if existing[i].ID != selfID {
			return true, nil
		}
	}
	return false, nil
}
