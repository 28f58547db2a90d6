package badger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestStorage(t *testing.T) interfaces.ProfileStorage {
	t.Helper()

	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatalf("Failed to open badger store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	db := &BadgerDB{store: store}
	return NewProfileStorage(db, arbor.NewLogger())
}

func testCredentials() []byte {
	return []byte(`[{"name":"__Secure-next-auth.session-token","value":"tok","domain":".labs.google","path":"/"}]`)
}

func TestProfileStorageCreateAndGet(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	profile := models.NewProfile("prof_1", "Alpha", testCredentials())
	profile.Remark = "first account"

	if err := storage.Create(ctx, profile); err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}

	got, err := storage.Get(ctx, "prof_1")
	if err != nil {
		t.Fatalf("Failed to get profile: %v", err)
	}
	if got.Name != "Alpha" || got.Remark != "first account" {
		t.Errorf("Profile fields not persisted: %+v", got)
	}
	if got.Status != models.ProfileStatusIdle {
		t.Errorf("Expected new profile idle, got %s", got.Status)
	}
	if string(got.Credentials) != string(testCredentials()) {
		t.Error("Credentials blob not persisted")
	}

	// Unknown IDs come back classified
	if _, err := storage.Get(ctx, "prof_missing"); !models.IsKind(err, models.ErrorKindNotFound) {
		t.Errorf("Expected not_found, got %v", err)
	}
}

func TestProfileStorageDuplicateName(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Create(ctx, models.NewProfile("prof_1", "Alpha", nil)); err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}

	// Same name, different case: rejected as bad input
	err := storage.Create(ctx, models.NewProfile("prof_2", "ALPHA", nil))
	if !models.IsKind(err, models.ErrorKindValidation) {
		t.Errorf("Expected validation error for duplicate name, got %v", err)
	}

	// Renaming onto an existing name is rejected the same way
	if err := storage.Create(ctx, models.NewProfile("prof_3", "Beta", nil)); err != nil {
		t.Fatalf("Failed to create second profile: %v", err)
	}
	_, err = storage.Update(ctx, "prof_3", func(p *models.Profile) error {
		p.SetName("alpha")
		return nil
	})
	if !models.IsKind(err, models.ErrorKindValidation) {
		t.Errorf("Expected validation error for rename collision, got %v", err)
	}
}

func TestProfileStorageGetByName(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Create(ctx, models.NewProfile("prof_1", "Alpha Account", nil)); err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}

	got, err := storage.GetByName(ctx, "  ALPHA account ")
	if err != nil {
		t.Fatalf("Failed to get profile by name: %v", err)
	}
	if got.ID != "prof_1" {
		t.Errorf("Expected prof_1, got %s", got.ID)
	}

	if _, err := storage.GetByName(ctx, "nobody"); !models.IsKind(err, models.ErrorKindNotFound) {
		t.Errorf("Expected not_found, got %v", err)
	}
}

func TestProfileStorageGetByEmail(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	// Two profiles learned the same email; the oldest wins the lookup
	older := models.NewProfile("prof_1", "Alpha", nil)
	older.Email = "user@example.com"
	older.CreatedAt = time.Now().Add(-time.Hour)

	newer := models.NewProfile("prof_2", "Beta", nil)
	newer.Email = "user@example.com"

	if err := storage.Create(ctx, older); err != nil {
		t.Fatalf("Failed to create older profile: %v", err)
	}
	if err := storage.Create(ctx, newer); err != nil {
		t.Fatalf("Failed to create newer profile: %v", err)
	}

	got, err := storage.GetByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Failed to get profile by email: %v", err)
	}
	if got.ID != "prof_1" {
		t.Errorf("Expected oldest profile prof_1, got %s", got.ID)
	}
}

func TestProfileStorageListOrder(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"prof_c", "prof_a", "prof_b"} {
		p := models.NewProfile(id, "profile-"+id, nil)
		p.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := storage.Create(ctx, p); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}

	profiles, err := storage.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list profiles: %v", err)
	}
	if len(profiles) != 3 {
		t.Fatalf("Expected 3 profiles, got %d", len(profiles))
	}
	for i, want := range []string{"prof_c", "prof_a", "prof_b"} {
		if profiles[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, profiles[i].ID)
		}
	}
}

func TestProfileStorageListByStatus(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"prof_1", "prof_2", "prof_3"} {
		if err := storage.Create(ctx, models.NewProfile(id, "profile-"+id, nil)); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}
	mustCAS(t, storage, "prof_2", models.ProfileStatusIdle, models.ProfileStatusDisabled)
	mustCAS(t, storage, "prof_3", models.ProfileStatusIdle, models.ProfileStatusBackoff)

	idle, err := storage.ListByStatus(ctx, models.ProfileStatusIdle)
	if err != nil {
		t.Fatalf("Failed to list by status: %v", err)
	}
	if len(idle) != 1 || idle[0].ID != "prof_1" {
		t.Errorf("Expected only prof_1 idle, got %v", profileIDs(idle))
	}

	schedulable, err := storage.ListByStatus(ctx, models.ProfileStatusIdle, models.ProfileStatusBackoff)
	if err != nil {
		t.Fatalf("Failed to list by statuses: %v", err)
	}
	if len(schedulable) != 2 {
		t.Errorf("Expected 2 schedulable profiles, got %v", profileIDs(schedulable))
	}

	none, err := storage.ListByStatus(ctx)
	if err != nil || none != nil {
		t.Errorf("Expected empty result for no statuses, got %v, %v", none, err)
	}
}

func TestProfileStorageUpdate(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Create(ctx, models.NewProfile("prof_1", "Alpha", nil)); err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}

	updated, err := storage.Update(ctx, "prof_1", func(p *models.Profile) error {
		p.SetName("Alpha Renamed")
		p.Remark = "updated"
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to update profile: %v", err)
	}
	if updated.Name != "Alpha Renamed" || updated.Remark != "updated" {
		t.Errorf("Update not applied: %+v", updated)
	}

	got, _ := storage.Get(ctx, "prof_1")
	if got.Name != "Alpha Renamed" {
		t.Error("Update not persisted")
	}
}

func TestProfileStorageUpdateRejectsStatusChange(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Create(ctx, models.NewProfile("prof_1", "Alpha", nil)); err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}

	_, err := storage.Update(ctx, "prof_1", func(p *models.Profile) error {
		p.Status = models.ProfileStatusDisabled
		return nil
	})
	if err == nil {
		t.Fatal("Expected update to reject a status change")
	}

	got, _ := storage.Get(ctx, "prof_1")
	if got.Status != models.ProfileStatusIdle {
		t.Errorf("Status change leaked through: %s", got.Status)
	}
}

func TestProfileStorageUpdateCredentials(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	profile := models.NewProfile("prof_1", "Alpha", testCredentials())
	if err := storage.Create(ctx, profile); err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}

	// 1. A garbage blob never reaches storage
	if err := storage.UpdateCredentials(ctx, "prof_1", []byte("not cookies")); !models.IsKind(err, models.ErrorKindValidation) {
		t.Errorf("Expected validation error for bad blob, got %v", err)
	}

	// 2. Park the profile in session_expired with failure history
	mustCAS(t, storage, "prof_1", models.ProfileStatusIdle, models.ProfileStatusRunning)
	_, err := storage.Update(ctx, "prof_1", func(p *models.Profile) error {
		p.RecordFailure(models.ErrorKindSessionExpired, "login page", time.Time{}, time.Now())
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to record failure: %v", err)
	}
	mustCAS(t, storage, "prof_1", models.ProfileStatusRunning, models.ProfileStatusSessionExpired)

	// 3. Re-importing cookies revives it
	fresh := []byte(`[{"name":"__Secure-next-auth.session-token","value":"fresh","domain":".labs.google","path":"/"}]`)
	if err := storage.UpdateCredentials(ctx, "prof_1", fresh); err != nil {
		t.Fatalf("Failed to update credentials: %v", err)
	}

	got, _ := storage.Get(ctx, "prof_1")
	if got.Status != models.ProfileStatusIdle {
		t.Errorf("Expected session_expired cleared to idle, got %s", got.Status)
	}
	if got.FailureCount != 0 || got.LastError != nil || !got.BackoffUntil.IsZero() {
		t.Errorf("Expected failure bookkeeping cleared: %+v", got)
	}
	if string(got.Credentials) != string(fresh) {
		t.Error("Credentials not replaced")
	}
}

func TestProfileStorageDelete(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Create(ctx, models.NewProfile("prof_1", "Alpha", nil)); err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}
	if err := storage.Delete(ctx, "prof_1"); err != nil {
		t.Fatalf("Failed to delete profile: %v", err)
	}
	if _, err := storage.Get(ctx, "prof_1"); !models.IsKind(err, models.ErrorKindNotFound) {
		t.Errorf("Expected not_found after delete, got %v", err)
	}
	if err := storage.Delete(ctx, "prof_1"); !models.IsKind(err, models.ErrorKindNotFound) {
		t.Errorf("Expected not_found for double delete, got %v", err)
	}
}

func TestProfileStorageCompareAndSetStatus(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Create(ctx, models.NewProfile("prof_1", "Alpha", nil)); err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}

	// 1. Matching expectation wins
	ok, err := storage.CompareAndSetStatus(ctx, "prof_1", models.ProfileStatusIdle, models.ProfileStatusQueued)
	if err != nil || !ok {
		t.Fatalf("Expected transition to succeed, got ok=%v err=%v", ok, err)
	}

	// 2. Stale expectation loses quietly
	ok, err = storage.CompareAndSetStatus(ctx, "prof_1", models.ProfileStatusIdle, models.ProfileStatusQueued)
	if err != nil {
		t.Fatalf("Mismatch must not be an error, got %v", err)
	}
	if ok {
		t.Error("Expected mismatch to report false")
	}

	// 3. Entering running stamps the attempt time
	before := time.Now()
	ok, err = storage.CompareAndSetStatus(ctx, "prof_1", models.ProfileStatusQueued, models.ProfileStatusRunning)
	if err != nil || !ok {
		t.Fatalf("Expected transition to running, got ok=%v err=%v", ok, err)
	}
	got, _ := storage.Get(ctx, "prof_1")
	if got.LastAttemptAt.Before(before) {
		t.Errorf("Expected LastAttemptAt stamped, got %s", got.LastAttemptAt)
	}

	// 4. Unknown profiles are an error, not a quiet miss
	if _, err := storage.CompareAndSetStatus(ctx, "prof_404", models.ProfileStatusIdle, models.ProfileStatusQueued); !models.IsKind(err, models.ErrorKindNotFound) {
		t.Errorf("Expected not_found, got %v", err)
	}

	// 5. Unknown status values are rejected outright
	if _, err := storage.CompareAndSetStatus(ctx, "prof_1", "sleeping", models.ProfileStatusIdle); !models.IsKind(err, models.ErrorKindValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestProfileStorageConcurrentClaim(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Create(ctx, models.NewProfile("prof_1", "Alpha", nil)); err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}

	const claimants = 16
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := storage.CompareAndSetStatus(ctx, "prof_1", models.ProfileStatusIdle, models.ProfileStatusQueued)
			if err != nil {
				t.Errorf("Claim returned error: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly one winning claim, got %d", wins.Load())
	}
	got, _ := storage.Get(ctx, "prof_1")
	if got.Status != models.ProfileStatusQueued {
		t.Errorf("Expected queued after the race, got %s", got.Status)
	}
}

func TestProfileStorageResetInterrupted(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"prof_1", "prof_2", "prof_3", "prof_4"} {
		if err := storage.Create(ctx, models.NewProfile(id, "profile-"+id, nil)); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}
	// Simulate a crash mid-flight: one queued, one running, one disabled
	mustCAS(t, storage, "prof_1", models.ProfileStatusIdle, models.ProfileStatusQueued)
	mustCAS(t, storage, "prof_2", models.ProfileStatusIdle, models.ProfileStatusRunning)
	mustCAS(t, storage, "prof_3", models.ProfileStatusIdle, models.ProfileStatusDisabled)

	count, err := storage.ResetInterrupted(ctx)
	if err != nil {
		t.Fatalf("Failed to reset interrupted profiles: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 resets, got %d", count)
	}

	counts, err := storage.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to count by status: %v", err)
	}
	if counts[models.ProfileStatusIdle] != 3 {
		t.Errorf("Expected 3 idle after reset, got %d", counts[models.ProfileStatusIdle])
	}
	if counts[models.ProfileStatusDisabled] != 1 {
		t.Errorf("Disabled profile must survive the reset, got %d", counts[models.ProfileStatusDisabled])
	}
	if counts[models.ProfileStatusQueued] != 0 || counts[models.ProfileStatusRunning] != 0 {
		t.Errorf("Interrupted states remain: %v", counts)
	}
}

func mustCAS(t *testing.T, storage interfaces.ProfileStorage, id string, from, to models.ProfileStatus) {
	t.Helper()
	ok, err := storage.CompareAndSetStatus(context.Background(), id, from, to)
	if err != nil || !ok {
		t.Fatalf("Failed to move %s from %s to %s: ok=%v err=%v", id, from, to, ok, err)
	}
}

func profileIDs(profiles []*models.Profile) []string {
	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}
	return ids
}
