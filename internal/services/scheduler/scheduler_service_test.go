package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
	"github.com/ternarybob/renovo/internal/storage/badger"
)

// createTestLogger creates a logger for testing
func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// mockSyncService implements interfaces.SyncService. The default Claim
// performs a real idle->queued transition against the store so the
// scheduler's queue bookkeeping stays truthful.
type mockSyncService struct {
	storage     interfaces.ProfileStorage
	claimFunc   func(ctx context.Context, id string) error
	executeFunc func(ctx context.Context, id string) error

	mu       sync.Mutex
	claimed  []string
	executed []string
}

func (m *mockSyncService) Claim(ctx context.Context, id string) error {
	m.mu.Lock()
	m.claimed = append(m.claimed, id)
	m.mu.Unlock()

	if m.claimFunc != nil {
		return m.claimFunc(ctx, id)
	}
	ok, err := m.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusIdle, models.ProfileStatusQueued)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewConflictError("profile %s is not claimable", id)
	}
	return nil
}

func (m *mockSyncService) Execute(ctx context.Context, id string) error {
	m.mu.Lock()
	m.executed = append(m.executed, id)
	m.mu.Unlock()

	if m.executeFunc != nil {
		return m.executeFunc(ctx, id)
	}
	// Finish the claim so repeated scans see a settled profile
	if ok, err := m.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusQueued, models.ProfileStatusIdle); err != nil || !ok {
		return err
	}
	return nil
}

func (m *mockSyncService) Totals() (int64, int64) { return 7, 2 }

func (m *mockSyncService) claimedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.claimed...)
}

// mockSettingsService serves a fixed snapshot
type mockSettingsService struct {
	settings *models.SyncSettings
}

func (m *mockSettingsService) Get() *models.SyncSettings { return m.settings }

func (m *mockSettingsService) Update(ctx context.Context, patch *models.SettingsPatch) (*models.SyncSettings, error) {
	return m.settings, nil
}

func (m *mockSettingsService) Preview() map[string]interface{} { return m.settings.Preview() }

type schedulerHarness struct {
	storage interfaces.ProfileStorage
	syncer  *mockSyncService
	service *Service
}

func newSchedulerHarness(t *testing.T) *schedulerHarness {
	t.Helper()
	logger := createTestLogger()

	db, err := badger.NewBadgerDB(logger, &common.StorageConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage := badger.NewProfileStorage(db, logger)
	syncService := &mockSyncService{storage: storage}
	settings := &mockSettingsService{settings: &models.SyncSettings{
		// Long interval so only explicit scans run during tests
		RefreshInterval: time.Hour,
		MaxConcurrency:  2,
	}}
	syncConfig := &common.SyncConfig{JitterMax: 0}

	return &schedulerHarness{
		storage: storage,
		syncer:  syncService,
		service: NewService(storage, syncService, settings, nil, syncConfig, logger),
	}
}

func (h *schedulerHarness) createProfile(t *testing.T, id string, status models.ProfileStatus) {
	t.Helper()
	ctx := context.Background()
	if err := h.storage.Create(ctx, models.NewProfile(id, "profile-"+id, nil)); err != nil {
		t.Fatalf("Failed to create profile %s: %v", id, err)
	}
	if status != models.ProfileStatusIdle {
		ok, err := h.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusIdle, status)
		if err != nil || !ok {
			t.Fatalf("Failed to place %s into %s: ok=%v err=%v", id, status, ok, err)
		}
	}
}

func (h *schedulerHarness) start(t *testing.T) {
	t.Helper()
	if err := h.service.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { h.service.Stop() })
}

func TestStart_RecoversInterruptedProfiles(t *testing.T) {
	h := newSchedulerHarness(t)
	h.createProfile(t, "prof_q", models.ProfileStatusQueued)
	h.createProfile(t, "prof_r", models.ProfileStatusRunning)
	h.createProfile(t, "prof_d", models.ProfileStatusDisabled)

	h.start(t)

	if !h.service.IsRunning() {
		t.Error("Expected scheduler running after Start")
	}

	counts, err := h.storage.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[models.ProfileStatusIdle] != 2 {
		t.Errorf("Expected 2 recovered profiles, got %d idle", counts[models.ProfileStatusIdle])
	}
	if counts[models.ProfileStatusDisabled] != 1 {
		t.Error("Disabled profile must survive recovery")
	}
}

func TestStart_Twice(t *testing.T) {
	h := newSchedulerHarness(t)
	h.start(t)
	if err := h.service.Start(context.Background()); err == nil {
		t.Error("Expected second Start to fail")
	}
}

func TestStop_Idempotent(t *testing.T) {
	h := newSchedulerHarness(t)
	if err := h.service.Stop(); err != nil {
		t.Errorf("Stop() before Start must be a no-op, got %v", err)
	}

	h.start(t)
	if err := h.service.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := h.service.Stop(); err != nil {
		t.Errorf("Second Stop() must be a no-op, got %v", err)
	}
	if h.service.IsRunning() {
		t.Error("Expected scheduler stopped")
	}
}

func TestTriggerSync_NotRunning(t *testing.T) {
	h := newSchedulerHarness(t)
	err := h.service.TriggerSync(context.Background(), "prof_1")
	if !models.IsKind(err, models.ErrorKindConflict) {
		t.Errorf("Expected conflict while stopped, got %v", err)
	}
}

func TestTriggerSync_ClaimFailurePassesThrough(t *testing.T) {
	h := newSchedulerHarness(t)
	h.start(t)

	h.syncer.claimFunc = func(ctx context.Context, id string) error {
		return models.NewConflictError("profile %s is already running", id)
	}

	err := h.service.TriggerSync(context.Background(), "prof_busy")
	if !models.IsKind(err, models.ErrorKindConflict) {
		t.Errorf("Expected the claim conflict surfaced, got %v", err)
	}
}

func TestTriggerSync_RunsTheProfile(t *testing.T) {
	h := newSchedulerHarness(t)
	h.createProfile(t, "prof_1", models.ProfileStatusIdle)

	done := make(chan string, 1)
	h.syncer.executeFunc = func(ctx context.Context, id string) error {
		done <- id
		return nil
	}

	h.start(t)

	if err := h.service.TriggerSync(context.Background(), "prof_1"); err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}

	select {
	case id := <-done:
		if id != "prof_1" {
			t.Errorf("Worker executed %s, want prof_1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Worker never picked up the triggered sync")
	}
}

func TestSyncAll_ReportsPerProfile(t *testing.T) {
	h := newSchedulerHarness(t)
	h.createProfile(t, "prof_1", models.ProfileStatusIdle)
	h.createProfile(t, "prof_2", models.ProfileStatusDisabled)
	h.createProfile(t, "prof_3", models.ProfileStatusIdle)

	executed := make(chan string, 4)
	h.syncer.executeFunc = func(ctx context.Context, id string) error {
		executed <- id
		return nil
	}

	h.start(t)

	acks, err := h.service.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if len(acks) != 3 {
		t.Fatalf("Expected 3 acks, got %d", len(acks))
	}

	byID := make(map[string]*models.TriggerAck)
	for _, ack := range acks {
		byID[ack.ProfileID] = ack
	}
	if !byID["prof_1"].Queued || !byID["prof_3"].Queued {
		t.Errorf("Idle profiles not queued: %+v", acks)
	}
	if byID["prof_2"].Queued {
		t.Error("Disabled profile must not be queued")
	}
	if byID["prof_2"].Reason == "" {
		t.Error("Skipped profile needs a reason")
	}
}

func TestScan_ClaimsOnlyEligibleProfiles(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()

	h.createProfile(t, "prof_idle1", models.ProfileStatusIdle)
	h.createProfile(t, "prof_idle2", models.ProfileStatusIdle)
	h.createProfile(t, "prof_disabled", models.ProfileStatusDisabled)
	h.createProfile(t, "prof_waiting", models.ProfileStatusBackoff)
	_, err := h.storage.Update(ctx, "prof_waiting", func(p *models.Profile) error {
		p.BackoffUntil = time.Now().Add(time.Hour)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to set backoff deadline: %v", err)
	}

	executed := make(chan string, 4)
	h.syncer.executeFunc = func(ctx context.Context, id string) error {
		executed <- id
		return nil
	}

	h.start(t)

	claimed := h.service.scan(ctx)
	if claimed != 2 {
		t.Errorf("scan() claimed %d, want 2", claimed)
	}

	for _, id := range h.syncer.claimedIDs() {
		if id == "prof_disabled" || id == "prof_waiting" {
			t.Errorf("Ineligible profile %s was claimed", id)
		}
	}

	// Status reflects the batch
	status, err := h.service.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.LastBatchSize != 2 || status.LastBatchAt == nil {
		t.Errorf("Batch bookkeeping missing: size=%d at=%v", status.LastBatchSize, status.LastBatchAt)
	}
}

func TestReschedule_Validation(t *testing.T) {
	h := newSchedulerHarness(t)

	if err := h.service.Reschedule(0, 1); !models.IsKind(err, models.ErrorKindValidation) {
		t.Errorf("Expected validation error for zero interval, got %v", err)
	}
	if err := h.service.Reschedule(time.Minute, 0); !models.IsKind(err, models.ErrorKindValidation) {
		t.Errorf("Expected validation error for zero concurrency, got %v", err)
	}

	// While stopped the new values are stored for the next Start
	if err := h.service.Reschedule(30*time.Minute, 4); err != nil {
		t.Errorf("Reschedule() while stopped error = %v", err)
	}
}

func TestReschedule_WhileRunning(t *testing.T) {
	h := newSchedulerHarness(t)
	h.start(t)

	if err := h.service.Reschedule(30*time.Minute, 3); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}

	status, err := h.service.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Workers != 3 {
		t.Errorf("Workers = %d, want 3", status.Workers)
	}
	if status.NextTick == nil {
		t.Fatal("Expected a next tick while running")
	}
	// Next tick honors the new cadence
	if until := time.Until(*status.NextTick); until > 31*time.Minute {
		t.Errorf("Next tick %s away, want about 30m", until)
	}
}

func TestStatus_Stopped(t *testing.T) {
	h := newSchedulerHarness(t)
	h.createProfile(t, "prof_1", models.ProfileStatusIdle)

	status, err := h.service.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Running {
		t.Error("Expected not running")
	}
	if status.NextTick != nil {
		t.Error("Stopped engine has no next tick")
	}
	if status.TotalSyncs != 7 || status.TotalErrors != 2 {
		t.Errorf("Totals = %d/%d, want 7/2", status.TotalSyncs, status.TotalErrors)
	}
	if status.ProfilesByState[models.ProfileStatusIdle] != 1 {
		t.Errorf("ProfilesByState = %v", status.ProfilesByState)
	}
}
