package syncer

import (
	"context"
	"sync"
	"sync/atomic"
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

// mockSessionService implements interfaces.SessionService for testing
type mockSessionService struct {
	obtainFunc func(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionToken, error)
	calls      atomic.Int32
}

func (m *mockSessionService) ObtainToken(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionToken, error) {
	m.calls.Add(1)
	if m.obtainFunc != nil {
		return m.obtainFunc(ctx, credentials, proxy)
	}
	return &models.SessionToken{Value: "tok-test", ObtainedAt: time.Now()}, nil
}

func (m *mockSessionService) CheckSession(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionState, error) {
	return &models.SessionState{LoggedIn: true, HasToken: true, CheckedAt: time.Now()}, nil
}

func (m *mockSessionService) Close() error { return nil }

// mockDownstreamClient implements interfaces.DownstreamClient for testing
type mockDownstreamClient struct {
	pushFunc func(ctx context.Context, token, downstreamURL, connectionToken string) (*models.PushResult, error)
	calls    atomic.Int32
}

func (m *mockDownstreamClient) Push(ctx context.Context, token, downstreamURL, connectionToken string) (*models.PushResult, error) {
	m.calls.Add(1)
	if m.pushFunc != nil {
		return m.pushFunc(ctx, token, downstreamURL, connectionToken)
	}
	return &models.PushResult{Message: "Token updated", Attempts: 1}, nil
}

// mockSettingsService implements interfaces.SettingsService with a fixed snapshot
type mockSettingsService struct {
	settings *models.SyncSettings
}

func (m *mockSettingsService) Get() *models.SyncSettings {
	return m.settings
}

func (m *mockSettingsService) Update(ctx context.Context, patch *models.SettingsPatch) (*models.SyncSettings, error) {
	return m.settings, nil
}

func (m *mockSettingsService) Preview() map[string]interface{} {
	return m.settings.Preview()
}

type testHarness struct {
	storage    interfaces.ProfileStorage
	session    *mockSessionService
	downstream *mockDownstreamClient
	service    *Service
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := createTestLogger()

	db, err := badger.NewBadgerDB(logger, &common.StorageConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage := badger.NewProfileStorage(db, logger)
	session := &mockSessionService{}
	downstream := &mockDownstreamClient{}
	settings := &mockSettingsService{settings: &models.SyncSettings{
		DownstreamURL:   "https://downstream.example.com",
		ConnectionToken: "conn-token",
		RefreshInterval: 15 * time.Minute,
		MaxConcurrency:  2,
	}}

	syncConfig := &common.SyncConfig{
		BackoffBase: time.Minute,
		BackoffCap:  time.Hour,
		TaskTimeout: 10 * time.Second,
	}

	return &testHarness{
		storage:    storage,
		session:    session,
		downstream: downstream,
		service:    NewService(storage, settings, session, downstream, nil, syncConfig, logger),
	}
}

func (h *testHarness) createProfile(t *testing.T, id string, status models.ProfileStatus) {
	t.Helper()
	ctx := context.Background()
	profile := models.NewProfile(id, "profile-"+id, []byte(`[{"name":"c","value":"v","domain":".labs.google"}]`))
	if err := h.storage.Create(ctx, profile); err != nil {
		t.Fatalf("Failed to create profile %s: %v", id, err)
	}
	if status != models.ProfileStatusIdle {
		ok, err := h.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusIdle, status)
		if err != nil || !ok {
			t.Fatalf("Failed to place %s into %s: ok=%v err=%v", id, status, ok, err)
		}
	}
}

func (h *testHarness) mustStatus(t *testing.T, id string, want models.ProfileStatus) *models.Profile {
	t.Helper()
	profile, err := h.storage.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to get profile %s: %v", id, err)
	}
	if profile.Status != want {
		t.Fatalf("Profile %s: status = %s, want %s", id, profile.Status, want)
	}
	return profile
}

func TestClaim_IdleProfile(t *testing.T) {
	h := newTestHarness(t)
	h.createProfile(t, "prof_1", models.ProfileStatusIdle)

	if err := h.service.Claim(context.Background(), "prof_1"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	h.mustStatus(t, "prof_1", models.ProfileStatusQueued)
}

func TestClaim_BusyAndParkedProfiles(t *testing.T) {
	h := newTestHarness(t)

	tests := []struct {
		id       string
		status   models.ProfileStatus
		wantKind models.ErrorKind
	}{
		{"prof_q", models.ProfileStatusQueued, models.ErrorKindConflict},
		{"prof_r", models.ProfileStatusRunning, models.ErrorKindConflict},
		{"prof_d", models.ProfileStatusDisabled, models.ErrorKindConflict},
		{"prof_x", models.ProfileStatusSessionExpired, models.ErrorKindSessionExpired},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			h.createProfile(t, tt.id, tt.status)
			err := h.service.Claim(context.Background(), tt.id)
			if !models.IsKind(err, tt.wantKind) {
				t.Errorf("Claim(%s) = %v, want kind %s", tt.status, err, tt.wantKind)
			}
			// Failed claims never move the profile
			h.mustStatus(t, tt.id, tt.status)
		})
	}
}

func TestClaim_BackoffWindow(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// Still waiting out the delay: conflict
	h.createProfile(t, "prof_wait", models.ProfileStatusBackoff)
	_, err := h.storage.Update(ctx, "prof_wait", func(p *models.Profile) error {
		p.BackoffUntil = time.Now().Add(time.Hour)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to set backoff deadline: %v", err)
	}
	if err := h.service.Claim(ctx, "prof_wait"); !models.IsKind(err, models.ErrorKindConflict) {
		t.Errorf("Expected conflict inside the backoff window, got %v", err)
	}
	h.mustStatus(t, "prof_wait", models.ProfileStatusBackoff)

	// Window elapsed: promoted and claimed in one call
	h.createProfile(t, "prof_done", models.ProfileStatusBackoff)
	_, err = h.storage.Update(ctx, "prof_done", func(p *models.Profile) error {
		p.BackoffUntil = time.Now().Add(-time.Second)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to set backoff deadline: %v", err)
	}
	if err := h.service.Claim(ctx, "prof_done"); err != nil {
		t.Fatalf("Expected elapsed backoff to be claimable, got %v", err)
	}
	h.mustStatus(t, "prof_done", models.ProfileStatusQueued)
}

func TestClaim_UnknownProfile(t *testing.T) {
	h := newTestHarness(t)
	if err := h.service.Claim(context.Background(), "prof_404"); !models.IsKind(err, models.ErrorKindNotFound) {
		t.Errorf("Expected not_found, got %v", err)
	}
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	h := newTestHarness(t)
	h.createProfile(t, "prof_1", models.ProfileStatusIdle)

	const claimants = 12
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.service.Claim(context.Background(), "prof_1")
			switch {
			case err == nil:
				wins.Add(1)
			case models.IsKind(err, models.ErrorKindConflict):
				// expected for losers
			default:
				t.Errorf("Unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly one winning claim, got %d", wins.Load())
	}
	h.mustStatus(t, "prof_1", models.ProfileStatusQueued)
}

func TestExecute_Success(t *testing.T) {
	h := newTestHarness(t)
	h.createProfile(t, "prof_1", models.ProfileStatusQueued)

	var pushedToken, pushedURL, pushedConn string
	h.session.obtainFunc = func(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionToken, error) {
		if len(credentials) == 0 {
			t.Error("ObtainToken called without credentials")
		}
		return &models.SessionToken{Value: "tok-fresh", ObtainedAt: time.Now()}, nil
	}
	h.downstream.pushFunc = func(ctx context.Context, token, downstreamURL, connectionToken string) (*models.PushResult, error) {
		pushedToken, pushedURL, pushedConn = token, downstreamURL, connectionToken
		return &models.PushResult{Message: "Token updated for user@example.com", Email: "user@example.com", Attempts: 1}, nil
	}

	if err := h.service.Execute(context.Background(), "prof_1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Push received the token and the settings snapshot
	if pushedToken != "tok-fresh" || pushedURL != "https://downstream.example.com" || pushedConn != "conn-token" {
		t.Errorf("Push inputs = %q %q %q", pushedToken, pushedURL, pushedConn)
	}

	// Profile is idle again with the outcome recorded
	profile := h.mustStatus(t, "prof_1", models.ProfileStatusIdle)
	if profile.LastToken != "tok-fresh" {
		t.Errorf("LastToken = %q", profile.LastToken)
	}
	if profile.Email != "user@example.com" {
		t.Errorf("Email = %q", profile.Email)
	}
	if profile.SyncCount != 1 || profile.FailureCount != 0 {
		t.Errorf("Counters: syncs=%d failures=%d", profile.SyncCount, profile.FailureCount)
	}
	if profile.LastSuccessAt.IsZero() || profile.LastAttemptAt.IsZero() {
		t.Error("Timestamps not stamped")
	}

	syncs, errors := h.service.Totals()
	if syncs != 1 || errors != 0 {
		t.Errorf("Totals = %d/%d, want 1/0", syncs, errors)
	}
}

func TestExecute_SkipsWhenNotQueued(t *testing.T) {
	h := newTestHarness(t)
	h.createProfile(t, "prof_1", models.ProfileStatusIdle)

	if err := h.service.Execute(context.Background(), "prof_1"); err != nil {
		t.Fatalf("Execute() on a non-queued profile must be a quiet skip, got %v", err)
	}
	h.mustStatus(t, "prof_1", models.ProfileStatusIdle)
	if h.session.calls.Load() != 0 {
		t.Error("Token exchange ran for a profile nobody claimed")
	}
}

func TestExecute_DeletedWhileQueued(t *testing.T) {
	h := newTestHarness(t)
	if err := h.service.Execute(context.Background(), "prof_gone"); err != nil {
		t.Fatalf("Execute() on a deleted profile must be a quiet skip, got %v", err)
	}
	if h.session.calls.Load() != 0 {
		t.Error("Token exchange ran for a deleted profile")
	}
}

func TestExecute_SessionExpiredParksProfile(t *testing.T) {
	h := newTestHarness(t)
	h.createProfile(t, "prof_1", models.ProfileStatusQueued)

	h.session.obtainFunc = func(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionToken, error) {
		return nil, models.NewError(models.ErrorKindSessionExpired, "redirected to login")
	}

	if err := h.service.Execute(context.Background(), "prof_1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	profile := h.mustStatus(t, "prof_1", models.ProfileStatusSessionExpired)
	if profile.LastError == nil || profile.LastError.Kind != models.ErrorKindSessionExpired {
		t.Errorf("LastError = %+v", profile.LastError)
	}
	if !profile.BackoffUntil.IsZero() {
		t.Errorf("Terminal park must not carry a backoff deadline, got %s", profile.BackoffUntil)
	}
	if h.downstream.calls.Load() != 0 {
		t.Error("Push ran despite the failed exchange")
	}

	// Parked profiles refuse further claims until credentials change
	if err := h.service.Claim(context.Background(), "prof_1"); !models.IsKind(err, models.ErrorKindSessionExpired) {
		t.Errorf("Expected session_expired on claim, got %v", err)
	}
}

func TestExecute_NetworkFailureBacksOffExponentially(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.createProfile(t, "prof_1", models.ProfileStatusQueued)

	h.session.obtainFunc = func(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionToken, error) {
		return nil, models.NewError(models.ErrorKindNetwork, "navigation timed out")
	}

	// First failure: failure count 1, delay base<<1 = 2m
	before := time.Now()
	if err := h.service.Execute(ctx, "prof_1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	profile := h.mustStatus(t, "prof_1", models.ProfileStatusBackoff)
	if profile.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", profile.FailureCount)
	}
	assertBackoffNear(t, profile.BackoffUntil, before, 2*time.Minute)

	// Second failure: failure count 2, delay base<<2 = 4m
	mustCAS(t, h.storage, "prof_1", models.ProfileStatusBackoff, models.ProfileStatusQueued)
	before = time.Now()
	if err := h.service.Execute(ctx, "prof_1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	profile = h.mustStatus(t, "prof_1", models.ProfileStatusBackoff)
	if profile.FailureCount != 2 {
		t.Errorf("FailureCount = %d, want 2", profile.FailureCount)
	}
	assertBackoffNear(t, profile.BackoffUntil, before, 4*time.Minute)

	_, errors := h.service.Totals()
	if errors != 2 {
		t.Errorf("Total errors = %d, want 2", errors)
	}
}

func TestExecute_DownstreamRejectionBacksOff(t *testing.T) {
	h := newTestHarness(t)
	h.createProfile(t, "prof_1", models.ProfileStatusQueued)

	h.downstream.pushFunc = func(ctx context.Context, token, downstreamURL, connectionToken string) (*models.PushResult, error) {
		return nil, models.NewError(models.ErrorKindDownstreamRejected, "downstream rejected token (401)")
	}

	if err := h.service.Execute(context.Background(), "prof_1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// A rejection is surfaced but not terminal: the profile retries later
	profile := h.mustStatus(t, "prof_1", models.ProfileStatusBackoff)
	if profile.LastError == nil || profile.LastError.Kind != models.ErrorKindDownstreamRejected {
		t.Errorf("LastError = %+v", profile.LastError)
	}
	if profile.BackoffUntil.IsZero() {
		t.Error("Expected a backoff deadline")
	}
}

func TestExecute_SuccessClearsBackoffHistory(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.createProfile(t, "prof_1", models.ProfileStatusQueued)

	// Fail once to accumulate history
	h.session.obtainFunc = func(ctx context.Context, credentials []byte, proxy *models.ProxyConfig) (*models.SessionToken, error) {
		return nil, models.NewError(models.ErrorKindNetwork, "flaky")
	}
	if err := h.service.Execute(ctx, "prof_1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Then succeed
	h.session.obtainFunc = nil
	mustCAS(t, h.storage, "prof_1", models.ProfileStatusBackoff, models.ProfileStatusQueued)
	if err := h.service.Execute(ctx, "prof_1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	profile := h.mustStatus(t, "prof_1", models.ProfileStatusIdle)
	if profile.FailureCount != 0 || !profile.BackoffUntil.IsZero() || profile.LastError != nil {
		t.Errorf("Failure history not cleared: %+v", profile)
	}
	if profile.ErrorCount != 1 {
		t.Errorf("Lifetime error count must survive the reset, got %d", profile.ErrorCount)
	}
}

func assertBackoffNear(t *testing.T, got time.Time, start time.Time, delay time.Duration) {
	t.Helper()
	lower := start.Add(delay)
	upper := time.Now().Add(delay)
	if got.Before(lower) || got.After(upper.Add(time.Second)) {
		t.Errorf("BackoffUntil = %s, want within [%s, %s]", got, lower, upper)
	}
}

func mustCAS(t *testing.T, storage interfaces.ProfileStorage, id string, from, to models.ProfileStatus) {
	t.Helper()
	ok, err := storage.CompareAndSetStatus(context.Background(), id, from, to)
	if err != nil || !ok {
		t.Fatalf("Failed to move %s from %s to %s: ok=%v err=%v", id, from, to, ok, err)
	}
}
