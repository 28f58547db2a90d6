package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/renovo/internal/common"
	"github.com/ternarybob/renovo/internal/interfaces"
	"github.com/ternarybob/renovo/internal/models"
)

// queueCapacity bounds the claimed-but-waiting backlog. A full queue
// releases the claim back to idle rather than blocking the tick.
const queueCapacity = 256

// Service drives the periodic eligibility scan and the bounded worker
// pool. Scheduled ticks and manual triggers share the same claim path, so
// a profile is only ever synced by one worker at a time.
type Service struct {
	storage  interfaces.ProfileStorage
	syncer   interfaces.SyncService
	settings interfaces.SettingsService
	events   interfaces.EventService
	logger   arbor.ILogger

	jitterMax time.Duration

	mu          sync.Mutex
	running     bool
	interval    time.Duration
	concurrency int
	cron        *cron.Cron
	entryID     cron.EntryID

	queue chan string

	svcCtx     context.Context
	svcCancel  context.CancelFunc
	poolCtx    context.Context
	poolCancel context.CancelFunc
	wg         sync.WaitGroup

	settingsHandler interfaces.EventHandler

	lastBatchAt   *time.Time
	lastBatchSize int
}

// NewService creates the scheduler. Cadence and pool size come from the
// settings snapshot at Start; jitter comes from static config.
func NewService(
	storage interfaces.ProfileStorage,
	syncService interfaces.SyncService,
	settingsService interfaces.SettingsService,
	eventService interfaces.EventService,
	syncConfig *common.SyncConfig,
	logger arbor.ILogger,
) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}

	return &Service{
		storage:   storage,
		syncer:    syncService,
		settings:  settingsService,
		events:    eventService,
		logger:    logger,
		jitterMax: syncConfig.JitterMax,
	}
}

// Start recovers interrupted profiles, starts the worker pool and
// registers the periodic tick. Recovery runs before the first tick so a
// crash mid-sync never leaves profiles stuck in queued or running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	reset, err := s.storage.ResetInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted profiles: %w", err)
	}
	if reset > 0 {
		s.logger.Info().Int("count", reset).Msg("Interrupted profiles reset to idle")
	}

	cfg := s.settings.Get()
	s.interval = cfg.RefreshInterval
	s.concurrency = cfg.MaxConcurrency
	if s.interval <= 0 {
		s.interval = 15 * time.Minute
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}

	s.svcCtx, s.svcCancel = context.WithCancel(context.Background())
	s.queue = make(chan string, queueCapacity)
	s.startWorkersLocked(s.concurrency)

	s.cron = cron.New()
	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick)
	if err != nil {
		s.poolCancel()
		s.svcCancel()
		return fmt.Errorf("failed to register sync tick: %w", err)
	}
	s.entryID = entryID
	s.cron.Start()

	s.subscribeSettingsLocked()

	s.running = true
	s.logger.Info().
		Str("interval", s.interval.String()).
		Int("concurrency", s.concurrency).
		Dur("jitter_max", s.jitterMax).
		Msg("Sync scheduler started")

	return nil
}

// Stop halts the tick, waits for in-flight syncs to finish and releases
// any still-queued claims back to idle.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	// Abort a tick sleeping in its jitter window, then wait out any
	// in-flight tick before tearing down the pool.
	s.svcCancel()
	<-s.cron.Stop().Done()

	if s.events != nil && s.settingsHandler != nil {
		s.events.Unsubscribe(interfaces.EventSettingsUpdated, s.settingsHandler)
	}

	s.poolCancel()
	s.wg.Wait()
	s.drainQueue()

	s.logger.Info().Msg("Sync scheduler stopped")
	return nil
}

// IsRunning returns true while the tick and pool are live
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerSync claims one profile through the shared claim path and hands
// it to the pool. A busy or ineligible profile surfaces as a conflict.
func (s *Service) TriggerSync(ctx context.Context, id string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return models.NewConflictError("sync engine is not running")
	}

	if err := s.syncer.Claim(ctx, id); err != nil {
		return err
	}
	if !s.enqueue(ctx, id) {
		return models.NewConflictError("sync queue is full, try again shortly")
	}

	s.logger.Info().Str("profile_id", id).Msg("Manual sync queued")
	return nil
}

// SyncAll claims every profile independently and reports the outcome per
// profile. A conflict on one profile never aborts the batch.
func (s *Service) SyncAll(ctx context.Context) ([]*models.TriggerAck, error) {
	profiles, err := s.storage.List(ctx)
	if err != nil {
		return nil, err
	}

	acks := make([]*models.TriggerAck, 0, len(profiles))
	queued := 0
	for _, p := range profiles {
		ack := &models.TriggerAck{ProfileID: p.ID, Name: p.Name}
		if err := s.syncer.Claim(ctx, p.ID); err != nil {
			ack.Reason = err.Error()
		} else if s.enqueue(ctx, p.ID) {
			ack.Queued = true
			queued++
		} else {
			ack.Reason = "sync queue is full"
		}
		acks = append(acks, ack)
	}

	s.logger.Info().
		Int("queued", queued).
		Int("total", len(profiles)).
		Msg("Sync-all claimed eligible profiles")

	return acks, nil
}

// Reschedule applies a changed cadence or pool size. The pool is swapped
// by stopping the old workers and starting the new count; the queue and
// its contents survive the swap.
func (s *Service) Reschedule(interval time.Duration, concurrency int) error {
	if interval <= 0 {
		return models.NewValidationError("refresh interval must be positive, got %s", interval)
	}
	if concurrency < 1 {
		return models.NewValidationError("concurrency must be at least 1, got %d", concurrency)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.interval = interval
		s.concurrency = concurrency
		return nil
	}

	if interval != s.interval {
		s.cron.Remove(s.entryID)
		entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.tick)
		if err != nil {
			// Restore the old cadence so the engine keeps ticking.
			restored, restoreErr := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick)
			if restoreErr != nil {
				s.logger.Error().Err(restoreErr).Msg("Failed to restore sync tick after reschedule failure")
			} else {
				s.entryID = restored
			}
			return fmt.Errorf("failed to reschedule sync tick: %w", err)
		}
		s.entryID = entryID
		s.interval = interval
	}

	if concurrency != s.concurrency {
		s.poolCancel()
		s.wg.Wait()
		s.startWorkersLocked(concurrency)
		s.concurrency = concurrency
	}

	s.logger.Info().
		Str("interval", s.interval.String()).
		Int("concurrency", s.concurrency).
		Msg("Sync scheduler rescheduled")

	return nil
}

// Status reports the engine snapshot for the operator surface
func (s *Service) Status(ctx context.Context) (*models.EngineStatus, error) {
	counts, err := s.storage.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	syncs, errs := s.syncer.Totals()

	s.mu.Lock()
	defer s.mu.Unlock()

	status := &models.EngineStatus{
		Running:         s.running,
		Workers:         s.concurrency,
		TotalSyncs:      syncs,
		TotalErrors:     errs,
		LastBatchAt:     s.lastBatchAt,
		LastBatchSize:   s.lastBatchSize,
		ProfilesByState: counts,
	}
	if s.queue != nil {
		status.QueueDepth = len(s.queue)
	}
	if s.running {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			status.NextTick = &next
		}
	}

	return status, nil
}

func (s *Service) startWorkersLocked(n int) {
	s.poolCtx, s.poolCancel = context.WithCancel(context.Background())
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go s.worker(s.poolCtx, i)
	}
}

// tick runs on the cron goroutine: sleep a random jitter so restarts do
// not thundering-herd the target site, then scan and claim.
func (s *Service) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered from panic in scheduler tick")
		}
	}()

	if s.jitterMax > 0 {
		jitter := time.Duration(rand.Int63n(int64(s.jitterMax)))
		select {
		case <-s.svcCtx.Done():
			return
		case <-time.After(jitter):
		}
	}

	s.scan(s.svcCtx)
}

// scan claims every eligible profile and queues it for the pool. Elapsed
// backoff profiles count as eligible; the claim path promotes them.
func (s *Service) scan(ctx context.Context) int {
	candidates, err := s.storage.ListByStatus(ctx, models.ProfileStatusIdle, models.ProfileStatusBackoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Eligibility scan failed")
		return 0
	}

	now := time.Now()
	claimed := 0
	for _, p := range candidates {
		if !p.Eligible(now) {
			continue
		}
		if err := s.syncer.Claim(ctx, p.ID); err != nil {
			// Losing the race to a manual trigger is a normal outcome.
			s.logger.Debug().Err(err).Str("profile_id", p.ID).Msg("Tick claim skipped")
			continue
		}
		if s.enqueue(ctx, p.ID) {
			claimed++
		}
	}

	if claimed > 0 {
		at := time.Now()
		s.mu.Lock()
		s.lastBatchAt = &at
		s.lastBatchSize = claimed
		s.mu.Unlock()

		s.logger.Info().Int("claimed", claimed).Msg("🔄 Scheduler tick queued profiles for sync")
	} else {
		s.logger.Debug().Msg("Scheduler tick found no eligible profiles")
	}

	return claimed
}

// enqueue hands a claimed profile to the pool. When the queue is
// saturated the claim is released so the next tick can retry, keeping the
// tick non-blocking.
func (s *Service) enqueue(ctx context.Context, id string) bool {
	select {
	case s.queue <- id:
		return true
	default:
	}

	ok, err := s.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusQueued, models.ProfileStatusIdle)
	if err != nil || !ok {
		s.logger.Warn().Err(err).Str("profile_id", id).Msg("Claim stuck after queue overflow")
	} else {
		s.logger.Warn().Str("profile_id", id).Msg("Sync queue full, claim released")
	}
	return false
}

func (s *Service) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Int("worker_id", workerID).
				Msg("Sync worker goroutine panicked")
		}
	}()

	s.logger.Debug().Int("worker_id", workerID).Msg("Sync worker started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Int("worker_id", workerID).Msg("Sync worker stopping")
			return
		case id := <-s.queue:
			s.runTask(ctx, workerID, id)
		}
	}
}

// runTask executes one sync with per-task panic recovery, so a renderer
// crash takes down neither the worker nor its siblings.
func (s *Service) runTask(ctx context.Context, workerID int, id string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Str("profile_id", id).
				Int("worker_id", workerID).
				Msg("Recovered from panic in sync task")
			s.releasePanicked(id, fmt.Sprintf("sync panicked: %v", r))
		}
	}()

	if err := s.syncer.Execute(ctx, id); err != nil {
		s.logger.Error().
			Err(err).
			Str("profile_id", id).
			Int("worker_id", workerID).
			Dur("duration", time.Since(start)).
			Msg("Sync task errored")
		return
	}

	s.logger.Debug().
		Str("profile_id", id).
		Int("worker_id", workerID).
		Dur("duration", time.Since(start)).
		Msg("Sync task finished")
}

// releasePanicked records the failure and returns the profile to idle so
// a panic never strands it in queued or running until the next restart.
func (s *Service) releasePanicked(id, msg string) {
	ctx := context.Background()
	_, _ = s.storage.Update(ctx, id, func(p *models.Profile) error {
		p.RecordFailure(models.ErrorKindInternal, msg, time.Time{}, time.Now())
		return nil
	})
	for _, from := range []models.ProfileStatus{models.ProfileStatusRunning, models.ProfileStatusQueued} {
		if ok, _ := s.storage.CompareAndSetStatus(ctx, id, from, models.ProfileStatusIdle); ok {
			return
		}
	}
}

// drainQueue releases claims still waiting when the pool shuts down
func (s *Service) drainQueue() {
	ctx := context.Background()
	released := 0
	for {
		select {
		case id := <-s.queue:
			if ok, err := s.storage.CompareAndSetStatus(ctx, id, models.ProfileStatusQueued, models.ProfileStatusIdle); err == nil && ok {
				released++
			}
		default:
			if released > 0 {
				s.logger.Info().Int("count", released).Msg("Queued claims released on shutdown")
			}
			return
		}
	}
}

func (s *Service) subscribeSettingsLocked() {
	if s.events == nil {
		return
	}
	if s.settingsHandler == nil {
		s.settingsHandler = func(ctx context.Context, event interfaces.Event) error {
			return s.onSettingsUpdated(ctx)
		}
	}
	if err := s.events.Subscribe(interfaces.EventSettingsUpdated, s.settingsHandler); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to subscribe to settings updates")
	}
}

func (s *Service) onSettingsUpdated(ctx context.Context) error {
	cfg := s.settings.Get()

	s.mu.Lock()
	changed := cfg.RefreshInterval != s.interval || cfg.MaxConcurrency != s.concurrency
	s.mu.Unlock()
	if !changed {
		return nil
	}

	return s.Reschedule(cfg.RefreshInterval, cfg.MaxConcurrency)
}
