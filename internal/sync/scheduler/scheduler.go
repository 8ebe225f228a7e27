// Package scheduler provides background scheduling for reconciliation
// passes and offline-queue retries.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/logging"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// Syncer is the reconciliation surface the scheduler drives. A
// *sync.Session satisfies it.
type Syncer interface {
	Synchronize(ctx context.Context) error
	SynchronizeDue(ctx context.Context) error
	Status() models.SyncStatus
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval  time.Duration // full reconciliation cadence when online (default: 15 minutes)
	RetryInterval time.Duration // queued-operation retry cadence (default: 1 minute)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  15 * time.Minute,
		RetryInterval: 1 * time.Minute,
	}
}

// Scheduler periodically drives reconciliation in the background: a
// slow full pass while online, plus a faster retry pass that fires only
// when queued operations are due for replay. Passes never overlap; the
// syncer's own single-flight guard is the backstop.
type Scheduler struct {
	syncer        Syncer
	syncInterval  time.Duration
	retryInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	inProgress   bool
	lastSyncTime time.Time
}

// New creates a Scheduler.
func New(syncer Syncer, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		syncer:        syncer,
		syncInterval:  config.SyncInterval,
		retryInterval: config.RetryInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.fullSyncLoop(ctx)
	go s.retryLoop(ctx)

	logging.Info("Background sync scheduler started", nil)
}

// Stop stops the scheduler and waits for in-flight passes to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// LastSyncTime returns when the last successful background pass ended.
func (s *Scheduler) LastSyncTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncTime
}

// fullSyncLoop runs the slow periodic reconciliation while online.
func (s *Scheduler) fullSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.syncer.Status().IsOnline {
				continue
			}
			s.runPass(ctx, "periodic", s.syncer.Synchronize)
		}
	}
}

// retryLoop replays queued operations on a faster cadence. It fires
// only while online and the queue holds work, and honors each
// operation's backoff gate so failing entities are not hammered.
func (s *Scheduler) retryLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			status := s.syncer.Status()
			if !status.IsOnline || status.PendingChangesCount == 0 {
				continue
			}
			s.runPass(ctx, "retry", s.syncer.SynchronizeDue)
		}
	}
}

// runPass executes one reconciliation pass, skipping when another is
// already in flight.
func (s *Scheduler) runPass(ctx context.Context, kind string, pass func(context.Context) error) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		logging.Debug("Reconciliation already in progress, skipping", nil)
		return
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	passCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := pass(passCtx); err != nil {
		if apperrors.Is(err, apperrors.ErrSyncInProgress) {
			return
		}
		logging.ErrorWithCode("Background reconciliation failed",
			string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"pass": kind})
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()
}
