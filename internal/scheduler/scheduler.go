package scheduler

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"dealhunter/internal/cache"
	"dealhunter/internal/models"
	"dealhunter/internal/monitor"
)

// Tier task names. The first three map onto item priorities; cleanup
// sweeps the probe cache.
const (
	TaskFast    = "fast"
	TaskMedium  = "medium"
	TaskSlow    = "slow"
	TaskCleanup = "cleanup"
)

// TierRunner is the orchestrator surface the scheduler drives.
type TierRunner interface {
	RunTier(ctx context.Context, tier string) (monitor.TierStats, error)
}

// Periods holds the fixed tick period of each task.
type Periods struct {
	Fast    time.Duration
	Medium  time.Duration
	Slow    time.Duration
	Cleanup time.Duration
}

func DefaultPeriods() Periods {
	return Periods{
		Fast:    5 * time.Minute,
		Medium:  15 * time.Minute,
		Slow:    60 * time.Minute,
		Cleanup: 6 * time.Hour,
	}
}

// Scheduler owns the four periodic monitoring tasks. Each task ticks on
// its own fixed period; a tick still executing when the next is due is
// skipped, not queued. Distinct tasks run concurrently.
type Scheduler struct {
	runner    TierRunner
	cache     *cache.Store
	provider  io.Closer // released exactly once on Stop
	periods   Periods
	retention time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	running bool
	paused  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(runner TierRunner, store *cache.Store, provider io.Closer, periods Periods, retention time.Duration) *Scheduler {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Scheduler{
		runner:    runner,
		cache:     store,
		provider:  provider,
		periods:   periods,
		retention: retention,
		logger:    log.New(os.Stdout, "[Scheduler] ", log.LstdFlags),
	}
}

// SetLogger replaces the scheduler's logger.
func (s *Scheduler) SetLogger(l *log.Logger) { s.logger = l }

// Start launches all tier tasks. Calling it while running is a logged
// no-op, not an error.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Println("already running, start ignored")
		return
	}
	s.running = true
	s.paused.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	tasks := []struct {
		name   string
		period time.Duration
		run    func(context.Context)
	}{
		{TaskFast, s.periods.Fast, func(ctx context.Context) { s.runTier(ctx, TaskFast, models.TierHigh) }},
		{TaskMedium, s.periods.Medium, func(ctx context.Context) { s.runTier(ctx, TaskMedium, models.TierMedium) }},
		{TaskSlow, s.periods.Slow, func(ctx context.Context) { s.runTier(ctx, TaskSlow, models.TierLow) }},
		{TaskCleanup, s.periods.Cleanup, s.runCleanup},
	}

	for _, task := range tasks {
		s.wg.Add(1)
		go s.loop(ctx, task.name, task.period, task.run)
	}
	s.logger.Printf("started: fast=%v medium=%v slow=%v cleanup=%v",
		s.periods.Fast, s.periods.Medium, s.periods.Slow, s.periods.Cleanup)
}

// Stop cancels all pending ticks, waits for in-flight tier executions
// to observe cancellation, and releases the probe provider. No new
// ticks fire after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Printf("failed to release probe provider: %v", err)
		}
	}
	s.logger.Println("stopped")
}

// Pause keeps the tickers running but makes every tick a no-op.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
	s.logger.Println("paused")
}

// Resume re-enables tick execution after Pause.
func (s *Scheduler) Resume() {
	s.paused.Store(false)
	s.logger.Println("resumed")
}

// Running reports whether the scheduler has been started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Paused reports whether tick execution is suspended.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// ActiveTasks returns the task names currently scheduled.
func (s *Scheduler) ActiveTasks() []string {
	if !s.Running() {
		return nil
	}
	return []string{TaskFast, TaskMedium, TaskSlow, TaskCleanup}
}

// loop drives one task. The busy flag enforces skip-not-queue for
// overlapping ticks of the same task.
func (s *Scheduler) loop(ctx context.Context, name string, period time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var busy int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if s.paused.Load() {
				continue
			}
			if !atomic.CompareAndSwapInt32(&busy, 0, 1) {
				s.logger.Printf("%s tick skipped: previous tick still running", name)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer atomic.StoreInt32(&busy, 0)
				defer func() {
					if r := recover(); r != nil {
						s.logger.Printf("%s tick panicked: %v", name, r)
					}
				}()
				run(ctx)
			}()
		}
	}
}

func (s *Scheduler) runTier(ctx context.Context, name, tier string) {
	stats, err := s.runner.RunTier(ctx, tier)
	if err != nil {
		// A failed tick never stops the scheduler or the other tiers.
		s.logger.Printf("%s tick failed: %v", name, err)
		return
	}
	if stats.Pairs > 0 {
		s.logger.Printf("%s tick: %d pairs, %d ok, %d failed", name, stats.Pairs, stats.Succeeded, stats.Failed)
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	evicted := s.cache.EvictOlderThan(s.retention)
	if evicted > 0 {
		s.logger.Printf("cleanup: evicted %d stale probe results", evicted)
	}
}
