package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"dealhunter/internal/cache"
	"dealhunter/internal/models"
	"dealhunter/internal/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner counts tier runs; an optional gate blocks a run until
// released.
type fakeRunner struct {
	mu    sync.Mutex
	runs  map[string]int
	gate  chan struct{}
	calls chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{runs: make(map[string]int), calls: make(chan string, 64)}
}

func (f *fakeRunner) RunTier(ctx context.Context, tier string) (monitor.TierStats, error) {
	f.mu.Lock()
	f.runs[tier]++
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.calls <- tier:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return monitor.TierStats{}, nil
}

func (f *fakeRunner) count(tier string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[tier]
}

// fakeCloser counts Close invocations.
type fakeCloser struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeCloser) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeCloser) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func shortPeriods() Periods {
	return Periods{
		Fast:    10 * time.Millisecond,
		Medium:  15 * time.Millisecond,
		Slow:    20 * time.Millisecond,
		Cleanup: 25 * time.Millisecond,
	}
}

func TestSchedulerTicksAllTiers(t *testing.T) {
	runner := newFakeRunner()
	closer := &fakeCloser{}
	s := New(runner, cache.NewStore(), closer, shortPeriods(), time.Hour)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runner.count(models.TierHigh) > 0 &&
			runner.count(models.TierMedium) > 0 &&
			runner.count(models.TierLow) > 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, s.Running())
	assert.ElementsMatch(t, []string{TaskFast, TaskMedium, TaskSlow, TaskCleanup}, s.ActiveTasks())
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	runner := newFakeRunner()
	s := New(runner, cache.NewStore(), &fakeCloser{}, shortPeriods(), time.Hour)

	s.Start()
	s.Start()
	defer s.Stop()

	// A doubled start must not double the tick rate: with a single fast
	// loop at 10ms, 35ms of run time fits at most a handful of ticks.
	time.Sleep(35 * time.Millisecond)
	assert.LessOrEqual(t, runner.count(models.TierHigh), 4)
}

func TestSchedulerStopHaltsTicksAndReleasesProvider(t *testing.T) {
	runner := newFakeRunner()
	closer := &fakeCloser{}
	s := New(runner, cache.NewStore(), closer, shortPeriods(), time.Hour)

	s.Start()
	require.Eventually(t, func() bool { return runner.count(models.TierHigh) > 0 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	assert.Equal(t, 1, closer.closedCount())
	assert.Nil(t, s.ActiveTasks())

	after := runner.count(models.TierHigh)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, runner.count(models.TierHigh))

	// A second stop is a no-op; the provider is not closed again.
	s.Stop()
	assert.Equal(t, 1, closer.closedCount())
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	s := New(runner, cache.NewStore(), &fakeCloser{}, Periods{
		Fast:    10 * time.Millisecond,
		Medium:  time.Hour,
		Slow:    time.Hour,
		Cleanup: time.Hour,
	}, time.Hour)

	s.Start()

	// First fast tick enters and blocks on the gate; the following
	// ticks must be skipped, not queued behind it.
	<-runner.calls
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, runner.count(models.TierHigh))

	// Stop unblocks the in-flight tick through context cancellation.
	s.Stop()
	assert.Equal(t, 1, runner.count(models.TierHigh))
}

func TestSchedulerPauseAndResume(t *testing.T) {
	runner := newFakeRunner()
	s := New(runner, cache.NewStore(), &fakeCloser{}, shortPeriods(), time.Hour)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runner.count(models.TierHigh) > 0 }, 2*time.Second, 5*time.Millisecond)

	s.Pause()
	assert.True(t, s.Paused())
	// Let any tick already past the pause check drain.
	time.Sleep(20 * time.Millisecond)
	before := runner.count(models.TierHigh)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, before, runner.count(models.TierHigh))

	s.Resume()
	assert.False(t, s.Paused())
	require.Eventually(t, func() bool {
		return runner.count(models.TierHigh) > before
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerCleanupEvictsStaleProbes(t *testing.T) {
	runner := newFakeRunner()
	store := cache.NewStore()
	store.Put(cache.ProbeResult{ItemID: 1, RetailerID: "acme", ObservedAt: time.Now().Add(-2 * time.Hour), Success: true})
	store.Put(cache.ProbeResult{ItemID: 2, RetailerID: "acme", ObservedAt: time.Now(), Success: true})

	s := New(runner, store, &fakeCloser{}, Periods{
		Fast:    time.Hour,
		Medium:  time.Hour,
		Slow:    time.Hour,
		Cleanup: 10 * time.Millisecond,
	}, time.Hour)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return store.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, ok := store.Get(2, "acme")
	assert.True(t, ok)
}
