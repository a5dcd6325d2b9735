package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recorder struct {
	mu    sync.Mutex
	calls []int
	fail  func(call int) bool
}

func (r *recorder) sync(_ context.Context, seconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, seconds)
	if r.fail != nil && r.fail(len(r.calls)) {
		return errors.New("network down")
	}
	return nil
}

func (r *recorder) Calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.calls...)
}

func newTestTracker(cfg Config, rec *recorder, clock *fakeClock) *Tracker {
	return New(cfg, rec.sync, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clock.Now))
}

// tickFor advances the clock one second at a time, ticking after each step.
func tickFor(tr *Tracker, clock *fakeClock, seconds int) {
	for i := 0; i < seconds; i++ {
		tr.Tick(clock.Advance(time.Second))
	}
}

func TestTracker_FortyFiveSecondSession(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	tr := newTestTracker(DefaultConfig(), rec, clock)

	tr.StartManual(context.Background())
	tickFor(tr, clock, 45)

	calls := rec.Calls()
	require.Len(t, calls, 1, "exactly one periodic sync within 45s")
	assert.GreaterOrEqual(t, calls[0], 10)
	assert.Equal(t, 30, calls[0])

	require.NoError(t, tr.Stop(context.Background()))
	calls = rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 15, calls[1], "final sync carries the remainder")
	assert.Zero(t, tr.Pending())
}

func TestTracker_NoSyncBelowMinimum(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	tr := newTestTracker(DefaultConfig(), rec, clock)

	tr.StartManual(context.Background())
	tickFor(tr, clock, 9)
	require.NoError(t, tr.Stop(context.Background()))

	assert.Empty(t, rec.Calls())
}

func TestTracker_FailedSyncKeepsTime(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{fail: func(call int) bool { return call == 1 }}
	tr := newTestTracker(DefaultConfig(), rec, clock)

	tr.StartManual(context.Background())
	tickFor(tr, clock, 30)
	require.Equal(t, []int{30}, rec.Calls())
	assert.Equal(t, 30*time.Second, tr.Pending(), "failed sync must not zero the accumulator")

	tickFor(tr, clock, 30)
	assert.Equal(t, []int{30, 60}, rec.Calls(), "retry carries the retained time")
	assert.Zero(t, tr.Pending())
}

func TestTracker_RetriesAreBounded(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{fail: func(int) bool { return true }}
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = 10 * time.Minute
	tr := newTestTracker(cfg, rec, clock)

	tr.StartManual(context.Background())
	tickFor(tr, clock, 300)

	// first attempt at 30s, then two retries, then the backoff window
	assert.Equal(t, []int{30, 60, 90}, rec.Calls())
	assert.Equal(t, 300*time.Second, tr.Pending())
}

func TestTracker_PauseResume(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	tr := newTestTracker(DefaultConfig(), rec, clock)

	tr.StartManual(context.Background())
	tickFor(tr, clock, 5)
	tr.Pause()
	tr.Pause()

	clock.Advance(100 * time.Second)
	tr.Tick(clock.Now())
	assert.Equal(t, 5*time.Second, tr.Pending(), "paused time is not counted")
	assert.Empty(t, rec.Calls())

	tr.Resume()
	tickFor(tr, clock, 4)
	assert.Equal(t, 9*time.Second, tr.Pending())
	assert.Empty(t, rec.Calls())

	// 10s pending and well past the sync interval: the next tick syncs.
	tickFor(tr, clock, 1)
	assert.Equal(t, []int{10}, rec.Calls())
	assert.Zero(t, tr.Pending())
}

func TestTracker_StopWhilePaused(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	tr := newTestTracker(DefaultConfig(), rec, clock)

	tr.StartManual(context.Background())
	tickFor(tr, clock, 12)
	tr.Pause()
	clock.Advance(time.Hour)

	require.NoError(t, tr.Stop(context.Background()))
	assert.Equal(t, []int{12}, rec.Calls())

	// Stop is idempotent and the tracker stays stopped.
	require.NoError(t, tr.Stop(context.Background()))
	tr.Resume()
	tickFor(tr, clock, 60)
	assert.Equal(t, []int{12}, rec.Calls())
}

func TestTracker_StopFinalSyncFailureIsReported(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{fail: func(int) bool { return true }}
	tr := newTestTracker(DefaultConfig(), rec, clock)

	tr.StartManual(context.Background())
	clock.Advance(20 * time.Second)

	err := tr.Stop(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []int{20}, rec.Calls())
}

func TestTracker_StopWithoutStart(t *testing.T) {
	tr := New(DefaultConfig(), (&recorder{}).sync, nil)
	assert.ErrorIs(t, tr.Stop(context.Background()), ErrNotStarted)
}

func TestTracker_StartRunsTickerUntilStop(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	tr := newTestTracker(cfg, rec, clock)

	tr.Start(context.Background())
	tr.Start(context.Background())
	clock.Advance(20 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.Calls(), "20s is below the sync interval")

	require.NoError(t, tr.Stop(context.Background()))
	assert.Equal(t, []int{20}, rec.Calls())
}

func TestConfig_WithDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), Config{}.withDefaults())
}
