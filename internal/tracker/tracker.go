// Package tracker measures reading time and reports it in batches.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SyncFunc delivers whole seconds of reading time. A nil error confirms the
// seconds were recorded remotely.
type SyncFunc func(ctx context.Context, seconds int) error

// Config controls tick and sync cadence.
type Config struct {
	TickInterval time.Duration // how often elapsed time is recomputed
	SyncInterval time.Duration // minimum spacing between sync attempts
	MinSync      time.Duration // smallest amount worth syncing
	MaxRetries   int           // failed attempts allowed before backing off
	RetryBackoff time.Duration // spacing of attempts once retries are used up
}

// DefaultConfig ticks every second and syncs at least 10s of reading no
// more often than every 30s.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		SyncInterval: 30 * time.Second,
		MinSync:      10 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.MinSync <= 0 {
		c.MinSync = d.MinSync
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// ErrNotStarted is returned by Stop on a tracker that never started.
var ErrNotStarted = errors.New("tracker: not started")

// Tracker is a session-scoped stopwatch. Time is folded into an accumulator
// on pause and on sync; the accumulator only shrinks by the amount a sync
// confirmed, so failed syncs keep their time for a later attempt.
type Tracker struct {
	cfg    Config
	sync   SyncFunc
	now    func() time.Time
	logger *slog.Logger

	// retries gates attempts after a failure: MaxRetries quick retries,
	// then one per RetryBackoff.
	retries *rate.Limiter

	mu           sync.Mutex
	ctx          context.Context
	started      bool
	stopped      bool
	running      bool
	sessionStart time.Time
	accumulated  time.Duration
	lastSync     time.Time
	failures     int
	inFlight     bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker that reports through fn.
func New(cfg Config, fn SyncFunc, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	t := &Tracker{
		cfg:     cfg,
		sync:    fn,
		now:     time.Now,
		logger:  logger,
		retries: rate.NewLimiter(rate.Every(cfg.RetryBackoff), cfg.MaxRetries),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start records the session start and begins ticking. It is a no-op on a
// tracker that is already started.
func (t *Tracker) Start(ctx context.Context) {
	t.startAt(ctx, t.now())

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopCh != nil || t.stopped {
		return
	}
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	go t.loop(t.stopCh, t.doneCh)
}

// StartManual starts the stopwatch without the ticking goroutine; the
// caller drives Tick.
func (t *Tracker) StartManual(ctx context.Context) {
	t.startAt(ctx, t.now())
}

func (t *Tracker) startAt(ctx context.Context, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	if ctx != nil {
		t.ctx = ctx
	}
	t.started = true
	t.running = true
	t.sessionStart = now
	t.lastSync = now
}

func (t *Tracker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Tick(t.now())
		case <-stop:
			return
		case <-t.ctx.Done():
			return
		}
	}
}

// Pause folds the running session into the accumulator without syncing.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.foldLocked(t.now())
	t.running = false
}

// Resume starts a new session after Pause.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.stopped || t.running {
		return
	}
	t.running = true
	t.sessionStart = t.now()
}

// Pending returns the time not yet confirmed by a sync.
func (t *Tracker) Pending() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked(t.now())
}

// Tick recomputes elapsed time and syncs when at least MinSync is pending
// and SyncInterval has passed since the last attempt.
func (t *Tracker) Tick(now time.Time) {
	t.mu.Lock()
	if !t.started || t.stopped || t.inFlight {
		t.mu.Unlock()
		return
	}
	if t.elapsedLocked(now) < t.cfg.MinSync || now.Sub(t.lastSync) < t.cfg.SyncInterval {
		t.mu.Unlock()
		return
	}
	if t.failures > 0 && !t.retries.AllowN(now, 1) {
		t.mu.Unlock()
		return
	}
	ctx := t.ctx
	t.mu.Unlock()

	t.syncNow(ctx, now)
}

// Stop ends tracking: the ticker stops, the session is folded and a final
// sync is attempted when at least MinSync is pending, regardless of the
// sync interval or retry backoff.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	stopCh, doneCh := t.stopCh, t.doneCh
	t.stopCh = nil
	t.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}

	now := t.now()
	t.mu.Lock()
	if t.running {
		t.foldLocked(now)
		t.running = false
	}
	t.stopped = true
	pending := t.accumulated
	t.mu.Unlock()

	if pending < t.cfg.MinSync {
		return nil
	}
	return t.syncNow(ctx, now)
}

// syncNow reports the pending whole seconds and, on success, removes
// exactly that amount from the accumulator.
func (t *Tracker) syncNow(ctx context.Context, now time.Time) error {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		return nil
	}
	if t.running {
		t.foldLocked(now)
	}
	seconds := int(t.accumulated / time.Second)
	t.inFlight = true
	t.lastSync = now
	t.mu.Unlock()

	err := t.sync(ctx, seconds)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight = false
	if err != nil {
		t.failures++
		t.logger.Warn("failed to sync reading time",
			"seconds", seconds,
			"consecutive_failures", t.failures,
			"error", err,
		)
		return err
	}
	t.accumulated -= time.Duration(seconds) * time.Second
	t.failures = 0
	t.logger.Debug("reading time synced", "seconds", seconds)
	return nil
}

func (t *Tracker) foldLocked(now time.Time) {
	if d := now.Sub(t.sessionStart); d > 0 {
		t.accumulated += d
	}
	t.sessionStart = now
}

func (t *Tracker) elapsedLocked(now time.Time) time.Duration {
	elapsed := t.accumulated
	if t.running {
		if d := now.Sub(t.sessionStart); d > 0 {
			elapsed += d
		}
	}
	return elapsed
}
