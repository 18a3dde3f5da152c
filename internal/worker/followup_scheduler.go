package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/cardmail/internal/pkg/distlock"
	"github.com/ignite/cardmail/internal/pkg/logger"
	"github.com/ignite/cardmail/internal/service/followup"
)

// DefaultSchedulerTick is how often the loop checks whether a sweep is due.
const DefaultSchedulerTick = 10 * time.Second

// Cadence is how often the follow-up sweep runs. Either Every is set, or the
// sweep runs once a day at Hour:Minute local time.
type Cadence struct {
	Every  time.Duration
	Hour   int
	Minute int
}

// CadenceFor derives the sweep cadence from the follow-up threshold: short
// development thresholds are polled every minute, same-day thresholds every
// five minutes, and anything a day or longer once a day.
func CadenceFor(threshold time.Duration, hour, minute int) Cadence {
	switch {
	case threshold < time.Hour:
		return Cadence{Every: time.Minute}
	case threshold < 24*time.Hour:
		return Cadence{Every: 5 * time.Minute}
	default:
		return Cadence{Hour: hour, Minute: minute}
	}
}

// Daily reports whether the cadence is a wall-clock daily run.
func (c Cadence) Daily() bool { return c.Every <= 0 }

// Next returns the first run time strictly after t.
func (c Cadence) Next(t time.Time) time.Time {
	if !c.Daily() {
		return t.Add(c.Every)
	}
	next := time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (c Cadence) String() string {
	if c.Daily() {
		return fmt.Sprintf("daily at %02d:%02d", c.Hour, c.Minute)
	}
	return "every " + c.Every.String()
}

// Sweeper runs one follow-up batch.
type Sweeper interface {
	SendBatch(ctx context.Context, threshold time.Duration) followup.Summary
}

// SchedulerConfig configures a FollowUpScheduler.
type SchedulerConfig struct {
	Threshold time.Duration
	Tick      time.Duration
	DailyHour int
	DailyMin  int
	Now       func() time.Time
}

// SchedulerStatus is reported by the API.
type SchedulerStatus struct {
	Running     bool              `json:"running"`
	Threshold   string            `json:"threshold"`
	Cadence     string            `json:"cadence"`
	NextRun     *time.Time        `json:"next_run,omitempty"`
	LastRun     *time.Time        `json:"last_run,omitempty"`
	LastSummary *followup.Summary `json:"last_summary,omitempty"`
}

// FollowUpScheduler runs the follow-up sweep on its cadence. Each run holds
// a distributed lock so that only one replica sweeps at a time.
type FollowUpScheduler struct {
	sweeper Sweeper
	lock    distlock.Lock
	cfg     SchedulerConfig
	cadence Cadence
	log     *logger.Logger

	// runMu keeps the tick loop and RunNow from sharing the lock value.
	runMu sync.Mutex

	stateMu     sync.RWMutex
	nextRun     time.Time
	lastRun     time.Time
	lastSummary *followup.Summary

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewFollowUpScheduler creates a scheduler. lock may be nil for a single
// in-process replica.
func NewFollowUpScheduler(sweeper Sweeper, lock distlock.Lock, cfg SchedulerConfig) *FollowUpScheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultSchedulerTick
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if lock == nil {
		lock = distlock.NewLocalLock()
	}
	return &FollowUpScheduler{
		sweeper: sweeper,
		lock:    lock,
		cfg:     cfg,
		cadence: CadenceFor(cfg.Threshold, cfg.DailyHour, cfg.DailyMin),
		log:     logger.Default().With("component", "followup_scheduler"),
	}
}

// Cadence returns the cadence derived from the threshold.
func (s *FollowUpScheduler) Cadence() Cadence { return s.cadence }

// Start begins the polling loop.
func (s *FollowUpScheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.setNext(s.cadence.Next(s.cfg.Now()))
	s.log.Info("starting", "threshold", s.cfg.Threshold.String(), "cadence", s.cadence.String())

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish its
// current candidate.
func (s *FollowUpScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Info("stopped")
}

// IsRunning reports whether the loop is active.
func (s *FollowUpScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *FollowUpScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.ctx)
		}
	}
}

// tick runs a sweep when the next due time has passed.
func (s *FollowUpScheduler) tick(ctx context.Context) {
	now := s.cfg.Now()
	if now.Before(s.next()) {
		return
	}
	if _, err := s.RunNow(ctx); err != nil {
		s.log.Warn("sweep skipped", "error", err)
	}
	s.setNext(s.cadence.Next(s.cfg.Now()))
}

// RunNow performs one sweep synchronously. It returns distlock.ErrNotAcquired
// when another sweep holds the lock, here or on another replica.
func (s *FollowUpScheduler) RunNow(ctx context.Context) (followup.Summary, error) {
	if !s.runMu.TryLock() {
		return followup.Summary{}, distlock.ErrNotAcquired
	}
	defer s.runMu.Unlock()

	var summary followup.Summary
	err := distlock.Do(ctx, s.lock, func(ctx context.Context) error {
		summary = s.sweeper.SendBatch(ctx, s.cfg.Threshold)
		if cause := context.Cause(ctx); errors.Is(cause, distlock.ErrLockLost) {
			s.log.Warn("sweep cut short, lock lost", "error", cause, "sent", summary.Sent)
		}
		return nil
	})
	if err != nil {
		return followup.Summary{}, err
	}

	s.stateMu.Lock()
	s.lastRun = s.cfg.Now()
	s.lastSummary = &summary
	s.stateMu.Unlock()

	if summary.TotalCandidates > 0 {
		s.log.Info("sweep complete",
			"candidates", summary.TotalCandidates,
			"sent", summary.Sent,
			"failed", summary.Failed,
			"skipped", summary.Skipped)
	}
	return summary, nil
}

// Status snapshots the scheduler for the API.
func (s *FollowUpScheduler) Status() SchedulerStatus {
	st := SchedulerStatus{
		Running:   s.IsRunning(),
		Threshold: s.cfg.Threshold.String(),
		Cadence:   s.cadence.String(),
	}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if st.Running && !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRun = &next
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		st.LastRun = &last
	}
	if s.lastSummary != nil {
		sum := *s.lastSummary
		st.LastSummary = &sum
	}
	return st
}

func (s *FollowUpScheduler) next() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.nextRun
}

func (s *FollowUpScheduler) setNext(t time.Time) {
	s.stateMu.Lock()
	s.nextRun = t
	s.stateMu.Unlock()
}
