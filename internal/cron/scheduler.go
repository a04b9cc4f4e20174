// Package cron runs background compaction: a ticker-driven loop,
// optionally combined with a 5-field cron expression, that fires
// compaction passes until its context is cancelled.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the compaction scheduler.
type Config struct {
	// Compact runs one compaction pass and reports the evicted count.
	Compact func() (int, error)

	Logger *slog.Logger

	// Interval fires a pass every period. 0 disables the interval
	// trigger.
	Interval time.Duration

	// Schedule is an optional cron expression firing additional passes.
	// Empty disables the cron trigger.
	Schedule string
}

// Scheduler fires compaction passes on an interval and/or a cron
// schedule.
type Scheduler struct {
	compact  func() (int, error)
	logger   *slog.Logger
	interval time.Duration
	sched    cronlib.Schedule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. A malformed cron expression is
// rejected here, not at first fire.
func NewScheduler(cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		compact:  cfg.Compact,
		logger:   logger,
		interval: cfg.Interval,
	}
	if cfg.Schedule != "" {
		parsed, err := cronParser.Parse(cfg.Schedule)
		if err != nil {
			return nil, err
		}
		s.sched = parsed
	}
	return s, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("compaction scheduler started",
		"interval", s.interval, "cron", s.sched != nil)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("compaction scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var cronTimer *time.Timer
	var cronC <-chan time.Time
	if s.sched != nil {
		cronTimer = time.NewTimer(time.Until(s.sched.Next(time.Now())))
		defer cronTimer.Stop()
		cronC = cronTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.fire()
		case <-cronC:
			s.fire()
			cronTimer.Reset(time.Until(s.sched.Next(time.Now())))
		}
	}
}

func (s *Scheduler) fire() {
	evicted, err := s.compact()
	if err != nil {
		s.logger.Error("scheduled compaction failed", "error", err)
		return
	}
	if evicted > 0 {
		s.logger.Info("scheduled compaction evicted events", "evicted", evicted)
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
