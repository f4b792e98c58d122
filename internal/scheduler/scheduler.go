// Package scheduler triggers module runs on their configured intervals.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ameliarose/hub/internal/config"
	"github.com/ameliarose/hub/internal/engine"
	"github.com/ameliarose/hub/internal/events"
)

// entry tracks one scheduled module between ticks.
type entry struct {
	module   string
	interval time.Duration
	jitter   time.Duration
	nextDue  time.Time
}

// Scheduler drives periodic module runs via the engine.
type Scheduler struct {
	cfg     *config.Config
	runner  RunService
	pruner  HistoryPruner
	events  *events.Hub
	logger  *slog.Logger
	entries []*entry
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a scheduler from the configured module schedules. Modules with
// invalid intervals are logged and skipped. pruner may be nil.
func New(cfg *config.Config, runner RunService, pruner HistoryPruner, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if hub == nil {
		hub = events.NewHub(128)
	}
	s := &Scheduler{
		cfg:    cfg,
		runner: runner,
		pruner: pruner,
		events: hub,
		logger: logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}

	var keys []string
	for key := range cfg.Modules {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	now := time.Now()
	for _, key := range keys {
		mc := cfg.Modules[key]
		if !mc.IsEnabled() || mc.Schedule == nil {
			continue
		}
		interval, err := config.ParseInterval(mc.Schedule.Every)
		if err != nil {
			s.logger.Error("Invalid schedule interval for module", "module", key, "interval", mc.Schedule.Every, "error", err)
			continue
		}
		e := &entry{
			module:   key,
			interval: interval,
			jitter:   mc.Schedule.Jitter,
		}
		// First run lands one jittered interval after startup rather than
		// immediately, so restarts don't stampede every scheduled module.
		e.nextDue = now.Add(jitteredInterval(e.interval, e.jitter))
		s.entries = append(s.entries, e)
		s.logger.Info("Scheduled module", "module", key, "every", mc.Schedule.Every, "jitter", mc.Schedule.Jitter, "next_due", e.nextDue)
	}

	return s
}

// Start begins the scheduler's tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", "tick_interval", s.cfg.Service.TickInterval, "scheduled_modules", len(s.entries))
	s.wg.Add(1)
	go s.tickLoop(ctx)
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Service.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx, time.Now())
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs a single scheduling pass.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.logger.Debug("Scheduler tick")
	s.events.Publish(events.TypeSchedulerTick, map[string]any{
		"at": now.UTC(),
	})

	for _, e := range s.entries {
		if now.Before(e.nextDue) {
			continue
		}

		execID, err := s.runner.Run(e.module)
		switch {
		case err == nil:
			s.logger.Info("Started scheduled run", "module", e.module, "execution_id", execID)
		case errors.Is(err, engine.ErrAlreadyRunning):
			// A manual or still-running execution holds the slot; try again
			// next interval.
			s.logger.Info("Skipped scheduled run, module already running", "module", e.module)
		default:
			s.logger.Error("Failed to start scheduled run", "module", e.module, "error", err)
		}

		e.nextDue = now.Add(jitteredInterval(e.interval, e.jitter))
		s.logger.Debug("Rescheduled module", "module", e.module, "next_due", e.nextDue)
	}

	if s.pruner != nil && s.cfg.History.Retention > 0 {
		pruned, err := s.pruner.Prune(ctx, s.cfg.History.Retention)
		if err != nil {
			s.logger.Error("Failed to prune run history", "error", err)
		} else if pruned > 0 {
			s.logger.Info("Pruned run history", "rows", pruned)
		}
	}
}

// jitteredInterval adds a random delay in [0, jitter) to the base interval.
func jitteredInterval(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
