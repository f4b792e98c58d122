// Package engine orchestrates module execution: it gates duplicate runs
// through the state tracker, spawns process runners, wires their output into
// the shared queue, and reports completions to the tracker, the history
// store, and the event hub.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ameliarose/hub/internal/events"
	"github.com/ameliarose/hub/internal/log"
	"github.com/ameliarose/hub/internal/module"
	"github.com/ameliarose/hub/internal/run"
	"github.com/ameliarose/hub/internal/runner"
	"github.com/ameliarose/hub/internal/stream"
	"github.com/ameliarose/hub/internal/tracker"
)

var (
	// ErrModuleNotFound means the key is not in the registry.
	ErrModuleNotFound = errors.New("module not found")
	// ErrScriptNotFound means the descriptor's program does not resolve.
	// Returned synchronously; no process is spawned and no state changes.
	ErrScriptNotFound = errors.New("script not found")
	// ErrAlreadyRunning mirrors the tracker's duplicate-run gate.
	ErrAlreadyRunning = tracker.ErrAlreadyRunning
	// ErrNotRunning is returned by Cancel when no execution is in flight.
	ErrNotRunning = errors.New("module is not running")
)

// HistorySink receives one record per completed run. Optional.
type HistorySink interface {
	Record(ctx context.Context, res run.Result) error
}

// Options tune the engine. Zero values select the documented defaults.
type Options struct {
	Timeout       time.Duration // per-run wall clock limit, default 300s
	Grace         time.Duration // SIGTERM to SIGKILL window, default 2s
	QueueCapacity int           // output queue bound, default 10000
	BatchTick     time.Duration // dispatcher cadence, default 100ms
	BatchSize     int           // per-tick delivery cap, default 50

	Events  *events.Hub // optional lifecycle event publishing
	History HistorySink // optional run result persistence
}

// Coordinator is the external-facing facade of the execution engine.
type Coordinator struct {
	registry *module.Registry
	tracker  *tracker.Tracker
	queue    *stream.Queue
	disp     *stream.Dispatcher
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]*runner.Runner

	wg sync.WaitGroup
}

// New builds a coordinator delivering batches to the given renderer callback.
// Call Start before running modules and Stop on shutdown.
func New(registry *module.Registry, deliver stream.Deliver, opts Options) *Coordinator {
	q := stream.NewQueue(opts.QueueCapacity)
	c := &Coordinator{
		registry: registry,
		tracker:  tracker.New(),
		queue:    q,
		disp:     stream.NewDispatcher(q, deliver, opts.BatchTick, opts.BatchSize),
		opts:     opts,
		logger:   log.WithComponent("engine"),
		running:  make(map[string]*runner.Runner),
	}
	if opts.Events != nil {
		hub := opts.Events
		q.OnDrop(func(n uint64) {
			hub.Publish(events.TypeOutputDropped, map[string]uint64{"dropped": n})
		})
	}
	return c
}

// Start launches the batch dispatcher.
func (c *Coordinator) Start() {
	c.disp.Start()
}

// Run starts the named module. It returns immediately after registering the
// run; completion is observable through CurrentState, LastResult, or the
// terminal system chunk in the output stream.
func (c *Coordinator) Run(key string) (string, error) {
	desc, ok := c.registry.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrModuleNotFound, key)
	}

	// Fail fast before touching any state: a missing script leaves the
	// module Idle.
	if _, err := desc.Resolve(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, desc.Command[0])
	}

	execID, err := c.tracker.TryBeginRun(key)
	if err != nil {
		return "", err
	}

	r, err := runner.Start(desc, execID, c.queue, runner.Options{
		Timeout: c.opts.Timeout,
		Grace:   c.opts.Grace,
	})
	if err != nil {
		// The OS refused the spawn after the gate opened: record a
		// terminal LaunchError and surface the failure synchronously.
		now := time.Now().UTC()
		res := run.Result{
			ExecutionID: execID,
			Module:      key,
			State:       run.StateLaunchError,
			Reason:      err.Error(),
			StartedAt:   now,
			EndedAt:     now,
		}
		c.queue.Push(run.OutputChunk{
			ExecutionID: execID,
			Module:      key,
			Stream:      run.StreamSystem,
			Text:        fmt.Sprintf("launch error: %v\n", err),
			At:          now,
		})
		c.finish(res)
		return "", fmt.Errorf("launch %s: %w", key, err)
	}

	c.mu.Lock()
	c.running[key] = r
	c.mu.Unlock()

	c.publish(events.TypeRunStarted, events.RunPayload{
		Module:      key,
		ExecutionID: execID,
		State:       string(run.StateRunning),
	})
	c.logger.Info("module run started", "module", key, "execution_id", execID)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-r.Done()

		c.mu.Lock()
		if c.running[key] == r {
			delete(c.running, key)
		}
		c.mu.Unlock()

		c.finish(r.Result())
	}()

	return execID, nil
}

// Cancel terminates an in-flight run via the watchdog's termination path.
func (c *Coordinator) Cancel(key string) error {
	c.mu.Lock()
	r, ok := c.running[key]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, key)
	}
	r.Cancel()
	return nil
}

// CurrentState exposes the tracker snapshot for UI polling.
func (c *Coordinator) CurrentState(key string) run.State {
	return c.tracker.CurrentState(key)
}

// LastResult returns the module's most recent terminal result.
func (c *Coordinator) LastResult(key string) (run.Result, bool) {
	return c.tracker.LastResult(key)
}

// ModuleStatus pairs a descriptor with its observable run state.
type ModuleStatus struct {
	Descriptor module.Descriptor
	State      run.State
	Last       *run.Result
}

// Modules lists every registered module with its current state, in key order.
func (c *Coordinator) Modules() []ModuleStatus {
	descs := c.registry.All()
	out := make([]ModuleStatus, 0, len(descs))
	for _, d := range descs {
		st := ModuleStatus{Descriptor: d, State: c.tracker.CurrentState(d.Key)}
		if res, ok := c.tracker.LastResult(d.Key); ok {
			st.Last = &res
		}
		out = append(out, st)
	}
	return out
}

// Stop cancels in-flight runs, waits for them to finish (or ctx to expire),
// and shuts the dispatcher down after a final flush.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	for _, r := range c.running {
		r.Cancel()
	}
	c.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.disp.Stop()
	return err
}

func (c *Coordinator) finish(res run.Result) {
	if err := c.tracker.Complete(res.Module, res); err != nil {
		c.logger.Error("failed to record run completion", "module", res.Module, "error", err)
	}

	if c.opts.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.opts.History.Record(ctx, res); err != nil {
			c.logger.Error("failed to persist run result", "module", res.Module, "error", err)
		}
		cancel()
	}

	c.publish(eventTypeFor(res.State), events.RunPayload{
		Module:      res.Module,
		ExecutionID: res.ExecutionID,
		State:       string(res.State),
		ExitCode:    res.ExitCode,
		Reason:      res.Reason,
		DurationMs:  res.Duration().Milliseconds(),
	})
}

func (c *Coordinator) publish(eventType string, payload events.RunPayload) {
	if c.opts.Events == nil {
		return
	}
	c.opts.Events.Publish(eventType, payload)
}

func eventTypeFor(s run.State) string {
	switch s {
	case run.StateSucceeded:
		return events.TypeRunSucceeded
	case run.StateTimedOut:
		return events.TypeRunTimedOut
	case run.StateCanceled:
		return events.TypeRunCanceled
	default:
		return events.TypeRunFailed
	}
}
