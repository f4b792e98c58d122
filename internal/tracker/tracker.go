// Package tracker is the single source of truth for whether a module is
// currently running. It gates duplicate launches and retains each module's
// last completed result.
package tracker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ameliarose/hub/internal/run"
)

var (
	// ErrAlreadyRunning is returned when a run is requested for a module
	// whose previous run has not reached a terminal state.
	ErrAlreadyRunning = errors.New("module is already running")
)

// Tracker maps module keys to their current run state and last result.
// One map-wide lock; key cardinality is small and no lock is ever held
// across process I/O.
type Tracker struct {
	mu      sync.Mutex
	states  map[string]run.State
	active  map[string]string // module key -> in-flight execution ID
	results map[string]run.Result
}

// New creates an empty tracker; every module starts Idle.
func New() *Tracker {
	return &Tracker{
		states:  make(map[string]run.State),
		active:  make(map[string]string),
		results: make(map[string]run.Result),
	}
}

// TryBeginRun atomically transitions a module to Running and mints the
// execution ID for the attempt. Fails with ErrAlreadyRunning if a run is
// in flight; the existing run is untouched.
func (t *Tracker) TryBeginRun(module string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.states[module] == run.StateRunning {
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, module)
	}

	id := run.NewExecutionID()
	t.states[module] = run.StateRunning
	t.active[module] = id
	return id, nil
}

// Complete records the terminal result for an in-flight run. Results carrying
// a stale execution ID or a non-terminal state are rejected, which keeps the
// Idle -> Running -> terminal sequence monotonic.
func (t *Tracker) Complete(module string, res run.Result) error {
	if !res.State.Terminal() {
		return fmt.Errorf("non-terminal state %q for module %s", res.State, module)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.states[module] != run.StateRunning {
		return fmt.Errorf("module %s has no run in flight", module)
	}
	if t.active[module] != res.ExecutionID {
		return fmt.Errorf("stale result for module %s: execution %s is not current", module, res.ExecutionID)
	}

	t.states[module] = res.State
	t.results[module] = res
	delete(t.active, module)
	return nil
}

// CurrentState returns the module's state snapshot; unknown modules are Idle.
func (t *Tracker) CurrentState(module string) run.State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.states[module]; ok {
		return s
	}
	return run.StateIdle
}

// ActiveExecution returns the in-flight execution ID, if any.
func (t *Tracker) ActiveExecution(module string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.active[module]
	return id, ok
}

// LastResult returns the most recent terminal result for the module.
func (t *Tracker) LastResult(module string) (run.Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, ok := t.results[module]
	return res, ok
}

// Snapshot returns the current state of every module the tracker has seen.
func (t *Tracker) Snapshot() map[string]run.State {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]run.State, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}
