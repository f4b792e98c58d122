// Package run defines the data types shared between the execution engine's
// layers: output chunks, run states, and per-run results.
package run

import (
	"time"

	"github.com/google/uuid"
)

// Stream identifies which pipe (or the engine itself) produced a chunk.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	// StreamSystem carries engine-generated banners: start/stop/timeout/error
	// notices and backpressure drop notices.
	StreamSystem Stream = "system"
)

// State is the lifecycle state of a module's most recent run.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
	StateTimedOut    State = "timed_out"
	StateCanceled    State = "canceled"
	StateLaunchError State = "launch_error"
)

// Terminal reports whether no further transition is possible without a new run.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCanceled, StateLaunchError:
		return true
	}
	return false
}

// NewExecutionID mints an opaque token scoping all chunks and the result of
// one run attempt.
func NewExecutionID() string {
	return uuid.NewString()
}

// OutputChunk is one unit of captured output attributed to a stream and an
// execution. Sequence is monotonic per (execution, stream); ordering between
// stdout and stderr of the same run is deliberately unspecified.
type OutputChunk struct {
	ExecutionID string
	Module      string
	Stream      Stream
	Text        string
	Sequence    uint64
	At          time.Time
}

// Result records the outcome of one run. Created exactly once, at the run's
// terminal transition, and never mutated afterward.
type Result struct {
	ExecutionID string
	Module      string
	State       State
	// ExitCode is nil when the process never ran (launch error) or was
	// killed before reporting one.
	ExitCode  *int
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is the wall-clock time between start and end.
func (r Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
