// Package runner manages exactly one child process from launch to
// termination: spawn, two concurrent stream readers, a watchdog timer, and
// exit-code collection. All captured output flows into a shared sink as
// ordered chunks; the runner itself holds no lock around process I/O.
package runner

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ameliarose/hub/internal/log"
	"github.com/ameliarose/hub/internal/module"
	"github.com/ameliarose/hub/internal/run"
)

const (
	// DefaultTimeout is the per-run wall-clock limit.
	DefaultTimeout = 300 * time.Second

	// DefaultGrace is the window between SIGTERM and SIGKILL.
	DefaultGrace = 2 * time.Second

	// partialFlushWait bounds how long output without a trailing newline is
	// held back before being emitted as its own chunk, so prompts and
	// progress output are not starved until EOF.
	partialFlushWait = 50 * time.Millisecond

	readBufSize = 32 * 1024
)

// Sink accepts chunks from reader goroutines. *stream.Queue satisfies it.
type Sink interface {
	Push(run.OutputChunk)
}

// Options tune one run.
type Options struct {
	Timeout time.Duration
	Grace   time.Duration
}

type terminationCause int

const (
	causeNone terminationCause = iota
	causeTimeout
	causeCancel
)

// Runner supervises a single spawned process. Create with Start.
type Runner struct {
	desc    module.Descriptor
	execID  string
	sink    Sink
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger

	cmd       *exec.Cmd
	startedAt time.Time

	sysSeq atomic.Uint64

	mu      sync.Mutex
	cause   terminationCause
	readErr error

	cancelOnce sync.Once
	cancelCh   chan struct{}

	readers sync.WaitGroup
	exited  chan struct{}
	done    chan struct{}
	result  run.Result
}

// Start launches the descriptor's command and begins capture. It fails
// synchronously when the OS refuses to spawn (missing interpreter,
// permissions); nothing is queued in that case and no goroutines are left
// behind.
func Start(desc module.Descriptor, execID string, sink Sink, opts Options) (*Runner, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if desc.Timeout > 0 {
		opts.Timeout = desc.Timeout
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}

	r := &Runner{
		desc:     desc,
		execID:   execID,
		sink:     sink,
		timeout:  opts.Timeout,
		grace:    opts.Grace,
		logger:   log.WithModule(desc.Key).With("execution_id", execID),
		cancelCh: make(chan struct{}),
		exited:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	cmd := exec.Command(desc.Command[0], desc.Command[1:]...)
	cmd.Dir = desc.WorkingDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	r.logger.Debug("spawning module process", "command", desc.Command, "timeout", opts.Timeout)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	r.cmd = cmd
	r.startedAt = time.Now().UTC()

	r.pushSystem(fmt.Sprintf("running %s (pid %d)\n", desc.Label(), cmd.Process.Pid))

	r.readers.Add(2)
	go r.readStream(stdout, run.StreamStdout)
	go r.readStream(stderr, run.StreamStderr)

	go r.watchdog()
	go r.collect()

	return r, nil
}

// ExecutionID returns the token scoping this run's chunks and result.
func (r *Runner) ExecutionID() string { return r.execID }

// Cancel triggers the same termination path the watchdog uses. Safe to call
// multiple times and after exit.
func (r *Runner) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// Done is closed once the process has exited, both readers have drained, and
// the terminal chunk has been emitted.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Result is valid after Done is closed.
func (r *Runner) Result() run.Result { return r.result }

// watchdog enforces the wall-clock limit and services cancel requests. Expiry
// sends SIGTERM and escalates to SIGKILL after the grace window; output the
// child wrote before the kill still drains through the readers.
func (r *Runner) watchdog() {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-r.exited:
		return
	case <-timer.C:
		r.setCause(causeTimeout)
		r.logger.Warn("module run timed out, sending SIGTERM", "timeout", r.timeout)
	case <-r.cancelCh:
		r.setCause(causeCancel)
		r.logger.Info("module run canceled, sending SIGTERM")
	}

	if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		r.logger.Debug("SIGTERM failed", "error", err)
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()
	select {
	case <-r.exited:
	case <-grace.C:
		r.logger.Warn("module did not exit after SIGTERM, sending SIGKILL")
		if err := r.cmd.Process.Kill(); err != nil {
			r.logger.Debug("SIGKILL failed", "error", err)
		}
		<-r.exited
	}
}

// collect joins the readers, reaps the process, and emits the terminal
// system chunk exactly once.
func (r *Runner) collect() {
	// Wait must not run before both pipes hit EOF, or buffered output
	// could be lost at process exit.
	r.readers.Wait()
	waitErr := r.cmd.Wait()
	close(r.exited)

	endedAt := time.Now().UTC()
	elapsed := endedAt.Sub(r.startedAt)

	res := run.Result{
		ExecutionID: r.execID,
		Module:      r.desc.Key,
		StartedAt:   r.startedAt,
		EndedAt:     endedAt,
	}

	exitCode := -1
	if r.cmd.ProcessState != nil {
		exitCode = r.cmd.ProcessState.ExitCode()
	}
	if exitCode >= 0 {
		res.ExitCode = &exitCode
	}

	r.mu.Lock()
	cause := r.cause
	readErr := r.readErr
	r.mu.Unlock()

	switch {
	case cause == causeTimeout:
		res.State = run.StateTimedOut
		res.Reason = fmt.Sprintf("timed out after %s", r.timeout)
		r.pushSystem(fmt.Sprintf("timed out after %s, process killed\n", r.timeout))
	case cause == causeCancel:
		res.State = run.StateCanceled
		res.Reason = "canceled by operator"
		r.pushSystem(fmt.Sprintf("canceled after %.1fs, process killed\n", elapsed.Seconds()))
	case readErr != nil:
		res.State = run.StateFailed
		res.Reason = fmt.Sprintf("stream read error: %v", readErr)
		r.pushSystem(fmt.Sprintf("failed in %.1fs: %s\n", elapsed.Seconds(), res.Reason))
	case waitErr == nil:
		res.State = run.StateSucceeded
		r.pushSystem(fmt.Sprintf("completed in %.1fs, exit 0\n", elapsed.Seconds()))
	default:
		res.State = run.StateFailed
		if exitCode >= 0 {
			res.Reason = fmt.Sprintf("exit code %d", exitCode)
			r.pushSystem(fmt.Sprintf("failed in %.1fs, exit %d\n", elapsed.Seconds(), exitCode))
		} else {
			res.Reason = waitErr.Error()
			r.pushSystem(fmt.Sprintf("failed in %.1fs: %v\n", elapsed.Seconds(), waitErr))
		}
	}

	r.logger.Info("module run finished", "state", res.State, "duration_ms", elapsed.Milliseconds(), "exit_code", exitCode)
	r.result = res
	close(r.done)
}

func (r *Runner) setCause(c terminationCause) {
	r.mu.Lock()
	if r.cause == causeNone {
		r.cause = c
	}
	r.mu.Unlock()
}

func (r *Runner) noteReadError(s run.Stream, err error) {
	r.mu.Lock()
	if r.readErr == nil {
		r.readErr = err
	}
	r.mu.Unlock()
	r.pushSystem(fmt.Sprintf("stream read error on %s: %v\n", s, err))
}

func (r *Runner) pushSystem(text string) {
	r.sink.Push(run.OutputChunk{
		ExecutionID: r.execID,
		Module:      r.desc.Key,
		Stream:      run.StreamSystem,
		Text:        text,
		Sequence:    r.sysSeq.Add(1) - 1,
		At:          time.Now().UTC(),
	})
}

// readStream pumps one pipe into the sink. Complete lines are emitted as
// they arrive; a trailing fragment without a newline is flushed after a
// bounded wait instead of being held until EOF.
func (r *Runner) readStream(rc io.ReadCloser, s run.Stream) {
	defer r.readers.Done()

	var (
		mu      sync.Mutex
		pending []byte
		seq     uint64
	)

	emitLocked := func(text string) {
		r.sink.Push(run.OutputChunk{
			ExecutionID: r.execID,
			Module:      r.desc.Key,
			Stream:      s,
			Text:        text,
			Sequence:    seq,
			At:          time.Now().UTC(),
		})
		seq++
	}

	flushTimer := time.AfterFunc(time.Hour, func() {
		mu.Lock()
		if len(pending) > 0 {
			emitLocked(string(pending))
			pending = pending[:0]
		}
		mu.Unlock()
	})
	flushTimer.Stop()
	defer flushTimer.Stop()

	buf := make([]byte, readBufSize)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			mu.Lock()
			data := buf[:n]
			for {
				i := bytes.IndexByte(data, '\n')
				if i < 0 {
					break
				}
				pending = append(pending, data[:i+1]...)
				emitLocked(string(pending))
				pending = pending[:0]
				data = data[i+1:]
			}
			pending = append(pending, data...)
			if len(pending) > 0 {
				flushTimer.Reset(partialFlushWait)
			} else {
				flushTimer.Stop()
			}
			mu.Unlock()
		}
		if err != nil {
			flushTimer.Stop()
			mu.Lock()
			if len(pending) > 0 {
				emitLocked(string(pending))
				pending = pending[:0]
			}
			mu.Unlock()
			if err != io.EOF {
				r.noteReadError(s, err)
			}
			return
		}
	}
}
