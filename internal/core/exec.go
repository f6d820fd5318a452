package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// waitDelay bounds how long Wait keeps draining output after the child
// has been killed.
const waitDelay = 2 * time.Second

// Command describes one external process invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string      // appended to the current environment
	Timeout time.Duration // 0 means no timeout
	Stream  io.Writer     // live copy of combined output; nil keeps it quiet
}

// String renders the command line for display.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a finished external command. A non-zero exit is
// reported here, not as an error.
type Result struct {
	ExitCode int
	Stdout   string
	Output   string // stdout and stderr interleaved
	TimedOut bool
}

// OK reports whether the command exited cleanly.
func (r Result) OK() bool { return r.ExitCode == 0 && !r.TimedOut }

// Executor runs external commands one at a time.
type Executor interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// ProcessExecutor runs commands as child processes. While a command runs it
// reports elapsed and silent time every SilenceInterval once the child has
// produced no output for SilenceThreshold.
type ProcessExecutor struct {
	Clock            clock.Clock
	SilenceInterval  time.Duration
	SilenceThreshold time.Duration
}

// NewProcessExecutor creates a ProcessExecutor on the wall clock.
func NewProcessExecutor(s Settings) *ProcessExecutor {
	return &ProcessExecutor{
		Clock:            clock.WallClock,
		SilenceInterval:  s.SilenceInterval.Std(),
		SilenceThreshold: s.SilenceThreshold.Std(),
	}
}

// Run starts the command and waits for it, its timeout, or ctx.
// Errors are returned only when the process cannot start, times out, or ctx
// is cancelled.
func (e *ProcessExecutor) Run(ctx context.Context, c Command) (Result, error) {
	clk := e.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	// npm lifecycle scripts run as grandchildren holding our pipes, so the
	// whole group is killed and Wait gives up on the pipes after WaitDelay.
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	mon := newSilenceMonitor(clk, e.SilenceThreshold)
	combined := &activityWriter{monitor: mon, stream: c.Stream}
	var stdout bytes.Buffer
	cmd.Stdout = io.MultiWriter(&lockedWriter{w: &stdout, mu: &combined.mu}, combined)
	cmd.Stderr = combined

	if c.Stream != nil {
		fmt.Fprintf(c.Stream, "\n> %s\n\n", c)
	}
	logger.Debugf("running %q in %s", c.String(), c.Dir)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, errors.Annotatef(err, "starting %s", c.Name)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if c.Timeout > 0 {
		timeout = clk.After(c.Timeout)
	}

	for {
		var tick <-chan time.Time
		if e.SilenceInterval > 0 {
			tick = clk.After(e.SilenceInterval)
		}

		select {
		case waitErr := <-done:
			res := Result{Stdout: combined.locked(stdout.String), Output: combined.String()}
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.ExitCode = -1
				return res, errors.Annotatef(ctxErr, "running %s", c.Name)
			}
			res.ExitCode = exitCode(waitErr)
			if res.ExitCode == -1 {
				return res, errors.Annotatef(waitErr, "running %s", c.Name)
			}
			return res, nil

		case <-timeout:
			if err := killProcessGroup(cmd); err != nil {
				logger.Debugf("killing %s: %v", c.Name, err)
			}
			<-done
			res := Result{
				ExitCode: -1,
				Stdout:   combined.locked(stdout.String),
				Output:   combined.String(),
				TimedOut: true,
			}
			return res, errors.Timeoutf("%s after %s", c, c.Timeout)

		case <-tick:
			elapsed, silent, quiet := mon.report()
			if !quiet {
				continue
			}
			logger.Debugf("%s: %s elapsed, silent %s", c.Name, elapsed, silent)
			if c.Stream != nil {
				fmt.Fprintf(c.Stream, "  ... still running (%s elapsed, silent %s)\n", elapsed, silent)
			}
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return -1
}

// silenceMonitor tracks when a child process last wrote output.
type silenceMonitor struct {
	clock     clock.Clock
	threshold time.Duration
	start     time.Time

	mu   sync.Mutex
	last time.Time
}

func newSilenceMonitor(clk clock.Clock, threshold time.Duration) *silenceMonitor {
	now := clk.Now()
	return &silenceMonitor{clock: clk, threshold: threshold, start: now, last: now}
}

func (m *silenceMonitor) touch() {
	m.mu.Lock()
	m.last = m.clock.Now()
	m.mu.Unlock()
}

// report returns elapsed and silent durations, rounded to seconds, and
// whether the silence has reached the threshold.
func (m *silenceMonitor) report() (elapsed, silent time.Duration, quiet bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	elapsed = now.Sub(m.start).Round(time.Second)
	silent = now.Sub(m.last).Round(time.Second)
	return elapsed, silent, silent >= m.threshold
}

// activityWriter collects combined output, mirrors it to an optional stream,
// and marks the monitor on every write.
type activityWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	stream  io.Writer
	monitor *silenceMonitor
}

func (w *activityWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	if w.stream != nil {
		_, _ = w.stream.Write(p)
	}
	w.monitor.touch()
	return len(p), nil
}

func (w *activityWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *activityWriter) locked(f func() string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return f()
}

// lockedWriter serializes writes with the combined writer's mutex.
type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
