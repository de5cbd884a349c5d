// Package runner executes external tools (yt-dlp, ffmpeg) and captures their
// output. A non-zero exit status is a normal Result; only start failures and
// cancellation are reported as errors.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Static errors for process execution.
var (
	// ErrStart is returned when the executable cannot be started
	// (missing binary, permission denied, bad working directory).
	ErrStart = errors.New("runner: process failed to start")
	// ErrCancelled is returned when the context was cancelled before or
	// while the process was running.
	ErrCancelled = errors.New("runner: process cancelled")
)

// Command describes one external invocation.
type Command struct {
	// Name is the executable name or path.
	Name string
	// Args are the arguments passed to the executable.
	Args []string
	// Dir is the working directory. Captured output is also persisted here.
	Dir string
}

// String returns a shell-like rendering of the command for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result holds the outcome of a process that ran to completion.
type Result struct {
	// ExitCode is the process exit status. -1 when killed by a signal.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// Duration is the wall time between start and exit.
	Duration time.Duration
}

// Success reports whether the process exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner runs a single external command.
type Runner interface {
	// Run starts the command, waits for it and returns the captured output.
	// A non-zero exit is not an error. Start failures wrap ErrStart and
	// cancellation wraps ErrCancelled together with ctx.Err().
	Run(ctx context.Context, cmd Command) (Result, error)
}

// StartError reports that an executable could not be started.
type StartError struct {
	Name string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("runner: start %s: %v", e.Name, e.Err)
}

// Unwrap exposes both ErrStart and the underlying cause to errors.Is/As.
func (e *StartError) Unwrap() []error {
	return []error{ErrStart, e.Err}
}

// Compile-time check that ExecRunner implements Runner.
var _ Runner = (*ExecRunner)(nil)

// ExecRunner implements Runner with os/exec. Each process is started in its
// own process group so cancellation reaps the whole tree (ffmpeg children
// spawned by yt-dlp included).
type ExecRunner struct {
	waitDelay time.Duration
	persist   bool
	now       func() time.Time
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithWaitDelay bounds how long Wait blocks on output pipes held open by
// orphaned descendants after the process itself has exited or been killed.
func WithWaitDelay(d time.Duration) Option {
	return func(r *ExecRunner) {
		r.waitDelay = d
	}
}

// WithOutputArtifacts enables or disables writing captured streams to
// timestamped files in the command's working directory.
func WithOutputArtifacts(enabled bool) Option {
	return func(r *ExecRunner) {
		r.persist = enabled
	}
}

// NewExecRunner creates an ExecRunner with output artifacts enabled and a
// five second wait delay.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		waitDelay: 5 * time.Second,
		persist:   true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	// #nosec G204 - executable paths come from configuration, arguments are built internally
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = r.waitDelay

	// exec copies each stream in its own goroutine while Wait blocks, so a
	// chatty process can never fill one pipe and stall on the other.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := r.now()
	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return Result{}, &StartError{Name: c.Name, Err: err}
	}

	waitErr := cmd.Wait()

	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: r.now().Sub(started),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if r.persist {
		r.writeArtifacts(c, started, res)
	}

	if ctx.Err() != nil {
		return res, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) || errors.Is(waitErr, exec.ErrWaitDelay) {
			return res, nil
		}
		return res, fmt.Errorf("runner: wait %s: %w", c.Name, waitErr)
	}

	return res, nil
}

// writeArtifacts stores both captured streams next to the job's files.
// Failures are ignored: artifacts exist for debugging only.
func (r *ExecRunner) writeArtifacts(c Command, started time.Time, res Result) {
	if c.Dir == "" {
		return
	}
	base := fmt.Sprintf("%s_%s", filepath.Base(c.Name), started.UTC().Format("20060102T150405.000000000"))
	_ = os.WriteFile(filepath.Join(c.Dir, base+".stdout.log"), []byte(res.Stdout), 0o600)
	_ = os.WriteFile(filepath.Join(c.Dir, base+".stderr.log"), []byte(res.Stderr), 0o600)
}

// Tail returns at most the last n bytes of s, trimmed, for status entries.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
