package toolkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultCommandTimeout bounds every subprocess a tool starts.
	DefaultCommandTimeout = 60 * time.Second
	maxCommandOutput      = 10 * 1024
)

// Command describes one subprocess invocation.
type Command struct {
	Name  string
	Args  []string
	Stdin io.Reader
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// CommandError reports a command that exited non-zero, timed out or could not start.
// Its message carries both output streams.
type CommandError struct {
	Command  string
	Result   Result
	TimedOut bool
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	switch {
	case e.TimedOut:
		fmt.Fprintf(&b, "%s: timed out after %s", e.Command, e.Result.Duration.Round(time.Second))
	case e.Result.ExitCode > 0:
		fmt.Fprintf(&b, "%s: exit code %d", e.Command, e.Result.ExitCode)
	default:
		fmt.Fprintf(&b, "%s: %v", e.Command, e.Err)
	}
	if out := strings.TrimSpace(e.Result.Stdout); out != "" {
		fmt.Fprintf(&b, "\nstdout:\n%s", out)
	}
	if out := strings.TrimSpace(e.Result.Stderr); out != "" {
		fmt.Fprintf(&b, "\nstderr:\n%s", out)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes subprocesses.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec. Every command is bounded by Timeout
// and always waited for before Run returns.
type ExecRunner struct {
	Timeout time.Duration
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- commands are fixed by the tools, only arguments vary
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = c.Stdin
	// Bounds the wait for pipes held open by grandchildren after a kill.
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   truncate(stdout.String(), maxCommandOutput),
		Stderr:   truncate(stderr.String(), maxCommandOutput),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		return res, nil
	}
	cmdErr := &CommandError{Command: c.String(), Result: res, Err: err}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		cmdErr.TimedOut = true
	}
	return res, cmdErr
}
