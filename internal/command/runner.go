// Package command runs external programs and enforces the zero-exit contract.
// Local toolchain calls and remote shell commands both go through Runner, so
// "non-zero exit is an error unless explicitly tolerated" lives in Require.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Cmd describes a program invocation.
type Cmd struct {
	Argv []string
	Dir  string
	// Env is appended to the current environment.
	Env []string
}

// String renders the command the way a shell would receive it.
func (c Cmd) String() string {
	return Join(c.Argv)
}

// Result holds the output and status of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns stdout and stderr joined by a newline when both are present.
func (r *Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner abstracts command execution for testability.
// A non-zero exit is reported through Result.ExitCode with a nil error;
// err is reserved for commands that could not be started or were killed.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (*Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, cmd Cmd) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("command: empty argv")
	}

	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...) //nolint:gosec // running configured tools is the point
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	c.Stdout = &stdoutBuf
	c.Stderr = &stderrBuf

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("exec %s: %w", cmd.Argv[0], err)
	}
	return result, nil
}

// ExitError reports a command that ran but did not exit zero.
type ExitError struct {
	Command  string
	ExitCode int
	// Output is the tail of the combined output.
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: exit code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", e.Command, e.ExitCode, e.Output)
}

// Require runs cmd and converts a non-zero exit into an *ExitError.
func Require(ctx context.Context, r Runner, cmd Cmd) (*Result, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &ExitError{
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Output:   Tail(strings.TrimSpace(res.Output()), maxOutputLen),
		}
	}
	return res, nil
}

// maxOutputLen caps how much output an ExitError retains.
const maxOutputLen = 4000

// Tail keeps the last n bytes of s. Error summaries are usually at the end.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…(truncated)\n" + s[len(s)-n:]
}
