package health

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ExecChecker runs a command and reports healthy when it exits 0.
// Stdout, stderr and the exit code are always returned on the Result so
// callers can interpret the output themselves.
type ExecChecker struct {
	// Command is the argv to execute, e.g. ["/path/to/tinymist", "-V"]
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	// Dir is the working directory; empty means the current directory
	Dir string

	// Env, when non-nil, replaces the inherited environment
	Env []string
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// Check runs the command once
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
			ExitCode:  -1,
			Err:       errors.New("no command specified"),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)
	cmd.Dir = e.Dir
	cmd.WaitDelay = time.Second
	if e.Env != nil {
		cmd.Env = e.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := Result{
		CheckedAt: start,
		Duration:  time.Since(start),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  -1,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		if execCtx.Err() != nil {
			err = fmt.Errorf("%w: %w", execCtx.Err(), err)
		}
		result.Err = err
		message = fmt.Sprintf("%s, Error: %v", message, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, Stderr: %s", message, truncate(stderr.String(), 100))
		}
		result.Message = message
		return result
	}

	if stdout.Len() > 0 {
		message = fmt.Sprintf("%s, Output: %s", message, truncate(stdout.String(), 100))
	}
	result.Healthy = true
	result.Message = message
	return result
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithDir sets the working directory the command runs in
func (e *ExecChecker) WithDir(dir string) *ExecChecker {
	e.Dir = dir
	return e
}

// WithEnv replaces the command environment
func (e *ExecChecker) WithEnv(env []string) *ExecChecker {
	e.Env = env
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
