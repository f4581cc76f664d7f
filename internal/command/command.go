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

	"applytrack/internal/services"
)

// ErrTimeoutRequired is returned when a Spec carries no timeout.
var ErrTimeoutRequired = errors.New("command timeout is required")

// Spec describes one external command invocation. Args are passed as an argv
// array and never through a shell.
type Spec struct {
	Name    string
	Args    []string
	Stdin   []byte
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Result captures a finished command.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	TimedOut bool
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts spec and waits for it. A non-zero exit returns both the result
// and an ErrExternalTool error; hitting the timeout returns ErrTimeout.
func (ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "command", "run", "command name is required", nil)
	}
	if spec.Timeout <= 0 {
		return Result{}, services.Wrap(services.ErrConfiguration, "command", name, "", ErrTimeoutRequired)
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, spec.Args...) //nolint:gosec
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if len(spec.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		return result, services.Wrap(services.ErrTimeout, "command", name, fmt.Sprintf("exceeded %s", spec.Timeout), err)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, services.Wrap(services.ErrExternalTool, "command", name, fmt.Sprintf("exit status %d: %s", result.ExitCode, tail(stderr.String(), 512)), nil)
	}
	return result, services.Wrap(services.ErrExternalTool, "command", name, "start failed", err)
}

func tail(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return "..." + value[len(value)-limit:]
}
