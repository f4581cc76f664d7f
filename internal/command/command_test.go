package command_test

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"applytrack/internal/command"
	"applytrack/internal/services"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunRequiresTimeout(t *testing.T) {
	_, err := command.ExecRunner{}.Run(context.Background(), command.Spec{Name: "true"})
	if !errors.Is(err, command.ErrTimeoutRequired) {
		t.Fatalf("expected ErrTimeoutRequired, got %v", err)
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration marker, got %v", err)
	}
}

func TestRunCapturesOutputAndStdin(t *testing.T) {
	requireShell(t)
	res, err := command.ExecRunner{}.Run(context.Background(), command.Spec{
		Name:    "sh",
		Args:    []string{"-c", "cat; echo done >&2"},
		Stdin:   []byte("hello"),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.Stdout) != "hello" || strings.TrimSpace(string(res.Stderr)) != "done" || res.ExitCode != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunReportsExitStatus(t *testing.T) {
	requireShell(t)
	res, err := command.ExecRunner{}.Run(context.Background(), command.Spec{
		Name:    "sh",
		Args:    []string{"-c", "echo bad >&2; exit 3"},
		Timeout: 5 * time.Second,
	})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestRunTimesOut(t *testing.T) {
	requireShell(t)
	res, err := command.ExecRunner{}.Run(context.Background(), command.Spec{
		Name:    "sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut flag")
	}
}
