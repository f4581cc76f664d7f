package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"applytrack/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "gmail", "list", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"gmail", "list", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestCategoryMapping(t *testing.T) {
	tests := []struct {
		err       error
		category  string
		retryable bool
	}{
		{nil, "", false},
		{services.Wrap(services.ErrValidation, "queue", "submit", "bad", nil), "validation", false},
		{services.Wrap(services.ErrConfiguration, "gmail", "token", "missing", nil), "configuration", false},
		{services.Wrap(services.ErrNotFound, "queue", "get", "missing", nil), "not_found", false},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), "timeout", true},
		{services.Wrap(services.ErrExternalTool, "extract", "run", "exit 1", nil), "external_tool", true},
		{errors.New("connection reset"), "transient", true},
	}
	for _, tt := range tests {
		if got := services.Category(tt.err); got != tt.category {
			t.Fatalf("Category(%v) = %q, want %q", tt.err, got, tt.category)
		}
		if got := services.Retryable(tt.err); got != tt.retryable {
			t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
	}
}
