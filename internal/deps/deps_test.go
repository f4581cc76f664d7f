package deps

import (
	"os"
	"path/filepath"
	"testing"

	"applytrack/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Empty"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected empty command status %#v", results[2])
	}
}

func TestCheckFollowsConfig(t *testing.T) {
	cfg := config.Default()
	if got := Check(&cfg); len(got) != 0 {
		t.Fatalf("expected nothing to check for defaults, got %#v", got)
	}

	cfg.Extractor.Fallback = "llm"
	cfg.Gmail.Enabled = true
	cfg.Gmail.ClientID = "id"
	got := Check(&cfg)
	if len(got) != 2 {
		t.Fatalf("expected two results, got %#v", got)
	}
	if got[0].Available {
		t.Fatalf("expected missing llm key, got %#v", got[0])
	}
	if got[1].Available {
		t.Fatalf("expected incomplete oauth client, got %#v", got[1])
	}

	cfg.LLM.APIKey = "key"
	cfg.Gmail.ClientSecret = "secret"
	for _, status := range Check(&cfg) {
		if !status.Available {
			t.Fatalf("expected %s available", status.Name)
		}
	}
}
