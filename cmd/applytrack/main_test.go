package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"applytrack/internal/config"
	"applytrack/internal/daemon"
	"applytrack/internal/queue"
	"applytrack/internal/testsupport"
)

func writeTestConfig(t *testing.T, cfg *config.Config, apiBind string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\napi_bind = %q\napi_token = %q\n\n[scheduler]\nenabled = false\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		apiBind,
		cfg.Paths.APIToken,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg, "127.0.0.1:1")
	out, _, err = runCLI(t, "--config", path, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, path)
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("s3cret-token"))
	path := writeTestConfig(t, cfg, "127.0.0.1:1")

	out, _, err := runCLI(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[paths]")
	requireContains(t, out, redacted)
	if strings.Contains(out, "s3cret-token") {
		t.Fatalf("token leaked in output:\n%s", out)
	}
}

func TestQueueCommandsWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg, "127.0.0.1:1")

	out, _, err := runCLI(t, "--config", path, "queue", "add", "https://jobs.example.com/1", "--company", "Acme")
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	requireContains(t, out, "Enqueued")

	out, _, err = runCLI(t, "--config", path, "--json", "queue", "list", "--status", "pending")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	var items []queue.Item
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(items) != 1 || items[0].CompanyName != "Acme" || items[0].Source != "cli" {
		t.Fatalf("unexpected items %+v", items)
	}

	out, _, err = runCLI(t, "--config", path, "queue", "show", items[0].ID)
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, "https://jobs.example.com/1")

	out, _, err = runCLI(t, "--config", path, "queue", "stats")
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	requireContains(t, out, "pending")

	_, stderr, err := runCLI(t, "--config", path, "queue", "retry", items[0].ID)
	if err == nil {
		t.Fatal("expected retry of a pending item to fail")
	}
	requireContains(t, stderr, items[0].ID)

	if _, _, err := runCLI(t, "--config", path, "queue", "add", "https://jobs.example.com/1"); err == nil {
		t.Fatal("expected duplicate active url to be rejected")
	}
}

func TestQueueCommandsThroughDaemonAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("cli-token"))
	cfg.Scheduler.Enabled = false
	db := testsupport.MustOpenDB(t, cfg)
	d, err := daemon.New(cfg, db, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	path := writeTestConfig(t, cfg, "127.0.0.1:1")
	api := "http://" + d.APIAddress()

	out, _, err := runCLI(t, "--config", path, "--api", api, "queue", "add", "https://jobs.example.com/api")
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	requireContains(t, out, "Enqueued")

	items, err := d.Queue().List(context.Background(), queue.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].URL != "https://jobs.example.com/api" {
		t.Fatalf("expected the daemon to own the new item, got %+v", items)
	}

	out, _, err = runCLI(t, "--config", path, "--api", api, "--json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status daemon.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.Queue.Total != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	if _, _, err := runCLI(t, "--config", path, "--api", api, "queue", "show", "missing"); !isAPIStatus(err, 404) {
		t.Fatalf("expected 404 api error, got %v", err)
	}
}

func TestSchedulerStatusWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeTestConfig(t, cfg, "127.0.0.1:1")
	out, _, err := runCLI(t, "--config", path, "scheduler", "status")
	if err != nil {
		t.Fatalf("scheduler status: %v", err)
	}
	for _, job := range []string{"scrape", "maintenance", "logrotate", "agentReset"} {
		requireContains(t, out, job)
	}
}

func TestBaseURLFromBind(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:7490": "http://127.0.0.1:7490",
		":7490":          "http://127.0.0.1:7490",
		"0.0.0.0:80":     "http://127.0.0.1:80",
		"[::1]:9000":     "http://[::1]:9000",
	}
	for bind, want := range tests {
		if got := baseURLFromBind(bind); got != want {
			t.Errorf("baseURLFromBind(%q) = %q, want %q", bind, got, want)
		}
	}
}
