package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"applytrack/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APPLYTRACK_CRON_ENABLED",
		"APPLYTRACK_LOG_DIR",
		"APPLYTRACK_LOG_ROTATE_MAX_BYTES",
		"APPLYTRACK_LOG_RETENTION_DAYS",
		"APPLYTRACK_WORKER_URL",
		"APPLYTRACK_API_TOKEN",
		"GMAIL_CLIENT_ID",
		"GMAIL_CLIENT_SECRET",
		"OPENROUTER_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "applytrack")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "applytrack.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Paths.APIBind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if !cfg.Scheduler.Enabled {
		t.Fatal("expected scheduler enabled by default")
	}
	if cfg.StuckTimeout() != 30*time.Minute {
		t.Fatalf("unexpected stuck timeout: %s", cfg.StuckTimeout())
	}
	if cfg.Gmail.Enabled {
		t.Fatal("expected gmail disabled by default")
	}
	if cfg.Extractor.Fallback != "none" {
		t.Fatalf("unexpected extractor fallback: %q", cfg.Extractor.Fallback)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location failed: %v", err)
	}
	if loc != time.Local {
		t.Fatalf("expected local timezone, got %s", loc)
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
data_dir = "~/data"
log_dir = "~/logs"
api_bind = " 0.0.0.0:9000 "

[scheduler]
timezone = "America/New_York"
job_timeout_seconds = 60

[logging]
format = "JSON"
level = "DEBUG"

[worker]
url = "http://worker:8080/"

[gmail]
keywords = ["Hiring", "hiring", " role "]
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q exists=%v", configPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.LogDir != filepath.Join(tempHome, "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Paths.APIBind != "0.0.0.0:9000" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Worker.URL != "http://worker:8080" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Worker.URL)
	}
	if cfg.JobTimeout() != time.Minute {
		t.Fatalf("unexpected job timeout: %s", cfg.JobTimeout())
	}
	if got := strings.Join(cfg.Gmail.Keywords, ","); got != "hiring,role" {
		t.Fatalf("unexpected keywords: %q", got)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location failed: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Fatalf("unexpected location: %s", loc)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	logDir := t.TempDir()
	t.Setenv("APPLYTRACK_CRON_ENABLED", "false")
	t.Setenv("APPLYTRACK_LOG_DIR", logDir)
	t.Setenv("APPLYTRACK_LOG_ROTATE_MAX_BYTES", "2048")
	t.Setenv("APPLYTRACK_LOG_RETENTION_DAYS", "3")
	t.Setenv("APPLYTRACK_WORKER_URL", "http://worker.internal:1234")
	t.Setenv("GMAIL_CLIENT_ID", "client")
	t.Setenv("GMAIL_CLIENT_SECRET", "secret")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Scheduler.Enabled {
		t.Fatal("expected scheduler disabled by env")
	}
	if cfg.Paths.LogDir != logDir {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Logging.RotateMaxBytes != 2048 || cfg.Logging.RetentionDays != 3 {
		t.Fatalf("unexpected logging overrides: %+v", cfg.Logging)
	}
	if cfg.Worker.URL != "http://worker.internal:1234" {
		t.Fatalf("unexpected worker url: %q", cfg.Worker.URL)
	}
	if cfg.Gmail.ClientID != "client" || cfg.Gmail.ClientSecret != "secret" {
		t.Fatalf("expected gmail credentials from env, got %+v", cfg.Gmail)
	}
}

func TestInvalidCronEnabledEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("APPLYTRACK_CRON_ENABLED", "sometimes")

	if _, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for invalid APPLYTRACK_CRON_ENABLED")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "tick spec",
			mutate: func(c *config.Config) { c.Scheduler.TickSpec = "every minute" },
			want:   "scheduler.tick_spec",
		},
		{
			name:   "timezone",
			mutate: func(c *config.Config) { c.Scheduler.Timezone = "Mars/Olympus" },
			want:   "scheduler.timezone",
		},
		{
			name:   "worker scheme",
			mutate: func(c *config.Config) { c.Worker.URL = "ftp://worker" },
			want:   "worker.url",
		},
		{
			name:   "gmail credentials",
			mutate: func(c *config.Config) { c.Gmail.Enabled = true },
			want:   "gmail.client_id",
		},
		{
			name:   "command fallback",
			mutate: func(c *config.Config) { c.Extractor.Fallback = "command" },
			want:   "extractor.command",
		},
		{
			name:   "llm fallback",
			mutate: func(c *config.Config) { c.Extractor.Fallback = "llm" },
			want:   "llm.api_key",
		},
		{
			name:   "unknown fallback",
			mutate: func(c *config.Config) { c.Extractor.Fallback = "magic" },
			want:   "extractor.fallback",
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Logging.Level = "verbose" },
			want:   "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestCreateSampleWritesParsableConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if decoded.Paths.APIBind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind in sample: %q", decoded.Paths.APIBind)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Extractor.Fallback != "none" {
		t.Fatalf("unexpected fallback: %q", cfg.Extractor.Fallback)
	}
}
