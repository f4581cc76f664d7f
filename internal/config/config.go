package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`

	// Browser origins allowed to call the API.
	CORSOrigins []string `toml:"cors_origins"`
}

// Scheduler contains configuration for the hourly cron scheduler.
type Scheduler struct {
	Enabled  bool   `toml:"enabled"`
	Timezone string `toml:"timezone"`

	// TickSpec is a standard five-field cron expression that controls when the
	// scheduler wakes up. Jobs still fire at most once per hour.
	TickSpec            string `toml:"tick_spec"`
	JobTimeoutSeconds   int    `toml:"job_timeout_seconds"`
	StuckTimeoutMinutes int    `toml:"stuck_timeout_minutes"`
}

// Logging contains configuration for log output and rotation.
type Logging struct {
	Format         string `toml:"format"`
	Level          string `toml:"level"`
	RetentionDays  int    `toml:"retention_days"`
	RotateMaxBytes int64  `toml:"rotate_max_bytes"`
}

// Worker contains configuration for the external scraping worker.
type Worker struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Gmail contains configuration for mailbox ingestion.
type Gmail struct {
	Enabled            bool     `toml:"enabled"`
	ClientID           string   `toml:"client_id"`
	ClientSecret       string   `toml:"client_secret"`
	TokenURL           string   `toml:"token_url"`
	APIBaseURL         string   `toml:"api_base_url"`
	Query              string   `toml:"query"`
	MaxMessages        int      `toml:"max_messages"`
	FetchConcurrency   int      `toml:"fetch_concurrency"`
	RequestsPerSecond  float64  `toml:"requests_per_second"`
	SenderAllowlist    []string `toml:"sender_allowlist"`
	Keywords           []string `toml:"keywords"`
	JobDomains         []string `toml:"job_domains"`
	LinkResolveLimit   int      `toml:"link_resolve_limit"`
	LinkTimeoutSeconds int      `toml:"link_timeout_seconds"`
	TimeoutSeconds     int      `toml:"timeout_seconds"`

	// Ledger rows older than this are pruned by the maintenance job. Zero keeps them.
	LedgerRetentionDays int `toml:"ledger_retention_days"`
}

// Extractor selects the fallback posting extractor.
type Extractor struct {
	// One of "none", "command", or "llm".
	Fallback       string   `toml:"fallback"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// LLM contains connection settings for the LLM fallback extractor.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Config encapsulates all configuration values for applytrack.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Scheduler: cron tick, timezone, and per-job timeouts
//   - Logging: log format, level, retention, and rotation threshold
//   - Worker: external scraping worker endpoint
//   - Gmail: mailbox ingestion settings and filters
//   - Extractor: fallback posting extractor selection
//   - LLM: connection settings used by the llm fallback
type Config struct {
	Paths     Paths     `toml:"paths"`
	Scheduler Scheduler `toml:"scheduler"`
	Logging   Logging   `toml:"logging"`
	Worker    Worker    `toml:"worker"`
	Gmail     Gmail     `toml:"gmail"`
	Extractor Extractor `toml:"extractor"`
	LLM       LLM       `toml:"llm"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("applytrack.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "applytrack.db")
}

// LockPath returns the location of the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "applytrack.lock")
}

// JobTimeout returns the upper bound for a single scheduled job action.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Scheduler.JobTimeoutSeconds) * time.Second
}

// StuckTimeout returns how long an item may stay in processing before recovery.
func (c *Config) StuckTimeout() time.Duration {
	return time.Duration(c.Scheduler.StuckTimeoutMinutes) * time.Minute
}

// WorkerTimeout returns the HTTP timeout for worker requests.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Worker.TimeoutSeconds) * time.Second
}

// Location resolves the scheduler timezone. An empty or "Local" value maps to
// the process-local zone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Scheduler.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// ExpandPath expands a leading "~" and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
