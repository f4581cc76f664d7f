package testsupport

import (
	"path/filepath"
	"testing"

	"applytrack/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Gmail ingestion starts disabled and the API binds to an ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Scheduler.Timezone = "UTC"
	cfgVal.Gmail.ClientID = "test-client"
	cfgVal.Gmail.ClientSecret = "test-secret"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithWorkerURL points the worker client at a test server.
func WithWorkerURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.URL = url
	}
}

// WithGmailServer enables ingestion against a fake mail API and token endpoint.
func WithGmailServer(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Gmail.Enabled = true
		b.cfg.Gmail.APIBaseURL = baseURL
		b.cfg.Gmail.TokenURL = baseURL + "/token"
		b.cfg.Gmail.RequestsPerSecond = 1000
	}
}

// WithAPIToken requires bearer authentication on the API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithRotateMaxBytes lowers the log rotation threshold.
func WithRotateMaxBytes(limit int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Logging.RotateMaxBytes = limit
	}
}
