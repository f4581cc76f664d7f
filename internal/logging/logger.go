package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"applytrack/internal/config"
)

// LogFileName is the daemon log file written inside the configured log directory.
const LogFileName = "applytrack.log"

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Writer receives every record. Nil means stderr.
	Writer io.Writer
	// Source forces caller locations even above debug level.
	Source bool
}

// New constructs a slog logger writing console or JSON records to opts.Writer.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	source := opts.Source || level <= slog.LevelDebug

	var handler slog.Handler
	switch f := strings.ToLower(strings.TrimSpace(opts.Format)); f {
	case "", "console":
		handler = newPrettyHandler(w, level, source)
	case "json":
		handler = newJSONHandler(w, level, source)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	return slog.New(handler), nil
}

// NewFromConfig builds the daemon logger. Records go to stdout and, when a log
// directory is configured, are appended to LogFileName there. The returned
// close function releases the log file.
func NewFromConfig(cfg *config.Config) (*slog.Logger, func() error, error) {
	noClose := func() error { return nil }
	if cfg == nil {
		logger, err := New(Options{Writer: os.Stdout})
		return logger, noClose, err
	}

	var (
		w       io.Writer = os.Stdout
		closeFn           = noClose
	)
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		file, err := openAppend(filepath.Join(dir, LogFileName))
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(os.Stdout, file)
		closeFn = file.Close
	}

	logger, err := New(Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Writer: w})
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return logger, closeFn, nil
}

// ParseLevel maps a configured level name onto slog. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log level: unsupported value %q", name)
	}
}

// openAppend opens path for appending, creating its directory. O_APPEND keeps
// writes at the end after logrotate truncates the file in place.
func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}
