package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// archivePattern matches the compressed files RotateFile leaves behind.
const archivePattern = "*.log.gz"

// PruneArchives deletes rotated archives in dir whose modification time is
// older than now minus retention. It returns the removed paths. A retention of
// zero or less keeps everything.
func PruneArchives(logger *slog.Logger, dir string, retention time.Duration, now time.Time) ([]string, error) {
	if retention <= 0 || dir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, archivePattern))
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	cutoff := now.Add(-retention)

	var (
		removed []string
		errs    []error
	)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "archive prune failed", "log_prune_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check log_dir ownership"),
			)
			errs = append(errs, fmt.Errorf("remove %s: %w", filepath.Base(path), err))
			continue
		}
		removed = append(removed, path)
		if logger != nil {
			logger.Debug("log archive pruned", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
	return removed, errors.Join(errs...)
}
