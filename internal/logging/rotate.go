package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

const rotatedSuffixLayout = "20060102-150405"

// RotateFile copies path into a gzip archive beside it and truncates the
// original in place, so writers holding an O_APPEND descriptor keep working.
// It returns the archive location.
func RotateFile(path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	base := strings.TrimSuffix(path, filepath.Ext(path))
	archive := fmt.Sprintf("%s-%s.log.gz", base, now.UTC().Format(rotatedSuffixLayout))
	for i := 1; fileExists(archive); i++ {
		archive = fmt.Sprintf("%s-%s.%d.log.gz", base, now.UTC().Format(rotatedSuffixLayout), i)
	}

	dst, err := os.OpenFile(archive, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create archive %s: %w", archive, err)
	}
	zw := gzip.NewWriter(dst)
	zw.Name = filepath.Base(path)
	zw.ModTime = now
	if _, err := io.Copy(zw, src); err != nil {
		_ = zw.Close()
		_ = dst.Close()
		_ = os.Remove(archive)
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		_ = os.Remove(archive)
		return "", fmt.Errorf("finish archive %s: %w", archive, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(archive)
		return "", fmt.Errorf("close archive %s: %w", archive, err)
	}

	if err := os.Truncate(path, 0); err != nil {
		return archive, fmt.Errorf("truncate %s: %w", path, err)
	}
	return archive, nil
}

// OversizedLogs lists *.log files in dir whose size exceeds maxBytes.
func OversizedLogs(dir string, maxBytes int64) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > maxBytes {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
