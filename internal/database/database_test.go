package database_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"applytrack/internal/database"
)

func TestOpenPathCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applytrack.db")
	db, err := database.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"queue_items", "app_config", "email_ingest_state", "job_listings", "job_matches"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatalf("query sqlite_master: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist", table)
		}
	}
	if db.Path() != path {
		t.Fatalf("unexpected path %q", db.Path())
	}
}

func TestOpenPathReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applytrack.db")
	db, err := database.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	_ = db.Close()

	db, err = database.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	_ = db.Close()
}

func TestOpenPathRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applytrack.db")
	db, err := database.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	_, err = database.OpenPath(path)
	if !errors.Is(err, database.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, err := database.OpenPath(filepath.Join(t.TempDir(), "applytrack.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sentinel := errors.New("boom")
	err = db.WithTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO app_config (key, payload_json, updated_at) VALUES ('k', '{}', 'now')"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM app_config").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d rows", count)
	}
}

func TestRetryOnBusyStopsOnNonBusyError(t *testing.T) {
	calls := 0
	sentinel := errors.New("constraint")
	err := database.RetryOnBusy(context.Background(), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryOnBusyRetriesBusyErrors(t *testing.T) {
	calls := 0
	err := database.RetryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestIsUniqueViolationOnPrimaryKey(t *testing.T) {
	db, err := database.OpenPath(filepath.Join(t.TempDir(), "applytrack.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	insert := "INSERT INTO app_config (key, payload_json, updated_at) VALUES ('scheduler', '{}', '2026-01-01')"
	if err := db.ExecWithoutResultRetry(context.Background(), insert); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err = db.ExecWithoutResultRetry(context.Background(), insert)
	if !database.IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if database.IsBusy(err) {
		t.Fatalf("constraint failure misread as busy: %v", err)
	}
}

func TestFormatTimeSortsChronologically(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(time.Second),
		base,
		base.Add(500 * time.Millisecond),
		base.Add(10 * time.Nanosecond),
	}
	encoded := make([]string, len(times))
	for i, value := range times {
		encoded[i] = database.FormatTime(value)
	}
	sort.Strings(encoded)
	for i := 1; i < len(encoded); i++ {
		prev, _ := database.ParseTime(encoded[i-1])
		next, _ := database.ParseTime(encoded[i])
		if !prev.Before(next) {
			t.Fatalf("lexical order disagrees with chronological order: %q then %q", encoded[i-1], encoded[i])
		}
	}
}

func TestParseTimeAcceptsRFC3339(t *testing.T) {
	parsed, err := database.ParseTime("2024-05-01T14:30:00+02:00")
	if err != nil {
		t.Fatalf("ParseTime failed: %v", err)
	}
	want := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	if !parsed.Equal(want) {
		t.Fatalf("got %s want %s", parsed, want)
	}
	if _, err := database.ParseTime(""); err == nil {
		t.Fatal("expected error for empty timestamp")
	}
}
