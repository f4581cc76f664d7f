package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"applytrack/internal/database"
)

// Well-known keys.
const (
	KeyCronConfig     = "cron-config"
	KeyScrapePolicy   = "scrape-policy"
	KeyWorkerSettings = "worker-settings"
	KeyAISettings     = "ai-settings"
	KeyGmailAccounts  = "gmail-accounts"
)

// Entry is a raw stored config document.
type Entry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedBy string          `json:"updated_by,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists JSON documents keyed by name in the app_config table.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// New wraps an open database.
func New(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Get returns the entry for key, or nil when it has never been written.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	var (
		entry     Entry
		payload   string
		updatedBy sql.NullString
		updated   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, payload_json, updated_by, updated_at FROM app_config WHERE key = ?`, key,
	).Scan(&entry.Key, &payload, &updatedBy, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config %s: %w", key, err)
	}
	entry.Payload = json.RawMessage(payload)
	entry.UpdatedBy = updatedBy.String
	if ts, err := database.ParseTime(updated); err == nil {
		entry.UpdatedAt = ts
	}
	return &entry, nil
}

// Load decodes the document stored under key into dest. It reports false
// when nothing is stored, leaving dest untouched.
func (s *Store) Load(ctx context.Context, key string, dest any) (bool, error) {
	entry, err := s.Get(ctx, key)
	if err != nil || entry == nil {
		return false, err
	}
	if err := json.Unmarshal(entry.Payload, dest); err != nil {
		return true, fmt.Errorf("decode config %s: %w", key, err)
	}
	return true, nil
}

// Save upserts value under key.
func (s *Store) Save(ctx context.Context, key string, value any, updatedBy string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("config key is required")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode config %s: %w", key, err)
	}
	if err := s.db.ExecWithoutResultRetry(ctx,
		`INSERT INTO app_config (key, payload_json, updated_by, updated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET
             payload_json = excluded.payload_json,
             updated_by = excluded.updated_by,
             updated_at = excluded.updated_at`,
		key, string(data), database.NullableString(updatedBy), database.FormatTime(s.now().UTC()),
	); err != nil {
		return fmt.Errorf("save config %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.ExecWithoutResultRetry(ctx, `DELETE FROM app_config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete config %s: %w", key, err)
	}
	return nil
}
