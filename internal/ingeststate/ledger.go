package ingeststate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"applytrack/internal/database"
)

// Record is the ledger row for one processed mail message.
type Record struct {
	MessageID    string    `json:"message_id"`
	ThreadID     string    `json:"thread_id,omitempty"`
	Email        string    `json:"gmail_email"`
	HistoryID    string    `json:"history_id,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
	JobsFound    int       `json:"jobs_found"`
	JobsEnqueued int       `json:"jobs_enqueued"`
	Error        string    `json:"error,omitempty"`
}

// Stats aggregates ledger rows.
type Stats struct {
	Messages        int        `json:"messages"`
	JobsFound       int        `json:"jobs_found"`
	JobsEnqueued    int        `json:"jobs_enqueued"`
	Errors          int        `json:"errors"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}

// Ledger records which mail messages have been processed so a message is
// never turned into queue items twice.
type Ledger struct {
	db  *database.DB
	now func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for defaults and retention.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New wraps an open database.
func New(db *database.DB, opts ...Option) *Ledger {
	l := &Ledger{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsMessageProcessed reports whether messageID already has a ledger row.
func (l *Ledger) IsMessageProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM email_ingest_state WHERE message_id = ?`, messageID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check ingest state: %w", err)
	}
	return true, nil
}

// RecordProcessed upserts the ledger row for rec.MessageID. A second call for
// the same message overwrites the first.
func (l *Ledger) RecordProcessed(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.MessageID) == "" {
		return errors.New("record processed: message id is required")
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = l.now()
	}
	if err := l.db.ExecWithoutResultRetry(ctx,
		`INSERT INTO email_ingest_state
             (message_id, thread_id, gmail_email, history_id, processed_at, jobs_found, jobs_enqueued, error)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(message_id) DO UPDATE SET
             thread_id = excluded.thread_id,
             gmail_email = excluded.gmail_email,
             history_id = excluded.history_id,
             processed_at = excluded.processed_at,
             jobs_found = excluded.jobs_found,
             jobs_enqueued = excluded.jobs_enqueued,
             error = excluded.error`,
		rec.MessageID,
		database.NullableString(rec.ThreadID),
		rec.Email,
		database.NullableString(rec.HistoryID),
		database.FormatTime(rec.ProcessedAt),
		rec.JobsFound,
		rec.JobsEnqueued,
		database.NullableString(rec.Error),
	); err != nil {
		return fmt.Errorf("record ingest state: %w", err)
	}
	return nil
}

// Get returns the ledger row for messageID or nil.
func (l *Ledger) Get(ctx context.Context, messageID string) (*Record, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM email_ingest_state WHERE message_id = ?`, messageID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ingest state: %w", err)
	}
	return rec, nil
}

// Recent returns the newest rows, optionally for a single account.
func (l *Ledger) Recent(ctx context.Context, email string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + recordColumns + ` FROM email_ingest_state`
	var args []any
	if email = strings.TrimSpace(email); email != "" {
		query += ` WHERE gmail_email = ?`
		args = append(args, email)
	}
	query += ` ORDER BY processed_at DESC, message_id LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ingest state: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ingest state: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Stats aggregates rows processed at or after since. A zero since covers everything.
func (l *Ledger) Stats(ctx context.Context, since time.Time) (Stats, error) {
	return l.AccountStats(ctx, "", since)
}

// AccountStats is Stats restricted to one account. An empty email covers all
// accounts.
func (l *Ledger) AccountStats(ctx context.Context, email string, since time.Time) (Stats, error) {
	query := `SELECT COUNT(1),
                COALESCE(SUM(jobs_found), 0),
                COALESCE(SUM(jobs_enqueued), 0),
                COALESCE(SUM(CASE WHEN error IS NOT NULL AND error != '' THEN 1 ELSE 0 END), 0),
                MAX(processed_at)
         FROM email_ingest_state
         WHERE processed_at >= ?`
	args := []any{database.FormatTime(since)}
	if email = strings.TrimSpace(email); email != "" {
		query += ` AND gmail_email = ?`
		args = append(args, email)
	}

	var (
		stats Stats
		last  sql.NullString
	)
	err := l.db.QueryRowContext(ctx, query, args...).
		Scan(&stats.Messages, &stats.JobsFound, &stats.JobsEnqueued, &stats.Errors, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("ingest stats: %w", err)
	}
	if last.Valid {
		if ts, err := database.ParseTime(last.String); err == nil {
			stats.LastProcessedAt = &ts
		}
	}
	return stats, nil
}

// LastSyncTime returns when a message was last recorded, for one account or
// all of them. It is nil when the ledger is empty.
func (l *Ledger) LastSyncTime(ctx context.Context, email string) (*time.Time, error) {
	stats, err := l.AccountStats(ctx, email, time.Time{})
	if err != nil {
		return nil, err
	}
	return stats.LastProcessedAt, nil
}

// Prune deletes rows processed before cutoff and returns how many were
// removed. Callers pick a cutoff older than the mail search window.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecWithRetry(ctx,
		`DELETE FROM email_ingest_state WHERE processed_at < ?`, database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune ingest state: %w", err)
	}
	return res.RowsAffected()
}

// PruneOlderThan deletes rows processed more than days ago.
func (l *Ledger) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("prune ingest state: days must be positive, got %d", days)
	}
	return l.Prune(ctx, l.now().AddDate(0, 0, -days))
}

const recordColumns = "message_id, thread_id, gmail_email, history_id, processed_at, jobs_found, jobs_enqueued, error"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec       Record
		threadID  sql.NullString
		historyID sql.NullString
		processed string
		errText   sql.NullString
	)
	if err := scanner.Scan(&rec.MessageID, &threadID, &rec.Email, &historyID, &processed, &rec.JobsFound, &rec.JobsEnqueued, &errText); err != nil {
		return nil, err
	}
	rec.ThreadID = threadID.String
	rec.HistoryID = historyID.String
	rec.Error = errText.String
	if ts, err := database.ParseTime(processed); err == nil {
		rec.ProcessedAt = ts
	}
	return &rec, nil
}
