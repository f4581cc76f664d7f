package queue

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

// Store manages queue persistence backed by SQLite.
type Store struct {
	db *database.DB
}

// NewStore wraps an open database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const itemColumns = "id, type, status, url, company_name, company_id, source, submitted_by, retry_count, max_retries, created_at, updated_at, processed_at, completed_at, result_message, error_details, metadata_json, payload_json"

// Insert persists a new item.
func (s *Store) Insert(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	payload, err := EncodePayload(item.Type, item.Payload)
	if err != nil {
		return err
	}
	metadata, err := encodeJSONObject(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	details, err := encodeErrorDetails(item.ErrorDetails)
	if err != nil {
		return err
	}
	_, err = s.db.ExecWithRetry(
		ctx,
		`INSERT INTO queue_items (`+itemColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.Type,
		item.Status,
		database.NullableString(item.URL),
		database.NullableString(item.CompanyName),
		database.NullableString(item.CompanyID),
		item.Source,
		database.NullableString(item.SubmittedBy),
		item.RetryCount,
		item.MaxRetries,
		database.FormatTime(item.CreatedAt),
		database.FormatTime(item.UpdatedAt),
		database.NullableTime(item.ProcessedAt),
		database.NullableTime(item.CompletedAt),
		database.NullableString(item.ResultMessage),
		details,
		metadata,
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// Get fetches an item by identifier. It returns nil, nil when the id is unknown.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Save writes the mutable columns of item when its stored status still equals
// expected. It reports false when another writer changed the status first.
func (s *Store) Save(ctx context.Context, item *Item, expected Status) (bool, error) {
	if item == nil {
		return false, errors.New("item is nil")
	}
	metadata, err := encodeJSONObject(item.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	details, err := encodeErrorDetails(item.ErrorDetails)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, company_name = ?, company_id = ?, retry_count = ?, updated_at = ?,
             processed_at = ?, completed_at = ?, result_message = ?, error_details = ?, metadata_json = ?
         WHERE id = ? AND status = ?`,
		item.Status,
		database.NullableString(item.CompanyName),
		database.NullableString(item.CompanyID),
		item.RetryCount,
		database.FormatTime(item.UpdatedAt),
		database.NullableTime(item.ProcessedAt),
		database.NullableTime(item.CompletedAt),
		database.NullableString(item.ResultMessage),
		details,
		metadata,
		item.ID,
		expected,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, &ConflictError{Type: item.Type, Key: item.CompanyID}
		}
		return false, fmt.Errorf("update item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// Delete removes an item permanently.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecWithRetry(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns items matching the filter, oldest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Item, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if len(filter.Types) > 0 {
		clauses = append(clauses, "type IN ("+makePlaceholders(len(filter.Types))+")")
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	query := `SELECT ` + itemColumns + ` FROM queue_items`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}
	return s.queryItems(ctx, query, args...)
}

// FindActive returns the oldest pending or processing item of type t whose
// column equals value. Only the url and company_id columns are accepted.
func (s *Store) FindActive(ctx context.Context, t Type, column, value string) (*Item, error) {
	if column != "url" && column != "company_id" {
		return nil, fmt.Errorf("find active: unsupported column %q", column)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items
         WHERE type = ? AND `+column+` = ? AND status IN (?, ?)
         ORDER BY created_at LIMIT 1`,
		t, value, StatusPending, StatusProcessing,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active item: %w", err)
	}
	return item, nil
}

// Stats returns item counts grouped by status and type.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[Status]int), ByType: make(map[Type]int)}
	rows, err := s.db.QueryContext(ctx, `SELECT type, status, COUNT(*) FROM queue_items GROUP BY type, status`)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t      string
			status string
			count  int
		)
		if err := rows.Scan(&t, &status, &count); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByStatus[Status(status)] += count
		stats.ByType[Type(t)] += count
		stats.Total += count
	}
	return stats, rows.Err()
}

// ResetBlocked moves blocked items back to pending, optionally only those whose
// error category matches. Company items whose company already has an active
// task stay blocked. It returns the number of items reset.
func (s *Store) ResetBlocked(ctx context.Context, category string, now time.Time) (int64, error) {
	query := `SELECT id, type, company_id FROM queue_items WHERE status = ?`
	args := []any{StatusBlocked}
	if category = strings.TrimSpace(category); category != "" {
		query += ` AND json_extract(error_details, '$.category') = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at, id`

	var reset int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		reset = 0
		type candidate struct {
			id        string
			itemType  Type
			companyID string
		}
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select blocked items: %w", err)
		}
		var candidates []candidate
		for rows.Next() {
			var (
				c         candidate
				itemType  string
				companyID sql.NullString
			)
			if err := rows.Scan(&c.id, &itemType, &companyID); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan blocked item: %w", err)
			}
			c.itemType = Type(itemType)
			c.companyID = companyID.String
			candidates = append(candidates, c)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, c := range candidates {
			if c.itemType == TypeCompany && c.companyID != "" {
				var active int
				if err := tx.QueryRowContext(ctx,
					`SELECT COUNT(1) FROM queue_items WHERE type = ? AND company_id = ? AND status IN (?, ?)`,
					TypeCompany, c.companyID, StatusPending, StatusProcessing,
				).Scan(&active); err != nil {
					return fmt.Errorf("check active company: %w", err)
				}
				if active > 0 {
					continue
				}
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE queue_items
                 SET status = ?, processed_at = NULL, completed_at = NULL, error_details = NULL,
                     result_message = NULL, updated_at = ?
                 WHERE id = ? AND status = ?`,
				StatusPending, database.FormatTime(now), c.id, StatusBlocked,
			)
			if err != nil {
				return fmt.Errorf("unblock item %s: %w", c.id, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			reset += affected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

// RecoverProcessing handles items that have sat in processing since before
// cutoff. Items with retries left return to pending with retry_count bumped;
// the rest are failed with the stuck_timeout category. It returns the number
// of items reset and the number failed.
func (s *Store) RecoverProcessing(ctx context.Context, cutoff, now time.Time) (int64, int64, error) {
	details, err := encodeErrorDetails(&ErrorDetails{
		Category: CategoryStuckTimeout,
		Message:  "processing exceeded the recovery timeout with no retries left",
	})
	if err != nil {
		return 0, 0, err
	}
	stamp := database.FormatTime(now)
	cutoffStamp := database.FormatTime(cutoff)

	var reset, failed int64
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE queue_items
             SET status = ?, retry_count = retry_count + 1, processed_at = NULL, updated_at = ?
             WHERE status = ? AND updated_at < ? AND retry_count < max_retries`,
			StatusPending, stamp, StatusProcessing, cutoffStamp,
		)
		if err != nil {
			return fmt.Errorf("reset stuck items: %w", err)
		}
		if reset, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE queue_items
             SET status = ?, completed_at = ?, updated_at = ?, error_details = ?
             WHERE status = ? AND updated_at < ? AND retry_count >= max_retries`,
			StatusFailed, stamp, stamp, details, StatusProcessing, cutoffStamp,
		)
		if err != nil {
			return fmt.Errorf("fail exhausted stuck items: %w", err)
		}
		failed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return reset, failed, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id            string
		typeStr       string
		statusStr     string
		url           sql.NullString
		companyName   sql.NullString
		companyID     sql.NullString
		source        string
		submittedBy   sql.NullString
		retryCount    int
		maxRetries    int
		createdRaw    string
		updatedRaw    string
		processedRaw  sql.NullString
		completedRaw  sql.NullString
		resultMessage sql.NullString
		errorDetails  sql.NullString
		metadata      sql.NullString
		payload       sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&typeStr,
		&statusStr,
		&url,
		&companyName,
		&companyID,
		&source,
		&submittedBy,
		&retryCount,
		&maxRetries,
		&createdRaw,
		&updatedRaw,
		&processedRaw,
		&completedRaw,
		&resultMessage,
		&errorDetails,
		&metadata,
		&payload,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:            id,
		Type:          Type(typeStr),
		Status:        Status(statusStr),
		URL:           url.String,
		CompanyName:   companyName.String,
		CompanyID:     companyID.String,
		Source:        source,
		SubmittedBy:   submittedBy.String,
		RetryCount:    retryCount,
		MaxRetries:    maxRetries,
		ResultMessage: resultMessage.String,
		Metadata:      map[string]any{},
	}
	if created, err := database.ParseTime(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := database.ParseTime(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	item.ProcessedAt = parseNullableTime(processedRaw)
	item.CompletedAt = parseNullableTime(completedRaw)

	if errorDetails.Valid && strings.TrimSpace(errorDetails.String) != "" {
		var details ErrorDetails
		if err := json.Unmarshal([]byte(errorDetails.String), &details); err != nil {
			return nil, fmt.Errorf("item %s: decode error details: %w", id, err)
		}
		item.ErrorDetails = &details
	}
	if metadata.Valid && strings.TrimSpace(metadata.String) != "" {
		if err := json.Unmarshal([]byte(metadata.String), &item.Metadata); err != nil {
			return nil, fmt.Errorf("item %s: decode metadata: %w", id, err)
		}
		if item.Metadata == nil {
			item.Metadata = map[string]any{}
		}
	}
	decoded, err := DecodePayload(item.Type, payload.String)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", id, err)
	}
	item.Payload = decoded
	return item, nil
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := database.ParseTime(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func encodeErrorDetails(details *ErrorDetails) (any, error) {
	if details == nil {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal error details: %w", err)
	}
	return string(data), nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
