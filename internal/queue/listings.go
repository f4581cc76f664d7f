package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"applytrack/internal/database"
)

const orphanPredicate = `NOT EXISTS (SELECT 1 FROM job_matches m WHERE m.listing_id = l.id)
      AND NOT EXISTS (
          SELECT 1 FROM queue_items q
          WHERE q.url = l.url AND q.status IN ('pending', 'processing')
      )`

// UpsertListing records a listing by URL, refreshing its title and company
// when provided, and returns the stored row.
func (s *Store) UpsertListing(ctx context.Context, url, title, companyName string, now time.Time) (*Listing, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, invalid("url", "listing url is required")
	}
	if err := s.db.ExecWithoutResultRetry(
		ctx,
		`INSERT INTO job_listings (id, url, title, company_name, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(url) DO UPDATE SET
             title = COALESCE(excluded.title, job_listings.title),
             company_name = COALESCE(excluded.company_name, job_listings.company_name)`,
		uuid.NewString(),
		url,
		database.NullableString(title),
		database.NullableString(companyName),
		database.FormatTime(now),
	); err != nil {
		return nil, fmt.Errorf("upsert listing: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, url, title, company_name, created_at FROM job_listings WHERE url = ?`, url)
	listing, err := scanListing(row)
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	return listing, nil
}

// RecordMatch stores a match result for a listing.
func (s *Store) RecordMatch(ctx context.Context, listingID string, score float64, now time.Time) error {
	if err := s.db.ExecWithoutResultRetry(
		ctx,
		`INSERT INTO job_matches (id, listing_id, score, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(),
		listingID,
		score,
		database.FormatTime(now),
	); err != nil {
		return fmt.Errorf("record match: %w", err)
	}
	return nil
}

// OrphanedListings returns listings that have neither a match record nor an
// active queue item for their URL, oldest first.
func (s *Store) OrphanedListings(ctx context.Context, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT l.id, l.url, l.title, l.company_name, l.created_at
         FROM job_listings l
         WHERE `+orphanPredicate+`
         ORDER BY l.created_at, l.id
         LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query orphaned listings: %w", err)
	}
	defer rows.Close()

	var listings []Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, *listing)
	}
	return listings, rows.Err()
}

// OrphanedListingsCount returns how many listings OrphanedListings would report without a limit.
func (s *Store) OrphanedListingsCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM job_listings l WHERE `+orphanPredicate).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("count orphaned listings: %w", err)
	}
	return count, nil
}

func scanListing(scanner interface{ Scan(dest ...any) error }) (*Listing, error) {
	var (
		listing     Listing
		title       sql.NullString
		companyName sql.NullString
		createdRaw  string
	)
	if err := scanner.Scan(&listing.ID, &listing.URL, &title, &companyName, &createdRaw); err != nil {
		return nil, err
	}
	listing.Title = title.String
	listing.CompanyName = companyName.String
	if created, err := database.ParseTime(createdRaw); err == nil {
		listing.CreatedAt = created
	}
	return &listing, nil
}
