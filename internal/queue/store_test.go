package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"applytrack/internal/queue"
	"applytrack/internal/testsupport"
)

func TestGetFailsLoudlyOnCorruptPayload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc, db := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()
	item := testsupport.NewJob(t, svc, "https://jobs.example.com/corrupt")

	if _, err := db.Exec(`UPDATE queue_items SET payload_json = '{"source_id":"s1"}' WHERE id = ?`, item.ID); err != nil {
		t.Fatalf("corrupt payload: %v", err)
	}
	_, err := svc.Get(ctx, item.ID)
	if !errors.Is(err, queue.ErrPayloadMismatch) {
		t.Fatalf("expected ErrPayloadMismatch, got %v", err)
	}
}

func TestCompanyPartialIndexRejectsSecondActiveRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc, _ := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()
	store := svc.Store()
	now := time.Now().UTC()

	newCompany := func(id string) *queue.Item {
		return &queue.Item{
			ID:          id,
			Type:        queue.TypeCompany,
			Status:      queue.StatusPending,
			CompanyID:   "c9",
			Source:      "manual",
			MaxRetries:  queue.DefaultMaxRetries,
			CreatedAt:   now,
			UpdatedAt:   now,
			Payload:     queue.CompanyPayload{},
			CompanyName: "Nine",
		}
	}
	if err := store.Insert(ctx, newCompany("a")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Insert(ctx, newCompany("b")); err == nil {
		t.Fatal("expected the partial unique index to reject a second active company row")
	}
}

func TestSaveIsConditionalOnStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc, _ := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()
	item := testsupport.NewJob(t, svc, "https://jobs.example.com/race")

	item.Status = queue.StatusProcessing
	ok, err := svc.Store().Save(ctx, item, queue.StatusFailed)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ok {
		t.Fatal("expected Save to report a lost race")
	}
	ok, err = svc.Store().Save(ctx, item, queue.StatusPending)
	if err != nil || !ok {
		t.Fatalf("expected conditional save to succeed, ok=%v err=%v", ok, err)
	}
}

func TestOrphanedListings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc, _ := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()
	store := svc.Store()
	now := time.Now().UTC()

	matched, err := store.UpsertListing(ctx, "https://jobs.example.com/matched", "Matched", "Acme", now)
	if err != nil {
		t.Fatalf("UpsertListing: %v", err)
	}
	if err := store.RecordMatch(ctx, matched.ID, 0.9, now); err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}
	if _, err := store.UpsertListing(ctx, "https://jobs.example.com/queued", "Queued", "Acme", now.Add(time.Second)); err != nil {
		t.Fatalf("UpsertListing: %v", err)
	}
	testsupport.NewJob(t, svc, "https://jobs.example.com/queued")
	orphan, err := store.UpsertListing(ctx, "https://jobs.example.com/orphan", "Orphan", "", now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("UpsertListing: %v", err)
	}

	again, err := store.UpsertListing(ctx, "https://jobs.example.com/orphan", "", "Beta", now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("UpsertListing (update): %v", err)
	}
	if again.ID != orphan.ID || again.Title != "Orphan" || again.CompanyName != "Beta" {
		t.Fatalf("upsert should keep id and merge fields, got %+v", again)
	}

	listings, err := svc.OrphanedListings(ctx, 10)
	if err != nil {
		t.Fatalf("OrphanedListings: %v", err)
	}
	if len(listings) != 1 || listings[0].ID != orphan.ID {
		t.Fatalf("expected only the orphan listing, got %+v", listings)
	}
	count, err := svc.OrphanedListingsCount(ctx)
	if err != nil {
		t.Fatalf("OrphanedListingsCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}
