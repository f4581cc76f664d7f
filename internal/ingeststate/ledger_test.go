package ingeststate_test

import (
	"context"
	"testing"
	"time"

	"applytrack/internal/ingeststate"
	"applytrack/internal/testsupport"
)

func TestRecordProcessedIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ledger := ingeststate.New(testsupport.MustOpenDB(t, cfg))
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	processed, err := ledger.IsMessageProcessed(ctx, "m1")
	if err != nil || processed {
		t.Fatalf("expected unprocessed, got %v err=%v", processed, err)
	}

	rec := ingeststate.Record{MessageID: "m1", ThreadID: "t1", Email: "me@example.com", ProcessedAt: now, JobsFound: 2, JobsEnqueued: 1}
	if err := ledger.RecordProcessed(ctx, rec); err != nil {
		t.Fatalf("RecordProcessed: %v", err)
	}
	rec.Error = "boom"
	rec.JobsEnqueued = 0
	if err := ledger.RecordProcessed(ctx, rec); err != nil {
		t.Fatalf("RecordProcessed again: %v", err)
	}

	processed, err = ledger.IsMessageProcessed(ctx, "m1")
	if err != nil || !processed {
		t.Fatalf("expected processed, got %v err=%v", processed, err)
	}
	stored, err := ledger.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Error != "boom" || stored.JobsEnqueued != 0 || !stored.ProcessedAt.Equal(now) {
		t.Fatalf("unexpected record %+v", stored)
	}

	stats, err := ledger.Stats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Messages != 1 || stats.Errors != 1 || stats.JobsFound != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRecentAndPrune(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ledger := ingeststate.New(testsupport.MustOpenDB(t, cfg))
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		email := "a@example.com"
		if id == "mid" {
			email = "b@example.com"
		}
		if err := ledger.RecordProcessed(ctx, ingeststate.Record{MessageID: id, Email: email, ProcessedAt: base.Add(time.Duration(i) * 24 * time.Hour)}); err != nil {
			t.Fatalf("RecordProcessed: %v", err)
		}
	}

	recent, err := ledger.Recent(ctx, "a@example.com", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].MessageID != "new" {
		t.Fatalf("unexpected recent rows %+v", recent)
	}

	removed, err := ledger.Prune(ctx, base.Add(36*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 pruned, got %d", removed)
	}
	if ok, _ := ledger.IsMessageProcessed(ctx, "new"); !ok {
		t.Fatal("newest row should survive prune")
	}
}

func TestPruneOlderThanDays(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ledger := ingeststate.New(testsupport.MustOpenDB(t, cfg), ingeststate.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ages := map[string]time.Duration{
		"stale":    31 * 24 * time.Hour,
		"boundary": 30*24*time.Hour - time.Minute,
		"fresh":    2 * 24 * time.Hour,
	}
	for id, age := range ages {
		if err := ledger.RecordProcessed(ctx, ingeststate.Record{MessageID: id, Email: "a@example.com", ProcessedAt: now.Add(-age)}); err != nil {
			t.Fatalf("RecordProcessed(%s): %v", id, err)
		}
	}

	removed, err := ledger.PruneOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned, got %d", removed)
	}
	for _, id := range []string{"boundary", "fresh"} {
		if ok, _ := ledger.IsMessageProcessed(ctx, id); !ok {
			t.Fatalf("%s should survive a 30 day prune", id)
		}
	}
	if _, err := ledger.PruneOlderThan(ctx, 0); err == nil {
		t.Fatal("expected error for zero days")
	}
}

func TestAccountStatsAndLastSyncTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ledger := ingeststate.New(testsupport.MustOpenDB(t, cfg))
	ctx := context.Background()

	last, err := ledger.LastSyncTime(ctx, "")
	if err != nil || last != nil {
		t.Fatalf("expected no sync time on empty ledger, got %v %v", last, err)
	}

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	records := []ingeststate.Record{
		{MessageID: "a1", Email: "a@example.com", ProcessedAt: base, JobsFound: 2, JobsEnqueued: 1},
		{MessageID: "a2", Email: "a@example.com", ProcessedAt: base.Add(time.Hour), Error: "decode failed"},
		{MessageID: "b1", Email: "b@example.com", ProcessedAt: base.Add(2 * time.Hour), JobsFound: 1, JobsEnqueued: 1},
	}
	for _, rec := range records {
		if err := ledger.RecordProcessed(ctx, rec); err != nil {
			t.Fatalf("RecordProcessed: %v", err)
		}
	}

	stats, err := ledger.AccountStats(ctx, "a@example.com", time.Time{})
	if err != nil {
		t.Fatalf("AccountStats: %v", err)
	}
	if stats.Messages != 2 || stats.JobsFound != 2 || stats.JobsEnqueued != 1 || stats.Errors != 1 {
		t.Fatalf("unexpected account stats %+v", stats)
	}

	all, err := ledger.Stats(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if all.Messages != 2 || all.JobsEnqueued != 1 {
		t.Fatalf("unexpected windowed stats %+v", all)
	}

	last, err = ledger.LastSyncTime(ctx, "a@example.com")
	if err != nil || last == nil || !last.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected account sync time %v %v", last, err)
	}
	last, err = ledger.LastSyncTime(ctx, "")
	if err != nil || last == nil || !last.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("unexpected overall sync time %v %v", last, err)
	}
}
