package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"applytrack/internal/queue"
	"applytrack/internal/services"
	"applytrack/internal/testsupport"
)

func newService(t *testing.T) (*queue.Service, *testsupport.Clock) {
	t.Helper()
	clock := testsupport.NewClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	cfg := testsupport.NewConfig(t)
	svc, _ := testsupport.MustOpenQueue(t, cfg, queue.WithClock(clock.Now))
	return svc, clock
}

func statusPtr(s queue.Status) *queue.Status { return &s }

func TestSubmitJobDefaults(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	item, err := svc.SubmitJob(ctx, queue.JobSubmission{
		URL:         " https://jobs.example.com/1 ",
		CompanyName: "Acme",
		Title:       "Engineer",
		Submission:  queue.Submission{Source: "email", Metadata: map[string]any{"gmailMessageId": "m1"}},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if item.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", item.Status)
	}
	if item.MaxRetries != queue.DefaultMaxRetries {
		t.Fatalf("expected default max retries, got %d", item.MaxRetries)
	}

	stored, err := svc.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.URL != "https://jobs.example.com/1" || stored.Source != "email" {
		t.Fatalf("unexpected stored item %+v", stored)
	}
	payload, ok := stored.Payload.(queue.JobPayload)
	if !ok {
		t.Fatalf("expected JobPayload, got %T", stored.Payload)
	}
	if payload.Title != "Engineer" {
		t.Fatalf("unexpected title %q", payload.Title)
	}
	if stored.Metadata["gmailMessageId"] != "m1" {
		t.Fatalf("metadata not persisted: %v", stored.Metadata)
	}
}

func TestSubmitJobWithGenerationIsSuccess(t *testing.T) {
	svc, _ := newService(t)

	item, err := svc.SubmitJob(context.Background(), queue.JobSubmission{
		URL:          "https://jobs.example.com/2",
		GenerationID: "gen-7",
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if item.Status != queue.StatusSuccess {
		t.Fatalf("expected success, got %s", item.Status)
	}
	if item.CompletedAt == nil || item.ResultMessage == "" {
		t.Fatalf("expected completion fields, got %+v", item)
	}
}

func TestSubmitJobRejectsActiveDuplicateURL(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	first := testsupport.NewJob(t, svc, "https://jobs.example.com/3")

	_, err := svc.SubmitJob(ctx, queue.JobSubmission{URL: "https://jobs.example.com/3"})
	var conflict *queue.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ExistingID != first.ID {
		t.Fatalf("expected existing id %s, got %s", first.ID, conflict.ExistingID)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	negative := -1

	cases := []struct {
		name string
		call func() error
	}{
		{"job without url", func() error {
			_, err := svc.SubmitJob(ctx, queue.JobSubmission{})
			return err
		}},
		{"company without name or id", func() error {
			_, err := svc.SubmitCompany(ctx, queue.CompanySubmission{})
			return err
		}},
		{"scrape with negative target", func() error {
			_, err := svc.SubmitScrape(ctx, queue.ScrapeSubmission{ScrapeConfig: queue.ScrapeConfig{TargetMatches: &negative}})
			return err
		}},
		{"scrape with negative sources", func() error {
			_, err := svc.SubmitScrape(ctx, queue.ScrapeSubmission{ScrapeConfig: queue.ScrapeConfig{MaxSources: &negative}})
			return err
		}},
		{"discovery without url", func() error {
			_, err := svc.SubmitSourceDiscovery(ctx, queue.SourceDiscoverySubmission{})
			return err
		}},
		{"recover without source", func() error {
			_, err := svc.SubmitSourceRecover(ctx, queue.SourceRecoverSubmission{})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSubmitScrapeKeepsConfig(t *testing.T) {
	svc, _ := newService(t)
	target, sources := 5, 0

	item, err := svc.SubmitScrape(context.Background(), queue.ScrapeSubmission{
		Submission:   queue.Submission{Source: "automated_scan"},
		ScrapeConfig: queue.ScrapeConfig{TargetMatches: &target, MaxSources: &sources, SourceIDs: []string{"a", " a ", "", "b"}},
	})
	if err != nil {
		t.Fatalf("SubmitScrape: %v", err)
	}
	stored, err := svc.Get(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	payload := stored.Payload.(queue.ScrapePayload)
	if payload.ScrapeConfig.TargetMatches == nil || *payload.ScrapeConfig.TargetMatches != 5 {
		t.Fatalf("unexpected target matches %+v", payload.ScrapeConfig)
	}
	if payload.ScrapeConfig.MaxSources == nil || *payload.ScrapeConfig.MaxSources != 0 {
		t.Fatalf("zero max sources should survive, got %+v", payload.ScrapeConfig)
	}
	if len(payload.ScrapeConfig.SourceIDs) != 2 {
		t.Fatalf("expected deduped source ids, got %v", payload.ScrapeConfig.SourceIDs)
	}
}

func TestFailedItemCannotReturnToPendingExceptViaRetry(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	item := testsupport.NewJob(t, svc, "https://jobs.example.com/4")

	clock.Advance(time.Minute)
	processing := testsupport.MoveTo(t, svc, item.ID, queue.StatusProcessing)
	if processing.ProcessedAt == nil {
		t.Fatal("expected processed_at to be stamped")
	}
	clock.Advance(time.Minute)
	message := "worker exploded"
	failed, err := svc.Update(ctx, item.ID, queue.Patch{
		Status:        statusPtr(queue.StatusFailed),
		ResultMessage: &message,
		ErrorDetails:  &queue.ErrorDetails{Category: "worker", Message: message},
	})
	if err != nil {
		t.Fatalf("Update(failed): %v", err)
	}
	if failed.CompletedAt == nil {
		t.Fatal("expected completed_at to be stamped")
	}

	_, err = svc.Update(ctx, item.ID, queue.Patch{Status: statusPtr(queue.StatusPending)})
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	retried, err := svc.Retry(ctx, item.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != queue.StatusPending || retried.RetryCount != 1 {
		t.Fatalf("unexpected retried item %+v", retried)
	}
	stored, err := svc.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.ProcessedAt != nil || stored.CompletedAt != nil || stored.ErrorDetails != nil || stored.ResultMessage != "" {
		t.Fatalf("retry should clear outcome fields, got %+v", stored)
	}
}

func TestRetryRequiresFailed(t *testing.T) {
	svc, _ := newService(t)
	item := testsupport.NewJob(t, svc, "https://jobs.example.com/5")

	_, err := svc.Retry(context.Background(), item.ID)
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUnblockRequiresBlocked(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	item := testsupport.NewJob(t, svc, "https://jobs.example.com/6")

	_, err := svc.UnblockItem(ctx, item.ID)
	if err == nil || err.Error() != "Only blocked items can be unblocked" {
		t.Fatalf("unexpected error %v", err)
	}

	testsupport.MoveTo(t, svc, item.ID, queue.StatusBlocked)
	unblocked, err := svc.UnblockItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("UnblockItem: %v", err)
	}
	if unblocked.Status != queue.StatusPending || unblocked.CompletedAt != nil {
		t.Fatalf("unexpected unblocked item %+v", unblocked)
	}
}

func TestUnblockAllFiltersByCategory(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	block := func(url, category string) string {
		item := testsupport.NewJob(t, svc, url)
		if _, err := svc.Update(ctx, item.ID, queue.Patch{
			Status:       statusPtr(queue.StatusBlocked),
			ErrorDetails: &queue.ErrorDetails{Category: category},
		}); err != nil {
			t.Fatalf("block: %v", err)
		}
		return item.ID
	}
	quota := block("https://jobs.example.com/q", "quota")
	block("https://jobs.example.com/a", "auth")

	count, err := svc.UnblockAll(ctx, "quota")
	if err != nil {
		t.Fatalf("UnblockAll: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unblocked, got %d", count)
	}
	item, _ := svc.Get(ctx, quota)
	if item.Status != queue.StatusPending {
		t.Fatalf("expected quota item pending, got %s", item.Status)
	}

	count, err = svc.UnblockAll(ctx, "")
	if err != nil {
		t.Fatalf("UnblockAll: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected remaining item unblocked, got %d", count)
	}
}

func TestSubmitCompanyUniqueInFlight(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.SubmitCompany(ctx, queue.CompanySubmission{CompanyID: "c1", CompanyName: "Acme"})
	if err != nil {
		t.Fatalf("SubmitCompany: %v", err)
	}
	_, err = svc.SubmitCompany(ctx, queue.CompanySubmission{CompanyID: "c1", CompanyName: "Acme"})
	if !errors.Is(err, queue.ErrActiveTaskExists) {
		t.Fatalf("expected ErrActiveTaskExists, got %v", err)
	}

	testsupport.MoveTo(t, svc, first.ID, queue.StatusProcessing)
	_, err = svc.SubmitCompany(ctx, queue.CompanySubmission{CompanyID: "c1"})
	if !errors.Is(err, queue.ErrActiveTaskExists) {
		t.Fatalf("expected conflict while processing, got %v", err)
	}

	testsupport.MoveTo(t, svc, first.ID, queue.StatusSuccess)
	second, err := svc.SubmitCompany(ctx, queue.CompanySubmission{CompanyID: "c1"})
	if err != nil {
		t.Fatalf("SubmitCompany after terminal: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a new item")
	}
}

func TestRetryCompanyConflictsWithActiveTask(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.SubmitCompany(ctx, queue.CompanySubmission{CompanyID: "c2"})
	if err != nil {
		t.Fatalf("SubmitCompany: %v", err)
	}
	testsupport.MoveTo(t, svc, first.ID, queue.StatusFailed)
	if _, err := svc.SubmitCompany(ctx, queue.CompanySubmission{CompanyID: "c2"}); err != nil {
		t.Fatalf("SubmitCompany: %v", err)
	}

	_, err = svc.Retry(ctx, first.ID)
	if !errors.Is(err, queue.ErrActiveTaskExists) {
		t.Fatalf("expected ErrActiveTaskExists, got %v", err)
	}
}

func TestRecoverStuckProcessing(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()

	stuck := testsupport.NewJob(t, svc, "https://jobs.example.com/stuck")
	testsupport.MoveTo(t, svc, stuck.ID, queue.StatusProcessing)

	clock.Advance(35 * time.Minute)
	fresh := testsupport.NewJob(t, svc, "https://jobs.example.com/fresh")
	testsupport.MoveTo(t, svc, fresh.ID, queue.StatusProcessing)

	clock.Advance(10 * time.Minute)
	count, err := svc.RecoverStuckProcessing(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStuckProcessing: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recovered item, got %d", count)
	}

	recovered, _ := svc.Get(ctx, stuck.ID)
	if recovered.Status != queue.StatusPending || recovered.ProcessedAt != nil || recovered.RetryCount != 1 {
		t.Fatalf("unexpected recovered item %+v", recovered)
	}
	untouched, _ := svc.Get(ctx, fresh.ID)
	if untouched.Status != queue.StatusProcessing {
		t.Fatalf("item stuck 10 minutes should be untouched, got %s", untouched.Status)
	}
}

func TestRecoverStuckProcessingFailsExhaustedItems(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()

	item, err := svc.SubmitJob(ctx, queue.JobSubmission{
		URL:        "https://jobs.example.com/exhausted",
		Submission: queue.Submission{MaxRetries: 1},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	testsupport.MoveTo(t, svc, item.ID, queue.StatusProcessing)
	clock.Advance(time.Hour)
	if count, err := svc.RecoverStuckProcessing(ctx, 30*time.Minute); err != nil || count != 1 {
		t.Fatalf("first recovery: count=%d err=%v", count, err)
	}

	testsupport.MoveTo(t, svc, item.ID, queue.StatusProcessing)
	clock.Advance(time.Hour)
	count, err := svc.RecoverStuckProcessing(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("second recovery: %v", err)
	}
	if count != 0 {
		t.Fatalf("exhausted items are not counted, got %d", count)
	}
	failed, _ := svc.Get(ctx, item.ID)
	if failed.Status != queue.StatusFailed || failed.ErrorDetails == nil || failed.ErrorDetails.Category != queue.CategoryStuckTimeout {
		t.Fatalf("expected stuck_timeout failure, got %+v", failed)
	}
}

func TestUpdateMergesMetadataAndReportsNotFound(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	item, err := svc.SubmitJob(ctx, queue.JobSubmission{
		URL:        "https://jobs.example.com/meta",
		Submission: queue.Submission{Metadata: map[string]any{"keep": "yes", "drop": "soon"}},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	updated, err := svc.Update(ctx, item.ID, queue.Patch{Metadata: map[string]any{"drop": nil, "added": "1"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Metadata["keep"] != "yes" || updated.Metadata["added"] != "1" {
		t.Fatalf("unexpected metadata %v", updated.Metadata)
	}
	if _, ok := updated.Metadata["drop"]; ok {
		t.Fatalf("expected drop to be removed: %v", updated.Metadata)
	}

	_, err = svc.Update(ctx, "missing", queue.Patch{})
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRejectsExplicitPendingOnPendingItem(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	item := testsupport.NewJob(t, svc, "https://jobs.example.com/still-pending")

	_, err := svc.Update(ctx, item.ID, queue.Patch{Status: statusPtr(queue.StatusPending)})
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	note := "seen"
	updated, err := svc.Update(ctx, item.ID, queue.Patch{ResultMessage: &note})
	if err != nil {
		t.Fatalf("metadata-only Update: %v", err)
	}
	if updated.Status != queue.StatusPending || updated.ResultMessage != note {
		t.Fatalf("unexpected item %+v", updated)
	}
}

func TestDeleteAndStats(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a := testsupport.NewJob(t, svc, "https://jobs.example.com/a")
	testsupport.NewJob(t, svc, "https://jobs.example.com/b")
	testsupport.MoveTo(t, svc, a.ID, queue.StatusProcessing)

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 || stats.ByStatus[queue.StatusProcessing] != 1 || stats.ByType[queue.TypeJob] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, a.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	items, err := svc.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusPending}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 pending item, got %d", len(items))
	}
}
