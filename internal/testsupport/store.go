package testsupport

import (
	"context"
	"testing"

	"applytrack/internal/config"
	"applytrack/internal/database"
	"applytrack/internal/queue"
)

// MustOpenDB opens the database for cfg and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *database.DB {
	t.Helper()

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// MustOpenQueue opens a queue service on a fresh database.
func MustOpenQueue(t testing.TB, cfg *config.Config, opts ...queue.Option) (*queue.Service, *database.DB) {
	t.Helper()

	db := MustOpenDB(t, cfg)
	return queue.NewService(queue.NewStore(db), opts...), db
}

// NewJob submits a pending job item for url.
func NewJob(t testing.TB, svc *queue.Service, url string) *queue.Item {
	t.Helper()

	item, err := svc.SubmitJob(context.Background(), queue.JobSubmission{URL: url})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	return item
}

// MoveTo drives item through Update to status.
func MoveTo(t testing.TB, svc *queue.Service, id string, status queue.Status) *queue.Item {
	t.Helper()

	item, err := svc.Update(context.Background(), id, queue.Patch{Status: &status})
	if err != nil {
		t.Fatalf("Update(%s): %v", status, err)
	}
	return item
}
