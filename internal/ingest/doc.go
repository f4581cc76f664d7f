// Package ingest scans connected Gmail accounts for job alert mail and
// enqueues the postings it finds.
//
// A run walks each account in turn: it refreshes the OAuth token, collects
// candidate message ids from the history feed (falling back to a search
// query), skips ids already in the ingest ledger, fetches the rest with
// bounded concurrency, filters by sender and content, extracts postings and
// submits them as job items. Every message that was fetched and processed is
// written to the ledger, even when nothing was enqueued, so the same mail is
// never submitted twice. Fetch failures are not recorded and are retried on
// the next run. Runs never overlap.
package ingest
