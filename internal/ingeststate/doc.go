// Package ingeststate is the idempotency ledger for mail ingestion.
//
// Every message the ingester examines gets exactly one row keyed by message
// id, written whether or not it produced queue items. The ingester checks the
// ledger before doing any parsing work, which makes re-runs and retries safe.
package ingeststate
