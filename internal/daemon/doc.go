// Package daemon coordinates the long-running applytrack process.
//
// It wires configuration, the SQLite database, the queue service, Gmail
// ingestion and the cron scheduler into a single lifecycle with flock-based
// locking to prevent multiple instances on one host, and serves the HTTP API
// used by the worker and the CLI.
//
// Keep orchestration logic here: queue semantics, ingestion and scheduling
// live in their own packages while the daemon focuses on startup, shutdown
// and wiring.
package daemon
