// Package logging assembles structured slog loggers and formatting helpers used
// across applytrack services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so scheduler jobs and ingestion
// runs automatically tag log lines with queue item IDs, job names, and mail
// accounts. The package also provides a no-op logger for tests, retention
// pruning, and the copy-and-truncate rotation used by the logrotate job.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
