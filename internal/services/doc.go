// Package services defines shared utilities consumed by the scheduler, the
// mail ingestion pipeline, and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp queue item IDs, scheduled job names, mail
//     accounts, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, with Category and
//     Retryable translating failures into consistent error details.
//
// Use these helpers when wiring new integrations so operational behaviour
// (error handling, observability) stays uniform across the daemon.
package services
