// Package config loads, normalizes, and validates applytrack configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// APPLYTRACK_LOG_DIR and APPLYTRACK_CRON_ENABLED. The Config type centralizes
// every knob the daemon and CLI need so that the scheduler, mail ingestion, and
// API server all see the same sanitized values.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical log formats, and clear validation errors.
package config
