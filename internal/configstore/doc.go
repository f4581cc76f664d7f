// Package configstore persists runtime settings as JSON documents in the
// app_config table.
//
// Documents are keyed by name (cron-config, scrape-policy, worker-settings,
// ai-settings, gmail-accounts) and written whole. Callers own the shape of
// each document; typed helpers cover the settings shared across packages.
package configstore
