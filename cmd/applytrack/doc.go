// Command applytrack is the CLI for the applytrack daemon.
//
// `applytrack daemon` runs the long-lived process that owns the queue
// database, the hourly scheduler, and the HTTP API. Every other command talks
// to that API when the daemon is reachable and falls back to opening the
// database directly otherwise, so queue inspection keeps working while the
// daemon is down.
package main
