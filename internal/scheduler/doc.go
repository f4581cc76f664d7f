// Package scheduler fires the daemon's background jobs at most once per
// configured hour.
//
// A single goroutine wakes on a cron schedule (every minute by default),
// loads the persisted cron config, and runs each due job in order. The last
// successful run of every job is stored with the config, and the in-memory
// watermarks are re-primed from it on every tick, so a restart inside an hour
// does not fire a job a second time. Failed jobs keep their watermark and are
// retried in the next configured hour.
package scheduler
