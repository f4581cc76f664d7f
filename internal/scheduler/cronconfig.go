package scheduler

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"applytrack/internal/configstore"
)

// Job names in execution order.
const (
	JobScrape      = "scrape"
	JobMaintenance = "maintenance"
	JobLogRotate   = "logrotate"
	JobAgentReset  = "agentReset"
)

// JobOrder is the order jobs are evaluated within a tick.
var JobOrder = []string{JobScrape, JobMaintenance, JobLogRotate, JobAgentReset}

// JobConfig is the persisted schedule of one job.
type JobConfig struct {
	Enabled bool       `json:"enabled"`
	Hours   []int      `json:"hours"`
	LastRun *time.Time `json:"lastRun"`
}

// RunsAt reports whether hour is one of the configured hours.
func (c JobConfig) RunsAt(hour int) bool {
	return slices.Contains(c.Hours, hour)
}

// CronConfig maps job names to their schedules.
type CronConfig map[string]JobConfig

// DefaultCronConfig returns the schedule seeded on first use.
func DefaultCronConfig() CronConfig {
	return CronConfig{
		JobScrape:      {Enabled: true, Hours: []int{0, 6, 12, 18}},
		JobMaintenance: {Enabled: true, Hours: []int{3}},
		JobLogRotate:   {Enabled: true, Hours: []int{0}},
		JobAgentReset:  {Enabled: true, Hours: []int{0}},
	}
}

// normalizeHours drops out-of-range values, sorts and dedupes.
func normalizeHours(hours []int) []int {
	out := make([]int, 0, len(hours))
	for _, h := range hours {
		if h >= 0 && h <= 23 {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// decodeCronConfig parses a stored document. Jobs missing from it take the
// default schedule. seeded reports whether anything had to be defaulted.
func decodeCronConfig(payload []byte) (cfg CronConfig, seeded bool) {
	defaults := DefaultCronConfig()
	var stored CronConfig
	if len(payload) == 0 || json.Unmarshal(payload, &stored) != nil || stored == nil {
		return defaults, true
	}
	cfg = make(CronConfig, len(JobOrder))
	for _, name := range JobOrder {
		job, ok := stored[name]
		if !ok {
			cfg[name] = defaults[name]
			seeded = true
			continue
		}
		job.Hours = normalizeHours(job.Hours)
		cfg[name] = job
	}
	return cfg, seeded
}

// LoadCronConfig reads the cron config, returning defaults when it is
// missing or unreadable. seeded reports whether defaults were applied.
func LoadCronConfig(ctx context.Context, store *configstore.Store) (CronConfig, bool, error) {
	entry, err := store.Get(ctx, configstore.KeyCronConfig)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return DefaultCronConfig(), true, nil
	}
	cfg, seeded := decodeCronConfig(entry.Payload)
	return cfg, seeded, nil
}

// SaveCronConfig persists cfg.
func SaveCronConfig(ctx context.Context, store *configstore.Store, cfg CronConfig, updatedBy string) error {
	stored := make(CronConfig, len(cfg))
	for name, job := range cfg {
		job.Hours = normalizeHours(job.Hours)
		stored[name] = job
	}
	return store.Save(ctx, configstore.KeyCronConfig, stored, updatedBy)
}
