package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"applytrack/internal/configstore"
	"applytrack/internal/logging"
	"applytrack/internal/queue"
	"applytrack/internal/services"
	"applytrack/internal/worker"
)

// Action performs one job and returns a short summary.
type Action func(ctx context.Context) (string, error)

// QueueService is the subset of the queue used by scheduled jobs.
type QueueService interface {
	SubmitScrape(ctx context.Context, in queue.ScrapeSubmission) (*queue.Item, error)
	RecoverStuckProcessing(ctx context.Context, timeout time.Duration) (int64, error)
}

// WorkerClient is the subset of the worker API used by maintenance.
type WorkerClient interface {
	Health(ctx context.Context) (worker.Health, error)
	TriggerMaintenance(ctx context.Context) (worker.MaintenanceResult, error)
}

// LedgerPruner drops processed-message ledger rows older than days.
type LedgerPruner interface {
	PruneOlderThan(ctx context.Context, days int) (int64, error)
}

const submitter = "scheduler"

func (s *Scheduler) defaultActions() map[string]Action {
	return map[string]Action{
		JobScrape:      s.runScrape,
		JobMaintenance: s.runMaintenance,
		JobLogRotate:   s.runLogRotate,
		JobAgentReset:  s.runAgentReset,
	}
}

func (s *Scheduler) runScrape(ctx context.Context) (string, error) {
	policy, err := s.store.ScrapePolicy(ctx)
	if err != nil {
		return "", fmt.Errorf("load scrape policy: %w", err)
	}
	item, err := s.queue.SubmitScrape(ctx, queue.ScrapeSubmission{
		Submission: queue.Submission{Source: "automated_scan", SubmittedBy: submitter},
		ScrapeConfig: queue.ScrapeConfig{
			TargetMatches: policy.TargetMatches,
			MaxSources:    policy.MaxSources,
			SourceIDs:     policy.SourceIDs,
		},
	})
	if err != nil {
		return "", err
	}
	return "enqueued scrape " + item.ID, nil
}

func (s *Scheduler) runMaintenance(ctx context.Context) (string, error) {
	recovered, err := s.queue.RecoverStuckProcessing(ctx, s.cfg.StuckTimeout())
	if err != nil {
		return "", fmt.Errorf("recover stuck items: %w", err)
	}
	summary := fmt.Sprintf("recovered %d stuck items", recovered)
	if days := s.cfg.Gmail.LedgerRetentionDays; s.ledger != nil && days > 0 {
		pruned, err := s.ledger.PruneOlderThan(ctx, days)
		if err != nil {
			return summary, fmt.Errorf("prune ingest ledger: %w", err)
		}
		summary += fmt.Sprintf(", pruned %d ledger rows", pruned)
	}
	if s.worker == nil {
		return summary, nil
	}

	health, err := s.worker.Health(ctx)
	if err != nil {
		return summary, err
	}
	if !health.Healthy() {
		return summary, services.Wrap(services.ErrExternalTool, "worker", "health check",
			"worker reported status "+health.Status, nil)
	}
	result, err := s.worker.TriggerMaintenance(ctx)
	if err != nil {
		return summary, err
	}
	if result.Message != "" {
		summary += "; worker: " + result.Message
	}
	return summary, nil
}

func (s *Scheduler) runLogRotate(_ context.Context) (string, error) {
	dir := s.cfg.Paths.LogDir
	paths, err := logging.OversizedLogs(dir, s.cfg.Logging.RotateMaxBytes)
	if err != nil {
		return "", err
	}
	var errs []error
	rotated := 0
	for _, path := range paths {
		if _, err := logging.RotateFile(path, s.now()); err != nil {
			errs = append(errs, err)
			continue
		}
		rotated++
	}
	retention := time.Duration(s.cfg.Logging.RetentionDays) * 24 * time.Hour
	pruned, err := logging.PruneArchives(s.logger, dir, retention, s.now())
	if err != nil {
		errs = append(errs, err)
	}
	return fmt.Sprintf("rotated %d, pruned %d", rotated, len(pruned)), errors.Join(errs...)
}

func (s *Scheduler) runAgentReset(ctx context.Context) (string, error) {
	ai, err := s.store.AISettings(ctx)
	if err != nil {
		return "", fmt.Errorf("load ai settings: %w", err)
	}
	reenabled := 0
	for name, agent := range ai.Agents {
		agent.DailyUsage = 0
		if !agent.Enabled && strings.HasPrefix(agent.Reason, configstore.QuotaExhaustedPrefix) {
			agent.Enabled = true
			agent.Reason = ""
			reenabled++
		}
		ai.Agents[name] = agent
	}
	if len(ai.Agents) > 0 {
		if err := s.store.Save(ctx, configstore.KeyAISettings, ai, submitter); err != nil {
			return "", fmt.Errorf("save ai settings: %w", err)
		}
	}
	summary := fmt.Sprintf("reset %d agents, re-enabled %d", len(ai.Agents), reenabled)
	if reenabled == 0 {
		return summary, nil
	}

	settings, err := s.store.WorkerSettings(ctx)
	if err != nil {
		return summary, fmt.Errorf("load worker settings: %w", err)
	}
	if !settings.PausedForQuota() {
		return summary, nil
	}
	settings.IsProcessingEnabled = true
	settings.StopReason = ""
	if err := s.store.Save(ctx, configstore.KeyWorkerSettings, settings, submitter); err != nil {
		return summary, fmt.Errorf("save worker settings: %w", err)
	}
	return summary + "; resumed queue processing", nil
}
