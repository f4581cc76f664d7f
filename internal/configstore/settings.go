package configstore

import (
	"context"
	"strings"
)

// QuotaExhaustedPrefix marks reasons and stop reasons set when an AI budget
// runs out. The daily agent reset clears them.
const QuotaExhaustedPrefix = "quota_exhausted:"

// ScrapePolicy bounds the scheduled scrape.
type ScrapePolicy struct {
	TargetMatches *int     `json:"targetMatches,omitempty"`
	MaxSources    *int     `json:"maxSources,omitempty"`
	SourceIDs     []string `json:"sourceIds,omitempty"`
}

// WorkerSettings controls whether the worker picks up queue items.
type WorkerSettings struct {
	IsProcessingEnabled bool   `json:"isProcessingEnabled"`
	StopReason          string `json:"stopReason,omitempty"`
	TaskDelaySeconds    int    `json:"taskDelaySeconds,omitempty"`
}

// PausedForQuota reports whether processing was stopped because of an exhausted budget.
func (w WorkerSettings) PausedForQuota() bool {
	return !w.IsProcessingEnabled && strings.HasPrefix(w.StopReason, QuotaExhaustedPrefix)
}

// AgentState tracks one AI agent's budget.
type AgentState struct {
	Enabled     bool   `json:"enabled"`
	Reason      string `json:"reason,omitempty"`
	DailyUsage  int    `json:"dailyUsage"`
	DailyBudget int    `json:"dailyBudget,omitempty"`
}

// AISettings holds per-agent budget state.
type AISettings struct {
	Agents map[string]AgentState `json:"agents"`
}

// ScrapePolicy returns the stored scrape policy or an empty one.
func (s *Store) ScrapePolicy(ctx context.Context) (ScrapePolicy, error) {
	var policy ScrapePolicy
	_, err := s.Load(ctx, KeyScrapePolicy, &policy)
	return policy, err
}

// WorkerSettings returns the stored worker settings. Processing defaults to enabled.
func (s *Store) WorkerSettings(ctx context.Context) (WorkerSettings, error) {
	settings := WorkerSettings{IsProcessingEnabled: true}
	_, err := s.Load(ctx, KeyWorkerSettings, &settings)
	return settings, err
}

// AISettings returns the stored agent settings.
func (s *Store) AISettings(ctx context.Context) (AISettings, error) {
	var settings AISettings
	_, err := s.Load(ctx, KeyAISettings, &settings)
	if settings.Agents == nil {
		settings.Agents = map[string]AgentState{}
	}
	return settings, err
}
