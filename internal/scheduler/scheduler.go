package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"applytrack/internal/config"
	"applytrack/internal/configstore"
	"applytrack/internal/logging"
	"applytrack/internal/services"
)

// Deps are the collaborators used by job actions. Worker may be nil, in
// which case maintenance only recovers stuck items.
type Deps struct {
	Store  *configstore.Store
	Queue  QueueService
	Worker WorkerClient
	Ledger LedgerPruner
	Logger *slog.Logger
}

// Option configures optional Scheduler behavior.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAction replaces the action run for job.
func WithAction(job string, action Action) Option {
	return func(s *Scheduler) {
		s.actions[job] = action
	}
}

// JobResult reports one job execution.
type JobResult struct {
	Job       string        `json:"job"`
	Success   bool          `json:"success"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// TickReport summarizes one tick.
type TickReport struct {
	HourKey   string      `json:"hour_key"`
	At        time.Time   `json:"at"`
	Results   []JobResult `json:"results,omitempty"`
	Persisted bool        `json:"persisted"`
	Error     string      `json:"error,omitempty"`
}

// Status is the scheduler's externally visible state.
type Status struct {
	Started   bool        `json:"started"`
	Enabled   bool        `json:"enabled"`
	Timezone  string      `json:"timezone"`
	TickSpec  string      `json:"tick_spec"`
	Jobs      CronConfig  `json:"jobs"`
	WorkerURL string      `json:"worker_url"`
	LogDir    string      `json:"log_dir"`
	NextTick  *time.Time  `json:"next_tick,omitempty"`
	LastTick  *TickReport `json:"last_tick,omitempty"`
}

// Scheduler runs the hourly background jobs.
type Scheduler struct {
	cfg      *config.Config
	store    *configstore.Store
	queue    QueueService
	worker   WorkerClient
	ledger   LedgerPruner
	logger   *slog.Logger
	loc      *time.Location
	schedule cron.Schedule
	actions  map[string]Action
	now      func() time.Time

	tickMu sync.Mutex
	state  *State

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	nextTick time.Time
	lastTick *TickReport
	jobs     CronConfig
}

// New builds a scheduler from configuration.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("scheduler: config is required")
	}
	if deps.Store == nil || deps.Queue == nil {
		return nil, errors.New("scheduler: config store and queue are required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "scheduler", "resolve timezone", "", err)
	}
	schedule, err := cron.ParseStandard(cfg.Scheduler.TickSpec)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "scheduler", "parse tick spec", cfg.Scheduler.TickSpec, err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		cfg:      cfg,
		store:    deps.Store,
		queue:    deps.Queue,
		worker:   deps.Worker,
		ledger:   deps.Ledger,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		loc:      loc,
		schedule: schedule,
		now:      time.Now,
		state:    NewState(loc),
	}
	s.actions = s.defaultActions()
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the tick loop. It ticks once immediately so a restart
// catches up on the current hour without waiting for the next boundary.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.loop(runCtx)

	s.logger.Info("scheduler started",
		logging.String("timezone", s.loc.String()),
		logging.String("tick_spec", s.cfg.Scheduler.TickSpec),
		logging.String(logging.FieldEventType, "scheduler_started"),
	)
	return nil
}

// Stop terminates the tick loop and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	s.Tick(ctx)
	for {
		now := s.now()
		next := s.schedule.Next(now)
		s.mu.Lock()
		s.nextTick = next
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.Tick(ctx)
	}
}

// Tick evaluates every job once against the current hour.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.now()
	report := TickReport{HourKey: HourKey(now, s.loc), At: now.UTC()}
	defer s.recordTick(&report)

	jobs, seeded, err := LoadCronConfig(ctx, s.store)
	if err != nil {
		report.Error = err.Error()
		logging.ErrorWithContext(s.logger, "load cron config failed", "scheduler_config_failed",
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.Error(err),
		)
		return report
	}
	if seeded {
		s.logger.Debug("cron config seeded with defaults")
	}
	for _, name := range JobOrder {
		s.state.Prime(name, jobs[name].LastRun)
	}

	hour := now.In(s.loc).Hour()
	ran := false
	for _, name := range JobOrder {
		job := jobs[name]
		if !job.Enabled || !job.RunsAt(hour) || !s.state.ShouldRun(name, report.HourKey) {
			continue
		}
		action := s.actions[name]
		if action == nil {
			continue
		}
		result := s.runJob(ctx, name, action)
		report.Results = append(report.Results, result)
		if !result.Success {
			s.state.MarkFailed(name, report.HourKey)
			continue
		}
		ranAt := now.UTC()
		job.LastRun = &ranAt
		jobs[name] = job
		s.state.MarkRan(name, report.HourKey)
		ran = true
	}

	s.mu.Lock()
	s.jobs = maps.Clone(jobs)
	s.mu.Unlock()

	if !ran {
		return report
	}
	if err := SaveCronConfig(ctx, s.store, jobs, submitter); err != nil {
		report.Error = err.Error()
		logging.ErrorWithContext(s.logger, "persist cron config failed", "scheduler_persist_failed",
			logging.String(logging.FieldErrorHint, "jobs may fire again after a restart this hour"),
			logging.Error(err),
		)
		return report
	}
	report.Persisted = true
	return report
}

// RunJob runs job immediately, outside its schedule. Watermarks and the
// stored lastRun are not touched.
func (s *Scheduler) RunJob(ctx context.Context, job string) (JobResult, error) {
	action := s.actions[job]
	if action == nil {
		return JobResult{}, services.Wrap(services.ErrNotFound, "scheduler", "run job", "unknown job "+job, nil)
	}
	return s.runJob(ctx, job, action), nil
}

func (s *Scheduler) runJob(ctx context.Context, name string, action Action) (result JobResult) {
	result = JobResult{Job: name, StartedAt: s.now().UTC()}
	logger := s.logger.With(logging.String(logging.FieldJob, name))
	start := time.Now()

	jobCtx := ctx
	if timeout := s.cfg.JobTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
			logger.Error("scheduled job panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "scheduler_job_panic"),
			)
		}
		result.Duration = time.Since(start)
	}()

	message, err := action(jobCtx)
	result.Message = message
	if err != nil {
		result.Error = err.Error()
		logging.WarnWithContext(logger, "scheduled job failed", "scheduler_job_failed",
			logging.String("summary", message),
			logging.String(logging.FieldErrorHint, services.Category(err)),
			logging.String(logging.FieldImpact, "retried in the next configured hour"),
			logging.Error(err),
		)
		return result
	}
	result.Success = true
	logger.Info("scheduled job finished",
		logging.String("summary", message),
		logging.Duration("duration", time.Since(start)),
		logging.String(logging.FieldEventType, "scheduler_job_finished"),
	)
	return result
}

func (s *Scheduler) recordTick(report *TickReport) {
	copy := *report
	s.mu.Lock()
	s.lastTick = &copy
	s.mu.Unlock()
}

// Status returns the scheduler state. Jobs reflect the stored cron config
// when it can be read.
func (s *Scheduler) Status(ctx context.Context) Status {
	s.mu.RLock()
	status := Status{
		Started:   s.running,
		Enabled:   s.cfg.Scheduler.Enabled,
		Timezone:  s.loc.String(),
		TickSpec:  s.cfg.Scheduler.TickSpec,
		Jobs:      s.jobs,
		WorkerURL: s.cfg.Worker.URL,
		LogDir:    s.cfg.Paths.LogDir,
		LastTick:  s.lastTick,
	}
	if s.running && !s.nextTick.IsZero() {
		next := s.nextTick
		status.NextTick = &next
	}
	s.mu.RUnlock()

	if jobs, _, err := LoadCronConfig(ctx, s.store); err == nil {
		status.Jobs = jobs
	} else {
		s.logger.Warn("failed to read cron config", logging.Error(err))
	}
	return status
}
