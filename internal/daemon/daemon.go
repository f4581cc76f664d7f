package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"applytrack/internal/command"
	"applytrack/internal/config"
	"applytrack/internal/configstore"
	"applytrack/internal/database"
	"applytrack/internal/extract"
	"applytrack/internal/gmail"
	"applytrack/internal/ingest"
	"applytrack/internal/ingeststate"
	"applytrack/internal/logging"
	"applytrack/internal/queue"
	"applytrack/internal/scheduler"
	"applytrack/internal/worker"
)

// Daemon owns the process lifecycle and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *database.DB

	queue     *queue.Service
	settings  *configstore.Store
	ledger    *ingeststate.Ledger
	accounts  *gmail.AccountStore
	ingest    *ingest.Service
	scheduler *scheduler.Scheduler
	worker    *worker.Client
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	DatabasePath string           `json:"database_path"`
	LockPath     string           `json:"lock_path"`
	APIAddress   string           `json:"api_address,omitempty"`
	Queue        queue.Stats      `json:"queue"`
	Scheduler    scheduler.Status `json:"scheduler"`
	Ingest       ingest.Status    `json:"ingest"`
}

// New wires every service on top of an open database.
func New(cfg *config.Config, db *database.DB, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("daemon requires config and database")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	queueSvc := queue.NewService(queue.NewStore(db), queue.WithLogger(logger))
	settings := configstore.New(db)
	ledger := ingeststate.New(db)
	accounts := gmail.NewAccountStore(settings)
	workerClient := worker.NewClient(cfg.Worker.URL, cfg.WorkerTimeout(), nil)

	pipeline := extract.NewPipeline(
		extract.NewRuleExtractor(cfg.Gmail.JobDomains),
		extract.NewFallback(cfg, command.ExecRunner{}),
		time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second,
		logger,
	)
	ingestSvc := ingest.NewService(cfg.Gmail, ingest.Deps{
		Client:    gmail.NewClient(cfg.Gmail.APIBaseURL, cfg.Gmail.RequestsPerSecond, time.Duration(cfg.Gmail.TimeoutSeconds)*time.Second),
		Tokens:    gmail.NewTokenManager(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.TokenURL, nil),
		Accounts:  accounts,
		Ledger:    ledger,
		Queue:     queueSvc,
		Extractor: pipeline,
		Logger:    logger,
	})

	sched, err := scheduler.New(cfg, scheduler.Deps{
		Store:  settings,
		Queue:  queueSvc,
		Worker: workerClient,
		Ledger: ledger,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		db:        db,
		queue:     queueSvc,
		settings:  settings,
		ledger:    ledger,
		accounts:  accounts,
		ingest:    ingestSvc,
		scheduler: sched,
		worker:    workerClient,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, then starts the scheduler and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another applytrack daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if d.cfg.Scheduler.Enabled {
		if err := d.scheduler.Start(d.ctx); err != nil {
			d.abortStart()
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		d.logger.Info("scheduler disabled by configuration")
	}
	if err := d.api.start(d.ctx); err != nil {
		d.scheduler.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("applytrack daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background work and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.scheduler.Stop()
	d.ingest.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("applytrack daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the database.
func (d *Daemon) Close() error {
	d.Stop()
	return d.db.Close()
}

// Queue exposes the queue service.
func (d *Daemon) Queue() *queue.Service {
	return d.queue
}

// Ingest exposes the Gmail ingestion service.
func (d *Daemon) Ingest() *ingest.Service {
	return d.ingest
}

// Scheduler exposes the cron scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.scheduler
}

// Accounts exposes the connected mailbox store.
func (d *Daemon) Accounts() *gmail.AccountStore {
	return d.accounts
}

// APIAddress returns the bound API address once started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// StartIngest launches a background ingestion run tied to the daemon lifetime.
func (d *Daemon) StartIngest() error {
	if !d.cfg.Gmail.Enabled {
		return errIngestDisabled
	}
	ctx := d.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return d.ingest.Start(ctx)
}

// MaintenanceStats combines local queue and ingest figures with the worker's
// own statistics. A worker failure is reported in the result rather than
// failing the call.
func (d *Daemon) MaintenanceStats(ctx context.Context) (MaintenanceStats, error) {
	var stats MaintenanceStats
	var err error
	if stats.Queue, err = d.queue.Stats(ctx); err != nil {
		return stats, err
	}
	if stats.OrphanedListings, err = d.queue.OrphanedListingsCount(ctx); err != nil {
		return stats, err
	}
	if stats.Ingest, err = d.ledger.Stats(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		return stats, err
	}
	workerStats, werr := d.worker.MaintenanceStats(ctx)
	if werr != nil {
		stats.WorkerError = werr.Error()
	} else {
		stats.Worker = workerStats
	}
	return stats, nil
}

// IngestStatus is the payload of GET /gmail/ingest/status.
type IngestStatus struct {
	ingest.Status
	Account      string            `json:"account,omitempty"`
	LastSyncTime *time.Time        `json:"last_sync_time,omitempty"`
	Stats        ingeststate.Stats `json:"stats"`
}

// IngestStatus combines the in-memory run state with ledger totals, optionally
// for a single account.
func (d *Daemon) IngestStatus(ctx context.Context, account string) (IngestStatus, error) {
	status := IngestStatus{Status: d.ingest.Status(), Account: strings.TrimSpace(account)}
	var err error
	if status.Stats, err = d.ledger.AccountStats(ctx, status.Account, time.Time{}); err != nil {
		return status, err
	}
	status.LastSyncTime = status.Stats.LastProcessedAt
	return status, nil
}

// MaintenanceStats is the payload of GET /maintenance/stats.
type MaintenanceStats struct {
	Queue            queue.Stats       `json:"queue"`
	OrphanedListings int               `json:"orphaned_listings"`
	Ingest           ingeststate.Stats `json:"ingest_last_24h"`
	Worker           map[string]any    `json:"worker,omitempty"`
	WorkerError      string            `json:"worker_error,omitempty"`
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.queue.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.db.Path(),
		LockPath:     d.lockPath,
		APIAddress:   d.api.address(),
		Queue:        stats,
		Scheduler:    d.scheduler.Status(ctx),
		Ingest:       d.ingest.Status(),
	}
}
