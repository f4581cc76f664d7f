package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"applytrack/internal/daemon"
	"applytrack/internal/database"
	"applytrack/internal/logging"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the applytrack daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	db, err := database.Open(cfg)
	if err != nil {
		logger.Error("open database", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, db, logger)
	if err != nil {
		db.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	logger.Info("applytrack daemon listening", logging.String("api", d.APIAddress()))

	<-signalCtx.Done()
	logger.Info("applytrack daemon shutting down")
	return nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, scheduler, and ingestion status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var status daemon.Status
			if client.reachable(cmd.Context()) {
				if err := client.get(cmd.Context(), "/status", &status); err != nil {
					return err
				}
			} else {
				err := ctx.withLocalDaemon(func(d *daemon.Daemon) error {
					status = d.Status(cmd.Context())
					return nil
				})
				if err != nil {
					return err
				}
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd, status)
			return nil
		},
	}
}

func renderStatus(cmd *cobra.Command, status daemon.Status) {
	out := cmd.OutOrStdout()
	rows := [][]string{
		{"Daemon running", yesNo(status.Running)},
		{"Database", status.DatabasePath},
		{"Queue items", strconv.Itoa(status.Queue.Total)},
		{"Scheduler enabled", yesNo(status.Scheduler.Enabled)},
		{"Scheduler timezone", status.Scheduler.Timezone},
		{"Gmail ingestion", yesNo(status.Ingest.Enabled)},
		{"Ingest running", yesNo(status.Ingest.Running)},
	}
	if status.Running {
		rows = append(rows, []string{"PID", strconv.Itoa(status.PID)}, []string{"API", status.APIAddress})
	}
	if status.Scheduler.NextTick != nil {
		rows = append(rows, []string{"Next tick", formatTime(*status.Scheduler.NextTick)})
	}
	if last := status.Ingest.LastRun; last != nil {
		rows = append(rows, []string{"Last ingest", fmt.Sprintf("%s (%d enqueued)", formatTime(last.FinishedAt), last.JobsEnqueued)})
	}
	printTable(out, []string{"Field", "Value"}, rows)
}

func isAPIStatus(err error, status int) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
