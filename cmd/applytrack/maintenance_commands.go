package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"applytrack/internal/daemon"
	"applytrack/internal/scheduler"
)

func newMaintenanceCommand(ctx *commandContext) *cobra.Command {
	maintenanceCmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Worker maintenance",
	}
	run := newSchedulerRunCommand(ctx)
	run.Use = "run"
	run.Short = "Recover stuck items and trigger worker maintenance now"
	run.Args = cobra.NoArgs
	inner := run.RunE
	run.RunE = func(cmd *cobra.Command, args []string) error {
		return inner(cmd, []string{scheduler.JobMaintenance})
	}
	maintenanceCmd.AddCommand(run)
	maintenanceCmd.AddCommand(newMaintenanceStatsCommand(ctx))
	return maintenanceCmd
}

func newMaintenanceStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue, ingestion, and worker maintenance statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var stats daemon.MaintenanceStats
			if client.reachable(cmd.Context()) {
				err = client.get(cmd.Context(), "/maintenance/stats", &stats)
			} else {
				err = ctx.withLocalDaemon(func(d *daemon.Daemon) error {
					var statsErr error
					stats, statsErr = d.MaintenanceStats(cmd.Context())
					return statsErr
				})
			}
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, stats)
			}
			rows := [][]string{
				{"queue.total", strconv.Itoa(stats.Queue.Total)},
				{"listings.orphaned", strconv.Itoa(stats.OrphanedListings)},
				{"ingest.messages_24h", strconv.Itoa(stats.Ingest.Messages)},
				{"ingest.jobs_enqueued_24h", strconv.Itoa(stats.Ingest.JobsEnqueued)},
				{"ingest.errors_24h", strconv.Itoa(stats.Ingest.Errors)},
			}
			keys := make([]string, 0, len(stats.Worker))
			for key := range stats.Worker {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				rows = append(rows, []string{"worker." + key, fmt.Sprint(stats.Worker[key])})
			}
			if stats.WorkerError != "" {
				rows = append(rows, []string{"worker.error", stats.WorkerError})
			}
			printTable(cmd.OutOrStdout(), []string{"Metric", "Value"}, rows, 1)
			return nil
		},
	}
}
