package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"applytrack/internal/daemon"
	"applytrack/internal/scheduler"
)

func newSchedulerCommand(ctx *commandContext) *cobra.Command {
	schedulerCmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Inspect and drive the hourly scheduler",
	}
	schedulerCmd.AddCommand(newSchedulerStatusCommand(ctx))
	schedulerCmd.AddCommand(newSchedulerRunCommand(ctx))
	return schedulerCmd
}

func newSchedulerStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job schedules and last runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var status scheduler.Status
			if client.reachable(cmd.Context()) {
				err = client.get(cmd.Context(), "/scheduler/status", &status)
			} else {
				err = ctx.withLocalDaemon(func(d *daemon.Daemon) error {
					status = d.Scheduler().Status(cmd.Context())
					return nil
				})
			}
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scheduler enabled: %s (timezone %s, tick %q)\n", yesNo(status.Enabled), status.Timezone, status.TickSpec)
			rows := make([][]string, 0, len(status.Jobs))
			for _, name := range scheduler.JobOrder {
				job, ok := status.Jobs[name]
				if !ok {
					continue
				}
				rows = append(rows, []string{name, yesNo(job.Enabled), formatHours(job.Hours), formatTimePtr(job.LastRun)})
			}
			printTable(out, []string{"Job", "Enabled", "Hours", "Last run"}, rows)
			return nil
		},
	}
}

func formatHours(hours []int) string {
	if len(hours) == 24 {
		return "every hour"
	}
	if len(hours) == 0 {
		return "-"
	}
	parts := make([]string, len(hours))
	for i, hour := range hours {
		parts[i] = fmt.Sprintf("%02d", hour)
	}
	return strings.Join(parts, ",")
}

func newSchedulerRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "run <job>",
		Short:     "Run one scheduled job now, ignoring its schedule",
		Args:      cobra.ExactArgs(1),
		ValidArgs: scheduler.JobOrder,
		RunE: func(cmd *cobra.Command, args []string) error {
			job := strings.TrimSpace(args[0])
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var result scheduler.JobResult
			if job == scheduler.JobMaintenance && client.reachable(cmd.Context()) {
				if err := client.post(cmd.Context(), "/maintenance/run", nil, &result); err != nil {
					return err
				}
			} else {
				err = ctx.withLocalDaemon(func(d *daemon.Daemon) error {
					var runErr error
					result, runErr = d.Scheduler().RunJob(cmd.Context(), job)
					return runErr
				})
				if err != nil {
					return err
				}
			}
			return printJobResult(cmd, ctx, result)
		},
	}
}

func printJobResult(cmd *cobra.Command, ctx *commandContext, result scheduler.JobResult) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, result)
	}
	if !result.Success {
		return fmt.Errorf("%s failed after %s: %s", result.Job, result.Duration.Round(time.Millisecond), result.Error)
	}
	msg := result.Message
	if msg == "" {
		msg = "done"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", result.Job, msg, result.Duration.Round(time.Millisecond))
	return nil
}
