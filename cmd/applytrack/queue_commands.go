package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"applytrack/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueUnblockCommand(ctx))
	queueCmd.AddCommand(newQueueRecoverCommand(ctx))
	queueCmd.AddCommand(newQueueOrphansCommand(ctx))

	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts by status and type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(api queueAPI) error {
				stats, err := api.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				if stats.Total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := buildQueueStatsRows(stats)
				printTable(cmd.OutOrStdout(), []string{"Status", "Count"}, rows, 1)
				return nil
			})
		},
	}
}

func buildQueueStatsRows(stats queue.Stats) [][]string {
	rows := make([][]string, 0, len(stats.ByStatus)+1)
	for _, status := range queue.AllStatuses() {
		if count := stats.ByStatus[status]; count > 0 {
			rows = append(rows, []string{string(status), strconv.Itoa(count)})
		}
	}
	rows = append(rows, []string{"total", strconv.Itoa(stats.Total)})
	return rows
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var types []string
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queue items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseListFilter(statuses, types)
			if err != nil {
				return err
			}
			filter.Limit = limit
			return ctx.withQueue(cmd.Context(), func(api queueAPI) error {
				items, err := api.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No queue items")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						item.ID,
						string(item.Type),
						colorStatus(item.Status, colorize),
						truncate(itemTarget(item), 48),
						strconv.Itoa(item.RetryCount),
						formatTime(item.CreatedAt),
					})
				}
				printTable(out, []string{"ID", "Type", "Status", "Target", "Retries", "Created"}, rows, 4)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Filter by item type")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of items")
	return cmd
}

func parseListFilter(statuses, types []string) (queue.ListFilter, error) {
	var filter queue.ListFilter
	for _, value := range statuses {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return filter, fmt.Errorf("unknown status %q", value)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, value := range types {
		itemType, ok := queue.ParseType(value)
		if !ok {
			return filter, fmt.Errorf("unknown type %q", value)
		}
		filter.Types = append(filter.Types, itemType)
	}
	return filter, nil
}

func itemTarget(item *queue.Item) string {
	switch {
	case item.URL != "":
		return item.URL
	case item.CompanyName != "":
		return item.CompanyName
	default:
		return item.Source
	}
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(api queueAPI) error {
				item, err := api.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, item)
				}
				out := cmd.OutOrStdout()
				rows := [][]string{
					{"ID", item.ID},
					{"Type", string(item.Type)},
					{"Status", colorStatus(item.Status, shouldColorize(out))},
					{"Target", itemTarget(item)},
					{"Source", item.Source},
					{"Submitted by", item.SubmittedBy},
					{"Retries", fmt.Sprintf("%d/%d", item.RetryCount, item.MaxRetries)},
					{"Created", formatTime(item.CreatedAt)},
					{"Updated", formatTime(item.UpdatedAt)},
					{"Processed", formatTimePtr(item.ProcessedAt)},
					{"Completed", formatTimePtr(item.CompletedAt)},
				}
				if item.ResultMessage != "" {
					rows = append(rows, []string{"Result", item.ResultMessage})
				}
				if item.ErrorDetails != nil {
					rows = append(rows, []string{"Error", fmt.Sprintf("[%s] %s", item.ErrorDetails.Category, item.ErrorDetails.Message)})
				}
				keys := make([]string, 0, len(item.Metadata))
				for key := range item.Metadata {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					rows = append(rows, []string{"meta." + key, fmt.Sprint(item.Metadata[key])})
				}
				printTable(out, []string{"Field", "Value"}, rows)
				return nil
			})
		},
	}
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var in queue.JobSubmission
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Enqueue a job posting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.URL = strings.TrimSpace(args[0])
			if in.Source == "" {
				in.Source = "cli"
			}
			return ctx.withQueue(cmd.Context(), func(api queueAPI) error {
				item, err := api.SubmitJob(cmd.Context(), in)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, item)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s (%s)\n", item.ID, item.URL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.CompanyName, "company", "", "Company name")
	cmd.Flags().StringVar(&in.Title, "title", "", "Posting title")
	cmd.Flags().StringVar(&in.Source, "source", "", "Submission source (default \"cli\")")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>...",
		Short: "Return failed items to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(api queueAPI) error {
				return eachItem(cmd, args, "Retried", api.Retry)
			})
		},
	}
}

func newQueueUnblockCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var category string
	cmd := &cobra.Command{
		Use:   "unblock [id...]",
		Short: "Return blocked items to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("pass item ids or --all")
			}
			return ctx.withQueue(cmd.Context(), func(api queueAPI) error {
				if all {
					count, err := api.UnblockAll(cmd.Context(), category)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Unblocked %d item(s)\n", count)
					return nil
				}
				return eachItem(cmd, args, "Unblocked", api.Unblock)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Unblock every blocked item")
	cmd.Flags().StringVar(&category, "category", "", "With --all, only items blocked for this error category")
	return cmd
}

func eachItem(cmd *cobra.Command, ids []string, verb string, fn func(context.Context, string) (*queue.Item, error)) error {
	out := cmd.OutOrStdout()
	var failed int
	for _, id := range ids {
		item, err := fn(cmd.Context(), id)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(out, "%s %s (now %s)\n", verb, item.ID, item.Status)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d item(s) failed", failed, len(ids))
	}
	return nil
}

func newQueueRecoverCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover items stuck in processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(api queueAPI) error {
				count, err := api.Recover(cmd.Context(), timeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d stuck item(s)\n", count)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Processing age that counts as stuck (default scheduler.stuck_timeout_minutes)")
	return cmd
}

func newQueueOrphansCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List scraped listings that never matched",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(api queueAPI) error {
				count, listings, err := api.Orphans(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"count": count, "listings": listings})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d orphaned listing(s)\n", count)
				if len(listings) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(listings))
				for _, listing := range listings {
					rows = append(rows, []string{listing.ID, truncate(listing.URL, 56), listing.Title, formatTime(listing.CreatedAt)})
				}
				printTable(out, []string{"ID", "URL", "Title", "Created"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of listings")
	return cmd
}
