package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"applytrack/internal/daemon"
	"applytrack/internal/gmail"
)

func newGmailCommand(ctx *commandContext) *cobra.Command {
	gmailCmd := &cobra.Command{
		Use:   "gmail",
		Short: "Mailbox ingestion",
	}
	gmailCmd.AddCommand(newGmailIngestCommand(ctx))
	gmailCmd.AddCommand(newGmailStatusCommand(ctx))
	gmailCmd.AddCommand(newGmailAccountsCommand(ctx))
	return gmailCmd
}

func newGmailIngestCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Scan connected mailboxes for job postings",
		Long: "Triggers an ingestion run on the daemon. When the daemon is not running the run\n" +
			"happens in this process and the report is printed when it finishes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if !client.reachable(cmd.Context()) {
				return ctx.withLocalDaemon(func(d *daemon.Daemon) error {
					if err := d.StartIngest(); err != nil {
						return err
					}
					d.Ingest().Wait()
					status, err := d.IngestStatus(cmd.Context(), "")
					if err != nil {
						return err
					}
					return printIngestStatus(cmd, ctx, status)
				})
			}

			err = client.post(cmd.Context(), "/gmail/ingest", nil, nil)
			if isAPIStatus(err, http.StatusConflict) {
				fmt.Fprintln(cmd.OutOrStdout(), "An ingestion run is already in progress")
			} else if err != nil {
				return err
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Ingestion started")
			}
			if !wait {
				return nil
			}
			status, err := waitForIngest(cmd, client)
			if err != nil {
				return err
			}
			return printIngestStatus(cmd, ctx, status)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the daemon run to finish and print its report")
	return cmd
}

func waitForIngest(cmd *cobra.Command, client *apiClient) (daemon.IngestStatus, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		var status daemon.IngestStatus
		if err := client.get(cmd.Context(), "/gmail/ingest/status", &status); err != nil {
			return status, err
		}
		if !status.Running {
			return status, nil
		}
		select {
		case <-cmd.Context().Done():
			return status, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func newGmailStatusCommand(ctx *commandContext) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last ingestion run and ledger totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var status daemon.IngestStatus
			if client.reachable(cmd.Context()) {
				err = client.get(cmd.Context(), "/gmail/ingest/status?account="+url.QueryEscape(account), &status)
			} else {
				err = ctx.withLocalDaemon(func(d *daemon.Daemon) error {
					var statusErr error
					status, statusErr = d.IngestStatus(cmd.Context(), account)
					return statusErr
				})
			}
			if err != nil {
				return err
			}
			return printIngestStatus(cmd, ctx, status)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Restrict ledger totals to one mailbox")
	return cmd
}

func printIngestStatus(cmd *cobra.Command, ctx *commandContext, status daemon.IngestStatus) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, status)
	}
	out := cmd.OutOrStdout()
	if status.Running {
		fmt.Fprintln(out, "Ingestion is running")
	}
	fmt.Fprintf(out, "Ledger: %d message(s), %d job(s) enqueued, %d error(s), last sync %s\n",
		status.Stats.Messages, status.Stats.JobsEnqueued, status.Stats.Errors, formatTimePtr(status.LastSyncTime))
	report := status.LastRun
	if report == nil {
		fmt.Fprintln(out, "No ingestion run recorded")
		return nil
	}
	fmt.Fprintf(out, "Run %s finished %s: %d message(s), %d job(s) found, %d enqueued, %d error(s)\n",
		report.RunID, formatTime(report.FinishedAt), report.MessagesProcessed, report.JobsFound, report.JobsEnqueued, report.Errors)
	if len(report.Accounts) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(report.Accounts))
	for _, account := range report.Accounts {
		rows = append(rows, []string{
			account.Email,
			strconv.Itoa(account.Candidates),
			strconv.Itoa(account.Skipped),
			strconv.Itoa(account.Processed),
			strconv.Itoa(account.Filtered),
			strconv.Itoa(account.JobsEnqueued),
			account.Error,
		})
	}
	printTable(out, []string{"Account", "Candidates", "Seen", "Processed", "Filtered", "Enqueued", "Error"}, rows, 1, 2, 3, 4, 5)
	return nil
}

func newGmailAccountsCommand(ctx *commandContext) *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage connected mailboxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocalDaemon(func(d *daemon.Daemon) error {
				accounts, err := d.Accounts().List(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, redactAccounts(accounts))
				}
				if len(accounts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No connected accounts")
					return nil
				}
				rows := make([][]string, 0, len(accounts))
				for _, account := range accounts {
					rows = append(rows, []string{account.Email, account.HistoryID, formatTime(account.TokenExpiry)})
				}
				printTable(cmd.OutOrStdout(), []string{"Account", "History ID", "Token expiry"}, rows)
				return nil
			})
		},
	}

	var refreshToken string
	addCmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Connect a mailbox using an OAuth refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(refreshToken)
			if token == "" {
				return errors.New("--refresh-token is required")
			}
			return ctx.withLocalDaemon(func(d *daemon.Daemon) error {
				account := gmail.Account{Email: strings.TrimSpace(args[0]), RefreshToken: token}
				if err := d.Accounts().Upsert(cmd.Context(), account); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connected %s\n", account.Email)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token with gmail.readonly scope")

	removeCmd := &cobra.Command{
		Use:   "remove <email>",
		Short: "Disconnect a mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocalDaemon(func(d *daemon.Daemon) error {
				if err := d.Accounts().Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}

	accountsCmd.AddCommand(addCmd, removeCmd)
	return accountsCmd
}

func redactAccounts(accounts []gmail.Account) []gmail.Account {
	out := make([]gmail.Account, len(accounts))
	for i, account := range accounts {
		account.AccessToken = ""
		account.RefreshToken = ""
		out[i] = account
	}
	return out
}
